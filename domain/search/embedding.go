package search

// Embedding pairs a snippet ID with its pre-computed embedding vector, the
// unit persisted by EmbeddingStore.
type Embedding struct {
	snippetID string
	vector    []float64
}

// NewEmbedding creates an Embedding.
func NewEmbedding(snippetID string, vector []float64) Embedding {
	return Embedding{snippetID: snippetID, vector: append([]float64(nil), vector...)}
}

// SnippetID returns the snippet ID.
func (e Embedding) SnippetID() string { return e.snippetID }

// Vector returns the embedding vector.
func (e Embedding) Vector() []float64 {
	if e.vector == nil {
		return nil
	}
	return append([]float64(nil), e.vector...)
}
