package search

import (
	"context"
	"time"
)

// SearchQuery is a facade request against the combined SearchIndex,
// distinct from the lower-level Query used against a single EmbeddingStore.
type SearchQuery struct {
	Text    string
	Type    Type
	Filters Filters
	Limit   int
	Offset  int
}

// SearchResults is the facade response for a single SearchIndex.Search call.
type SearchResults struct {
	TotalCount     int
	Results        []ScoredDocument
	SearchDuration time.Duration
	Facets         map[string][]string
}

// ScoredDocument pairs an IndexedChunk with its retrieval score.
type ScoredDocument struct {
	Document IndexedChunk
	Score    float64
}

// Index is the facade described in §6: a full-text + vector index over
// IndexedChunks, supporting keyword, vector, and hybrid queries, implemented
// by combining an EmbeddingStore (vector) with a BM25Store (keyword) through
// Fusion. admin operations (createIndex/deleteIndex) are implemented by
// concrete backends as schema/table setup; this module's SearchIndexBackend
// auto-migrates the chunk document table on CreateIndex and drops it on
// DeleteIndex.
type Index interface {
	CreateIndex(ctx context.Context) error
	DeleteIndex(ctx context.Context) error

	// UpsertDocuments is idempotent by IndexedChunk.ID (§4.2 step 7, §8).
	UpsertDocuments(ctx context.Context, docs []IndexedChunk) error

	Search(ctx context.Context, query SearchQuery) (SearchResults, error)

	// SearchByRepository is equivalent to Search with a fixed equality
	// filter on repositoryID (§6).
	SearchByRepository(ctx context.Context, repositoryID int64, query SearchQuery) (SearchResults, error)

	DeleteByRepository(ctx context.Context, repositoryID int64) error
}

// IndexStatusStore persists one IndexStatus per repository.
type IndexStatusStore interface {
	Save(ctx context.Context, status IndexStatus) (IndexStatus, error)
	GetByRepositoryID(ctx context.Context, repositoryID int64) (IndexStatus, error)
	DeleteByRepositoryID(ctx context.Context, repositoryID int64) error
}
