package search

import "time"

// DocumentID is the deterministic identifier for a IndexedChunk: derived from
// (repositoryId, branch, path, chunkIndex) so that re-ingesting unchanged
// content produces the same id (§3, §8 idempotence).
type DocumentID string

// IndexedChunk is the unit persisted by SearchIndex: one chunk of one file at
// one branch of one repository, with an optional embedding vector.
type IndexedChunk struct {
	id           DocumentID
	repositoryID int64
	branch       string
	path         string
	chunkIndex   int
	language     string
	content      string
	vector       []float64
	metadata     map[string]string
}

// NewIndexedChunk creates a IndexedChunk. If vector is nil the document is
// text-only (keyword-searchable but not vector-searchable), matching §8's
// "embedder permanent failure leaves the document present without a vector"
// boundary behavior.
func NewIndexedChunk(
	id DocumentID,
	repositoryID int64,
	branch, path string,
	chunkIndex int,
	language, content string,
	vector []float64,
	metadata map[string]string,
) IndexedChunk {
	var v []float64
	if vector != nil {
		v = append([]float64(nil), vector...)
	}
	md := make(map[string]string, len(metadata))
	for k, val := range metadata {
		md[k] = val
	}
	return IndexedChunk{
		id:           id,
		repositoryID: repositoryID,
		branch:       branch,
		path:         path,
		chunkIndex:   chunkIndex,
		language:     language,
		content:      content,
		vector:       v,
		metadata:     md,
	}
}

func (d IndexedChunk) ID() DocumentID      { return d.id }
func (d IndexedChunk) RepositoryID() int64 { return d.repositoryID }
func (d IndexedChunk) Branch() string      { return d.branch }
func (d IndexedChunk) Path() string        { return d.path }
func (d IndexedChunk) ChunkIndex() int     { return d.chunkIndex }
func (d IndexedChunk) Language() string    { return d.language }
func (d IndexedChunk) Content() string     { return d.content }
func (d IndexedChunk) HasVector() bool     { return d.vector != nil }

func (d IndexedChunk) Vector() []float64 {
	if d.vector == nil {
		return nil
	}
	return append([]float64(nil), d.vector...)
}

func (d IndexedChunk) Metadata() map[string]string {
	md := make(map[string]string, len(d.metadata))
	for k, v := range d.metadata {
		md[k] = v
	}
	return md
}

// WithVector returns a copy with the embedding vector set.
func (d IndexedChunk) WithVector(vector []float64) IndexedChunk {
	d.vector = append([]float64(nil), vector...)
	return d
}

// IndexRunStatus is the lifecycle state of a single ingestion/refresh run,
// distinct from Repository.Status, which tracks the repository as a whole
// (IngestionPipeline moves it to Analyzing for the length of a run).
type IndexRunStatus string

const (
	IndexNotStarted IndexRunStatus = "not_started"
	IndexInProgress IndexRunStatus = "in_progress"
	IndexCompleted  IndexRunStatus = "completed"
	IndexError      IndexRunStatus = "error"
)

// IndexStatus reports ingestion progress for a single repository. See §3:
// documentsIndexed never decreases within a run and is bounded above by
// totalDocuments.
type IndexStatus struct {
	RepositoryID         int64
	Status               IndexRunStatus
	DocumentsIndexed     int
	TotalDocuments       int
	EstimatedCompletion  *time.Time
	ErrorMessage         string
	LastIndexedCommitSHA string
	UpdatedAt            time.Time
}

// WithProgress returns a copy with documentsIndexed/totalDocuments updated.
// Callers are responsible for monotonicity; this method does not check it.
func (s IndexStatus) WithProgress(documentsIndexed, totalDocuments int) IndexStatus {
	s.DocumentsIndexed = documentsIndexed
	s.TotalDocuments = totalDocuments
	s.UpdatedAt = time.Now()
	return s
}

func (s IndexStatus) WithError(msg string) IndexStatus {
	s.Status = IndexError
	s.ErrorMessage = msg
	s.UpdatedAt = time.Now()
	return s
}

func (s IndexStatus) WithCompleted() IndexStatus {
	s.Status = IndexCompleted
	s.UpdatedAt = time.Now()
	return s
}
