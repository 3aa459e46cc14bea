package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archie-dev/archie/domain/event"
	"github.com/archie-dev/archie/domain/git"
	"github.com/archie-dev/archie/domain/repo"
	"github.com/archie-dev/archie/domain/repository"
	"github.com/archie-dev/archie/domain/search"
)

// fakeRepoStore implements repo.Store for testing.
type fakeRepoStore struct {
	mu    sync.Mutex
	repos map[int64]repo.Repository
}

func newFakeRepoStore(repos ...repo.Repository) *fakeRepoStore {
	s := &fakeRepoStore{repos: make(map[int64]repo.Repository)}
	for _, r := range repos {
		s.repos[r.ID()] = r
	}
	return s
}

func (s *fakeRepoStore) Save(_ context.Context, r repo.Repository) (repo.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[r.ID()] = r
	return r, nil
}

func (s *fakeRepoStore) GetByID(_ context.Context, id int64) (repo.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repos[id]
	if !ok {
		return repo.Repository{}, errors.New("not found")
	}
	return r, nil
}

func (s *fakeRepoStore) GetByURL(_ context.Context, url string) (repo.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.repos {
		if r.URL() == url {
			return r, nil
		}
	}
	return repo.Repository{}, errors.New("not found")
}

func (s *fakeRepoStore) GetAll(_ context.Context, _ ...repository.Option) ([]repo.Repository, error) {
	return nil, nil
}

func (s *fakeRepoStore) Exists(_ context.Context, _ ...repository.Option) (bool, error) {
	return false, nil
}

func (s *fakeRepoStore) Delete(_ context.Context, _ int64) error { return nil }

func (s *fakeRepoStore) statusOf(id int64) repo.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repos[id].Status()
}

// fakeGitProvider implements git.Provider for testing.
type fakeGitProvider struct {
	tree       git.Tree
	content    map[string]string
	contentErr error
}

func (f *fakeGitProvider) ParseRepositoryURL(url string) (string, string, error) {
	return "owner", "repo", nil
}
func (f *fakeGitProvider) FormatRepositoryURL(owner, repo string) string { return owner + "/" + repo }
func (f *fakeGitProvider) ValidateRepositoryAccess(_ context.Context, _, _, _ string) (bool, error) {
	return true, nil
}
func (f *fakeGitProvider) GetRepository(_ context.Context, _, _, _ string) (git.RepositoryMetadata, error) {
	return git.RepositoryMetadata{}, nil
}
func (f *fakeGitProvider) GetBranches(_ context.Context, _, _, _ string) ([]git.Branch, error) {
	return []git.Branch{{Name: "main", IsDefault: true}}, nil
}
func (f *fakeGitProvider) GetRepositoryTreeWithMetadata(_ context.Context, _, _, _ string, _ bool, _ string) (git.Tree, error) {
	return f.tree, nil
}
func (f *fakeGitProvider) GetFileContent(_ context.Context, _, _, path, _, _ string) (string, error) {
	if f.contentErr != nil {
		return "", f.contentErr
	}
	return f.content[path], nil
}
func (f *fakeGitProvider) GetCommitHistory(_ context.Context, _, _, _ string, _ int, _ string) ([]git.Commit, error) {
	return nil, nil
}

// fakeEmbedder implements search.Embedder for testing.
type fakeEmbedder struct {
	capacity int
	err      error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float64, len(texts))
	for i := range texts {
		vectors[i] = []float64{1, 2, 3}
	}
	return vectors, nil
}

func (f *fakeEmbedder) Capacity() int {
	if f.capacity <= 0 {
		return 10
	}
	return f.capacity
}

// fakeSearchIndex implements search.Index for testing.
type fakeSearchIndex struct {
	mu        sync.Mutex
	upserted  []search.IndexedChunk
	upsertErr error
	deleted   []int64
}

func (f *fakeSearchIndex) CreateIndex(_ context.Context) error { return nil }
func (f *fakeSearchIndex) DeleteIndex(_ context.Context) error { return nil }
func (f *fakeSearchIndex) UpsertDocuments(_ context.Context, docs []search.IndexedChunk) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, docs...)
	return nil
}
func (f *fakeSearchIndex) Search(_ context.Context, _ search.SearchQuery) (search.SearchResults, error) {
	return search.SearchResults{}, nil
}
func (f *fakeSearchIndex) SearchByRepository(_ context.Context, _ int64, _ search.SearchQuery) (search.SearchResults, error) {
	return search.SearchResults{}, nil
}
func (f *fakeSearchIndex) DeleteByRepository(_ context.Context, repositoryID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, repositoryID)
	return nil
}

// fakeIndexStatusStore implements search.IndexStatusStore for testing.
type fakeIndexStatusStore struct {
	mu       sync.Mutex
	statuses map[int64]search.IndexStatus
}

func newFakeIndexStatusStore() *fakeIndexStatusStore {
	return &fakeIndexStatusStore{statuses: make(map[int64]search.IndexStatus)}
}

func (f *fakeIndexStatusStore) Save(_ context.Context, status search.IndexStatus) (search.IndexStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[status.RepositoryID] = status
	return status, nil
}
func (f *fakeIndexStatusStore) GetByRepositoryID(_ context.Context, repositoryID int64) (search.IndexStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statuses[repositoryID]
	if !ok {
		return search.IndexStatus{}, errors.New("not found")
	}
	return s, nil
}
func (f *fakeIndexStatusStore) DeleteByRepositoryID(_ context.Context, repositoryID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.statuses, repositoryID)
	return nil
}

// fakeBus implements event.Bus for testing.
type fakeBus struct {
	mu     sync.Mutex
	events []event.Event
}

func (b *fakeBus) Publish(_ context.Context, e event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}
func (b *fakeBus) Subscribe(_ event.Subscriber) {}

func (b *fakeBus) names() []event.Name {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]event.Name, len(b.events))
	for i, e := range b.events {
		names[i] = e.Name
	}
	return names
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRepository(t *testing.T, id int64, url string, status repo.Status) repo.Repository {
	t.Helper()
	r, err := repo.NewRepository(url, "test-repo")
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	r = r.WithID(id)
	for s := r.Status(); s != status; s = r.Status() {
		next := nextStatusTowards(s, status)
		var err error
		r, err = r.WithStatus(next)
		if err != nil {
			t.Fatalf("building fixture repository to status %v: %v", status, err)
		}
	}
	return r
}

// nextStatusTowards is a tiny fixture helper: it only needs to walk the one
// path tests use (Disconnected -> Connected), not the whole state graph.
func nextStatusTowards(from, to repo.Status) repo.Status {
	if from == repo.StatusDisconnected {
		return repo.StatusConnected
	}
	return to
}

func waitForBackgroundJob(t *testing.T, bus *fakeBus, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(bus.names()) >= want
	}, time.Second, time.Millisecond, "timed out waiting for %d published events", want)
}

func TestIngestionPipeline_IndexRepository_Success(t *testing.T) {
	r := newTestRepository(t, 1, "https://git.example.com/owner/repo", repo.StatusConnected)
	repoStore := newFakeRepoStore(r)
	provider := &fakeGitProvider{
		tree: git.Tree{Items: []git.TreeEntry{
			{Path: "main.go", Type: git.EntryBlob, Size: 10},
			{Path: "README.md", Type: git.EntryBlob, Size: 5},
		}},
		content: map[string]string{"main.go": "package main", "README.md": "hello"},
	}
	index := &fakeSearchIndex{}
	statusStore := newFakeIndexStatusStore()
	bus := &fakeBus{}
	scheduler := NewScheduler(discardLogger(), time.Minute)

	p := NewIngestionPipeline(repoStore, provider, &fakeEmbedder{}, index, statusStore, scheduler, bus, discardLogger())

	status, err := p.IndexRepository(context.Background(), 1, "token")
	if err != nil {
		t.Fatalf("IndexRepository: %v", err)
	}
	if status.ID() == "" {
		t.Fatal("expected non-empty status id")
	}

	waitForBackgroundJob(t, bus, 2)

	names := bus.names()
	if names[0] != event.RepositoryAnalysisStarted {
		t.Errorf("first event = %v, want %v", names[0], event.RepositoryAnalysisStarted)
	}
	if names[len(names)-1] != event.RepositoryAnalysisCompleted {
		t.Errorf("last event = %v, want %v", names[len(names)-1], event.RepositoryAnalysisCompleted)
	}

	if len(index.upserted) != 2 {
		t.Fatalf("expected 2 upserted chunks, got %d", len(index.upserted))
	}
	for _, doc := range index.upserted {
		if !doc.HasVector() {
			t.Errorf("document %s missing vector", doc.Path())
		}
	}

	if got := repoStore.statusOf(1); got != repo.StatusReady {
		t.Errorf("repository status = %v, want %v", got, repo.StatusReady)
	}
}

func TestIngestionPipeline_IndexRepository_ConcurrentCallReturnsExistingStatus(t *testing.T) {
	r := newTestRepository(t, 1, "https://git.example.com/owner/repo", repo.StatusConnected)
	repoStore := newFakeRepoStore(r)
	statusStore := newFakeIndexStatusStore()
	statusStore.statuses[1] = search.IndexStatus{RepositoryID: 1, Status: search.IndexInProgress, DocumentsIndexed: 3, TotalDocuments: 10}
	bus := &fakeBus{}
	scheduler := NewScheduler(discardLogger(), time.Minute)
	scheduler.TryAcquireRepositoryLock(1, "existing-status-id")

	p := NewIngestionPipeline(repoStore, &fakeGitProvider{}, &fakeEmbedder{}, &fakeSearchIndex{}, statusStore, scheduler, bus, discardLogger())

	status, err := p.IndexRepository(context.Background(), 1, "token")
	if err != nil {
		t.Fatalf("IndexRepository: %v", err)
	}
	if status.Current() != 3 {
		t.Errorf("expected existing progress (3), got %d", status.Current())
	}
	if len(bus.names()) != 0 {
		t.Errorf("expected no events published for an in-flight repository, got %v", bus.names())
	}
}

func TestIngestionPipeline_IndexRepository_FetchFailure_MarksRepositoryError(t *testing.T) {
	r := newTestRepository(t, 1, "https://git.example.com/owner/repo", repo.StatusConnected)
	repoStore := newFakeRepoStore(r)
	provider := &fakeGitProvider{
		tree: git.Tree{Items: []git.TreeEntry{{Path: "main.go", Type: git.EntryBlob, Size: 10}}},
		contentErr: errors.New("network unreachable"),
	}
	statusStore := newFakeIndexStatusStore()
	bus := &fakeBus{}
	scheduler := NewScheduler(discardLogger(), time.Minute)

	p := NewIngestionPipeline(repoStore, provider, &fakeEmbedder{}, &fakeSearchIndex{}, statusStore, scheduler, bus, discardLogger())

	if _, err := p.IndexRepository(context.Background(), 1, "token"); err != nil {
		t.Fatalf("IndexRepository: %v", err)
	}

	waitForBackgroundJob(t, bus, 2)

	names := bus.names()
	if names[len(names)-1] != event.RepositoryAnalysisFailed {
		t.Errorf("last event = %v, want %v", names[len(names)-1], event.RepositoryAnalysisFailed)
	}
	if got := repoStore.statusOf(1); got != repo.StatusError {
		t.Errorf("repository status = %v, want %v", got, repo.StatusError)
	}
}

func TestIngestionPipeline_EmbedBatches_FailurePreservesDocumentsWithoutVectors(t *testing.T) {
	r := newTestRepository(t, 1, "https://git.example.com/owner/repo", repo.StatusConnected)
	repoStore := newFakeRepoStore(r)
	provider := &fakeGitProvider{
		tree:    git.Tree{Items: []git.TreeEntry{{Path: "main.go", Type: git.EntryBlob, Size: 10}}},
		content: map[string]string{"main.go": "package main"},
	}
	index := &fakeSearchIndex{}
	statusStore := newFakeIndexStatusStore()
	bus := &fakeBus{}
	scheduler := NewScheduler(discardLogger(), time.Minute)

	embedErr := errors.New("embedding model unavailable")
	p := NewIngestionPipeline(repoStore, provider, &fakeEmbedder{err: embedErr}, index, statusStore, scheduler, bus, discardLogger())

	if _, err := p.IndexRepository(context.Background(), 1, "token"); err != nil {
		t.Fatalf("IndexRepository: %v", err)
	}

	waitForBackgroundJob(t, bus, 2)

	if len(index.upserted) != 1 {
		t.Fatalf("expected the document to still be indexed despite embed failure, got %d", len(index.upserted))
	}
	if index.upserted[0].HasVector() {
		t.Error("expected document without a vector after embed failure")
	}
}

func TestIngestionPipeline_RemoveRepositoryIndex(t *testing.T) {
	index := &fakeSearchIndex{}
	statusStore := newFakeIndexStatusStore()
	statusStore.statuses[1] = search.IndexStatus{RepositoryID: 1}

	p := NewIngestionPipeline(newFakeRepoStore(), &fakeGitProvider{}, nil, index, statusStore, NewScheduler(discardLogger(), time.Minute), &fakeBus{}, discardLogger())

	if err := p.RemoveRepositoryIndex(context.Background(), 1); err != nil {
		t.Fatalf("RemoveRepositoryIndex: %v", err)
	}
	if len(index.deleted) != 1 || index.deleted[0] != 1 {
		t.Errorf("expected repository 1 deleted from index, got %v", index.deleted)
	}
	if _, err := statusStore.GetByRepositoryID(context.Background(), 1); err == nil {
		t.Error("expected index status to be deleted")
	}
}

func TestIngestionPipeline_GetIndexingStatus(t *testing.T) {
	statusStore := newFakeIndexStatusStore()
	statusStore.statuses[1] = search.IndexStatus{RepositoryID: 1, Status: search.IndexCompleted, DocumentsIndexed: 5, TotalDocuments: 5}

	p := NewIngestionPipeline(newFakeRepoStore(), &fakeGitProvider{}, nil, &fakeSearchIndex{}, statusStore, NewScheduler(discardLogger(), time.Minute), &fakeBus{}, discardLogger())

	got, err := p.GetIndexingStatus(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetIndexingStatus: %v", err)
	}
	if got.Status != search.IndexCompleted || got.DocumentsIndexed != 5 {
		t.Errorf("GetIndexingStatus = %+v, want Completed/5", got)
	}
}
