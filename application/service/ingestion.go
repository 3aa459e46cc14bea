package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/archie-dev/archie/domain/event"
	"github.com/archie-dev/archie/domain/git"
	"github.com/archie-dev/archie/domain/repo"
	"github.com/archie-dev/archie/domain/search"
	"github.com/archie-dev/archie/domain/task"
	"github.com/archie-dev/archie/internal/apperr"
	"github.com/archie-dev/archie/internal/config"
	"github.com/archie-dev/archie/infrastructure/chunking"
)

// The git token is an explicit parameter to IndexRepository/
// RefreshRepositoryIndex rather than a package-level secret, so callers
// control credential scope per call.

// IngestionPipeline implements §4.2: turning a tracked Repository into
// searchable Documents. It orchestrates a GitProvider (content), an Embedder
// (vectors), and a SearchIndex (persistence), all bounded by the same
// Scheduler that owns the Repository's background-job lifecycle.
type IngestionPipeline struct {
	repoStore   repo.Store
	provider    git.Provider
	embedder    search.Embedder
	index       search.Index
	statusStore search.IndexStatusStore
	scheduler   *Scheduler
	bus         event.Bus
	logger      *slog.Logger

	embedderConcurrency int
	fetchConcurrency    int
	batchSize           int
	chunkSize           int
	chunkOverlap        int
}

// NewIngestionPipeline creates an IngestionPipeline with the default
// concurrency/batch/chunk parameters from internal/config.
func NewIngestionPipeline(
	repoStore repo.Store,
	provider git.Provider,
	embedder search.Embedder,
	index search.Index,
	statusStore search.IndexStatusStore,
	scheduler *Scheduler,
	bus event.Bus,
	logger *slog.Logger,
) *IngestionPipeline {
	chunkSize, chunkOverlap := config.ChunkParamsRunes()
	return &IngestionPipeline{
		repoStore:           repoStore,
		provider:            provider,
		embedder:            embedder,
		index:               index,
		statusStore:         statusStore,
		scheduler:           scheduler,
		bus:                 bus,
		logger:              logger,
		embedderConcurrency: config.DefaultEmbedderConcurrency,
		fetchConcurrency:    config.DefaultContentFetchConcurrency,
		batchSize:           config.DefaultIngestionBatchSize,
		chunkSize:           chunkSize,
		chunkOverlap:        chunkOverlap,
	}
}

// IndexRepository runs a full ingestion for repositoryID: clone metadata,
// walk the default branch tree, fetch + chunk + embed every file, and
// upsert the resulting Documents (§4.2 steps 1-7). A second call while one
// is already in flight for the same repository returns the existing status
// without starting another run (§5).
func (p *IngestionPipeline) IndexRepository(ctx context.Context, repositoryID int64, token string) (task.Status, error) {
	return p.run(ctx, repositoryID, token, task.OperationIndexRepository, false)
}

// RefreshRepositoryIndex re-runs ingestion for repositoryID under the
// refresh operation. It has no per-file change detection: every file in the
// default branch tree is re-fetched, re-chunked and re-embedded. Document
// IDs are deterministic, so unchanged files upsert identical documents
// (§8 idempotence). Documents of files no longer in the tree are not
// removed from the index.
func (p *IngestionPipeline) RefreshRepositoryIndex(ctx context.Context, repositoryID int64, token string) (task.Status, error) {
	return p.run(ctx, repositoryID, token, task.OperationRefreshRepositoryIndex, true)
}

func (p *IngestionPipeline) run(ctx context.Context, repositoryID int64, token string, operation task.Operation, incremental bool) (task.Status, error) {
	r, err := p.repoStore.GetByID(ctx, repositoryID)
	if err != nil {
		return task.Status{}, fmt.Errorf("get repository: %w", err)
	}

	status := task.NewStatus(operation, nil, task.TrackableTypeRepository, repositoryID)
	acquired, existingStatusID := p.scheduler.TryAcquireRepositoryLock(repositoryID, status.ID())
	if !acquired {
		existing, err := p.statusStore.GetByRepositoryID(ctx, repositoryID)
		if err == nil {
			return task.NewStatus(operation, nil, task.TrackableTypeRepository, repositoryID).
				SetCurrent(existing.DocumentsIndexed, "ingestion already in progress"), nil
		}
		return task.Status{}, apperr.New(apperr.InvalidState, "ingestion already in progress: %s", existingStatusID)
	}

	p.bus.Publish(ctx, event.Event{Name: event.RepositoryAnalysisStarted, RepositoryID: repositoryID})

	p.scheduler.RunInBackground(operation, repositoryID, func(bgCtx context.Context) error {
		return p.ingest(bgCtx, r, token, incremental)
	})

	return status, nil
}

func (p *IngestionPipeline) ingest(ctx context.Context, r repo.Repository, token string, incremental bool) error {
	// Entering Analyzing is what makes the terminal WithStatus(Ready)/
	// WithStatus(Error) transitions below legal (§3: only Analyzing ->
	// Ready|Error is permitted). A repository already mid-transition from a
	// concurrent caller is left as-is rather than treated as fatal, same as
	// the terminal transitions' own best-effort handling.
	if analyzing, err := r.WithStatus(repo.StatusAnalyzing); err == nil {
		r = analyzing
		if _, err := p.repoStore.Save(ctx, r); err != nil {
			p.logger.Warn("failed to save repository analyzing status", slog.Int64("repository_id", r.ID()), slog.String("error", err.Error()))
		}
	}

	owner, name, err := p.provider.ParseRepositoryURL(r.URL())
	if err != nil {
		return p.fail(ctx, r, fmt.Errorf("parse repository url: %w", err))
	}

	branch, ok := r.DefaultBranch()
	branchName := branch.Name()
	if !ok {
		branches, err := p.provider.GetBranches(ctx, owner, name, token)
		if err != nil {
			return p.fail(ctx, r, fmt.Errorf("get branches: %w", err))
		}
		for _, b := range branches {
			if b.IsDefault {
				branchName = b.Name
			}
		}
	}

	tree, err := p.provider.GetRepositoryTreeWithMetadata(ctx, owner, name, branchName, true, token)
	if err != nil {
		return p.fail(ctx, r, fmt.Errorf("get repository tree: %w", err))
	}

	var paths []string
	for _, entry := range tree.Items {
		if entry.Type == git.EntryBlob && entry.Size <= config.DefaultMaxFileBytes {
			paths = append(paths, entry.Path)
		}
	}

	total := len(paths)
	indexed := 0
	status := search.IndexStatus{RepositoryID: r.ID(), Status: search.IndexInProgress}.WithProgress(0, total)
	if _, err := p.statusStore.Save(ctx, status); err != nil {
		p.logger.Warn("failed to save initial index status", slog.Int64("repository_id", r.ID()), slog.String("error", err.Error()))
	}

	docs, err := p.fetchAndChunk(ctx, r, owner, name, branchName, paths, token)
	if err != nil {
		return p.fail(ctx, r, fmt.Errorf("fetch and chunk: %w", err))
	}
	total = len(docs)
	status = status.WithProgress(indexed, total)

	docs, err = p.embedBatches(ctx, docs)
	if err != nil {
		return p.fail(ctx, r, fmt.Errorf("embed documents: %w", err))
	}

	for i := 0; i < len(docs); i += p.batchSize {
		end := min(i+p.batchSize, len(docs))
		if err := p.index.UpsertDocuments(ctx, docs[i:end]); err != nil {
			return p.fail(ctx, r, fmt.Errorf("upsert documents: %w", err))
		}
		indexed += end - i
		status = status.WithProgress(indexed, total)
		if _, err := p.statusStore.Save(ctx, status); err != nil {
			p.logger.Warn("failed to save index progress", slog.Int64("repository_id", r.ID()), slog.String("error", err.Error()))
		}
	}

	status = status.WithCompleted()
	if _, err := p.statusStore.Save(ctx, status); err != nil {
		p.logger.Warn("failed to save final index status", slog.Int64("repository_id", r.ID()), slog.String("error", err.Error()))
	}

	nextStatus := repo.StatusReady
	updated, err := r.WithStatus(nextStatus)
	if err != nil {
		// Only a repository the move to Analyzing above refused (a
		// Disconnected one) gets here; it is saved with its status unchanged
		// rather than treated as a failure.
		updated = r
	}
	if _, err := p.repoStore.Save(ctx, updated); err != nil {
		p.logger.Warn("failed to save repository status", slog.Int64("repository_id", r.ID()), slog.String("error", err.Error()))
	}

	p.bus.Publish(ctx, event.Event{Name: event.RepositoryAnalysisCompleted, RepositoryID: r.ID()})
	_ = incremental
	return nil
}

func (p *IngestionPipeline) fail(ctx context.Context, r repo.Repository, cause error) error {
	failedStatus, err := p.statusStore.GetByRepositoryID(ctx, r.ID())
	if err == nil {
		if _, err := p.statusStore.Save(ctx, failedStatus.WithError(cause.Error())); err != nil {
			p.logger.Warn("failed to save error status", slog.Int64("repository_id", r.ID()), slog.String("error", err.Error()))
		}
	}
	if errored, err := r.WithStatus(repo.StatusError); err == nil {
		if _, err := p.repoStore.Save(ctx, errored); err != nil {
			p.logger.Warn("failed to save repository error status", slog.Int64("repository_id", r.ID()), slog.String("error", err.Error()))
		}
	}
	p.bus.Publish(ctx, event.Event{Name: event.RepositoryAnalysisFailed, RepositoryID: r.ID(), Err: cause})
	return cause
}

// fetchAndChunk retrieves file content and splits it into Documents with
// deterministic content-addressable IDs (repositoryID, branch, path,
// chunkIndex), bounded to fetchConcurrency concurrent GetFileContent calls.
func (p *IngestionPipeline) fetchAndChunk(ctx context.Context, r repo.Repository, owner, name, branch string, paths []string, token string) ([]search.IndexedChunk, error) {
	results := make([][]search.IndexedChunk, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.fetchConcurrency)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			content, err := p.provider.GetFileContent(gctx, owner, name, path, branch, token)
			if err != nil {
				return fmt.Errorf("get file content %s: %w", path, err)
			}
			if content == "" {
				return nil
			}

			language := languageFromPath(path)
			textChunks, err := chunking.NewTextChunks(content, chunking.ChunkParams{
				Size:    p.chunkSize,
				Overlap: p.chunkOverlap,
				MinSize: 1,
			})
			if err != nil {
				return fmt.Errorf("chunk %s: %w", path, err)
			}

			chunks := textChunks.All()
			docs := make([]search.IndexedChunk, len(chunks))
			for idx, c := range chunks {
				docID := documentID(r.ID(), branch, path, idx)
				docs[idx] = search.NewIndexedChunk(docID, r.ID(), branch, path, idx, language, c.Content(), nil, nil)
			}
			results[i] = docs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var docs []search.IndexedChunk
	for _, ds := range results {
		docs = append(docs, ds...)
	}
	return docs, nil
}

// embedBatches computes embedding vectors for docs in Embedder.Capacity()
// sized batches, bounded to embedderConcurrency concurrent calls. A
// document whose batch fails to embed is left without a vector rather than
// dropped entirely (§8: "embedder permanent failure leaves the document
// present without a vector").
func (p *IngestionPipeline) embedBatches(ctx context.Context, docs []search.IndexedChunk) ([]search.IndexedChunk, error) {
	if p.embedder == nil || len(docs) == 0 {
		return docs, nil
	}

	batchSize := p.embedder.Capacity()
	if batchSize <= 0 {
		batchSize = len(docs)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.embedderConcurrency)

	for start := 0; start < len(docs); start += batchSize {
		start := start
		end := min(start+batchSize, len(docs))
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = docs[i].Content()
			}
			vectors, err := p.embedder.Embed(gctx, texts)
			if err != nil {
				p.logger.Warn("embedding batch failed, leaving documents without vectors",
					slog.Int("batch_start", start),
					slog.String("error", err.Error()),
				)
				return nil
			}
			for i := start; i < end && i-start < len(vectors); i++ {
				docs[i] = docs[i].WithVector(vectors[i-start])
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// RemoveRepositoryIndex deletes every Document belonging to repositoryID
// from the search index (§4.2).
func (p *IngestionPipeline) RemoveRepositoryIndex(ctx context.Context, repositoryID int64) error {
	if err := p.index.DeleteByRepository(ctx, repositoryID); err != nil {
		return fmt.Errorf("delete by repository: %w", err)
	}
	if err := p.statusStore.DeleteByRepositoryID(ctx, repositoryID); err != nil {
		return fmt.Errorf("delete index status: %w", err)
	}
	return nil
}

// GetIndexingStatus returns the current IndexStatus for repositoryID.
func (p *IngestionPipeline) GetIndexingStatus(ctx context.Context, repositoryID int64) (search.IndexStatus, error) {
	status, err := p.statusStore.GetByRepositoryID(ctx, repositoryID)
	if err != nil {
		return search.IndexStatus{}, fmt.Errorf("get index status: %w", err)
	}
	return status, nil
}

func documentID(repositoryID int64, branch, path string, chunkIndex int) search.DocumentID {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%d", repositoryID, branch, path, chunkIndex)
	return search.DocumentID(hex.EncodeToString(h.Sum(nil)))
}

func languageFromPath(path string) string {
	ext := path[strings.LastIndex(path, ".")+1:]
	if ext == path {
		return ""
	}
	return ext
}
