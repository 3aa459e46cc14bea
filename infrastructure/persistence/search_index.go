package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/archie-dev/archie/domain/repository"
	"github.com/archie-dev/archie/domain/search"
	"github.com/archie-dev/archie/internal/apperr"
	"github.com/archie-dev/archie/internal/database"
	"gorm.io/gorm/clause"
)

// SearchIndexBackend implements search.Index (§6) by composing a BM25Store
// (keyword) and an EmbeddingStore (vector), combining their results with
// Fusion for hybrid queries. Document content and metadata are the system
// of record in the chunk document table; the BM25 and vector stores index a
// derived subset (snippet_id -> passage/embedding) of those same rows.
type SearchIndexBackend struct {
	db       database.Database
	bm25     search.BM25Store
	vectors  search.EmbeddingStore
	embedder search.Embedder
	fusion   search.Fusion
}

// NewSearchIndexBackend creates a SearchIndexBackend. embedder may be nil,
// in which case vector search is skipped and hybrid queries degrade to
// keyword-only, matching §8's "embedder permanent failure" boundary.
func NewSearchIndexBackend(db database.Database, bm25 search.BM25Store, vectors search.EmbeddingStore, embedder search.Embedder) *SearchIndexBackend {
	return &SearchIndexBackend{
		db:       db,
		bm25:     bm25,
		vectors:  vectors,
		embedder: embedder,
		fusion:   search.NewFusion(),
	}
}

// CreateIndex ensures the chunk document table exists.
func (s *SearchIndexBackend) CreateIndex(ctx context.Context) error {
	if err := s.db.GORM().WithContext(ctx).AutoMigrate(&ChunkDocumentModel{}); err != nil {
		return apperr.Wrap(apperr.Internal, err, "create chunk document index")
	}
	return nil
}

// DeleteIndex drops the chunk document table.
func (s *SearchIndexBackend) DeleteIndex(ctx context.Context) error {
	if err := s.db.GORM().WithContext(ctx).Migrator().DropTable(&ChunkDocumentModel{}); err != nil {
		return apperr.Wrap(apperr.Internal, err, "delete chunk document index")
	}
	return nil
}

// UpsertDocuments is idempotent by IndexedChunk.ID (§4.2 step 7, §8): the
// chunk row, BM25 passage, and (if present) vector all upsert on the same
// id, so a re-run with identical inputs leaves identical index state.
func (s *SearchIndexBackend) UpsertDocuments(ctx context.Context, docs []search.IndexedChunk) error {
	if len(docs) == 0 {
		return nil
	}

	models := make([]ChunkDocumentModel, len(docs))
	bm25Docs := make([]search.Document, len(docs))
	var embeddings []search.Embedding

	for i, d := range docs {
		models[i] = ChunkDocumentModel{
			ID:           string(d.ID()),
			RepositoryID: d.RepositoryID(),
			Branch:       d.Branch(),
			Path:         d.Path(),
			ChunkIndex:   d.ChunkIndex(),
			Language:     d.Language(),
			Content:      d.Content(),
			HasVector:    d.HasVector(),
			Metadata:     JSONMap(stringMapToAny(d.Metadata())),
			CreatedAt:    time.Now(),
		}
		bm25Docs[i] = search.NewDocument(string(d.ID()), d.Content())
		if d.HasVector() {
			embeddings = append(embeddings, search.NewEmbedding(string(d.ID()), d.Vector()))
		}
	}

	err := s.db.Session(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).CreateInBatches(models, saveAllBatchSize).Error
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "upsert chunk documents")
	}

	if err := s.bm25.Index(ctx, search.NewIndexRequest(bm25Docs)); err != nil {
		return fmt.Errorf("index bm25 passages: %w", err)
	}

	if len(embeddings) > 0 {
		if err := s.vectors.SaveAll(ctx, embeddings); err != nil {
			return fmt.Errorf("save embeddings: %w", err)
		}
	}

	return nil
}

// Search performs a keyword, vector, or hybrid query (query.Type; hybrid is
// the zero value) scoped by query.Filters, fusing the BM25 and vector
// result lists with Reciprocal Rank Fusion when both are present.
func (s *SearchIndexBackend) Search(ctx context.Context, query search.SearchQuery) (search.SearchResults, error) {
	start := time.Now()

	allowlist, err := s.resolveAllowlist(ctx, query.Filters)
	if err != nil {
		return search.SearchResults{}, err
	}
	if allowlist != nil && len(allowlist) == 0 {
		return search.SearchResults{SearchDuration: time.Since(start)}, nil
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 10
	}

	var bm25Results, vectorResults []search.Result

	if query.Type != search.TypeVector {
		bm25Results, err = s.findBM25(ctx, query.Text, allowlist, limit)
		if err != nil {
			return search.SearchResults{}, fmt.Errorf("bm25 search: %w", err)
		}
	}
	if query.Type != search.TypeBM25 && s.embedder != nil {
		vectorResults, err = s.findVector(ctx, query.Text, allowlist, limit)
		if err != nil {
			return search.SearchResults{}, fmt.Errorf("vector search: %w", err)
		}
	}

	fused := s.fuse(bm25Results, vectorResults)
	total := len(fused)

	paged := fused
	if query.Offset > 0 {
		if query.Offset >= len(paged) {
			paged = nil
		} else {
			paged = paged[query.Offset:]
		}
	}
	if limit < len(paged) {
		paged = paged[:limit]
	}

	results, err := s.hydrate(ctx, paged)
	if err != nil {
		return search.SearchResults{}, err
	}

	return search.SearchResults{
		TotalCount:     total,
		Results:        results,
		SearchDuration: time.Since(start),
	}, nil
}

// SearchByRepository is equivalent to Search with a fixed equality filter
// on repositoryID (§6).
func (s *SearchIndexBackend) SearchByRepository(ctx context.Context, repositoryID int64, query search.SearchQuery) (search.SearchResults, error) {
	query.Filters = withSourceRepo(query.Filters, repositoryID)
	return s.Search(ctx, query)
}

// DeleteByRepository removes all chunk documents, BM25 passages, and
// embeddings belonging to a repository.
func (s *SearchIndexBackend) DeleteByRepository(ctx context.Context, repositoryID int64) error {
	var ids []string
	err := s.db.Session(ctx).Model(&ChunkDocumentModel{}).
		Where("repository_id = ?", repositoryID).Pluck("id", &ids).Error
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "list chunk ids for repository %d", repositoryID)
	}

	if len(ids) > 0 {
		if err := s.bm25.DeleteBy(ctx, search.WithSnippetIDs(ids)); err != nil {
			return fmt.Errorf("delete bm25 passages: %w", err)
		}
		if err := s.vectors.DeleteBy(ctx, search.WithSnippetIDs(ids)); err != nil {
			return fmt.Errorf("delete embeddings: %w", err)
		}
	}

	err = s.db.Session(ctx).Delete(&ChunkDocumentModel{}, "repository_id = ?", repositoryID).Error
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "delete chunk documents for repository %d", repositoryID)
	}
	return nil
}

// resolveAllowlist narrows a query to a set of chunk ids via the filterable
// columns on the chunk document table (repository, language, path, created
// window). Author, enrichment, and commit-SHA filters have no corresponding
// column on this schema and are ignored. Returns (nil, nil) when no filters
// are set, meaning "no restriction"; an empty non-nil slice means zero
// matches.
func (s *SearchIndexBackend) resolveAllowlist(ctx context.Context, filters search.Filters) ([]string, error) {
	if filters.IsEmpty() {
		return nil, nil
	}

	q := s.db.Session(ctx).Model(&ChunkDocumentModel{})
	if filters.SourceRepo() != 0 {
		q = q.Where("repository_id = ?", filters.SourceRepo())
	}
	if filters.Language() != "" {
		q = q.Where("language = ?", filters.Language())
	}
	if filters.FilePath() != "" {
		q = q.Where("path = ?", filters.FilePath())
	}
	if !filters.CreatedAfter().IsZero() {
		q = q.Where("created_at >= ?", filters.CreatedAfter())
	}
	if !filters.CreatedBefore().IsZero() {
		q = q.Where("created_at <= ?", filters.CreatedBefore())
	}

	var ids []string
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "resolve filter allowlist")
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *SearchIndexBackend) findBM25(ctx context.Context, text string, allowlist []string, limit int) ([]search.Result, error) {
	if text == "" {
		return nil, nil
	}
	opts := []repository.Option{search.WithQuery(text), repository.WithLimit(limit)}
	if allowlist != nil {
		opts = append(opts, search.WithSnippetIDs(allowlist))
	}
	return s.bm25.Find(ctx, opts...)
}

func (s *SearchIndexBackend) findVector(ctx context.Context, text string, allowlist []string, limit int) ([]search.Result, error) {
	if text == "" {
		return nil, nil
	}
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, nil
	}
	opts := []repository.Option{search.WithEmbedding(vectors[0]), repository.WithLimit(limit)}
	if allowlist != nil {
		opts = append(opts, search.WithSnippetIDs(allowlist))
	}
	return s.vectors.Find(ctx, opts...)
}

func (s *SearchIndexBackend) fuse(bm25, vector []search.Result) []search.FusionResult {
	var lists [][]search.FusionRequest
	if len(bm25) > 0 {
		lists = append(lists, toFusionRequests(bm25))
	}
	if len(vector) > 0 {
		lists = append(lists, toFusionRequests(vector))
	}
	if len(lists) == 0 {
		return nil
	}
	return s.fusion.Fuse(lists...)
}

func toFusionRequests(results []search.Result) []search.FusionRequest {
	out := make([]search.FusionRequest, len(results))
	for i, r := range results {
		out[i] = search.NewFusionRequest(r.SnippetID(), r.Score())
	}
	return out
}

// hydrate loads the full IndexedChunk for each fused result, preserving
// fused order and score. Fused ids with no surviving chunk row (deleted
// after the BM25/vector index was last pruned) are skipped.
func (s *SearchIndexBackend) hydrate(ctx context.Context, fused []search.FusionResult) ([]search.ScoredDocument, error) {
	if len(fused) == 0 {
		return []search.ScoredDocument{}, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ID()
	}

	var models []ChunkDocumentModel
	if err := s.db.Session(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "hydrate search results")
	}

	byID := make(map[string]ChunkDocumentModel, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}

	out := make([]search.ScoredDocument, 0, len(fused))
	for _, f := range fused {
		m, ok := byID[f.ID()]
		if !ok {
			continue
		}
		out = append(out, search.ScoredDocument{
			Document: chunkFromModel(m),
			Score:    f.Score(),
		})
	}
	return out, nil
}

// chunkFromModel reconstructs an IndexedChunk for a hydrated search result.
// The raw vector lives in the embedding store, not the chunk table, and
// Search callers only need content and score, so the vector is always
// reconstructed empty here (HasVector() reports false on read paths even
// when the row was originally indexed with a vector; the upsert path is
// what matters for idempotence).
func chunkFromModel(m ChunkDocumentModel) search.IndexedChunk {
	return search.NewIndexedChunk(
		search.DocumentID(m.ID), m.RepositoryID, m.Branch, m.Path, m.ChunkIndex,
		m.Language, m.Content, nil, anyMapToString(m.Metadata),
	)
}

func withSourceRepo(f search.Filters, repositoryID int64) search.Filters {
	opts := []search.FiltersOption{search.WithSourceRepo(repositoryID)}
	if f.Language() != "" {
		opts = append(opts, search.WithLanguage(f.Language()))
	}
	if f.Author() != "" {
		opts = append(opts, search.WithAuthor(f.Author()))
	}
	if !f.CreatedAfter().IsZero() {
		opts = append(opts, search.WithCreatedAfter(f.CreatedAfter()))
	}
	if !f.CreatedBefore().IsZero() {
		opts = append(opts, search.WithCreatedBefore(f.CreatedBefore()))
	}
	if f.FilePath() != "" {
		opts = append(opts, search.WithFilePath(f.FilePath()))
	}
	if len(f.EnrichmentTypes()) > 0 {
		opts = append(opts, search.WithEnrichmentTypes(f.EnrichmentTypes()))
	}
	if len(f.EnrichmentSubtypes()) > 0 {
		opts = append(opts, search.WithEnrichmentSubtypes(f.EnrichmentSubtypes()))
	}
	if len(f.CommitSHAs()) > 0 {
		opts = append(opts, search.WithCommitSHAs(f.CommitSHAs()))
	}
	return search.NewFilters(opts...)
}

var _ search.Index = (*SearchIndexBackend)(nil)
