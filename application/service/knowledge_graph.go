package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/archie-dev/archie/domain/event"
	"github.com/archie-dev/archie/domain/git"
	"github.com/archie-dev/archie/domain/graph"
	"github.com/archie-dev/archie/domain/repo"
	"github.com/archie-dev/archie/internal/apperr"
	"github.com/archie-dev/archie/internal/config"
)

// KnowledgeGraphBuilder implements §4.3: turning a tracked Repository's
// source into a CodeEntity/CodeRelationship graph, plus derived
// architectural-pattern and anti-pattern records. It reuses the same
// GitProvider boundary as IngestionPipeline, but runs synchronously: unlike
// ingestion, buildKnowledgeGraph returns the built KnowledgeGraph directly
// rather than a task.Status, so there is no Scheduler-owned background job
// lifecycle to participate in here.
type KnowledgeGraphBuilder struct {
	repoStore  repo.Store
	provider   git.Provider
	graphStore graph.Store
	registry   *graph.Registry
	bus        event.Bus
	logger     *slog.Logger

	fetchConcurrency int
	maxFileBytes     int64
}

// NewKnowledgeGraphBuilder creates a KnowledgeGraphBuilder.
func NewKnowledgeGraphBuilder(
	repoStore repo.Store,
	provider git.Provider,
	graphStore graph.Store,
	registry *graph.Registry,
	bus event.Bus,
	logger *slog.Logger,
) *KnowledgeGraphBuilder {
	return &KnowledgeGraphBuilder{
		repoStore:        repoStore,
		provider:         provider,
		graphStore:       graphStore,
		registry:         registry,
		bus:              bus,
		logger:           logger,
		fetchConcurrency: config.DefaultGraphExtractionConcurrency,
		maxFileBytes:     config.DefaultMaxFileBytes,
	}
}

// BuildKnowledgeGraph runs buildKnowledgeGraph(repositoryIds, depth): for
// each repository, extract entities/relationships, run every registered
// matcher, and replace that repository's stored graph atomically (§4.3
// "all-or-nothing visibility at the (repositoryId, buildId) level"). One
// buildID is shared across every repository in the call, and encodes the
// repository set so updateKnowledgeGraph/deleteKnowledgeGraph can recover
// it from graphId alone (domain/graph.Store has no separate graph-object
// table; see DESIGN.md).
func (b *KnowledgeGraphBuilder) BuildKnowledgeGraph(ctx context.Context, repositoryIDs []int64, depth graph.Depth, token string) (graph.KnowledgeGraph, error) {
	if len(repositoryIDs) == 0 {
		return graph.KnowledgeGraph{}, apperr.New(apperr.InvalidInput, "repositoryIds must not be empty")
	}

	buildID := encodeGraphID(repositoryIDs)
	for _, repositoryID := range repositoryIDs {
		b.bus.Publish(ctx, event.Event{Name: event.KnowledgeGraphBuildStarted, RepositoryID: repositoryID})
	}

	var allEntities []graph.CodeEntity
	var allRelationships []graph.CodeRelationship
	var allPatterns []graph.ArchitecturalPattern
	var allAntiPatterns []graph.AntiPattern

	for _, repositoryID := range repositoryIDs {
		r, err := b.repoStore.GetByID(ctx, repositoryID)
		if err != nil {
			b.bus.Publish(ctx, event.Event{Name: event.KnowledgeGraphBuildFailed, RepositoryID: repositoryID, Err: err})
			return graph.KnowledgeGraph{}, fmt.Errorf("get repository %d: %w", repositoryID, err)
		}

		entities, relationships, err := b.extract(ctx, r, depth, token)
		if err != nil {
			b.bus.Publish(ctx, event.Event{Name: event.KnowledgeGraphBuildFailed, RepositoryID: repositoryID, Err: err})
			return graph.KnowledgeGraph{}, fmt.Errorf("extract repository %d: %w", repositoryID, err)
		}

		patterns := b.registry.DetectPatterns(entities, relationships, nil)
		antiPatterns := b.registry.DetectAntiPatterns(entities, relationships)

		if err := b.graphStore.ReplaceRepositoryGraph(ctx, repositoryID, buildID, entities, relationships, patterns, antiPatterns); err != nil {
			b.bus.Publish(ctx, event.Event{Name: event.KnowledgeGraphBuildFailed, RepositoryID: repositoryID, Err: err})
			return graph.KnowledgeGraph{}, fmt.Errorf("replace graph %d: %w", repositoryID, err)
		}

		allEntities = append(allEntities, entities...)
		allRelationships = append(allRelationships, relationships...)
		allPatterns = append(allPatterns, patterns...)
		allAntiPatterns = append(allAntiPatterns, antiPatterns...)

		b.bus.Publish(ctx, event.Event{Name: event.KnowledgeGraphBuildCompleted, RepositoryID: repositoryID})
	}

	return graph.KnowledgeGraph{
		ID:            buildID,
		RepositoryIDs: repositoryIDs,
		Depth:         depth,
		Entities:      allEntities,
		Relationships: allRelationships,
		Patterns:      allPatterns,
		AntiPatterns:  allAntiPatterns,
		BuiltAt:       time.Now(),
	}, nil
}

// UpdateKnowledgeGraph re-runs BuildKnowledgeGraph for the repository set
// encoded in graphID, at Standard depth (§4.3 update is a re-analysis, not
// a partial patch).
func (b *KnowledgeGraphBuilder) UpdateKnowledgeGraph(ctx context.Context, graphID string, token string) (graph.KnowledgeGraph, error) {
	repositoryIDs, err := parseGraphID(graphID)
	if err != nil {
		return graph.KnowledgeGraph{}, err
	}
	return b.BuildKnowledgeGraph(ctx, repositoryIDs, graph.DepthStandard, token)
}

// DeleteKnowledgeGraph removes every repository's stored graph records for
// the repository set encoded in graphID.
func (b *KnowledgeGraphBuilder) DeleteKnowledgeGraph(ctx context.Context, graphID string) (bool, error) {
	repositoryIDs, err := parseGraphID(graphID)
	if err != nil {
		return false, err
	}
	for _, repositoryID := range repositoryIDs {
		if err := b.graphStore.DeleteByRepository(ctx, repositoryID); err != nil {
			return false, fmt.Errorf("delete graph for repository %d: %w", repositoryID, err)
		}
	}
	return true, nil
}

// DetectArchitecturalPatterns loads the stored graph for repositoryID and
// re-runs pattern matchers live, optionally restricted to patternTypes.
// This is a read-time detection, not a rebuild: it never writes back to
// graphStore, so it stays cheap to call repeatedly (§4.3).
func (b *KnowledgeGraphBuilder) DetectArchitecturalPatterns(ctx context.Context, repositoryID int64, patternTypes []string) ([]graph.ArchitecturalPattern, error) {
	entities, relationships, err := b.loadGraph(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	return b.registry.DetectPatterns(entities, relationships, patternTypes), nil
}

// DetectAntiPatterns loads the stored graph for repositoryID and re-runs
// anti-pattern matchers live.
func (b *KnowledgeGraphBuilder) DetectAntiPatterns(ctx context.Context, repositoryID int64) ([]graph.AntiPattern, error) {
	entities, relationships, err := b.loadGraph(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	return b.registry.DetectAntiPatterns(entities, relationships), nil
}

// FindPath answers the bounded-BFS path query (§4.5 consumer) by delegating
// to the store's adjacency search.
func (b *KnowledgeGraphBuilder) FindPath(ctx context.Context, repositoryID int64, sourceEntityID, targetEntityID string, maxDepth int) ([]graph.CodeRelationship, error) {
	if maxDepth <= 0 {
		maxDepth = config.DefaultGraphPathMaxDepth
	}
	return b.graphStore.FindPath(ctx, repositoryID, sourceEntityID, targetEntityID, maxDepth)
}

func (b *KnowledgeGraphBuilder) loadGraph(ctx context.Context, repositoryID int64) ([]graph.CodeEntity, []graph.CodeRelationship, error) {
	entities, err := b.graphStore.GetEntities(ctx, repositoryID)
	if err != nil {
		return nil, nil, fmt.Errorf("get entities: %w", err)
	}
	relationships, err := b.graphStore.GetRelationships(ctx, repositoryID)
	if err != nil {
		return nil, nil, fmt.Errorf("get relationships: %w", err)
	}
	return entities, relationships, nil
}

// extract fetches the repository's default-branch tree and file contents,
// then runs the regex-based declaration extractor at a depth-dependent
// level: Surface stops at top-level declarations and Contains edges;
// Standard adds same-file Uses references; Deep additionally adds
// cross-file DependsOn edges (§4.3 algorithm).
func (b *KnowledgeGraphBuilder) extract(ctx context.Context, r repo.Repository, depth graph.Depth, token string) ([]graph.CodeEntity, []graph.CodeRelationship, error) {
	owner, name, err := b.provider.ParseRepositoryURL(r.URL())
	if err != nil {
		return nil, nil, fmt.Errorf("parse repository url: %w", err)
	}

	branch, ok := r.DefaultBranch()
	branchName := branch.Name()
	if !ok {
		branches, err := b.provider.GetBranches(ctx, owner, name, token)
		if err != nil {
			return nil, nil, fmt.Errorf("get branches: %w", err)
		}
		for _, br := range branches {
			if br.IsDefault {
				branchName = br.Name
			}
		}
	}

	tree, err := b.provider.GetRepositoryTreeWithMetadata(ctx, owner, name, branchName, true, token)
	if err != nil {
		return nil, nil, fmt.Errorf("get repository tree: %w", err)
	}

	var paths []string
	for _, entry := range tree.Items {
		if entry.Type == git.EntryBlob && entry.Size <= b.maxFileBytes {
			paths = append(paths, entry.Path)
		}
	}

	extractedFiles := make([]extractedFile, len(paths))
	entitiesPerFile := make([][]graph.CodeEntity, len(paths))
	relationshipsPerFile := make([][]graph.CodeRelationship, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.fetchConcurrency)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			content, err := b.provider.GetFileContent(gctx, owner, name, path, branchName, token)
			if err != nil {
				b.logger.Warn("skipping file during graph extraction", slog.String("path", path), slog.String("error", err.Error()))
				return nil
			}
			if content == "" {
				return nil
			}
			language := languageFromPath(path)
			ef, entities, relationships := extractFile(r.ID(), path, language, content)
			extractedFiles[i] = ef
			entitiesPerFile[i] = entities
			relationshipsPerFile[i] = relationships
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var entities []graph.CodeEntity
	var relationships []graph.CodeRelationship
	var nonEmptyFiles []extractedFile
	for i := range extractedFiles {
		if extractedFiles[i].path == "" {
			continue
		}
		nonEmptyFiles = append(nonEmptyFiles, extractedFiles[i])
		entities = append(entities, entitiesPerFile[i]...)
		relationships = append(relationships, relationshipsPerFile[i]...)
	}

	if depth == graph.DepthStandard || depth == graph.DepthDeep {
		for _, ef := range nonEmptyFiles {
			relationships = append(relationships, extractReferences(ef)...)
		}
	}
	if depth == graph.DepthDeep {
		relationships = append(relationships, extractFileDependencies(r.ID(), nonEmptyFiles)...)
	}

	return entities, relationships, nil
}

// encodeGraphID deterministically encodes a sorted, deduplicated repository
// ID set as a single string, so UpdateKnowledgeGraph/DeleteKnowledgeGraph
// can recover the set from the graphId the initial build returned.
func encodeGraphID(repositoryIDs []int64) string {
	sorted := append([]int64(nil), repositoryIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, 0, len(sorted))
	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	joined := strings.Join(parts, ",")

	h := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(h[:8]) + ":" + joined
}

func parseGraphID(id string) ([]int64, error) {
	idx := strings.Index(id, ":")
	if idx < 0 {
		return nil, apperr.New(apperr.InvalidInput, "malformed graph id: %s", id)
	}
	joined := id[idx+1:]
	parts := strings.Split(joined, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		var n int64
		if _, err := fmt.Sscanf(p, "%d", &n); err != nil {
			return nil, apperr.New(apperr.InvalidInput, "malformed graph id: %s", id)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "malformed graph id: %s", id)
	}
	return out, nil
}
