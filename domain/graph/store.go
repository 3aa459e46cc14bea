package graph

import "context"

// Store persists entities, relationships, and pattern records for the
// graph, and answers path-finding queries. §9 permits an index-backed
// implementation with adjacency lookups; this interface is shaped so such a
// backend or a native graph database can both satisfy it. This module's
// backend stores each repository's graph as one JSON snapshot and runs
// FindPath over the loaded relationships (see DESIGN.md).
//
// ReplaceRepositoryGraph is the atomic-replace operation backing §4.3's
// "re-running ... replaces all graph records for that repository
// atomically from the store's perspective": a single call swaps in a new
// (entities, relationships, patterns, antiPatterns) snapshot for a
// repository, keyed by buildID, with all-or-nothing visibility.
type Store interface {
	ReplaceRepositoryGraph(ctx context.Context, repositoryID int64, buildID string, entities []CodeEntity, relationships []CodeRelationship, patterns []ArchitecturalPattern, antiPatterns []AntiPattern) error

	GetEntities(ctx context.Context, repositoryID int64) ([]CodeEntity, error)
	GetRelationships(ctx context.Context, repositoryID int64) ([]CodeRelationship, error)
	GetPatterns(ctx context.Context, repositoryID int64, patternTypes []string) ([]ArchitecturalPattern, error)
	GetAntiPatterns(ctx context.Context, repositoryID int64) ([]AntiPattern, error)

	// FindPath returns the shortest-hop path of relationships from source
	// to target, bounded by maxDepth, or an empty slice if unreachable
	// (§4.3, §8 scenario F). source == target always returns empty.
	FindPath(ctx context.Context, repositoryID int64, sourceEntityID, targetEntityID string, maxDepth int) ([]CodeRelationship, error)

	DeleteByRepository(ctx context.Context, repositoryID int64) error
}

// FindPath performs a breadth-first search over relationships for the
// shortest-hop path from source to target, bounded by maxDepth. It is the
// in-memory algorithm an index-backed Store implementation uses once it has
// loaded a repository's relationship set; grouped here so it is testable
// independent of any storage backend.
//
// The search uses a breadth-first queue keyed by (entityID, depth),
// visited-set pruning, and an early return on reaching the target.
func FindPath(relationships []CodeRelationship, sourceEntityID, targetEntityID string, maxDepth int) []CodeRelationship {
	if sourceEntityID == targetEntityID {
		return nil
	}

	adjacency := make(map[string][]CodeRelationship)
	for _, rel := range relationships {
		adjacency[rel.SourceEntityID] = append(adjacency[rel.SourceEntityID], rel)
	}

	type queueEntry struct {
		entityID string
		depth    int
		path     []CodeRelationship
	}

	visited := map[string]bool{sourceEntityID: true}
	queue := []queueEntry{{entityID: sourceEntityID, depth: 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= maxDepth {
			continue
		}

		for _, rel := range adjacency[current.entityID] {
			if visited[rel.TargetEntityID] {
				continue
			}
			nextPath := append(append([]CodeRelationship(nil), current.path...), rel)
			if rel.TargetEntityID == targetEntityID {
				return nextPath
			}
			visited[rel.TargetEntityID] = true
			queue = append(queue, queueEntry{
				entityID: rel.TargetEntityID,
				depth:    current.depth + 1,
				path:     nextPath,
			})
		}
	}

	return nil
}
