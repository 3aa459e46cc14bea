package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/archie-dev/archie/domain/graph"
	"github.com/archie-dev/archie/internal/apperr"
	"github.com/archie-dev/archie/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GraphStore implements graph.Store: one row per repository holding its
// latest build as a JSON snapshot, overwritten atomically by
// ReplaceRepositoryGraph (§4.3).
type GraphStore struct {
	db database.Database
}

// NewGraphStore creates a GraphStore.
func NewGraphStore(db database.Database) *GraphStore {
	return &GraphStore{db: db}
}

// ReplaceRepositoryGraph atomically swaps in a new graph snapshot for a
// repository via upsert.
func (s *GraphStore) ReplaceRepositoryGraph(
	ctx context.Context,
	repositoryID int64,
	buildID string,
	entities []graph.CodeEntity,
	relationships []graph.CodeRelationship,
	patterns []graph.ArchitecturalPattern,
	antiPatterns []graph.AntiPattern,
) error {
	model := GraphSnapshotModel{
		RepositoryID:  repositoryID,
		BuildID:       buildID,
		Entities:      marshalJSON(entities),
		Relationships: marshalJSON(relationships),
		Patterns:      marshalJSON(patterns),
		AntiPatterns:  marshalJSON(antiPatterns),
	}
	err := s.db.Session(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "repository_id"}},
		UpdateAll: true,
	}).Create(&model).Error
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "replace graph for repository %d", repositoryID)
	}
	return nil
}

func (s *GraphStore) load(ctx context.Context, repositoryID int64) (GraphSnapshotModel, error) {
	var model GraphSnapshotModel
	err := s.db.Session(ctx).Where("repository_id = ?", repositoryID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return GraphSnapshotModel{}, apperr.NotFoundf("graph for repository %d", repositoryID)
		}
		return GraphSnapshotModel{}, apperr.Wrap(apperr.Internal, err, "load graph for repository %d", repositoryID)
	}
	return model, nil
}

// GetEntities returns the entities of a repository's latest build.
func (s *GraphStore) GetEntities(ctx context.Context, repositoryID int64) ([]graph.CodeEntity, error) {
	model, err := s.load(ctx, repositoryID)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return []graph.CodeEntity{}, nil
		}
		return nil, err
	}
	var entities []graph.CodeEntity
	if err := json.Unmarshal(model.Entities, &entities); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "decode entities for repository %d", repositoryID)
	}
	return entities, nil
}

// GetRelationships returns the relationships of a repository's latest build.
func (s *GraphStore) GetRelationships(ctx context.Context, repositoryID int64) ([]graph.CodeRelationship, error) {
	model, err := s.load(ctx, repositoryID)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return []graph.CodeRelationship{}, nil
		}
		return nil, err
	}
	var relationships []graph.CodeRelationship
	if err := json.Unmarshal(model.Relationships, &relationships); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "decode relationships for repository %d", repositoryID)
	}
	return relationships, nil
}

// GetPatterns returns architectural patterns, optionally filtered by type.
func (s *GraphStore) GetPatterns(ctx context.Context, repositoryID int64, patternTypes []string) ([]graph.ArchitecturalPattern, error) {
	model, err := s.load(ctx, repositoryID)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return []graph.ArchitecturalPattern{}, nil
		}
		return nil, err
	}
	var patterns []graph.ArchitecturalPattern
	if err := json.Unmarshal(model.Patterns, &patterns); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "decode patterns for repository %d", repositoryID)
	}
	if len(patternTypes) == 0 {
		return patterns, nil
	}
	wanted := make(map[string]struct{}, len(patternTypes))
	for _, t := range patternTypes {
		wanted[t] = struct{}{}
	}
	filtered := make([]graph.ArchitecturalPattern, 0, len(patterns))
	for _, p := range patterns {
		if _, ok := wanted[p.Type]; ok {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// GetAntiPatterns returns anti-patterns for a repository's latest build.
func (s *GraphStore) GetAntiPatterns(ctx context.Context, repositoryID int64) ([]graph.AntiPattern, error) {
	model, err := s.load(ctx, repositoryID)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return []graph.AntiPattern{}, nil
		}
		return nil, err
	}
	var antiPatterns []graph.AntiPattern
	if err := json.Unmarshal(model.AntiPatterns, &antiPatterns); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "decode anti-patterns for repository %d", repositoryID)
	}
	return antiPatterns, nil
}

// FindPath loads the repository's relationships and delegates to the
// package-level breadth-first search.
func (s *GraphStore) FindPath(ctx context.Context, repositoryID int64, sourceEntityID, targetEntityID string, maxDepth int) ([]graph.CodeRelationship, error) {
	relationships, err := s.GetRelationships(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	return graph.FindPath(relationships, sourceEntityID, targetEntityID, maxDepth), nil
}

// DeleteByRepository removes the graph snapshot for a repository.
func (s *GraphStore) DeleteByRepository(ctx context.Context, repositoryID int64) error {
	err := s.db.Session(ctx).Delete(&GraphSnapshotModel{}, "repository_id = ?", repositoryID).Error
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "delete graph for repository %d", repositoryID)
	}
	return nil
}

var _ graph.Store = (*GraphStore)(nil)
