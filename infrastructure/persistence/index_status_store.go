package persistence

import (
	"context"
	"errors"

	"github.com/archie-dev/archie/domain/search"
	"github.com/archie-dev/archie/internal/apperr"
	"github.com/archie-dev/archie/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IndexStatusStore implements search.IndexStatusStore: one row per
// repository tracking the most recent ingestion run's progress.
type IndexStatusStore struct {
	db database.Database
}

// NewIndexStatusStore creates an IndexStatusStore.
func NewIndexStatusStore(db database.Database) *IndexStatusStore {
	return &IndexStatusStore{db: db}
}

func indexStatusToModel(s search.IndexStatus) IndexStatusModel {
	return IndexStatusModel{
		RepositoryID:         s.RepositoryID,
		Status:               string(s.Status),
		DocumentsIndexed:     s.DocumentsIndexed,
		TotalDocuments:       s.TotalDocuments,
		EstimatedCompletion:  s.EstimatedCompletion,
		ErrorMessage:         s.ErrorMessage,
		LastIndexedCommitSHA: s.LastIndexedCommitSHA,
		UpdatedAt:            s.UpdatedAt,
	}
}

func indexStatusFromModel(m IndexStatusModel) search.IndexStatus {
	return search.IndexStatus{
		RepositoryID:         m.RepositoryID,
		Status:               search.IndexRunStatus(m.Status),
		DocumentsIndexed:     m.DocumentsIndexed,
		TotalDocuments:       m.TotalDocuments,
		EstimatedCompletion:  m.EstimatedCompletion,
		ErrorMessage:         m.ErrorMessage,
		LastIndexedCommitSHA: m.LastIndexedCommitSHA,
		UpdatedAt:            m.UpdatedAt,
	}
}

// Save upserts the IndexStatus for a repository.
func (s *IndexStatusStore) Save(ctx context.Context, status search.IndexStatus) (search.IndexStatus, error) {
	model := indexStatusToModel(status)
	err := s.db.Session(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "repository_id"}},
		UpdateAll: true,
	}).Create(&model).Error
	if err != nil {
		return search.IndexStatus{}, apperr.Wrap(apperr.Internal, err, "save index status for repository %d", status.RepositoryID)
	}
	return indexStatusFromModel(model), nil
}

// GetByRepositoryID retrieves the IndexStatus for a repository.
func (s *IndexStatusStore) GetByRepositoryID(ctx context.Context, repositoryID int64) (search.IndexStatus, error) {
	var model IndexStatusModel
	err := s.db.Session(ctx).Where("repository_id = ?", repositoryID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return search.IndexStatus{}, apperr.NotFoundf("index status for repository %d", repositoryID)
		}
		return search.IndexStatus{}, apperr.Wrap(apperr.Internal, err, "get index status for repository %d", repositoryID)
	}
	return indexStatusFromModel(model), nil
}

// DeleteByRepositoryID removes the IndexStatus row for a repository.
func (s *IndexStatusStore) DeleteByRepositoryID(ctx context.Context, repositoryID int64) error {
	err := s.db.Session(ctx).Delete(&IndexStatusModel{}, "repository_id = ?", repositoryID).Error
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "delete index status for repository %d", repositoryID)
	}
	return nil
}

var _ search.IndexStatusStore = (*IndexStatusStore)(nil)
