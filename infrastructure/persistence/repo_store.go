package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/archie-dev/archie/domain/repo"
	"github.com/archie-dev/archie/domain/repository"
	"github.com/archie-dev/archie/internal/apperr"
	"github.com/archie-dev/archie/internal/database"
)

// repoMapper maps between repo.Repository and RepositoryModel.
type repoMapper struct{}

type branchJSON struct {
	Name       string `json:"name"`
	IsDefault  bool   `json:"is_default"`
	HasCommit  bool   `json:"has_commit"`
	Hash       string `json:"hash,omitempty"`
	Message    string `json:"message,omitempty"`
	Author     string `json:"author,omitempty"`
	CommitUnix int64  `json:"commit_unix,omitempty"`
}

type statisticsJSON struct {
	FileCount     int   `json:"file_count"`
	TotalBytes    int64 `json:"total_bytes"`
	DocumentCount int   `json:"document_count"`
}

func (repoMapper) ToDomain(m RepositoryModel) repo.Repository {
	var branchRows []branchJSON
	if len(m.Branches) > 0 {
		_ = json.Unmarshal(m.Branches, &branchRows)
	}
	branches := make([]repo.Branch, len(branchRows))
	for i, b := range branchRows {
		var commit repo.Commit
		if b.HasCommit {
			commit = repo.NewCommit(b.Hash, b.Message, b.Author, b.CommitUnix)
		}
		branches[i] = repo.NewBranch(b.Name, b.IsDefault, commit)
	}

	var stats *repo.Statistics
	if len(m.Statistics) > 0 && string(m.Statistics) != "null" {
		var s statisticsJSON
		if err := json.Unmarshal(m.Statistics, &s); err == nil {
			stats = &repo.Statistics{FileCount: s.FileCount, TotalBytes: s.TotalBytes, DocumentCount: s.DocumentCount}
		}
	}

	return repo.Reconstruct(
		m.ID,
		m.URL, m.Name, m.Language, m.Description,
		repo.Status(m.Status),
		branches,
		stats,
		m.CreatedAt, m.UpdatedAt,
	)
}

func (repoMapper) ToModel(r repo.Repository) RepositoryModel {
	branches := r.Branches()
	branchRows := make([]branchJSON, len(branches))
	for i, b := range branches {
		row := branchJSON{Name: b.Name(), IsDefault: b.IsDefault()}
		if b.HasLastCommit() {
			c := b.LastCommit()
			row.HasCommit = true
			row.Hash = c.Hash()
			row.Message = c.Message()
			row.Author = c.Author()
			row.CommitUnix = c.TimestampUnix()
		}
		branchRows[i] = row
	}

	var statsJSON JSONRaw
	if stats := r.Statistics(); stats != nil {
		statsJSON = marshalJSON(statisticsJSON{FileCount: stats.FileCount, TotalBytes: stats.TotalBytes, DocumentCount: stats.DocumentCount})
	} else {
		statsJSON = JSONRaw("null")
	}

	return RepositoryModel{
		ID:          r.ID(),
		URL:         r.URL(),
		Name:        r.Name(),
		Language:    r.Language(),
		Description: r.Description(),
		Status:      string(r.Status()),
		Branches:    marshalJSON(branchRows),
		Statistics:  statsJSON,
		CreatedAt:   r.CreatedAt(),
		UpdatedAt:   r.UpdatedAt(),
	}
}

// RepositoryStore implements repo.Store on the generic GORM repository.
type RepositoryStore struct {
	database.Repository[repo.Repository, RepositoryModel]
}

// NewRepositoryStore creates a RepositoryStore.
func NewRepositoryStore(db database.Database) *RepositoryStore {
	return &RepositoryStore{
		Repository: database.NewRepository[repo.Repository, RepositoryModel](db, repoMapper{}, "repository"),
	}
}

// Save upserts a Repository. A zero ID inserts a new row and rejects a
// duplicate URL with apperr.AlreadyExists (§4.1); a non-zero ID updates the
// existing row.
func (s *RepositoryStore) Save(ctx context.Context, r repo.Repository) (repo.Repository, error) {
	model := s.Mapper().ToModel(r)

	if r.ID() == 0 {
		exists, err := s.Exists(ctx, repo.WithURL(r.URL()))
		if err != nil {
			return repo.Repository{}, err
		}
		if exists {
			return repo.Repository{}, apperr.AlreadyExistsf("repository with url %q already exists", r.URL())
		}
		if err := s.DB(ctx).Create(&model).Error; err != nil {
			return repo.Repository{}, apperr.Wrap(apperr.Internal, err, "create repository")
		}
		return s.Mapper().ToDomain(model), nil
	}

	if err := s.DB(ctx).Save(&model).Error; err != nil {
		return repo.Repository{}, apperr.Wrap(apperr.Internal, err, "update repository %d", r.ID())
	}
	return s.Mapper().ToDomain(model), nil
}

// GetByID retrieves a Repository by ID.
func (s *RepositoryStore) GetByID(ctx context.Context, id int64) (repo.Repository, error) {
	r, err := s.FindOne(ctx, repository.WithID(id))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return repo.Repository{}, apperr.NotFoundf("repository %d", id)
		}
		return repo.Repository{}, err
	}
	return r, nil
}

// GetByURL retrieves a Repository by URL.
func (s *RepositoryStore) GetByURL(ctx context.Context, url string) (repo.Repository, error) {
	r, err := s.FindOne(ctx, repo.WithURL(url))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return repo.Repository{}, apperr.NotFoundf("repository with url %q", url)
		}
		return repo.Repository{}, err
	}
	return r, nil
}

// GetAll returns repositories matching options.
func (s *RepositoryStore) GetAll(ctx context.Context, options ...repository.Option) ([]repo.Repository, error) {
	return s.Find(ctx, options...)
}

// Delete removes a Repository by ID.
func (s *RepositoryStore) Delete(ctx context.Context, id int64) error {
	return s.DeleteBy(ctx, repository.WithID(id))
}

var _ repo.Store = (*RepositoryStore)(nil)
