package repo

import (
	"context"

	"github.com/archie-dev/archie/domain/repository"
)

// Store persists Repository aggregates. getByUrl is the canonical dedup
// check for creation (§4.1): Save on a URL that already maps to a
// Repository returns apperr.AlreadyExists.
type Store interface {
	Save(ctx context.Context, r Repository) (Repository, error)
	GetByID(ctx context.Context, id int64) (Repository, error)
	GetByURL(ctx context.Context, url string) (Repository, error)
	GetAll(ctx context.Context, options ...repository.Option) ([]Repository, error)
	Exists(ctx context.Context, options ...repository.Option) (bool, error)
	Delete(ctx context.Context, id int64) error
}

// WithURL filters by the repository's URL column.
func WithURL(url string) repository.Option {
	return repository.WithCondition("url", url)
}

// WithStatus filters by status.
func WithStatus(status Status) repository.Option {
	return repository.WithCondition("status", string(status))
}
