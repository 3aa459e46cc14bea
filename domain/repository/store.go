package repository

import "context"

// Store is the generic read/write surface every persistence-backed domain
// type exposes: lookup and count by Option-built query, existence checks,
// and deletion by query. Concrete stores (see
// github.com/archie-dev/archie/internal/database.Repository) implement this
// against a specific table/mapper pair.
type Store[T any] interface {
	Find(ctx context.Context, options ...Option) ([]T, error)
	FindOne(ctx context.Context, options ...Option) (T, error)
	Exists(ctx context.Context, options ...Option) (bool, error)
	Count(ctx context.Context, options ...Option) (int64, error)
	DeleteBy(ctx context.Context, options ...Option) error
}
