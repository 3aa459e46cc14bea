package search

import (
	"context"

	"github.com/archie-dev/archie/domain/repository"
)

// BM25Store defines operations for BM25 full-text search indexing.
type BM25Store interface {
	// Index adds documents to the BM25 index.
	Index(ctx context.Context, request IndexRequest) error

	// Find performs BM25 keyword search, filtered/ordered by opts.
	Find(ctx context.Context, opts ...repository.Option) ([]Result, error)

	// DeleteBy removes documents matching opts from the BM25 index.
	DeleteBy(ctx context.Context, opts ...repository.Option) error
}
