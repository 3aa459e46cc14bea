package conversation

import "context"

// Store persists Conversation aggregates. Every read takes the requesting
// userID and filters by it (§4.4): a conversation owned by a different user
// is never returned — callers get apperr.Unauthorized (or NotFound,
// §8 scenario E permits either, but never the conversation content).
type Store interface {
	Save(ctx context.Context, c Conversation) (Conversation, error)

	GetByID(ctx context.Context, id int64, userID string) (Conversation, error)

	GetByUserID(ctx context.Context, userID string, status *Status, limit, offset int) ([]Conversation, error)

	GetByRepositoryIDs(ctx context.Context, repositoryIDs []int64, userID string, limit, offset int) ([]Conversation, error)

	Search(ctx context.Context, term, userID string, status *Status, limit, offset int) ([]Conversation, error)

	Delete(ctx context.Context, id int64, userID string) error
}
