package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/archie-dev/archie/domain/conversation"
	"github.com/archie-dev/archie/internal/apperr"
	"github.com/archie-dev/archie/internal/database"
	"gorm.io/gorm"
)

// ConversationStore implements conversation.Store: one row per
// conversation with its message log embedded as JSON.
type ConversationStore struct {
	db database.Database
}

// NewConversationStore creates a ConversationStore.
func NewConversationStore(db database.Database) *ConversationStore {
	return &ConversationStore{db: db}
}

// messageJSON is the exported-field DTO for conversation.Message, whose
// fields are all unexported (encapsulated behind accessors), so it cannot
// be marshaled directly.
type messageJSON struct {
	ID              int64                     `json:"id"`
	ConversationID  int64                     `json:"conversation_id"`
	Type            conversation.MessageType  `json:"type"`
	Content         string                    `json:"content"`
	Attachments     []conversation.Attachment `json:"attachments"`
	ParentMessageID int64                     `json:"parent_message_id"`
	HasParent       bool                      `json:"has_parent"`
	Timestamp       time.Time                 `json:"timestamp"`
	Metadata        map[string]string         `json:"metadata"`
}

func toMessageJSON(m conversation.Message) messageJSON {
	parentID, hasParent := m.ParentMessageID()
	return messageJSON{
		ID:              m.ID(),
		ConversationID:  m.ConversationID(),
		Type:            m.Type(),
		Content:         m.Content(),
		Attachments:     m.Attachments(),
		ParentMessageID: parentID,
		HasParent:       hasParent,
		Timestamp:       m.Timestamp(),
		Metadata:        m.Metadata(),
	}
}

func fromMessageJSON(j messageJSON) conversation.Message {
	return conversation.ReconstructMessage(
		j.ID, j.ConversationID, j.Type, j.Content, j.Attachments,
		j.ParentMessageID, j.HasParent, j.Timestamp, j.Metadata,
	)
}

func conversationToModel(c conversation.Conversation) ConversationModel {
	rawMessages := c.Messages()
	messages := make([]messageJSON, len(rawMessages))
	for i, m := range rawMessages {
		messages[i] = toMessageJSON(m)
	}
	return ConversationModel{
		ID:             c.ID(),
		UserID:         c.UserID(),
		Title:          c.Title(),
		Status:         string(c.Status()),
		Messages:       marshalJSON(messages),
		Context:        marshalJSON(c.Context()),
		Metadata:       JSONMap(stringMapToAny(c.Metadata())),
		CreatedAt:      c.CreatedAt(),
		LastActivityAt: c.LastActivityAt(),
	}
}

func conversationFromModel(m ConversationModel) (conversation.Conversation, error) {
	var messageRows []messageJSON
	if len(m.Messages) > 0 {
		if err := json.Unmarshal(m.Messages, &messageRows); err != nil {
			return conversation.Conversation{}, apperr.Wrap(apperr.Internal, err, "decode messages for conversation %d", m.ID)
		}
	}
	messages := make([]conversation.Message, len(messageRows))
	for i, j := range messageRows {
		messages[i] = fromMessageJSON(j)
	}

	var ctx conversation.Context
	if len(m.Context) > 0 {
		if err := json.Unmarshal(m.Context, &ctx); err != nil {
			return conversation.Conversation{}, apperr.Wrap(apperr.Internal, err, "decode context for conversation %d", m.ID)
		}
	}
	return conversation.Reconstruct(
		m.ID, m.UserID, m.Title,
		conversation.Status(m.Status),
		messages, ctx,
		m.CreatedAt, m.LastActivityAt,
		anyMapToString(m.Metadata),
	), nil
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func anyMapToString(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Save upserts a Conversation, scoped to its owner.
func (s *ConversationStore) Save(ctx context.Context, c conversation.Conversation) (conversation.Conversation, error) {
	model := conversationToModel(c)
	db := s.db.Session(ctx)

	var err error
	if c.ID() == 0 {
		err = db.Create(&model).Error
	} else {
		err = db.Where("id = ? AND user_id = ?", c.ID(), c.UserID()).Save(&model).Error
	}
	if err != nil {
		return conversation.Conversation{}, apperr.Wrap(apperr.Internal, err, "save conversation")
	}
	return conversationFromModel(model)
}

// GetByID retrieves a Conversation owned by userID.
func (s *ConversationStore) GetByID(ctx context.Context, id int64, userID string) (conversation.Conversation, error) {
	var model ConversationModel
	err := s.db.Session(ctx).Where("id = ? AND user_id = ?", id, userID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return conversation.Conversation{}, apperr.NotFoundf("conversation %d", id)
		}
		return conversation.Conversation{}, apperr.Wrap(apperr.Internal, err, "get conversation %d", id)
	}
	return conversationFromModel(model)
}

// GetByUserID lists a user's conversations, optionally filtered by status.
func (s *ConversationStore) GetByUserID(ctx context.Context, userID string, status *conversation.Status, limit, offset int) ([]conversation.Conversation, error) {
	db := s.db.Session(ctx).Where("user_id = ?", userID)
	if status != nil {
		db = db.Where("status = ?", string(*status))
	}
	return s.listWith(db, limit, offset)
}

// GetByRepositoryIDs lists a user's conversations whose context references
// any of the given repository IDs.
func (s *ConversationStore) GetByRepositoryIDs(ctx context.Context, repositoryIDs []int64, userID string, limit, offset int) ([]conversation.Conversation, error) {
	models, err := s.allForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	wanted := make(map[int64]struct{}, len(repositoryIDs))
	for _, id := range repositoryIDs {
		wanted[id] = struct{}{}
	}
	filtered := make([]conversation.Conversation, 0, len(models))
	for _, m := range models {
		c, err := conversationFromModel(m)
		if err != nil {
			return nil, err
		}
		for _, id := range c.Context().RepositoryIDs {
			if _, ok := wanted[id]; ok {
				filtered = append(filtered, c)
				break
			}
		}
	}
	return paginate(filtered, limit, offset), nil
}

// Search performs a substring match over conversation titles, scoped to the
// user and optional status. Full-text relevance ranking is out of scope;
// the BM25 path in domain/search covers code/document retrieval, not
// conversation history.
func (s *ConversationStore) Search(ctx context.Context, term, userID string, status *conversation.Status, limit, offset int) ([]conversation.Conversation, error) {
	db := s.db.Session(ctx).Where("user_id = ? AND title LIKE ?", userID, "%"+term+"%")
	if status != nil {
		db = db.Where("status = ?", string(*status))
	}
	return s.listWith(db, limit, offset)
}

// Delete removes a Conversation owned by userID.
func (s *ConversationStore) Delete(ctx context.Context, id int64, userID string) error {
	err := s.db.Session(ctx).Where("user_id = ?", userID).Delete(&ConversationModel{}, "id = ?", id).Error
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "delete conversation %d", id)
	}
	return nil
}

func (s *ConversationStore) listWith(db *gorm.DB, limit, offset int) ([]conversation.Conversation, error) {
	var models []ConversationModel
	q := db.Order("last_activity_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list conversations")
	}
	out := make([]conversation.Conversation, len(models))
	for i, m := range models {
		c, err := conversationFromModel(m)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func (s *ConversationStore) allForUser(ctx context.Context, userID string) ([]ConversationModel, error) {
	var models []ConversationModel
	err := s.db.Session(ctx).Where("user_id = ?", userID).Order("last_activity_at DESC").Find(&models).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list conversations for user")
	}
	return models, nil
}

func paginate(items []conversation.Conversation, limit, offset int) []conversation.Conversation {
	if offset >= len(items) {
		return []conversation.Conversation{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ conversation.Store = (*ConversationStore)(nil)
