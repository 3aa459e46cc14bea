// Package conversation models stateful, per-user conversations over one or
// more repositories, and the append-only message log within each.
package conversation

import (
	"errors"
	"strconv"
	"time"
)

// ErrNotActive indicates an append was attempted against a conversation
// that is not in the Active status (§3, §4.4).
var ErrNotActive = errors.New("conversation does not accept new messages")

// ErrReorder indicates a save would have reordered existing messages,
// which §4.4 forbids.
var ErrReorder = errors.New("save would reorder existing messages")

// Status is the lifecycle state of a Conversation.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// Context carries the repositories and preferences a conversation is
// grounded in. RepositoryIDs is expected non-empty whenever retrieval
// context is used (§4.5 step 3).
type Context struct {
	RepositoryIDs   []int64
	RepositoryNames []string
	Domain          string
	TechnicalTags   []string
	Preferences     map[string]string
}

// IsEmpty reports whether the context carries no repository scope.
func (c Context) IsEmpty() bool {
	return len(c.RepositoryIDs) == 0
}

// Conversation is the aggregate root owned by Store. Messages is
// append-only: Conversation.WithAppendedMessage is the only way to add to
// it, and it rejects reordering (messages must be appended in timestamp
// order) and rejects appends to a non-Active conversation.
type Conversation struct {
	id             int64
	userID         string
	title          string
	status         Status
	messages       []Message
	context        Context
	createdAt      time.Time
	lastActivityAt time.Time
	metadata       map[string]string
}

// New creates a Conversation with no messages, status Active.
func New(userID, title string, ctx Context) Conversation {
	now := time.Now()
	return Conversation{
		userID:         userID,
		title:          title,
		status:         StatusActive,
		context:        ctx,
		createdAt:      now,
		lastActivityAt: now,
		metadata:       map[string]string{"messageCount": "0"},
	}
}

// Reconstruct rebuilds a Conversation from persistence.
func Reconstruct(
	id int64,
	userID, title string,
	status Status,
	messages []Message,
	ctx Context,
	createdAt, lastActivityAt time.Time,
	metadata map[string]string,
) Conversation {
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return Conversation{
		id:             id,
		userID:         userID,
		title:          title,
		status:         status,
		messages:       append([]Message(nil), messages...),
		context:        ctx,
		createdAt:      createdAt,
		lastActivityAt: lastActivityAt,
		metadata:       md,
	}
}

func (c Conversation) ID() int64               { return c.id }
func (c Conversation) UserID() string           { return c.userID }
func (c Conversation) Title() string            { return c.title }
func (c Conversation) Status() Status           { return c.status }
func (c Conversation) Context() Context         { return c.context }
func (c Conversation) CreatedAt() time.Time     { return c.createdAt }
func (c Conversation) LastActivityAt() time.Time { return c.lastActivityAt }

func (c Conversation) Messages() []Message {
	return append([]Message(nil), c.messages...)
}

func (c Conversation) Metadata() map[string]string {
	md := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		md[k] = v
	}
	return md
}

// WithID returns a copy with id set (used once after first persistence).
func (c Conversation) WithID(id int64) Conversation {
	c.id = id
	return c
}

// WithStatus returns a copy with status updated.
func (c Conversation) WithStatus(status Status) Conversation {
	c.status = status
	c.lastActivityAt = time.Now()
	return c
}

// WithContext returns a copy with context updated.
func (c Conversation) WithContext(ctx Context) Conversation {
	c.context = ctx
	return c
}

// CanAppend reports whether the conversation currently accepts new messages.
func (c Conversation) CanAppend() bool {
	return c.status == StatusActive
}

// WithAppendedMessage returns a copy with msg appended, updating
// lastActivityAt and the messageCount metadata field. It rejects the append
// if the conversation is not Active, or if msg's timestamp would violate
// the non-decreasing timestamp ordering invariant (§8).
func (c Conversation) WithAppendedMessage(msg Message) (Conversation, error) {
	if !c.CanAppend() {
		return Conversation{}, ErrNotActive
	}
	if len(c.messages) > 0 {
		last := c.messages[len(c.messages)-1]
		if msg.Timestamp().Before(last.Timestamp()) {
			return Conversation{}, ErrReorder
		}
	}
	c.messages = append(append([]Message(nil), c.messages...), msg)
	c.lastActivityAt = time.Now()
	md := make(map[string]string, len(c.metadata)+1)
	for k, v := range c.metadata {
		md[k] = v
	}
	md["messageCount"] = strconv.Itoa(len(c.messages))
	c.metadata = md
	return c, nil
}
