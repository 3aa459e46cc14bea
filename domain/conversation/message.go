package conversation

import "time"

// MessageType classifies who authored a Message.
type MessageType string

const (
	MessageUser   MessageType = "user"
	MessageAI     MessageType = "ai"
	MessageSystem MessageType = "system"
)

// Attachment is a structured artifact returned alongside an AI message
// (e.g. a code reference or a related document link).
type Attachment struct {
	Type    string
	Title   string
	Content string
	URL     string
}

// Message is a single turn in a Conversation. ParentMessageID, when set,
// names an earlier message in the same conversation (§3 invariant). Neither
// Message, Conversation.WithAppendedMessage nor QueryEngine checks that the
// named message exists.
type Message struct {
	id              int64
	conversationID  int64
	messageType     MessageType
	content         string
	attachments     []Attachment
	parentMessageID int64
	hasParent       bool
	timestamp       time.Time
	metadata        map[string]string
}

// NewMessage creates a Message with no parent.
func NewMessage(conversationID int64, messageType MessageType, content string, attachments []Attachment, metadata map[string]string) Message {
	return newMessage(conversationID, messageType, content, attachments, 0, false, metadata)
}

// NewReplyMessage creates a Message that replies to parentMessageID.
func NewReplyMessage(conversationID int64, messageType MessageType, content string, attachments []Attachment, parentMessageID int64, metadata map[string]string) Message {
	return newMessage(conversationID, messageType, content, attachments, parentMessageID, true, metadata)
}

func newMessage(conversationID int64, messageType MessageType, content string, attachments []Attachment, parentMessageID int64, hasParent bool, metadata map[string]string) Message {
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return Message{
		conversationID:  conversationID,
		messageType:     messageType,
		content:         content,
		attachments:     append([]Attachment(nil), attachments...),
		parentMessageID: parentMessageID,
		hasParent:       hasParent,
		timestamp:       time.Now(),
		metadata:        md,
	}
}

// ReconstructMessage rebuilds a Message from persistence.
func ReconstructMessage(
	id, conversationID int64,
	messageType MessageType,
	content string,
	attachments []Attachment,
	parentMessageID int64, hasParent bool,
	timestamp time.Time,
	metadata map[string]string,
) Message {
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return Message{
		id:              id,
		conversationID:  conversationID,
		messageType:     messageType,
		content:         content,
		attachments:     append([]Attachment(nil), attachments...),
		parentMessageID: parentMessageID,
		hasParent:       hasParent,
		timestamp:       timestamp,
		metadata:        md,
	}
}

func (m Message) ID() int64                      { return m.id }
func (m Message) ConversationID() int64           { return m.conversationID }
func (m Message) Type() MessageType               { return m.messageType }
func (m Message) Content() string                 { return m.content }
func (m Message) Timestamp() time.Time            { return m.timestamp }
func (m Message) Attachments() []Attachment       { return append([]Attachment(nil), m.attachments...) }
func (m Message) ParentMessageID() (int64, bool)  { return m.parentMessageID, m.hasParent }

func (m Message) Metadata() map[string]string {
	md := make(map[string]string, len(m.metadata))
	for k, v := range m.metadata {
		md[k] = v
	}
	return md
}

// WithID returns a copy with id set (used once after first persistence).
func (m Message) WithID(id int64) Message {
	m.id = id
	return m
}
