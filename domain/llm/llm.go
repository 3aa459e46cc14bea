// Package llm defines the LLM boundary contract (§6): prompt/history in,
// answer with optional structured attachments out. Transport is out of
// scope for the core; infrastructure/provider supplies a concrete
// implementation.
package llm

import "context"

// Intent is the result of classifyIntent.
type Intent struct {
	Type       string
	Domain     string
	Entities   []string
	Confidence float64
	Parameters map[string]string
}

// Message is one turn of recency history passed to Complete.
type Message struct {
	Role    string // "user", "assistant", or "system"
	Content string
}

// Attachment mirrors conversation.Attachment at the LLM boundary so this
// package does not import the conversation package (kept acyclic; the
// QueryEngine translates between the two).
type Attachment struct {
	Type    string
	Title   string
	Content string
	URL     string
}

// Completion is the result of Complete.
type Completion struct {
	Answer         string
	Confidence     float64
	Attachments    []Attachment
	RelatedQueries []string
}

// Preferences carries caller-side hints (tone, verbosity, ...) through to
// the model; left as an opaque string map since the core does not
// interpret individual keys.
type Preferences map[string]string

// Model is the boundary contract §6 names.
type Model interface {
	ClassifyIntent(ctx context.Context, query string, context string) (Intent, error)
	Complete(ctx context.Context, query string, context string, history []Message, preferences Preferences) (Completion, error)
	SuggestFollowUps(ctx context.Context, query, answer, context string, count int) ([]string, error)
}
