package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/archie-dev/archie/domain/llm"
)

// AnthropicModel adapts AnthropicProvider's ChatCompletion to the
// domain/llm.Model boundary (§6). Intent classification and follow-up
// generation are both implemented as single ChatCompletion calls that
// instruct Claude to answer with a JSON object only, then parse that JSON
// back into the domain shape — the same "ask for JSON, decode it"
// contract Complete itself uses for attachments/relatedQueries.
type AnthropicModel struct {
	provider *AnthropicProvider
}

// NewAnthropicModel wraps an AnthropicProvider as a domain/llm.Model.
func NewAnthropicModel(p *AnthropicProvider) *AnthropicModel {
	return &AnthropicModel{provider: p}
}

type intentJSON struct {
	Type       string            `json:"type"`
	Domain     string            `json:"domain"`
	Entities   []string          `json:"entities"`
	Confidence float64           `json:"confidence"`
	Parameters map[string]string `json:"parameters"`
}

// ClassifyIntent asks Claude to classify the query and return a score in
// [0,1] (§4.5 step 2 requires the classifier return a confidence score).
func (a *AnthropicModel) ClassifyIntent(ctx context.Context, query string, context string) (llm.Intent, error) {
	prompt := fmt.Sprintf(
		"Classify the intent of this query about a code repository.\n\nQuery: %s\n\nRelevant context:\n%s\n\n"+
			"Respond with ONLY a JSON object of the form "+
			`{"type":"...","domain":"...","entities":["..."],"confidence":0.0,"parameters":{}}`+
			" with no other text. confidence must be a number between 0 and 1.",
		query, context,
	)

	resp, err := a.provider.ChatCompletion(ctx, NewChatCompletionRequest([]Message{
		SystemMessage("You are an intent classifier for a code knowledge assistant. Reply with JSON only."),
		UserMessage(prompt),
	}))
	if err != nil {
		return llm.Intent{}, fmt.Errorf("classify intent: %w", err)
	}

	var parsed intentJSON
	if err := json.Unmarshal([]byte(extractJSON(resp.Content())), &parsed); err != nil {
		return llm.Intent{Type: "unknown", Confidence: 0}, nil
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return llm.Intent{
		Type:       parsed.Type,
		Domain:     parsed.Domain,
		Entities:   parsed.Entities,
		Confidence: confidence,
		Parameters: parsed.Parameters,
	}, nil
}

type completionJSON struct {
	Answer         string           `json:"answer"`
	Confidence     float64          `json:"confidence"`
	Attachments    []attachmentJSON `json:"attachments"`
	RelatedQueries []string         `json:"relatedQueries"`
}

type attachmentJSON struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// Complete invokes Claude with the query, retrieved context, recency
// history, and preferences, returning an answer with confidence and
// attachments (§4.5 step 5).
func (a *AnthropicModel) Complete(ctx context.Context, query string, context string, history []llm.Message, preferences llm.Preferences) (llm.Completion, error) {
	messages := []Message{SystemMessage(completeSystemPrompt(preferences))}
	for _, h := range history {
		role := h.Role
		if role != "user" && role != "assistant" && role != "system" {
			role = "user"
		}
		messages = append(messages, NewMessage(role, h.Content))
	}
	messages = append(messages, UserMessage(fmt.Sprintf(
		"Relevant context:\n%s\n\nQuestion: %s\n\n"+
			"Respond with ONLY a JSON object of the form "+
			`{"answer":"...","confidence":0.0,"attachments":[{"type":"...","title":"...","content":"...","url":"..."}],"relatedQueries":["..."]}`+
			" with no other text.",
		context, query,
	)))

	resp, err := a.provider.ChatCompletion(ctx, NewChatCompletionRequest(messages))
	if err != nil {
		return llm.Completion{}, fmt.Errorf("complete: %w", err)
	}

	var parsed completionJSON
	if err := json.Unmarshal([]byte(extractJSON(resp.Content())), &parsed); err != nil {
		// Fall back to the raw text as the answer rather than failing the
		// whole query when the model didn't return valid JSON.
		return llm.Completion{Answer: resp.Content(), Confidence: 0.5}, nil
	}

	attachments := make([]llm.Attachment, len(parsed.Attachments))
	for i, att := range parsed.Attachments {
		attachments[i] = llm.Attachment{Type: att.Type, Title: att.Title, Content: att.Content, URL: att.URL}
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return llm.Completion{
		Answer:         parsed.Answer,
		Confidence:     confidence,
		Attachments:    attachments,
		RelatedQueries: parsed.RelatedQueries,
	}, nil
}

// SuggestFollowUps asks Claude for up to count follow-up questions (§4.5
// step 6).
func (a *AnthropicModel) SuggestFollowUps(ctx context.Context, query, answer, context string, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	prompt := fmt.Sprintf(
		"Given this question and answer about a code repository, suggest up to %d natural follow-up "+
			"questions a developer might ask next.\n\nQuestion: %s\n\nAnswer: %s\n\nContext:\n%s\n\n"+
			`Respond with ONLY a JSON array of strings, e.g. ["...", "..."], with no other text.`,
		count, query, answer, context,
	)

	resp, err := a.provider.ChatCompletion(ctx, NewChatCompletionRequest([]Message{
		SystemMessage("You suggest concise follow-up questions. Reply with a JSON array only."),
		UserMessage(prompt),
	}))
	if err != nil {
		return nil, fmt.Errorf("suggest follow ups: %w", err)
	}

	var followUps []string
	if err := json.Unmarshal([]byte(extractJSON(resp.Content())), &followUps); err != nil {
		return nil, nil
	}
	if len(followUps) > count {
		followUps = followUps[:count]
	}
	return followUps, nil
}

func completeSystemPrompt(preferences llm.Preferences) string {
	base := "You are a knowledgeable assistant answering questions about a code repository using the retrieved context provided. Reply with JSON only."
	if tone, ok := preferences["tone"]; ok && tone != "" {
		base += " Adopt a " + tone + " tone."
	}
	if verbosity, ok := preferences["verbosity"]; ok && verbosity != "" {
		base += " Be " + verbosity + "."
	}
	return base
}

// extractJSON trims leading/trailing prose a model sometimes adds around
// the requested JSON object or array despite being asked for JSON only, by
// slicing from the first '{' or '[' to the matching last '}' or ']'.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	end := strings.LastIndexAny(s, "}]")
	if end < start {
		return s
	}
	return s[start : end+1]
}

var _ llm.Model = (*AnthropicModel)(nil)
