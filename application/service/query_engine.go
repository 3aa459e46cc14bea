package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/archie-dev/archie/domain/conversation"
	"github.com/archie-dev/archie/domain/event"
	"github.com/archie-dev/archie/domain/llm"
	"github.com/archie-dev/archie/domain/search"
	"github.com/archie-dev/archie/internal/apperr"
	"github.com/archie-dev/archie/internal/config"
)

// QueryResponse is the result of processQuery (§4.5).
type QueryResponse struct {
	Conversation   conversation.Conversation
	Answer         string
	Confidence     float64
	Attachments    []conversation.Attachment
	RelatedQueries []string
	FollowUps      []string
}

// QueryEngine implements §4.5: classify, retrieve, answer, and persist a
// single conversational turn. Retrieval composes search.Index (hybrid
// BM25+vector) and the graph builder's stored entities are intentionally
// not consulted here — §4.5's pipeline names SearchIndex as the only
// retrieval source; graph-aware retrieval is left to a future
// QueryEngine revision, not invented here.
type QueryEngine struct {
	conversations conversation.Store
	index         search.Index
	model         llm.Model
	bus           event.Bus
	logger        *slog.Logger

	maxContextItemsCap int
	recencyLimit       int
	followUpCount      int

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewQueryEngine creates a QueryEngine.
func NewQueryEngine(conversations conversation.Store, index search.Index, model llm.Model, bus event.Bus, logger *slog.Logger) *QueryEngine {
	return &QueryEngine{
		conversations:      conversations,
		index:              index,
		model:              model,
		bus:                bus,
		logger:             logger,
		maxContextItemsCap: config.DefaultMaxContextItems,
		recencyLimit:       config.DefaultRecencyMessageLimit,
		followUpCount:      config.DefaultFollowUpCount,
		locks:              make(map[int64]*sync.Mutex),
	}
}

// ProcessQuery runs processQuery(conversationId, userId, query,
// includeContext, maxContextItems, parentMessageId?) (§4.5). Concurrent
// calls against the same conversationID are serialized by a per-
// conversation mutex (§5); calls against different conversations run
// fully in parallel.
func (e *QueryEngine) ProcessQuery(ctx context.Context, conversationID int64, userID, query string, includeContext bool, maxContextItems int, parentMessageID int64, hasParent bool) (QueryResponse, error) {
	lock := e.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	c, err := e.conversations.GetByID(ctx, conversationID, userID)
	if err != nil {
		return QueryResponse{}, fmt.Errorf("load conversation: %w", err)
	}
	if !c.CanAppend() {
		return QueryResponse{}, apperr.InvalidStatef("conversation %d does not accept new messages", conversationID)
	}

	intent, err := e.model.ClassifyIntent(ctx, query, intentContext(c))
	if err != nil {
		e.fail(ctx, conversationID, err)
		return QueryResponse{}, fmt.Errorf("classify intent: %w", err)
	}

	var retrievedText string
	if maxContextItems <= 0 || maxContextItems > e.maxContextItemsCap {
		maxContextItems = e.maxContextItemsCap
	}
	if includeContext && !c.Context().IsEmpty() {
		retrievedText, err = e.retrieve(ctx, c, query, maxContextItems)
		if err != nil {
			e.fail(ctx, conversationID, err)
			return QueryResponse{}, fmt.Errorf("retrieve context: %w", err)
		}
	}

	history := recencyHistory(c, e.recencyLimit)

	preferences := llm.Preferences(c.Context().Preferences)
	completion, err := e.model.Complete(ctx, query, retrievedText, history, preferences)
	if err != nil {
		e.fail(ctx, conversationID, err)
		return QueryResponse{}, fmt.Errorf("complete: %w", err)
	}

	followUps, err := e.model.SuggestFollowUps(ctx, query, completion.Answer, retrievedText, e.followUpCount)
	if err != nil {
		e.logger.Warn("follow-up generation failed, continuing without follow-ups",
			slog.Int64("conversation_id", conversationID), slog.String("error", err.Error()))
	}

	nextID := nextMessageID(c)
	var userMsg conversation.Message
	if hasParent {
		userMsg = conversation.NewReplyMessage(conversationID, conversation.MessageUser, query, nil, parentMessageID, nil).WithID(nextID)
	} else {
		userMsg = conversation.NewMessage(conversationID, conversation.MessageUser, query, nil, nil).WithID(nextID)
	}
	c, err = c.WithAppendedMessage(userMsg)
	if err != nil {
		e.fail(ctx, conversationID, err)
		return QueryResponse{}, fmt.Errorf("append user message: %w", err)
	}

	responseTime := time.Since(start)
	attachments := make([]conversation.Attachment, len(completion.Attachments))
	for i, a := range completion.Attachments {
		attachments[i] = conversation.Attachment{Type: a.Type, Title: a.Title, Content: a.Content, URL: a.URL}
	}
	aiMetadata := map[string]string{
		"wordCount":    fmt.Sprintf("%d", len(strings.Fields(completion.Answer))),
		"responseTime": responseTime.String(),
		"confidence":   fmt.Sprintf("%.4f", completion.Confidence),
		"intentType":   intent.Type,
	}
	aiMsg := conversation.NewReplyMessage(conversationID, conversation.MessageAI, completion.Answer, attachments, userMsg.ID(), aiMetadata).
		WithID(nextMessageID(c))

	c, err = c.WithAppendedMessage(aiMsg)
	if err != nil {
		e.fail(ctx, conversationID, err)
		return QueryResponse{}, fmt.Errorf("append ai message: %w", err)
	}

	// Save is performed under a non-cancellable scope once both messages
	// have been fully constructed (§4.5 cancellation guarantee): caller
	// cancellation must never leave a partially persisted turn.
	saved, err := e.conversations.Save(context.WithoutCancel(ctx), c)
	if err != nil {
		return QueryResponse{}, fmt.Errorf("save conversation: %w", err)
	}

	e.bus.Publish(ctx, event.Event{Name: event.QueryProcessed, ConversationID: conversationID})

	return QueryResponse{
		Conversation:   saved,
		Answer:         completion.Answer,
		Confidence:     completion.Confidence,
		Attachments:    attachments,
		RelatedQueries: completion.RelatedQueries,
		FollowUps:      followUps,
	}, nil
}

func (e *QueryEngine) fail(ctx context.Context, conversationID int64, cause error) {
	e.bus.Publish(ctx, event.Event{Name: event.QueryProcessingFailed, ConversationID: conversationID, Err: cause})
}

// retrieve runs hybrid search across every repository in the conversation's
// context and merges the per-repository result sets by score. search.Index
// filters by a single sourceRepo at a time (domain/search.Filters has no
// multi-repository equality filter), so a context with several
// repositoryIds issues one SearchByRepository call per ID rather than a
// single multi-repo query.
func (e *QueryEngine) retrieve(ctx context.Context, c conversation.Conversation, query string, maxContextItems int) (string, error) {
	repositoryIDs := c.Context().RepositoryIDs
	var all []search.ScoredDocument

	for _, repositoryID := range repositoryIDs {
		results, err := e.index.SearchByRepository(ctx, repositoryID, search.SearchQuery{
			Text:  query,
			Type:  search.TypeHybrid,
			Limit: maxContextItems,
		})
		if err != nil {
			return "", fmt.Errorf("search repository %d: %w", repositoryID, err)
		}
		all = append(all, results.Results...)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > maxContextItems {
		all = all[:maxContextItems]
	}

	var b strings.Builder
	for _, sd := range all {
		fmt.Fprintf(&b, "# %s (%s)\n%s\n\n", sd.Document.Path(), sd.Document.Language(), sd.Document.Content())
	}
	return b.String(), nil
}

func intentContext(c conversation.Conversation) string {
	ctx := c.Context()
	if ctx.Domain == "" && len(ctx.TechnicalTags) == 0 {
		return ""
	}
	return fmt.Sprintf("domain=%s tags=%s", ctx.Domain, strings.Join(ctx.TechnicalTags, ","))
}

// recencyHistory selects the last K<=limit messages as recency context
// (§4.5 step 4).
func recencyHistory(c conversation.Conversation, limit int) []llm.Message {
	messages := c.Messages()
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	out := make([]llm.Message, len(messages))
	for i, m := range messages {
		role := "user"
		switch m.Type() {
		case conversation.MessageAI:
			role = "assistant"
		case conversation.MessageSystem:
			role = "system"
		}
		out[i] = llm.Message{Role: role, Content: m.Content()}
	}
	return out
}

// nextMessageID assigns the next per-conversation sequence number; message
// IDs are local to a conversation (the message log is embedded, not a
// separately-keyed table, see infrastructure/persistence/conversation_store.go),
// so a simple incrementing counter is sufficient to keep ParentMessageID
// references valid within the conversation.
func nextMessageID(c conversation.Conversation) int64 {
	return int64(len(c.Messages())) + 1
}

func (e *QueryEngine) conversationLock(conversationID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[conversationID] = lock
	}
	return lock
}
