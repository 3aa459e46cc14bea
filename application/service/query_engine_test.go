package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/archie-dev/archie/domain/conversation"
	"github.com/archie-dev/archie/domain/event"
	"github.com/archie-dev/archie/domain/llm"
	"github.com/archie-dev/archie/domain/search"
)

// fakeConversationStore implements conversation.Store for testing.
type fakeConversationStore struct {
	mu            sync.Mutex
	conversations map[int64]conversation.Conversation
	saveErr       error
}

func newFakeConversationStore(cs ...conversation.Conversation) *fakeConversationStore {
	s := &fakeConversationStore{conversations: make(map[int64]conversation.Conversation)}
	for _, c := range cs {
		s.conversations[c.ID()] = c
	}
	return s
}

func (s *fakeConversationStore) Save(_ context.Context, c conversation.Conversation) (conversation.Conversation, error) {
	if s.saveErr != nil {
		return conversation.Conversation{}, s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID() == 0 {
		c = c.WithID(int64(len(s.conversations) + 1))
	}
	s.conversations[c.ID()] = c
	return c, nil
}

func (s *fakeConversationStore) GetByID(_ context.Context, id int64, userID string) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.UserID() != userID {
		return conversation.Conversation{}, errors.New("not found")
	}
	return c, nil
}

func (s *fakeConversationStore) GetByUserID(_ context.Context, _ string, _ *conversation.Status, _, _ int) ([]conversation.Conversation, error) {
	return nil, nil
}

func (s *fakeConversationStore) GetByRepositoryIDs(_ context.Context, _ []int64, _ string, _, _ int) ([]conversation.Conversation, error) {
	return nil, nil
}

func (s *fakeConversationStore) Search(_ context.Context, _, _ string, _ *conversation.Status, _, _ int) ([]conversation.Conversation, error) {
	return nil, nil
}

func (s *fakeConversationStore) Delete(_ context.Context, id int64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	return nil
}

// fakeQueryIndex implements search.Index for QueryEngine retrieval tests.
type fakeQueryIndex struct {
	byRepository map[int64]search.SearchResults
	searchErr    error
}

func (f *fakeQueryIndex) CreateIndex(_ context.Context) error { return nil }
func (f *fakeQueryIndex) DeleteIndex(_ context.Context) error { return nil }
func (f *fakeQueryIndex) UpsertDocuments(_ context.Context, _ []search.IndexedChunk) error {
	return nil
}
func (f *fakeQueryIndex) Search(_ context.Context, _ search.SearchQuery) (search.SearchResults, error) {
	return search.SearchResults{}, nil
}
func (f *fakeQueryIndex) SearchByRepository(_ context.Context, repositoryID int64, _ search.SearchQuery) (search.SearchResults, error) {
	if f.searchErr != nil {
		return search.SearchResults{}, f.searchErr
	}
	return f.byRepository[repositoryID], nil
}
func (f *fakeQueryIndex) DeleteByRepository(_ context.Context, _ int64) error { return nil }

// fakeLLMModel implements llm.Model for testing.
type fakeLLMModel struct {
	intent          llm.Intent
	intentErr       error
	completion      llm.Completion
	completeErr     error
	followUps       []string
	followUpErr     error
	lastContext     string
	lastHistory     []llm.Message
	lastPreferences llm.Preferences
}

func (m *fakeLLMModel) ClassifyIntent(_ context.Context, _ string, _ string) (llm.Intent, error) {
	if m.intentErr != nil {
		return llm.Intent{}, m.intentErr
	}
	if m.intent.Type == "" {
		return llm.Intent{Type: "question", Confidence: 1}, nil
	}
	return m.intent, nil
}

func (m *fakeLLMModel) Complete(_ context.Context, _ string, context string, history []llm.Message, preferences llm.Preferences) (llm.Completion, error) {
	m.lastContext = context
	m.lastHistory = history
	m.lastPreferences = preferences
	if m.completeErr != nil {
		return llm.Completion{}, m.completeErr
	}
	if m.completion.Answer == "" {
		return llm.Completion{Answer: "the answer", Confidence: 0.9}, nil
	}
	return m.completion, nil
}

func (m *fakeLLMModel) SuggestFollowUps(_ context.Context, _, _, _ string, _ int) ([]string, error) {
	if m.followUpErr != nil {
		return nil, m.followUpErr
	}
	return m.followUps, nil
}

func newActiveConversation(t *testing.T, id int64, userID string, ctx conversation.Context) conversation.Conversation {
	t.Helper()
	c := conversation.New(userID, "test conversation", ctx)
	return c.WithID(id)
}

func TestQueryEngine_ProcessQuery_Success(t *testing.T) {
	c := newActiveConversation(t, 1, "user-1", conversation.Context{RepositoryIDs: []int64{7}})
	convStore := newFakeConversationStore(c)
	doc := search.NewIndexedChunk("doc-1", 7, "main", "main.go", 0, "go", "package main", nil, nil)
	index := &fakeQueryIndex{byRepository: map[int64]search.SearchResults{
		7: {Results: []search.ScoredDocument{{Document: doc, Score: 0.8}}},
	}}
	model := &fakeLLMModel{}
	bus := &fakeBus{}

	e := NewQueryEngine(convStore, index, model, bus, discardLogger())

	resp, err := e.ProcessQuery(context.Background(), 1, "user-1", "what does main do?", true, 5, 0, false)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if resp.Answer != "the answer" {
		t.Errorf("Answer = %q, want %q", resp.Answer, "the answer")
	}
	if len(resp.Conversation.Messages()) != 2 {
		t.Fatalf("expected 2 messages appended (user + ai), got %d", len(resp.Conversation.Messages()))
	}
	if !strings.Contains(model.lastContext, "main.go") {
		t.Errorf("expected retrieved context to mention main.go, got %q", model.lastContext)
	}

	names := bus.names()
	if len(names) != 1 || names[0] != event.QueryProcessed {
		t.Errorf("expected a single QueryProcessed event, got %v", names)
	}
}

func TestQueryEngine_ProcessQuery_NotActiveConversation(t *testing.T) {
	c := newActiveConversation(t, 1, "user-1", conversation.Context{})
	c = c.WithStatus(conversation.StatusArchived)
	convStore := newFakeConversationStore(c)

	e := NewQueryEngine(convStore, &fakeQueryIndex{}, &fakeLLMModel{}, &fakeBus{}, discardLogger())

	if _, err := e.ProcessQuery(context.Background(), 1, "user-1", "hello", false, 0, 0, false); err == nil {
		t.Fatal("expected error for a non-active conversation")
	}
}

func TestQueryEngine_ProcessQuery_ClassifyIntentFailure_PublishesFailureEvent(t *testing.T) {
	c := newActiveConversation(t, 1, "user-1", conversation.Context{})
	convStore := newFakeConversationStore(c)
	model := &fakeLLMModel{intentErr: errors.New("model unavailable")}
	bus := &fakeBus{}

	e := NewQueryEngine(convStore, &fakeQueryIndex{}, model, bus, discardLogger())

	if _, err := e.ProcessQuery(context.Background(), 1, "user-1", "hello", false, 0, 0, false); err == nil {
		t.Fatal("expected error when intent classification fails")
	}

	names := bus.names()
	if len(names) != 1 || names[0] != event.QueryProcessingFailed {
		t.Errorf("expected a QueryProcessingFailed event, got %v", names)
	}
}

func TestQueryEngine_ProcessQuery_SkipsRetrievalWhenContextEmpty(t *testing.T) {
	c := newActiveConversation(t, 1, "user-1", conversation.Context{})
	convStore := newFakeConversationStore(c)
	index := &fakeQueryIndex{searchErr: errors.New("should never be called")}
	model := &fakeLLMModel{}

	e := NewQueryEngine(convStore, index, model, &fakeBus{}, discardLogger())

	if _, err := e.ProcessQuery(context.Background(), 1, "user-1", "hello", true, 5, 0, false); err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if model.lastContext != "" {
		t.Errorf("expected no retrieved context when conversation context is empty, got %q", model.lastContext)
	}
}

func TestQueryEngine_ProcessQuery_FollowUpFailureDoesNotFailTheQuery(t *testing.T) {
	c := newActiveConversation(t, 1, "user-1", conversation.Context{})
	convStore := newFakeConversationStore(c)
	model := &fakeLLMModel{followUpErr: errors.New("follow-up model unavailable")}

	e := NewQueryEngine(convStore, &fakeQueryIndex{}, model, &fakeBus{}, discardLogger())

	resp, err := e.ProcessQuery(context.Background(), 1, "user-1", "hello", false, 0, 0, false)
	if err != nil {
		t.Fatalf("expected follow-up failure to be non-fatal, got %v", err)
	}
	if len(resp.FollowUps) != 0 {
		t.Errorf("expected no follow-ups after a follow-up failure, got %v", resp.FollowUps)
	}
}

func TestQueryEngine_ProcessQuery_ReplyThreadsParentMessage(t *testing.T) {
	c := newActiveConversation(t, 1, "user-1", conversation.Context{})
	convStore := newFakeConversationStore(c)

	e := NewQueryEngine(convStore, &fakeQueryIndex{}, &fakeLLMModel{}, &fakeBus{}, discardLogger())

	resp, err := e.ProcessQuery(context.Background(), 1, "user-1", "follow-up question", false, 0, 42, true)
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	msgs := resp.Conversation.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	parentID, hasParent := msgs[0].ParentMessageID()
	if !hasParent || parentID != 42 {
		t.Errorf("expected user message to carry parent id 42, got %d hasParent=%v", parentID, hasParent)
	}
}

func TestQueryEngine_ProcessQuery_ConcurrentCallsOnDifferentConversationsDoNotBlock(t *testing.T) {
	c1 := newActiveConversation(t, 1, "user-1", conversation.Context{})
	c2 := newActiveConversation(t, 2, "user-1", conversation.Context{})
	convStore := newFakeConversationStore(c1, c2)

	e := NewQueryEngine(convStore, &fakeQueryIndex{}, &fakeLLMModel{}, &fakeBus{}, discardLogger())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = e.ProcessQuery(context.Background(), 1, "user-1", "q1", false, 0, 0, false)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = e.ProcessQuery(context.Background(), 2, "user-1", "q2", false, 0, 0, false)
	}()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("call %d: %v", i, err)
		}
	}
}
