package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/archie-dev/archie/domain/llm"
)

// fakeAnthropicServer returns an httptest.Server that mimics the Anthropic
// messages endpoint, replying with a single text block built from
// responder(requestBody).
func fakeAnthropicServer(t *testing.T, responder func(body map[string]interface{}) string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		text := responder(body)
		resp := map[string]interface{}{
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"content":     []map[string]string{{"type": "text", "text": text}},
			"model":       "claude-test",
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 5},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestAnthropicModel(srv *httptest.Server) *AnthropicModel {
	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL))
	return NewAnthropicModel(p)
}

func TestAnthropicModel_ClassifyIntent(t *testing.T) {
	srv := fakeAnthropicServer(t, func(map[string]interface{}) string {
		return `{"type":"explain_code","domain":"auth","entities":["LoginHandler"],"confidence":0.85,"parameters":{}}`
	})
	defer srv.Close()

	m := newTestAnthropicModel(srv)
	intent, err := m.ClassifyIntent(context.Background(), "what does LoginHandler do?", "")
	require.NoError(t, err)
	require.Equal(t, "explain_code", intent.Type)
	require.Equal(t, "auth", intent.Domain)
	require.Equal(t, []string{"LoginHandler"}, intent.Entities)
	require.InDelta(t, 0.85, intent.Confidence, 1e-9)
}

func TestAnthropicModel_ClassifyIntent_ClampsConfidence(t *testing.T) {
	srv := fakeAnthropicServer(t, func(map[string]interface{}) string {
		return `{"type":"question","confidence":1.5}`
	})
	defer srv.Close()

	m := newTestAnthropicModel(srv)
	intent, err := m.ClassifyIntent(context.Background(), "q", "")
	require.NoError(t, err)
	require.Equal(t, 1.0, intent.Confidence)
}

func TestAnthropicModel_ClassifyIntent_MalformedJSONFallsBackToUnknown(t *testing.T) {
	srv := fakeAnthropicServer(t, func(map[string]interface{}) string {
		return "not json at all"
	})
	defer srv.Close()

	m := newTestAnthropicModel(srv)
	intent, err := m.ClassifyIntent(context.Background(), "q", "")
	require.NoError(t, err)
	require.Equal(t, "unknown", intent.Type)
	require.Equal(t, float64(0), intent.Confidence)
}

func TestAnthropicModel_Complete(t *testing.T) {
	srv := fakeAnthropicServer(t, func(map[string]interface{}) string {
		return `{"answer":"it validates credentials","confidence":0.92,"attachments":[{"type":"code","title":"LoginHandler","content":"func Login() {}","url":""}],"relatedQueries":["how is the session stored?"]}`
	})
	defer srv.Close()

	m := newTestAnthropicModel(srv)
	completion, err := m.Complete(context.Background(), "what does it do?", "some context", []llm.Message{
		{Role: "user", Content: "earlier question"},
	}, llm.Preferences{"tone": "concise"})
	require.NoError(t, err)
	require.Equal(t, "it validates credentials", completion.Answer)
	require.InDelta(t, 0.92, completion.Confidence, 1e-9)
	require.Len(t, completion.Attachments, 1)
	require.Equal(t, "LoginHandler", completion.Attachments[0].Title)
	require.Equal(t, []string{"how is the session stored?"}, completion.RelatedQueries)
}

func TestAnthropicModel_Complete_NonJSONFallsBackToRawAnswer(t *testing.T) {
	srv := fakeAnthropicServer(t, func(map[string]interface{}) string {
		return "plain prose answer, not JSON"
	})
	defer srv.Close()

	m := newTestAnthropicModel(srv)
	completion, err := m.Complete(context.Background(), "q", "", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "plain prose answer, not JSON", completion.Answer)
	require.InDelta(t, 0.5, completion.Confidence, 1e-9)
}

func TestAnthropicModel_SuggestFollowUps(t *testing.T) {
	srv := fakeAnthropicServer(t, func(map[string]interface{}) string {
		return `["what about error handling?", "how is this tested?", "is this cached?"]`
	})
	defer srv.Close()

	m := newTestAnthropicModel(srv)
	followUps, err := m.SuggestFollowUps(context.Background(), "q", "a", "", 2)
	require.NoError(t, err)
	require.Len(t, followUps, 2)
	require.Equal(t, "what about error handling?", followUps[0])
}

func TestAnthropicModel_SuggestFollowUps_ZeroCountSkipsCall(t *testing.T) {
	called := false
	srv := fakeAnthropicServer(t, func(map[string]interface{}) string {
		called = true
		return `[]`
	})
	defer srv.Close()

	m := newTestAnthropicModel(srv)
	followUps, err := m.SuggestFollowUps(context.Background(), "q", "a", "", 0)
	require.NoError(t, err)
	require.Nil(t, followUps)
	require.False(t, called, "SuggestFollowUps must not call the model when count <= 0")
}

func TestAnthropicModel_ClassifyIntent_PropagatesTransportError(t *testing.T) {
	p := NewAnthropicProvider("test-key",
		WithAnthropicBaseURL("http://127.0.0.1:0"),
		WithAnthropicMaxRetries(0),
	)
	m := NewAnthropicModel(p)

	_, err := m.ClassifyIntent(context.Background(), "q", "")
	require.Error(t, err)
}
