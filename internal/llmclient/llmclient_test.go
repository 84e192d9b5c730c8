package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemantsathish/conversation-insights-backend/internal/breaker"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New(Config{
		APIKey:         "test-key",
		BaseURL:        srv.URL,
		Model:          "grok-4-latest",
		TimeoutSeconds: 5,
		MaxRetries:     2,
	}, breaker.New(5, time.Minute), nil)
	c.sleep = func(time.Duration) {}
	return c, srv
}

func TestAnalyzeSuccess(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"sentiment":"negative","topics":["billing"],"gaps":["slow response"],"summary":"customer unhappy"}`}},
			},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
		})
	})
	defer srv.Close()

	res := c.Analyze(context.Background(), "thread text")
	require.Empty(t, res.Error)
	assert.Equal(t, "negative", res.Insight["sentiment"])
	assert.Equal(t, 10, res.PromptTokens)
}

func TestAnalyzeMissingAPIKey(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not be called")
	})
	defer srv.Close()
	c.cfg.APIKey = ""

	res := c.Analyze(context.Background(), "thread text")
	assert.Equal(t, "GROK_API_KEY not set", res.Error)
}

func TestAnalyzeCircuitOpenShortCircuits(t *testing.T) {
	calls := 0
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()
	c.breaker = breaker.New(1, time.Hour)
	c.breaker.RecordFailure()

	res := c.Analyze(context.Background(), "thread text")
	assert.Equal(t, "circuit_open", res.Error)
	assert.Equal(t, 0, calls)
}

func TestAnalyzeNon200ReturnsHTTPStatusError(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()
	c.breaker = breaker.New(1, time.Hour)

	res := c.Analyze(context.Background(), "thread text")
	assert.Equal(t, "http_500", res.Error)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, breaker.StateOpen, c.breaker.CurrentState())
}

func TestAnalyzeRetriesOn429ThenSucceeds(t *testing.T) {
	attempts := 0
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "{}"}}},
		})
	})
	defer srv.Close()

	res := c.Analyze(context.Background(), "thread text")
	require.Empty(t, res.Error)
	assert.Equal(t, 2, attempts)
}

func TestParseInsightJSONStripsFence(t *testing.T) {
	out := parseInsightJSON("```json\n{\"sentiment\":\"neutral\"}\n```")
	assert.Equal(t, "neutral", out["sentiment"])
}

func TestParseInsightJSONInvalidReturnsRawMarker(t *testing.T) {
	out := parseInsightJSON("not json at all")
	assert.Equal(t, true, out["parse_error"])
	assert.Equal(t, "not json at all", out["raw"])
}

func TestParseInsightJSONEmptyReturnsEmptyMap(t *testing.T) {
	out := parseInsightJSON("   ")
	assert.Empty(t, out)
}
