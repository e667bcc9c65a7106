package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-relay/backend/internal/handler/chat"
	"github.com/zhouzirui/persona-relay/backend/internal/model/persona"
	"github.com/zhouzirui/persona-relay/backend/internal/service/ai/aitest"
	chatsvc "github.com/zhouzirui/persona-relay/backend/internal/service/chat"
	"github.com/zhouzirui/persona-relay/backend/internal/service/exchange"
	"github.com/zhouzirui/persona-relay/backend/internal/service/ratelimit"
	"github.com/zhouzirui/persona-relay/backend/internal/storage/memory"
)

func newTestRouter(t *testing.T, gw *aitest.Gateway) http.Handler {
	t.Helper()
	personas := persona.MustMemoryStore(persona.Seed())
	engine := exchange.New(exchange.Deps{
		Personas: personas,
		Gateway:  gw,
		Registry: chatsvc.NewRegistry(),
		Limiter:  ratelimit.New(ratelimit.DefaultConfig()),
		Store:    memory.New(),
	})
	return NewRouter(personas, engine, Options{AllowedOrigins: []string{"*"}})
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRootAndHealth(t *testing.T) {
	r := newTestRouter(t, aitest.New())

	rec := do(t, r, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "online", decode(t, rec)["status"])

	rec = do(t, r, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, r, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPersonasHideInstruction(t *testing.T) {
	r := newTestRouter(t, aitest.New())
	rec := do(t, r, http.MethodGet, "/api/personas", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Personas []map[string]any `json:"personas"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Personas, 4)
	assert.Equal(t, "1", body.Personas[0]["key"])
	assert.Equal(t, "Data Analyst Expert", body.Personas[0]["name"])
	assert.EqualValues(t, 40, body.Personas[0]["topK"])
	assert.NotContains(t, body.Personas[0], "instruction")
}

func TestChatFlow(t *testing.T) {
	r := newTestRouter(t, aitest.New(aitest.Stop("Hello there")))

	rec := do(t, r, http.MethodPost, "/api/chat/start", map[string]string{"personaKey": "1", "displayName": "Test"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	start := decode(t, rec)
	id := start["sessionId"].(string)
	assert.Equal(t, "Data Analyst Expert", start["persona"])
	assert.Equal(t, "Test", start["sessionName"])

	rec = do(t, r, http.MethodPost, "/api/chat/send", map[string]string{"sessionId": id, "message": "Hi"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, fmt.Sprintf(`{"sessionId":%q,"outcome":"success","text":"Hello there"}`, id), rec.Body.String())

	rec = do(t, r, http.MethodGet, "/api/chat/history?sessionId="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		History []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist.History, 2)
	assert.Equal(t, "user", hist.History[0].Role)
	assert.Equal(t, "Hello there", hist.History[1].Content)

	rec = do(t, r, http.MethodPost, "/api/chat/save", map[string]string{"sessionId": id})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	convID := decode(t, rec)["conversationId"]

	rec = do(t, r, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["conversations"], 1)

	rec = do(t, r, http.MethodGet, fmt.Sprintf("/api/conversations/%v", convID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode(t, rec)
	assert.Equal(t, "Test", conv["sessionName"])
	assert.Len(t, conv["messages"], 2)

	rec = do(t, r, http.MethodGet, "/api/chat/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["sessions"], 1)
}

func TestErrorStatuses(t *testing.T) {
	r := newTestRouter(t, aitest.New(aitest.Fail("upstream down")))

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"invalid persona", http.MethodPost, "/api/chat/start", map[string]string{"personaKey": "x", "sessionName": "n"}, http.StatusBadRequest, "INVALID_PERSONA"},
		{"missing name", http.MethodPost, "/api/chat/start", map[string]string{"personaKey": "1"}, http.StatusBadRequest, "MISSING_SESSION_NAME"},
		{"no active chat", http.MethodPost, "/api/chat/send", map[string]string{"message": "hi"}, http.StatusBadRequest, "NO_ACTIVE_CHAT"},
		{"unknown session", http.MethodPost, "/api/chat/send", map[string]string{"sessionId": "nope", "message": "hi"}, http.StatusNotFound, "UNKNOWN_SESSION"},
		{"unknown history", http.MethodGet, "/api/chat/history?sessionId=nope", nil, http.StatusNotFound, "UNKNOWN_SESSION"},
		{"nothing to save", http.MethodPost, "/api/chat/save", nil, http.StatusBadRequest, "NOTHING_TO_SAVE"},
		{"bad conversation id", http.MethodGet, "/api/conversations/abc", nil, http.StatusNotFound, "CONVERSATION_NOT_FOUND"},
		{"missing conversation", http.MethodGet, "/api/conversations/7", nil, http.StatusNotFound, "CONVERSATION_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode(t, rec)["code"])
		})
	}

	// Provider failure: the user turn stays and the send reports 502.
	rec := do(t, r, http.MethodPost, "/api/chat/start", map[string]string{"personaKey": "2", "sessionName": "s"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, r, http.MethodPost, "/api/chat/send", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "SEND_EXCEPTION", body["code"])
	assert.Equal(t, "provider_error", body["outcome"])
	assert.Equal(t, "upstream down", body["error"])

	rec = do(t, r, http.MethodGet, "/api/chat/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["history"], 1)
}

func TestStartRateLimitedPerClient(t *testing.T) {
	r := newTestRouter(t, aitest.New())
	body := map[string]string{"personaKey": "3", "sessionName": "n"}

	for i := 0; i < ratelimit.DefaultStartLimit; i++ {
		rec := do(t, r, http.MethodPost, "/api/chat/start", body, "X-Client-ID", "tab-1")
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, strconv.Itoa(ratelimit.DefaultStartLimit-i-1), rec.Header().Get(chat.RemainingHeader))
	}
	rec := do(t, r, http.MethodPost, "/api/chat/start", body, "X-Client-ID", "tab-1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get(chat.RemainingHeader))
	assert.Equal(t, "RATE_LIMITED", decode(t, rec)["code"])

	rec = do(t, r, http.MethodPost, "/api/chat/start", body, "X-Client-ID", "tab-2")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, strconv.Itoa(ratelimit.DefaultStartLimit-1), rec.Header().Get(chat.RemainingHeader))
}
