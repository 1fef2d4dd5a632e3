package api

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	chromem "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/pkg/agent"
	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/config"
	"github.com/helmsman-ai/helmsman/pkg/kb"
	"github.com/helmsman-ai/helmsman/pkg/memory"
	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/trace"
)

// fakeChat scripts the chat service.
type fakeChat struct {
	resp      models.ChatResponse
	err       error
	cancelled []string
	rated     map[string]float64
}

func (f *fakeChat) Chat(_ context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	if f.err != nil {
		return models.ChatResponse{}, f.err
	}
	resp := f.resp
	if resp.SessionID == "" {
		resp.SessionID = req.SessionID
	}
	return resp, nil
}

func (f *fakeChat) StartChat(_ context.Context, req models.ChatRequest) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "s-new"
	}
	return sessionID, "t-1", nil
}

func (f *fakeChat) CancelTask(taskUID string) bool {
	f.cancelled = append(f.cancelled, taskUID)
	return true
}

func (f *fakeChat) ActiveTasks() int { return 0 }

func (f *fakeChat) RateEpisode(_ context.Context, id string, rating float64) error {
	if f.rated == nil {
		f.rated = map[string]float64{}
	}
	f.rated[id] = rating
	return nil
}

// fakeStore serves sessions from memory.
type fakeStore struct {
	sessions map[string]models.Session
	turns    map[string][]models.TurnDetail
	cleared  []string
	healthy  bool
}

func (f *fakeStore) GetSession(_ context.Context, id string) (models.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return models.Session{}, apperr.Wrap(apperr.CodeNotFound, apperr.ErrNotFound, "session %s", id)
	}
	return s, nil
}

func (f *fakeStore) GetTurnDetails(_ context.Context, id string) ([]models.TurnDetail, error) {
	return f.turns[id], nil
}

func (f *fakeStore) ClearSession(_ context.Context, id string) error {
	f.cleared = append(f.cleared, id)
	return nil
}

func (f *fakeStore) Health(context.Context) error {
	if !f.healthy {
		return apperr.New(apperr.CodeInternal, "database unreachable")
	}
	return nil
}

func fakeEmbedding(_ context.Context, text string) ([]float32, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()
	vec := make([]float32, 8)
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000)/1000.0 - 0.5
	}
	return vec, nil
}

type echoAgent struct{}

func (echoAgent) Name() string           { return "echo" }
func (echoAgent) Role() string           { return "test echo" }
func (echoAgent) Capabilities() []string { return []string{"echo"} }
func (echoAgent) Handle(_ context.Context, tc agent.TaskContext) (agent.Result, error) {
	return agent.Result{Content: "echo: " + tc.Query}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeChat, *fakeStore) {
	t.Helper()

	kbStore, err := kb.NewWithEmbedding("", chromem.EmbeddingFunc(fakeEmbedding))
	require.NoError(t, err)

	registry := agent.NewRegistry(agent.NewGate(2, 4), nil)
	registry.Register(echoAgent{})

	chat := &fakeChat{resp: models.ChatResponse{
		TaskUID:  "t-1",
		Response: "the answer",
		Sources:  []models.Source{},
		Quality:  &models.QualityReport{Overall: 0.9, Passed: true},
	}}
	store := &fakeStore{
		sessions: map[string]models.Session{"s-1": {SessionID: "s-1", UserID: "u1"}},
		turns: map[string][]models.TurnDetail{
			"s-1": {{Turn: models.Turn{Role: models.RoleUser, Content: "hi"}}},
		},
		healthy: true,
	}

	cfg := &config.Config{Auth: config.AuthConfig{
		AdminUser: "root", AdminPassword: "secret",
		GuestUser: "guest", GuestPassword: "guestpw",
	}}
	return NewServer(cfg, store, kbStore, trace.NewRing(100), registry, chat, nil, nil), chat, store
}

// do runs one request through the full router.
func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthHandler(t *testing.T) {
	s, _, store := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "uptime_s")

	t.Run("database down", func(t *testing.T) {
		store.healthy = false
		rec := do(t, s, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "unhealthy", decode(t, rec)["status"])
	})
}

func TestManifestHandler(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "helmsman", body["name"])
	assert.NotEmpty(t, body["endpoints"])
}

func TestLoginHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantRole string
	}{
		{"admin", `{"username":"root","password":"secret"}`, http.StatusOK, "admin"},
		{"guest", `{"username":"guest","password":"guestpw"}`, http.StatusOK, "guest"},
		{"wrong password", `{"username":"root","password":"nope"}`, http.StatusUnauthorized, ""},
		{"unknown user", `{"username":"eve","password":"secret"}`, http.StatusUnauthorized, ""},
		{"missing fields", `{"username":"root"}`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/auth/login", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantRole != "" {
				assert.Equal(t, tt.wantRole, decode(t, rec)["role"])
			}
		})
	}

	t.Run("guest-only mode refuses admin", func(t *testing.T) {
		s, _, _ := newTestServer(t)
		s.cfg.Auth.AdminUser, s.cfg.Auth.AdminPassword = "", ""
		rec := do(t, s, http.MethodPost, "/auth/login", `{"username":"root","password":"secret"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestSendChatHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	t.Run("async returns a task handle", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/chat/send", `{"message":"hello","session_id":"s-1"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "t-1", body["task_uid"])
		assert.Equal(t, "s-1", body["session_id"])
		assert.NotContains(t, body, "response")
	})

	t.Run("sync returns the answer", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/chat/send", `{"message":"hello","options":{"async":false}}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "the answer", decode(t, rec)["response"])
	})

	t.Run("empty message is rejected", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/chat/send", `{"message":""}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(apperr.CodeInvalidRequest), decode(t, rec)["code"])
	})

	t.Run("quota errors map to 429", func(t *testing.T) {
		s, chat, _ := newTestServer(t)
		chat.err = apperr.New(apperr.CodeQuotaExceeded, "saturated")
		rec := do(t, s, http.MethodPost, "/chat/send", `{"message":"hello"}`)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, string(apperr.CodeQuotaExceeded), decode(t, rec)["code"])
	})
}

func TestSessionHandlers(t *testing.T) {
	s, _, store := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/chat/session/s-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body, "session")
	assert.Contains(t, body, "turns")

	t.Run("unknown session is 404", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/chat/session/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("clear", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/chat/session/s-1/clear", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"s-1"}, store.cleared)
	})
}

func TestRAGHandlers(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/rag/databases",
		`{"name":"docs","description":"Documentation","skills":{"display_name":"Docs","keywords":["api"]}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, s, http.MethodGet, "/rag/databases", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["databases"], 1)

	rec = do(t, s, http.MethodPost, "/rag/databases/smart-insert",
		`{"content":"how to call the api endpoint","title":"API guide"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "docs", body["database"])
	assert.NotEmpty(t, body["inserted_id"])

	rec = do(t, s, http.MethodPost, "/rag/databases/query",
		`{"database":"docs","query":"api endpoint","n_results":3}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPost, "/rag/databases/suggest-target",
		`{"content":"api reference for the service"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "docs", decode(t, rec)["database"])

	t.Run("query unknown database is 404", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/rag/databases/query", `{"database":"nope","query":"x"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := do(t, s, http.MethodDelete, "/rag/databases/docs", "")
		require.Equal(t, http.StatusOK, rec.Code)
		rec = do(t, s, http.MethodDelete, "/rag/databases/docs", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAgentHandlers(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/agents/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["agents"], 1)

	rec = do(t, s, http.MethodPost, "/agents/task", `{"agent":"echo","message":"ping"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "echo: ping", decode(t, rec)["content"])

	t.Run("stopped agent refuses work", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/agents/echo/stop", "")
		require.Equal(t, http.StatusOK, rec.Code)

		rec = do(t, s, http.MethodPost, "/agents/task", `{"agent":"echo","message":"ping"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		rec = do(t, s, http.MethodPost, "/agents/echo/start", "")
		require.Equal(t, http.StatusOK, rec.Code)
		rec = do(t, s, http.MethodPost, "/agents/task", `{"agent":"echo","message":"ping"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown agent is 503", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/agents/task", `{"agent":"ghost","message":"x"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, string(apperr.CodeAgentUnavailable), decode(t, rec)["code"])
	})
}

func TestDebugHandlers(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.ring.Record(models.DebugTrace{SessionID: "s-1", TaskUID: "t-1", TraceType: models.TraceRouting, Content: "route"})
	s.ring.Record(models.DebugTrace{SessionID: "s-2", TaskUID: "t-2", TraceType: models.TraceThinking, Content: "think"})

	rec := do(t, s, http.MethodGet, "/agents/debug/traces?session_id=s-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = do(t, s, http.MethodGet, "/agents/debug/traces/recent?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = do(t, s, http.MethodGet, "/agents/debug/task/t-2/flow", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["flow"], 1)

	t.Run("invalid limit", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/agents/debug/traces/recent?limit=banana", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRateHandler(t *testing.T) {
	s, chat, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/chat/rate", `{"episode_id":"ep-1","rating":0.8}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.8, chat.rated["ep-1"])
}

func TestContextHandlerCrossSessionFlag(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.memory = memory.NewManager(nil, nil, nil, nil, nil)

	rec := do(t, s, http.MethodGet, "/memory/context/u1?query=hello&include_cross_session_episodes=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec), "context")

	t.Run("non-boolean flag is rejected", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/memory/context/u1?query=hello&include_cross_session_episodes=maybe", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
