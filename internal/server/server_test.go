package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madoguchi-ai/madoguchi/internal/auth"
	"github.com/madoguchi-ai/madoguchi/internal/billing"
	"github.com/madoguchi-ai/madoguchi/internal/dispatch"
	"github.com/madoguchi-ai/madoguchi/internal/engine"
	"github.com/madoguchi-ai/madoguchi/internal/gate"
	"github.com/madoguchi-ai/madoguchi/internal/model"
	"github.com/madoguchi-ai/madoguchi/internal/ratelimit"
	"github.com/madoguchi-ai/madoguchi/internal/session"
	"github.com/madoguchi-ai/madoguchi/internal/testutil"
)

type testServerOpts struct {
	apiKeyHash string
	limiter    ratelimit.Limiter
	index      *testutil.FakeIndex
	classifier *testutil.FakeClassifier
}

func newTestServer(t *testing.T, opts testServerOpts) (*Server, session.Store) {
	t.Helper()

	if opts.classifier == nil {
		opts.classifier = &testutil.FakeClassifier{
			Fallback: model.ClassificationResult{Category: model.CategoryTechnical, Confidence: 0.9, Rationale: "tech"},
		}
	}
	if opts.index == nil {
		opts.index = &testutil.FakeIndex{Candidates: []model.RetrievalCandidate{
			{ID: "1", SectionKey: "g#a", RelevanceScore: 0.8, Text: "step a", Metadata: model.ChunkMetadata{Title: "G", Section: "a", Source: "kb/g.md"}},
			{ID: "2", SectionKey: "g#b", RelevanceScore: 0.8, Text: "step b", Metadata: model.ChunkMetadata{Title: "G", Section: "b", Source: "kb/g.md"}},
			{ID: "3", SectionKey: "g#c", RelevanceScore: 0.8, Text: "step c", Metadata: model.ChunkMetadata{Title: "G", Section: "c", Source: "kb/g.md"}},
		}}
	}

	logger := testutil.TestLogger()
	store := session.NewMemoryStore()
	g := gate.New(opts.index, gate.DefaultConfig(), logger)

	eng, err := engine.New(engine.DefaultConfig(), engine.Deps{
		Classifier: opts.classifier,
		Gate:       g,
		Store:      store,
		Specialists: map[model.Route]dispatch.Specialist{
			model.RouteTechnical: dispatch.NewTechnical(),
			model.RouteBilling:   dispatch.NewBilling(billing.NewService()),
			model.RouteFallback:  dispatch.NewFallback(),
		},
		Logger: logger,
	})
	require.NoError(t, err)

	srv := New(ServerConfig{
		Engine:              eng,
		Gate:                g,
		Store:               store,
		Logger:              logger,
		Index:               opts.index,
		Limiter:             opts.limiter,
		Port:                0,
		Version:             "test",
		Classifier:          "static",
		APIKeyHash:          opts.apiKeyHash,
		MaxRequestBodyBytes: 1 << 20,
	})
	return srv, store
}

func doJSON(t *testing.T, srv *Server, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
		r.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			r.Header.Set(k, v)
		}
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func TestCreateTurn(t *testing.T) {
	srv, store := newTestServer(t, testServerOpts{})

	w := doJSON(t, srv, http.MethodPost, "/v1/turns",
		`{"user_id": "user-1001", "message": "my router keeps rebooting"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp model.TurnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, model.RouteTechnical, resp.Decision.Route)
	require.NotNil(t, resp.Retrieval)
	assert.True(t, resp.Retrieval.SufficientEvidence)
	assert.NotEmpty(t, resp.Citations)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	_, err := store.Get(t.Context(), resp.SessionID)
	assert.NoError(t, err)
}

func TestCreateTurnContinuesSession(t *testing.T) {
	srv, _ := newTestServer(t, testServerOpts{})

	w := doJSON(t, srv, http.MethodPost, "/v1/turns",
		`{"user_id": "user-1001", "message": "wifi is down"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var first model.TurnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	w = doJSON(t, srv, http.MethodPost, "/v1/turns",
		`{"session_id": "`+first.SessionID+`", "user_id": "user-1001", "message": "still down"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var second model.TurnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestCreateTurnValidation(t *testing.T) {
	srv, _ := newTestServer(t, testServerOpts{})

	tests := []struct {
		name string
		body string
	}{
		{"missing user_id", `{"message": "hi"}`},
		{"missing message", `{"user_id": "u"}`},
		{"unknown field", `{"user_id": "u", "message": "hi", "admin": true}`},
		{"oversized message", `{"user_id": "u", "message": "` + strings.Repeat("x", model.MaxMessageLen+1) + `"}`},
		{"not json", `hello`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, srv, http.MethodPost, "/v1/turns", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp model.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, model.ErrCodeInvalidInput, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.RequestID)
		})
	}
}

func TestGetSession(t *testing.T) {
	srv, _ := newTestServer(t, testServerOpts{})

	w := doJSON(t, srv, http.MethodPost, "/v1/turns",
		`{"user_id": "user-1001", "message": "router help"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var turn model.TurnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &turn))

	w = doJSON(t, srv, http.MethodGet, "/v1/sessions/"+turn.SessionID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.State)
	assert.Len(t, resp.State.TurnHistory, 2)
	assert.Len(t, resp.State.RouteAudit, 1)
}

func TestGetSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t, testServerOpts{})

	w := doJSON(t, srv, http.MethodGet, "/v1/sessions/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, model.ErrCodeNotFound, resp.Error.Code)
}

func TestRetrieveEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testServerOpts{})

	w := doJSON(t, srv, http.MethodPost, "/v1/retrieve", `{"query": "bridge mode"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.RetrievalResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.SufficientEvidence)
	assert.Len(t, resp.SelectedChunks, 3)
	assert.Equal(t, 0.5, resp.AppliedThreshold)
}

func TestRetrieveRequiresQuery(t *testing.T) {
	srv, _ := newTestServer(t, testServerOpts{})

	w := doJSON(t, srv, http.MethodPost, "/v1/retrieve", `{"query": ""}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, testServerOpts{})

	w := doJSON(t, srv, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Checks["index"])
	assert.Equal(t, "static", resp.Checks["classifier"])
}

func TestHealthDegradedIndex(t *testing.T) {
	srv, _ := newTestServer(t, testServerOpts{
		index: &testutil.FakeIndex{Unhealthy: testutil.ErrUnavailable},
	})

	w := doJSON(t, srv, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp model.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Contains(t, resp.Checks["index"], "unhealthy")
}

func TestAuthRequired(t *testing.T) {
	hash, err := auth.HashAPIKey("mk_test_secret")
	require.NoError(t, err)
	srv, _ := newTestServer(t, testServerOpts{apiKeyHash: hash})

	// No header.
	w := doJSON(t, srv, http.MethodPost, "/v1/retrieve", `{"query": "q"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong key.
	w = doJSON(t, srv, http.MethodPost, "/v1/retrieve", `{"query": "q"}`,
		http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Malformed header.
	w = doJSON(t, srv, http.MethodPost, "/v1/retrieve", `{"query": "q"}`,
		http.Header{"Authorization": {"mk_test_secret"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Correct key.
	w = doJSON(t, srv, http.MethodPost, "/v1/retrieve", `{"query": "q"}`,
		http.Header{"Authorization": {"Bearer mk_test_secret"}})
	assert.Equal(t, http.StatusOK, w.Code)

	// Health stays open.
	w = doJSON(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.0001, 2)
	defer limiter.Close()
	srv, _ := newTestServer(t, testServerOpts{limiter: limiter})

	for i := 0; i < 2; i++ {
		w := doJSON(t, srv, http.MethodPost, "/v1/retrieve", `{"query": "q"}`, nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d within burst", i)
	}

	w := doJSON(t, srv, http.MethodPost, "/v1/retrieve", `{"query": "q"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, model.ErrCodeRateLimited, resp.Error.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	srv, _ := newTestServer(t, testServerOpts{})

	w := doJSON(t, srv, http.MethodGet, "/health", "",
		http.Header{"X-Request-Id": {"req-42"}})
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}
