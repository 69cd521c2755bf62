package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/madoguchi-ai/madoguchi/internal/engine"
	"github.com/madoguchi-ai/madoguchi/internal/gate"
	"github.com/madoguchi-ai/madoguchi/internal/index"
	"github.com/madoguchi-ai/madoguchi/internal/model"
	"github.com/madoguchi-ai/madoguchi/internal/session"
)

// HandlersDeps holds the collaborators for the HTTP handlers.
// Index may be nil when no vector backend is configured; /health then
// reports the index as disabled.
type HandlersDeps struct {
	Engine  *engine.Engine
	Gate    *gate.Gate
	Store   session.Store
	Index   index.Index
	Logger  *slog.Logger
	Version string

	// Classifier is the provider label reported by /health ("openai",
	// "static", ...). The classifier itself has no liveness probe; the
	// label tells operators which backend is in play.
	Classifier string

	MaxRequestBodyBytes int64
}

// Handlers implements the HTTP endpoints.
type Handlers struct {
	deps      HandlersDeps
	startTime time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{deps: deps, startTime: time.Now()}
}

// HandleCreateTurn processes POST /v1/turns: one user message in, one
// routed specialist reply out.
func (h *Handlers) HandleCreateTurn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxRequestBodyBytes)

	var req model.TurnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	out, err := h.deps.Engine.ProcessTurn(r.Context(), engine.TurnInput{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Message:   req.Message,
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidSessionState) {
			writeError(w, r, http.StatusConflict, model.ErrCodeInvalidInput, "session state is invalid")
			return
		}
		h.deps.Logger.Error("turn processing failed",
			"request_id", RequestIDFromContext(r.Context()), "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "turn processing failed")
		return
	}

	writeJSON(w, http.StatusOK, model.TurnResponse{
		SessionID:          out.SessionID,
		Reply:              out.Reply.Text,
		Citations:          out.Reply.Citations,
		NeedsClarification: out.Reply.NeedsClarification,
		Decision:           out.Decision,
		Retrieval:          out.Retrieval,
		Timestamp:          time.Now().UTC(),
	})
}

// HandleGetSession serves GET /v1/sessions/{session_id}: the full
// conversation state including the route audit trail.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id is required")
		return
	}

	state, err := h.deps.Store.Get(r.Context(), sessionID)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "session not found")
		return
	}
	if err != nil {
		h.deps.Logger.Error("session lookup failed", "session_id", sessionID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "session lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, model.SessionResponse{State: state})
}

// HandleRetrieve serves POST /v1/retrieve: runs the retrieval gate
// directly and returns the verdict with its audit fields. Intended for
// tuning thresholds and inspecting corpus coverage.
func (h *Handlers) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxRequestBodyBytes)

	var req model.RetrieveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "query is required")
		return
	}
	if len(req.Query) > model.MaxMessageLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "query too long")
		return
	}

	result := h.deps.Gate.Retrieve(r.Context(), req.Query)
	writeJSON(w, http.StatusOK, result)
}

// HandleHealth serves GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := "ok"

	if h.deps.Classifier != "" {
		checks["classifier"] = h.deps.Classifier
	}

	if h.deps.Index == nil {
		checks["index"] = "disabled"
	} else if err := h.deps.Index.Healthy(r.Context()); err != nil {
		checks["index"] = "unhealthy: " + err.Error()
		status = "degraded"
	} else {
		checks["index"] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, model.HealthResponse{
		Status:  status,
		Version: h.deps.Version,
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
		Checks:  checks,
	})
}
