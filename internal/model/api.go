package model

import (
	"fmt"
	"time"
)

// MaxMessageLen bounds a single user message. Oversized messages would blow
// up the classification prompt and the embedding call.
const MaxMessageLen = 8 * 1024

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse is the envelope for all API errors.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// TurnRequest is the request body for POST /v1/turns.
// SessionID is optional: when empty the server opens a new session.
type TurnRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

// Validate checks required fields and size limits.
func (r TurnRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if r.Message == "" {
		return fmt.Errorf("message is required")
	}
	if len(r.Message) > MaxMessageLen {
		return fmt.Errorf("message exceeds maximum length of %d bytes", MaxMessageLen)
	}
	return nil
}

// TurnResponse is the response body for POST /v1/turns.
// Retrieval is present only when the turn was routed to the technical
// specialist; it carries the gate's audit fields, not just the verdict.
type TurnResponse struct {
	SessionID          string           `json:"session_id"`
	Reply              string           `json:"reply"`
	Citations          []Citation       `json:"citations,omitempty"`
	NeedsClarification bool             `json:"needs_clarification,omitempty"`
	Decision           RouteDecision    `json:"decision"`
	Retrieval          *RetrievalResult `json:"retrieval,omitempty"`
	Timestamp          time.Time        `json:"timestamp"`
}

// RetrieveRequest is the request body for POST /v1/retrieve, the direct
// gate audit endpoint.
type RetrieveRequest struct {
	Query string `json:"query"`
}

// SessionResponse is the response body for GET /v1/sessions/{session_id}.
type SessionResponse struct {
	State *ConversationState `json:"state"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks,omitempty"`
}
