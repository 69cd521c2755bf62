package model

import (
	"errors"
	"fmt"
	"time"
)

// Speaker identifies who produced a turn in the conversation.
type Speaker string

const (
	SpeakerUser       Speaker = "user"
	SpeakerSpecialist Speaker = "specialist"
)

// Turn is a single utterance in a conversation. TurnHistory entries are
// append-only and insertion order is significant.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Route     Route     `json:"route,omitempty"` // Which specialist produced the turn; empty for user turns.
	Timestamp time.Time `json:"timestamp"`
}

// ErrInvalidSessionState is returned when malformed or missing session state
// reaches the turn engine. It is fatal: the decision logic must not run and
// no partial mutation may occur.
var ErrInvalidSessionState = errors.New("model: invalid session state")

// ConversationState is the per-session state mutated once per turn.
// It is owned exclusively by whichever turn is currently processing the
// session; the engine serializes access per session.
type ConversationState struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`

	// TurnHistory is append-only; insertion order is significant.
	TurnHistory []Turn `json:"turn_history"`

	// LastRoute is the route of the previous turn, nil on a fresh session.
	// Overwritten atomically once per turn after the engine decides.
	LastRoute *Route `json:"last_route,omitempty"`

	// RouteAudit records every past decision, append-only, for observability.
	RouteAudit []RouteDecision `json:"route_audit"`

	// NeedsClarification is set by the fallback specialist so the next turn
	// can be interpreted as an answer to the clarification prompt.
	NeedsClarification bool `json:"needs_clarification"`

	TurnCount int       `json:"turn_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationState creates a fresh state for a session's first turn.
func NewConversationState(sessionID, userID string, now time.Time) *ConversationState {
	return &ConversationState{
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate rejects malformed session state before any decision logic runs.
// A nil receiver, missing session ID, or an out-of-range LastRoute all map
// to ErrInvalidSessionState.
func (s *ConversationState) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil state", ErrInvalidSessionState)
	}
	if s.SessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidSessionState)
	}
	if s.LastRoute != nil && !s.LastRoute.Valid() {
		return fmt.Errorf("%w: unknown last route %q", ErrInvalidSessionState, *s.LastRoute)
	}
	for i, turn := range s.TurnHistory {
		if turn.Speaker != SpeakerUser && turn.Speaker != SpeakerSpecialist {
			return fmt.Errorf("%w: turn %d has unknown speaker %q", ErrInvalidSessionState, i, turn.Speaker)
		}
	}
	return nil
}

// Clone returns a deep copy of the state. Stores hand out clones so a
// caller's mutations never leak into stored state.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	cp := *s
	if s.LastRoute != nil {
		r := *s.LastRoute
		cp.LastRoute = &r
	}
	cp.TurnHistory = append([]Turn(nil), s.TurnHistory...)
	cp.RouteAudit = append([]RouteDecision(nil), s.RouteAudit...)
	return &cp
}

// RecentTurns returns up to n of the most recent turns, oldest first.
func (s *ConversationState) RecentTurns(n int) []Turn {
	if n <= 0 || len(s.TurnHistory) == 0 {
		return nil
	}
	if len(s.TurnHistory) <= n {
		return s.TurnHistory
	}
	return s.TurnHistory[len(s.TurnHistory)-n:]
}
