// Package session persists conversation state between turns.
//
// The store is a plain get/put keyed by session ID. It does not
// serialize concurrent turns on the same session; the engine holds a
// per-session lock across the read-modify-write, so the store only has
// to be safe for concurrent use across sessions.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/madoguchi-ai/madoguchi/internal/model"
)

// ErrNotFound is returned when no state exists for a session ID.
var ErrNotFound = errors.New("session: not found")

// Store persists conversation state.
type Store interface {
	// Get loads the state for a session, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*model.ConversationState, error)

	// Put saves the state, overwriting any previous version.
	Put(ctx context.Context, state *model.ConversationState) error
}

// MemoryStore keeps sessions in a map. Used in development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.ConversationState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*model.ConversationState)}
}

// Get returns a deep copy so callers cannot mutate stored state.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*model.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

// Put stores a deep copy of the state.
func (s *MemoryStore) Put(_ context.Context, state *model.ConversationState) error {
	if state == nil || state.SessionID == "" {
		return errors.New("session: state must have a session id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[state.SessionID] = state.Clone()
	return nil
}
