package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madoguchi-ai/madoguchi/internal/model"
)

func sampleState(id string) *model.ConversationState {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st := model.NewConversationState(id, "user-1", now)
	st.TurnHistory = append(st.TurnHistory,
		model.Turn{Speaker: model.SpeakerUser, Text: "my wifi is down", Timestamp: now},
		model.Turn{Speaker: model.SpeakerSpecialist, Text: "try rebooting the router", Route: model.RouteTechnical, Timestamp: now},
	)
	r := model.RouteTechnical
	st.LastRoute = &r
	st.RouteAudit = append(st.RouteAudit, model.RouteDecision{
		Route: model.RouteTechnical, Confidence: 0.9, Rationale: "strong technical", DecidedAt: now,
	})
	st.TurnCount = 1
	return st
}

// storeUnderTest runs the same contract against every Store implementation.
func storeUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := sampleState("s-1")

			require.NoError(t, store.Put(ctx, want))
			got, err := store.Get(ctx, "s-1")
			require.NoError(t, err)

			assert.Equal(t, want.SessionID, got.SessionID)
			assert.Equal(t, want.UserID, got.UserID)
			assert.Equal(t, want.TurnHistory, got.TurnHistory)
			require.NotNil(t, got.LastRoute)
			assert.Equal(t, model.RouteTechnical, *got.LastRoute)
			assert.Equal(t, want.RouteAudit, got.RouteAudit)
			assert.Equal(t, 1, got.TurnCount)
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStorePutOverwrites(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := sampleState("s-2")
			require.NoError(t, store.Put(ctx, st))

			st.TurnCount = 2
			st.TurnHistory = append(st.TurnHistory, model.Turn{
				Speaker: model.SpeakerUser, Text: "still down", Timestamp: st.UpdatedAt,
			})
			require.NoError(t, store.Put(ctx, st))

			got, err := store.Get(ctx, "s-2")
			require.NoError(t, err)
			assert.Equal(t, 2, got.TurnCount)
			assert.Len(t, got.TurnHistory, 3)
		})
	}
}

func TestStoreRejectsEmptySessionID(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, store.Put(context.Background(), &model.ConversationState{}))
			assert.Error(t, store.Put(context.Background(), nil))
		})
	}
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	st := sampleState("s-3")
	require.NoError(t, store.Put(ctx, st))

	// Mutating the caller's copy must not change stored state.
	st.TurnHistory[0].Text = "tampered"
	st.TurnCount = 99

	got, err := store.Get(ctx, "s-3")
	require.NoError(t, err)
	assert.Equal(t, "my wifi is down", got.TurnHistory[0].Text)
	assert.Equal(t, 1, got.TurnCount)

	// Mutating a retrieved copy must not change stored state either.
	got.TurnHistory[1].Text = "tampered"
	again, err := store.Get(ctx, "s-3")
	require.NoError(t, err)
	assert.Equal(t, "try rebooting the router", again.TurnHistory[1].Text)
}
