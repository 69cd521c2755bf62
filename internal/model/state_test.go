package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationStateValidate(t *testing.T) {
	now := time.Now()

	t.Run("fresh state is valid", func(t *testing.T) {
		assert.NoError(t, NewConversationState("s-1", "u-1", now).Validate())
	})

	t.Run("nil state", func(t *testing.T) {
		var s *ConversationState
		assert.ErrorIs(t, s.Validate(), ErrInvalidSessionState)
	})

	t.Run("empty session id", func(t *testing.T) {
		assert.ErrorIs(t, (&ConversationState{}).Validate(), ErrInvalidSessionState)
	})

	t.Run("unknown last route", func(t *testing.T) {
		s := NewConversationState("s-1", "u-1", now)
		r := Route("teleportation")
		s.LastRoute = &r
		assert.ErrorIs(t, s.Validate(), ErrInvalidSessionState)
	})

	t.Run("unknown speaker", func(t *testing.T) {
		s := NewConversationState("s-1", "u-1", now)
		s.TurnHistory = []Turn{{Speaker: "narrator", Text: "hi"}}
		assert.ErrorIs(t, s.Validate(), ErrInvalidSessionState)
	})
}

func TestConversationStateClone(t *testing.T) {
	now := time.Now()
	s := NewConversationState("s-1", "u-1", now)
	r := RouteBilling
	s.LastRoute = &r
	s.TurnHistory = []Turn{{Speaker: SpeakerUser, Text: "original", Timestamp: now}}
	s.RouteAudit = []RouteDecision{{Route: RouteBilling, Confidence: 0.8, DecidedAt: now}}

	cp := s.Clone()
	require.Equal(t, s, cp)

	cp.TurnHistory[0].Text = "mutated"
	cp.RouteAudit[0].Route = RouteFallback
	*cp.LastRoute = RouteTechnical

	assert.Equal(t, "original", s.TurnHistory[0].Text)
	assert.Equal(t, RouteBilling, s.RouteAudit[0].Route)
	assert.Equal(t, RouteBilling, *s.LastRoute)

	var nilState *ConversationState
	assert.Nil(t, nilState.Clone())
}

func TestRecentTurns(t *testing.T) {
	s := NewConversationState("s-1", "u-1", time.Now())
	for i := 0; i < 6; i++ {
		s.TurnHistory = append(s.TurnHistory, Turn{Speaker: SpeakerUser, Text: string(rune('a' + i))})
	}

	recent := s.RecentTurns(4)
	require.Len(t, recent, 4)
	assert.Equal(t, "c", recent[0].Text)
	assert.Equal(t, "f", recent[3].Text)

	assert.Len(t, s.RecentTurns(100), 6)
	assert.Nil(t, s.RecentTurns(0))
}
