package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madoguchi-ai/madoguchi/internal/billing"
	"github.com/madoguchi-ai/madoguchi/internal/dispatch"
	"github.com/madoguchi-ai/madoguchi/internal/gate"
	"github.com/madoguchi-ai/madoguchi/internal/model"
	"github.com/madoguchi-ai/madoguchi/internal/session"
	"github.com/madoguchi-ai/madoguchi/internal/testutil"
)

func evidence(n int, score float64) []model.RetrievalCandidate {
	chunks := make([]model.RetrievalCandidate, 0, n)
	sections := []string{"a", "b", "c", "d", "e", "f"}
	for i := 0; i < n; i++ {
		chunks = append(chunks, model.RetrievalCandidate{
			ID:             "id-" + sections[i],
			SectionKey:     "guide.md#" + sections[i],
			RelevanceScore: score,
			Text:           "step " + sections[i],
			Metadata:       model.ChunkMetadata{Title: "Guide", Section: sections[i], Source: "kb/guide.md"},
		})
	}
	return chunks
}

func newTestEngine(t *testing.T, classifier *testutil.FakeClassifier, idx *testutil.FakeIndex) (*Engine, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore()
	eng, err := New(DefaultConfig(), Deps{
		Classifier: classifier,
		Gate:       gate.New(idx, gate.DefaultConfig(), testutil.TestLogger()),
		Store:      store,
		Specialists: map[model.Route]dispatch.Specialist{
			model.RouteTechnical: dispatch.NewTechnical(),
			model.RouteBilling:   dispatch.NewBilling(billing.NewService()),
			model.RouteFallback:  dispatch.NewFallback(),
		},
		Logger: testutil.TestLogger(),
	})
	require.NoError(t, err)
	return eng, store
}

func TestProcessTurnTechnicalWithEvidence(t *testing.T) {
	classifier := &testutil.FakeClassifier{
		Fallback: model.ClassificationResult{Category: model.CategoryTechnical, Confidence: 0.9, Rationale: "router issue"},
	}
	eng, store := newTestEngine(t, classifier, &testutil.FakeIndex{Candidates: evidence(4, 0.8)})

	out, err := eng.ProcessTurn(context.Background(), TurnInput{
		UserID: "user-1001", Message: "my router keeps rebooting",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, out.SessionID)
	assert.Equal(t, model.RouteTechnical, out.Decision.Route)
	require.NotNil(t, out.Retrieval)
	assert.True(t, out.Retrieval.SufficientEvidence)
	assert.NotEmpty(t, out.Reply.Citations)

	st, err := store.Get(context.Background(), out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TurnCount)
	require.Len(t, st.TurnHistory, 2)
	assert.Equal(t, model.SpeakerUser, st.TurnHistory[0].Speaker)
	assert.Equal(t, model.SpeakerSpecialist, st.TurnHistory[1].Speaker)
	require.NotNil(t, st.LastRoute)
	assert.Equal(t, model.RouteTechnical, *st.LastRoute)
	require.Len(t, st.RouteAudit, 1)
	assert.Equal(t, model.RouteTechnical, st.RouteAudit[0].Route)
}

func TestProcessTurnBillingSkipsRetrieval(t *testing.T) {
	classifier := &testutil.FakeClassifier{
		Fallback: model.ClassificationResult{Category: model.CategoryBilling, Confidence: 0.85, Rationale: "invoice"},
	}
	eng, _ := newTestEngine(t, classifier, &testutil.FakeIndex{Candidates: evidence(4, 0.8)})

	out, err := eng.ProcessTurn(context.Background(), TurnInput{
		UserID: "user-1001", Message: "why was I charged twice",
	})
	require.NoError(t, err)

	assert.Equal(t, model.RouteBilling, out.Decision.Route)
	assert.Nil(t, out.Retrieval, "billing turns never consult the index")
}

func TestProcessTurnClassifierFailureFallsBack(t *testing.T) {
	classifier := &testutil.FakeClassifier{Err: testutil.ErrUnavailable}
	eng, _ := newTestEngine(t, classifier, &testutil.FakeIndex{})

	out, err := eng.ProcessTurn(context.Background(), TurnInput{
		UserID: "user-1001", Message: "help",
	})
	require.NoError(t, err, "classifier outage is absorbed, not surfaced")

	assert.Equal(t, model.RouteFallback, out.Decision.Route)
	assert.True(t, out.Reply.NeedsClarification)
}

func TestProcessTurnStickyContinuation(t *testing.T) {
	classifier := &testutil.FakeClassifier{
		Results: map[string]model.ClassificationResult{
			"my wifi is down":   {Category: model.CategoryTechnical, Confidence: 0.9, Rationale: "wifi"},
			"it's still broken": {Category: model.CategoryUnknown, Confidence: 0.3, Rationale: "vague"},
		},
	}
	eng, _ := newTestEngine(t, classifier, &testutil.FakeIndex{Candidates: evidence(4, 0.8)})

	first, err := eng.ProcessTurn(context.Background(), TurnInput{UserID: "user-1001", Message: "my wifi is down"})
	require.NoError(t, err)
	require.Equal(t, model.RouteTechnical, first.Decision.Route)

	second, err := eng.ProcessTurn(context.Background(), TurnInput{
		SessionID: first.SessionID, UserID: "user-1001", Message: "it's still broken",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RouteTechnical, second.Decision.Route, "weak signal mid-thread continues the prior route")
}

func TestProcessTurnRejectsCorruptState(t *testing.T) {
	classifier := &testutil.FakeClassifier{
		Fallback: model.ClassificationResult{Category: model.CategoryTechnical, Confidence: 0.9},
	}
	eng, store := newTestEngine(t, classifier, &testutil.FakeIndex{})

	bad := model.NewConversationState("s-bad", "user-1001", time.Now())
	r := model.Route("teleportation")
	bad.LastRoute = &r
	require.NoError(t, store.Put(context.Background(), bad))

	_, err := eng.ProcessTurn(context.Background(), TurnInput{
		SessionID: "s-bad", UserID: "user-1001", Message: "hi",
	})
	require.ErrorIs(t, err, model.ErrInvalidSessionState)

	// No partial mutation: stored state is untouched.
	st, gerr := store.Get(context.Background(), "s-bad")
	require.NoError(t, gerr)
	assert.Empty(t, st.TurnHistory)
	assert.Zero(t, st.TurnCount)
}

func TestProcessTurnRejectsEmptyMessage(t *testing.T) {
	classifier := &testutil.FakeClassifier{}
	eng, _ := newTestEngine(t, classifier, &testutil.FakeIndex{})

	_, err := eng.ProcessTurn(context.Background(), TurnInput{UserID: "user-1001"})
	assert.Error(t, err)
	assert.Zero(t, classifier.Calls)
}

func TestProcessTurnConcurrentSameSession(t *testing.T) {
	classifier := &testutil.FakeClassifier{
		Fallback: model.ClassificationResult{Category: model.CategoryBilling, Confidence: 0.9, Rationale: "billing"},
	}
	eng, store := newTestEngine(t, classifier, &testutil.FakeIndex{})

	const turns = 16
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.ProcessTurn(context.Background(), TurnInput{
				SessionID: "s-conc", UserID: "user-1001", Message: "show my plan",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := store.Get(context.Background(), "s-conc")
	require.NoError(t, err)
	assert.Equal(t, turns, st.TurnCount, "serialized turns must not lose updates")
	assert.Len(t, st.TurnHistory, turns*2)
	assert.Len(t, st.RouteAudit, turns)
}

func TestProcessTurnDegradedIndexStillAnswers(t *testing.T) {
	classifier := &testutil.FakeClassifier{
		Fallback: model.ClassificationResult{Category: model.CategoryTechnical, Confidence: 0.9, Rationale: "tech"},
	}
	eng, _ := newTestEngine(t, classifier, &testutil.FakeIndex{Err: testutil.ErrUnavailable})

	out, err := eng.ProcessTurn(context.Background(), TurnInput{UserID: "user-1001", Message: "internet down"})
	require.NoError(t, err, "index outage is absorbed, not surfaced")

	assert.Equal(t, model.RouteTechnical, out.Decision.Route)
	require.NotNil(t, out.Retrieval)
	assert.True(t, out.Retrieval.IndexDegraded)
	assert.True(t, out.Reply.NeedsClarification)
}
