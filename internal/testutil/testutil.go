// Package testutil provides shared fakes for unit tests: a scripted
// classifier and an in-memory similarity index so engine and gate tests
// run without OpenAI or Qdrant.
package testutil

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/madoguchi-ai/madoguchi/internal/index"
	"github.com/madoguchi-ai/madoguchi/internal/model"
)

// TestLogger returns a logger that discards output.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ErrUnavailable simulates a backend outage.
var ErrUnavailable = errors.New("testutil: backend unavailable")

// FakeClassifier returns scripted results keyed by message, or Fallback
// for unscripted messages. Err, when set, fails every call.
type FakeClassifier struct {
	Results  map[string]model.ClassificationResult
	Fallback model.ClassificationResult
	Err      error
	Calls    int
}

// Classify returns the scripted result for the message.
func (f *FakeClassifier) Classify(_ context.Context, message string, _ []model.Turn) (model.ClassificationResult, error) {
	f.Calls++
	if f.Err != nil {
		return model.ClassificationResult{}, f.Err
	}
	if r, ok := f.Results[message]; ok {
		return r, nil
	}
	return f.Fallback, nil
}

// FakeIndex serves fixed candidates. The diverse view returns Candidates
// in order; the scored view returns RawScores (falling back to the
// candidates' own scores when nil). Err fails both views.
type FakeIndex struct {
	Candidates []model.RetrievalCandidate
	RawScores  []index.SectionScore
	Err        error
	Unhealthy  error
}

// DiverseSearch returns up to fetchK of the fixed candidates.
func (f *FakeIndex) DiverseSearch(_ context.Context, _ string, fetchK int, _ float64) ([]model.RetrievalCandidate, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if fetchK > len(f.Candidates) {
		fetchK = len(f.Candidates)
	}
	return f.Candidates[:fetchK], nil
}

// ScoredSearch returns the raw score view of the fixed candidates.
func (f *FakeIndex) ScoredSearch(_ context.Context, _ string, fetchK int) ([]index.SectionScore, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if f.RawScores != nil {
		return f.RawScores, nil
	}
	scores := make([]index.SectionScore, 0, len(f.Candidates))
	for _, c := range f.Candidates {
		scores = append(scores, index.SectionScore{SectionKey: c.SectionKey, Score: c.RelevanceScore})
	}
	return scores, nil
}

// Healthy reports the scripted health state.
func (f *FakeIndex) Healthy(context.Context) error {
	return f.Unhealthy
}
