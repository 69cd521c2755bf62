// Package route implements the routing decision engine: a pure function
// from (classification, conversation state) to a route, with hysteresis so
// a noisy classification signal does not bounce a user between specialists.
//
// Classification confidence is inherently noisy — semantic ambiguity,
// code-switching, short follow-ups like "and the password?". Routing purely
// on the instantaneous classification oscillates visibly on a single topic.
// The rule set here forms a hysteresis band: strong signals can always steer
// (and override a sticky route), weak signals stay on the current specialist,
// and truly ambiguous signals fall back to a clarification path.
package route

import (
	"fmt"
	"time"

	"github.com/madoguchi-ai/madoguchi/internal/model"
)

// Config holds the routing thresholds. Zero values are not usable; obtain
// defaults from DefaultConfig or the application config.
type Config struct {
	// StrongConfidence is the bar at or above which a determinate signal
	// may steer the route, including overriding a sticky continuation.
	StrongConfidence float64

	// MediumConfidence is the bar at or above which a determinate signal
	// routes a fresh (non-sticky) conversation.
	MediumConfidence float64

	// ContextWindow is how many trailing turns are inspected when deciding
	// whether the conversation is mid-thread with a specialist.
	ContextWindow int
}

// DefaultConfig returns the thresholds the system ships with.
func DefaultConfig() Config {
	return Config{
		StrongConfidence: 0.7,
		MediumConfidence: 0.5,
		ContextWindow:    4,
	}
}

// Decide maps a classification and the prior conversation state to a route.
//
// It is a pure function of its inputs: state is read, never mutated, and the
// caller persists the returned route afterward. It never fails — an oracle
// failure must already have been normalized to {unknown, 0.0} by the caller.
//
// Rules, evaluated in priority order, first match wins:
//
//  1. Strong determinate signal (confidence >= strong, category technical or
//     billing): if the conversation is sticky (last route is a specialist and
//     recent agent context exists), keep the last route when the category
//     agrees with it, otherwise the signal is strong enough to override.
//     Without stickiness, route on the category.
//  2. Weak signal on a sticky conversation (confidence < strong): treat the
//     turn as a probable follow-up and keep the last route.
//  3. Medium determinate signal (confidence >= medium): route on the category.
//  4. Otherwise: fallback, which asks the user to clarify.
func Decide(c model.ClassificationResult, state *model.ConversationState, cfg Config, now time.Time) model.RouteDecision {
	sticky := state.LastRoute != nil &&
		(*state.LastRoute == model.RouteTechnical || *state.LastRoute == model.RouteBilling)
	determinate := c.Category == model.CategoryTechnical || c.Category == model.CategoryBilling

	var r model.Route
	var why string

	switch {
	case c.Confidence >= cfg.StrongConfidence && determinate:
		if sticky && hasRecentAgentContext(state, cfg.ContextWindow) {
			// Mid-thread with a specialist. An agreeing (or indeterminate)
			// category keeps the thread; a disagreeing strong category is
			// itself enough to switch specialists.
			if model.Route(c.Category) == *state.LastRoute || c.Category == model.CategoryUnknown {
				r = *state.LastRoute
				why = fmt.Sprintf("strong signal agrees with active %s thread", r)
			} else {
				r = model.Route(c.Category)
				why = fmt.Sprintf("strong %s signal overrides active %s thread", c.Category, *state.LastRoute)
			}
		} else {
			r = model.Route(c.Category)
			why = fmt.Sprintf("strong %s signal on fresh conversation", c.Category)
		}

	case sticky && c.Confidence < cfg.StrongConfidence:
		// Low-confidence turns mid-thread are usually follow-ups
		// ("and the password?"), not topic changes.
		r = *state.LastRoute
		why = fmt.Sprintf("weak signal, continuing %s thread", r)

	case c.Confidence >= cfg.MediumConfidence && determinate:
		r = model.Route(c.Category)
		why = fmt.Sprintf("medium %s signal on fresh conversation", c.Category)

	default:
		r = model.RouteFallback
		why = "no determinate signal, asking for clarification"
	}

	return model.RouteDecision{
		Route:      r,
		Confidence: c.Confidence,
		Rationale:  why,
		DecidedAt:  now,
	}
}

// hasRecentAgentContext reports whether the conversation is mid-thread with
// a specialist: at least one of the last window turns was produced by a
// specialist and the history holds more than a lone opening message.
func hasRecentAgentContext(state *model.ConversationState, window int) bool {
	if len(state.TurnHistory) < 2 {
		return false
	}
	for _, turn := range state.RecentTurns(window) {
		if turn.Speaker == model.SpeakerSpecialist {
			return true
		}
	}
	return false
}
