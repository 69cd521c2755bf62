// Package engine orchestrates a support turn end to end: load state,
// classify, route, retrieve when the route calls for it, dispatch to a
// specialist, and persist the updated state.
//
// Turns on the same session are serialized with a per-session lock;
// turns on different sessions run fully concurrently. State mutation is
// all-or-nothing per turn: a fatal error before Put leaves the stored
// state untouched.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/madoguchi-ai/madoguchi/internal/classify"
	"github.com/madoguchi-ai/madoguchi/internal/dispatch"
	"github.com/madoguchi-ai/madoguchi/internal/gate"
	"github.com/madoguchi-ai/madoguchi/internal/model"
	"github.com/madoguchi-ai/madoguchi/internal/route"
	"github.com/madoguchi-ai/madoguchi/internal/session"
	"github.com/madoguchi-ai/madoguchi/internal/telemetry"
)

// Config holds the engine's tunables.
type Config struct {
	// Route holds the routing thresholds and context window.
	Route route.Config

	// ClassifyTimeout bounds each classifier call. On expiry the turn
	// continues with an UNKNOWN zero-confidence result.
	ClassifyTimeout time.Duration

	// MaxHistory caps the turns handed to the classifier as context.
	MaxHistory int
}

// DefaultConfig returns the engine settings the system ships with.
func DefaultConfig() Config {
	return Config{
		Route:           route.DefaultConfig(),
		ClassifyTimeout: 5 * time.Second,
		MaxHistory:      10,
	}
}

// Deps are the engine's collaborators.
type Deps struct {
	Classifier  classify.Classifier
	Gate        *gate.Gate
	Store       session.Store
	Specialists map[model.Route]dispatch.Specialist
	Logger      *slog.Logger
}

// TurnInput is one user message addressed to a session. An empty
// SessionID starts a new session.
type TurnInput struct {
	SessionID string
	UserID    string
	Message   string
}

// TurnOutput is everything a turn produced: the reply, the routing
// decision behind it, and the retrieval audit when the knowledge base
// was consulted.
type TurnOutput struct {
	SessionID string
	Reply     dispatch.Reply
	Decision  model.RouteDecision
	Retrieval *model.RetrievalResult
}

// Engine processes turns.
type Engine struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	// Per-session locks. Entries are never reaped; session cardinality is
	// bounded by the store's retention, not by this map.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	turnCount        metric.Int64Counter
	gateVerdicts     metric.Int64Counter
	classifyFailures metric.Int64Counter
}

// New creates an Engine. All Deps fields must be set and Specialists
// must cover every route.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Classifier == nil || deps.Gate == nil || deps.Store == nil || deps.Logger == nil {
		return nil, errors.New("engine: classifier, gate, store and logger are required")
	}
	for _, r := range []model.Route{model.RouteTechnical, model.RouteBilling, model.RouteFallback} {
		if deps.Specialists[r] == nil {
			return nil, fmt.Errorf("engine: no specialist registered for route %s", r)
		}
	}

	meter := telemetry.Meter("madoguchi/engine")
	turns, _ := meter.Int64Counter("madoguchi.turns",
		metric.WithDescription("Turns processed, by route"))
	verdicts, _ := meter.Int64Counter("madoguchi.gate.verdicts",
		metric.WithDescription("Retrieval gate verdicts, by sufficiency"))
	failures, _ := meter.Int64Counter("madoguchi.classify.failures",
		metric.WithDescription("Classifier calls absorbed as UNKNOWN"))

	return &Engine{
		cfg:              cfg,
		deps:             deps,
		now:              time.Now,
		locks:            make(map[string]*sync.Mutex),
		turnCount:        turns,
		gateVerdicts:     verdicts,
		classifyFailures: failures,
	}, nil
}

// ProcessTurn runs one turn. Classifier and index failures are absorbed
// into the decision flow; the returned error is reserved for fatal
// conditions (malformed session state, persistence failure).
func (e *Engine) ProcessTurn(ctx context.Context, in TurnInput) (TurnOutput, error) {
	if in.Message == "" {
		return TurnOutput{}, errors.New("engine: message is required")
	}

	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	unlock := e.lockSession(sessionID)
	defer unlock()

	state, err := e.loadState(ctx, sessionID, in.UserID)
	if err != nil {
		return TurnOutput{}, err
	}
	if err := state.Validate(); err != nil {
		return TurnOutput{}, fmt.Errorf("engine: session %s: %w", sessionID, err)
	}

	now := e.now()
	result := e.classifyMessage(ctx, in.Message, state)
	decision := route.Decide(result, state, e.cfg.Route, now)

	e.deps.Logger.Info("engine: turn routed",
		"session_id", sessionID,
		"category", result.Category,
		"classifier_confidence", result.Confidence,
		"route", decision.Route,
		"rationale", decision.Rationale,
	)

	var retrieval *model.RetrievalResult
	if decision.Route == model.RouteTechnical {
		r := e.deps.Gate.Retrieve(ctx, in.Message)
		retrieval = &r
		e.gateVerdicts.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("sufficient", r.SufficientEvidence),
			attribute.Bool("degraded", r.IndexDegraded),
		))
	}

	state.TurnHistory = append(state.TurnHistory, model.Turn{
		Speaker:   model.SpeakerUser,
		Text:      in.Message,
		Timestamp: now,
	})
	state.RouteAudit = append(state.RouteAudit, decision)

	reply, err := e.deps.Specialists[decision.Route].Respond(ctx, in.Message, state, decision, retrieval)
	if err != nil {
		return TurnOutput{}, fmt.Errorf("engine: specialist %s: %w", decision.Route, err)
	}

	state.TurnHistory = append(state.TurnHistory, model.Turn{
		Speaker:   model.SpeakerSpecialist,
		Text:      reply.Text,
		Route:     decision.Route,
		Timestamp: now,
	})
	r := decision.Route
	state.LastRoute = &r
	state.NeedsClarification = reply.NeedsClarification
	state.TurnCount++
	state.UpdatedAt = now

	if err := e.deps.Store.Put(ctx, state); err != nil {
		return TurnOutput{}, fmt.Errorf("engine: persist session %s: %w", sessionID, err)
	}

	e.turnCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", string(decision.Route)),
	))

	return TurnOutput{
		SessionID: sessionID,
		Reply:     reply,
		Decision:  decision,
		Retrieval: retrieval,
	}, nil
}

// loadState fetches the session or starts a fresh one.
func (e *Engine) loadState(ctx context.Context, sessionID, userID string) (*model.ConversationState, error) {
	state, err := e.deps.Store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return model.NewConversationState(sessionID, userID, e.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("engine: load session %s: %w", sessionID, err)
	}
	return state, nil
}

// classifyMessage runs the classifier under its timeout and normalizes
// failures into an UNKNOWN zero-confidence result.
func (e *Engine) classifyMessage(ctx context.Context, message string, state *model.ConversationState) model.ClassificationResult {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.ClassifyTimeout)
	defer cancel()

	raw, err := e.deps.Classifier.Classify(cctx, message, state.RecentTurns(e.cfg.MaxHistory))
	if err != nil {
		e.deps.Logger.Warn("engine: classifier failed, treating as unknown",
			"session_id", state.SessionID, "error", err)
		e.classifyFailures.Add(ctx, 1)
	}
	return classify.Normalize(raw, err)
}

func (e *Engine) lockSession(sessionID string) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[sessionID] = mu
	}
	e.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
