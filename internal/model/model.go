// Package model defines the core domain types shared across madoguchi:
// classification results, conversation state, route decisions, and
// retrieval types. Types here carry no behavior beyond validation.
package model

import (
	"fmt"
	"time"
)

// Category is the intent class produced by the classification oracle.
type Category string

const (
	CategoryTechnical Category = "technical"
	CategoryBilling   Category = "billing"
	CategoryUnknown   Category = "unknown"
)

// Valid reports whether c is one of the three known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryTechnical, CategoryBilling, CategoryUnknown:
		return true
	}
	return false
}

// Route is the destination chosen by the routing decision engine.
type Route string

const (
	RouteTechnical Route = "technical"
	RouteBilling   Route = "billing"
	RouteFallback  Route = "fallback"
)

// Valid reports whether r is one of the three known routes.
func (r Route) Valid() bool {
	switch r {
	case RouteTechnical, RouteBilling, RouteFallback:
		return true
	}
	return false
}

// ClassificationResult is the oracle's verdict for a single turn.
// Immutable once produced; consumed only by the routing decision engine.
// A failed oracle call must be normalized to {CategoryUnknown, 0.0} by the
// caller before the engine sees it (see classify.Normalize).
type ClassificationResult struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"` // Invariant: 0.0 <= Confidence <= 1.0.
	Rationale  string   `json:"rationale,omitempty"`
}

// Validate checks the classification invariants.
func (c ClassificationResult) Validate() error {
	if !c.Category.Valid() {
		return fmt.Errorf("model: invalid category %q", c.Category)
	}
	if c.Confidence < 0.0 || c.Confidence > 1.0 {
		return fmt.Errorf("model: confidence %v out of [0,1]", c.Confidence)
	}
	return nil
}

// RouteDecision is the routing engine's output for one turn.
type RouteDecision struct {
	Route      Route     `json:"route"`
	Confidence float64   `json:"confidence"` // The classification confidence that drove the decision.
	Rationale  string    `json:"rationale,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}
