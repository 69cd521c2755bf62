// Package dispatch holds the specialists a routed turn is handed to.
//
// Specialists compose replies from templates and retrieved or looked-up
// facts; none of them generate free text. The technical specialist is
// the only consumer of retrieval results, the billing specialist fronts
// the billing backend, and the fallback specialist asks the user to
// rephrase.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/madoguchi-ai/madoguchi/internal/model"
)

// Reply is a specialist's answer to one turn.
type Reply struct {
	Text               string           `json:"text"`
	Route              model.Route      `json:"route"`
	Citations          []model.Citation `json:"citations,omitempty"`
	NeedsClarification bool             `json:"needs_clarification,omitempty"`
}

// Specialist produces the reply for a routed turn. The retrieval result
// is non-nil only for routes that consult the knowledge base.
type Specialist interface {
	Respond(ctx context.Context, message string, state *model.ConversationState, decision model.RouteDecision, retrieval *model.RetrievalResult) (Reply, error)
}

// Fallback asks the user to rephrase. Deterministic, no collaborators.
type Fallback struct{}

// NewFallback creates the fallback specialist.
func NewFallback() *Fallback {
	return &Fallback{}
}

const clarificationText = "I want to make sure I get this to the right team. " +
	"Could you tell me a bit more? For example, is this about your internet connection " +
	"or equipment (technical), or about charges, invoices, or your plan (billing)?"

// Respond returns the clarification prompt and flags the session so the
// next turn is read as an answer to it.
func (f *Fallback) Respond(_ context.Context, _ string, _ *model.ConversationState, _ model.RouteDecision, _ *model.RetrievalResult) (Reply, error) {
	return Reply{
		Text:               clarificationText,
		Route:              model.RouteFallback,
		NeedsClarification: true,
	}, nil
}

// Technical answers from retrieved knowledge-base passages. With
// sufficient evidence it composes a grounded reply with citations; without
// it, it says so rather than guessing.
type Technical struct{}

// NewTechnical creates the technical specialist.
func NewTechnical() *Technical {
	return &Technical{}
}

const insufficientEvidenceText = "I checked our technical documentation but couldn't find " +
	"reliable guidance for this. Could you describe the problem in more detail, for example " +
	"the equipment model or any error lights or messages you see?"

// Respond composes the grounded reply. A nil or degraded retrieval
// result is treated as insufficient evidence.
func (t *Technical) Respond(_ context.Context, _ string, _ *model.ConversationState, _ model.RouteDecision, retrieval *model.RetrievalResult) (Reply, error) {
	if retrieval == nil || !retrieval.SufficientEvidence {
		return Reply{
			Text:               insufficientEvidenceText,
			Route:              model.RouteTechnical,
			NeedsClarification: true,
		}, nil
	}

	var b strings.Builder
	b.WriteString("Here's what our documentation says:\n")
	citations := make([]model.Citation, 0, len(retrieval.SelectedChunks))
	for i, c := range retrieval.SelectedChunks {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, strings.TrimSpace(c.Text))
		fmt.Fprintf(&b, "   (%s — %s)\n", c.Metadata.Title, c.Metadata.Section)
		citations = append(citations, model.Citation{
			Title:   c.Metadata.Title,
			Section: c.Metadata.Section,
			Source:  c.Metadata.Source,
			Version: c.Metadata.Version,
			Score:   c.RelevanceScore,
		})
	}
	b.WriteString("\nIf this doesn't resolve it, reply with what you've tried and I'll dig further.")

	return Reply{
		Text:      b.String(),
		Route:     model.RouteTechnical,
		Citations: citations,
	}, nil
}
