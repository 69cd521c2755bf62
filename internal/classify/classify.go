// Package classify turns a raw user message into a category judgment
// with a calibrated confidence.
//
// The oracle is an external collaborator as far as routing is concerned:
// the router never sees how the judgment was produced, only the
// ClassificationResult. Normalize is the boundary between the two — any
// oracle failure becomes a well-formed low-confidence UNKNOWN result so
// the turn can continue toward fallback instead of erroring out.
package classify

import (
	"context"

	"github.com/madoguchi-ai/madoguchi/internal/model"
)

// Classifier assigns a category and confidence to a user message, given
// recent conversation turns for context.
type Classifier interface {
	Classify(ctx context.Context, message string, recent []model.Turn) (model.ClassificationResult, error)
}

// Normalize absorbs classifier failures at the engine boundary. On error
// the result is a zero-confidence UNKNOWN, which the router resolves to
// either a sticky continuation or fallback. A nil error passes the
// result through after validation; an invalid result (confidence out of
// range, unknown category string) is treated the same as an error.
func Normalize(c model.ClassificationResult, err error) model.ClassificationResult {
	if err != nil {
		return model.ClassificationResult{
			Category:   model.CategoryUnknown,
			Confidence: 0.0,
			Rationale:  "classification unavailable",
		}
	}
	if vErr := c.Validate(); vErr != nil {
		return model.ClassificationResult{
			Category:   model.CategoryUnknown,
			Confidence: 0.0,
			Rationale:  "classification malformed",
		}
	}
	return c
}
