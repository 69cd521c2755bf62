package classify

import (
	"context"
	"strings"

	"github.com/madoguchi-ai/madoguchi/internal/model"
)

// StaticClassifier is a keyword heuristic for deployments without an
// API key and for local development. It is intentionally crude: a hit
// on a category's keyword list yields a fixed mid-strength confidence,
// anything else is UNKNOWN.
type StaticClassifier struct{}

// NewStaticClassifier creates the keyword-based classifier.
func NewStaticClassifier() *StaticClassifier {
	return &StaticClassifier{}
}

var (
	technicalKeywords = []string{
		"internet", "wifi", "wi-fi", "router", "modem", "connection",
		"slow", "speed", "outage", "offline", "dns", "signal", "ethernet",
		"restart", "reboot", "bridge mode", "firmware",
	}
	billingKeywords = []string{
		"bill", "invoice", "charge", "charged", "payment", "refund",
		"subscription", "plan", "price", "cost", "cancel", "overcharged",
	}
)

// Classify matches the message against the keyword lists. Billing wins
// ties because billing vocabulary is the more specific of the two.
func (s *StaticClassifier) Classify(_ context.Context, message string, _ []model.Turn) (model.ClassificationResult, error) {
	lower := strings.ToLower(message)

	if matchesAny(lower, billingKeywords) {
		return model.ClassificationResult{
			Category:   model.CategoryBilling,
			Confidence: 0.75,
			Rationale:  "keyword match: billing vocabulary",
		}, nil
	}
	if matchesAny(lower, technicalKeywords) {
		return model.ClassificationResult{
			Category:   model.CategoryTechnical,
			Confidence: 0.75,
			Rationale:  "keyword match: technical vocabulary",
		}, nil
	}
	return model.ClassificationResult{
		Category:   model.CategoryUnknown,
		Confidence: 0.3,
		Rationale:  "no keyword match",
	}, nil
}

func matchesAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
