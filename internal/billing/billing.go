// Package billing is an in-memory billing backend: seeded subscriptions,
// a refund-case counter, and the refund policy text. It stands in for
// the real billing system during development and demos.
package billing

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Subscription is a customer's current plan.
type Subscription struct {
	UserID      string  `json:"user_id"`
	Plan        string  `json:"plan"`
	MonthlyCost float64 `json:"monthly_cost"`
	Status      string  `json:"status"` // "active" or "cancelled"
	RenewsOn    string  `json:"renews_on"`
}

// RefundCase is an opened refund request.
type RefundCase struct {
	Reference string    `json:"reference"`
	UserID    string    `json:"user_id"`
	Amount    float64   `json:"amount"`
	Reason    string    `json:"reason"`
	OpenedAt  time.Time `json:"opened_at"`
}

// ErrNoSubscription is returned for users without a subscription on file.
var ErrNoSubscription = fmt.Errorf("billing: no subscription on file")

// Service answers subscription lookups and opens refund cases. Case
// references are sequential (REF-1001, REF-1002, ...).
type Service struct {
	mu            sync.Mutex
	subscriptions map[string]Subscription
	cases         []RefundCase
	nextCase      int
}

// NewService creates a service seeded with demo subscriptions.
func NewService() *Service {
	return &Service{
		subscriptions: map[string]Subscription{
			"user-1001": {UserID: "user-1001", Plan: "Fiber 500", MonthlyCost: 49.99, Status: "active", RenewsOn: "2026-09-01"},
			"user-1002": {UserID: "user-1002", Plan: "Fiber 1000", MonthlyCost: 79.99, Status: "active", RenewsOn: "2026-09-12"},
			"user-1003": {UserID: "user-1003", Plan: "DSL Basic", MonthlyCost: 29.99, Status: "cancelled", RenewsOn: ""},
		},
		nextCase: 1001,
	}
}

// GetSubscription looks up the subscription for a user.
func (s *Service) GetSubscription(_ context.Context, userID string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		return Subscription{}, fmt.Errorf("%w for %s", ErrNoSubscription, userID)
	}
	return sub, nil
}

// OpenRefundCase opens a refund case for an active subscriber. A zero
// amount defaults to one month of the user's plan.
func (s *Service) OpenRefundCase(_ context.Context, userID, reason string, amount float64, now time.Time) (RefundCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		return RefundCase{}, fmt.Errorf("%w for %s", ErrNoSubscription, userID)
	}
	if sub.Status != "active" {
		return RefundCase{}, fmt.Errorf("billing: subscription for %s is %s, refunds require an active plan", userID, sub.Status)
	}
	if amount <= 0 {
		amount = sub.MonthlyCost
	}

	c := RefundCase{
		Reference: fmt.Sprintf("REF-%d", s.nextCase),
		UserID:    userID,
		Amount:    amount,
		Reason:    reason,
		OpenedAt:  now,
	}
	s.nextCase++
	s.cases = append(s.cases, c)
	return c, nil
}

// RefundPolicy returns the current refund policy text.
func (s *Service) RefundPolicy(context.Context) string {
	return "Refunds for service outages are prorated by outage duration. " +
		"Full-month refunds require an outage longer than 72 hours. " +
		"Refund cases are reviewed within 5 business days."
}

// Cases returns a copy of all opened refund cases, oldest first.
func (s *Service) Cases() []RefundCase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RefundCase(nil), s.cases...)
}
