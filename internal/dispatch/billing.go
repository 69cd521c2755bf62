package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/madoguchi-ai/madoguchi/internal/billing"
	"github.com/madoguchi-ai/madoguchi/internal/model"
)

// Billing resolves billing turns against the billing backend. Intent is
// matched by keyword; anything unmatched gets the subscription summary,
// which covers the common "what am I paying for" case.
type Billing struct {
	svc *billing.Service
	now func() time.Time
}

// NewBilling creates the billing specialist.
func NewBilling(svc *billing.Service) *Billing {
	return &Billing{svc: svc, now: time.Now}
}

// Respond matches the message to a billing intent and composes the
// reply from backend data.
func (b *Billing) Respond(ctx context.Context, message string, state *model.ConversationState, _ model.RouteDecision, _ *model.RetrievalResult) (Reply, error) {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "refund") || strings.Contains(lower, "money back"):
		if strings.Contains(lower, "policy") || strings.Contains(lower, "how do refunds") {
			return Reply{Text: b.svc.RefundPolicy(ctx), Route: model.RouteBilling}, nil
		}
		return b.openRefund(ctx, message, state)

	case strings.Contains(lower, "cancel"):
		return b.cancellation(ctx, state)

	default:
		return b.subscriptionSummary(ctx, state)
	}
}

func (b *Billing) openRefund(ctx context.Context, reason string, state *model.ConversationState) (Reply, error) {
	c, err := b.svc.OpenRefundCase(ctx, state.UserID, reason, 0, b.now())
	if err != nil {
		// Policy refusals are an answer, not a failure.
		return Reply{
			Text: fmt.Sprintf("I couldn't open a refund case: %v. "+
				"If you think this is wrong, our billing team can review it manually.", err),
			Route: model.RouteBilling,
		}, nil
	}
	return Reply{
		Text: fmt.Sprintf("I've opened refund case %s for $%.2f. %s",
			c.Reference, c.Amount, b.svc.RefundPolicy(ctx)),
		Route: model.RouteBilling,
	}, nil
}

func (b *Billing) cancellation(ctx context.Context, state *model.ConversationState) (Reply, error) {
	sub, err := b.svc.GetSubscription(ctx, state.UserID)
	if err != nil {
		return Reply{
			Text:  "I couldn't find a subscription on file for your account, so there's nothing to cancel.",
			Route: model.RouteBilling,
		}, nil
	}
	if sub.Status != "active" {
		return Reply{
			Text:  fmt.Sprintf("Your %s plan is already %s.", sub.Plan, sub.Status),
			Route: model.RouteBilling,
		}, nil
	}
	return Reply{
		Text: fmt.Sprintf("Your %s plan ($%.2f/month) renews on %s. "+
			"Cancellation takes effect at the end of the current billing period. "+
			"Reply \"confirm cancellation\" and our billing team will process it.",
			sub.Plan, sub.MonthlyCost, sub.RenewsOn),
		Route: model.RouteBilling,
	}, nil
}

func (b *Billing) subscriptionSummary(ctx context.Context, state *model.ConversationState) (Reply, error) {
	sub, err := b.svc.GetSubscription(ctx, state.UserID)
	if err != nil {
		return Reply{
			Text: "I couldn't find a subscription for your account. " +
				"Could you confirm the account number or email on the bill?",
			Route:              model.RouteBilling,
			NeedsClarification: true,
		}, nil
	}
	return Reply{
		Text: fmt.Sprintf("You're on the %s plan at $%.2f/month (status: %s, renews %s). "+
			"What would you like to do: review a charge, request a refund, or change the plan?",
			sub.Plan, sub.MonthlyCost, sub.Status, sub.RenewsOn),
		Route: model.RouteBilling,
	}, nil
}
