package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSubscription(t *testing.T) {
	svc := NewService()

	sub, err := svc.GetSubscription(context.Background(), "user-1001")
	require.NoError(t, err)
	assert.Equal(t, "Fiber 500", sub.Plan)
	assert.Equal(t, "active", sub.Status)

	_, err = svc.GetSubscription(context.Background(), "stranger")
	assert.ErrorIs(t, err, ErrNoSubscription)
}

func TestOpenRefundCaseSequencesReferences(t *testing.T) {
	svc := NewService()
	now := time.Now()

	first, err := svc.OpenRefundCase(context.Background(), "user-1001", "outage", 0, now)
	require.NoError(t, err)
	second, err := svc.OpenRefundCase(context.Background(), "user-1002", "double charge", 15, now)
	require.NoError(t, err)

	assert.Equal(t, "REF-1001", first.Reference)
	assert.Equal(t, "REF-1002", second.Reference)
	assert.Len(t, svc.Cases(), 2)
}

func TestOpenRefundCaseDefaultsToMonthlyCost(t *testing.T) {
	svc := NewService()

	c, err := svc.OpenRefundCase(context.Background(), "user-1001", "outage", 0, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 49.99, c.Amount, 1e-9)

	c, err = svc.OpenRefundCase(context.Background(), "user-1001", "outage", 12.50, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 12.50, c.Amount, 1e-9)
}

func TestOpenRefundCaseRequiresActivePlan(t *testing.T) {
	svc := NewService()

	_, err := svc.OpenRefundCase(context.Background(), "user-1003", "outage", 0, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")

	_, err = svc.OpenRefundCase(context.Background(), "stranger", "outage", 0, time.Now())
	assert.ErrorIs(t, err, ErrNoSubscription)
}
