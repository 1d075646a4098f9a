package event_handler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/funnelcoach/relay/pkg/types"
)

func makeEvent(t *testing.T, eventType string, object map[string]any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return &stripe.Event{
		ID:      "evt_test",
		Type:    stripe.EventType(eventType),
		Created: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}
}

func TestNormalize_CheckoutSessionCompleted(t *testing.T) {
	ev := makeEvent(t, "checkout.session.completed", map[string]any{
		"id": "cs_1",
		"customer_details": map[string]any{
			"email": "a@x.com",
			"name":  "Jane Doe",
		},
	})

	proj, ok, err := Normalize(ev)
	require.NoError(t, err)
	require.True(t, ok)

	require.Contains(t, proj.NewTags(), "fc:trial_checkout")
	require.Contains(t, proj.NewTags(), "evt:cs_cs_1")
	require.Equal(t, "a@x.com", proj.Identity.Email)
	require.Equal(t, "Jane", proj.Identity.FirstName)
	require.Equal(t, "Doe", proj.Identity.LastName)
	require.Equal(t, types.LifecycleStatusTrial, proj.Status)
	require.Equal(t, "cs_1", proj.Fields[types.FieldLastSessionID])
	require.Equal(t, "trial", proj.Fields[types.FieldSubscriptionStatus])
	require.Equal(t, "checkout.session.completed", proj.Fields[types.FieldLastEventType])
}

func TestNormalize_InvoicePaymentFailed(t *testing.T) {
	ev := makeEvent(t, "invoice.payment_failed", map[string]any{
		"id":             "in_1",
		"customer_email": "a@x.com",
		"subscription":   "sub_1",
	})

	proj, ok, err := Normalize(ev)
	require.NoError(t, err)
	require.True(t, ok)

	tags := proj.NewTags()
	require.Contains(t, tags, "fc:payment_failed")
	require.Contains(t, tags, "evt:in_in_1")
	require.Contains(t, tags, "evt:sub_sub_1")
	require.Equal(t, "a@x.com", proj.Identity.Email)
	require.Equal(t, types.LifecycleStatusDunning, proj.Status)
	require.Equal(t, "sub_1", proj.Fields[types.FieldLastSubscriptionID])
	require.Empty(t, proj.CustomerRef)
}

func TestNormalize_InvoicePaymentSucceeded(t *testing.T) {
	ev := makeEvent(t, "invoice.payment_succeeded", map[string]any{
		"id":             "in_2",
		"customer_email": "b@x.com",
	})

	proj, ok, err := Normalize(ev)
	require.NoError(t, err)
	require.True(t, ok)

	require.Contains(t, proj.NewTags(), "fc:payment_succeeded")
	require.Contains(t, proj.NewTags(), "evt:in_in_2")
	require.NotContains(t, proj.NewTags(), "evt:sub_")
	require.Equal(t, types.LifecycleStatusActive, proj.Status)
}

func TestNormalize_SubscriptionUpdated_NotActive(t *testing.T) {
	ev := makeEvent(t, "customer.subscription.updated", map[string]any{
		"id":       "sub_1",
		"status":   "past_due",
		"customer": "cus_1",
	})

	proj, ok, err := Normalize(ev)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, proj)
}

func TestNormalize_SubscriptionUpdated_Active(t *testing.T) {
	ev := makeEvent(t, "customer.subscription.updated", map[string]any{
		"id":       "sub_1",
		"status":   "active",
		"customer": "cus_1",
	})

	proj, ok, err := Normalize(ev)
	require.NoError(t, err)
	require.True(t, ok)

	tags := proj.NewTags()
	require.Contains(t, tags, "fc:payment_succeeded")
	require.Contains(t, tags, "fc:sub_active")
	require.Contains(t, tags, "evt:sub_sub_1")
	// No email on the payload; identity needs the secondary lookup.
	require.Empty(t, proj.Identity.Email)
	require.Equal(t, "cus_1", proj.CustomerRef)
}

func TestNormalize_SubscriptionDeleted(t *testing.T) {
	ev := makeEvent(t, "customer.subscription.deleted", map[string]any{
		"id":       "sub_9",
		"customer": "cus_9",
	})

	proj, ok, err := Normalize(ev)
	require.NoError(t, err)
	require.True(t, ok)

	require.Contains(t, proj.NewTags(), "fc:sub_canceled")
	require.Contains(t, proj.NewTags(), "evt:sub_sub_9")
	require.Equal(t, "cus_9", proj.CustomerRef)
	require.Equal(t, types.LifecycleStatusCanceled, proj.Status)
}

func TestNormalize_UnknownType_Ignored(t *testing.T) {
	ev := makeEvent(t, "customer.created", map[string]any{"id": "cus_1"})

	proj, ok, err := Normalize(ev)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, proj)
}

func TestSplitName(t *testing.T) {
	first, last := splitName("Jane Doe")
	require.Equal(t, "Jane", first)
	require.Equal(t, "Doe", last)

	first, last = splitName("Cher")
	require.Equal(t, "Cher", first)
	require.Empty(t, last)

	first, last = splitName("Mary Jane Watson")
	require.Equal(t, "Mary", first)
	require.Equal(t, "Jane Watson", last)

	first, last = splitName("")
	require.Empty(t, first)
	require.Empty(t, last)
}
