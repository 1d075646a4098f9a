package event_handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/funnelcoach/relay/internal/models"
	cfgpkg "github.com/funnelcoach/relay/pkg/config"
	"github.com/funnelcoach/relay/pkg/types"
)

const testWebhookSecret = "whsec_test"

type stubRecorder struct {
	mu   sync.Mutex
	rows []*models.WebhookEventLog
}

func (r *stubRecorder) Save(_ context.Context, row *models.WebhookEventLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
}

func (r *stubRecorder) last() *models.WebhookEventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rows) == 0 {
		return nil
	}
	return r.rows[len(r.rows)-1]
}

type stubSyncer struct {
	calls    int
	lastTags []string
	err      error
}

func (s *stubSyncer) SyncContact(_ context.Context, _ types.ContactIdentity, newTags []string, _ types.AuditFields) (string, error) {
	s.calls++
	s.lastTags = newTags
	return "contact_1", s.err
}

type stubLookup struct {
	calls int
	email string
	err   error
}

func (s *stubLookup) CustomerEmail(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.email, s.err
}

func newTestHandler(rec *stubRecorder, syncer *stubSyncer, lookup *stubLookup) *Handler {
	cfg := &cfgpkg.Config{}
	cfg.Stripe.WebhookSecret = testWebhookSecret
	return NewHandler(cfg, rec, syncer, lookup, zap.NewNop().Sugar())
}

// signPayload produces a valid Stripe-Signature header for payload.
func signPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(t *testing.T, eventType string, object map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":      "evt_1",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func TestHandleStripeEvent_InvalidSignature(t *testing.T) {
	rec := &stubRecorder{}
	syncer := &stubSyncer{}
	lookup := &stubLookup{}
	h := newTestHandler(rec, syncer, lookup)

	payload := eventPayload(t, "checkout.session.completed", map[string]any{"id": "cs_1"})

	err := h.HandleStripeEvent(context.Background(), payload, signPayload(payload, "whsec_wrong"))
	require.ErrorIs(t, err, ErrInvalidSignature)
	require.Zero(t, syncer.calls)
	require.Zero(t, lookup.calls)
	require.Empty(t, rec.rows)
}

func TestHandleStripeEvent_CheckoutCompleted(t *testing.T) {
	rec := &stubRecorder{}
	syncer := &stubSyncer{}
	lookup := &stubLookup{}
	h := newTestHandler(rec, syncer, lookup)

	payload := eventPayload(t, "checkout.session.completed", map[string]any{
		"id": "cs_1",
		"customer_details": map[string]any{
			"email": "a@x.com",
			"name":  "Jane Doe",
		},
	})

	err := h.HandleStripeEvent(context.Background(), payload, signPayload(payload, testWebhookSecret))
	require.NoError(t, err)
	require.Equal(t, 1, syncer.calls)
	require.Contains(t, syncer.lastTags, "fc:trial_checkout")
	require.Contains(t, syncer.lastTags, "evt:cs_cs_1")
	require.Zero(t, lookup.calls)

	last := rec.last()
	require.NotNil(t, last)
	require.Equal(t, models.WebhookEventLogStatusHandled, last.Status)
	require.Equal(t, "a@x.com", *last.Email)
}

func TestHandleStripeEvent_IgnoredType(t *testing.T) {
	rec := &stubRecorder{}
	syncer := &stubSyncer{}
	h := newTestHandler(rec, syncer, &stubLookup{})

	payload := eventPayload(t, "customer.created", map[string]any{"id": "cus_1"})

	err := h.HandleStripeEvent(context.Background(), payload, signPayload(payload, testWebhookSecret))
	require.NoError(t, err)
	require.Zero(t, syncer.calls)
	require.Empty(t, rec.rows)
}

func TestHandleStripeEvent_SecondaryLookup(t *testing.T) {
	rec := &stubRecorder{}
	syncer := &stubSyncer{}
	lookup := &stubLookup{email: "c@x.com"}
	h := newTestHandler(rec, syncer, lookup)

	payload := eventPayload(t, "customer.subscription.deleted", map[string]any{
		"id":       "sub_1",
		"customer": "cus_1",
	})

	err := h.HandleStripeEvent(context.Background(), payload, signPayload(payload, testWebhookSecret))
	require.NoError(t, err)
	require.Equal(t, 1, lookup.calls)
	require.Equal(t, 1, syncer.calls)
	require.Contains(t, syncer.lastTags, "fc:sub_canceled")
}

func TestHandleStripeEvent_UnresolvableIdentity_Dropped(t *testing.T) {
	rec := &stubRecorder{}
	syncer := &stubSyncer{}
	lookup := &stubLookup{err: errors.New("api down")}
	h := newTestHandler(rec, syncer, lookup)

	payload := eventPayload(t, "customer.subscription.deleted", map[string]any{
		"id":       "sub_1",
		"customer": "cus_1",
	})

	// Lookup failure falls through to the drop policy; the provider still
	// gets an ack so it does not retry something we chose not to process.
	err := h.HandleStripeEvent(context.Background(), payload, signPayload(payload, testWebhookSecret))
	require.NoError(t, err)
	require.Zero(t, syncer.calls)

	last := rec.last()
	require.NotNil(t, last)
	require.Equal(t, models.WebhookEventLogStatusDropped, last.Status)
}

func TestHandleStripeEvent_SyncFailure_Swallowed(t *testing.T) {
	rec := &stubRecorder{}
	syncer := &stubSyncer{err: errors.New("crm down")}
	h := newTestHandler(rec, syncer, &stubLookup{})

	payload := eventPayload(t, "invoice.payment_succeeded", map[string]any{
		"id":             "in_1",
		"customer_email": "a@x.com",
	})

	err := h.HandleStripeEvent(context.Background(), payload, signPayload(payload, testWebhookSecret))
	require.NoError(t, err)
	require.Equal(t, 1, syncer.calls)

	last := rec.last()
	require.NotNil(t, last)
	require.Equal(t, models.WebhookEventLogStatusHandleFailed, last.Status)
}
