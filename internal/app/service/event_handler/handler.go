package event_handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/funnelcoach/relay/internal/models"
	"github.com/funnelcoach/relay/internal/platform/billing"
	cfgpkg "github.com/funnelcoach/relay/pkg/config"
	"github.com/funnelcoach/relay/pkg/logctx"
	"github.com/funnelcoach/relay/pkg/types"
)

// ErrInvalidSignature marks a webhook delivery that failed authentication.
// The HTTP layer maps it to a client error; nothing downstream runs.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// EventRecorder persists webhook audit rows.
type EventRecorder interface {
	Save(ctx context.Context, row *models.WebhookEventLog)
}

// ContactSyncer projects a normalized event onto the CRM.
type ContactSyncer interface {
	SyncContact(ctx context.Context, identity types.ContactIdentity, newTags []string, fields types.AuditFields) (string, error)
}

type Handler struct {
	cfg       *cfgpkg.Config
	recorder  EventRecorder
	sync      ContactSyncer
	customers billing.CustomerLookup
	Logger    *zap.SugaredLogger
}

func NewHandler(cfg *cfgpkg.Config, recorder EventRecorder, sync ContactSyncer, customers billing.CustomerLookup, log *zap.SugaredLogger) *Handler {
	return &Handler{cfg: cfg, recorder: recorder, sync: sync, customers: customers, Logger: log}
}

// HandleStripeEvent verifies a raw webhook delivery against the signing
// secret, normalizes it and runs the contact sync. Verification works on the
// exact original bytes; any parsing before it would invalidate the signature.
//
// CRM failures are logged and swallowed so the billing provider never
// retries on a downstream outage. Only signature failures and unexpected
// errors propagate.
func (h *Handler) HandleStripeEvent(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.cfg.Stripe.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	log := logctx.FromCtx(ctx, h.Logger)

	proj, actionable, err := Normalize(&event)
	if err != nil {
		eventCnt.WithLabelValues(string(event.Type), "error").Inc()
		return fmt.Errorf("failed to normalize event %s: %w", event.ID, err)
	}
	if !actionable {
		eventCnt.WithLabelValues(string(event.Type), "ignored").Inc()
		log.Infow("event ignored", "event_id", event.ID, "type", event.Type)
		return nil
	}

	var traceID string
	if v, ok := ctx.Value("traceID").(string); ok {
		traceID = v
	}

	h.recorder.Save(ctx, &models.WebhookEventLog{
		EventID:   event.ID,
		EventType: string(event.Type),
		Email:     emailPtr(proj.Identity.Email),
		TraceID:   traceID,
		EventTime: proj.OccurredAt,
		Payload:   datatypes.JSON(event.Data.Raw),
		Status:    models.WebhookEventLogStatusReceived,
	})

	status := models.WebhookEventLogStatusHandled
	result := map[string]any{}
	defer func() {
		resBytes, _ := json.Marshal(result)
		h.recorder.Save(ctx, &models.WebhookEventLog{
			EventID:   event.ID,
			EventType: string(event.Type),
			Email:     emailPtr(proj.Identity.Email),
			TraceID:   traceID,
			EventTime: proj.OccurredAt,
			Payload:   datatypes.JSON(event.Data.Raw),
			Result:    lo.ToPtr(datatypes.JSON(resBytes)),
			Status:    status,
		})
	}()

	if proj.Identity.Email == "" && proj.CustomerRef != "" {
		email, lookupErr := h.customers.CustomerEmail(ctx, proj.CustomerRef)
		if lookupErr != nil {
			// Fail soft: an unresolvable identity falls through to the
			// drop policy below.
			log.Warnw("customer lookup failed", "event_id", event.ID,
				"customer", proj.CustomerRef, "error", lookupErr.Error())
		} else {
			proj.Identity.Email = email
		}
	}

	if proj.Identity.Email == "" {
		// Email is the only viable join key. No retry, no external call.
		eventCnt.WithLabelValues(string(event.Type), "dropped").Inc()
		status = models.WebhookEventLogStatusDropped
		result["reason"] = "no resolvable email"
		log.Warnw("event dropped, no resolvable email", "event_id", event.ID, "type", event.Type)
		return nil
	}

	contactID, syncErr := h.sync.SyncContact(ctx, proj.Identity, proj.NewTags(), proj.Fields)
	if syncErr != nil {
		eventCnt.WithLabelValues(string(event.Type), "failed").Inc()
		status = models.WebhookEventLogStatusHandleFailed
		result["error"] = syncErr.Error()
		log.Errorw("contact sync failed, event acknowledged anyway",
			"event_id", event.ID, "type", event.Type, "error", syncErr.Error())
		return nil
	}

	eventCnt.WithLabelValues(string(event.Type), "handled").Inc()
	result["contact_id"] = contactID
	log.Infow("event handled", "event_id", event.ID, "type", event.Type, "contact_id", contactID)
	return nil
}

func emailPtr(email string) *string {
	if email == "" {
		return nil
	}
	return lo.ToPtr(email)
}
