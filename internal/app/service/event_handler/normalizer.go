package event_handler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/funnelcoach/relay/pkg/types"
)

// Projection is the normalized form of a billing event: everything the
// contact sync needs, nothing provider-specific left.
type Projection struct {
	StatusTags []types.StatusTag
	EventTags  []string
	Identity   types.ContactIdentity
	// CustomerRef is set when the event carries no email of its own and the
	// identity must be resolved through the billing provider's API.
	CustomerRef string
	Fields      types.AuditFields
	Status      types.LifecycleStatus
	OccurredAt  time.Time
}

// NewTags returns the full tag set this event contributes: status tags plus
// per-event idempotency tags.
func (p *Projection) NewTags() []string {
	tags := make([]string, 0, len(p.StatusTags)+len(p.EventTags))
	for _, t := range p.StatusTags {
		tags = append(tags, string(t))
	}
	return append(tags, p.EventTags...)
}

// Local payload views. Only the fields this pipeline reads are declared;
// everything else in the provider payload is opaque.
type checkoutSession struct {
	ID              string `json:"id"`
	Customer        string `json:"customer"`
	Subscription    string `json:"subscription"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		Phone string `json:"phone"`
	} `json:"customer_details"`
}

type invoicePayload struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	CustomerEmail string `json:"customer_email"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
}

type subscriptionPayload struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Customer string `json:"customer"`
}

// Normalize maps a verified billing event onto the internal status
// vocabulary, contact identity, audit fields and idempotency tags. The
// second return is false for event types this service deliberately ignores.
func Normalize(event *stripe.Event) (*Projection, bool, error) {
	occurredAt := time.Unix(event.Created, 0)

	base := func() *Projection {
		return &Projection{
			Fields: types.AuditFields{
				types.FieldLastEventType: string(event.Type),
				types.FieldLastEventTime: types.FormatEventTime(occurredAt),
			},
			OccurredAt: occurredAt,
		}
	}

	switch event.Type {
	case "checkout.session.completed":
		var session checkoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, false, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		p := base()
		p.Status = types.LifecycleStatusTrial
		p.StatusTags = []types.StatusTag{types.StatusTagTrialCheckout}
		p.EventTags = []string{types.EventTag(types.EventTagKindSession, session.ID)}
		email := session.CustomerDetails.Email
		if email == "" {
			email = session.CustomerEmail
		}
		first, last := splitName(session.CustomerDetails.Name)
		p.Identity = types.ContactIdentity{
			Email:     email,
			FirstName: first,
			LastName:  last,
			Phone:     session.CustomerDetails.Phone,
		}
		p.Fields[types.FieldLastSessionID] = session.ID
		if session.Subscription != "" {
			p.Fields[types.FieldLastSubscriptionID] = session.Subscription
		}
		return finish(p), true, nil

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv invoicePayload
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, false, fmt.Errorf("failed to decode invoice: %w", err)
		}
		p := base()
		if event.Type == "invoice.payment_succeeded" {
			p.Status = types.LifecycleStatusActive
			p.StatusTags = []types.StatusTag{types.StatusTagPaymentSucceeded}
		} else {
			p.Status = types.LifecycleStatusDunning
			p.StatusTags = []types.StatusTag{types.StatusTagPaymentFailed}
		}
		p.EventTags = []string{types.EventTag(types.EventTagKindInvoice, inv.ID)}
		if inv.Subscription != "" {
			p.EventTags = append(p.EventTags, types.EventTag(types.EventTagKindSubscription, inv.Subscription))
			p.Fields[types.FieldLastSubscriptionID] = inv.Subscription
		}
		first, last := splitName(inv.CustomerName)
		p.Identity = types.ContactIdentity{
			Email:     inv.CustomerEmail,
			FirstName: first,
			LastName:  last,
			Phone:     inv.CustomerPhone,
		}
		p.Fields[types.FieldLastInvoiceID] = inv.ID
		return finish(p), true, nil

	case "customer.subscription.deleted":
		var sub subscriptionPayload
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, false, fmt.Errorf("failed to decode subscription: %w", err)
		}
		p := base()
		p.Status = types.LifecycleStatusCanceled
		p.StatusTags = []types.StatusTag{types.StatusTagSubCanceled}
		p.EventTags = []string{types.EventTag(types.EventTagKindSubscription, sub.ID)}
		p.CustomerRef = sub.Customer
		p.Fields[types.FieldLastSubscriptionID] = sub.ID
		return finish(p), true, nil

	case "customer.subscription.updated":
		var sub subscriptionPayload
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, false, fmt.Errorf("failed to decode subscription: %w", err)
		}
		// Only an update landing on "active" is a state worth projecting.
		if sub.Status != "active" {
			return nil, false, nil
		}
		p := base()
		p.Status = types.LifecycleStatusActive
		p.StatusTags = []types.StatusTag{types.StatusTagPaymentSucceeded, types.StatusTagSubActive}
		p.EventTags = []string{types.EventTag(types.EventTagKindSubscription, sub.ID)}
		p.CustomerRef = sub.Customer
		p.Fields[types.FieldLastSubscriptionID] = sub.ID
		return finish(p), true, nil
	}

	return nil, false, nil
}

func finish(p *Projection) *Projection {
	p.Fields[types.FieldSubscriptionStatus] = string(p.Status)
	return p
}

// splitName splits a display name into first and last. Everything after the
// first token is the last name.
func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
