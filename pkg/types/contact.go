package types

import "time"

// LifecycleStatus is the internal subscription-lifecycle vocabulary billing
// events are normalized onto. It is what the CRM-side subscription_status
// custom field is written from.
type LifecycleStatus string

const (
	LifecycleStatusTrial    LifecycleStatus = "trial"
	LifecycleStatusActive   LifecycleStatus = "active"
	LifecycleStatusDunning  LifecycleStatus = "dunning"
	LifecycleStatusCanceled LifecycleStatus = "canceled"
)

// StatusTag is a CRM tag representing a billing lifecycle transition.
// Tags are append-only on the CRM side: superseded tags are never removed,
// because downstream automations key on their presence.
type StatusTag string

const (
	StatusTagTrialCheckout    StatusTag = "fc:trial_checkout"
	StatusTagPaymentSucceeded StatusTag = "fc:payment_succeeded"
	StatusTagSubActive        StatusTag = "fc:sub_active"
	StatusTagPaymentFailed    StatusTag = "fc:payment_failed"
	StatusTagSubCanceled      StatusTag = "fc:sub_canceled"
)

// Lifecycle maps a status tag to the internal lifecycle vocabulary.
func (t StatusTag) Lifecycle() LifecycleStatus {
	switch t {
	case StatusTagTrialCheckout:
		return LifecycleStatusTrial
	case StatusTagPaymentSucceeded, StatusTagSubActive:
		return LifecycleStatusActive
	case StatusTagPaymentFailed:
		return LifecycleStatusDunning
	case StatusTagSubCanceled:
		return LifecycleStatusCanceled
	}
	return ""
}

// Event tag kinds, one per billing-provider object carrying a unique id.
const (
	EventTagKindSession      = "cs"
	EventTagKindInvoice      = "in"
	EventTagKindSubscription = "sub"
)

// EventTag derives the per-event idempotency tag from a provider object id.
// The tag set on the CRM contact doubles as the delivery ledger, so repeated
// delivery of the same event converges to the same final tag set.
func EventTag(kind, id string) string {
	return "evt:" + kind + "_" + id
}

// ContactIdentity is the contact join key plus display attributes extracted
// from a billing event. Email is the only viable external join key; an
// identity without an email is unusable.
type ContactIdentity struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// Audit custom-field names written to the CRM contact on every event.
const (
	FieldLastSessionID      = "last_session_id"
	FieldLastInvoiceID      = "last_invoice_id"
	FieldLastSubscriptionID = "last_subscription_id"
	FieldLastEventType      = "last_event_type"
	FieldLastEventTime      = "last_event_time"
	FieldSubscriptionStatus = "subscription_status"
)

// AuditFields is the custom-field mapping written to the CRM contact.
// Values are last-write-wins except subscription_status, which is guarded
// by a last_event_time comparison in the sync service.
type AuditFields map[string]string

// FormatEventTime renders an event timestamp the way it is stored in the
// last_event_time custom field.
func FormatEventTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseEventTime parses a stored last_event_time value. The zero time and
// false are returned for empty or malformed values.
func ParseEventTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
