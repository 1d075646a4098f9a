package models

import (
	"time"

	"gorm.io/datatypes"
)

type WebhookEventLogStatus string

const (
	WebhookEventLogStatusReceived     WebhookEventLogStatus = "received"
	WebhookEventLogStatusHandled      WebhookEventLogStatus = "handled"
	WebhookEventLogStatusDropped      WebhookEventLogStatus = "dropped"
	WebhookEventLogStatusHandleFailed WebhookEventLogStatus = "handle_failed"
)

// WebhookEventLog records every verified billing event twice: once when it
// is received and once with the processing outcome. Rows are best-effort
// audit data; processing never depends on them.
type WebhookEventLog struct {
	ID        string                `gorm:"column:id;type:uuid;primary_key" json:"id"`
	EventID   string                `gorm:"column:event_id;type:varchar(128);index" json:"event_id"`
	EventType string                `gorm:"column:event_type;type:varchar(64);not null" json:"event_type"`
	Email     *string               `gorm:"column:email;type:varchar(320);index" json:"email"`
	TraceID   string                `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	EventTime time.Time             `gorm:"column:event_time" json:"event_time"`
	Payload   datatypes.JSON        `gorm:"column:payload;type:jsonb" json:"payload"`
	Result    *datatypes.JSON       `gorm:"column:result;type:jsonb" json:"result"`
	Status    WebhookEventLogStatus `gorm:"column:status;type:varchar(64);not null" json:"status"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

func (WebhookEventLog) TableName() string { return "webhook_event_log" }
