package models

import "time"

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxRetry     OutboxStatus = "retry"
	OutboxCompleted OutboxStatus = "completed"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxEntry is a feed event persisted in the same transaction as the
// booking change that produced it, waiting for external delivery.
type OutboxEntry struct {
	ID          int64        `json:"id"`
	EventID     string       `json:"event_id"`
	BookingID   string       `json:"booking_id"`
	Payload     string       `json:"payload"`
	Status      OutboxStatus `json:"status"`
	RetryCount  int          `json:"retry_count"`
	LastError   string       `json:"last_error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty"`
	NextRetryAt *time.Time   `json:"next_retry_at,omitempty"`
}
