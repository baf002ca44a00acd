package models

import "time"

// OutboxTask is a queued delivery of one event to one target.
type OutboxTask struct {
	ID          int64      `db:"id" json:"id"`
	EventType   string     `db:"event_type" json:"event_type"`
	Target      string     `db:"target" json:"target"`
	Payload     string     `db:"payload" json:"payload"`
	Status      string     `db:"status" json:"status"`
	RetryCount  int        `db:"retry_count" json:"retry_count"`
	LastError   *string    `db:"last_error" json:"last_error"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at"`
	NextRetryAt *time.Time `db:"next_retry_at" json:"next_retry_at"`
}
