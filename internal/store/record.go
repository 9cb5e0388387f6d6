package store

import (
	"time"

	"github.com/docsignal/docsignal/internal/event"
)

// Status is the delivery lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusDelivered Status = "delivered"
	StatusRetrying  Status = "retrying"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further dispatch may happen for this status.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSending, StatusDelivered, StatusRetrying, StatusFailed:
		return true
	}
	return false
}

// DeliveryRecord is the durable unit of work for one notification: the exact
// signed bytes to send, where to send them, and the attempt bookkeeping.
// Payload, Signature and TimestampUsed are fixed at creation; retries resend
// the identical bytes.
type DeliveryRecord struct {
	ID            string
	TaskID        string
	EventType     event.Type
	TargetURL     string
	Payload       []byte
	Signature     string
	TimestampUsed int64 // epoch milliseconds the signature was computed over

	Status      Status
	Attempts    int
	MaxAttempts int
	NextRetryAt *time.Time // non-nil iff Status == retrying

	LastHTTPStatus int
	LastError      string
	LastAttemptAt  *time.Time

	CreatedAt   time.Time
	CompletedAt *time.Time // set on entering delivered or failed
}

// Stats are aggregate delivery counts over a creation-time window.
type Stats struct {
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Delivered int64     `json:"delivered"`
	Failed    int64     `json:"failed"`
	Retrying  int64     `json:"retrying"`
	Pending   int64     `json:"pending"`
	Sending   int64     `json:"sending"`
}
