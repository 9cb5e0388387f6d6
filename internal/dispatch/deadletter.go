package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/docsignal/docsignal/internal/logging"
	"github.com/docsignal/docsignal/internal/store"
)

// DeadLetterType tags the envelope published when a delivery exhausts its
// attempts.
const DeadLetterType = "delivery.dead"

// DeadLetter is the operator-facing record of a permanent failure.
type DeadLetter struct {
	Type       string `json:"type"`    // "delivery.dead"
	Version    string `json:"version"` // schema version
	At         string `json:"at"`      // RFC3339 time the alert was emitted
	Reason     string `json:"reason"`  // human/debug text
	Attempts   int    `json:"attempts"`
	HTTPStatus int    `json:"http_status,omitempty"`
	LastError  string `json:"last_error,omitempty"`

	DeliveryID string `json:"delivery_id"`
	TaskID     string `json:"task_id"`
	EventType  string `json:"event_type"`
	TargetURL  string `json:"target_url"`
}

// NewDeadLetter snapshots a failed delivery record into an alert envelope.
func NewDeadLetter(rec *store.DeliveryRecord, reason string) DeadLetter {
	return DeadLetter{
		Type:       DeadLetterType,
		Version:    "v1",
		At:         time.Now().UTC().Format(time.RFC3339Nano),
		Reason:     reason,
		Attempts:   rec.Attempts,
		HTTPStatus: rec.LastHTTPStatus,
		LastError:  rec.LastError,
		DeliveryID: rec.ID,
		TaskID:     rec.TaskID,
		EventType:  string(rec.EventType),
		TargetURL:  rec.TargetURL,
	}
}

// Alerter is the permanent-failure notification path. Implementations must
// not block dispatch for long and must never return the failure to the
// processing pipeline.
type Alerter interface {
	PermanentFailure(ctx context.Context, rec *store.DeliveryRecord, reason string)
}

// NSQAlerter publishes dead-letter envelopes to an NSQ topic for operator
// tooling to consume.
type NSQAlerter struct {
	producer *nsq.Producer
	topic    string
	logger   *logging.Logger
}

func NewNSQAlerter(producer *nsq.Producer, topic string, logger *logging.Logger) *NSQAlerter {
	return &NSQAlerter{producer: producer, topic: topic, logger: logger}
}

func (a *NSQAlerter) PermanentFailure(ctx context.Context, rec *store.DeliveryRecord, reason string) {
	env := NewDeadLetter(rec, reason)
	b, err := json.Marshal(env)
	if err != nil {
		a.logger.WithContext(ctx).WithDelivery(rec.ID).WithError(err).Error("dead letter marshal failed")
		return
	}
	if err := a.producer.Publish(a.topic, b); err != nil {
		a.logger.WithContext(ctx).WithDelivery(rec.ID).WithError(err).Error("dead letter publish failed")
		return
	}
	a.logger.WithContext(ctx).WithDelivery(rec.ID).WithField("topic", a.topic).Info("dead letter published")
}

// LogAlerter is the fallback alert path when no DLQ topic is configured: the
// permanent failure is still surfaced, just only in the logs.
type LogAlerter struct {
	logger *logging.Logger
}

func NewLogAlerter(logger *logging.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) PermanentFailure(ctx context.Context, rec *store.DeliveryRecord, reason string) {
	a.logger.WithContext(ctx).
		WithDelivery(rec.ID).
		WithTask(rec.TaskID).
		WithTarget(rec.TargetURL).
		WithFields(map[string]any{
			"attempts":    rec.Attempts,
			"http_status": rec.LastHTTPStatus,
			"last_error":  rec.LastError,
			"reason":      reason,
		}).
		Error("delivery permanently failed")
}
