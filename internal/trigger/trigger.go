// Package trigger is the integration point between the document-processing
// pipeline and the delivery engine. A task state change becomes at most one
// new delivery record plus an immediate dispatch attempt; nothing here ever
// blocks the pipeline or returns a failure to it.
package trigger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/docsignal/docsignal/internal/event"
	"github.com/docsignal/docsignal/internal/logging"
	"github.com/docsignal/docsignal/internal/metrics"
	"github.com/docsignal/docsignal/internal/signing"
	"github.com/docsignal/docsignal/internal/store"
	"github.com/docsignal/docsignal/internal/tracing"
)

// Enqueuer hands a freshly created delivery to the dispatch workers.
type Enqueuer interface {
	Enqueue(id string) bool
}

// Config carries the trigger's tunables.
type Config struct {
	MaxAttempts int              // per-record attempt budget; <=0 uses 4
	Now         func() time.Time // injected clock; nil uses time.Now
}

// Trigger creates delivery records in response to task state changes.
type Trigger struct {
	store       store.Store
	resolver    RecipientResolver
	enqueuer    Enqueuer
	logger      *logging.Logger
	maxAttempts int
	now         func() time.Time
}

func New(st store.Store, resolver RecipientResolver, enqueuer Enqueuer, logger *logging.Logger, cfg Config) *Trigger {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Trigger{
		store:       st,
		resolver:    resolver,
		enqueuer:    enqueuer,
		logger:      logger,
		maxAttempts: maxAttempts,
		now:         now,
	}
}

// OnTaskStateChange handles one task state change. It resolves the recipient,
// builds and signs the payload, persists a pending record, and enqueues the
// first attempt. All failures are logged and swallowed: notification is
// best-effort from the pipeline's perspective.
func (t *Trigger) OnTaskStateChange(ctx context.Context, taskID, newStatus string, extra map[string]any) {
	ctx, span := tracing.StartSpan(ctx, "trigger.task_state_change",
		attribute.String("task_id", taskID),
		attribute.String("task_status", newStatus),
	)
	defer span.End()

	evt, err := event.TypeFromTaskStatus(newStatus)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		t.logger.WithContext(ctx).WithTask(taskID).WithError(err).Warn("ignoring unrecognized task status")
		return
	}
	metrics.RecordEventReceived(string(evt))

	recipient, ok, err := t.resolver.Resolve(ctx, taskID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		t.logger.WithContext(ctx).WithTask(taskID).WithError(err).Error("recipient lookup failed")
		return
	}
	if !ok {
		// Not every task has a registered notification target.
		metrics.RecordEventSkipped()
		t.logger.WithContext(ctx).WithTask(taskID).WithEventType(string(evt)).Info("no recipient configured, skipping")
		return
	}

	now := t.now()
	payload, err := event.Build(evt, event.Task{ID: taskID, Status: newStatus, Extra: extra}, now)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		t.logger.WithContext(ctx).WithTask(taskID).WithError(err).Error("payload build failed")
		return
	}
	body, err := payload.Marshal()
	if err != nil {
		tracing.SetSpanError(ctx, err)
		t.logger.WithContext(ctx).WithTask(taskID).WithError(err).Error("payload marshal failed")
		return
	}

	// The timestamp and signature are fixed here for the record's lifetime;
	// retries resend these exact bytes and headers.
	ts := now.UnixMilli()
	rec := &store.DeliveryRecord{
		ID:            uuid.NewString(),
		TaskID:        taskID,
		EventType:     evt,
		TargetURL:     recipient.URL,
		Payload:       body,
		Signature:     signing.Sign(recipient.Secret, ts, body),
		TimestampUsed: ts,
		Status:        store.StatusPending,
		MaxAttempts:   t.maxAttempts,
		CreatedAt:     now,
	}
	if err := t.store.Create(ctx, rec); err != nil {
		tracing.SetSpanError(ctx, err)
		t.logger.WithContext(ctx).WithTask(taskID).WithError(err).Error("delivery create failed")
		return
	}
	span.SetAttributes(attribute.String("delivery_id", rec.ID))

	tracing.AddSpanEvent(ctx, "dispatch.enqueue_immediate")
	t.enqueuer.Enqueue(rec.ID)
	t.logger.WithContext(ctx).WithTask(taskID).WithDelivery(rec.ID).
		WithEventType(string(evt)).WithTarget(recipient.URL).Info("delivery created")
}
