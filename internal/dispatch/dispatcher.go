// Package dispatch performs the signed HTTP POST for a delivery record and
// drives its state machine: pending/retrying -> sending -> delivered,
// retrying or failed.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/docsignal/docsignal/internal/logging"
	"github.com/docsignal/docsignal/internal/metrics"
	"github.com/docsignal/docsignal/internal/store"
	"github.com/docsignal/docsignal/internal/tracing"
)

// Outbound request headers. The signature is hex HMAC-SHA256 over
// "timestamp.body"; the timestamp is epoch milliseconds as a string.
const (
	HeaderEvent     = "X-DocSignal-Event"
	HeaderDelivery  = "X-DocSignal-Delivery"
	HeaderSignature = "X-DocSignal-Signature"
	HeaderTimestamp = "X-DocSignal-Timestamp"
)

// ErrNotAttempted is returned when a record could not be claimed for an
// attempt: it is in flight elsewhere, terminal, or out of attempts.
var ErrNotAttempted = errors.New("delivery not attempted")

// Config carries the dispatcher's tunables.
type Config struct {
	Schedule Schedule         // backoff lookup table; nil uses DefaultSchedule
	Alerter  Alerter          // permanent-failure path; nil logs only
	Now      func() time.Time // injected clock; nil uses time.Now
}

// Dispatcher performs delivery attempts. It holds no per-record state; the
// store is re-read (and the record claimed) at the start of every attempt.
type Dispatcher struct {
	store    store.Store
	client   *http.Client
	schedule Schedule
	alerter  Alerter
	logger   *logging.Logger
	now      func() time.Time
}

func New(st store.Store, client *http.Client, logger *logging.Logger, cfg Config) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	schedule := cfg.Schedule
	if len(schedule) == 0 {
		schedule = DefaultSchedule()
	}
	alerter := cfg.Alerter
	if alerter == nil {
		alerter = NewLogAlerter(logger)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		store:    st,
		client:   client,
		schedule: schedule,
		alerter:  alerter,
		logger:   logger,
		now:      now,
	}
}

// Attempt claims the record, performs exactly one signed HTTP POST, and
// persists the outcome. It returns the record's resulting status. The store
// update always happens after the network call completes, never before.
func (d *Dispatcher) Attempt(ctx context.Context, id string) (store.Status, error) {
	rec, err := d.store.BeginAttempt(ctx, id, d.now())
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", ErrNotAttempted
		}
		return "", fmt.Errorf("begin attempt: %w", err)
	}

	ctx, span := tracing.StartSpan(ctx, "dispatch.attempt",
		attribute.String("delivery_id", rec.ID),
		attribute.String("task_id", rec.TaskID),
		attribute.String("event_type", string(rec.EventType)),
		attribute.String("target_url", rec.TargetURL),
		attribute.Int("attempt", rec.Attempts),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rec.TargetURL, bytes.NewReader(rec.Payload))
	if err != nil {
		// Malformed target URL; burns the attempt like any transport error.
		return d.finishFailure(ctx, rec, 0, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(rec.EventType))
	req.Header.Set(HeaderDelivery, rec.ID)
	req.Header.Set(HeaderSignature, rec.Signature)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(rec.TimestampUsed, 10))
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	tracing.AddSpanEvent(ctx, "http.send_webhook")
	start := d.now()
	resp, doErr := d.client.Do(req)
	latency := time.Since(start)
	status := 0
	if doErr == nil {
		status = resp.StatusCode
		_ = resp.Body.Close()
	}

	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
	)
	if doErr != nil {
		span.SetAttributes(attribute.String("http.error", doErr.Error()))
	}

	if doErr == nil && status >= 200 && status < 300 {
		tracing.AddSpanEvent(ctx, "delivery.success")
		if err := d.store.MarkDelivered(ctx, rec.ID, status, d.now()); err != nil {
			tracing.SetSpanError(ctx, err)
			return "", fmt.Errorf("mark delivered: %w", err)
		}
		metrics.RecordDelivery("delivered", latency)
		d.logger.WithContext(ctx).WithDelivery(rec.ID).WithTask(rec.TaskID).
			WithField("attempt", rec.Attempts).Info("delivered")
		return store.StatusDelivered, nil
	}

	reason := classifyReason(doErr, status)
	span.SetAttributes(attribute.String("failure_reason", reason))
	metrics.RecordDelivery("failed_attempt", latency)
	return d.finishFailure(ctx, rec, status, attemptError(doErr, status))
}

// finishFailure records a failed attempt: schedule a retry if attempts
// remain, otherwise mark the record terminally failed and alert.
func (d *Dispatcher) finishFailure(ctx context.Context, rec *store.DeliveryRecord, httpStatus int, lastErr string) (store.Status, error) {
	if rec.Attempts < rec.MaxAttempts {
		delay := d.schedule.Delay(rec.Attempts)
		nextRetryAt := d.now().Add(delay)
		tracing.AddSpanEvent(ctx, "delivery.retry_scheduled",
			attribute.Int("attempt", rec.Attempts),
			attribute.String("delay", delay.String()),
		)
		if err := d.store.MarkRetrying(ctx, rec.ID, httpStatus, lastErr, nextRetryAt); err != nil {
			tracing.SetSpanError(ctx, err)
			return "", fmt.Errorf("mark retrying: %w", err)
		}
		metrics.RecordRetry(classifyFromAttempt(httpStatus, lastErr))
		d.logger.WithContext(ctx).WithDelivery(rec.ID).WithTask(rec.TaskID).WithFields(map[string]any{
			"attempt":     rec.Attempts,
			"http_status": httpStatus,
			"error":       lastErr,
			"delay":       delay.String(),
		}).Warn("delivery attempt failed, retry scheduled")
		return store.StatusRetrying, nil
	}

	tracing.AddSpanEvent(ctx, "delivery.permanent_failure", attribute.Int("attempt", rec.Attempts))
	completedAt := d.now()
	if err := d.store.MarkFailed(ctx, rec.ID, httpStatus, lastErr, completedAt); err != nil {
		tracing.SetSpanError(ctx, err)
		return "", fmt.Errorf("mark failed: %w", err)
	}
	metrics.RecordPermanentFailure()

	// Alert with the final diagnostics, not the stale pre-attempt snapshot.
	rec.Status = store.StatusFailed
	rec.LastHTTPStatus = httpStatus
	rec.LastError = lastErr
	rec.CompletedAt = &completedAt
	d.alerter.PermanentFailure(ctx, rec,
		fmt.Sprintf("max attempts reached (%d), last status=%d, err=%s", rec.Attempts, httpStatus, lastErr))
	return store.StatusFailed, nil
}

func attemptError(doErr error, status int) string {
	if doErr != nil {
		return doErr.Error()
	}
	return fmt.Sprintf("unexpected status %d", status)
}

func classifyReason(doErr error, status int) string {
	if doErr != nil {
		errLower := strings.ToLower(doErr.Error())
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "deadline exceeded") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		return "network"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status == 429 {
		return "http_429"
	}
	if status >= 400 {
		return "http_4xx"
	}
	return "other"
}

// classifyFromAttempt rebuilds the metric reason from the persisted
// diagnostics when the original error value is no longer at hand.
func classifyFromAttempt(status int, lastErr string) string {
	if status > 0 {
		return classifyReason(nil, status)
	}
	return classifyReason(errors.New(lastErr), 0)
}
