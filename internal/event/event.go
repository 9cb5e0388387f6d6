// Package event defines the notification event types and builds the wire
// payload sent to webhook recipients when a document-processing task changes
// state.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies a task state change worth notifying about.
type Type string

const (
	TypeProcessing     Type = "processing"
	TypeCompleted      Type = "completed"
	TypeFailed         Type = "failed"
	TypeReviewRequired Type = "review_required"
)

// Valid reports whether t is a recognized event type.
func (t Type) Valid() bool {
	switch t {
	case TypeProcessing, TypeCompleted, TypeFailed, TypeReviewRequired:
		return true
	}
	return false
}

// TypeFromTaskStatus maps a pipeline task status string to an event type.
// The pipeline reports statuses in upper snake case ("NEEDS_REVIEW"); the
// lower-case event names are also accepted so in-process callers can pass
// event types directly.
func TypeFromTaskStatus(status string) (Type, error) {
	switch status {
	case "PROCESSING", "processing":
		return TypeProcessing, nil
	case "COMPLETED", "completed":
		return TypeCompleted, nil
	case "FAILED", "failed":
		return TypeFailed, nil
	case "NEEDS_REVIEW", "REVIEW_REQUIRED", "review_required":
		return TypeReviewRequired, nil
	}
	return "", fmt.Errorf("unrecognized task status %q", status)
}

// Task is the minimal view of a processing task the builder needs: a stable
// identifier, the status string to report, and the event-specific extras the
// pipeline attached to the state change.
type Task struct {
	ID     string
	Status string
	Extra  map[string]any
}

// Payload is the fixed top-level shape of every notification body.
type Payload struct {
	Event     Type   `json:"event"`
	TaskID    string `json:"taskId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
	Data      any    `json:"data"`
}

// CompletedData is the data block for completed tasks.
type CompletedData struct {
	Confidence     float64 `json:"confidence"`
	Classification string  `json:"classification,omitempty"`
	ResultURL      string  `json:"resultUrl,omitempty"`
}

// FailedData is the data block for failed tasks. Retryable describes the
// upstream failure only; it has no bearing on this engine's retry policy.
type FailedData struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ReviewRequiredData is the data block for tasks escalated to human review.
type ReviewRequiredData struct {
	Reason      string `json:"reason"`
	EscalatedAt string `json:"escalatedAt"` // RFC3339
}

// ProcessingData is the data block for in-progress tasks.
type ProcessingData struct {
	Stage string `json:"stage,omitempty"`
}

// Build constructs the notification payload for a task state change. It is
// deterministic given identical inputs apart from the embedded timestamp,
// which the caller supplies. No network or storage side effects.
func Build(evt Type, task Task, now time.Time) (Payload, error) {
	if !evt.Valid() {
		return Payload{}, fmt.Errorf("unrecognized event type %q", evt)
	}
	if task.ID == "" {
		return Payload{}, fmt.Errorf("task id is required")
	}

	p := Payload{
		Event:     evt,
		TaskID:    task.ID,
		Status:    task.Status,
		Timestamp: now.UnixMilli(),
	}

	switch evt {
	case TypeCompleted:
		p.Data = CompletedData{
			Confidence:     extraFloat(task.Extra, "confidence"),
			Classification: extraString(task.Extra, "classification"),
			ResultURL:      extraString(task.Extra, "resultUrl"),
		}
	case TypeFailed:
		p.Data = FailedData{
			Code:      extraString(task.Extra, "errorCode"),
			Message:   extraString(task.Extra, "errorMessage"),
			Retryable: extraBool(task.Extra, "retryable"),
		}
	case TypeReviewRequired:
		escalated := extraString(task.Extra, "escalatedAt")
		if escalated == "" {
			escalated = now.UTC().Format(time.RFC3339)
		}
		p.Data = ReviewRequiredData{
			Reason:      extraString(task.Extra, "reason"),
			EscalatedAt: escalated,
		}
	case TypeProcessing:
		p.Data = ProcessingData{
			Stage: extraString(task.Extra, "stage"),
		}
	}

	return p, nil
}

// Marshal serializes the payload to the exact bytes that will be signed and
// sent. Retries must resend these bytes unchanged.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func extraString(extra map[string]any, key string) string {
	if extra == nil {
		return ""
	}
	if s, ok := extra[key].(string); ok {
		return s
	}
	return ""
}

func extraFloat(extra map[string]any, key string) float64 {
	if extra == nil {
		return 0
	}
	switch v := extra[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0
}

func extraBool(extra map[string]any, key string) bool {
	if extra == nil {
		return false
	}
	if b, ok := extra[key].(bool); ok {
		return b
	}
	return false
}
