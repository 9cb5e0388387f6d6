package logging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestLogEntryFluentFields(t *testing.T) {
	logger := New("test-service")

	entry := logger.Plain().
		WithTask("task-1").
		WithDelivery("delivery-1").
		WithEventType("completed").
		WithTarget("https://hooks.example.com").
		WithField("attempt", 2).
		WithFields(map[string]any{"http_status": 503}).
		WithError(errors.New("boom"))

	if entry.Service != "test-service" {
		t.Errorf("Service = %q, want test-service", entry.Service)
	}
	if entry.TaskID != "task-1" {
		t.Errorf("TaskID = %q", entry.TaskID)
	}
	if entry.DeliveryID != "delivery-1" {
		t.Errorf("DeliveryID = %q", entry.DeliveryID)
	}
	if entry.EventType != "completed" {
		t.Errorf("EventType = %q", entry.EventType)
	}
	if entry.Target != "https://hooks.example.com" {
		t.Errorf("Target = %q", entry.Target)
	}
	if entry.Fields["attempt"] != 2 {
		t.Errorf("Fields[attempt] = %v, want 2", entry.Fields["attempt"])
	}
	if entry.Fields["http_status"] != 503 {
		t.Errorf("Fields[http_status] = %v, want 503", entry.Fields["http_status"])
	}
	if entry.Fields["error"] != "boom" {
		t.Errorf("Fields[error] = %v, want boom", entry.Fields["error"])
	}
}

func TestWithErrorNilIsNoop(t *testing.T) {
	entry := New("test").Plain().WithError(nil)
	if _, ok := entry.Fields["error"]; ok {
		t.Errorf("WithError(nil) set an error field")
	}
}

func TestWithContextNoTrace(t *testing.T) {
	entry := New("test").WithContext(context.Background())
	if entry.TraceID != "" {
		t.Errorf("TraceID = %q, want empty without an active span", entry.TraceID)
	}
}

func TestLogEntryJSONShape(t *testing.T) {
	entry := New("test").Plain().WithTask("task-1").WithField("k", "v")
	entry.Level = LevelInfo
	entry.Message = "hello"

	b, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if decoded["msg"] != "hello" {
		t.Errorf("msg = %v", decoded["msg"])
	}
	if decoded["level"] != "info" {
		t.Errorf("level = %v", decoded["level"])
	}
	if decoded["task_id"] != "task-1" {
		t.Errorf("task_id = %v", decoded["task_id"])
	}
	// Empty optional fields stay out of the output.
	for _, key := range []string{"delivery_id", "event_type", "target", "trace_id"} {
		if _, ok := decoded[key]; ok {
			t.Errorf("unset field %q serialized: %s", key, b)
		}
	}
}
