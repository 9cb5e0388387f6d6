package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newRecord(id, taskID string, status Status, createdAt time.Time) *DeliveryRecord {
	return &DeliveryRecord{
		ID:            id,
		TaskID:        taskID,
		EventType:     "completed",
		TargetURL:     "https://hooks.example.com/" + taskID,
		Payload:       []byte(`{"event":"completed"}`),
		Signature:     "deadbeef",
		TimestampUsed: createdAt.UnixMilli(),
		Status:        status,
		Attempts:      0,
		MaxAttempts:   4,
		CreatedAt:     createdAt,
	}
}

func TestBeginAttemptTransitions(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		status   Status
		attempts int
		wantErr  error
	}{
		{"claims pending", StatusPending, 0, nil},
		{"claims retrying", StatusRetrying, 2, nil},
		{"rejects sending", StatusSending, 1, ErrConflict},
		{"rejects delivered", StatusDelivered, 1, ErrConflict},
		{"rejects failed", StatusFailed, 4, ErrConflict},
		{"rejects exhausted attempts", StatusRetrying, 4, ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMemoryStore()
			rec := newRecord("d1", "task-1", tt.status, now)
			rec.Attempts = tt.attempts
			if tt.status == StatusRetrying {
				due := now.Add(-time.Minute)
				rec.NextRetryAt = &due
			}
			if err := s.Create(context.Background(), rec); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			got, err := s.BeginAttempt(context.Background(), "d1", now)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("BeginAttempt() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if got.Status != StatusSending {
				t.Errorf("Status = %q, want %q", got.Status, StatusSending)
			}
			if got.Attempts != tt.attempts+1 {
				t.Errorf("Attempts = %d, want %d", got.Attempts, tt.attempts+1)
			}
			if got.NextRetryAt != nil {
				t.Errorf("NextRetryAt = %v, want nil after claim", got.NextRetryAt)
			}
			if got.LastAttemptAt == nil || !got.LastAttemptAt.Equal(now) {
				t.Errorf("LastAttemptAt = %v, want %v", got.LastAttemptAt, now)
			}
		})
	}
}

func TestBeginAttemptMissingRecord(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.BeginAttempt(context.Background(), "nope", time.Now()); !errors.Is(err, ErrConflict) {
		t.Errorf("BeginAttempt() error = %v, want ErrConflict", err)
	}
}

func TestBeginAttemptSingleWinner(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	if err := s.Create(context.Background(), newRecord("d1", "task-1", StatusPending, now)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	const claimers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.BeginAttempt(context.Background(), "d1", now); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("concurrent BeginAttempt winners = %d, want exactly 1", wins)
	}
}

func TestMarkDelivered(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newRecord("d1", "task-1", StatusPending, now)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := s.BeginAttempt(ctx, "d1", now); err != nil {
		t.Fatalf("BeginAttempt() error = %v", err)
	}

	done := now.Add(200 * time.Millisecond)
	if err := s.MarkDelivered(ctx, "d1", 200, done); err != nil {
		t.Fatalf("MarkDelivered() error = %v", err)
	}

	rec, err := s.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Status != StatusDelivered {
		t.Errorf("Status = %q, want %q", rec.Status, StatusDelivered)
	}
	if rec.LastHTTPStatus != 200 {
		t.Errorf("LastHTTPStatus = %d, want 200", rec.LastHTTPStatus)
	}
	if rec.CompletedAt == nil || !rec.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v, want %v", rec.CompletedAt, done)
	}

	// Terminal: no further transitions.
	if err := s.MarkDelivered(ctx, "d1", 200, done); !errors.Is(err, ErrConflict) {
		t.Errorf("second MarkDelivered() error = %v, want ErrConflict", err)
	}
	if _, err := s.BeginAttempt(ctx, "d1", done); !errors.Is(err, ErrConflict) {
		t.Errorf("BeginAttempt() after delivery error = %v, want ErrConflict", err)
	}
}

func TestMarkRetryingAndFailedRequireSending(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newRecord("d1", "task-1", StatusPending, now)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := s.MarkRetrying(ctx, "d1", 500, "boom", now.Add(time.Minute)); !errors.Is(err, ErrConflict) {
		t.Errorf("MarkRetrying() on pending record error = %v, want ErrConflict", err)
	}
	if err := s.MarkFailed(ctx, "d1", 500, "boom", now); !errors.Is(err, ErrConflict) {
		t.Errorf("MarkFailed() on pending record error = %v, want ErrConflict", err)
	}

	if _, err := s.BeginAttempt(ctx, "d1", now); err != nil {
		t.Fatalf("BeginAttempt() error = %v", err)
	}
	next := now.Add(time.Minute)
	if err := s.MarkRetrying(ctx, "d1", 503, "503 from target", next); err != nil {
		t.Fatalf("MarkRetrying() error = %v", err)
	}

	rec, _ := s.Get(ctx, "d1")
	if rec.Status != StatusRetrying {
		t.Errorf("Status = %q, want %q", rec.Status, StatusRetrying)
	}
	if rec.NextRetryAt == nil || !rec.NextRetryAt.Equal(next) {
		t.Errorf("NextRetryAt = %v, want %v", rec.NextRetryAt, next)
	}
	if rec.LastError != "503 from target" {
		t.Errorf("LastError = %q", rec.LastError)
	}
}

func TestResetForRetry(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("resets failed record", func(t *testing.T) {
		s := NewMemoryStore()
		rec := newRecord("d1", "task-1", StatusFailed, now)
		rec.Attempts = 4
		done := now
		rec.CompletedAt = &done
		if err := s.Create(ctx, rec); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		later := now.Add(time.Hour)
		if err := s.ResetForRetry(ctx, "d1", later); err != nil {
			t.Fatalf("ResetForRetry() error = %v", err)
		}
		got, _ := s.Get(ctx, "d1")
		if got.Status != StatusRetrying {
			t.Errorf("Status = %q, want %q", got.Status, StatusRetrying)
		}
		if got.Attempts != 0 {
			t.Errorf("Attempts = %d, want 0", got.Attempts)
		}
		if got.NextRetryAt == nil || !got.NextRetryAt.Equal(later) {
			t.Errorf("NextRetryAt = %v, want %v", got.NextRetryAt, later)
		}
		if got.CompletedAt != nil {
			t.Errorf("CompletedAt = %v, want nil", got.CompletedAt)
		}
	})

	t.Run("rejects non-failed statuses", func(t *testing.T) {
		for _, status := range []Status{StatusPending, StatusSending, StatusRetrying, StatusDelivered} {
			s := NewMemoryStore()
			if err := s.Create(ctx, newRecord("d1", "task-1", status, now)); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if err := s.ResetForRetry(ctx, "d1", now); !errors.Is(err, ErrConflict) {
				t.Errorf("ResetForRetry() on %s error = %v, want ErrConflict", status, err)
			}
		}
	})

	t.Run("missing record", func(t *testing.T) {
		s := NewMemoryStore()
		if err := s.ResetForRetry(ctx, "nope", now); !errors.Is(err, ErrNotFound) {
			t.Errorf("ResetForRetry() error = %v, want ErrNotFound", err)
		}
	})
}

func TestListDueForRetry(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	s := NewMemoryStore()

	add := func(id string, status Status, due time.Time) {
		rec := newRecord(id, "task-"+id, status, now.Add(-time.Hour))
		if status == StatusRetrying {
			d := due
			rec.NextRetryAt = &d
		}
		if err := s.Create(ctx, rec); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	add("oldest", StatusRetrying, now.Add(-10*time.Minute))
	add("middle", StatusRetrying, now.Add(-5*time.Minute))
	add("exact", StatusRetrying, now)
	add("future", StatusRetrying, now.Add(5*time.Minute))
	add("pending", StatusPending, time.Time{})
	add("done", StatusDelivered, time.Time{})

	due, err := s.ListDueForRetry(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDueForRetry() error = %v", err)
	}
	want := []string{"oldest", "middle", "exact"}
	if len(due) != len(want) {
		t.Fatalf("ListDueForRetry() returned %d records, want %d", len(due), len(want))
	}
	for i, id := range want {
		if due[i].ID != id {
			t.Errorf("due[%d].ID = %q, want %q (oldest due first)", i, due[i].ID, id)
		}
	}

	// Batch limit trims the tail, not the head.
	due, err = s.ListDueForRetry(ctx, now, 2)
	if err != nil {
		t.Fatalf("ListDueForRetry() error = %v", err)
	}
	if len(due) != 2 || due[0].ID != "oldest" || due[1].ID != "middle" {
		t.Errorf("ListDueForRetry(limit=2) = %v, want [oldest middle]", ids(due))
	}
}

func TestListStalePending(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	s := NewMemoryStore()

	old := newRecord("old", "task-old", StatusPending, now.Add(-10*time.Minute))
	fresh := newRecord("fresh", "task-fresh", StatusPending, now.Add(-10*time.Second))
	sending := newRecord("sending", "task-s", StatusSending, now.Add(-10*time.Minute))
	for _, rec := range []*DeliveryRecord{old, fresh, sending} {
		if err := s.Create(ctx, rec); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	stale, err := s.ListStalePending(ctx, now.Add(-2*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStalePending() error = %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "old" {
		t.Errorf("ListStalePending() = %v, want [old]", ids(stale))
	}
}

func TestListByTaskAndStatusPagination(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 5; i++ {
		rec := newRecord(fmt.Sprintf("d%d", i), "task-1", StatusDelivered, now.Add(time.Duration(i)*time.Minute))
		if err := s.Create(ctx, rec); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	other := newRecord("other", "task-2", StatusDelivered, now)
	if err := s.Create(ctx, other); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	page, err := s.ListByTask(ctx, "task-1", 2, 0)
	if err != nil {
		t.Fatalf("ListByTask() error = %v", err)
	}
	if len(page) != 2 || page[0].ID != "d4" || page[1].ID != "d3" {
		t.Errorf("ListByTask(limit=2, offset=0) = %v, want newest first [d4 d3]", ids(page))
	}

	page, err = s.ListByTask(ctx, "task-1", 2, 4)
	if err != nil {
		t.Fatalf("ListByTask() error = %v", err)
	}
	if len(page) != 1 || page[0].ID != "d0" {
		t.Errorf("ListByTask(limit=2, offset=4) = %v, want [d0]", ids(page))
	}

	page, err = s.ListByTask(ctx, "task-1", 2, 99)
	if err != nil {
		t.Fatalf("ListByTask() error = %v", err)
	}
	if len(page) != 0 {
		t.Errorf("ListByTask(offset past end) = %v, want empty", ids(page))
	}

	byStatus, err := s.ListByStatus(ctx, StatusDelivered, 100, 0)
	if err != nil {
		t.Fatalf("ListByStatus() error = %v", err)
	}
	if len(byStatus) != 6 {
		t.Errorf("ListByStatus(delivered) returned %d records, want 6", len(byStatus))
	}
}

func TestCountByStatusWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	s := NewMemoryStore()

	inWindow := []struct {
		id     string
		status Status
	}{
		{"a", StatusDelivered},
		{"b", StatusDelivered},
		{"c", StatusFailed},
		{"d", StatusRetrying},
		{"e", StatusPending},
	}
	for _, r := range inWindow {
		if err := s.Create(ctx, newRecord(r.id, "task", r.status, now)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	outside := newRecord("z", "task", StatusDelivered, now.Add(-48*time.Hour))
	if err := s.Create(ctx, outside); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	stats, err := s.CountByStatus(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CountByStatus() error = %v", err)
	}
	if stats.Delivered != 2 || stats.Failed != 1 || stats.Retrying != 1 || stats.Pending != 1 || stats.Sending != 0 {
		t.Errorf("CountByStatus() = %+v, want delivered=2 failed=1 retrying=1 pending=1", stats)
	}
}

func TestCloneIsolation(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	s := NewMemoryStore()
	rec := newRecord("d1", "task-1", StatusPending, now)
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	rec.Payload[0] = 'X'
	rec.Status = StatusFailed

	got, err := s.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, caller mutation leaked into store", got.Status)
	}
	if got.Payload[0] == 'X' {
		t.Errorf("Payload mutation leaked into store")
	}
}

func ids(recs []*DeliveryRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
