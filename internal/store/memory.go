package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for local development and tests. It
// mirrors PostgresStore's guarded-transition semantics under a single mutex.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*DeliveryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*DeliveryRecord)}
}

func (s *MemoryStore) Create(_ context.Context, rec *DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = clone(rec)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(rec), nil
}

func (s *MemoryStore) BeginAttempt(_ context.Context, id string, at time.Time) (*DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrConflict
	}
	if rec.Status != StatusPending && rec.Status != StatusRetrying {
		return nil, ErrConflict
	}
	if rec.Attempts >= rec.MaxAttempts {
		return nil, ErrConflict
	}
	rec.Status = StatusSending
	rec.Attempts++
	t := at
	rec.LastAttemptAt = &t
	rec.NextRetryAt = nil
	return clone(rec), nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, id string, httpStatus int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status != StatusSending {
		return ErrConflict
	}
	rec.Status = StatusDelivered
	rec.LastHTTPStatus = httpStatus
	rec.LastError = ""
	rec.NextRetryAt = nil
	t := at
	rec.CompletedAt = &t
	return nil
}

func (s *MemoryStore) MarkRetrying(_ context.Context, id string, httpStatus int, lastErr string, nextRetryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status != StatusSending {
		return ErrConflict
	}
	rec.Status = StatusRetrying
	rec.LastHTTPStatus = httpStatus
	rec.LastError = lastErr
	t := nextRetryAt
	rec.NextRetryAt = &t
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, httpStatus int, lastErr string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status != StatusSending {
		return ErrConflict
	}
	rec.Status = StatusFailed
	rec.LastHTTPStatus = httpStatus
	rec.LastError = lastErr
	rec.NextRetryAt = nil
	t := at
	rec.CompletedAt = &t
	return nil
}

func (s *MemoryStore) ResetForRetry(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != StatusFailed {
		return ErrConflict
	}
	rec.Status = StatusRetrying
	rec.Attempts = 0
	t := now
	rec.NextRetryAt = &t
	rec.CompletedAt = nil
	return nil
}

func (s *MemoryStore) ListDueForRetry(_ context.Context, now time.Time, limit int) ([]*DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*DeliveryRecord
	for _, rec := range s.records {
		if rec.Status == StatusRetrying && rec.NextRetryAt != nil && !rec.NextRetryAt.After(now) {
			due = append(due, clone(rec))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]*DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []*DeliveryRecord
	for _, rec := range s.records {
		if rec.Status == StatusPending && !rec.CreatedAt.After(cutoff) {
			stale = append(stale, clone(rec))
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].CreatedAt.Before(stale[j].CreatedAt)
	})
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (s *MemoryStore) ListByTask(_ context.Context, taskID string, limit, offset int) ([]*DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*DeliveryRecord
	for _, rec := range s.records {
		if rec.TaskID == taskID {
			out = append(out, clone(rec))
		}
	}
	return paginate(out, limit, offset), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, limit, offset int) ([]*DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*DeliveryRecord
	for _, rec := range s.records {
		if rec.Status == status {
			out = append(out, clone(rec))
		}
	}
	return paginate(out, limit, offset), nil
}

func (s *MemoryStore) CountByStatus(_ context.Context, from, to time.Time) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{From: from, To: to}
	for _, rec := range s.records {
		if rec.CreatedAt.Before(from) || rec.CreatedAt.After(to) {
			continue
		}
		switch rec.Status {
		case StatusDelivered:
			st.Delivered++
		case StatusFailed:
			st.Failed++
		case StatusRetrying:
			st.Retrying++
		case StatusPending:
			st.Pending++
		case StatusSending:
			st.Sending++
		}
	}
	return st, nil
}

func paginate(recs []*DeliveryRecord, limit, offset int) []*DeliveryRecord {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	if offset >= len(recs) {
		return nil
	}
	recs = recs[offset:]
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

func clone(rec *DeliveryRecord) *DeliveryRecord {
	out := *rec
	out.Payload = append([]byte(nil), rec.Payload...)
	if rec.NextRetryAt != nil {
		t := *rec.NextRetryAt
		out.NextRetryAt = &t
	}
	if rec.LastAttemptAt != nil {
		t := *rec.LastAttemptAt
		out.LastAttemptAt = &t
	}
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
