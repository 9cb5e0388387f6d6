// Package store persists delivery records and enforces the state machine's
// atomicity: every status transition is a conditional update guarded by the
// expected current state, so two actors can never both move the same record.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists with the given id.
	ErrNotFound = errors.New("delivery record not found")

	// ErrConflict is returned when a guarded transition finds the record in a
	// state other than the one expected. Callers treat this as "someone else
	// got there first" and move on.
	ErrConflict = errors.New("delivery record not in expected state")
)

// Store is the durable source of truth for delivery records. Implementations
// must make each method atomic with respect to concurrent callers.
type Store interface {
	// Create persists a new record. The record's ID must be set.
	Create(ctx context.Context, rec *DeliveryRecord) error

	// Get returns the record with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*DeliveryRecord, error)

	// BeginAttempt transitions a pending or retrying record to sending,
	// increments its attempt counter, stamps lastAttemptAt and clears
	// nextRetryAt, returning the updated record. ErrConflict means the record
	// is already in flight, terminal, or out of attempts.
	BeginAttempt(ctx context.Context, id string, at time.Time) (*DeliveryRecord, error)

	// MarkDelivered transitions a sending record to delivered.
	MarkDelivered(ctx context.Context, id string, httpStatus int, at time.Time) error

	// MarkRetrying transitions a sending record to retrying with the next
	// attempt time and diagnostic fields.
	MarkRetrying(ctx context.Context, id string, httpStatus int, lastErr string, nextRetryAt time.Time) error

	// MarkFailed transitions a sending record to terminal failed.
	MarkFailed(ctx context.Context, id string, httpStatus int, lastErr string, at time.Time) error

	// ResetForRetry is the administrative override: it moves a terminal failed
	// record back to retrying with attempts reset to zero and nextRetryAt set
	// to now, so the next sweep (or an immediate dispatch) picks it up.
	ResetForRetry(ctx context.Context, id string, now time.Time) error

	// ListDueForRetry returns up to limit retrying records whose nextRetryAt
	// has elapsed, oldest due first.
	ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]*DeliveryRecord, error)

	// ListStalePending returns up to limit pending records created before
	// cutoff. These are records whose immediate dispatch was lost (queue
	// overflow or restart) and need rescuing.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*DeliveryRecord, error)

	// ListByTask returns records for a task, newest first, with pagination.
	ListByTask(ctx context.Context, taskID string, limit, offset int) ([]*DeliveryRecord, error)

	// ListByStatus returns records in a status, newest first, with pagination.
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*DeliveryRecord, error)

	// CountByStatus returns aggregate counts for records created in [from, to].
	CountByStatus(ctx context.Context, from, to time.Time) (Stats, error)
}
