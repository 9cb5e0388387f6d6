package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docsignal/docsignal/internal/event"
)

// recordColumns is the column list every record query selects, in the order
// scanRecord expects.
const recordColumns = `
	id, task_id, event_type, target_url, payload, signature, timestamp_used,
	status, attempts, max_attempts, next_retry_at,
	last_http_status, last_error, last_attempt_at,
	created_at, completed_at`

// PostgresStore implements Store on top of the docsignal.deliveries table.
// Transitions rely on conditional UPDATEs guarded by the expected current
// status, so concurrent dispatchers cannot double-move a record.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, rec *DeliveryRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("create delivery: id is required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO docsignal.deliveries(
			id, task_id, event_type, target_url, payload, signature, timestamp_used,
			status, attempts, max_attempts, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rec.ID, rec.TaskID, string(rec.EventType), rec.TargetURL, rec.Payload,
		rec.Signature, rec.TimestampUsed, string(rec.Status), rec.Attempts,
		rec.MaxAttempts, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*DeliveryRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM docsignal.deliveries WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *PostgresStore) BeginAttempt(ctx context.Context, id string, at time.Time) (*DeliveryRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE docsignal.deliveries
		SET status = 'sending', attempts = attempts + 1,
		    last_attempt_at = $2, next_retry_at = NULL
		WHERE id = $1
		  AND status IN ('pending', 'retrying')
		  AND attempts < max_attempts
		RETURNING `+recordColumns, id, at)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the record does not exist or another actor holds it; the
		// caller skips it either way.
		return nil, ErrConflict
	}
	return rec, err
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, id string, httpStatus int, at time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE docsignal.deliveries
		SET status = 'delivered', last_http_status = $2, last_error = '',
		    next_retry_at = NULL, completed_at = $3
		WHERE id = $1 AND status = 'sending'`,
		id, httpStatus, at)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) MarkRetrying(ctx context.Context, id string, httpStatus int, lastErr string, nextRetryAt time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE docsignal.deliveries
		SET status = 'retrying', last_http_status = $2, last_error = $3,
		    next_retry_at = $4
		WHERE id = $1 AND status = 'sending'`,
		id, httpStatus, lastErr, nextRetryAt)
	if err != nil {
		return fmt.Errorf("mark retrying: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, httpStatus int, lastErr string, at time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE docsignal.deliveries
		SET status = 'failed', last_http_status = $2, last_error = $3,
		    next_retry_at = NULL, completed_at = $4
		WHERE id = $1 AND status = 'sending'`,
		id, httpStatus, lastErr, at)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) ResetForRetry(ctx context.Context, id string, now time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE docsignal.deliveries
		SET status = 'retrying', attempts = 0, next_retry_at = $2,
		    completed_at = NULL
		WHERE id = $1 AND status = 'failed'`,
		id, now)
	if err != nil {
		return fmt.Errorf("reset for retry: %w", err)
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM docsignal.deliveries WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("reset for retry: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]*DeliveryRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM docsignal.deliveries
		WHERE status = 'retrying' AND next_retry_at <= $1
		ORDER BY next_retry_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due for retry: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*DeliveryRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM docsignal.deliveries
		WHERE status = 'pending' AND created_at <= $1
		ORDER BY created_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) ListByTask(ctx context.Context, taskID string, limit, offset int) ([]*DeliveryRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM docsignal.deliveries
		WHERE task_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, taskID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list by task: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*DeliveryRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM docsignal.deliveries
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) CountByStatus(ctx context.Context, from, to time.Time) (Stats, error) {
	st := Stats{From: from, To: to}
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM docsignal.deliveries
		WHERE created_at >= $1 AND created_at <= $2
		GROUP BY status`, from, to)
	if err != nil {
		return st, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		switch Status(status) {
		case StatusDelivered:
			st.Delivered = n
		case StatusFailed:
			st.Failed = n
		case StatusRetrying:
			st.Retrying = n
		case StatusPending:
			st.Pending = n
		case StatusSending:
			st.Sending = n
		}
	}
	return st, rows.Err()
}

func scanRecords(rows pgx.Rows) ([]*DeliveryRecord, error) {
	var out []*DeliveryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*DeliveryRecord, error) {
	var (
		rec        DeliveryRecord
		eventType  string
		status     string
		nextRetry  sql.NullTime
		httpStatus sql.NullInt32
		lastErr    sql.NullString
		lastAt     sql.NullTime
		doneAt     sql.NullTime
	)
	if err := row.Scan(
		&rec.ID, &rec.TaskID, &eventType, &rec.TargetURL, &rec.Payload,
		&rec.Signature, &rec.TimestampUsed,
		&status, &rec.Attempts, &rec.MaxAttempts, &nextRetry,
		&httpStatus, &lastErr, &lastAt,
		&rec.CreatedAt, &doneAt,
	); err != nil {
		return nil, err
	}
	rec.EventType = event.Type(eventType)
	rec.Status = Status(status)
	if nextRetry.Valid {
		t := nextRetry.Time
		rec.NextRetryAt = &t
	}
	if httpStatus.Valid {
		rec.LastHTTPStatus = int(httpStatus.Int32)
	}
	if lastErr.Valid {
		rec.LastError = lastErr.String
	}
	if lastAt.Valid {
		t := lastAt.Time
		rec.LastAttemptAt = &t
	}
	if doneAt.Valid {
		t := doneAt.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}
