package trigger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Recipient is a task's registered notification target. The secret is only
// ever used for signing; it is never logged or copied onto delivery records.
type Recipient struct {
	URL    string
	Secret string
}

// RecipientResolver looks up the notification target for a task. A task with
// no registered target returns ok=false, which is not an error.
type RecipientResolver interface {
	Resolve(ctx context.Context, taskID string) (Recipient, bool, error)
}

// PostgresResolver reads recipient registrations from docsignal.recipients.
type PostgresResolver struct {
	pool *pgxpool.Pool
}

func NewPostgresResolver(pool *pgxpool.Pool) *PostgresResolver {
	return &PostgresResolver{pool: pool}
}

func (r *PostgresResolver) Resolve(ctx context.Context, taskID string) (Recipient, bool, error) {
	var rec Recipient
	err := r.pool.QueryRow(ctx, `
		SELECT url, secret FROM docsignal.recipients WHERE task_id = $1`,
		taskID,
	).Scan(&rec.URL, &rec.Secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return Recipient{}, false, nil
	}
	if err != nil {
		return Recipient{}, false, fmt.Errorf("resolve recipient: %w", err)
	}
	return rec, true, nil
}

// StaticResolver serves a fixed task-to-recipient map. Used in tests and in
// memory-store development mode.
type StaticResolver struct {
	recipients map[string]Recipient
}

func NewStaticResolver(recipients map[string]Recipient) *StaticResolver {
	if recipients == nil {
		recipients = make(map[string]Recipient)
	}
	return &StaticResolver{recipients: recipients}
}

func (r *StaticResolver) Resolve(_ context.Context, taskID string) (Recipient, bool, error) {
	rec, ok := r.recipients[taskID]
	return rec, ok, nil
}
