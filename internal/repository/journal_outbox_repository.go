package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Outbox entry statuses
const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

type journalOutboxRepository struct {
	db          *sqlx.DB
	maxAttempts int
}

// NewJournalOutboxRepository returns the outbox. Entries that fail to relay
// maxAttempts times are parked as FAILED.
func NewJournalOutboxRepository(db *sqlx.DB, maxAttempts int) JournalOutboxRepository {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &journalOutboxRepository{db: db, maxAttempts: maxAttempts}
}

// PostJournalEntries queues the entries in the caller's transaction, so they
// are only relayed when the loan change commits.
func (r *journalOutboxRepository) PostJournalEntries(ctx context.Context, data domain.AccountingBridgeData) error {
	if len(data.Transactions) == 0 {
		return nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode journal entries: %w", err)
	}

	q := conn(ctx, r.db)
	query := q.Rebind(`
		INSERT INTO journal_outbox (id, loan_id, payload, status, attempts, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`)
	_, err = q.ExecContext(ctx, query, uuid.New().String(), data.LoanID, string(payload), OutboxStatusPending, time.Now().UTC())
	if err != nil {
		return customError.WrapDatabaseError(err)
	}
	return nil
}

// FetchPending returns up to limit pending entries, oldest first.
func (r *journalOutboxRepository) FetchPending(ctx context.Context, limit int) ([]OutboxEntry, error) {
	q := conn(ctx, r.db)
	query := q.Rebind(`
		SELECT id, loan_id, payload, status, attempts, created_at
		FROM journal_outbox
		WHERE status = ?
		ORDER BY created_at, id
		LIMIT ?
	`)

	var entries []OutboxEntry
	if err := sqlx.SelectContext(ctx, q, &entries, query, OutboxStatusPending, limit); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return entries, nil
}

func (r *journalOutboxRepository) MarkSent(ctx context.Context, id string) error {
	q := conn(ctx, r.db)
	query := q.Rebind(`UPDATE journal_outbox SET status = ?, sent_at = ?, last_error = NULL WHERE id = ?`)
	if _, err := q.ExecContext(ctx, query, OutboxStatusSent, time.Now().UTC(), id); err != nil {
		return customError.WrapDatabaseError(err)
	}
	return nil
}

// MarkFailed counts a failed relay attempt.
func (r *journalOutboxRepository) MarkFailed(ctx context.Context, id string, cause error) error {
	q := conn(ctx, r.db)
	query := q.Rebind(`
		UPDATE journal_outbox
		SET attempts = attempts + 1,
			last_error = ?,
			status = CASE WHEN attempts + 1 >= ? THEN ? ELSE status END
		WHERE id = ?
	`)
	if _, err := q.ExecContext(ctx, query, cause.Error(), r.maxAttempts, OutboxStatusFailed, id); err != nil {
		return customError.WrapDatabaseError(err)
	}
	return nil
}
