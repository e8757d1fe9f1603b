package repository

import (
	"context"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"

	"github.com/jmoiron/sqlx"
)

type cycleRepository struct {
	db *sqlx.DB
}

func NewCycleRepository(db *sqlx.DB) CycleRepository {
	return &cycleRepository{db: db}
}

// ListByBorrower returns the disbursed loans of a client, or of a group when
// clientID is 0.
func (r *cycleRepository) ListByBorrower(ctx context.Context, clientID, groupID int64) ([]domain.CycleEntry, error) {
	q := conn(ctx, r.db)
	column, id := "client_id", clientID
	if clientID == 0 {
		column, id = "group_id", groupID
	}
	query := q.Rebind(`
		SELECT loan_id, product_id, disbursed_on, loan_counter, product_counter
		FROM borrower_cycle
		WHERE ` + column + ` = ?
		ORDER BY disbursed_on, loan_id
	`)

	var entries []domain.CycleEntry
	if err := sqlx.SelectContext(ctx, q, &entries, query, id); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return entries, nil
}

// Upsert stores the given entries for the borrower.
func (r *cycleRepository) Upsert(ctx context.Context, clientID, groupID int64, entries []domain.CycleEntry) error {
	q := conn(ctx, r.db)
	query := q.Rebind(`
		INSERT INTO borrower_cycle (loan_id, client_id, group_id, product_id, disbursed_on, loan_counter, product_counter)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (loan_id) DO UPDATE SET
			disbursed_on = excluded.disbursed_on,
			loan_counter = excluded.loan_counter,
			product_counter = excluded.product_counter
	`)
	for _, e := range entries {
		_, err := q.ExecContext(ctx, query, e.LoanID, clientID, groupID, e.ProductID, e.DisbursedOn, e.LoanCounter, e.ProductCounter)
		if err != nil {
			return customError.WrapDatabaseError(err)
		}
	}
	return nil
}

func (r *cycleRepository) Delete(ctx context.Context, loanID int64) error {
	q := conn(ctx, r.db)
	if _, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM borrower_cycle WHERE loan_id = ?`), loanID); err != nil {
		return customError.WrapDatabaseError(err)
	}
	return nil
}
