package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"

	"github.com/jmoiron/sqlx"
)

type loanRepository struct {
	db *sqlx.DB
}

func NewLoanRepository(db *sqlx.DB) LoanRepository {
	return &loanRepository{db: db}
}

type loanRow struct {
	ID      int64  `db:"id"`
	Version int64  `db:"version"`
	State   string `db:"state"`
}

func (r *loanRepository) Create(ctx context.Context, loan *domain.Loan) error {
	state := loan.State()
	state.Version = 1
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode loan: %w", err)
	}

	q := conn(ctx, r.db)
	query := q.Rebind(`
		INSERT INTO loans (external_id, client_id, group_id, office_id, product_id, status, version, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	now := time.Now().UTC()
	var id int64
	err = q.QueryRowxContext(ctx, query,
		nullString(state.ExternalID),
		state.ClientID,
		state.GroupID,
		state.OfficeID,
		state.Product.ProductID,
		string(state.Status),
		state.Version,
		string(payload),
		now,
		now,
	).Scan(&id)
	if err != nil {
		return dbError(err, "a loan with this external id already exists")
	}

	loan.AssignID(id)
	if err := r.writeTransactions(ctx, q, loan); err != nil {
		return err
	}
	loan.MarkPersisted(state.Version)
	return nil
}

func (r *loanRepository) GetByID(ctx context.Context, loanID int64) (*domain.Loan, error) {
	q := conn(ctx, r.db)
	query := q.Rebind(`SELECT id, version, state FROM loans WHERE id = ?`)

	var row loanRow
	if err := sqlx.GetContext(ctx, q, &row, query, loanID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, customError.WrapLoanNotFound(loanID)
		}
		return nil, customError.WrapDatabaseError(err)
	}

	var state domain.LoanState
	if err := json.Unmarshal([]byte(row.State), &state); err != nil {
		return nil, customError.WrapDatabaseError(fmt.Errorf("failed to decode loan %d: %w", loanID, err))
	}
	// the columns are authoritative for identity and version
	state.ID = row.ID
	state.Version = row.Version

	return domain.RestoreLoan(state), nil
}

// Save writes the loan if nobody else saved it since it was loaded.
func (r *loanRepository) Save(ctx context.Context, loan *domain.Loan) error {
	state := loan.State()
	expected := state.Version
	state.Version = expected + 1
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode loan: %w", err)
	}

	q := conn(ctx, r.db)
	query := q.Rebind(`
		UPDATE loans
		SET external_id = ?, status = ?, version = ?, state = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`)

	result, err := q.ExecContext(ctx, query,
		nullString(state.ExternalID),
		string(state.Status),
		state.Version,
		string(payload),
		time.Now().UTC(),
		state.ID,
		expected,
	)
	if err != nil {
		return dbError(err, "a loan with this external id already exists")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return customError.WrapDatabaseError(err)
	}
	if affected == 0 {
		return customError.WrapDataIntegrityConflict(
			fmt.Sprintf("loan %d was modified concurrently (expected version %d)", state.ID, expected), nil)
	}

	if err := r.writeTransactions(ctx, q, loan); err != nil {
		return err
	}
	loan.MarkPersisted(state.Version)
	return nil
}

// ListIDsByStatus returns loan ids in the given statuses, oldest first.
func (r *loanRepository) ListIDsByStatus(ctx context.Context, statuses ...domain.LoanStatus) ([]int64, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	query, args, err := sqlx.In(`SELECT id FROM loans WHERE status IN (?) ORDER BY id`, values)
	if err != nil {
		return nil, err
	}
	q := conn(ctx, r.db)

	var ids []int64
	if err := sqlx.SelectContext(ctx, q, &ids, q.Rebind(query), args...); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return ids, nil
}

// ListTransactions returns the stored transaction rows of a loan in
// insertion order.
func (r *loanRepository) ListTransactions(ctx context.Context, loanID int64) ([]TransactionRecord, error) {
	q := conn(ctx, r.db)
	query := q.Rebind(`
		SELECT loan_id, transaction_id, seq, type, transaction_date, amount, principal_portion, interest_portion,
			fee_portion, penalty_portion, overpayment_portion, reversed, external_id
		FROM loan_transactions
		WHERE loan_id = ?
		ORDER BY seq
	`)

	var records []TransactionRecord
	if err := sqlx.SelectContext(ctx, q, &records, query, loanID); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return records, nil
}

// writeTransactions rewrites the transaction rows of the loan. seq keeps
// insertion order independent of transaction dates.
func (r *loanRepository) writeTransactions(ctx context.Context, q sqlx.ExtContext, loan *domain.Loan) error {
	if _, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM loan_transactions WHERE loan_id = ?`), loan.ID()); err != nil {
		return customError.WrapDatabaseError(err)
	}

	query := q.Rebind(`
		INSERT INTO loan_transactions (loan_id, transaction_id, seq, type, transaction_date, amount, principal_portion,
			interest_portion, fee_portion, penalty_portion, overpayment_portion, reversed, external_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for i, tx := range loan.Transactions() {
		_, err := q.ExecContext(ctx, query,
			loan.ID(),
			tx.ID,
			i+1,
			string(tx.Type),
			tx.Date,
			tx.Amount,
			tx.Portions.Principal,
			tx.Portions.Interest,
			tx.Portions.Fee,
			tx.Portions.Penalty,
			tx.OverpaymentPortion,
			tx.Reversed,
			nullString(tx.ExternalID),
		)
		if err != nil {
			return dbError(err, fmt.Sprintf("external id %q is already used by another transaction", tx.ExternalID))
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
