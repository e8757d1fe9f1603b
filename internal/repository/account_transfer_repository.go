package repository

import (
	"context"
	"time"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"
	"github.com/segyhp/loan-servicing-engine/pkg/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type accountTransferRepository struct {
	db *sqlx.DB
}

func NewAccountTransferRepository(db *sqlx.DB) AccountTransferRepository {
	return &accountTransferRepository{db: db}
}

// TransferFunds records the transfer request. Settlement on the savings side
// belongs to the savings ledger reading this log.
func (r *accountTransferRepository) TransferFunds(ctx context.Context, transfer domain.AccountTransfer) (domain.AccountTransferDetails, error) {
	if !transfer.Amount.IsPositive() {
		return domain.AccountTransferDetails{}, customError.WrapValidation("transfer_amount", "must be greater than 0")
	}
	if transfer.FromID == 0 || transfer.ToID == 0 {
		return domain.AccountTransferDetails{}, customError.WrapValidation("account_transfer", "source and destination accounts are required")
	}

	details := domain.AccountTransferDetails{
		ID:       uuid.New().String(),
		FromType: transfer.FromType,
		FromID:   transfer.FromID,
		ToType:   transfer.ToType,
		ToID:     transfer.ToID,
		Amount:   transfer.Amount.Amount(),
		Currency: transfer.Amount.Currency().Code,
		Date:     utils.TruncateDay(transfer.Date),
	}

	q := conn(ctx, r.db)
	query := q.Rebind(`
		INSERT INTO account_transfers (id, from_type, from_id, to_type, to_id, amount, currency, transfer_date,
			description, loan_transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := q.ExecContext(ctx, query,
		details.ID,
		string(details.FromType),
		details.FromID,
		string(details.ToType),
		details.ToID,
		details.Amount,
		details.Currency,
		details.Date,
		transfer.Description,
		transfer.LoanTransactionID,
		time.Now().UTC(),
	)
	if err != nil {
		return domain.AccountTransferDetails{}, customError.WrapDatabaseError(err)
	}
	return details, nil
}

// IsAccountTransfer reports whether a loan transaction was settled through an
// account transfer.
func (r *accountTransferRepository) IsAccountTransfer(ctx context.Context, loanTransactionID int64, accountType domain.AccountType, accountID int64) (bool, error) {
	q := conn(ctx, r.db)
	query := q.Rebind(`
		SELECT COUNT(*) FROM account_transfers
		WHERE loan_transaction_id = ? AND ((from_type = ? AND from_id = ?) OR (to_type = ? AND to_id = ?))
	`)
	var n int
	err := sqlx.GetContext(ctx, q, &n, query, loanTransactionID, string(accountType), accountID, string(accountType), accountID)
	if err != nil {
		return false, customError.WrapDatabaseError(err)
	}
	return n > 0, nil
}

func (r *accountTransferRepository) ListByAccount(ctx context.Context, accountType domain.AccountType, accountID int64) ([]domain.AccountTransferDetails, error) {
	q := conn(ctx, r.db)
	query := q.Rebind(`
		SELECT id, from_type, from_id, to_type, to_id, amount, currency, transfer_date
		FROM account_transfers
		WHERE (from_type = ? AND from_id = ?) OR (to_type = ? AND to_id = ?)
		ORDER BY created_at, id
	`)

	var rows []accountTransferRow
	err := sqlx.SelectContext(ctx, q, &rows, query, string(accountType), accountID, string(accountType), accountID)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	out := make([]domain.AccountTransferDetails, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}
