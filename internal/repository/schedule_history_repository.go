package repository

import (
	"context"
	"time"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"

	"github.com/jmoiron/sqlx"
)

type scheduleHistoryRepository struct {
	db *sqlx.DB
}

func NewScheduleHistoryRepository(db *sqlx.DB) ScheduleHistoryRepository {
	return &scheduleHistoryRepository{db: db}
}

// Archive stores the replaced schedule as the next version of the loan's
// schedule history.
func (r *scheduleHistoryRepository) Archive(ctx context.Context, loan *domain.Loan, installments []*domain.RepaymentInstallment, rescheduleRequestID *int64) error {
	if len(installments) == 0 {
		return nil
	}
	q := conn(ctx, r.db)

	var version int
	err := sqlx.GetContext(ctx, q, &version,
		q.Rebind(`SELECT COALESCE(MAX(version), 0) FROM loan_schedule_history WHERE loan_id = ?`), loan.ID())
	if err != nil {
		return customError.WrapDatabaseError(err)
	}
	version++

	query := q.Rebind(`
		INSERT INTO loan_schedule_history (loan_id, version, installment_number, from_date, due_date, principal, interest,
			fee, penalty, reschedule_request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	now := time.Now().UTC()
	for _, inst := range installments {
		_, err := q.ExecContext(ctx, query,
			loan.ID(),
			version,
			inst.Number,
			inst.FromDate,
			inst.DueDate,
			inst.Due.Principal,
			inst.Due.Interest,
			inst.Due.Fee,
			inst.Due.Penalty,
			rescheduleRequestID,
			now,
		)
		if err != nil {
			return customError.WrapDatabaseError(err)
		}
	}
	return nil
}

func (r *scheduleHistoryRepository) ListByLoan(ctx context.Context, loanID int64) ([]ScheduleHistoryRecord, error) {
	q := conn(ctx, r.db)
	query := q.Rebind(`
		SELECT loan_id, version, installment_number, from_date, due_date, principal, interest, fee, penalty,
			reschedule_request_id
		FROM loan_schedule_history
		WHERE loan_id = ?
		ORDER BY version, installment_number
	`)

	var records []ScheduleHistoryRecord
	if err := sqlx.SelectContext(ctx, q, &records, query, loanID); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return records, nil
}
