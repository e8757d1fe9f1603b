package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/segyhp/loan-servicing-engine/internal/domain"

	"github.com/shopspring/decimal"
)

// LoanRepository defines the interface for loan data operations
type LoanRepository interface {
	// Create inserts a new loan and assigns its id
	Create(ctx context.Context, loan *domain.Loan) error

	// GetByID loads a loan by id
	GetByID(ctx context.Context, loanID int64) (*domain.Loan, error)

	// Save writes a loaded loan back, failing on a concurrent modification
	Save(ctx context.Context, loan *domain.Loan) error

	// ListIDsByStatus lists the ids of loans in any of the statuses
	ListIDsByStatus(ctx context.Context, statuses ...domain.LoanStatus) ([]int64, error)

	// ListTransactions returns the stored transaction rows in insertion order
	ListTransactions(ctx context.Context, loanID int64) ([]TransactionRecord, error)
}

// ScheduleHistoryRepository keeps every replaced schedule of a loan.
type ScheduleHistoryRepository interface {
	domain.ScheduleArchive
	ListByLoan(ctx context.Context, loanID int64) ([]ScheduleHistoryRecord, error)
}

// JournalOutboxRepository queues journal entries for the relay.
type JournalOutboxRepository interface {
	domain.AccountingSink
	FetchPending(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
}

// AccountTransferRepository logs transfers between loan and savings accounts.
type AccountTransferRepository interface {
	domain.AccountTransferService
	IsAccountTransfer(ctx context.Context, loanTransactionID int64, accountType domain.AccountType, accountID int64) (bool, error)
	ListByAccount(ctx context.Context, accountType domain.AccountType, accountID int64) ([]domain.AccountTransferDetails, error)
}

// CycleRepository stores borrower and product cycle counters.
type CycleRepository interface {
	ListByBorrower(ctx context.Context, clientID, groupID int64) ([]domain.CycleEntry, error)
	Upsert(ctx context.Context, clientID, groupID int64, entries []domain.CycleEntry) error
	Delete(ctx context.Context, loanID int64) error
}

// CollateralRepository manages the free quantity of client collateral.
type CollateralRepository interface {
	Create(ctx context.Context, c *ClientCollateral) error
	GetByID(ctx context.Context, id int64) (*ClientCollateral, error)
	Reserve(ctx context.Context, id int64, quantity decimal.Decimal) error
	Release(ctx context.Context, id int64, quantity decimal.Decimal) error
}

// CalendarRepository serves office holidays.
type CalendarRepository interface {
	AddHoliday(ctx context.Context, officeID int64, date time.Time, name string) error
	Holidays(ctx context.Context, officeID int64) ([]time.Time, error)
}

// TransactionRecord is the queryable projection of a loan transaction.
type TransactionRecord struct {
	LoanID        int64           `db:"loan_id"`
	TransactionID int64           `db:"transaction_id"`
	Seq           int64           `db:"seq"`
	Type          string          `db:"type"`
	Date          time.Time       `db:"transaction_date"`
	Amount        decimal.Decimal `db:"amount"`
	Principal     decimal.Decimal `db:"principal_portion"`
	Interest      decimal.Decimal `db:"interest_portion"`
	Fee           decimal.Decimal `db:"fee_portion"`
	Penalty       decimal.Decimal `db:"penalty_portion"`
	Overpayment   decimal.Decimal `db:"overpayment_portion"`
	Reversed      bool            `db:"reversed"`
	ExternalID    sql.NullString  `db:"external_id"`
}

// ScheduleHistoryRecord is one installment of an archived schedule.
type ScheduleHistoryRecord struct {
	LoanID              int64           `db:"loan_id"`
	Version             int             `db:"version"`
	InstallmentNumber   int             `db:"installment_number"`
	FromDate            time.Time       `db:"from_date"`
	DueDate             time.Time       `db:"due_date"`
	Principal           decimal.Decimal `db:"principal"`
	Interest            decimal.Decimal `db:"interest"`
	Fee                 decimal.Decimal `db:"fee"`
	Penalty             decimal.Decimal `db:"penalty"`
	RescheduleRequestID sql.NullInt64   `db:"reschedule_request_id"`
}

// OutboxEntry is one queued batch of journal entries.
type OutboxEntry struct {
	ID        string    `db:"id"`
	LoanID    int64     `db:"loan_id"`
	Payload   string    `db:"payload"`
	Status    string    `db:"status"`
	Attempts  int       `db:"attempts"`
	CreatedAt time.Time `db:"created_at"`
}

// ClientCollateral is a client's pool of one collateral type.
type ClientCollateral struct {
	ID        int64           `db:"id"`
	ClientID  int64           `db:"client_id"`
	Name      string          `db:"name"`
	Quantity  decimal.Decimal `db:"quantity"`
	BasePrice decimal.Decimal `db:"base_price"`
	PctToBase decimal.Decimal `db:"pct_to_base"`
}

type accountTransferRow struct {
	ID       string          `db:"id"`
	FromType string          `db:"from_type"`
	FromID   int64           `db:"from_id"`
	ToType   string          `db:"to_type"`
	ToID     int64           `db:"to_id"`
	Amount   decimal.Decimal `db:"amount"`
	Currency string          `db:"currency"`
	Date     time.Time       `db:"transfer_date"`
}

func (r accountTransferRow) toDomain() domain.AccountTransferDetails {
	return domain.AccountTransferDetails{
		ID:       r.ID,
		FromType: domain.AccountType(r.FromType),
		FromID:   r.FromID,
		ToType:   domain.AccountType(r.ToType),
		ToID:     r.ToID,
		Amount:   r.Amount,
		Currency: r.Currency,
		Date:     r.Date,
	}
}
