package domain

import (
	"time"

	"github.com/segyhp/loan-servicing-engine/pkg/money"

	"github.com/shopspring/decimal"
)

// ApproveCommand approves a submitted loan, optionally for a smaller amount.
type ApproveCommand struct {
	ApprovedOn               time.Time
	Amount                   *money.Money
	ExpectedDisbursementDate *time.Time
}

// DisburseCommand releases the loan or one of its tranches.
type DisburseCommand struct {
	Date time.Time

	// TrancheID selects the tranche on multi-disbursement loans; 0 picks the
	// earliest pending one.
	TrancheID int64

	// Amount overrides the approved (or tranche) principal when set.
	Amount          *money.Money
	AccountTransfer bool
	ExternalID      string
	PaymentDetail   *PaymentDetail
}

// RepaymentCommand records money received from the borrower.
type RepaymentCommand struct {
	Type          TransactionType
	Date          time.Time
	Amount        money.Money
	ExternalID    string
	PaymentDetail *PaymentDetail
}

type WaiveInterestCommand struct {
	Date       time.Time
	Amount     money.Money
	ExternalID string
}

// AdjustTransactionCommand replaces a repayment or waiver. A zero amount
// reverses the original without a replacement.
type AdjustTransactionCommand struct {
	Date          time.Time
	Amount        money.Money
	ExternalID    string
	PaymentDetail *PaymentDetail
}

type AddChargeCommand struct {
	Definition ChargeDefinition
	DueDate    *time.Time
}

// PayChargeCommand settles a charge from the linked savings account.
type PayChargeCommand struct {
	ChargeID          int64
	InstallmentNumber int
	Date              time.Time

	// Amount defaults to the outstanding amount of the charge (or line).
	Amount *money.Money
}

type AccrualCommand struct {
	Date     time.Time
	Interest decimal.Decimal
	Fee      decimal.Decimal
	Penalty  decimal.Decimal
}

type RefundCommand struct {
	Date          time.Time
	Amount        money.Money
	ExternalID    string
	PaymentDetail *PaymentDetail
}

// CloseCommand carries the date for write-off, close and transfer commands.
type CloseCommand struct {
	Date       time.Time
	ExternalID string
	Note       string
}
