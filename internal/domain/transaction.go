package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

// Loan transaction types
const (
	TransactionDisbursement      TransactionType = "DISBURSEMENT"
	TransactionRepayment         TransactionType = "REPAYMENT"
	TransactionRecoveryRepayment TransactionType = "RECOVERY_REPAYMENT"
	TransactionWaiveInterest     TransactionType = "WAIVE_INTEREST"
	TransactionWaiveCharges      TransactionType = "WAIVE_CHARGES"
	TransactionWriteOff          TransactionType = "WRITEOFF"
	TransactionChargePayment     TransactionType = "CHARGE_PAYMENT"
	TransactionAccrual           TransactionType = "ACCRUAL"
	TransactionRefund            TransactionType = "REFUND"
	TransactionInitiateTransfer  TransactionType = "INITIATE_TRANSFER"
	TransactionApproveTransfer   TransactionType = "APPROVE_TRANSFER"
	TransactionWithdrawTransfer  TransactionType = "WITHDRAW_TRANSFER"
	TransactionRejectTransfer    TransactionType = "REJECT_TRANSFER"
)

// IsTransfer reports whether t is one of the office transfer markers.
func (t TransactionType) IsTransfer() bool {
	switch t {
	case TransactionInitiateTransfer, TransactionApproveTransfer, TransactionWithdrawTransfer, TransactionRejectTransfer:
		return true
	}
	return false
}

// Allocation is how a processor distributed a transaction.
type Allocation struct {
	ComponentAmounts
	Overpayment decimal.Decimal `json:"overpayment"`
}

func (a Allocation) Total() decimal.Decimal {
	return a.ComponentAmounts.Total().Add(a.Overpayment)
}

// PaymentDetail carries the optional instrument a cash movement used.
type PaymentDetail struct {
	PaymentType   string `json:"payment_type,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	CheckNumber   string `json:"check_number,omitempty"`
	ReceiptNumber string `json:"receipt_number,omitempty"`
}

// LoanTransaction is a posted financial event. Only the reversal and
// manual-adjustment flags change after creation.
type LoanTransaction struct {
	ID          int64           `json:"id"`
	Sequence    int64           `json:"sequence"`
	Type        TransactionType `json:"type"`
	Date        time.Time       `json:"date"`
	SubmittedOn time.Time       `json:"submitted_on"`
	Amount      decimal.Decimal `json:"amount"`

	Portions                  ComponentAmounts `json:"portions"`
	OverpaymentPortion        decimal.Decimal  `json:"overpayment_portion"`
	UnrecognizedIncomePortion decimal.Decimal  `json:"unrecognized_income_portion"`
	OutstandingLoanBalance    decimal.Decimal  `json:"outstanding_loan_balance"`

	ChargeID          int64 `json:"charge_id,omitempty"`
	InstallmentNumber int   `json:"installment_number,omitempty"`

	Reversed         bool           `json:"reversed"`
	ManuallyAdjusted bool           `json:"manually_adjusted"`
	AccountTransfer  bool           `json:"account_transfer"`
	ExternalID       string         `json:"external_id,omitempty"`
	PaymentDetail    *PaymentDetail `json:"payment_detail,omitempty"`

	// fresh transactions take their portions from the next replay
	pending bool
}

// IsPending reports whether the transaction has not been allocated yet.
func (t *LoanTransaction) IsPending() bool { return t.pending }

// Allocation returns the recorded distribution.
func (t *LoanTransaction) Allocation() Allocation {
	return Allocation{ComponentAmounts: t.Portions, Overpayment: t.OverpaymentPortion}
}

// Matches reports whether a freshly computed allocation equals the recorded one.
func (t *LoanTransaction) Matches(a Allocation) bool {
	if t.Type == TransactionWaiveInterest {
		recorded := t.Portions.Interest.Add(t.UnrecognizedIncomePortion)
		return recorded.Equal(a.Interest) && a.Principal.IsZero() && a.Fee.IsZero() && a.Penalty.IsZero()
	}
	return t.Portions.Equal(a.ComponentAmounts) && t.OverpaymentPortion.Equal(a.Overpayment)
}

func (t *LoanTransaction) apply(a Allocation) {
	if t.Type == TransactionWaiveInterest {
		// the recognized/unrecognized split is fixed when the waiver is booked
		t.pending = false
		return
	}
	t.Portions = a.ComponentAmounts
	t.OverpaymentPortion = a.Overpayment
	if t.Type == TransactionWriteOff {
		t.Amount = a.Total()
	}
	t.pending = false
}

// IsIncomingMoney reports cash types whose whole amount must be allocated.
// Recovery repayments land on a written-off loan and are not allocated.
func (t *LoanTransaction) IsIncomingMoney() bool {
	switch t.Type {
	case TransactionRepayment, TransactionChargePayment:
		return true
	}
	return false
}

// ReducesInterestReceivable reports types whose interest portion settles accrued interest.
func (t *LoanTransaction) ReducesInterestReceivable() bool {
	switch t.Type {
	case TransactionRepayment, TransactionWaiveInterest, TransactionWriteOff:
		return true
	}
	return false
}

func (t *LoanTransaction) Clone() *LoanTransaction {
	c := *t
	if t.PaymentDetail != nil {
		pd := *t.PaymentDetail
		c.PaymentDetail = &pd
	}
	return &c
}

func cloneTransactions(in []*LoanTransaction) []*LoanTransaction {
	out := make([]*LoanTransaction, len(in))
	for i, tx := range in {
		out[i] = tx.Clone()
	}
	return out
}
