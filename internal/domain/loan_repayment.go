package domain

import (
	"time"

	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"
	"github.com/segyhp/loan-servicing-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

// MakeRepayment records a repayment, or a recovery repayment on a written-off
// loan, and allocates it.
func (l *Loan) MakeRepayment(op OpContext, cmd RepaymentCommand) (*LoanTransaction, *ChangedTransactionDetail, error) {
	typ := cmd.Type
	if typ == "" {
		typ = TransactionRepayment
	}
	switch typ {
	case TransactionRepayment:
		if l.s.Status == LoanStatusClosedWrittenOff {
			return nil, nil, customError.WrapAlreadyClosedWrittenOff(l.s.ID)
		}
		if err := ValidateTransition(l.s.Status, EventRepay); err != nil {
			return nil, nil, customError.WrapLoanNotActive(l.s.ID, string(l.s.Status))
		}
	case TransactionRecoveryRepayment:
		if l.s.Status != LoanStatusClosedWrittenOff {
			return nil, nil, customError.WrapValidation("transaction_type", "recovery repayments apply to written-off loans only")
		}
	default:
		return nil, nil, customError.WrapValidation("transaction_type", "must be REPAYMENT or RECOVERY_REPAYMENT")
	}
	if err := l.requireBound(); err != nil {
		return nil, nil, err
	}
	if err := l.validateAmount(cmd.Amount); err != nil {
		return nil, nil, err
	}
	if err := l.validateTransactionDate(op, cmd.Date); err != nil {
		return nil, nil, err
	}
	if err := l.checkExternalID(cmd.ExternalID); err != nil {
		return nil, nil, err
	}

	var (
		tx      *LoanTransaction
		changed *ChangedTransactionDetail
	)
	err := l.atomically(func() error {
		tx = l.newTransaction(op, typ, cmd.Date, cmd.Amount.Amount())
		tx.ExternalID = cmd.ExternalID
		tx.PaymentDetail = cmd.PaymentDetail
		var err error
		changed, err = l.post(op, tx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return tx.Clone(), changed.detach(), nil
}

// ReceivableInterest is interest accrued up to on that repayments, waivers and
// write-offs have not settled yet.
func (l *Loan) ReceivableInterest(on time.Time) decimal.Decimal {
	on = utils.TruncateDay(on)
	receivable := decimal.Zero
	for _, tx := range l.s.Transactions {
		if tx.Reversed || tx.pending || tx.Date.After(on) {
			continue
		}
		switch {
		case tx.Type == TransactionAccrual:
			receivable = receivable.Add(tx.Portions.Interest)
		case tx.ReducesInterestReceivable():
			receivable = receivable.Sub(tx.Portions.Interest)
		}
	}
	if receivable.IsNegative() {
		return decimal.Zero
	}
	return receivable
}

// splitWaiver divides a waiver between interest and unrecognized income. With
// periodic accrual accounting only accrued interest can be waived as interest.
func (l *Loan) splitWaiver(date time.Time, amount decimal.Decimal) (interest, unrecognized decimal.Decimal) {
	if !l.s.Product.AccrualAccounting {
		return amount, decimal.Zero
	}
	interest = utils.MinDecimal(amount, l.ReceivableInterest(date))
	return interest, amount.Sub(interest)
}

// WaiveInterest forgives interest across the schedule, oldest first.
func (l *Loan) WaiveInterest(op OpContext, cmd WaiveInterestCommand) (*LoanTransaction, *ChangedTransactionDetail, error) {
	if err := ValidateTransition(l.s.Status, EventWaiveInterest); err != nil {
		return nil, nil, err
	}
	if err := l.requireBound(); err != nil {
		return nil, nil, err
	}
	if err := l.validateAmount(cmd.Amount); err != nil {
		return nil, nil, err
	}
	if err := l.validateTransactionDate(op, cmd.Date); err != nil {
		return nil, nil, err
	}
	if err := l.checkExternalID(cmd.ExternalID); err != nil {
		return nil, nil, err
	}

	// a waiver larger than the interest outstanding on its date fails in the replay
	var (
		tx      *LoanTransaction
		changed *ChangedTransactionDetail
	)
	err := l.atomically(func() error {
		tx = l.newTransaction(op, TransactionWaiveInterest, cmd.Date, cmd.Amount.Amount())
		tx.ExternalID = cmd.ExternalID
		tx.Portions.Interest, tx.UnrecognizedIncomePortion = l.splitWaiver(tx.Date, tx.Amount)
		var err error
		changed, err = l.post(op, tx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return tx.Clone(), changed.detach(), nil
}

// AdjustExistingTransaction reverses a repayment or interest waiver and books
// its replacement, then replays from the earlier of the two dates.
func (l *Loan) AdjustExistingTransaction(op OpContext, txID int64, cmd AdjustTransactionCommand) (*ChangedTransactionDetail, error) {
	if l.s.Status == LoanStatusClosedWrittenOff {
		return nil, customError.WrapAlreadyClosedWrittenOff(l.s.ID)
	}
	if err := ValidateTransition(l.s.Status, EventAdjustTransaction); err != nil {
		return nil, err
	}
	if err := l.requireBound(); err != nil {
		return nil, err
	}
	old := l.findTransaction(txID)
	if old == nil {
		return nil, customError.WrapTransactionNotFound(l.s.ID, txID)
	}
	if old.Reversed {
		return nil, customError.WrapValidation("transaction_id", "transaction is already reversed")
	}
	if old.AccountTransfer {
		return nil, customError.WrapValidation("transaction_id", "account transfer transactions cannot be adjusted")
	}
	if old.Type != TransactionRepayment && old.Type != TransactionWaiveInterest {
		return nil, customError.WrapValidation("transaction_id", "only repayments and interest waivers can be adjusted")
	}
	if err := l.checkCurrency(cmd.Amount); err != nil {
		return nil, err
	}
	if cmd.Amount.IsNegative() {
		return nil, customError.WrapValidation("transaction_amount", "cannot be negative")
	}
	if err := l.checkScale(cmd.Amount); err != nil {
		return nil, err
	}
	date := old.Date
	if cmd.Amount.IsPositive() {
		if !cmd.Date.IsZero() {
			date = utils.TruncateDay(cmd.Date)
		}
		if err := l.validateTransactionDate(op, date); err != nil {
			return nil, err
		}
		if cmd.ExternalID != old.ExternalID {
			if err := l.checkExternalID(cmd.ExternalID); err != nil {
				return nil, err
			}
		}
	}

	var changed *ChangedTransactionDetail
	err := l.atomically(func() error {
		old.Reversed = true
		old.ManuallyAdjusted = true

		var repl *LoanTransaction
		if cmd.Amount.IsPositive() {
			repl = l.newTransaction(op, old.Type, date, cmd.Amount.Amount())
			repl.ExternalID = cmd.ExternalID
			repl.PaymentDetail = cmd.PaymentDetail
			if repl.Type == TransactionWaiveInterest {
				repl.Portions.Interest, repl.UnrecognizedIncomePortion = l.splitWaiver(date, repl.Amount)
			}
			l.s.Transactions = append(l.s.Transactions, repl)
		}

		var err error
		changed, err = l.recalculateAndReprocess(op, utils.MinDate(old.Date, date))
		if err != nil {
			return err
		}
		if repl != nil {
			if changed == nil {
				changed = NewChangedTransactionDetail()
			}
			changed.Add(old.ID, repl)
		}
		return nil
	})
	if err != nil {
		return nil, rejectUncoveredRefund(err)
	}
	return changed.detach(), nil
}

// RecordAccrual books accrued income. Accruals feed the receivable interest
// used to split waivers but do not move installment balances.
func (l *Loan) RecordAccrual(op OpContext, cmd AccrualCommand) (*LoanTransaction, error) {
	if err := ValidateTransition(l.s.Status, EventAccrue); err != nil {
		return nil, err
	}
	if err := l.requireBound(); err != nil {
		return nil, err
	}
	portions := ComponentAmounts{Interest: cmd.Interest, Fee: cmd.Fee, Penalty: cmd.Penalty}
	if portions.Interest.IsNegative() || portions.Fee.IsNegative() || portions.Penalty.IsNegative() {
		return nil, customError.WrapValidation("accrual", "amounts cannot be negative")
	}
	if !portions.Total().IsPositive() {
		return nil, customError.WrapValidation("accrual", "nothing to accrue")
	}
	if err := l.validateTransactionDate(op, cmd.Date); err != nil {
		return nil, err
	}

	var tx *LoanTransaction
	err := l.atomically(func() error {
		tx = l.newTransaction(op, TransactionAccrual, cmd.Date, portions.Total())
		tx.Portions = portions
		_, err := l.post(op, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tx.Clone(), nil
}

// AccrueInterestTill accrues the interest, fees and penalties of every
// installment due on or before till that has not been accrued yet. It
// returns nil when there is nothing left to accrue.
func (l *Loan) AccrueInterestTill(op OpContext, till time.Time) (*LoanTransaction, error) {
	till = utils.TruncateDay(till)
	var due ComponentAmounts
	for _, inst := range l.s.Installments {
		if inst.DueDate.After(till) {
			continue
		}
		due.Interest = due.Interest.Add(inst.Due.Interest)
		due.Fee = due.Fee.Add(inst.Due.Fee)
		due.Penalty = due.Penalty.Add(inst.Due.Penalty)
	}
	var accrued ComponentAmounts
	for _, tx := range l.s.Transactions {
		if tx.Type == TransactionAccrual && !tx.Reversed {
			accrued.Interest = accrued.Interest.Add(tx.Portions.Interest)
			accrued.Fee = accrued.Fee.Add(tx.Portions.Fee)
			accrued.Penalty = accrued.Penalty.Add(tx.Portions.Penalty)
		}
	}
	cmd := AccrualCommand{
		Date:     till,
		Interest: decimal.Max(due.Interest.Sub(accrued.Interest), decimal.Zero),
		Fee:      decimal.Max(due.Fee.Sub(accrued.Fee), decimal.Zero),
		Penalty:  decimal.Max(due.Penalty.Sub(accrued.Penalty), decimal.Zero),
	}
	if cmd.Interest.Add(cmd.Fee).Add(cmd.Penalty).IsZero() {
		return nil, nil
	}
	return l.RecordAccrual(op, cmd)
}

// Refund pays overpaid money back to the borrower.
func (l *Loan) Refund(op OpContext, cmd RefundCommand) (*LoanTransaction, *ChangedTransactionDetail, error) {
	if err := ValidateTransition(l.s.Status, EventRefund); err != nil {
		return nil, nil, err
	}
	if err := l.requireBound(); err != nil {
		return nil, nil, err
	}
	if err := l.validateAmount(cmd.Amount); err != nil {
		return nil, nil, err
	}
	if cmd.Amount.Amount().GreaterThan(l.s.TotalOverpaid) {
		return nil, nil, customError.WrapValidation("transaction_amount", "exceeds the overpaid amount")
	}
	if err := l.validateTransactionDate(op, cmd.Date); err != nil {
		return nil, nil, err
	}
	if err := l.checkExternalID(cmd.ExternalID); err != nil {
		return nil, nil, err
	}

	var (
		tx      *LoanTransaction
		changed *ChangedTransactionDetail
	)
	err := l.atomically(func() error {
		tx = l.newTransaction(op, TransactionRefund, cmd.Date, cmd.Amount.Amount())
		tx.ExternalID = cmd.ExternalID
		tx.PaymentDetail = cmd.PaymentDetail
		var err error
		changed, err = l.post(op, tx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return tx.Clone(), changed.detach(), nil
}
