package domain

import (
	"time"

	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"
	"github.com/segyhp/loan-servicing-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

func (l *Loan) closingDate(op OpContext, date time.Time) (time.Time, error) {
	if date.IsZero() {
		date = op.BusinessDate
	}
	date = utils.TruncateDay(date)
	if err := l.validateTransactionDate(op, date); err != nil {
		return time.Time{}, err
	}
	if latest := l.latestTransactionDate(); latest != nil && date.Before(*latest) {
		return time.Time{}, customError.WrapValidation("transaction_date", "cannot be before the last transaction")
	}
	return date, nil
}

// WriteOff writes off everything outstanding and closes the loan.
func (l *Loan) WriteOff(op OpContext, cmd CloseCommand) (*LoanTransaction, *ChangedTransactionDetail, error) {
	if err := ValidateTransition(l.s.Status, EventWriteOff); err != nil {
		return nil, nil, err
	}
	if err := l.requireBound(); err != nil {
		return nil, nil, err
	}
	date, err := l.closingDate(op, cmd.Date)
	if err != nil {
		return nil, nil, err
	}
	if err := l.checkExternalID(cmd.ExternalID); err != nil {
		return nil, nil, err
	}

	var (
		tx      *LoanTransaction
		changed *ChangedTransactionDetail
	)
	err = l.atomically(func() error {
		if err := l.transition(EventWriteOff); err != nil {
			return err
		}
		l.s.WrittenOffOn = &date
		l.s.ClosedOn = &date
		tx = l.newTransaction(op, TransactionWriteOff, date, l.TotalOutstanding())
		tx.ExternalID = cmd.ExternalID
		var err error
		if changed, err = l.post(op, tx); err != nil {
			return err
		}
		changed = changed.Merge(singleChange(tx))
		l.releaseCollateral()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return tx.Clone(), changed.detach(), nil
}

// UndoWriteOff reverses the write-off and reopens the loan.
func (l *Loan) UndoWriteOff(op OpContext) (*ChangedTransactionDetail, error) {
	if err := ValidateTransition(l.s.Status, EventUndoWriteOff); err != nil {
		return nil, err
	}
	if err := l.requireBound(); err != nil {
		return nil, err
	}
	var writeOff *LoanTransaction
	for _, tx := range l.orderedActiveTransactions() {
		switch tx.Type {
		case TransactionWriteOff:
			writeOff = tx
		case TransactionRecoveryRepayment:
			return nil, customError.WrapValidation("loan", "recovery repayments must be reversed first")
		}
	}
	if writeOff == nil {
		return nil, customError.WrapReplayInconsistency(0, "written-off loan has no write-off transaction")
	}

	var changed *ChangedTransactionDetail
	err := l.atomically(func() error {
		if err := l.transition(EventUndoWriteOff); err != nil {
			return err
		}
		writeOff.Reversed = true
		l.s.WrittenOffOn = nil
		l.s.ClosedOn = nil
		for i := range l.s.Collateral {
			l.s.Collateral[i].Released = false
		}
		var err error
		changed, err = l.recalculateAndReprocess(op, writeOff.Date)
		return err
	})
	if err != nil {
		return nil, err
	}
	return changed.detach(), nil
}

// Close closes a loan whose principal and charges are settled, waiving any
// interest still outstanding. Closing before maturity marks the loan
// foreclosed.
func (l *Loan) Close(op OpContext, cmd CloseCommand) (*LoanTransaction, *ChangedTransactionDetail, error) {
	if err := ValidateTransition(l.s.Status, EventClose); err != nil {
		return nil, nil, err
	}
	if err := l.requireBound(); err != nil {
		return nil, nil, err
	}
	date, err := l.closingDate(op, cmd.Date)
	if err != nil {
		return nil, nil, err
	}
	outstanding := l.Summary()
	if outstanding.Principal.IsPositive() || outstanding.Fee.IsPositive() || outstanding.Penalty.IsPositive() {
		return nil, nil, customError.WrapValidation("loan", "principal or charges are still outstanding")
	}

	var (
		waiver  *LoanTransaction
		changed *ChangedTransactionDetail
	)
	err = l.atomically(func() error {
		if outstanding.Interest.IsPositive() {
			waiver = l.newTransaction(op, TransactionWaiveInterest, date, outstanding.Interest)
			waiver.ExternalID = cmd.ExternalID
			waiver.Portions.Interest, waiver.UnrecognizedIncomePortion = l.splitWaiver(date, waiver.Amount)
			var err error
			if changed, err = l.post(op, waiver); err != nil {
				return err
			}
			changed = changed.Merge(singleChange(waiver))
		}
		if l.s.Status == LoanStatusActive {
			if err := l.transition(EventClose); err != nil {
				return err
			}
		}
		l.s.ClosedOn = &date
		if l.s.MaturityDate != nil && date.Before(*l.s.MaturityDate) {
			l.s.SubStatus = LoanSubStatusForeclosed
		}
		l.releaseCollateral()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if waiver == nil {
		return nil, changed.detach(), nil
	}
	return waiver.Clone(), changed.detach(), nil
}

// CloseAsRescheduled closes a loan replaced by a rescheduled one.
func (l *Loan) CloseAsRescheduled(op OpContext, cmd CloseCommand) error {
	if err := ValidateTransition(l.s.Status, EventCloseAsRescheduled); err != nil {
		return err
	}
	date, err := l.closingDate(op, cmd.Date)
	if err != nil {
		return err
	}
	return l.atomically(func() error {
		if err := l.transition(EventCloseAsRescheduled); err != nil {
			return err
		}
		l.s.ClosedOn = &date
		l.releaseCollateral()
		return nil
	})
}

// UndoDisbursal takes the loan back to APPROVED. Only the disbursement itself,
// charges collected with it and accruals may exist.
func (l *Loan) UndoDisbursal(op OpContext) ([]int64, error) {
	if err := ValidateTransition(l.s.Status, EventUndoDisbursal); err != nil {
		return nil, err
	}
	if err := l.requireBound(); err != nil {
		return nil, err
	}
	var undo []*LoanTransaction
	for _, tx := range l.orderedActiveTransactions() {
		switch {
		case tx.Type == TransactionDisbursement, tx.Type == TransactionAccrual:
		case tx.Type == TransactionChargePayment && l.isDisbursementChargePayment(tx):
		default:
			return nil, customError.WrapValidation("loan", "loan has transactions other than its disbursement")
		}
		undo = append(undo, tx)
	}

	var reversed []int64
	err := l.atomically(func() error {
		if err := l.transition(EventUndoDisbursal); err != nil {
			return err
		}
		for _, tx := range undo {
			tx.Reversed = true
			reversed = append(reversed, tx.ID)
		}
		l.s.ActualDisbursementDate = nil
		l.s.MaturityDate = nil
		for i := range l.s.Tranches {
			l.s.Tranches[i].ActualDate = nil
		}
		if len(l.s.Tranches) > 0 {
			l.s.Principal = l.trancheTotal()
		} else {
			l.s.Principal = l.s.ApprovedPrincipal
		}
		l.s.NetDisbursalAmount = decimal.Zero
		l.s.PostDatedChecks = nil
		l.s.Topup = clearTopupClosure(l.s.Topup)
		if err := l.regenerateSchedule(op, nil); err != nil {
			return err
		}
		_, err := l.reprocess()
		return err
	})
	if err != nil {
		return nil, err
	}
	return reversed, nil
}

func clearTopupClosure(t *TopupDetails) *TopupDetails {
	if t == nil {
		return nil
	}
	c := *t
	c.ClosedOutstanding = decimal.Zero
	return &c
}

func (l *Loan) isDisbursementChargePayment(tx *LoanTransaction) bool {
	c := l.findCharge(tx.ChargeID)
	return c != nil && c.IsDisbursementCharge()
}

// releaseCollateral hands pledged collateral back to the client pool.
func (l *Loan) releaseCollateral() {
	if !l.IsIndividual() {
		return
	}
	for i := range l.s.Collateral {
		l.s.Collateral[i].Released = true
	}
}

func (l *Loan) InitiateTransfer(op OpContext, cmd CloseCommand) (*LoanTransaction, error) {
	return l.transfer(op, EventInitiateTransfer, TransactionInitiateTransfer, cmd)
}

func (l *Loan) AcceptTransfer(op OpContext, cmd CloseCommand) (*LoanTransaction, error) {
	return l.transfer(op, EventAcceptTransfer, TransactionApproveTransfer, cmd)
}

func (l *Loan) WithdrawTransfer(op OpContext, cmd CloseCommand) (*LoanTransaction, error) {
	return l.transfer(op, EventWithdrawTransfer, TransactionWithdrawTransfer, cmd)
}

func (l *Loan) RejectTransfer(op OpContext, cmd CloseCommand) (*LoanTransaction, error) {
	return l.transfer(op, EventRejectTransfer, TransactionRejectTransfer, cmd)
}

// transfer books an office transfer marker carrying the outstanding principal.
func (l *Loan) transfer(op OpContext, event LoanEvent, typ TransactionType, cmd CloseCommand) (*LoanTransaction, error) {
	if err := ValidateTransition(l.s.Status, event); err != nil {
		return nil, err
	}
	if err := l.requireBound(); err != nil {
		return nil, err
	}
	date, err := l.closingDate(op, cmd.Date)
	if err != nil {
		return nil, err
	}
	var tx *LoanTransaction
	err = l.atomically(func() error {
		if err := l.transition(event); err != nil {
			return err
		}
		tx = l.newTransaction(op, typ, date, l.Summary().Principal)
		tx.ExternalID = cmd.ExternalID
		_, err := l.post(op, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tx.Clone(), nil
}
