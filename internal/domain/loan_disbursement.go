package domain

import (
	"time"

	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"
	"github.com/segyhp/loan-servicing-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

// Approve moves a submitted loan to APPROVED, optionally for less than the
// proposed principal.
func (l *Loan) Approve(op OpContext, cmd ApproveCommand) error {
	if err := ValidateTransition(l.s.Status, EventApprove); err != nil {
		return err
	}
	approvedOn := utils.TruncateDay(cmd.ApprovedOn)
	if approvedOn.IsZero() {
		approvedOn = utils.TruncateDay(op.BusinessDate)
	}
	if approvedOn.Before(l.s.SubmittedOn) {
		return customError.WrapValidation("approved_on", "cannot be before submission")
	}
	if approvedOn.After(utils.TruncateDay(op.BusinessDate)) {
		return customError.WrapValidation("approved_on", "cannot be in the future")
	}
	amount := l.s.ProposedPrincipal
	if cmd.Amount != nil {
		if err := l.validateAmount(*cmd.Amount); err != nil {
			return err
		}
		amount = cmd.Amount.Amount()
		if amount.GreaterThan(l.s.ProposedPrincipal) {
			return customError.WrapValidation("approved_amount", "cannot exceed the proposed principal")
		}
		if l.s.Product.MultiDisburse && len(l.s.Tranches) > 0 && !amount.Equal(l.s.ProposedPrincipal) {
			return customError.WrapValidation("approved_amount", "tranche loans are approved for the full principal")
		}
	}
	if cmd.ExpectedDisbursementDate != nil && utils.TruncateDay(*cmd.ExpectedDisbursementDate).Before(approvedOn) {
		return customError.WrapValidation("expected_disbursement_date", "cannot be before approval")
	}

	return l.atomically(func() error {
		if err := l.transition(EventApprove); err != nil {
			return err
		}
		l.s.ApprovedOn = &approvedOn
		l.s.ApprovedPrincipal = amount
		l.s.Principal = amount
		if cmd.ExpectedDisbursementDate != nil {
			l.s.ExpectedDisbursementDate = utils.TruncateDay(*cmd.ExpectedDisbursementDate)
		}
		for _, c := range l.s.Charges {
			l.placeCharge(c)
		}
		return nil
	})
}

func (l *Loan) UndoApproval() error {
	return l.atomically(func() error {
		if err := l.transition(EventUndoApproval); err != nil {
			return err
		}
		l.s.ApprovedOn = nil
		l.s.ApprovedPrincipal = decimal.Zero
		l.s.Principal = l.s.ProposedPrincipal
		for _, c := range l.s.Charges {
			l.placeCharge(c)
		}
		return nil
	})
}

func (l *Loan) Reject(op OpContext, cmd CloseCommand) error {
	return l.closeApplication(op, EventReject, cmd)
}

func (l *Loan) Withdraw(op OpContext, cmd CloseCommand) error {
	return l.closeApplication(op, EventWithdraw, cmd)
}

func (l *Loan) closeApplication(op OpContext, event LoanEvent, cmd CloseCommand) error {
	if err := ValidateTransition(l.s.Status, event); err != nil {
		return err
	}
	date := utils.TruncateDay(cmd.Date)
	if date.IsZero() {
		date = utils.TruncateDay(op.BusinessDate)
	}
	if date.Before(l.s.SubmittedOn) {
		return customError.WrapValidation("date", "cannot be before submission")
	}
	if date.After(utils.TruncateDay(op.BusinessDate)) {
		return customError.WrapValidation("date", "cannot be in the future")
	}
	if err := l.transition(event); err != nil {
		return err
	}
	l.s.ClosedOn = &date
	l.releaseCollateral()
	return nil
}

// Disburse releases the loan, or its next tranche, and returns the
// transactions rewritten by the replay and the disbursement transaction id.
func (l *Loan) Disburse(op OpContext, cmd DisburseCommand) (*ChangedTransactionDetail, int64, error) {
	if err := ValidateTransition(l.s.Status, EventDisburse); err != nil {
		return nil, 0, err
	}
	multi := l.s.Product.MultiDisburse && len(l.s.Tranches) > 0
	if l.s.Status == LoanStatusActive && (!multi || !l.hasPendingTranches()) {
		return nil, 0, customError.WrapInvalidStateTransition(string(EventDisburse), string(l.s.Status))
	}
	if err := l.requireBound(); err != nil {
		return nil, 0, err
	}

	date := utils.TruncateDay(cmd.Date)
	if date.IsZero() {
		return nil, 0, customError.WrapValidation("actual_disbursement_date", "is required")
	}
	if date.After(utils.TruncateDay(op.BusinessDate)) {
		return nil, 0, customError.WrapValidation("actual_disbursement_date", "cannot be in the future")
	}
	if l.s.ApprovedOn != nil && date.Before(*l.s.ApprovedOn) {
		return nil, 0, customError.WrapValidation("actual_disbursement_date", "cannot be before approval")
	}
	if latest := l.latestTransactionDate(); latest != nil && date.Before(*latest) {
		return nil, 0, customError.WrapValidation("actual_disbursement_date", "cannot be before the last transaction")
	}

	var tranche *Tranche
	expected := l.s.ExpectedDisbursementDate
	planned := l.s.Principal
	if multi {
		var err error
		if tranche, err = l.pendingTranche(cmd.TrancheID); err != nil {
			return nil, 0, err
		}
		expected = tranche.ExpectedDate
		planned = tranche.Principal
	}
	if l.s.Product.SyncExpectedWithDisbursementDate && !date.Equal(expected) {
		return nil, 0, customError.WrapDateMismatch(expected.Format(utils.DateLayout), date.Format(utils.DateLayout))
	}

	amount := planned
	if cmd.Amount != nil {
		if err := l.validateAmount(*cmd.Amount); err != nil {
			return nil, 0, err
		}
		amount = cmd.Amount.Amount()
		if !multi && amount.GreaterThan(l.s.ApprovedPrincipal) {
			return nil, 0, customError.WrapValidation("transaction_amount", "cannot exceed the approved principal")
		}
	}
	amountChanged := !amount.Equal(planned)

	if l.IsIndividual() && len(l.s.Collateral) > 0 {
		required := l.disbursedPrincipal().Add(amount)
		available := l.CollateralValue()
		if required.GreaterThan(available) {
			return nil, 0, customError.WrapInsufficientCollateral(required.String(), available.String())
		}
	}
	if cmd.AccountTransfer && l.s.LinkedSavingsAccountID == 0 {
		return nil, 0, customError.WrapLinkedAccountRequired(l.s.ID)
	}
	if err := l.checkExternalID(cmd.ExternalID); err != nil {
		return nil, 0, err
	}

	var (
		changed *ChangedTransactionDetail
		txID    int64
	)
	err := l.atomically(func() error {
		first := l.s.ActualDisbursementDate == nil
		if err := l.transition(EventDisburse); err != nil {
			return err
		}
		if tranche != nil {
			tranche.Principal = amount
			tranche.ActualDate = &date
			l.s.Principal = l.trancheTotal()
		} else if amountChanged {
			// adjust the principal to what was actually released
			l.s.Principal = amount
		}
		if first {
			l.s.ActualDisbursementDate = &date
		}

		regenerate := len(l.s.Installments) == 0 || amountChanged || multi ||
			!date.Equal(expected) || l.s.Product.InterestRecalculationEnabled
		if regenerate {
			if err := l.regenerateSchedule(op, nil); err != nil {
				return err
			}
		}

		tx := l.newTransaction(op, TransactionDisbursement, date, amount)
		tx.AccountTransfer = cmd.AccountTransfer
		tx.ExternalID = cmd.ExternalID
		tx.PaymentDetail = cmd.PaymentDetail
		l.s.Transactions = append(l.s.Transactions, tx)
		txID = tx.ID

		collected := l.collectDisbursementCharges(op, date, tranche, first)
		l.s.NetDisbursalAmount = l.s.NetDisbursalAmount.Add(amount).Sub(collected)

		var err error
		changed, err = l.reprocess()
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return changed.detach(), txID, nil
}

func (l *Loan) pendingTranche(id int64) (*Tranche, error) {
	if id == 0 {
		var next *Tranche
		for i := range l.s.Tranches {
			t := &l.s.Tranches[i]
			if !t.IsDisbursed() && (next == nil || t.ExpectedDate.Before(next.ExpectedDate)) {
				next = t
			}
		}
		if next == nil {
			return nil, customError.WrapValidation("tranche_id", "no tranche left to disburse")
		}
		return next, nil
	}
	t := l.tranche(id)
	if t == nil {
		return nil, customError.WrapValidation("tranche_id", "unknown tranche")
	}
	if t.IsDisbursed() {
		return nil, customError.WrapValidation("tranche_id", "tranche is already disbursed")
	}
	return t, nil
}

func (l *Loan) trancheTotal() decimal.Decimal {
	total := decimal.Zero
	for _, t := range l.s.Tranches {
		total = total.Add(t.Principal)
	}
	return total
}

// disbursedPrincipal sums the active disbursement transactions.
func (l *Loan) disbursedPrincipal() decimal.Decimal {
	total := decimal.Zero
	for _, tx := range l.s.Transactions {
		if !tx.Reversed && tx.Type == TransactionDisbursement {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

// collectDisbursementCharges books a charge payment for every disbursement
// charge due with this disbursement. Cash charges are deducted from the
// released amount, which is returned; account-transfer charges are collected
// from savings by the caller.
func (l *Loan) collectDisbursementCharges(op OpContext, date time.Time, tranche *Tranche, first bool) decimal.Decimal {
	collected := decimal.Zero
	for _, c := range l.s.Charges {
		if !c.IsDisbursementCharge() || !c.Amount.IsPositive() {
			continue
		}
		switch {
		case tranche != nil && c.TrancheID == tranche.ID:
		case c.TrancheID == 0 && first:
		default:
			continue
		}
		tx := l.newTransaction(op, TransactionChargePayment, date, c.Amount)
		tx.ChargeID = c.ID
		tx.AccountTransfer = c.IsAccountTransfer()
		l.s.Transactions = append(l.s.Transactions, tx)
		if !c.IsAccountTransfer() {
			collected = collected.Add(c.Amount)
		}
	}
	return collected
}

// RecordTopupClosure deducts the outstanding balance of the loan being closed
// by a top-up from the net disbursal amount.
func (l *Loan) RecordTopupClosure(outstanding decimal.Decimal) error {
	if l.s.Topup == nil {
		return customError.WrapValidation("topup", "loan is not a top-up loan")
	}
	if outstanding.GreaterThan(l.s.NetDisbursalAmount) {
		return customError.WrapTopupOutstandingExceedsAmount(outstanding.String(), l.s.NetDisbursalAmount.String())
	}
	l.s.Topup.ClosedOutstanding = outstanding
	l.s.NetDisbursalAmount = l.s.NetDisbursalAmount.Sub(outstanding)
	return nil
}
