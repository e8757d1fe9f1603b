package domain

import (
	"fmt"
	"time"

	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"
	"github.com/segyhp/loan-servicing-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

func validateChargeDefinition(def ChargeDefinition, dueDate *time.Time) error {
	if !def.Amount.IsPositive() {
		return customError.WrapValidation("charge.amount", "must be greater than 0")
	}
	switch def.CalculationType {
	case ChargeCalculationFlat, ChargeCalculationPercentOfAmount, ChargeCalculationPercentOfAmountAndInterest,
		ChargeCalculationPercentOfInterest, ChargeCalculationPercentOfDisbursementAmount:
	default:
		return customError.WrapValidation("charge.calculation_type", fmt.Sprintf("unsupported %q", def.CalculationType))
	}
	switch def.TimeType {
	case ChargeTimeDisbursement, ChargeTimeTrancheDisbursement, ChargeTimeInstallmentFee:
	case ChargeTimeSpecifiedDueDate:
		if dueDate == nil {
			return customError.WrapValidation("charge.due_date", "is required for specified due date charges")
		}
	case ChargeTimeOverdueInstallment:
		return customError.WrapValidation("charge.time_type", "overdue installment charges are applied by the penalty job")
	default:
		return customError.WrapValidation("charge.time_type", fmt.Sprintf("unsupported %q", def.TimeType))
	}
	if def.CalculationType == ChargeCalculationPercentOfDisbursementAmount && def.TimeType != ChargeTimeTrancheDisbursement &&
		def.TimeType != ChargeTimeDisbursement {
		return customError.WrapValidation("charge.calculation_type", "percent of disbursement applies to disbursement charges only")
	}
	switch def.PaymentMode {
	case "", ChargePaymentModeCash, ChargePaymentModeAccountTransfer:
	default:
		return customError.WrapValidation("charge.payment_mode", fmt.Sprintf("unsupported %q", def.PaymentMode))
	}
	return nil
}

// attachCharges builds the loan charges a definition resolves to. A
// percentage-of-disbursement charge on a multi-tranche loan becomes one
// charge per tranche that has not been disbursed yet.
func (l *Loan) attachCharges(def ChargeDefinition, dueDate *time.Time, createdOn time.Time) ([]*LoanCharge, error) {
	if err := validateChargeDefinition(def, dueDate); err != nil {
		return nil, err
	}
	if def.PaymentMode == "" {
		def.PaymentMode = ChargePaymentModeCash
	}
	var due *time.Time
	if dueDate != nil {
		d := utils.TruncateDay(*dueDate)
		due = &d
	}

	tranches := []int64{0}
	if def.CalculationType == ChargeCalculationPercentOfDisbursementAmount && len(l.s.Tranches) > 0 {
		tranches = tranches[:0]
		for _, t := range l.s.Tranches {
			if !t.IsDisbursed() {
				tranches = append(tranches, t.ID)
			}
		}
		if len(tranches) == 0 {
			return nil, customError.WrapValidation("charge.calculation_type", "no pending tranche to charge")
		}
	}

	var out []*LoanCharge
	for _, trancheID := range tranches {
		c := &LoanCharge{
			ID:         l.s.NextChargeID,
			Definition: def,
			DueDate:    due,
			TrancheID:  trancheID,
			CreatedOn:  utils.TruncateDay(createdOn),
		}
		if c.DueDate == nil && trancheID != 0 {
			d := l.tranche(trancheID).ExpectedDate
			c.DueDate = &d
		}
		l.s.NextChargeID++
		l.s.Charges = append(l.s.Charges, c)
		l.placeCharge(c)
		out = append(out, c)
	}
	l.syncChargeDues()
	return out, nil
}

// AddCharge attaches a charge. A charge due before the latest transaction, or
// falling in an installment that already carries payments, is applied on back
// date: the history is replayed, and when fees compound into recalculated
// interest the schedule is regenerated first.
func (l *Loan) AddCharge(op OpContext, cmd AddChargeCommand) ([]int64, *ChangedTransactionDetail, error) {
	if err := ValidateTransition(l.s.Status, EventAddCharge); err != nil {
		return nil, nil, err
	}
	if l.s.Status == LoanStatusActive {
		if err := l.requireBound(); err != nil {
			return nil, nil, err
		}
	}
	var (
		ids     []int64
		changed *ChangedTransactionDetail
	)
	err := l.atomically(func() error {
		charges, err := l.attachCharges(cmd.Definition, cmd.DueDate, op.BusinessDate)
		if err != nil {
			return err
		}
		for _, c := range charges {
			ids = append(ids, c.ID)
		}
		if l.s.Status != LoanStatusActive {
			return nil
		}

		latest := l.latestTransactionDate()
		backDated := false
		for _, c := range charges {
			if latest != nil && c.EffectiveDueDate().Before(*latest) {
				backDated = true
			}
			// a prepaid installment must give way to the new charge
			if inst := l.installmentFor(c.EffectiveDueDate()); inst != nil && inst.Paid.Total().IsPositive() {
				backDated = true
			}
		}
		if !backDated {
			for _, inst := range l.s.Installments {
				inst.UpdateCompleted(op.BusinessDate)
			}
			return l.settleStatus(op.BusinessDate)
		}
		if l.s.Product.InterestRecalculationEnabled && l.s.Product.FeeCompoundingOnRecalculation {
			if err := l.regenerateSchedule(op, nil); err != nil {
				return err
			}
		}
		changed, err = l.reprocess()
		return err
	})
	if err != nil {
		return nil, nil, rejectUncoveredRefund(err)
	}
	return ids, changed.detach(), nil
}

// DeleteCharge removes a charge from a loan that is still awaiting approval.
func (l *Loan) DeleteCharge(chargeID int64) error {
	if l.s.Status != LoanStatusSubmitted {
		return customError.WrapInvalidStateTransition("delete_charge", string(l.s.Status))
	}
	for i, c := range l.s.Charges {
		if c.ID == chargeID {
			l.s.Charges = append(l.s.Charges[:i], l.s.Charges[i+1:]...)
			return nil
		}
	}
	return customError.WrapChargeNotFound(l.s.ID, chargeID)
}

// chargeTarget resolves the charge and, for installment fees, the line.
func (l *Loan) chargeTarget(chargeID int64, installmentNumber int) (*LoanCharge, decimal.Decimal, error) {
	c := l.findCharge(chargeID)
	if c == nil {
		return nil, decimal.Zero, customError.WrapChargeNotFound(l.s.ID, chargeID)
	}
	if installmentNumber == 0 {
		return c, c.Outstanding(), nil
	}
	line := c.Line(installmentNumber)
	if line == nil {
		return nil, decimal.Zero, customError.WrapValidation("installment_number",
			fmt.Sprintf("charge %d has no share on installment %d", chargeID, installmentNumber))
	}
	return c, line.Outstanding(), nil
}

// WaiveCharge waives what is outstanding on a charge, or on one installment
// of an installment fee.
func (l *Loan) WaiveCharge(op OpContext, chargeID int64, installmentNumber int) (*LoanTransaction, *ChangedTransactionDetail, error) {
	if err := ValidateTransition(l.s.Status, EventWaiveCharge); err != nil {
		return nil, nil, err
	}
	if err := l.requireBound(); err != nil {
		return nil, nil, err
	}
	c, outstanding, err := l.chargeTarget(chargeID, installmentNumber)
	if err != nil {
		return nil, nil, err
	}
	if !outstanding.IsPositive() {
		return nil, nil, customError.WrapAlreadyPaidOrWaived("charge", chargeID)
	}

	var (
		tx      *LoanTransaction
		changed *ChangedTransactionDetail
	)
	err = l.atomically(func() error {
		tx = l.newTransaction(op, TransactionWaiveCharges, op.BusinessDate, outstanding)
		tx.ChargeID = c.ID
		tx.InstallmentNumber = installmentNumber
		changed, err = l.post(op, tx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return tx.Clone(), changed.detach(), nil
}

// UndoWaiveCharge reverses the latest waiver booked against a charge.
func (l *Loan) UndoWaiveCharge(op OpContext, chargeID int64, installmentNumber int) (*ChangedTransactionDetail, error) {
	if err := ValidateTransition(l.s.Status, EventWaiveCharge); err != nil {
		return nil, err
	}
	if err := l.requireBound(); err != nil {
		return nil, err
	}
	if _, _, err := l.chargeTarget(chargeID, installmentNumber); err != nil {
		return nil, err
	}
	var waiver *LoanTransaction
	for _, tx := range l.orderedActiveTransactions() {
		if tx.Type == TransactionWaiveCharges && tx.ChargeID == chargeID &&
			(installmentNumber == 0 || tx.InstallmentNumber == installmentNumber) {
			waiver = tx
		}
	}
	if waiver == nil {
		return nil, customError.WrapValidation("charge_id", fmt.Sprintf("charge %d has no waiver to undo", chargeID))
	}

	var changed *ChangedTransactionDetail
	err := l.atomically(func() error {
		waiver.Reversed = true
		var err error
		changed, err = l.recalculateAndReprocess(op, waiver.Date)
		return err
	})
	if err != nil {
		return nil, rejectUncoveredRefund(err)
	}
	return changed.detach(), nil
}

// PayCharge settles a charge through an account transfer from the linked
// savings account. The caller moves the funds once the loan is saved.
func (l *Loan) PayCharge(op OpContext, cmd PayChargeCommand) (*LoanTransaction, *ChangedTransactionDetail, error) {
	if err := ValidateTransition(l.s.Status, EventChargePayment); err != nil {
		return nil, nil, err
	}
	if err := l.requireBound(); err != nil {
		return nil, nil, err
	}
	c, outstanding, err := l.chargeTarget(cmd.ChargeID, cmd.InstallmentNumber)
	if err != nil {
		return nil, nil, err
	}
	if !c.IsAccountTransfer() {
		return nil, nil, customError.WrapValidation("charge_id", "only account transfer charges can be paid directly")
	}
	if l.s.LinkedSavingsAccountID == 0 {
		return nil, nil, customError.WrapLinkedAccountRequired(l.s.ID)
	}
	if !outstanding.IsPositive() {
		return nil, nil, customError.WrapAlreadyPaidOrWaived("charge", cmd.ChargeID)
	}
	amount := outstanding
	if cmd.Amount != nil {
		if err := l.validateAmount(*cmd.Amount); err != nil {
			return nil, nil, err
		}
		amount = cmd.Amount.Amount()
		if amount.GreaterThan(outstanding) {
			return nil, nil, customError.WrapValidation("transaction_amount",
				fmt.Sprintf("exceeds the outstanding charge amount %s", outstanding))
		}
	}
	date := cmd.Date
	if date.IsZero() {
		date = op.BusinessDate
	}
	if err := l.validateTransactionDate(op, date); err != nil {
		return nil, nil, err
	}

	var (
		tx      *LoanTransaction
		changed *ChangedTransactionDetail
	)
	err = l.atomically(func() error {
		tx = l.newTransaction(op, TransactionChargePayment, date, amount)
		tx.ChargeID = c.ID
		tx.InstallmentNumber = cmd.InstallmentNumber
		tx.AccountTransfer = true
		changed, err = l.post(op, tx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return tx.Clone(), changed.detach(), nil
}

// post appends a new transaction and brings allocations up to date, either
// incrementally or by replaying the history from the transaction's date.
func (l *Loan) post(op OpContext, tx *LoanTransaction) (*ChangedTransactionDetail, error) {
	latest := l.isLatest(tx)
	l.s.Transactions = append(l.s.Transactions, tx)
	if latest && !l.s.Product.InterestRecalculationEnabled {
		return nil, l.applyIncrementally(tx)
	}
	return l.recalculateAndReprocess(op, tx.Date)
}
