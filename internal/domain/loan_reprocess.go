package domain

import (
	"fmt"
	"time"

	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"

	"github.com/shopspring/decimal"
)

// ReprocessTransactions replays every non-reversed transaction against a
// freshly reset schedule. Transactions whose allocation changed are reversed
// and replaced; the replacements are returned. It returns nil when nothing
// changed.
func (l *Loan) ReprocessTransactions() (*ChangedTransactionDetail, error) {
	if err := l.requireBound(); err != nil {
		return nil, err
	}
	var changed *ChangedTransactionDetail
	err := l.atomically(func() error {
		var err error
		changed, err = l.reprocess()
		return err
	})
	if err != nil {
		return nil, err
	}
	return changed.detach(), nil
}

func (l *Loan) reprocess() (*ChangedTransactionDetail, error) {
	l.syncChargeDues()
	for _, inst := range l.s.Installments {
		inst.ResetAllocations()
	}
	for _, c := range l.s.Charges {
		c.resetAllocations()
	}

	state := &AllocationState{
		Currency:     l.s.Currency,
		Installments: l.s.Installments,
		Charges:      l.s.Charges,
		Overpaid:     decimal.Zero,
	}
	changed := NewChangedTransactionDetail()
	var replacements []*LoanTransaction
	balance := decimal.Zero
	var lastDate time.Time

	for _, tx := range l.orderedActiveTransactions() {
		alloc, err := l.processor.Apply(state, tx)
		if err != nil {
			return nil, err
		}
		if err := l.verifyAllocation(state, tx, alloc); err != nil {
			return nil, err
		}
		balance = nextOutstandingBalance(balance, tx, alloc)
		lastDate = tx.Date

		switch {
		case tx.pending:
			tx.apply(alloc)
			tx.OutstandingLoanBalance = balance
		case !tx.Matches(alloc):
			repl := l.replace(tx, alloc)
			repl.OutstandingLoanBalance = balance
			replacements = append(replacements, repl)
			changed.Add(tx.ID, repl)
		default:
			tx.OutstandingLoanBalance = balance
		}
		for _, inst := range l.s.Installments {
			inst.UpdateCompleted(tx.Date)
		}
	}

	l.s.Transactions = append(l.s.Transactions, replacements...)
	l.s.TotalOverpaid = state.Overpaid
	for _, inst := range l.s.Installments {
		// installments nothing was ever allocated to (zero dues) complete on their due date
		inst.UpdateCompleted(inst.DueDate)
	}
	if err := l.settleStatus(lastDate); err != nil {
		return nil, err
	}
	if changed.IsEmpty() {
		return nil, nil
	}
	return changed, nil
}

// replace reverses tx and books a copy carrying the fresh allocation. The
// copy keeps the original ordering sequence and external id.
func (l *Loan) replace(tx *LoanTransaction, alloc Allocation) *LoanTransaction {
	repl := tx.Clone()
	repl.ID = l.s.NextTransactionID
	l.s.NextTransactionID++
	repl.Reversed = false
	repl.ManuallyAdjusted = false
	repl.apply(alloc)

	tx.Reversed = true
	return repl
}

// verifyAllocation enforces the replay invariants after each transaction.
func (l *Loan) verifyAllocation(state *AllocationState, tx *LoanTransaction, alloc Allocation) error {
	for _, comp := range AllComponents {
		if alloc.Get(comp).IsNegative() {
			return customError.WrapReplayInconsistency(tx.ID, fmt.Sprintf("negative %s allocation", comp))
		}
	}
	if alloc.Overpayment.IsNegative() {
		return customError.WrapReplayInconsistency(tx.ID, "negative overpayment allocation")
	}
	if state.Overpaid.IsNegative() {
		return customError.WrapReplayInconsistency(tx.ID, "overpaid balance went negative")
	}
	if tx.IsIncomingMoney() && !alloc.Total().Equal(tx.Amount) {
		return customError.WrapReplayInconsistency(tx.ID,
			fmt.Sprintf("allocated %s of transaction amount %s", alloc.Total(), tx.Amount))
	}
	for _, inst := range state.Installments {
		if comp, ok := inst.CheckConservation(); !ok {
			return customError.WrapReplayInconsistency(tx.ID,
				fmt.Sprintf("installment %d %s balance broken", inst.Number, comp))
		}
	}
	for _, c := range state.Charges {
		for _, line := range c.Lines {
			if line.Outstanding().IsNegative() {
				return customError.WrapReplayInconsistency(tx.ID,
					fmt.Sprintf("charge %d over-allocated on installment %d", c.ID, line.InstallmentNumber))
			}
		}
	}
	return nil
}

func nextOutstandingBalance(balance decimal.Decimal, tx *LoanTransaction, alloc Allocation) decimal.Decimal {
	switch tx.Type {
	case TransactionDisbursement:
		return balance.Add(tx.Amount)
	case TransactionRepayment, TransactionChargePayment, TransactionWriteOff, TransactionWaiveInterest, TransactionWaiveCharges:
		return balance.Sub(alloc.Principal)
	}
	return balance
}

// applyIncrementally allocates one new transaction on top of the current
// state. Only valid when the transaction sorts last in the history.
func (l *Loan) applyIncrementally(tx *LoanTransaction) error {
	state := &AllocationState{
		Currency:     l.s.Currency,
		Installments: l.s.Installments,
		Charges:      l.s.Charges,
		Overpaid:     l.s.TotalOverpaid,
	}
	alloc, err := l.processor.Apply(state, tx)
	if err != nil {
		return err
	}
	if err := l.verifyAllocation(state, tx, alloc); err != nil {
		return err
	}
	tx.apply(alloc)
	tx.OutstandingLoanBalance = nextOutstandingBalance(l.outstandingBalanceBefore(tx), tx, alloc)
	l.s.TotalOverpaid = state.Overpaid
	for _, inst := range l.s.Installments {
		inst.UpdateCompleted(tx.Date)
	}
	return l.settleStatus(tx.Date)
}

func (l *Loan) outstandingBalanceBefore(tx *LoanTransaction) decimal.Decimal {
	balance := decimal.Zero
	for _, other := range l.orderedActiveTransactions() {
		if other == tx {
			break
		}
		balance = nextOutstandingBalance(balance, other, other.Allocation())
	}
	return balance
}

// isLatest reports whether tx sorts after every other active transaction.
func (l *Loan) isLatest(tx *LoanTransaction) bool {
	latest := l.latestTransactionDate()
	return latest == nil || !tx.Date.Before(*latest)
}

// settleStatus moves an open loan between ACTIVE, OVERPAID and
// CLOSED_OBLIGATIONS_MET after allocations changed.
func (l *Loan) settleStatus(on time.Time) error {
	switch l.s.Status {
	case LoanStatusActive, LoanStatusOverpaid, LoanStatusClosedObligationsMet:
	default:
		return nil
	}
	target := LoanStatusActive
	if !l.hasPendingTranches() && len(l.s.Installments) > 0 && l.TotalOutstanding().IsZero() {
		target = LoanStatusClosedObligationsMet
		if l.s.TotalOverpaid.IsPositive() {
			target = LoanStatusOverpaid
		}
	}
	if target == l.s.Status {
		return nil
	}
	var event LoanEvent
	switch target {
	case LoanStatusClosedObligationsMet:
		event = EventObligationsMet
	case LoanStatusOverpaid:
		event = EventOverpay
	default:
		event = EventReopen
	}
	if err := l.transition(event); err != nil {
		return err
	}
	switch l.s.Status {
	case LoanStatusClosedObligationsMet:
		closed := on
		l.s.ClosedOn = &closed
	case LoanStatusActive:
		l.s.ClosedOn = nil
		l.s.SubStatus = LoanSubStatusNone
	}
	return nil
}

// recalculateAndReprocess replays the history and, when interest
// recalculation is enabled, regenerates the schedule from `from` using the
// principal paid in that replay before replaying once more. Transactions
// created during the first pass are allocated afresh in the second.
func (l *Loan) recalculateAndReprocess(op OpContext, from time.Time) (*ChangedTransactionDetail, error) {
	fresh := make(map[*LoanTransaction]bool)
	for _, tx := range l.s.Transactions {
		if tx.pending {
			fresh[tx] = true
		}
	}
	changed, err := l.reprocess()
	if err != nil {
		return nil, err
	}
	if !l.s.Product.InterestRecalculationEnabled || len(l.s.Installments) == 0 {
		return changed, nil
	}
	if changed != nil {
		for _, repl := range changed.NewTransactionMappings {
			fresh[repl] = true
		}
	}
	if err := l.regenerateSchedule(op, &from); err != nil {
		return nil, err
	}
	for tx := range fresh {
		tx.pending = true
	}
	again, err := l.reprocess()
	if err != nil {
		return nil, err
	}
	if changed.IsEmpty() {
		return again, nil
	}
	return changed.Merge(again), nil
}
