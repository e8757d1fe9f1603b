package service

import (
	"context"
	"fmt"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	"github.com/segyhp/loan-servicing-engine/internal/lock"
	"github.com/segyhp/loan-servicing-engine/pkg/money"
)

// applySideEffects brings the borrower cycle, the collateral pool and the
// savings account transfers in line with what the command changed.
func (s *LoanService) applySideEffects(ctx context.Context, loan *domain.Loan, before snapshot, out *outcome) error {
	if err := s.syncBorrowerCycle(ctx, loan, before); err != nil {
		return err
	}
	if err := s.syncCollateral(ctx, loan, before); err != nil {
		return err
	}
	return s.settleChargeTransfers(ctx, loan, before, out)
}

type cycleChange int

const (
	cycleUnchanged cycleChange = iota
	cycleAssign
	cycleRemove
)

func cycleChangeOf(loan *domain.Loan, before snapshot) cycleChange {
	after := loan.Status()
	switch {
	case before.disbursedOn == nil && loan.ActualDisbursementDate() != nil:
		return cycleAssign
	case before.disbursedOn != nil && loan.ActualDisbursementDate() == nil:
		return cycleRemove
	case before.status == domain.LoanStatusClosedWrittenOff && after == domain.LoanStatusActive:
		return cycleAssign
	case before.status != after &&
		(after == domain.LoanStatusClosedWrittenOff || after == domain.LoanStatusClosedRescheduled):
		return cycleRemove
	}
	return cycleUnchanged
}

// syncBorrowerCycle assigns or withdraws the loan's position among the
// borrower's disbursed loans under the borrower lock.
func (s *LoanService) syncBorrowerCycle(ctx context.Context, loan *domain.Loan, before snapshot) error {
	if !loan.Product().IncludeInBorrowerCycle {
		return nil
	}
	change := cycleChangeOf(loan, before)
	if change == cycleUnchanged {
		return nil
	}

	release, err := s.Locker.Acquire(ctx, lock.BorrowerKey(loan.ClientID(), loan.GroupID()))
	if err != nil {
		return err
	}
	defer release()

	entries, err := s.CycleRepo.ListByBorrower(ctx, loan.ClientID(), loan.GroupID())
	if err != nil {
		return err
	}

	if change == cycleRemove {
		if err := s.CycleRepo.Delete(ctx, loan.ID()); err != nil {
			return err
		}
		changed := domain.RemoveFromCycle(entries, loan.ID())
		loan.ApplyCycleCounters(0, 0)
		return s.CycleRepo.Upsert(ctx, loan.ClientID(), loan.GroupID(), changed)
	}

	changed := domain.AssignCycleCounters(entries, domain.CycleEntry{
		LoanID:      loan.ID(),
		ProductID:   loan.Product().ProductID,
		DisbursedOn: *loan.ActualDisbursementDate(),
	})
	for _, e := range changed {
		if e.LoanID == loan.ID() {
			loan.ApplyCycleCounters(e.LoanCounter, e.ProductCounter)
		}
	}
	return s.CycleRepo.Upsert(ctx, loan.ClientID(), loan.GroupID(), changed)
}

// syncCollateral returns released quantities to the client's pool and takes
// back those pledged again.
func (s *LoanService) syncCollateral(ctx context.Context, loan *domain.Loan, before snapshot) error {
	was := make(map[int64]bool, len(before.collateral))
	for _, c := range before.collateral {
		was[c.ID] = c.Released
	}
	for _, c := range loan.Collateral() {
		released, known := was[c.ID]
		if !known || c.CollateralID == 0 || released == c.Released {
			continue
		}
		var err error
		if c.Released {
			err = s.CollateralRepo.Release(ctx, c.CollateralID, c.Quantity)
		} else {
			err = s.CollateralRepo.Reserve(ctx, c.CollateralID, c.Quantity)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// settleChargeTransfers moves account-transfer charge payments between the
// linked savings account and the loan. Replacements created by a replay carry
// the same amount as the transaction they replace and move nothing.
func (s *LoanService) settleChargeTransfers(ctx context.Context, loan *domain.Loan, before snapshot, out *outcome) error {
	savingsID := loan.LinkedSavingsAccountID()
	if savingsID == 0 {
		return nil
	}
	replacements := make(map[int64]bool)
	replaced := make(map[int64]bool)
	if out.changes != nil {
		for oldID, tx := range out.changes.NewTransactionMappings {
			if oldID == domain.SyntheticTransactionKey {
				continue
			}
			replaced[oldID] = true
			replacements[tx.ID] = true
		}
	}

	for _, tx := range loan.Transactions() {
		if tx.Type != domain.TransactionChargePayment || !tx.AccountTransfer {
			continue
		}
		prior, existed := before.transactionByID[tx.ID]
		transfer := domain.AccountTransfer{
			Amount:            money.New(loan.Currency(), tx.Amount),
			Date:              tx.Date,
			LoanTransactionID: tx.ID,
		}
		switch {
		case !existed && !tx.Reversed && !replacements[tx.ID]:
			transfer.FromType, transfer.FromID = domain.AccountTypeSavings, savingsID
			transfer.ToType, transfer.ToID = domain.AccountTypeLoan, loan.ID()
			transfer.Description = fmt.Sprintf("charge %d paid for loan %d", tx.ChargeID, loan.ID())
		case existed && !prior.Reversed && tx.Reversed && !replaced[tx.ID]:
			transfer.FromType, transfer.FromID = domain.AccountTypeLoan, loan.ID()
			transfer.ToType, transfer.ToID = domain.AccountTypeSavings, savingsID
			transfer.Description = fmt.Sprintf("charge %d payment reversed for loan %d", tx.ChargeID, loan.ID())
		default:
			continue
		}
		if _, err := s.Transfers.TransferFunds(ctx, transfer); err != nil {
			return err
		}
		out.accountTransfer = true
	}
	return nil
}
