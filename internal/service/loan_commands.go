package service

import (
	"context"
	"fmt"
	"time"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	"github.com/segyhp/loan-servicing-engine/internal/events"
	"github.com/segyhp/loan-servicing-engine/internal/lock"
	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"
	"github.com/segyhp/loan-servicing-engine/pkg/money"
	"github.com/segyhp/loan-servicing-engine/pkg/utils"

	"github.com/sirupsen/logrus"
)

// SubmitLoan validates an application, pledges its collateral and stores it.
func (s *LoanService) SubmitLoan(ctx context.Context, p domain.SubmitLoanParams) (*CommandResult, error) {
	var (
		loan  *domain.Loan
		event domain.BusinessEvent
	)
	p.Collateral = append([]domain.CollateralItem(nil), p.Collateral...)
	err := s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		for i, item := range p.Collateral {
			p.Collateral[i].ID = int64(i + 1)
			pool, err := s.CollateralRepo.GetByID(ctx, item.CollateralID)
			if err != nil {
				return err
			}
			if p.ClientID == 0 || pool.ClientID != p.ClientID {
				return customError.WrapValidation("collateral_id", "collateral does not belong to the client")
			}
			p.Collateral[i].Name = pool.Name
			p.Collateral[i].BasePrice = pool.BasePrice
			p.Collateral[i].PctToBase = pool.PctToBase
		}

		var err error
		if loan, err = domain.NewLoan(p); err != nil {
			return err
		}
		if err := s.bind(loan); err != nil {
			return err
		}
		if topup := loan.Topup(); topup != nil {
			if err := s.checkTopupTarget(ctx, loan, topup.LoanIDToClose); err != nil {
				return err
			}
		}

		event = domain.NewBusinessEvent(events.LoanSubmitted, s.tenant(ctx), 0, s.now().UTC())
		if err := s.Notifier.NotifyPre(ctx, event); err != nil {
			return err
		}
		for _, item := range loan.Collateral() {
			if err := s.CollateralRepo.Reserve(ctx, item.CollateralID, item.Quantity); err != nil {
				return err
			}
		}
		return s.LoanRepo.Create(ctx, loan)
	})
	if err != nil {
		s.log.WithError(err).WithField("client_id", p.ClientID).Warn("loan submission failed")
		return nil, err
	}

	event.LoanID = loan.ID()
	event.Data["status"] = string(loan.Status())
	_ = s.Notifier.NotifyPost(ctx, event)

	s.log.WithFields(logrus.Fields{
		"loan_id":   loan.ID(),
		"client_id": loan.ClientID(),
		"command":   events.LoanSubmitted,
		"tenant":    event.TenantID,
	}).Info("loan submitted")

	return &CommandResult{LoanID: loan.ID(), Loan: loan}, nil
}

func (s *LoanService) checkTopupTarget(ctx context.Context, loan *domain.Loan, targetID int64) error {
	if targetID == 0 {
		return customError.WrapValidation("loan_id_to_close", "is required for a top-up loan")
	}
	target, err := s.LoanRepo.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if target.Status() != domain.LoanStatusActive {
		return customError.WrapLoanNotActive(targetID, string(target.Status()))
	}
	if target.ClientID() != loan.ClientID() {
		return customError.WrapValidation("loan_id_to_close", "loan belongs to another client")
	}
	if target.Currency().Code != loan.Currency().Code {
		return customError.WrapCurrencyMismatch(loan.Currency().Code, target.Currency().Code)
	}
	return nil
}

func (s *LoanService) Approve(ctx context.Context, loanID int64, cmd domain.ApproveCommand) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanApproved, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		return nil, loan.Approve(op, cmd)
	})
}

func (s *LoanService) UndoApproval(ctx context.Context, loanID int64) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanApprovalUndone, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		return nil, loan.UndoApproval()
	})
}

func (s *LoanService) Reject(ctx context.Context, loanID int64, cmd domain.CloseCommand) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanRejected, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		return nil, loan.Reject(op, cmd)
	})
}

func (s *LoanService) Withdraw(ctx context.Context, loanID int64, cmd domain.CloseCommand) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanWithdrawn, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		return nil, loan.Withdraw(op, cmd)
	})
}

// Disburse releases the loan or its next tranche. The net amount goes to the
// linked savings account when requested, and the first disbursement of a
// top-up loan closes the loan it replaces.
func (s *LoanService) Disburse(ctx context.Context, loanID int64, cmd domain.DisburseCommand) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanDisbursed, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		first := loan.ActualDisbursementDate() == nil
		netBefore := loan.NetDisbursalAmount()

		changes, txID, err := loan.Disburse(op, cmd)
		if err != nil {
			return nil, err
		}
		out := &outcome{transactionID: txID, changes: changes, data: map[string]any{}}

		if first && loan.Topup() != nil {
			closedID, err := s.closeTopupTarget(ctx, loan, op, *loan.ActualDisbursementDate())
			if err != nil {
				return nil, err
			}
			out.data["closed_loan_id"] = closedID
		}

		net := loan.NetDisbursalAmount().Sub(netBefore)
		if cmd.AccountTransfer && net.IsPositive() {
			_, err := s.Transfers.TransferFunds(ctx, domain.AccountTransfer{
				FromType:          domain.AccountTypeLoan,
				FromID:            loan.ID(),
				ToType:            domain.AccountTypeSavings,
				ToID:              loan.LinkedSavingsAccountID(),
				Amount:            money.New(loan.Currency(), net),
				Date:              utils.TruncateDay(cmd.Date),
				Description:       fmt.Sprintf("disbursement of loan %d", loan.ID()),
				LoanTransactionID: txID,
			})
			if err != nil {
				return nil, err
			}
			out.accountTransfer = true
		}
		return out, nil
	})
}

// closeTopupTarget repays the outstanding balance of the loan a top-up
// replaces out of the new loan's disbursement.
func (s *LoanService) closeTopupTarget(ctx context.Context, loan *domain.Loan, op domain.OpContext, date time.Time) (int64, error) {
	targetID := loan.Topup().LoanIDToClose
	release, err := s.Locker.Acquire(ctx, lock.LoanKey(targetID))
	if err != nil {
		return 0, err
	}
	defer release()

	if err := s.checkTopupTarget(ctx, loan, targetID); err != nil {
		return 0, err
	}
	target, err := s.LoanRepo.GetByID(ctx, targetID)
	if err != nil {
		return 0, err
	}
	if err := s.bind(target); err != nil {
		return 0, err
	}

	before := takeSnapshot(target)
	outstanding := target.TotalOutstanding()
	if err := loan.RecordTopupClosure(outstanding); err != nil {
		return 0, err
	}
	tx, _, err := target.MakeRepayment(op, domain.RepaymentCommand{
		Type:   domain.TransactionRepayment,
		Date:   date,
		Amount: money.New(target.Currency(), outstanding),
	})
	if err != nil {
		return 0, err
	}
	_, err = s.Transfers.TransferFunds(ctx, domain.AccountTransfer{
		FromType:          domain.AccountTypeLoan,
		FromID:            loan.ID(),
		ToType:            domain.AccountTypeLoan,
		ToID:              targetID,
		Amount:            money.New(loan.Currency(), outstanding),
		Date:              date,
		Description:       fmt.Sprintf("loan %d closed by top-up loan %d", targetID, loan.ID()),
		LoanTransactionID: tx.ID,
	})
	if err != nil {
		return 0, err
	}
	if err := s.applySideEffects(ctx, target, before, &outcome{}); err != nil {
		return 0, err
	}
	if err := s.persist(ctx, target, before, true); err != nil {
		return 0, err
	}

	s.log.WithFields(logrus.Fields{
		"loan_id":        loan.ID(),
		"closed_loan_id": targetID,
		"outstanding":    outstanding.String(),
	}).Info("top-up closed previous loan")
	return targetID, nil
}

// UndoDisbursal takes the loan back to APPROVED and pulls an account-transfer
// disbursement back from savings.
func (s *LoanService) UndoDisbursal(ctx context.Context, loanID int64) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanDisbursalUndone, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		if t := loan.Topup(); t != nil && t.ClosedOutstanding.IsPositive() {
			return nil, customError.WrapValidation("loan", "disbursal of a top-up loan that closed another loan cannot be undone")
		}
		netBefore := loan.NetDisbursalAmount()
		var viaTransfer bool
		for _, tx := range loan.Transactions() {
			if tx.Type == domain.TransactionDisbursement && !tx.Reversed && tx.AccountTransfer {
				viaTransfer = true
			}
		}

		if _, err := loan.UndoDisbursal(op); err != nil {
			return nil, err
		}
		out := &outcome{}
		if viaTransfer && netBefore.IsPositive() {
			_, err := s.Transfers.TransferFunds(ctx, domain.AccountTransfer{
				FromType:    domain.AccountTypeSavings,
				FromID:      loan.LinkedSavingsAccountID(),
				ToType:      domain.AccountTypeLoan,
				ToID:        loan.ID(),
				Amount:      money.New(loan.Currency(), netBefore),
				Date:        op.BusinessDate,
				Description: fmt.Sprintf("disbursal of loan %d undone", loan.ID()),
			})
			if err != nil {
				return nil, err
			}
			out.accountTransfer = true
		}
		return out, nil
	})
}

func (s *LoanService) MakeRepayment(ctx context.Context, loanID int64, cmd domain.RepaymentCommand) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanRepaymentMade, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		tx, changes, err := loan.MakeRepayment(op, cmd)
		if err != nil {
			return nil, err
		}
		return &outcome{transactionID: tx.ID, changes: changes}, nil
	})
}

func (s *LoanService) WaiveInterest(ctx context.Context, loanID int64, cmd domain.WaiveInterestCommand) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanInterestWaived, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		tx, changes, err := loan.WaiveInterest(op, cmd)
		if err != nil {
			return nil, err
		}
		return &outcome{transactionID: tx.ID, changes: changes}, nil
	})
}

// AdjustTransaction replaces a repayment or waiver; a zero amount only
// reverses it.
func (s *LoanService) AdjustTransaction(ctx context.Context, loanID, transactionID int64, cmd domain.AdjustTransactionCommand) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanTransactionAdjusted, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		changes, err := loan.AdjustExistingTransaction(op, transactionID, cmd)
		if err != nil {
			return nil, err
		}
		out := &outcome{changes: changes, data: map[string]any{"adjusted_transaction_id": transactionID}}
		if changes != nil {
			if tx, ok := changes.NewTransactionMappings[transactionID]; ok {
				out.transactionID = tx.ID
			}
		}
		return out, nil
	})
}

func (s *LoanService) Refund(ctx context.Context, loanID int64, cmd domain.RefundCommand) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanRefunded, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		tx, changes, err := loan.Refund(op, cmd)
		if err != nil {
			return nil, err
		}
		return &outcome{transactionID: tx.ID, changes: changes}, nil
	})
}

func (s *LoanService) RecordAccrual(ctx context.Context, loanID int64, cmd domain.AccrualCommand) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanAccrued, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		tx, err := loan.RecordAccrual(op, cmd)
		if err != nil {
			return nil, err
		}
		return &outcome{transactionID: tx.ID}, nil
	})
}

func (s *LoanService) AddCharge(ctx context.Context, loanID int64, cmd domain.AddChargeCommand) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanChargeAdded, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		ids, changes, err := loan.AddCharge(op, cmd)
		if err != nil {
			return nil, err
		}
		return &outcome{chargeIDs: ids, changes: changes}, nil
	})
}

func (s *LoanService) DeleteCharge(ctx context.Context, loanID, chargeID int64) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanChargeDeleted, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		if err := loan.DeleteCharge(chargeID); err != nil {
			return nil, err
		}
		return &outcome{chargeIDs: []int64{chargeID}}, nil
	})
}

func (s *LoanService) WaiveCharge(ctx context.Context, loanID, chargeID int64, installmentNumber int) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanChargeWaived, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		tx, changes, err := loan.WaiveCharge(op, chargeID, installmentNumber)
		if err != nil {
			return nil, err
		}
		return &outcome{transactionID: tx.ID, chargeIDs: []int64{chargeID}, changes: changes}, nil
	})
}

func (s *LoanService) UndoWaiveCharge(ctx context.Context, loanID, chargeID int64, installmentNumber int) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanChargeWaiverUndone, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		changes, err := loan.UndoWaiveCharge(op, chargeID, installmentNumber)
		if err != nil {
			return nil, err
		}
		return &outcome{chargeIDs: []int64{chargeID}, changes: changes}, nil
	})
}

// PayCharge settles an account-transfer charge from the linked savings
// account; the transfer itself is booked with the other side effects.
func (s *LoanService) PayCharge(ctx context.Context, loanID int64, cmd domain.PayChargeCommand) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanChargePaid, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		tx, changes, err := loan.PayCharge(op, cmd)
		if err != nil {
			return nil, err
		}
		return &outcome{transactionID: tx.ID, chargeIDs: []int64{cmd.ChargeID}, changes: changes}, nil
	})
}

func (s *LoanService) WriteOff(ctx context.Context, loanID int64, cmd domain.CloseCommand) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanWrittenOff, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		tx, changes, err := loan.WriteOff(op, cmd)
		if err != nil {
			return nil, err
		}
		return &outcome{transactionID: tx.ID, changes: changes}, nil
	})
}

func (s *LoanService) UndoWriteOff(ctx context.Context, loanID int64) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanWriteOffUndone, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		changes, err := loan.UndoWriteOff(op)
		if err != nil {
			return nil, err
		}
		return &outcome{changes: changes}, nil
	})
}

func (s *LoanService) Close(ctx context.Context, loanID int64, cmd domain.CloseCommand) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanClosed, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		tx, changes, err := loan.Close(op, cmd)
		if err != nil {
			return nil, err
		}
		out := &outcome{changes: changes}
		if tx != nil {
			out.transactionID = tx.ID
		}
		return out, nil
	})
}

func (s *LoanService) CloseAsRescheduled(ctx context.Context, loanID int64, cmd domain.CloseCommand) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanClosedAsRescheduled, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		return nil, loan.CloseAsRescheduled(op, cmd)
	})
}

// TransferAction names an office transfer step.
type TransferAction string

const (
	TransferInitiate TransferAction = "initiate"
	TransferAccept   TransferAction = "accept"
	TransferWithdraw TransferAction = "withdraw"
	TransferReject   TransferAction = "reject"
)

// Transfer runs one step of moving a loan between offices.
func (s *LoanService) Transfer(ctx context.Context, loanID int64, action TransferAction, cmd domain.CloseCommand) (*CommandResult, error) {
	var (
		eventType string
		step      func(*domain.Loan, domain.OpContext, domain.CloseCommand) (*domain.LoanTransaction, error)
	)
	switch action {
	case TransferInitiate:
		eventType, step = events.LoanTransferInitiated, (*domain.Loan).InitiateTransfer
	case TransferAccept:
		eventType, step = events.LoanTransferAccepted, (*domain.Loan).AcceptTransfer
	case TransferWithdraw:
		eventType, step = events.LoanTransferWithdrawn, (*domain.Loan).WithdrawTransfer
	case TransferReject:
		eventType, step = events.LoanTransferRejected, (*domain.Loan).RejectTransfer
	default:
		return nil, customError.WrapValidation("action", fmt.Sprintf("unknown transfer action %q", action))
	}
	return s.execute(ctx, loanID, eventType, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		tx, err := step(loan, op, cmd)
		if err != nil {
			return nil, err
		}
		return &outcome{transactionID: tx.ID}, nil
	})
}

// ReprocessTransactions replays the loan's history against its current
// schedule and books whatever allocations changed.
func (s *LoanService) ReprocessTransactions(ctx context.Context, loanID int64) (*CommandResult, error) {
	return s.execute(ctx, loanID, events.LoanTransactionsReprocess, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
		changes, err := loan.ReprocessTransactions()
		if err != nil {
			return nil, err
		}
		return &outcome{changes: changes}, nil
	})
}

// RunPeriodicAccruals books interest accrued up to the business date on every
// active loan of an accrual-accounting product. Failures on one loan are
// logged and do not stop the run; the number of loans accrued is returned.
func (s *LoanService) RunPeriodicAccruals(ctx context.Context) (int, error) {
	ids, err := s.LoanRepo.ListIDsByStatus(ctx, domain.LoanStatusActive)
	if err != nil {
		return 0, err
	}
	accrued := 0
	for _, id := range ids {
		result, err := s.execute(ctx, id, events.LoanAccrued, func(ctx context.Context, loan *domain.Loan, op domain.OpContext) (*outcome, error) {
			if !loan.Product().AccrualAccounting {
				return &outcome{skip: true}, nil
			}
			tx, err := loan.AccrueInterestTill(op, op.BusinessDate)
			if err != nil {
				return nil, err
			}
			if tx == nil {
				return &outcome{skip: true}, nil
			}
			return &outcome{transactionID: tx.ID}, nil
		})
		if err != nil {
			if customError.IsFatal(err) {
				return accrued, err
			}
			continue
		}
		if result.TransactionID != 0 {
			accrued++
		}
	}
	s.log.WithFields(logrus.Fields{
		"loans":   len(ids),
		"accrued": accrued,
	}).Info("periodic accruals finished")
	return accrued, nil
}
