package processor

import (
	"fmt"
	"sort"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"

	"github.com/shopspring/decimal"
)

// Strategy codes
const (
	PenaltiesFeesInterestPrincipal        = "penalties-fees-interest-principal"
	PrincipalInterestPenaltiesFees        = "principal-interest-penalties-fees"
	InterestPrincipalPenaltiesFees        = "interest-principal-penalties-fees"
	OverdueInterestPrincipalPenaltiesFees = "overdue-interest-principal-penalties-fees"
)

// Strategy allocates cash in a fixed component order. A vertical strategy
// settles one installment completely before moving to the next; a horizontal
// one walks each component across all overdue installments first.
type Strategy struct {
	code       string
	order      []domain.Component
	horizontal bool
}

func NewStrategy(code string, order []domain.Component, horizontal bool) *Strategy {
	return &Strategy{code: code, order: order, horizontal: horizontal}
}

func (s *Strategy) Code() string {
	return s.code
}

// Apply allocates tx into state and returns the allocation.
func (s *Strategy) Apply(state *domain.AllocationState, tx *domain.LoanTransaction) (domain.Allocation, error) {
	switch tx.Type {
	case domain.TransactionDisbursement,
		domain.TransactionInitiateTransfer, domain.TransactionApproveTransfer,
		domain.TransactionWithdrawTransfer, domain.TransactionRejectTransfer:
		return domain.Allocation{ComponentAmounts: domain.ComponentAmounts{Principal: tx.Amount}}, nil
	case domain.TransactionAccrual:
		return domain.Allocation{ComponentAmounts: tx.Portions}, nil
	case domain.TransactionRecoveryRepayment:
		return domain.Allocation{}, nil
	case domain.TransactionRepayment:
		return s.repay(state, tx), nil
	case domain.TransactionChargePayment:
		return payCharge(state, tx)
	case domain.TransactionWaiveInterest:
		return waiveInterest(state, tx)
	case domain.TransactionWaiveCharges:
		return waiveCharge(state, tx)
	case domain.TransactionWriteOff:
		return writeOff(state), nil
	case domain.TransactionRefund:
		return refund(state, tx)
	}
	return domain.Allocation{}, customError.WrapReplayInconsistency(tx.ID, fmt.Sprintf("no allocation rule for %s", tx.Type))
}

func (s *Strategy) repay(state *domain.AllocationState, tx *domain.LoanTransaction) domain.Allocation {
	var alloc domain.Allocation
	remaining := tx.Amount
	installments := sortedInstallments(state.Installments)

	if s.horizontal {
		var overdue []*domain.RepaymentInstallment
		for _, inst := range installments {
			if inst.DueDate.Before(tx.Date) {
				overdue = append(overdue, inst)
			}
		}
		for _, comp := range s.order {
			for _, inst := range overdue {
				if !remaining.IsPositive() {
					break
				}
				applied := pay(state, inst, comp, remaining)
				alloc.Add(comp, applied)
				remaining = remaining.Sub(applied)
			}
		}
	}

	for _, inst := range installments {
		for _, comp := range s.order {
			if !remaining.IsPositive() {
				break
			}
			applied := pay(state, inst, comp, remaining)
			alloc.Add(comp, applied)
			remaining = remaining.Sub(applied)
		}
	}

	if remaining.IsPositive() {
		alloc.Overpayment = remaining
		state.Overpaid = state.Overpaid.Add(remaining)
	}
	return alloc
}

// pay settles up to amount of comp on inst. Fee and penalty payments are
// spread over the charge lines of that installment.
func pay(state *domain.AllocationState, inst *domain.RepaymentInstallment, comp domain.Component, amount decimal.Decimal) decimal.Decimal {
	applied := inst.Pay(comp, amount)
	if comp == domain.ComponentFee || comp == domain.ComponentPenalty {
		left := applied
		for _, c := range domain.ChargesForInstallment(state.Charges, inst.Number, comp) {
			line := c.Line(inst.Number)
			x := decimal.Min(left, line.Outstanding())
			if !x.IsPositive() {
				continue
			}
			line.Paid = line.Paid.Add(x)
			left = left.Sub(x)
		}
	}
	return applied
}

// chargeLines returns the lines a charge transaction targets, oldest first.
func chargeLines(state *domain.AllocationState, tx *domain.LoanTransaction) (*domain.LoanCharge, []*domain.InstallmentCharge, error) {
	c := state.FindCharge(tx.ChargeID)
	if c == nil {
		return nil, nil, customError.WrapReplayInconsistency(tx.ID, fmt.Sprintf("charge %d not found", tx.ChargeID))
	}
	var lines []*domain.InstallmentCharge
	for _, line := range c.Lines {
		if tx.InstallmentNumber == 0 || line.InstallmentNumber == tx.InstallmentNumber {
			lines = append(lines, line)
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].InstallmentNumber < lines[j].InstallmentNumber })
	return c, lines, nil
}

func installment(state *domain.AllocationState, number int) *domain.RepaymentInstallment {
	for _, inst := range state.Installments {
		if inst.Number == number {
			return inst
		}
	}
	return nil
}

func payCharge(state *domain.AllocationState, tx *domain.LoanTransaction) (domain.Allocation, error) {
	c, lines, err := chargeLines(state, tx)
	if err != nil {
		return domain.Allocation{}, err
	}
	var alloc domain.Allocation
	remaining := tx.Amount
	for _, line := range lines {
		if !remaining.IsPositive() {
			break
		}
		inst := installment(state, line.InstallmentNumber)
		if inst == nil {
			return domain.Allocation{}, customError.WrapReplayInconsistency(tx.ID,
				fmt.Sprintf("charge %d points at missing installment %d", c.ID, line.InstallmentNumber))
		}
		applied := inst.Pay(c.Component(), decimal.Min(remaining, line.Outstanding()))
		line.Paid = line.Paid.Add(applied)
		alloc.Add(c.Component(), applied)
		remaining = remaining.Sub(applied)
	}
	if remaining.IsPositive() {
		alloc.Overpayment = remaining
		state.Overpaid = state.Overpaid.Add(remaining)
	}
	return alloc, nil
}

func waiveCharge(state *domain.AllocationState, tx *domain.LoanTransaction) (domain.Allocation, error) {
	c, lines, err := chargeLines(state, tx)
	if err != nil {
		return domain.Allocation{}, err
	}
	var alloc domain.Allocation
	remaining := tx.Amount
	for _, line := range lines {
		if !remaining.IsPositive() {
			break
		}
		inst := installment(state, line.InstallmentNumber)
		if inst == nil {
			return domain.Allocation{}, customError.WrapReplayInconsistency(tx.ID,
				fmt.Sprintf("charge %d points at missing installment %d", c.ID, line.InstallmentNumber))
		}
		waived := inst.Waive(c.Component(), decimal.Min(remaining, line.Outstanding()))
		line.Waived = line.Waived.Add(waived)
		alloc.Add(c.Component(), waived)
		remaining = remaining.Sub(waived)
	}
	return alloc, nil
}

// waiveInterest forgives interest oldest installment first. Waiving more
// than is outstanding is a validation failure, not an overpayment.
func waiveInterest(state *domain.AllocationState, tx *domain.LoanTransaction) (domain.Allocation, error) {
	remaining := tx.Amount
	for _, inst := range sortedInstallments(state.Installments) {
		if !remaining.IsPositive() {
			break
		}
		remaining = remaining.Sub(inst.Waive(domain.ComponentInterest, remaining))
	}
	if remaining.IsPositive() {
		return domain.Allocation{}, customError.WrapValidation("transaction_amount",
			fmt.Sprintf("interest waiver %d exceeds outstanding interest by %s", tx.ID, remaining))
	}
	return domain.Allocation{ComponentAmounts: domain.ComponentAmounts{Interest: tx.Amount}}, nil
}

func writeOff(state *domain.AllocationState) domain.Allocation {
	var alloc domain.Allocation
	for _, inst := range sortedInstallments(state.Installments) {
		for _, comp := range domain.AllComponents {
			alloc.Add(comp, inst.WriteOff(comp))
		}
	}
	for _, c := range state.Charges {
		for _, line := range c.Lines {
			if out := line.Outstanding(); out.IsPositive() {
				line.WrittenOff = line.WrittenOff.Add(out)
			}
		}
	}
	return alloc
}

func refund(state *domain.AllocationState, tx *domain.LoanTransaction) (domain.Allocation, error) {
	if tx.Amount.GreaterThan(state.Overpaid) {
		return domain.Allocation{}, customError.WrapRefundUncovered(tx.ID,
			fmt.Sprintf("refund %s exceeds overpaid balance %s", tx.Amount, state.Overpaid))
	}
	state.Overpaid = state.Overpaid.Sub(tx.Amount)
	return domain.Allocation{Overpayment: tx.Amount}, nil
}

func sortedInstallments(in []*domain.RepaymentInstallment) []*domain.RepaymentInstallment {
	out := append([]*domain.RepaymentInstallment(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
