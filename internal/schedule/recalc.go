package schedule

import (
	"sort"
	"time"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	"github.com/segyhp/loan-servicing-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

// calc carries the balance events used when interest is recalculated on the
// actual outstanding principal.
type calc struct {
	disbursements []domain.BalanceEvent
	repayments    []domain.BalanceEvent
	charges       []domain.BalanceEvent
}

// balanceOn is the interest-bearing balance at the start of day t: what was
// disbursed and compounded so far, less the principal repaid. Principal that
// fell due is assumed repaid even when the borrower has not paid it yet.
func (c *calc) balanceOn(t time.Time, installments []*domain.RepaymentInstallment) decimal.Decimal {
	scheduledDue := decimal.Zero
	for _, inst := range installments {
		if !inst.DueDate.After(t) {
			scheduledDue = scheduledDue.Add(inst.Due.Principal)
		}
	}
	reduced := decimal.Max(sumUpTo(c.repayments, t), scheduledDue)
	balance := sumUpTo(c.disbursements, t).Add(sumUpTo(c.charges, t)).Sub(reduced)
	return decimal.Max(balance, decimal.Zero)
}

// weightedBalance sums balance x days over [from, due), splitting the period
// at every balance event that falls inside it.
func (c *calc) weightedBalance(from, due time.Time, installments []*domain.RepaymentInstallment) decimal.Decimal {
	points := []time.Time{from}
	for _, events := range [][]domain.BalanceEvent{c.disbursements, c.repayments, c.charges} {
		for _, e := range events {
			if e.Date.After(from) && e.Date.Before(due) {
				points = append(points, e.Date)
			}
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Before(points[j]) })
	points = append(points, due)

	total := decimal.Zero
	for i := 0; i < len(points)-1; i++ {
		days := utils.DaysBetween(points[i], points[i+1])
		if days <= 0 {
			continue
		}
		total = total.Add(c.balanceOn(points[i], installments).Mul(decimal.NewFromInt(int64(days))))
	}
	return total
}
