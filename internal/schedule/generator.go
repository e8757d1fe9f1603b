package schedule

import (
	"sort"
	"time"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"
	"github.com/segyhp/loan-servicing-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Generator builds amortization schedules. It holds no state, so one value
// can serve every loan.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns the installments for req. Identical requests always yield
// identical schedules.
func (g *Generator) Generate(req domain.ScheduleRequest) ([]*domain.RepaymentInstallment, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	terms := req.Terms
	n := terms.NumberOfRepayments
	rate := terms.InterestRatePerPeriod.Div(hundred)
	dues := dueDates(req)
	disbursements := sortedEvents(req.Disbursements)
	total := sum(disbursements)

	recalc := req.InterestRecalculation && terms.InterestMethod == domain.InterestMethodDecliningBalance
	out := keptInstallments(req)
	if len(out) >= n {
		return out, nil
	}

	c := &calc{
		disbursements: disbursements,
		repayments:    sortedEvents(req.PrincipalRepayments),
		charges:       sortedEvents(req.CompoundingCharges),
	}
	scheduled := decimal.Zero
	for _, inst := range out {
		scheduled = scheduled.Add(inst.Due.Principal)
	}

	flatInterest := req.Currency.Round(total.Mul(rate).Mul(decimal.NewFromInt(int64(n))))
	flatInterestEach := req.Currency.Round(flatInterest.Div(decimal.NewFromInt(int64(n))))
	flatPrincipalEach := req.Currency.Round(total.Div(decimal.NewFromInt(int64(n))))

	var emi, emiBasis decimal.Decimal
	for k := len(out) + 1; k <= n; k++ {
		from := utils.TruncateDay(req.StartDate)
		if len(out) > 0 {
			from = out[len(out)-1].DueDate
		}
		due := dues[k-1]
		remainingPeriods := n - k + 1
		disbursed := disbursedBefore(disbursements, due)
		outstanding := disbursed.Sub(scheduled)

		var principal, interest decimal.Decimal
		switch {
		case terms.InterestMethod == domain.InterestMethodFlat:
			interest = flatInterestEach
			principal = flatPrincipalEach
			if k == n {
				interest = flatInterest.Sub(flatInterestEach.Mul(decimal.NewFromInt(int64(n - 1))))
			}
		default:
			if recalc {
				interest = req.Currency.Round(rate.Mul(c.weightedBalance(from, due, out)).
					Div(decimal.NewFromInt(int64(maxInt(utils.DaysBetween(from, due), 1)))))
			} else {
				interest = req.Currency.Round(outstanding.Mul(rate))
			}
			if terms.AmortizationMethod == domain.AmortizationEqualPrincipal {
				principal = req.Currency.Round(outstanding.Div(decimal.NewFromInt(int64(remainingPeriods))))
			} else {
				if emi.IsZero() || !disbursed.Equal(emiBasis) {
					emi = req.Currency.Round(annuity(outstanding, rate, remainingPeriods))
					emiBasis = disbursed
				}
				principal = emi.Sub(interest)
			}
		}
		principal = decimal.Max(decimal.Min(principal, decimal.Max(outstanding, decimal.Zero)), decimal.Zero)
		if k == n {
			principal = decimal.Max(total.Sub(scheduled), decimal.Zero)
		}

		inst := &domain.RepaymentInstallment{
			Number:   k,
			FromDate: from,
			DueDate:  due,
			Due: domain.ComponentAmounts{
				Principal: principal,
				Interest:  decimal.Max(interest, decimal.Zero),
			},
			RecalculatedInterestComponent: recalc && req.RecalculateFrom != nil,
		}
		out = append(out, inst)
		scheduled = scheduled.Add(principal)
	}
	return out, nil
}

func validate(req domain.ScheduleRequest) error {
	t := req.Terms
	if t.NumberOfRepayments <= 0 || t.RepaymentEvery <= 0 {
		return customError.WrapValidation("terms", "number of repayments and repayment frequency must be positive")
	}
	if t.InterestRatePerPeriod.IsNegative() {
		return customError.WrapValidation("interest_rate_per_period", "cannot be negative")
	}
	if len(req.Disbursements) == 0 {
		return customError.WrapValidation("disbursements", "at least one disbursement is required")
	}
	for _, d := range req.Disbursements {
		if !d.Amount.IsPositive() {
			return customError.WrapValidation("disbursements", "amounts must be greater than 0")
		}
	}
	if req.StartDate.IsZero() {
		return customError.WrapValidation("start_date", "is required")
	}
	if t.FirstRepaymentDate != nil && !t.FirstRepaymentDate.After(req.StartDate) {
		return customError.WrapValidation("first_repayment_date", "must be after the disbursement date")
	}
	return nil
}

// dueDates lays the due dates out from the first repayment date and moves
// them off holidays and non-working days. An adjustment that would collide
// with the previous due date is dropped.
func dueDates(req domain.ScheduleRequest) []time.Time {
	t := req.Terms
	first := utils.AddPeriods(utils.TruncateDay(req.StartDate), string(t.RepaymentFrequency), t.RepaymentEvery, 1)
	if t.FirstRepaymentDate != nil {
		first = utils.TruncateDay(*t.FirstRepaymentDate)
	}
	dues := make([]time.Time, 0, t.NumberOfRepayments)
	prev := utils.TruncateDay(req.StartDate)
	for k := 0; k < t.NumberOfRepayments; k++ {
		raw := utils.AddPeriods(first, string(t.RepaymentFrequency), t.RepaymentEvery, k)
		due := req.Calendar.Adjust(raw)
		if !due.After(prev) {
			due = raw
		}
		dues = append(dues, due)
		prev = due
	}
	return dues
}

// keptInstallments returns the installments due on or before the
// recalculation date, which stay as they are.
func keptInstallments(req domain.ScheduleRequest) []*domain.RepaymentInstallment {
	if req.RecalculateFrom == nil || len(req.Existing) == 0 {
		return nil
	}
	existing := append([]*domain.RepaymentInstallment(nil), req.Existing...)
	sort.SliceStable(existing, func(i, j int) bool { return existing[i].Number < existing[j].Number })
	var kept []*domain.RepaymentInstallment
	for _, inst := range existing {
		if inst.DueDate.After(*req.RecalculateFrom) {
			break
		}
		c := inst.Clone()
		c.ResetAllocations()
		kept = append(kept, c)
	}
	return kept
}

// annuity is the level payment that repays principal over n periods at rate.
func annuity(principal, rate decimal.Decimal, n int) decimal.Decimal {
	if n <= 0 {
		return principal
	}
	if rate.IsZero() {
		return principal.Div(decimal.NewFromInt(int64(n)))
	}
	pow := decimal.NewFromInt(1)
	onePlusRate := rate.Add(decimal.NewFromInt(1))
	for i := 0; i < n; i++ {
		pow = pow.Mul(onePlusRate)
	}
	return principal.Mul(rate).Mul(pow).Div(pow.Sub(decimal.NewFromInt(1)))
}

func sortedEvents(in []domain.BalanceEvent) []domain.BalanceEvent {
	out := append([]domain.BalanceEvent(nil), in...)
	for i := range out {
		out[i].Date = utils.TruncateDay(out[i].Date)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func sum(events []domain.BalanceEvent) decimal.Decimal {
	total := decimal.Zero
	for _, e := range events {
		total = total.Add(e.Amount)
	}
	return total
}

func sumUpTo(events []domain.BalanceEvent, t time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, e := range events {
		if e.Date.After(t) {
			break
		}
		total = total.Add(e.Amount)
	}
	return total
}

func disbursedBefore(events []domain.BalanceEvent, due time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, e := range events {
		if !e.Date.Before(due) {
			break
		}
		total = total.Add(e.Amount)
	}
	return total
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
