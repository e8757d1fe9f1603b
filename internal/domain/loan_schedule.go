package domain

import (
	"time"

	"github.com/segyhp/loan-servicing-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

// scheduleStartDate is the actual first disbursement date, or the expected one.
func (l *Loan) scheduleStartDate() time.Time {
	if l.s.ActualDisbursementDate != nil {
		return *l.s.ActualDisbursementDate
	}
	return l.s.ExpectedDisbursementDate
}

func (l *Loan) disbursementEvents() []BalanceEvent {
	if !l.s.Product.MultiDisburse || len(l.s.Tranches) == 0 {
		return []BalanceEvent{{Date: l.scheduleStartDate(), Amount: l.s.Principal}}
	}
	events := make([]BalanceEvent, 0, len(l.s.Tranches))
	for _, t := range l.s.Tranches {
		date := t.ExpectedDate
		if t.ActualDate != nil {
			date = *t.ActualDate
		}
		events = append(events, BalanceEvent{Date: date, Amount: t.Principal})
	}
	return events
}

func (l *Loan) scheduleRequest(op OpContext, recalculateFrom *time.Time) ScheduleRequest {
	req := ScheduleRequest{
		Currency:              l.s.Currency,
		Terms:                 l.s.Terms,
		StartDate:             l.scheduleStartDate(),
		Disbursements:         l.disbursementEvents(),
		Calendar:              op.Calendar,
		InterestRecalculation: l.s.Product.InterestRecalculationEnabled,
	}
	if !req.InterestRecalculation {
		return req
	}
	for _, tx := range l.orderedActiveTransactions() {
		if tx.Portions.Principal.IsPositive() && tx.Type != TransactionDisbursement && !tx.Type.IsTransfer() &&
			tx.Type != TransactionAccrual {
			req.PrincipalRepayments = append(req.PrincipalRepayments, BalanceEvent{Date: tx.Date, Amount: tx.Portions.Principal})
		}
	}
	if l.s.Product.FeeCompoundingOnRecalculation {
		for _, c := range l.s.Charges {
			if c.IsInstallmentFee() || c.DueDate == nil {
				continue
			}
			req.CompoundingCharges = append(req.CompoundingCharges, BalanceEvent{Date: *c.DueDate, Amount: c.Amount})
		}
	}
	if recalculateFrom != nil && len(l.s.Installments) > 0 {
		from := *recalculateFrom
		req.RecalculateFrom = &from
		req.Existing = cloneInstallments(l.s.Installments)
	}
	return req
}

// regenerateSchedule replaces the installments. When interest recalculation
// is on, the schedule in force before the operation is kept for archival.
func (l *Loan) regenerateSchedule(op OpContext, recalculateFrom *time.Time) error {
	if l.s.Product.InterestRecalculationEnabled && len(l.s.Installments) > 0 && l.archive == nil {
		l.archive = cloneInstallments(l.s.Installments)
	}
	installments, err := l.generator.Generate(l.scheduleRequest(op, recalculateFrom))
	if err != nil {
		return err
	}
	l.s.Installments = installments
	if n := len(installments); n > 0 {
		maturity := installments[n-1].DueDate
		l.s.MaturityDate = &maturity
	}
	l.placeCharges()
	return nil
}

func (l *Loan) totalInterestDue() decimal.Decimal {
	total := decimal.Zero
	for _, inst := range l.s.Installments {
		total = total.Add(inst.Due.Interest)
	}
	return total
}

func (l *Loan) tranche(id int64) *Tranche {
	for i := range l.s.Tranches {
		if l.s.Tranches[i].ID == id {
			return &l.s.Tranches[i]
		}
	}
	return nil
}

// chargeAmount computes the total of a non installment-fee charge.
func (l *Loan) chargeAmount(c *LoanCharge) decimal.Decimal {
	def := c.Definition
	var amount decimal.Decimal
	switch def.CalculationType {
	case ChargeCalculationPercentOfAmount:
		amount = utils.Percentage(l.s.Principal, def.Amount)
	case ChargeCalculationPercentOfAmountAndInterest:
		amount = utils.Percentage(l.s.Principal.Add(l.totalInterestDue()), def.Amount)
	case ChargeCalculationPercentOfInterest:
		amount = utils.Percentage(l.totalInterestDue(), def.Amount)
	case ChargeCalculationPercentOfDisbursementAmount:
		base := l.s.Principal
		if t := l.tranche(c.TrancheID); t != nil {
			base = t.Principal
		}
		amount = utils.Percentage(base, def.Amount)
	default:
		amount = def.Amount
	}
	return l.s.Currency.Round(amount)
}

func (l *Loan) installmentFeeAmount(def ChargeDefinition, inst *RepaymentInstallment) decimal.Decimal {
	var amount decimal.Decimal
	switch def.CalculationType {
	case ChargeCalculationPercentOfAmount, ChargeCalculationPercentOfDisbursementAmount:
		amount = utils.Percentage(inst.Due.Principal, def.Amount)
	case ChargeCalculationPercentOfAmountAndInterest:
		amount = utils.Percentage(inst.Due.Principal.Add(inst.Due.Interest), def.Amount)
	case ChargeCalculationPercentOfInterest:
		amount = utils.Percentage(inst.Due.Interest, def.Amount)
	default:
		amount = def.Amount
	}
	return l.s.Currency.Round(amount)
}

// installmentFor returns the installment whose period contains date. Dates
// before the first period land on the first installment, dates after the last
// on the last one.
func (l *Loan) installmentFor(date time.Time) *RepaymentInstallment {
	insts := l.s.Installments
	if len(insts) == 0 {
		return nil
	}
	for _, inst := range insts {
		if !date.After(inst.DueDate) {
			return inst
		}
	}
	return insts[len(insts)-1]
}

// placeCharges spreads every charge over the current schedule.
func (l *Loan) placeCharges() {
	for _, c := range l.s.Charges {
		l.placeCharge(c)
	}
	l.syncChargeDues()
}

func (l *Loan) placeCharge(c *LoanCharge) {
	if len(l.s.Installments) == 0 {
		c.Lines = nil
		if !c.IsInstallmentFee() {
			c.Amount = l.chargeAmount(c)
		}
		return
	}
	if c.IsInstallmentFee() {
		c.Lines = make([]*InstallmentCharge, 0, len(l.s.Installments))
		total := decimal.Zero
		for _, inst := range l.s.Installments {
			amount := l.installmentFeeAmount(c.Definition, inst)
			c.Lines = append(c.Lines, &InstallmentCharge{InstallmentNumber: inst.Number, Amount: amount})
			total = total.Add(amount)
		}
		c.Amount = total
		return
	}

	c.Amount = l.chargeAmount(c)
	target := l.s.Installments[0]
	switch {
	case c.IsDisbursementCharge():
		if t := l.tranche(c.TrancheID); t != nil {
			date := t.ExpectedDate
			if t.ActualDate != nil {
				date = *t.ActualDate
			}
			target = l.installmentFor(date)
		}
	default:
		target = l.installmentFor(c.EffectiveDueDate())
	}
	c.Lines = []*InstallmentCharge{{InstallmentNumber: target.Number, Amount: c.Amount}}
}

// syncChargeDues derives installment fee and penalty dues from charge lines.
func (l *Loan) syncChargeDues() {
	for _, inst := range l.s.Installments {
		inst.Due.Fee = decimal.Zero
		inst.Due.Penalty = decimal.Zero
	}
	for _, c := range l.s.Charges {
		for _, line := range c.Lines {
			for _, inst := range l.s.Installments {
				if inst.Number == line.InstallmentNumber {
					inst.Due.Add(c.Component(), line.Amount)
				}
			}
		}
	}
}
