package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type ChargeCalculationType string

const (
	ChargeCalculationFlat                        ChargeCalculationType = "FLAT"
	ChargeCalculationPercentOfAmount             ChargeCalculationType = "PERCENT_OF_AMOUNT"
	ChargeCalculationPercentOfAmountAndInterest  ChargeCalculationType = "PERCENT_OF_AMOUNT_AND_INTEREST"
	ChargeCalculationPercentOfInterest           ChargeCalculationType = "PERCENT_OF_INTEREST"
	ChargeCalculationPercentOfDisbursementAmount ChargeCalculationType = "PERCENT_OF_DISBURSEMENT_AMOUNT"
)

type ChargeTimeType string

const (
	ChargeTimeDisbursement        ChargeTimeType = "DISBURSEMENT"
	ChargeTimeTrancheDisbursement ChargeTimeType = "TRANCHE_DISBURSEMENT"
	ChargeTimeSpecifiedDueDate    ChargeTimeType = "SPECIFIED_DUE_DATE"
	ChargeTimeInstallmentFee      ChargeTimeType = "INSTALLMENT_FEE"
	ChargeTimeOverdueInstallment  ChargeTimeType = "OVERDUE_INSTALLMENT"
)

type ChargePaymentMode string

const (
	ChargePaymentModeCash            ChargePaymentMode = "CASH"
	ChargePaymentModeAccountTransfer ChargePaymentMode = "ACCOUNT_TRANSFER"
)

type ChargeStatus string

const (
	ChargeStatusPending ChargeStatus = "PENDING"
	ChargeStatusPaid    ChargeStatus = "PAID"
	ChargeStatusWaived  ChargeStatus = "WAIVED"
)

// ChargeDefinition is the product-level template a loan charge is built from.
// Amount is a flat amount or a percentage depending on CalculationType.
type ChargeDefinition struct {
	ID              int64                 `json:"id"`
	Name            string                `json:"name"`
	CalculationType ChargeCalculationType `json:"calculation_type"`
	TimeType        ChargeTimeType        `json:"time_type"`
	PaymentMode     ChargePaymentMode     `json:"payment_mode"`
	Penalty         bool                  `json:"penalty"`
	Amount          decimal.Decimal       `json:"amount"`
}

func (d ChargeDefinition) IsPercentage() bool {
	return d.CalculationType != ChargeCalculationFlat
}

// InstallmentCharge is the share of a charge that falls on one installment.
type InstallmentCharge struct {
	InstallmentNumber int             `json:"installment_number"`
	Amount            decimal.Decimal `json:"amount"`
	Paid              decimal.Decimal `json:"paid"`
	Waived            decimal.Decimal `json:"waived"`
	WrittenOff        decimal.Decimal `json:"written_off"`
}

func (c *InstallmentCharge) Outstanding() decimal.Decimal {
	return c.Amount.Sub(c.Paid).Sub(c.Waived).Sub(c.WrittenOff)
}

// LoanCharge is a fee or penalty attached to a loan.
type LoanCharge struct {
	ID         int64                `json:"id"`
	Definition ChargeDefinition     `json:"definition"`
	Amount     decimal.Decimal      `json:"amount"`
	DueDate    *time.Time           `json:"due_date,omitempty"`
	TrancheID  int64                `json:"tranche_id,omitempty"`
	Lines      []*InstallmentCharge `json:"lines"`
	CreatedOn  time.Time            `json:"created_on"`
}

func (c *LoanCharge) IsPenalty() bool { return c.Definition.Penalty }

// Component is the installment bucket this charge lands in.
func (c *LoanCharge) Component() Component {
	if c.Definition.Penalty {
		return ComponentPenalty
	}
	return ComponentFee
}

func (c *LoanCharge) IsInstallmentFee() bool {
	return c.Definition.TimeType == ChargeTimeInstallmentFee
}

func (c *LoanCharge) IsDisbursementCharge() bool {
	return c.Definition.TimeType == ChargeTimeDisbursement || c.Definition.TimeType == ChargeTimeTrancheDisbursement
}

func (c *LoanCharge) IsAccountTransfer() bool {
	return c.Definition.PaymentMode == ChargePaymentModeAccountTransfer
}

func (c *LoanCharge) sum(f func(*InstallmentCharge) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(f(l))
	}
	return total
}

func (c *LoanCharge) Paid() decimal.Decimal {
	return c.sum(func(l *InstallmentCharge) decimal.Decimal { return l.Paid })
}

func (c *LoanCharge) Waived() decimal.Decimal {
	return c.sum(func(l *InstallmentCharge) decimal.Decimal { return l.Waived })
}

func (c *LoanCharge) Outstanding() decimal.Decimal {
	return c.sum(func(l *InstallmentCharge) decimal.Decimal { return l.Outstanding() })
}

// Status is derived from the installment lines.
func (c *LoanCharge) Status() ChargeStatus {
	if c.Outstanding().IsPositive() {
		return ChargeStatusPending
	}
	if c.Waived().IsPositive() && c.Paid().IsZero() {
		return ChargeStatusWaived
	}
	return ChargeStatusPaid
}

// Line returns the line for installment number n.
func (c *LoanCharge) Line(n int) *InstallmentCharge {
	for _, l := range c.Lines {
		if l.InstallmentNumber == n {
			return l
		}
	}
	return nil
}

// EffectiveDueDate is the date the charge becomes payable.
func (c *LoanCharge) EffectiveDueDate() time.Time {
	if c.DueDate != nil {
		return *c.DueDate
	}
	return c.CreatedOn
}

func (c *LoanCharge) resetAllocations() {
	for _, l := range c.Lines {
		l.Paid = decimal.Zero
		l.Waived = decimal.Zero
		l.WrittenOff = decimal.Zero
	}
}

// Clone returns a deep copy.
func (c *LoanCharge) Clone() *LoanCharge {
	out := *c
	if c.DueDate != nil {
		d := *c.DueDate
		out.DueDate = &d
	}
	out.Lines = make([]*InstallmentCharge, len(c.Lines))
	for i, l := range c.Lines {
		line := *l
		out.Lines[i] = &line
	}
	return &out
}

// ChargesForInstallment returns the charges with a line on installment n,
// ordered by due date then id so allocation is stable.
func ChargesForInstallment(charges []*LoanCharge, n int, comp Component) []*LoanCharge {
	var out []*LoanCharge
	for _, c := range charges {
		if c.Component() == comp && c.Line(n) != nil {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := out[i].EffectiveDueDate(), out[j].EffectiveDueDate()
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
