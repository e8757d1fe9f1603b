package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Component is one obligation bucket of an installment.
type Component string

const (
	ComponentPrincipal Component = "principal"
	ComponentInterest  Component = "interest"
	ComponentFee       Component = "fee"
	ComponentPenalty   Component = "penalty"
)

// AllComponents lists every component in storage order.
var AllComponents = []Component{ComponentPrincipal, ComponentInterest, ComponentFee, ComponentPenalty}

// ComponentAmounts holds one value per component.
type ComponentAmounts struct {
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	Fee       decimal.Decimal `json:"fee"`
	Penalty   decimal.Decimal `json:"penalty"`
}

func (c ComponentAmounts) Get(comp Component) decimal.Decimal {
	switch comp {
	case ComponentPrincipal:
		return c.Principal
	case ComponentInterest:
		return c.Interest
	case ComponentFee:
		return c.Fee
	default:
		return c.Penalty
	}
}

func (c *ComponentAmounts) Add(comp Component, amount decimal.Decimal) {
	switch comp {
	case ComponentPrincipal:
		c.Principal = c.Principal.Add(amount)
	case ComponentInterest:
		c.Interest = c.Interest.Add(amount)
	case ComponentFee:
		c.Fee = c.Fee.Add(amount)
	default:
		c.Penalty = c.Penalty.Add(amount)
	}
}

func (c ComponentAmounts) Total() decimal.Decimal {
	return c.Principal.Add(c.Interest).Add(c.Fee).Add(c.Penalty)
}

func (c ComponentAmounts) Equal(o ComponentAmounts) bool {
	return c.Principal.Equal(o.Principal) && c.Interest.Equal(o.Interest) &&
		c.Fee.Equal(o.Fee) && c.Penalty.Equal(o.Penalty)
}

// RepaymentInstallment is one period of the amortization schedule.
type RepaymentInstallment struct {
	Number   int       `json:"number"`
	FromDate time.Time `json:"from_date"`
	DueDate  time.Time `json:"due_date"`

	Due        ComponentAmounts `json:"due"`
	Paid       ComponentAmounts `json:"paid"`
	Waived     ComponentAmounts `json:"waived"`
	WrittenOff ComponentAmounts `json:"written_off"`

	Completed                     bool       `json:"completed"`
	RecalculatedInterestComponent bool       `json:"recalculated_interest_component"`
	ObligationsMetOn              *time.Time `json:"obligations_met_on,omitempty"`
}

// Outstanding returns due minus paid, waived and written off for comp.
func (i *RepaymentInstallment) Outstanding(comp Component) decimal.Decimal {
	return i.Due.Get(comp).Sub(i.Paid.Get(comp)).Sub(i.Waived.Get(comp)).Sub(i.WrittenOff.Get(comp))
}

func (i *RepaymentInstallment) OutstandingAmounts() ComponentAmounts {
	return ComponentAmounts{
		Principal: i.Outstanding(ComponentPrincipal),
		Interest:  i.Outstanding(ComponentInterest),
		Fee:       i.Outstanding(ComponentFee),
		Penalty:   i.Outstanding(ComponentPenalty),
	}
}

func (i *RepaymentInstallment) TotalOutstanding() decimal.Decimal {
	return i.OutstandingAmounts().Total()
}

// Pay applies up to amount to comp and returns what was applied.
func (i *RepaymentInstallment) Pay(comp Component, amount decimal.Decimal) decimal.Decimal {
	applied := minPositive(amount, i.Outstanding(comp))
	i.Paid.Add(comp, applied)
	return applied
}

// Waive cancels up to amount of comp and returns what was waived.
func (i *RepaymentInstallment) Waive(comp Component, amount decimal.Decimal) decimal.Decimal {
	applied := minPositive(amount, i.Outstanding(comp))
	i.Waived.Add(comp, applied)
	return applied
}

// WriteOff writes off everything outstanding on comp.
func (i *RepaymentInstallment) WriteOff(comp Component) decimal.Decimal {
	applied := i.Outstanding(comp)
	if applied.IsNegative() {
		return decimal.Zero
	}
	i.WrittenOff.Add(comp, applied)
	return applied
}

// ResetAllocations clears everything the processor derives.
func (i *RepaymentInstallment) ResetAllocations() {
	i.Paid = ComponentAmounts{}
	i.Waived = ComponentAmounts{}
	i.WrittenOff = ComponentAmounts{}
	i.Completed = false
	i.ObligationsMetOn = nil
}

// UpdateCompleted sets the completed flag; on is the date the last allocation landed.
func (i *RepaymentInstallment) UpdateCompleted(on time.Time) {
	done := i.TotalOutstanding().IsZero()
	if done && !i.Completed {
		d := on
		i.ObligationsMetOn = &d
	}
	if !done {
		i.ObligationsMetOn = nil
	}
	i.Completed = done
}

// CheckConservation returns the first component whose balance is broken.
func (i *RepaymentInstallment) CheckConservation() (Component, bool) {
	for _, comp := range AllComponents {
		if i.Due.Get(comp).IsNegative() || i.Paid.Get(comp).IsNegative() ||
			i.Waived.Get(comp).IsNegative() || i.WrittenOff.Get(comp).IsNegative() ||
			i.Outstanding(comp).IsNegative() {
			return comp, false
		}
	}
	return "", true
}

// Clone returns a deep copy.
func (i *RepaymentInstallment) Clone() *RepaymentInstallment {
	c := *i
	if i.ObligationsMetOn != nil {
		d := *i.ObligationsMetOn
		c.ObligationsMetOn = &d
	}
	return &c
}

func cloneInstallments(in []*RepaymentInstallment) []*RepaymentInstallment {
	out := make([]*RepaymentInstallment, len(in))
	for idx, inst := range in {
		out[idx] = inst.Clone()
	}
	return out
}

func minPositive(a, b decimal.Decimal) decimal.Decimal {
	if b.LessThan(a) {
		a = b
	}
	if a.IsNegative() {
		return decimal.Zero
	}
	return a
}
