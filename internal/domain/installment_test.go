package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func amt(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestRepaymentInstallment_Allocations(t *testing.T) {
	inst := &RepaymentInstallment{
		Number:  1,
		DueDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Due:     ComponentAmounts{Principal: amt(500), Interest: amt(50)},
	}

	assert.True(t, inst.Pay(ComponentInterest, amt(80)).Equal(amt(50)))
	assert.True(t, inst.Waive(ComponentInterest, amt(10)).IsZero())
	assert.True(t, inst.Pay(ComponentPrincipal, amt(200)).Equal(amt(200)))
	assert.True(t, inst.Outstanding(ComponentPrincipal).Equal(amt(300)))

	inst.UpdateCompleted(time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))
	assert.False(t, inst.Completed)
	assert.Nil(t, inst.ObligationsMetOn)

	assert.True(t, inst.WriteOff(ComponentPrincipal).Equal(amt(300)))
	assert.True(t, inst.WriteOff(ComponentFee).IsZero())
	metOn := time.Date(2024, 1, 25, 0, 0, 0, 0, time.UTC)
	inst.UpdateCompleted(metOn)
	assert.True(t, inst.Completed)
	assert.Equal(t, metOn, *inst.ObligationsMetOn)

	// completing again keeps the first date
	inst.UpdateCompleted(metOn.AddDate(0, 0, 5))
	assert.Equal(t, metOn, *inst.ObligationsMetOn)

	_, ok := inst.CheckConservation()
	assert.True(t, ok)

	inst.ResetAllocations()
	assert.False(t, inst.Completed)
	assert.True(t, inst.TotalOutstanding().Equal(amt(550)))
}

func TestRepaymentInstallment_CheckConservation(t *testing.T) {
	inst := &RepaymentInstallment{
		Due:  ComponentAmounts{Principal: amt(100)},
		Paid: ComponentAmounts{Principal: amt(60)},
	}
	inst.Waived.Principal = amt(50)

	comp, ok := inst.CheckConservation()

	assert.False(t, ok)
	assert.Equal(t, ComponentPrincipal, comp)
}

func TestRepaymentInstallment_CloneIsDeep(t *testing.T) {
	met := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	inst := &RepaymentInstallment{Number: 1, ObligationsMetOn: &met}

	c := inst.Clone()
	*c.ObligationsMetOn = met.AddDate(1, 0, 0)
	c.Paid.Principal = amt(1)

	assert.Equal(t, met, *inst.ObligationsMetOn)
	assert.True(t, inst.Paid.Principal.IsZero())
}

func TestComponentAmounts(t *testing.T) {
	var c ComponentAmounts
	for i, comp := range AllComponents {
		c.Add(comp, amt(int64(i+1)))
	}

	assert.True(t, c.Get(ComponentPrincipal).Equal(amt(1)))
	assert.True(t, c.Get(ComponentPenalty).Equal(amt(4)))
	assert.True(t, c.Total().Equal(amt(10)))
	assert.True(t, c.Equal(ComponentAmounts{Principal: amt(1), Interest: amt(2), Fee: amt(3), Penalty: amt(4)}))
}
