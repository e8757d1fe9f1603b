package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangedTransactionDetail_Merge(t *testing.T) {
	var empty *ChangedTransactionDetail
	assert.True(t, empty.IsEmpty())
	assert.Nil(t, empty.ReversedIDs())

	a := NewChangedTransactionDetail()
	a.Add(3, &LoanTransaction{ID: 7})
	b := NewChangedTransactionDetail()
	b.Add(3, &LoanTransaction{ID: 8})
	b.Add(SyntheticTransactionKey, &LoanTransaction{ID: 9})
	b.Add(1, &LoanTransaction{ID: 10})

	merged := empty.Merge(a).Merge(b)

	assert.Equal(t, []int64{1, 3}, merged.ReversedIDs())
	assert.Equal(t, int64(8), merged.NewTransactionMappings[3].ID)
	assert.Equal(t, int64(9), merged.NewTransactionMappings[SyntheticTransactionKey].ID)
	assert.Same(t, merged, merged.Merge(nil))
}

func TestChangedTransactionDetail_DetachCopies(t *testing.T) {
	tx := &LoanTransaction{ID: 4, Amount: amt(10)}
	d := singleChange(tx)

	out := d.detach()
	out.NewTransactionMappings[SyntheticTransactionKey].Amount = amt(99)

	assert.True(t, tx.Amount.Equal(amt(10)))
	assert.Nil(t, NewChangedTransactionDetail().detach())
}
