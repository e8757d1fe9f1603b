package domain

import "sort"

// SyntheticTransactionKey maps transactions created without a predecessor.
const SyntheticTransactionKey int64 = 0

// ChangedTransactionDetail maps a reversed transaction id (or 0) to the
// transaction that replaced it during one operation.
type ChangedTransactionDetail struct {
	NewTransactionMappings map[int64]*LoanTransaction
}

func NewChangedTransactionDetail() *ChangedTransactionDetail {
	return &ChangedTransactionDetail{NewTransactionMappings: make(map[int64]*LoanTransaction)}
}

func (d *ChangedTransactionDetail) Add(oldID int64, tx *LoanTransaction) {
	d.NewTransactionMappings[oldID] = tx
}

func (d *ChangedTransactionDetail) IsEmpty() bool {
	return d == nil || len(d.NewTransactionMappings) == 0
}

// Merge folds other into d. Later mappings win on key collision.
func (d *ChangedTransactionDetail) Merge(other *ChangedTransactionDetail) *ChangedTransactionDetail {
	if other.IsEmpty() {
		return d
	}
	if d == nil {
		d = NewChangedTransactionDetail()
	}
	for k, v := range other.NewTransactionMappings {
		d.NewTransactionMappings[k] = v
	}
	return d
}

// singleChange records a transaction created without a predecessor.
func singleChange(tx *LoanTransaction) *ChangedTransactionDetail {
	d := NewChangedTransactionDetail()
	d.Add(SyntheticTransactionKey, tx)
	return d
}

// detach copies the mapped transactions so callers cannot reach loan internals.
func (d *ChangedTransactionDetail) detach() *ChangedTransactionDetail {
	if d.IsEmpty() {
		return nil
	}
	out := NewChangedTransactionDetail()
	for k, tx := range d.NewTransactionMappings {
		out.NewTransactionMappings[k] = tx.Clone()
	}
	return out
}

// ReversedIDs lists the replaced transaction ids in ascending order.
func (d *ChangedTransactionDetail) ReversedIDs() []int64 {
	if d == nil {
		return nil
	}
	ids := make([]int64, 0, len(d.NewTransactionMappings))
	for k := range d.NewTransactionMappings {
		if k != SyntheticTransactionKey {
			ids = append(ids, k)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
