package domain

import (
	"sort"
	"time"
)

// CycleEntry is one disbursed loan of a borrower with its cycle position.
type CycleEntry struct {
	LoanID         int64     `db:"loan_id"`
	ProductID      int64     `db:"product_id"`
	DisbursedOn    time.Time `db:"disbursed_on"`
	LoanCounter    int       `db:"loan_counter"`
	ProductCounter int       `db:"product_counter"`
}

// AssignCycleCounters places loan among the borrower's disbursed loans and
// renumbers every entry by (disbursement date, loan id). Loans disbursed
// after it shift up by one. Only entries whose counters changed are returned;
// loan itself is always included.
func AssignCycleCounters(entries []CycleEntry, loan CycleEntry) []CycleEntry {
	kept := make([]CycleEntry, 0, len(entries)+1)
	for _, e := range entries {
		if e.LoanID != loan.LoanID {
			kept = append(kept, e)
		}
	}
	loan.LoanCounter, loan.ProductCounter = 0, 0
	kept = append(kept, loan)
	return renumber(kept, loan.LoanID)
}

// RemoveFromCycle drops loan from the borrower's cycle; later loans shift
// down by one. The changed entries are returned.
func RemoveFromCycle(entries []CycleEntry, loanID int64) []CycleEntry {
	kept := make([]CycleEntry, 0, len(entries))
	for _, e := range entries {
		if e.LoanID != loanID {
			kept = append(kept, e)
		}
	}
	return renumber(kept, 0)
}

func renumber(entries []CycleEntry, always int64) []CycleEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].DisbursedOn.Equal(entries[j].DisbursedOn) {
			return entries[i].DisbursedOn.Before(entries[j].DisbursedOn)
		}
		return entries[i].LoanID < entries[j].LoanID
	})
	perProduct := make(map[int64]int)
	var changed []CycleEntry
	for i := range entries {
		e := entries[i]
		perProduct[e.ProductID]++
		loanCounter, productCounter := i+1, perProduct[e.ProductID]
		if e.LoanID == always || e.LoanCounter != loanCounter || e.ProductCounter != productCounter {
			e.LoanCounter, e.ProductCounter = loanCounter, productCounter
			changed = append(changed, e)
		}
	}
	return changed
}
