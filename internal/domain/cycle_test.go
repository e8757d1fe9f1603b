package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAssignCycleCounters(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	existing := []CycleEntry{
		{LoanID: 10, ProductID: 1, DisbursedOn: jan, LoanCounter: 1, ProductCounter: 1},
		{LoanID: 11, ProductID: 2, DisbursedOn: mar, LoanCounter: 2, ProductCounter: 1},
	}

	// a back-dated disbursement in February shifts the March loan up
	changed := AssignCycleCounters(existing, CycleEntry{
		LoanID:      12,
		ProductID:   2,
		DisbursedOn: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})

	assert.Equal(t, []CycleEntry{
		{LoanID: 12, ProductID: 2, DisbursedOn: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), LoanCounter: 2, ProductCounter: 1},
		{LoanID: 11, ProductID: 2, DisbursedOn: mar, LoanCounter: 3, ProductCounter: 2},
	}, changed)
}

func TestAssignCycleCounters_SameDayOrdersByLoanID(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := []CycleEntry{{LoanID: 20, ProductID: 1, DisbursedOn: jan, LoanCounter: 1, ProductCounter: 1}}

	changed := AssignCycleCounters(existing, CycleEntry{LoanID: 21, ProductID: 1, DisbursedOn: jan})

	assert.Equal(t, []CycleEntry{{LoanID: 21, ProductID: 1, DisbursedOn: jan, LoanCounter: 2, ProductCounter: 2}}, changed)
}

func TestRemoveFromCycle(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	entries := []CycleEntry{
		{LoanID: 1, ProductID: 1, DisbursedOn: jan, LoanCounter: 1, ProductCounter: 1},
		{LoanID: 2, ProductID: 1, DisbursedOn: feb, LoanCounter: 2, ProductCounter: 2},
		{LoanID: 3, ProductID: 1, DisbursedOn: mar, LoanCounter: 3, ProductCounter: 3},
	}

	changed := RemoveFromCycle(entries, 2)

	assert.Equal(t, []CycleEntry{{LoanID: 3, ProductID: 1, DisbursedOn: mar, LoanCounter: 2, ProductCounter: 2}}, changed)
}
