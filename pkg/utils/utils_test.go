package utils

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAddPeriods(t *testing.T) {
	baseDate := Date(2024, 1, 31)

	tests := []struct {
		name      string
		frequency string
		every     int
		n         int
		expected  time.Time
	}{
		{
			name:      "days",
			frequency: "days",
			every:     15,
			n:         2,
			expected:  Date(2024, 3, 1),
		},
		{
			name:      "weeks",
			frequency: "weeks",
			every:     1,
			n:         2,
			expected:  baseDate.AddDate(0, 0, 14),
		},
		{
			name:      "month end clamps to leap february",
			frequency: "months",
			every:     1,
			n:         1,
			expected:  Date(2024, 2, 29),
		},
		{
			name:      "quarterly",
			frequency: "months",
			every:     3,
			n:         1,
			expected:  Date(2024, 4, 30),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := AddPeriods(baseDate, tt.frequency, tt.every, tt.n)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 31, DaysBetween(Date(2024, 1, 1), Date(2024, 2, 1)))
	assert.Equal(t, -1, DaysBetween(Date(2024, 1, 2), Date(2024, 1, 1)))
	assert.Equal(t, 0, DaysBetween(time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC), Date(2024, 1, 1)))
}

func TestMinMaxDate(t *testing.T) {
	a, b, c := Date(2024, 3, 1), Date(2024, 1, 1), Date(2024, 2, 1)
	assert.Equal(t, b, MinDate(a, b, c))
	assert.Equal(t, a, MaxDate(a, b, c))
	assert.True(t, SameDay(a, time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC)))
}

func TestPercentage(t *testing.T) {
	result := Percentage(decimal.NewFromInt(1000), decimal.RequireFromString("2.5"))
	assert.True(t, result.Equal(decimal.NewFromInt(25)), "got %s", result)
	assert.True(t, MinDecimal(decimal.NewFromInt(1), decimal.NewFromInt(2)).Equal(decimal.NewFromInt(1)))
	assert.True(t, MaxDecimal(decimal.NewFromInt(1), decimal.NewFromInt(2)).Equal(decimal.NewFromInt(2)))
}
