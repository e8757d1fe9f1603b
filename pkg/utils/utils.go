package utils

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used in messages and payloads.
const DateLayout = "2006-01-02"

// Date returns midnight UTC of the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// TruncateDay drops the time of day, keeping the calendar date of t in its location.
func TruncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DaysBetween counts whole days from a to b. Negative when b is before a.
func DaysBetween(a, b time.Time) int {
	return int(TruncateDay(b).Sub(TruncateDay(a)).Hours() / 24)
}

// MinDate returns the earliest of the given dates.
func MinDate(first time.Time, rest ...time.Time) time.Time {
	min := first
	for _, d := range rest {
		if d.Before(min) {
			min = d
		}
	}
	return min
}

// MaxDate returns the latest of the given dates.
func MaxDate(first time.Time, rest ...time.Time) time.Time {
	max := first
	for _, d := range rest {
		if d.After(max) {
			max = d
		}
	}
	return max
}

// AddPeriods steps start forward by n periods of every units of the given frequency.
// Month steps clamp to the last day of the target month.
func AddPeriods(start time.Time, frequency string, every, n int) time.Time {
	steps := every * n
	switch frequency {
	case "days":
		return start.AddDate(0, 0, steps)
	case "weeks":
		return start.AddDate(0, 0, 7*steps)
	default:
		return addMonthsClamped(start, steps)
	}
}

func addMonthsClamped(start time.Time, months int) time.Time {
	y, m, d := start.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, start.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, start.Location())
}

// Percentage returns amount * percent / 100 without rounding.
func Percentage(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(decimal.NewFromInt(100))
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MaxDecimal returns the larger of a and b.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// DecimalFromString converts string to decimal.Decimal
func DecimalFromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
