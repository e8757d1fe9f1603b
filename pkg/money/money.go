package money

import (
	"encoding/json"

	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"

	"github.com/shopspring/decimal"
)

// RoundingMode selects how amounts are brought to the currency scale.
type RoundingMode string

const (
	RoundHalfEven RoundingMode = "HALF_EVEN"
	RoundHalfUp   RoundingMode = "HALF_UP"
	RoundDown     RoundingMode = "DOWN"
	RoundUp       RoundingMode = "UP"
)

// Currency describes the scale an amount is settled in.
type Currency struct {
	Code          string       `json:"code"`
	DecimalPlaces int32        `json:"decimal_places"`
	InMultiplesOf int64        `json:"in_multiples_of,omitempty"`
	Rounding      RoundingMode `json:"rounding,omitempty"`
}

// NewCurrency returns a currency rounding half-even at the given scale.
func NewCurrency(code string, decimalPlaces int32) Currency {
	return Currency{Code: code, DecimalPlaces: decimalPlaces, Rounding: RoundHalfEven}
}

// Round brings d to the currency scale, honouring InMultiplesOf.
func (c Currency) Round(d decimal.Decimal) decimal.Decimal {
	rounded := c.roundPlaces(d, c.DecimalPlaces)
	if c.InMultiplesOf > 1 {
		// multiples apply to the smallest unit at this scale
		unit := decimal.New(c.InMultiplesOf, -c.DecimalPlaces)
		units := rounded.Div(unit)
		rounded = c.roundPlaces(units, 0).Mul(unit)
	}
	return rounded
}

func (c Currency) roundPlaces(d decimal.Decimal, places int32) decimal.Decimal {
	switch c.Rounding {
	case RoundHalfUp:
		return d.Round(places)
	case RoundDown:
		return d.RoundDown(places)
	case RoundUp:
		return d.RoundUp(places)
	default:
		return d.RoundBank(places)
	}
}

// Money is an amount bound to a currency. The zero value has no currency.
type Money struct {
	currency Currency
	amount   decimal.Decimal
}

// New returns amount in currency c without rounding it.
func New(c Currency, amount decimal.Decimal) Money {
	return Money{currency: c, amount: amount}
}

// Zero returns a zero amount in currency c.
func Zero(c Currency) Money {
	return Money{currency: c, amount: decimal.Zero}
}

// MustParse builds Money from a decimal string and panics on bad input.
func MustParse(c Currency, amount string) Money {
	return New(c, decimal.RequireFromString(amount))
}

func (m Money) Currency() Currency { return m.currency }
func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) IsZero() bool { return m.amount.IsZero() }
func (m Money) IsPositive() bool { return m.amount.IsPositive() }
func (m Money) IsNegative() bool { return m.amount.IsNegative() }
func (m Money) String() string { return m.amount.StringFixed(m.currency.DecimalPlaces) + " " + m.currency.Code }
func (m Money) Round() Money { return New(m.currency, m.currency.Round(m.amount)) }
func (m Money) Neg() Money { return New(m.currency, m.amount.Neg()) }
func (m Money) Mul(f decimal.Decimal) Money { return New(m.currency, m.amount.Mul(f)) }

// SameCurrency fails with CurrencyMismatch unless o is in the same currency.
func (m Money) SameCurrency(o Money) error {
	if m.currency.Code != o.currency.Code {
		return customError.WrapCurrencyMismatch(m.currency.Code, o.currency.Code)
	}
	return nil
}

func (m Money) Add(o Money) (Money, error) {
	if err := m.SameCurrency(o); err != nil {
		return Money{}, err
	}
	return New(m.currency, m.amount.Add(o.amount)), nil
}

func (m Money) Sub(o Money) (Money, error) {
	if err := m.SameCurrency(o); err != nil {
		return Money{}, err
	}
	return New(m.currency, m.amount.Sub(o.amount)), nil
}

// Cmp compares two amounts of the same currency.
func (m Money) Cmp(o Money) (int, error) {
	if err := m.SameCurrency(o); err != nil {
		return 0, err
	}
	return m.amount.Cmp(o.amount), nil
}

// Min returns the smaller of two amounts of the same currency.
func Min(a, b Money) (Money, error) {
	c, err := a.Cmp(b)
	if err != nil {
		return Money{}, err
	}
	if c <= 0 {
		return a, nil
	}
	return b, nil
}

type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// MarshalJSON renders the amount with its currency code. Money is not
// decoded from JSON: request amounts are bound to the loan currency.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount, Currency: m.currency.Code})
}
