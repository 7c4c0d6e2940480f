// Package money holds exact decimal amounts for prices and revenue figures.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

const precision = 34

// Amount is an exact decimal currency amount.
type Amount struct {
	value apd.Decimal
}

func Parse(s string) (Amount, error) {
	var d apd.Decimal
	if _, _, err := d.SetString(s); err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{value: d}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func FromInt64(i int64) Amount {
	var d apd.Decimal
	d.SetInt64(i)
	return Amount{value: d}
}

// Currencies whose smallest unit is not a hundredth, following Stripe's list.
var (
	zeroDecimalCurrencies = map[string]bool{
		"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
		"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
		"vuv": true, "xaf": true, "xof": true, "xpf": true,
	}
	threeDecimalCurrencies = map[string]bool{
		"bhd": true, "jod": true, "kwd": true, "omr": true, "tnd": true,
	}
)

// MinorUnitDigits returns how many decimal places the minor unit of currency has.
// Unknown currencies default to two.
func MinorUnitDigits(currency string) int32 {
	c := strings.ToLower(strings.TrimSpace(currency))
	switch {
	case zeroDecimalCurrencies[c]:
		return 0
	case threeDecimalCurrencies[c]:
		return 3
	}
	return 2
}

// FromMinorUnits converts an amount in the smallest unit of currency (cents, yen, fils)
// into an Amount.
func FromMinorUnits(minor int64, currency string) Amount {
	return Amount{value: *apd.New(minor, -MinorUnitDigits(currency))}
}

func decimalContext() *apd.Context {
	ctx := apd.BaseContext.WithPrecision(precision)
	ctx.Rounding = apd.RoundHalfUp
	return ctx
}

func (a Amount) String() string {
	return a.value.String()
}

func (a Amount) IsZero() bool {
	return a.value.IsZero()
}

func (a Amount) Cmp(other Amount) int {
	return a.value.Cmp(&other.value)
}

func (a Amount) Add(other Amount) Amount {
	var result apd.Decimal
	_, _ = decimalContext().Add(&result, &a.value, &other.value)
	return Amount{value: result}
}

func (a Amount) Mul(other Amount) Amount {
	var result apd.Decimal
	_, _ = decimalContext().Mul(&result, &a.value, &other.value)
	return Amount{value: result}
}

// MulInt multiplies by a whole count, e.g. a unit price by a number of subscribers.
func (a Amount) MulInt(n int64) Amount {
	return a.Mul(FromInt64(n))
}

// DivInt divides by n. n must be non-zero; callers guard with max(n, 1).
func (a Amount) DivInt(n int64) Amount {
	var result apd.Decimal
	divisor := apd.New(n, 0)
	_, _ = decimalContext().Quo(&result, &a.value, divisor)
	return Amount{value: result}
}

// Round returns the amount rounded half-up to the given number of decimal places.
func (a Amount) Round(places int32) Amount {
	var result apd.Decimal
	_, _ = decimalContext().Quantize(&result, &a.value, -places)
	return Amount{value: result}
}

func (a Amount) Float64() float64 {
	f, err := a.value.Float64()
	if err != nil {
		return 0
	}
	return f
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Accept bare JSON numbers as well.
		s = string(data)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer for NUMERIC columns.
func (a Amount) Value() (driver.Value, error) {
	return a.value.String(), nil
}

// Scan implements sql.Scanner for NUMERIC columns.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case string:
		return a.scanString(v)
	case []byte:
		return a.scanString(string(v))
	case int64:
		*a = FromInt64(v)
		return nil
	case float64:
		return a.scanString(fmt.Sprintf("%v", v))
	default:
		return fmt.Errorf("cannot scan %T into money.Amount", src)
	}
}

func (a *Amount) scanString(s string) error {
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
