package model

import (
	"bytes"
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor currency units (fen). It is encoded on the
// wire as a two-place fixed-point decimal string, e.g. "1.00".
type Money int64

const minorExp = -2

// MoneyFromDecimal converts a decimal amount into minor units, rejecting
// values with more than two fractional digits.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	scaled := d.Shift(-minorExp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("money: %s has more than two decimal places", d.String())
	}
	return Money(scaled.IntPart()), nil
}

// ParseMoney parses a decimal string such as "12.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("money: %w", err)
	}
	return MoneyFromDecimal(d)
}

func (m Money) Decimal() decimal.Decimal { return decimal.New(int64(m), minorExp) }

func (m Money) String() string { return m.Decimal().StringFixed(-minorExp) }

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	v, err := ParseMoney(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Value stores money as its integer minor-unit count.
func (m Money) Value() (driver.Value, error) { return int64(m), nil }

func (m *Money) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*m = Money(v)
	case int32:
		*m = Money(v)
	case uint64:
		*m = Money(v)
	case []byte:
		return m.scanString(string(v))
	case string:
		return m.scanString(v)
	case nil:
		*m = 0
	default:
		return fmt.Errorf("money: cannot scan %T", src)
	}
	return nil
}

func (m *Money) scanString(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("money: %w", err)
	}
	*m = Money(d.IntPart())
	return nil
}
