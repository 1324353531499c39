package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid_amount")

var hundred = decimal.NewFromInt(100)

// ParseMajor converts a major-unit decimal string ("500.00") into minor
// units. Amounts with sub-penny precision are rejected rather than
// rounded.
func ParseMajor(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, ErrInvalidAmount
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	minor := parsed.Mul(hundred)
	if !minor.IsInteger() {
		return 0, ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

// FormatMinor renders minor units as a major-unit string with two
// decimal places ("50000" -> "500.00").
func FormatMinor(minor int64) string {
	return decimal.NewFromInt(minor).Div(hundred).StringFixed(2)
}
