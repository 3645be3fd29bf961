package money

import (
	"regexp"

	domainErrors "github.com/gatewire/gatewire/internal/domain/errors"
	"github.com/shopspring/decimal"
)

var currencyCodeRe = regexp.MustCompile(`^[A-Z]{3}$`)

// Amount is an exact monetary value. It is backed by an arbitrary-precision
// decimal so that gateway round-trips never lose sub-unit precision.
type Amount struct {
	Value    decimal.Decimal
	Currency string
}

// New creates an Amount from a decimal value and a 3-letter ISO currency code.
func New(value decimal.Decimal, currency string) (Amount, error) {
	a := Amount{Value: value, Currency: currency}
	if err := a.Validate(); err != nil {
		return Amount{}, err
	}
	return a, nil
}

// FromString parses a decimal amount string ("129000", "100.10") and currency.
func FromString(value, currency string) (Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, domainErrors.NewValidationError("amount", "not a decimal number: "+value)
	}
	return New(d, currency)
}

// FromMinorUnits builds an Amount from an integer count of minor units
// (cents for a 2-exponent currency).
func FromMinorUnits(minor int64, exponent int32, currency string) (Amount, error) {
	return New(decimal.New(minor, -exponent), currency)
}

// Validate checks the amount invariants shared by every caller. Sign rules
// (amounts must be positive for charges) are enforced at the call sites that
// need them.
func (a Amount) Validate() error {
	if !currencyCodeRe.MatchString(a.Currency) {
		return domainErrors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool {
	return a.Value.IsPositive()
}

// Equal reports whether two amounts have the same currency and numeric value.
// "100.1" and "100.10" compare equal.
func (a Amount) Equal(b Amount) bool {
	return a.Currency == b.Currency && a.Value.Equal(b.Value)
}

// String renders the amount for storage and wire formats. Trailing zeros are
// preserved up to the decimal's own exponent ("100.10" stays "100.10").
func (a Amount) String() string {
	return a.Value.String()
}

// StringFixed renders the amount with exactly the given number of decimal
// places, as most gateway wire formats require.
func (a Amount) StringFixed(places int32) string {
	return a.Value.StringFixed(places)
}

// MinorUnits returns the amount as an integer count of minor units for the
// given currency exponent, or an error if the value does not fit exactly.
func (a Amount) MinorUnits(exponent int32) (int64, error) {
	shifted := a.Value.Shift(exponent)
	if !shifted.IsInteger() {
		return 0, domainErrors.NewValidationError("amount", "not representable in minor units of exponent "+decimal.NewFromInt32(exponent).String())
	}
	return shifted.IntPart(), nil
}
