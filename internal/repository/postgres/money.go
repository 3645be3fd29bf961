package postgres

import (
	"fmt"

	"github.com/gatewire/gatewire/internal/domain/money"
	"github.com/shopspring/decimal"
)

// Amounts are stored as NUMERIC and travel through the driver as text, so no
// binary floating-point representation ever touches a monetary value.

func scanAmount(value, currency string) (money.Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return money.Amount{}, fmt.Errorf("parse numeric %q: %w", value, err)
	}
	return money.New(d, currency)
}

func amountParam(a money.Amount) string {
	return a.Value.String()
}
