package strategy

import (
	"errors"
	"fmt"

	"github.com/quantfold/rebalancer/internal/model"
	"github.com/shopspring/decimal"
)

var (
	// ErrPriceNotSet guards DesiredQuantity being read before pricing.
	ErrPriceNotSet = errors.New("current price not set")

	_one = decimal.NewFromInt(1)

	// Weight sums are validated to 1e-8, priced allocation sums to 1e-6.
	// The looser post-validation tolerance absorbs division rounding.
	_weightTolerance = decimal.New(1, -8)
	_valueTolerance  = decimal.New(1, -6)
)

// AssetAllocation is one line of the target model: weight of starting
// capital assigned to a symbol. CurrentPrice stays nil until the symbol is
// priced for an initial purchase.
type AssetAllocation struct {
	Symbol          string
	Weight          decimal.Decimal
	Class           model.AssetClass
	StartingCapital decimal.Decimal
	CurrentPrice    *decimal.Decimal
}

func (a AssetAllocation) DesiredValue() decimal.Decimal {
	return a.StartingCapital.Mul(a.Weight)
}

func (a AssetAllocation) DesiredQuantity() (decimal.Decimal, error) {
	if a.CurrentPrice == nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrPriceNotSet, a.Symbol)
	}
	return a.DesiredValue().Div(*a.CurrentPrice), nil
}

// ValidateAllocations must pass before a strategy is allowed to run.
func ValidateAllocations(allocations []AssetAllocation) error {
	if len(allocations) == 0 {
		return errors.New("no allocations configured")
	}

	sum := decimal.Zero
	for _, a := range allocations {
		sum = sum.Add(a.Weight)
	}
	if sum.Sub(_one).Abs().GreaterThan(_weightTolerance) {
		return fmt.Errorf("allocation weights must sum to 1.0, got %s", sum)
	}
	return nil
}

// PostValidateAllocations cross-checks priced allocations: the desired
// values must add back up to the starting capital.
func PostValidateAllocations(allocations []AssetAllocation, startingCapital decimal.Decimal) error {
	sum := decimal.Zero
	for _, a := range allocations {
		sum = sum.Add(a.DesiredValue())
	}
	if sum.Sub(startingCapital).Abs().GreaterThan(_valueTolerance) {
		return fmt.Errorf("desired allocation values sum to %s, want %s", sum, startingCapital)
	}
	return nil
}
