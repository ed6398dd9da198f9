package domain

import "github.com/shopspring/decimal"

// AmountScale is the platform's native precision in fractional digits.
const AmountScale = 7

var (
	// RewardRate is the fraction of a completed payment credited back to the owner.
	RewardRate = decimal.RequireFromString("0.05")

	// AmountTolerance is the largest accepted gap between local and platform amounts.
	AmountTolerance = decimal.New(1, -4)
)

// Cashback is the single reward computation used by every completion path.
func Cashback(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(RewardRate).Round(AmountScale)
}

// AmountsMatch reports whether two amounts agree within AmountTolerance.
func AmountsMatch(local, remote decimal.Decimal) bool {
	return local.Sub(remote).Abs().LessThanOrEqual(AmountTolerance)
}
