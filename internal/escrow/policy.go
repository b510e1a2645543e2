package escrow

import "github.com/shopspring/decimal"

const (
	BasisPoints         = 10000
	MaxFeeBp            = 1000 // 10%
	MaxReferralBp       = 1000 // 10%
	MaxMergeToleranceBp = 500  // 5%
)

var (
	bpDivisor = decimal.NewFromInt(BasisPoints)
	two       = decimal.NewFromInt(2)
)

// bpShare takes a basis-point cut of an amount, floored to whole atomic units.
func bpShare(amount decimal.Decimal, bp int64) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(bp)).Div(bpDivisor).Floor()
}

// Settlement is the full money split of a non-draw outcome. Referral payouts
// are drawn from the fee, never from the winner's pot: the allocatable pool is
// capped at the fee actually collected. With two distinct referrers each gets
// half, and the odd unit from integer division stays with the platform.
type Settlement struct {
	Fee          decimal.Decimal
	WinnerPayout decimal.Decimal
	Referrals    map[string]decimal.Decimal
	PlatformFee  decimal.Decimal
}

func ComputeSettlement(totalDeposit decimal.Decimal, feeBp, referralBp int64, referrerA, referrerB string) Settlement {
	fee := bpShare(totalDeposit, feeBp)
	pool := bpShare(totalDeposit, referralBp)
	allocatable := decimal.Min(fee, pool)

	s := Settlement{
		Fee:          fee,
		WinnerPayout: totalDeposit.Sub(fee),
		Referrals:    make(map[string]decimal.Decimal),
		PlatformFee:  fee,
	}

	switch {
	case referrerA != "" && referrerB != "" && referrerA != referrerB:
		half := allocatable.Div(two).Floor()
		if half.IsPositive() {
			s.Referrals[referrerA] = half
			s.Referrals[referrerB] = half
			s.PlatformFee = fee.Sub(half.Mul(two))
		}
	case referrerA != "":
		// Covers both "only A has a referrer" and "both share one".
		if allocatable.IsPositive() {
			s.Referrals[referrerA] = allocatable
			s.PlatformFee = fee.Sub(allocatable)
		}
	case referrerB != "":
		if allocatable.IsPositive() {
			s.Referrals[referrerB] = allocatable
			s.PlatformFee = fee.Sub(allocatable)
		}
	}
	return s
}

// withinTolerance reports whether two wagers are close enough to merge:
// |a-b| * 10000 <= max(a,b) * toleranceBp.
func withinTolerance(a, b decimal.Decimal, toleranceBp int64) bool {
	diff := a.Sub(b).Abs()
	max := decimal.Max(a, b)
	return diff.Mul(bpDivisor).LessThanOrEqual(max.Mul(decimal.NewFromInt(toleranceBp)))
}
