package trade

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/txengine/internal/core/domain"
)

// ErrTradingNotAllowed means the user's KYC state permits neither verified
// nor simplified-due-diligence custodial trades.
var ErrTradingNotAllowed = errors.New("kyc tier does not permit custodial trades")

// TierService resolves the user's KYC tier state.
type TierService interface {
	Tiers(ctx context.Context) (domain.KycTiers, error)
	IsSDDEligible(ctx context.Context) (bool, error)
}

// LimitsService resolves the custodial transfer limits for the user's tier.
type LimitsService interface {
	SwapLimits(ctx context.Context, fiat domain.Asset) (domain.TransferLimits, error)
}

// ConvertLimits converts fiat min/max bounds into the source asset. The
// minimum is rounded up and the maximum down, so the converted bound is
// always at least as strict as the fiat original.
func ConvertLimits(limits domain.TransferLimits, fiatToAsset domain.ExchangeRate) (min, max domain.Money, err error) {
	min, err = fiatToAsset.Convert(limits.Min, domain.RoundUp)
	if err != nil {
		return domain.Money{}, domain.Money{}, fmt.Errorf("failed to convert min limit: %w", err)
	}
	max, err = fiatToAsset.Convert(limits.Max, domain.RoundDown)
	if err != nil {
		return domain.Money{}, domain.Money{}, fmt.Errorf("failed to convert max limit: %w", err)
	}
	return min, max, nil
}

// SwapMinimum raises the converted API minimum by the network fee the user
// must afford at the quoted price. Recomputed on every reprice.
func SwapMinimum(apiMin domain.Money, quote domain.Quote) (domain.Money, error) {
	if quote.NetworkFee.IsZero() {
		return apiMin, nil
	}
	// The network fee is quoted in the destination asset; bring it back to
	// the source asset at the quoted price.
	feeInSource, err := quote.Price.Inverse().Convert(quote.NetworkFee, domain.RoundUp)
	if err != nil {
		return domain.Money{}, fmt.Errorf("failed to price network fee: %w", err)
	}
	return apiMin.Add(feeInSource), nil
}

// maxLimitState maps an over-max violation to the tier-aware state.
func maxLimitState(tiers domain.KycTiers) domain.ValidationState {
	if tiers.Current >= domain.TierGold {
		return domain.OverGoldTierLimit
	}
	return domain.OverSilverTierLimit
}
