package trade

import (
	"math/big"
	"testing"

	"github.com/vietddude/txengine/internal/core/domain"
)

func usdToBTC(price int64) domain.ExchangeRate {
	// price is the BTC/USD price; the returned rate goes USD -> BTC.
	return domain.NewExchangeRate(domain.AssetUSD, domain.AssetBTC, big.NewRat(1, price))
}

func TestConvertLimitsExact(t *testing.T) {
	limits := domain.TransferLimits{
		Min: domain.MoneyFromMinor(domain.AssetUSD, 1000),    // $10
		Max: domain.MoneyFromMinor(domain.AssetUSD, 100_000), // $1000
	}

	min, max, err := ConvertLimits(limits, usdToBTC(25_000))
	if err != nil {
		t.Fatalf("ConvertLimits failed: %v", err)
	}
	if got := min.Minor().Int64(); got != 40_000 {
		t.Errorf("min = %d sat, want 40000", got)
	}
	if got := max.Minor().Int64(); got != 4_000_000 {
		t.Errorf("max = %d sat, want 4000000", got)
	}
}

func TestConvertLimitsRoundsTowardStrictness(t *testing.T) {
	limits := domain.TransferLimits{
		Min: domain.MoneyFromMinor(domain.AssetUSD, 1000),
		Max: domain.MoneyFromMinor(domain.AssetUSD, 100_000),
	}

	// $10 at 30000 = 33333.33.. sat; the bound must not loosen either way.
	min, max, err := ConvertLimits(limits, usdToBTC(30_000))
	if err != nil {
		t.Fatalf("ConvertLimits failed: %v", err)
	}
	if got := min.Minor().Int64(); got != 33_334 {
		t.Errorf("min = %d sat, want 33334 (rounded up)", got)
	}
	if got := max.Minor().Int64(); got != 3_333_333 {
		t.Errorf("max = %d sat, want 3333333 (rounded down)", got)
	}
}

func TestSwapMinimumZeroFee(t *testing.T) {
	apiMin := domain.MoneyFromMinor(domain.AssetBTC, 40_000)
	quote := domain.Quote{
		Price:      domain.NewExchangeRate(domain.AssetBTC, domain.AssetETH, new(big.Rat).SetInt64(15)),
		NetworkFee: domain.ZeroMoney(domain.AssetETH),
	}

	got, err := SwapMinimum(apiMin, quote)
	if err != nil {
		t.Fatalf("SwapMinimum failed: %v", err)
	}
	if got.Cmp(apiMin) != 0 {
		t.Errorf("min = %s, want unchanged %s", got, apiMin)
	}
}

func TestSwapMinimumAddsNetworkFee(t *testing.T) {
	apiMin := domain.MoneyFromMinor(domain.AssetBTC, 40_000)
	// 0.003 ETH at 1 BTC = 15 ETH converts back to 20000 sat.
	networkFee := domain.NewMoney(domain.AssetETH, big.NewInt(3_000_000_000_000_000))
	quote := domain.Quote{
		Price:      domain.NewExchangeRate(domain.AssetBTC, domain.AssetETH, new(big.Rat).SetInt64(15)),
		NetworkFee: networkFee,
	}

	got, err := SwapMinimum(apiMin, quote)
	if err != nil {
		t.Fatalf("SwapMinimum failed: %v", err)
	}
	if want := int64(40_000 + 20_000); got.Minor().Int64() != want {
		t.Errorf("min = %d sat, want %d", got.Minor().Int64(), want)
	}
}

func TestMaxLimitStateByTier(t *testing.T) {
	tests := []struct {
		tier domain.KycTier
		want domain.ValidationState
	}{
		{domain.TierBronze, domain.OverSilverTierLimit},
		{domain.TierSilver, domain.OverSilverTierLimit},
		{domain.TierGold, domain.OverGoldTierLimit},
	}

	for _, tt := range tests {
		t.Run(tt.tier.String(), func(t *testing.T) {
			got := maxLimitState(domain.KycTiers{Current: tt.tier})
			if got != tt.want {
				t.Errorf("maxLimitState(%s) = %s, want %s", tt.tier, got, tt.want)
			}
		})
	}
}
