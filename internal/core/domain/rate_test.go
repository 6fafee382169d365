package domain

import (
	"math/big"
	"testing"
)

func btcUSD(price int64) ExchangeRate {
	return NewExchangeRate(AssetBTC, AssetUSD, new(big.Rat).SetInt64(price))
}

func TestConvertExact(t *testing.T) {
	rate := btcUSD(25_000)

	got, err := rate.Convert(MoneyFromMinor(AssetBTC, 100_000_000), RoundDown)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if got.Asset() != AssetUSD {
		t.Errorf("asset = %s, want USD", got.Asset())
	}
	if got.Minor().Int64() != 2_500_000 {
		t.Errorf("1 BTC at 25000 = %d cents, want 2500000", got.Minor().Int64())
	}
}

func TestConvertRounding(t *testing.T) {
	rate := btcUSD(25_000)

	tests := []struct {
		name     string
		satoshis int64
		rounding Rounding
		want     int64
	}{
		// 1 sat = 0.025 cents
		{"down truncates", 1, RoundDown, 0},
		{"up always ceils", 1, RoundUp, 1},
		{"half-up below midpoint", 1, RoundHalfUp, 0},
		// 20 sat = 0.5 cents, exactly on the midpoint
		{"half-up at midpoint", 20, RoundHalfUp, 1},
		{"down at midpoint", 20, RoundDown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rate.Convert(MoneyFromMinor(AssetBTC, tt.satoshis), tt.rounding)
			if err != nil {
				t.Fatalf("Convert failed: %v", err)
			}
			if got.Minor().Int64() != tt.want {
				t.Errorf("Convert(%d sat) = %d, want %d", tt.satoshis, got.Minor().Int64(), tt.want)
			}
		})
	}
}

func TestConvertWrongAsset(t *testing.T) {
	rate := btcUSD(25_000)
	if _, err := rate.Convert(MoneyFromMinor(AssetETH, 1), RoundDown); err == nil {
		t.Fatal("expected error converting ETH through a BTC rate")
	}
}

func TestInverseRoundTrip(t *testing.T) {
	rate := btcUSD(25_000)
	inv := rate.Inverse()

	if inv.From != AssetUSD || inv.To != AssetBTC {
		t.Fatalf("inverse direction = %s->%s", inv.From, inv.To)
	}

	got, err := inv.Convert(MoneyFromMinor(AssetUSD, 2_500_000), RoundDown)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if got.Minor().Int64() != 100_000_000 {
		t.Errorf("25000 USD back through inverse = %d sat, want 1e8", got.Minor().Int64())
	}
}

func TestConvertRoundUpNeverBelowExact(t *testing.T) {
	// A bound converted with RoundUp must never be looser than the fiat
	// original: re-converting the result back may only meet or exceed it.
	rate := NewExchangeRate(AssetUSD, AssetBTC, big.NewRat(1, 25_000))

	for _, cents := range []int64{1, 99, 12345, 999_999} {
		min, err := rate.Convert(MoneyFromMinor(AssetUSD, cents), RoundUp)
		if err != nil {
			t.Fatalf("Convert failed: %v", err)
		}
		back, err := rate.Inverse().Convert(min, RoundDown)
		if err != nil {
			t.Fatalf("Convert back failed: %v", err)
		}
		if back.Minor().Int64() < cents {
			t.Errorf("bound %d cents loosened to %d after round trip", cents, back.Minor().Int64())
		}
	}
}
