package domain

import "fmt"

// Asset identifies a currency the engine can move. Crypto assets are
// denominated in their smallest on-chain unit, fiat assets in cents.
type Asset string

const (
	AssetBTC Asset = "BTC"
	AssetBCH Asset = "BCH"
	AssetETH Asset = "ETH"
	AssetXLM Asset = "XLM"

	AssetUSD Asset = "USD"
	AssetEUR Asset = "EUR"
	AssetGBP Asset = "GBP"
)

// precision is the number of decimal places between the major unit and the
// minor unit (satoshi, wei, stroop, cent).
var precisions = map[Asset]int{
	AssetBTC: 8,
	AssetBCH: 8,
	AssetETH: 18,
	AssetXLM: 7,
	AssetUSD: 2,
	AssetEUR: 2,
	AssetGBP: 2,
}

var fiats = map[Asset]bool{
	AssetUSD: true,
	AssetEUR: true,
	AssetGBP: true,
}

// ParseAsset validates an asset code against the registry.
func ParseAsset(code string) (Asset, error) {
	a := Asset(code)
	if _, ok := precisions[a]; !ok {
		return "", fmt.Errorf("unknown asset: %s", code)
	}
	return a, nil
}

// Precision returns the decimal places of the asset's minor unit.
func (a Asset) Precision() int {
	return precisions[a]
}

// IsFiat reports whether the asset is a fiat currency.
func (a Asset) IsFiat() bool {
	return fiats[a]
}

func (a Asset) String() string {
	return string(a)
}
