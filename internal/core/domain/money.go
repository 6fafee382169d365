package domain

import (
	"fmt"
	"math/big"
	"strings"
)

// Money is an exact amount of a single asset, held in minor units
// (satoshis, wei, stroops, cents). Money values are immutable; arithmetic
// returns new values and never mutates the receiver.
//
// Mixing assets in arithmetic is a programming error, not a runtime
// condition, so Add/Sub/Cmp panic on mismatched assets. Cross-asset
// movement goes through ExchangeRate.Convert.
type Money struct {
	asset  Asset
	amount *big.Int
}

// NewMoney builds a Money from minor units. The big.Int is copied.
func NewMoney(asset Asset, minor *big.Int) Money {
	return Money{asset: asset, amount: new(big.Int).Set(minor)}
}

// MoneyFromMinor builds a Money from an int64 of minor units.
func MoneyFromMinor(asset Asset, minor int64) Money {
	return Money{asset: asset, amount: big.NewInt(minor)}
}

// ZeroMoney is the zero amount of an asset.
func ZeroMoney(asset Asset) Money {
	return Money{asset: asset, amount: new(big.Int)}
}

// Asset returns the asset this amount is denominated in.
func (m Money) Asset() Asset {
	return m.asset
}

// Minor returns a copy of the amount in minor units.
func (m Money) Minor() *big.Int {
	if m.amount == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(m.amount)
}

func (m Money) minor() *big.Int {
	if m.amount == nil {
		return new(big.Int)
	}
	return m.amount
}

// IsZero reports whether the amount is exactly zero. The zero value of
// Money (no asset) is also zero.
func (m Money) IsZero() bool {
	return m.amount == nil || m.amount.Sign() == 0
}

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.amount != nil && m.amount.Sign() > 0
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool {
	return m.amount != nil && m.amount.Sign() < 0
}

func (m Money) mustMatch(o Money, op string) {
	if m.asset != o.asset {
		panic(fmt.Sprintf("money: %s on mismatched assets %s and %s", op, m.asset, o.asset))
	}
}

// Add returns m + o. Panics if the assets differ.
func (m Money) Add(o Money) Money {
	m.mustMatch(o, "add")
	return Money{asset: m.asset, amount: new(big.Int).Add(m.minor(), o.minor())}
}

// Sub returns m - o. Panics if the assets differ.
func (m Money) Sub(o Money) Money {
	m.mustMatch(o, "sub")
	return Money{asset: m.asset, amount: new(big.Int).Sub(m.minor(), o.minor())}
}

// Neg returns -m.
func (m Money) Neg() Money {
	return Money{asset: m.asset, amount: new(big.Int).Neg(m.minor())}
}

// Cmp compares two amounts of the same asset. Panics if the assets differ.
func (m Money) Cmp(o Money) int {
	m.mustMatch(o, "cmp")
	return m.minor().Cmp(o.minor())
}

// MulInt returns m scaled by an integer factor.
func (m Money) MulInt(n int64) Money {
	return Money{asset: m.asset, amount: new(big.Int).Mul(m.minor(), big.NewInt(n))}
}

// ClampZero returns m, or zero if m is negative. Used for availability
// figures that must stay renderable.
func (m Money) ClampZero() Money {
	if m.IsNegative() {
		return ZeroMoney(m.asset)
	}
	return m
}

// String renders the amount in major units with full precision,
// e.g. "0.00015000 BTC".
func (m Money) String() string {
	p := m.asset.Precision()
	v := m.minor()
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)

	scale := pow10(p)
	whole, frac := new(big.Int).QuoRem(abs, scale, new(big.Int))

	s := whole.String()
	if p > 0 {
		s += "." + leftPad(frac.String(), p)
	}
	if neg {
		s = "-" + s
	}
	return s + " " + string(m.asset)
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
