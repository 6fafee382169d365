package domain

import (
	"fmt"
	"math/big"
)

// Rounding selects the direction an inexact conversion is rounded in.
type Rounding int

const (
	RoundDown Rounding = iota
	RoundUp
	RoundHalfUp
)

// ExchangeRate prices one asset in another. Price is expressed in major
// units: 1 major unit of From buys Price major units of To.
type ExchangeRate struct {
	From  Asset
	To    Asset
	Price *big.Rat
}

// NewExchangeRate builds a rate from a major-unit price.
func NewExchangeRate(from, to Asset, price *big.Rat) ExchangeRate {
	return ExchangeRate{From: from, To: to, Price: new(big.Rat).Set(price)}
}

// Convert converts an amount of the From asset into the To asset, rounding
// the inexact minor-unit result in the requested direction.
func (r ExchangeRate) Convert(m Money, rounding Rounding) (Money, error) {
	if m.Asset() != r.From {
		return Money{}, fmt.Errorf("rate %s->%s cannot convert %s", r.From, r.To, m.Asset())
	}
	if r.Price == nil || r.Price.Sign() <= 0 {
		return Money{}, fmt.Errorf("rate %s->%s has no price", r.From, r.To)
	}

	// minorTo = minorFrom * price * 10^pTo / 10^pFrom
	v := new(big.Rat).SetInt(m.Minor())
	v.Mul(v, r.Price)
	v.Mul(v, new(big.Rat).SetInt(pow10(r.To.Precision())))
	v.Quo(v, new(big.Rat).SetInt(pow10(r.From.Precision())))

	return NewMoney(r.To, ratToInt(v, rounding)), nil
}

// Inverse returns the rate in the opposite direction.
func (r ExchangeRate) Inverse() ExchangeRate {
	return ExchangeRate{From: r.To, To: r.From, Price: new(big.Rat).Inv(r.Price)}
}

func ratToInt(v *big.Rat, rounding Rounding) *big.Int {
	quo, rem := new(big.Int).QuoRem(v.Num(), v.Denom(), new(big.Int))
	if rem.Sign() == 0 {
		return quo
	}

	switch rounding {
	case RoundUp:
		if v.Sign() > 0 {
			quo.Add(quo, big.NewInt(1))
		}
	case RoundHalfUp:
		// Compare 2*|rem| against the denominator.
		twice := new(big.Int).Abs(rem)
		twice.Lsh(twice, 1)
		if twice.Cmp(v.Denom()) >= 0 && v.Sign() > 0 {
			quo.Add(quo, big.NewInt(1))
		}
	case RoundDown:
		// Truncation from QuoRem already rounds toward zero.
	}
	return quo
}
