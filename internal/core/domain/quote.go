package domain

import "time"

// Quote is a time-boxed price for a custodial operation. Quotes are
// immutable once issued; repricing replaces the whole value.
type Quote struct {
	ID                   string
	Price                ExchangeRate
	SampleDepositAddress string
	NetworkFee           Money
	StaticFee            Money
	ExpiresAt            time.Time
	CreatedAt            time.Time
}

// Expired reports whether the quote has passed its expiry.
func (q Quote) Expired(now time.Time) bool {
	return !q.ExpiresAt.IsZero() && now.After(q.ExpiresAt)
}
