package domain

// TxResult is the outcome of a successful execute. On-chain submissions
// carry a transaction hash; custodial orders have no hash yet.
type TxResult interface {
	ResultAmount() Money
}

// HashedResult is a broadcast on-chain payment.
type HashedResult struct {
	TxHash string
	Amount Money
}

func (r HashedResult) ResultAmount() Money { return r.Amount }

// UnhashedResult is a placed custodial order. Amount is the user-entered
// amount, not the price-adjusted volume the exchange settles at.
type UnhashedResult struct {
	OrderID string
	Amount  Money
}

func (r UnhashedResult) ResultAmount() Money { return r.Amount }
