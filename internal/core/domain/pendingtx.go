package domain

// PendingTx is the evolving record of an in-progress transaction. It is a
// value: every engine step returns a modified copy and the previous copy is
// discarded, so no step ever observes a half-updated transaction.
//
// EngineState holds an engine-private context struct (for example the
// selected UTXO bundle of a BTC spend). It is typed per engine and opaque
// to everything else.
type PendingTx struct {
	Amount              Money
	TotalBalance        Money
	AvailableBalance    Money
	FeeAmount           Money
	FeeForFullAvailable Money
	FeeSelection        FeeSelection

	MinLimit *Money
	MaxLimit *Money

	Confirmations []Confirmation
	State         ValidationState

	EngineState any
}

// CanExecute reports whether the transaction passed full validation.
func (tx PendingTx) CanExecute() bool {
	return tx.State == CanExecute
}

// WithAmount returns a copy with a new amount.
func (tx PendingTx) WithAmount(amount Money) PendingTx {
	tx.Amount = amount
	return tx
}

// WithState returns a copy with a new validation state.
func (tx PendingTx) WithState(state ValidationState) PendingTx {
	tx.State = state
	return tx
}

// WithLimits returns a copy with min/max limits replaced.
func (tx PendingTx) WithLimits(min, max *Money) PendingTx {
	tx.MinLimit = min
	tx.MaxLimit = max
	return tx
}

// WithConfirmations returns a copy with the confirmation list replaced.
func (tx PendingTx) WithConfirmations(list []Confirmation) PendingTx {
	tx.Confirmations = list
	return tx
}
