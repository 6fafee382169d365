package domain

// ValidationState is the outcome of validating a pending transaction.
// Exactly one state holds at a time; only CanExecute permits execution.
// Validation outcomes are values carried on the PendingTx, never errors.
type ValidationState string

const (
	Uninitialised       ValidationState = "uninitialised"
	CanExecute          ValidationState = "can_execute"
	InvalidAmount       ValidationState = "invalid_amount"
	InsufficientFunds   ValidationState = "insufficient_funds"
	InsufficientGas     ValidationState = "insufficient_gas"
	InvalidAddress      ValidationState = "invalid_address"
	AddressIsContract   ValidationState = "address_is_contract"
	UnderMinLimit       ValidationState = "under_min_limit"
	OverMaxLimit        ValidationState = "over_max_limit"
	OverSilverTierLimit ValidationState = "over_silver_tier_limit"
	OverGoldTierLimit   ValidationState = "over_gold_tier_limit"
	HasTxInFlight       ValidationState = "has_tx_in_flight"
	OptionInvalid       ValidationState = "option_invalid"
)

func (v ValidationState) String() string {
	return string(v)
}
