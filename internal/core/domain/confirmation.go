package domain

// ConfirmationKind identifies a confirmation slot. A slot appears at most
// once per transaction; refreshing updates the slot's value in place.
type ConfirmationKind string

const (
	ConfirmFrom         ConfirmationKind = "from"
	ConfirmTo           ConfirmationKind = "to"
	ConfirmAmount       ConfirmationKind = "amount"
	ConfirmNetworkFee   ConfirmationKind = "network_fee"
	ConfirmExchangeRate ConfirmationKind = "exchange_rate"
	ConfirmTotal        ConfirmationKind = "total"
	ConfirmMemo         ConfirmationKind = "memo"
)

// Confirmation is one user-facing line item on the confirmation screen.
type Confirmation struct {
	Kind     ConfirmationKind
	Label    string
	Value    string
	Required bool
}

// ReplaceConfirmation updates the slot with the same kind, preserving slot
// order. If the slot does not exist yet it is appended. The input slice is
// not mutated.
func ReplaceConfirmation(list []Confirmation, c Confirmation) []Confirmation {
	out := make([]Confirmation, len(list))
	copy(out, list)
	for i := range out {
		if out[i].Kind == c.Kind {
			out[i] = c
			return out
		}
	}
	return append(out, c)
}
