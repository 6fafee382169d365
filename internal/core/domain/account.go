package domain

import "context"

// AccountKind distinguishes account implementations the engine can draw
// from or pay into.
type AccountKind string

const (
	KindNonCustodial AccountKind = "non_custodial"
	KindCustodial    AccountKind = "custodial"
	KindFiat         AccountKind = "fiat"
)

// TransactionTarget is anything a transaction can pay into: another
// account, or a bare on-chain address.
type TransactionTarget interface {
	TargetAsset() Asset
	Label() string
}

// Account is the source side of a flow. The engine borrows accounts for the
// duration of a flow and never owns their lifetime; balances and addresses
// are fetched through the account, not cached by the engine.
type Account interface {
	TransactionTarget

	Kind() AccountKind

	// Balance returns the account's spendable balance.
	Balance(ctx context.Context) (Money, error)

	// ReceiveAddress returns the next receive address. For custodial and
	// fiat accounts this may be empty.
	ReceiveAddress(ctx context.Context) (string, error)
}

// AddressTarget is an address-only destination with no backing account.
type AddressTarget struct {
	Asset   Asset
	Address string
	Name    string
}

func (t AddressTarget) TargetAsset() Asset { return t.Asset }

func (t AddressTarget) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Address
}

// AddressOf extracts the on-chain address from a target, if it has one.
// Accounts resolve their receive address; bare targets return it directly.
func AddressOf(ctx context.Context, target TransactionTarget) (string, error) {
	switch t := target.(type) {
	case AddressTarget:
		return t.Address, nil
	case Account:
		return t.ReceiveAddress(ctx)
	default:
		return "", nil
	}
}
