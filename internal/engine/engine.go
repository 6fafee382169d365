package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/txengine/internal/core/domain"
)

var (
	// ErrInvalidInputs means Start was given an account/target combination
	// the engine cannot serve. This is a contract violation, not a
	// recoverable failure.
	ErrInvalidInputs = errors.New("engine inputs violate the contract")

	// ErrUnsupportedFeeLevel means a fee level was requested that the
	// network does not offer. Contract violation.
	ErrUnsupportedFeeLevel = errors.New("fee level not supported by this engine")

	// ErrNotExecutable means Execute was called on a transaction that has
	// not validated to CanExecute. Contract violation.
	ErrNotExecutable = errors.New("pending transaction is not executable")

	// ErrNotStarted means an operation ran before Start bound the engine.
	ErrNotStarted = errors.New("engine not started")
)

// Action is what the user is trying to do with the source account.
type Action string

const (
	ActionSend    Action = "send"
	ActionSwap    Action = "swap"
	ActionSell    Action = "sell"
	ActionDeposit Action = "deposit"
)

// RateSource looks up the last traded price for an asset pair. Used for
// display conversion and for converting fiat limits into asset bounds.
type RateSource interface {
	LastPrice(ctx context.Context, asset, fiat domain.Asset) (domain.ExchangeRate, error)
}

// Engine drives one transaction flow through its state machine:
// Start -> InitialiseTx -> UpdateAmount* -> Validate* -> BuildConfirmations
// -> Execute -> PostExecute. Every step takes the current PendingTx and
// returns the next one; the caller owns the single live copy.
type Engine interface {
	// Start binds the source and target and asserts they are compatible
	// with this engine. Must run before any other call; calling it again
	// rebinds the participants.
	Start(source domain.Account, target domain.TransactionTarget, rates RateSource) error

	// InitialiseTx builds the zero-amount starting transaction, including
	// the initial limits fetch on custodial paths.
	InitialiseTx(ctx context.Context) (domain.PendingTx, error)

	// UpdateAmount recomputes fees and availability for a new amount.
	// Idempotent for the same amount and external balances.
	UpdateAmount(ctx context.Context, amount domain.Money, tx domain.PendingTx) (domain.PendingTx, error)

	// UpdateFeeLevel re-derives fee and availability for a new fee level.
	// Unsupported levels are a contract violation.
	UpdateFeeLevel(ctx context.Context, tx domain.PendingTx, level domain.FeeLevel, customRate int64) (domain.PendingTx, error)

	// ValidateAmount checks amount bounds and fund sufficiency, then
	// limits. Funds failures short-circuit limit checks.
	ValidateAmount(ctx context.Context, tx domain.PendingTx) (domain.PendingTx, error)

	// ValidateAll runs every check, ending in CanExecute or a failure state.
	ValidateAll(ctx context.Context, tx domain.PendingTx) (domain.PendingTx, error)

	// BuildConfirmations produces the user-facing line items.
	BuildConfirmations(ctx context.Context, tx domain.PendingTx) (domain.PendingTx, error)

	// RefreshConfirmations updates confirmation values in place without
	// changing slot count or order.
	RefreshConfirmations(ctx context.Context, tx domain.PendingTx) (domain.PendingTx, error)

	// Execute performs the side-effecting submission.
	Execute(ctx context.Context, tx domain.PendingTx, secondPassword string) (domain.TxResult, error)

	// PostExecute does best-effort bookkeeping; its errors never fail the
	// transaction.
	PostExecute(ctx context.Context, result domain.TxResult) error

	// Stop cancels background work (quote polling) and releases resources.
	Stop()
}

// Base carries the bound accounts and rate source shared by all engines.
type Base struct {
	Source domain.Account
	Target domain.TransactionTarget
	Rates  RateSource
}

// Bind stores the flow participants after nil-checking them.
func (b *Base) Bind(source domain.Account, target domain.TransactionTarget, rates RateSource) error {
	if source == nil || target == nil {
		return fmt.Errorf("%w: nil source or target", ErrInvalidInputs)
	}
	if rates == nil {
		return fmt.Errorf("%w: nil rate source", ErrInvalidInputs)
	}
	b.Source = source
	b.Target = target
	b.Rates = rates
	return nil
}

// Started reports whether Bind has run.
func (b *Base) Started() bool {
	return b.Source != nil
}

// Stop is a no-op for engines without background work.
func (b *Base) Stop() {}

// CheckLimits applies the min/max bounds cached on the transaction.
// Returns CanExecute when no bound is violated.
func CheckLimits(tx domain.PendingTx) domain.ValidationState {
	if tx.MinLimit != nil && tx.Amount.Cmp(*tx.MinLimit) < 0 {
		return domain.UnderMinLimit
	}
	if tx.MaxLimit != nil && tx.Amount.Cmp(*tx.MaxLimit) > 0 {
		return domain.OverMaxLimit
	}
	return domain.CanExecute
}
