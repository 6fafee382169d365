package btc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/txengine/internal/core/domain"
	"github.com/vietddude/txengine/internal/engine"
	"github.com/vietddude/txengine/internal/engine/metrics"
)

// ErrUnspentMismatch is returned when an address reports a positive balance
// but the unspent provider returns zero outputs. This is a data
// inconsistency between collaborators and must fail loudly instead of
// rendering a zero available balance.
var ErrUnspentMismatch = errors.New("positive balance with no unspent outputs")

const (
	// DustThreshold is the minimum spendable output in satoshis.
	DustThreshold = 546

	// maxNetworkSat is the 21M coin supply cap in satoshis.
	maxNetworkSat = 21_000_000 * 100_000_000
)

// UnspentProvider fetches the spendable outputs backing an account.
type UnspentProvider interface {
	UnspentOutputs(ctx context.Context, account domain.Account) ([]UTXO, error)
}

// FeeOptions are the dynamic network fee rates per kilobyte.
type FeeOptions struct {
	Regular  domain.Money
	Priority domain.Money
}

// FeeService fetches current fee rates for the network.
type FeeService interface {
	FeeOptions(ctx context.Context) (FeeOptions, error)
}

// SigningKey is an opaque decrypted key handle produced by the wallet layer.
type SigningKey struct {
	Raw []byte
}

// Payment is a fully assembled spend handed to the submission collaborator.
type Payment struct {
	Inputs        []UTXO
	ToAddress     string
	ChangeAddress string
	Amount        domain.Money
	Fee           domain.Money
	Keys          []SigningKey
}

// PaymentService owns addresses, keys and broadcast for one account. The
// engine treats signing and relay as black boxes behind this interface.
type PaymentService interface {
	ChangeAddress(ctx context.Context, account domain.Account) (string, error)

	// SigningKeys decrypts the keys spending the given outputs. The second
	// password is required for double-encrypted wallets and ignored
	// otherwise.
	SigningKeys(ctx context.Context, account domain.Account, secondPassword string, inputs []UTXO) ([]SigningKey, error)

	Submit(ctx context.Context, payment Payment) (txHash string, err error)

	// IncrementAddressIndices bumps the receive/change chain indices after
	// a successful spend.
	IncrementAddressIndices(ctx context.Context, account domain.Account) error

	// AdjustCachedBalance applies a local delta so the UI reflects the
	// spend before the next full refresh.
	AdjustCachedBalance(ctx context.Context, account domain.Account, delta domain.Money) error

	// RefreshBalance forces a full balance re-fetch.
	RefreshBalance(ctx context.Context, account domain.Account) error
}

// engineContext is the engine-private state carried on the PendingTx
// between UpdateAmount and Execute.
type engineContext struct {
	selection Selection
	selected  bool
	feePerKB  domain.Money
	utxos     []UTXO
}

// Engine builds and executes direct on-chain payments for the BTC/BCH
// UTXO family.
type Engine struct {
	engine.Base

	asset       domain.Asset
	displayFiat domain.Asset
	unspent     UnspentProvider
	fees        FeeService
	payments    PaymentService
	log         *slog.Logger
}

// NewEngine creates a UTXO engine for BTC or BCH.
func NewEngine(
	asset domain.Asset,
	displayFiat domain.Asset,
	unspent UnspentProvider,
	fees FeeService,
	payments PaymentService,
	log *slog.Logger,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		asset:       asset,
		displayFiat: displayFiat,
		unspent:     unspent,
		fees:        fees,
		payments:    payments,
		log:         log.With("engine", string(asset)),
	}
}

// Start binds the accounts and asserts the flow is a same-asset on-chain
// send from a non-custodial account.
func (e *Engine) Start(source domain.Account, target domain.TransactionTarget, rates engine.RateSource) error {
	if err := e.Bind(source, target, rates); err != nil {
		return err
	}
	if source.Kind() != domain.KindNonCustodial {
		return fmt.Errorf("%w: %s engine needs a non-custodial source", engine.ErrInvalidInputs, e.asset)
	}
	if source.TargetAsset() != e.asset || target.TargetAsset() != e.asset {
		return fmt.Errorf("%w: asset mismatch %s -> %s", engine.ErrInvalidInputs,
			source.TargetAsset(), target.TargetAsset())
	}
	return nil
}

// InitialiseTx builds the zero-amount starting transaction.
func (e *Engine) InitialiseTx(ctx context.Context) (domain.PendingTx, error) {
	if !e.Started() {
		return domain.PendingTx{}, engine.ErrNotStarted
	}
	balance, err := e.Source.Balance(ctx)
	if err != nil {
		return domain.PendingTx{}, fmt.Errorf("failed to fetch balance: %w", err)
	}

	return domain.PendingTx{
		Amount:              domain.ZeroMoney(e.asset),
		TotalBalance:        balance,
		AvailableBalance:    domain.ZeroMoney(e.asset),
		FeeAmount:           domain.ZeroMoney(e.asset),
		FeeForFullAvailable: domain.ZeroMoney(e.asset),
		FeeSelection: domain.FeeSelection{
			Selected:  domain.FeeRegular,
			Available: []domain.FeeLevel{domain.FeeRegular, domain.FeePriority, domain.FeeCustom},
			Asset:     e.asset,
		},
		State: domain.Uninitialised,
	}, nil
}

// UpdateAmount re-runs coin selection for the new amount. Transport errors
// from collaborators degrade to an InsufficientFunds transaction so the
// caller always receives something renderable; the balance/unspent
// mismatch is the one condition that fails loudly.
func (e *Engine) UpdateAmount(ctx context.Context, amount domain.Money, tx domain.PendingTx) (domain.PendingTx, error) {
	if !e.Started() {
		return tx, engine.ErrNotStarted
	}
	metrics.AmountUpdates.WithLabelValues(string(e.asset)).Inc()

	balance, err := e.Source.Balance(ctx)
	if err != nil {
		e.log.Warn("balance fetch failed, degrading", "error", err)
		return e.degrade(tx, amount), nil
	}

	utxos, err := e.unspent.UnspentOutputs(ctx, e.Source)
	if err != nil {
		e.log.Warn("unspent fetch failed, degrading", "error", err)
		return e.degrade(tx, amount), nil
	}
	if len(utxos) == 0 && balance.IsPositive() {
		return tx, fmt.Errorf("%w: balance %s", ErrUnspentMismatch, balance)
	}

	feePerKB, optionValid, err := e.feeRate(ctx, tx.FeeSelection)
	if err != nil {
		e.log.Warn("fee fetch failed, degrading", "error", err)
		return e.degrade(tx, amount), nil
	}

	sweepFee := SweepFee(e.asset, utxos, feePerKB)
	available := MaxAvailable(e.asset, utxos, feePerKB)

	ectx := &engineContext{feePerKB: feePerKB, utxos: utxos}
	fee := sweepFee
	if selection, ok := SelectForAmount(e.asset, utxos, amount, feePerKB); ok {
		ectx.selection = selection
		ectx.selected = true
		fee = selection.Fee
	}

	tx = tx.WithAmount(amount)
	tx.TotalBalance = balance
	tx.AvailableBalance = available
	tx.FeeAmount = fee
	tx.FeeForFullAvailable = sweepFee
	tx.EngineState = ectx
	tx.State = domain.Uninitialised
	if !optionValid {
		tx.State = domain.OptionInvalid
	}
	return tx, nil
}

// UpdateFeeLevel re-derives fee and availability at a new fee level.
func (e *Engine) UpdateFeeLevel(ctx context.Context, tx domain.PendingTx, level domain.FeeLevel, customRate int64) (domain.PendingTx, error) {
	if !tx.FeeSelection.Supports(level) {
		return tx, fmt.Errorf("%w: %s on %s", engine.ErrUnsupportedFeeLevel, level, e.asset)
	}
	tx.FeeSelection = tx.FeeSelection.WithLevel(level, customRate)
	return e.UpdateAmount(ctx, tx.Amount, tx)
}

// ValidateAmount checks amount bounds before sufficiency, then limits.
func (e *Engine) ValidateAmount(ctx context.Context, tx domain.PendingTx) (domain.PendingTx, error) {
	state := e.validateAmount(tx)
	if state != domain.CanExecute {
		metrics.ValidationFailures.WithLabelValues(string(state)).Inc()
	}
	return tx.WithState(state), nil
}

func (e *Engine) validateAmount(tx domain.PendingTx) domain.ValidationState {
	if tx.FeeSelection.Selected == domain.FeeCustom && tx.FeeSelection.CustomRate < 1 {
		return domain.OptionInvalid
	}
	dust := domain.MoneyFromMinor(e.asset, DustThreshold)
	if !tx.Amount.IsPositive() || tx.Amount.Cmp(dust) < 0 {
		return domain.InvalidAmount
	}
	if tx.Amount.Cmp(domain.MoneyFromMinor(e.asset, maxNetworkSat)) > 0 {
		return domain.InvalidAmount
	}
	if tx.Amount.Cmp(tx.AvailableBalance) > 0 {
		return domain.InsufficientFunds
	}
	return engine.CheckLimits(tx)
}

// ValidateAll adds the address check on top of amount validation.
func (e *Engine) ValidateAll(ctx context.Context, tx domain.PendingTx) (domain.PendingTx, error) {
	tx, err := e.ValidateAmount(ctx, tx)
	if err != nil || tx.State != domain.CanExecute {
		return tx, err
	}
	addr, err := domain.AddressOf(ctx, e.Target)
	if err != nil {
		return tx, fmt.Errorf("failed to resolve target address: %w", err)
	}
	if !ValidAddress(e.asset, addr) {
		metrics.ValidationFailures.WithLabelValues(string(domain.InvalidAddress)).Inc()
		return tx.WithState(domain.InvalidAddress), nil
	}
	return tx, nil
}

// BuildConfirmations produces the confirmation line items.
func (e *Engine) BuildConfirmations(ctx context.Context, tx domain.PendingTx) (domain.PendingTx, error) {
	return tx.WithConfirmations(e.confirmations(ctx, tx, nil)), nil
}

// RefreshConfirmations recomputes values into the existing slots.
func (e *Engine) RefreshConfirmations(ctx context.Context, tx domain.PendingTx) (domain.PendingTx, error) {
	return tx.WithConfirmations(e.confirmations(ctx, tx, tx.Confirmations)), nil
}

func (e *Engine) confirmations(ctx context.Context, tx domain.PendingTx, existing []domain.Confirmation) []domain.Confirmation {
	list := existing
	for _, c := range []domain.Confirmation{
		{Kind: domain.ConfirmFrom, Label: "From", Value: e.Source.Label()},
		{Kind: domain.ConfirmTo, Label: "To", Value: e.Target.Label()},
		{Kind: domain.ConfirmAmount, Label: "Amount", Value: tx.Amount.String()},
		{Kind: domain.ConfirmNetworkFee, Label: "Network fee", Value: tx.FeeAmount.String()},
		{Kind: domain.ConfirmTotal, Label: "Total", Value: tx.Amount.Add(tx.FeeAmount).String()},
	} {
		list = domain.ReplaceConfirmation(list, c)
	}
	if rate, err := e.Rates.LastPrice(ctx, e.asset, e.displayFiat); err == nil {
		if fiat, err := rate.Convert(tx.Amount, domain.RoundHalfUp); err == nil {
			list = domain.ReplaceConfirmation(list, domain.Confirmation{
				Kind: domain.ConfirmExchangeRate, Label: "Value", Value: fiat.String(),
			})
		}
	}
	return list
}

// Execute signs and submits the selected bundle, then bumps address indices
// and locally decrements the cached balance.
func (e *Engine) Execute(ctx context.Context, tx domain.PendingTx, secondPassword string) (domain.TxResult, error) {
	if !tx.CanExecute() {
		return nil, fmt.Errorf("%w: state %s", engine.ErrNotExecutable, tx.State)
	}
	ectx, ok := tx.EngineState.(*engineContext)
	if !ok || !ectx.selected {
		return nil, fmt.Errorf("%w: no coin selection on transaction", engine.ErrNotExecutable)
	}

	toAddr, err := domain.AddressOf(ctx, e.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target address: %w", err)
	}
	changeAddr, err := e.payments.ChangeAddress(ctx, e.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve change address: %w", err)
	}
	keys, err := e.payments.SigningKeys(ctx, e.Source, secondPassword, ectx.selection.Inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve signing keys: %w", err)
	}

	hash, err := e.payments.Submit(ctx, Payment{
		Inputs:        ectx.selection.Inputs,
		ToAddress:     toAddr,
		ChangeAddress: changeAddr,
		Amount:        tx.Amount,
		Fee:           ectx.selection.Fee,
		Keys:          keys,
	})
	if err != nil {
		metrics.ExecutesTotal.WithLabelValues(string(e.asset), "error").Inc()
		return nil, fmt.Errorf("payment submission failed: %w", err)
	}
	metrics.ExecutesTotal.WithLabelValues(string(e.asset), "ok").Inc()

	if err := e.payments.IncrementAddressIndices(ctx, e.Source); err != nil {
		e.log.Warn("failed to bump address indices", "error", err)
	}
	spent := tx.Amount.Add(ectx.selection.Fee)
	if err := e.payments.AdjustCachedBalance(ctx, e.Source, spent.Neg()); err != nil {
		e.log.Warn("failed to adjust cached balance", "error", err)
	}

	return domain.HashedResult{TxHash: hash, Amount: tx.Amount}, nil
}

// PostExecute forces a balance refresh. Best effort only.
func (e *Engine) PostExecute(ctx context.Context, result domain.TxResult) error {
	return e.payments.RefreshBalance(ctx, e.Source)
}

// degrade produces a renderable InsufficientFunds transaction after a
// collaborator failure.
func (e *Engine) degrade(tx domain.PendingTx, amount domain.Money) domain.PendingTx {
	tx = tx.WithAmount(amount)
	tx.AvailableBalance = domain.ZeroMoney(e.asset)
	tx.FeeAmount = domain.ZeroMoney(e.asset)
	tx.FeeForFullAvailable = domain.ZeroMoney(e.asset)
	tx.EngineState = nil
	return tx.WithState(domain.InsufficientFunds)
}

// feeRate resolves the per-kilobyte rate for the selected level. The bool
// reports whether a custom rate was acceptable.
func (e *Engine) feeRate(ctx context.Context, sel domain.FeeSelection) (domain.Money, bool, error) {
	if sel.Selected == domain.FeeCustom {
		if sel.CustomRate < 1 {
			return domain.ZeroMoney(e.asset), false, nil
		}
		// Custom rates are entered in sat/byte.
		return domain.MoneyFromMinor(e.asset, sel.CustomRate*1000), true, nil
	}

	opts, err := e.fees.FeeOptions(ctx)
	if err != nil {
		return domain.Money{}, false, err
	}
	switch sel.Selected {
	case domain.FeePriority:
		return opts.Priority, true, nil
	default:
		return opts.Regular, true, nil
	}
}
