package xlm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stellar/go/strkey"

	"github.com/vietddude/txengine/internal/core/domain"
	"github.com/vietddude/txengine/internal/engine"
	"github.com/vietddude/txengine/internal/engine/metrics"
)

// baseReserveStroops is the minimum balance an account must keep.
const baseReserveStroops = 10_000_000 // 1 XLM

// HorizonService is the Stellar network collaborator.
type HorizonService interface {
	// BaseFee returns the current per-operation fee in stroops.
	BaseFee(ctx context.Context) (domain.Money, error)

	// IsExchangeAddress reports whether the address belongs to a known
	// exchange, which makes a transaction memo mandatory.
	IsExchangeAddress(ctx context.Context, address string) (bool, error)

	Submit(ctx context.Context, payment Payment) (txHash string, err error)

	RefreshBalance(ctx context.Context, account domain.Account) error
}

// Payment is a Stellar payment operation.
type Payment struct {
	ToAddress      string
	Amount         domain.Money
	Fee            domain.Money
	Memo           string
	SecondPassword string
}

type engineContext struct {
	fee          domain.Money
	memoRequired bool
}

// Engine builds and executes XLM payments. Stellar has exactly one fee
// level, so Regular is the only level this engine accepts.
type Engine struct {
	engine.Base

	displayFiat domain.Asset
	horizon     HorizonService
	memo        string
	log         *slog.Logger
}

func NewEngine(displayFiat domain.Asset, horizon HorizonService, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		displayFiat: displayFiat,
		horizon:     horizon,
		log:         log.With("engine", "XLM"),
	}
}

// SetMemo records the user-entered memo text.
func (e *Engine) SetMemo(memo string) {
	e.memo = memo
}

func (e *Engine) Start(source domain.Account, target domain.TransactionTarget, rates engine.RateSource) error {
	if err := e.Bind(source, target, rates); err != nil {
		return err
	}
	if source.Kind() != domain.KindNonCustodial {
		return fmt.Errorf("%w: XLM engine needs a non-custodial source", engine.ErrInvalidInputs)
	}
	if source.TargetAsset() != domain.AssetXLM || target.TargetAsset() != domain.AssetXLM {
		return fmt.Errorf("%w: asset mismatch", engine.ErrInvalidInputs)
	}
	return nil
}

func (e *Engine) InitialiseTx(ctx context.Context) (domain.PendingTx, error) {
	if !e.Started() {
		return domain.PendingTx{}, engine.ErrNotStarted
	}
	balance, err := e.Source.Balance(ctx)
	if err != nil {
		return domain.PendingTx{}, fmt.Errorf("failed to fetch balance: %w", err)
	}

	return domain.PendingTx{
		Amount:              domain.ZeroMoney(domain.AssetXLM),
		TotalBalance:        balance,
		AvailableBalance:    domain.ZeroMoney(domain.AssetXLM),
		FeeAmount:           domain.ZeroMoney(domain.AssetXLM),
		FeeForFullAvailable: domain.ZeroMoney(domain.AssetXLM),
		FeeSelection: domain.FeeSelection{
			Selected:  domain.FeeRegular,
			Available: []domain.FeeLevel{domain.FeeRegular},
			Asset:     domain.AssetXLM,
		},
		State: domain.Uninitialised,
	}, nil
}

func (e *Engine) UpdateAmount(ctx context.Context, amount domain.Money, tx domain.PendingTx) (domain.PendingTx, error) {
	if !e.Started() {
		return tx, engine.ErrNotStarted
	}
	metrics.AmountUpdates.WithLabelValues("XLM").Inc()

	balance, err := e.Source.Balance(ctx)
	if err != nil {
		e.log.Warn("balance fetch failed, degrading", "error", err)
		return e.degrade(tx, amount), nil
	}
	fee, err := e.horizon.BaseFee(ctx)
	if err != nil {
		e.log.Warn("base fee fetch failed, degrading", "error", err)
		return e.degrade(tx, amount), nil
	}

	memoRequired := false
	if addr, err := domain.AddressOf(ctx, e.Target); err == nil {
		if required, err := e.horizon.IsExchangeAddress(ctx, addr); err == nil {
			memoRequired = required
		}
	}

	reserve := domain.MoneyFromMinor(domain.AssetXLM, baseReserveStroops)

	tx = tx.WithAmount(amount)
	tx.TotalBalance = balance
	tx.AvailableBalance = balance.Sub(reserve).Sub(fee).ClampZero()
	tx.FeeAmount = fee
	tx.FeeForFullAvailable = fee
	tx.EngineState = &engineContext{fee: fee, memoRequired: memoRequired}
	tx.State = domain.Uninitialised
	return tx, nil
}

// UpdateFeeLevel rejects everything but Regular: the network has a single
// fee level, so asking for another one is a programming error.
func (e *Engine) UpdateFeeLevel(ctx context.Context, tx domain.PendingTx, level domain.FeeLevel, customRate int64) (domain.PendingTx, error) {
	if level != domain.FeeRegular {
		return tx, fmt.Errorf("%w: %s on XLM", engine.ErrUnsupportedFeeLevel, level)
	}
	return e.UpdateAmount(ctx, tx.Amount, tx)
}

func (e *Engine) ValidateAmount(ctx context.Context, tx domain.PendingTx) (domain.PendingTx, error) {
	state := e.validateAmount(tx)
	if state != domain.CanExecute {
		metrics.ValidationFailures.WithLabelValues(string(state)).Inc()
	}
	return tx.WithState(state), nil
}

func (e *Engine) validateAmount(tx domain.PendingTx) domain.ValidationState {
	if !tx.Amount.IsPositive() {
		return domain.InvalidAmount
	}
	if tx.Amount.Cmp(tx.AvailableBalance) > 0 {
		return domain.InsufficientFunds
	}
	return engine.CheckLimits(tx)
}

func (e *Engine) ValidateAll(ctx context.Context, tx domain.PendingTx) (domain.PendingTx, error) {
	tx, err := e.ValidateAmount(ctx, tx)
	if err != nil || tx.State != domain.CanExecute {
		return tx, err
	}

	addr, err := domain.AddressOf(ctx, e.Target)
	if err != nil {
		return tx, fmt.Errorf("failed to resolve target address: %w", err)
	}
	if !strkey.IsValidEd25519PublicKey(addr) {
		metrics.ValidationFailures.WithLabelValues(string(domain.InvalidAddress)).Inc()
		return tx.WithState(domain.InvalidAddress), nil
	}
	if ectx, ok := tx.EngineState.(*engineContext); ok && ectx.memoRequired && e.memo == "" {
		metrics.ValidationFailures.WithLabelValues(string(domain.OptionInvalid)).Inc()
		return tx.WithState(domain.OptionInvalid), nil
	}
	return tx, nil
}

func (e *Engine) BuildConfirmations(ctx context.Context, tx domain.PendingTx) (domain.PendingTx, error) {
	return tx.WithConfirmations(e.confirmations(ctx, tx, nil)), nil
}

func (e *Engine) RefreshConfirmations(ctx context.Context, tx domain.PendingTx) (domain.PendingTx, error) {
	return tx.WithConfirmations(e.confirmations(ctx, tx, tx.Confirmations)), nil
}

func (e *Engine) confirmations(ctx context.Context, tx domain.PendingTx, existing []domain.Confirmation) []domain.Confirmation {
	memoRequired := false
	if ectx, ok := tx.EngineState.(*engineContext); ok {
		memoRequired = ectx.memoRequired
	}

	list := existing
	for _, c := range []domain.Confirmation{
		{Kind: domain.ConfirmFrom, Label: "From", Value: e.Source.Label()},
		{Kind: domain.ConfirmTo, Label: "To", Value: e.Target.Label()},
		{Kind: domain.ConfirmAmount, Label: "Amount", Value: tx.Amount.String()},
		{Kind: domain.ConfirmNetworkFee, Label: "Network fee", Value: tx.FeeAmount.String()},
		{Kind: domain.ConfirmTotal, Label: "Total", Value: tx.Amount.Add(tx.FeeAmount).String()},
		{Kind: domain.ConfirmMemo, Label: "Memo", Value: e.memo, Required: memoRequired},
	} {
		list = domain.ReplaceConfirmation(list, c)
	}
	return list
}

func (e *Engine) Execute(ctx context.Context, tx domain.PendingTx, secondPassword string) (domain.TxResult, error) {
	if !tx.CanExecute() {
		return nil, fmt.Errorf("%w: state %s", engine.ErrNotExecutable, tx.State)
	}
	ectx, ok := tx.EngineState.(*engineContext)
	if !ok {
		return nil, fmt.Errorf("%w: missing fee context", engine.ErrNotExecutable)
	}
	addr, err := domain.AddressOf(ctx, e.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target address: %w", err)
	}

	hash, err := e.horizon.Submit(ctx, Payment{
		ToAddress:      addr,
		Amount:         tx.Amount,
		Fee:            ectx.fee,
		Memo:           e.memo,
		SecondPassword: secondPassword,
	})
	if err != nil {
		metrics.ExecutesTotal.WithLabelValues("XLM", "error").Inc()
		return nil, fmt.Errorf("payment submission failed: %w", err)
	}
	metrics.ExecutesTotal.WithLabelValues("XLM", "ok").Inc()
	return domain.HashedResult{TxHash: hash, Amount: tx.Amount}, nil
}

func (e *Engine) PostExecute(ctx context.Context, result domain.TxResult) error {
	return e.horizon.RefreshBalance(ctx, e.Source)
}

func (e *Engine) degrade(tx domain.PendingTx, amount domain.Money) domain.PendingTx {
	tx = tx.WithAmount(amount)
	tx.AvailableBalance = domain.ZeroMoney(domain.AssetXLM)
	tx.FeeAmount = domain.ZeroMoney(domain.AssetXLM)
	tx.FeeForFullAvailable = domain.ZeroMoney(domain.AssetXLM)
	tx.EngineState = nil
	return tx.WithState(domain.InsufficientFunds)
}
