package eth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/txengine/internal/core/domain"
	"github.com/vietddude/txengine/internal/engine"
	"github.com/vietddude/txengine/internal/engine/metrics"
)

// gasLimitTransfer is the fixed gas cost of a native value transfer.
const gasLimitTransfer = 21_000

// NodeService is the account-model chain collaborator: gas pricing,
// contract detection, pending-tx awareness and submission.
type NodeService interface {
	// GasPrice returns the wei-per-gas price for a fee level.
	GasPrice(ctx context.Context, level domain.FeeLevel) (domain.Money, error)

	// IsContract reports whether the address has code deployed.
	IsContract(ctx context.Context, address string) (bool, error)

	// HasPendingTx reports whether the account already has an unconfirmed
	// transaction in flight.
	HasPendingTx(ctx context.Context, account domain.Account) (bool, error)

	Submit(ctx context.Context, payment Payment) (txHash string, err error)

	RefreshBalance(ctx context.Context, account domain.Account) error
}

// Payment is a native transfer handed to the node for signing/broadcast.
type Payment struct {
	ToAddress      string
	Amount         domain.Money
	GasPrice       domain.Money
	GasLimit       uint64
	SecondPassword string
}

type engineContext struct {
	gasPrice domain.Money
}

// Engine builds and executes native ETH transfers.
type Engine struct {
	engine.Base

	displayFiat domain.Asset
	node        NodeService
	log         *slog.Logger
}

func NewEngine(displayFiat domain.Asset, node NodeService, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		displayFiat: displayFiat,
		node:        node,
		log:         log.With("engine", "ETH"),
	}
}

func (e *Engine) Start(source domain.Account, target domain.TransactionTarget, rates engine.RateSource) error {
	if err := e.Bind(source, target, rates); err != nil {
		return err
	}
	if source.Kind() != domain.KindNonCustodial {
		return fmt.Errorf("%w: ETH engine needs a non-custodial source", engine.ErrInvalidInputs)
	}
	if source.TargetAsset() != domain.AssetETH || target.TargetAsset() != domain.AssetETH {
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
		Amount:              domain.ZeroMoney(domain.AssetETH),
		TotalBalance:        balance,
		AvailableBalance:    domain.ZeroMoney(domain.AssetETH),
		FeeAmount:           domain.ZeroMoney(domain.AssetETH),
		FeeForFullAvailable: domain.ZeroMoney(domain.AssetETH),
		FeeSelection: domain.FeeSelection{
			Selected:  domain.FeeRegular,
			Available: []domain.FeeLevel{domain.FeeRegular, domain.FeePriority},
			Asset:     domain.AssetETH,
		},
		State: domain.Uninitialised,
	}, nil
}

func (e *Engine) UpdateAmount(ctx context.Context, amount domain.Money, tx domain.PendingTx) (domain.PendingTx, error) {
	if !e.Started() {
		return tx, engine.ErrNotStarted
	}
	metrics.AmountUpdates.WithLabelValues("ETH").Inc()

	balance, err := e.Source.Balance(ctx)
	if err != nil {
		e.log.Warn("balance fetch failed, degrading", "error", err)
		return e.degrade(tx, amount), nil
	}
	gasPrice, err := e.node.GasPrice(ctx, tx.FeeSelection.Selected)
	if err != nil {
		e.log.Warn("gas price fetch failed, degrading", "error", err)
		return e.degrade(tx, amount), nil
	}

	fee := gasPrice.MulInt(gasLimitTransfer)

	tx = tx.WithAmount(amount)
	tx.TotalBalance = balance
	tx.AvailableBalance = balance.Sub(fee).ClampZero()
	tx.FeeAmount = fee
	tx.FeeForFullAvailable = fee
	tx.EngineState = &engineContext{gasPrice: gasPrice}
	tx.State = domain.Uninitialised
	return tx, nil
}

func (e *Engine) UpdateFeeLevel(ctx context.Context, tx domain.PendingTx, level domain.FeeLevel, customRate int64) (domain.PendingTx, error) {
	if !tx.FeeSelection.Supports(level) {
		return tx, fmt.Errorf("%w: %s on ETH", engine.ErrUnsupportedFeeLevel, level)
	}
	tx.FeeSelection = tx.FeeSelection.WithLevel(level, customRate)
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
	// The account can hold the amount but not the gas on top of it.
	if tx.FeeAmount.Cmp(tx.TotalBalance) > 0 ||
		(tx.Amount.Cmp(tx.TotalBalance) <= 0 && tx.Amount.Cmp(tx.AvailableBalance) > 0) {
		return domain.InsufficientGas
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
	if !common.IsHexAddress(addr) {
		metrics.ValidationFailures.WithLabelValues(string(domain.InvalidAddress)).Inc()
		return tx.WithState(domain.InvalidAddress), nil
	}
	if isContract, err := e.node.IsContract(ctx, addr); err == nil && isContract {
		metrics.ValidationFailures.WithLabelValues(string(domain.AddressIsContract)).Inc()
		return tx.WithState(domain.AddressIsContract), nil
	}
	if pending, err := e.node.HasPendingTx(ctx, e.Source); err == nil && pending {
		metrics.ValidationFailures.WithLabelValues(string(domain.HasTxInFlight)).Inc()
		return tx.WithState(domain.HasTxInFlight), nil
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
	if rate, err := e.Rates.LastPrice(ctx, domain.AssetETH, e.displayFiat); err == nil {
		if fiat, err := rate.Convert(tx.Amount, domain.RoundHalfUp); err == nil {
			list = domain.ReplaceConfirmation(list, domain.Confirmation{
				Kind: domain.ConfirmExchangeRate, Label: "Value", Value: fiat.String(),
			})
		}
	}
	return list
}

func (e *Engine) Execute(ctx context.Context, tx domain.PendingTx, secondPassword string) (domain.TxResult, error) {
	if !tx.CanExecute() {
		return nil, fmt.Errorf("%w: state %s", engine.ErrNotExecutable, tx.State)
	}
	ectx, ok := tx.EngineState.(*engineContext)
	if !ok {
		return nil, fmt.Errorf("%w: missing gas context", engine.ErrNotExecutable)
	}
	addr, err := domain.AddressOf(ctx, e.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target address: %w", err)
	}

	hash, err := e.node.Submit(ctx, Payment{
		ToAddress:      addr,
		Amount:         tx.Amount,
		GasPrice:       ectx.gasPrice,
		GasLimit:       gasLimitTransfer,
		SecondPassword: secondPassword,
	})
	if err != nil {
		metrics.ExecutesTotal.WithLabelValues("ETH", "error").Inc()
		return nil, fmt.Errorf("payment submission failed: %w", err)
	}
	metrics.ExecutesTotal.WithLabelValues("ETH", "ok").Inc()
	return domain.HashedResult{TxHash: hash, Amount: tx.Amount}, nil
}

func (e *Engine) PostExecute(ctx context.Context, result domain.TxResult) error {
	return e.node.RefreshBalance(ctx, e.Source)
}

func (e *Engine) degrade(tx domain.PendingTx, amount domain.Money) domain.PendingTx {
	tx = tx.WithAmount(amount)
	tx.AvailableBalance = domain.ZeroMoney(domain.AssetETH)
	tx.FeeAmount = domain.ZeroMoney(domain.AssetETH)
	tx.FeeForFullAvailable = domain.ZeroMoney(domain.AssetETH)
	tx.EngineState = nil
	return tx.WithState(domain.InsufficientFunds)
}
