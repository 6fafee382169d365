package trade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/txengine/internal/core/domain"
	"github.com/vietddude/txengine/internal/engine"
	"github.com/vietddude/txengine/internal/engine/metrics"
)

// Order is a custodial order minted by the exchange. DepositAddress is set
// for user-key directions and receives the on-chain deposit payment.
type Order struct {
	ID             string
	State          string
	Amount         domain.Money
	DepositAddress string
}

// OrderRequest carries everything order creation needs. Refund and
// destination addresses are only set for the directions that need them.
type OrderRequest struct {
	Direction          domain.TransferDirection
	QuoteID            string
	Volume             domain.Money
	RefundAddress      string
	DestinationAddress string
}

// CustodialClient creates orders and refreshes custodial balances.
type CustodialClient interface {
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	RefreshBalances(ctx context.Context) error
}

// Config selects the composite variant. Direction decides whether an
// on-chain engine is wrapped and which addresses order creation carries.
type Config struct {
	Action        engine.Action
	Direction     domain.TransferDirection
	Fiat          domain.Asset
	QuoteInterval time.Duration
}

// Engine is the swap/sell composite. One struct covers all three transfer
// directions: custodial-to-custodial holds no wrapped engine, the user-key
// directions wrap a plain on-chain engine and layer quote and limit
// awareness on top of it.
type Engine struct {
	engine.Base

	cfg       Config
	onchain   engine.Engine
	quotes    *QuoteEngine
	provider  QuoteProvider
	custodial CustodialClient
	tiersSvc  TierService
	limitsSvc LimitsService
	log       *slog.Logger

	tiers    domain.KycTiers
	assetMin domain.Money // API minimum converted into the source asset
	assetMax domain.Money
	bounded  bool

	depositResult domain.TxResult
}

// NewEngine builds a trade composite. onchain must be non-nil exactly for
// the FROM_USERKEY and ON_CHAIN directions.
func NewEngine(
	cfg Config,
	onchain engine.Engine,
	provider QuoteProvider,
	custodial CustodialClient,
	tiers TierService,
	limits LimitsService,
	log *slog.Logger,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		onchain:   onchain,
		provider:  provider,
		custodial: custodial,
		tiersSvc:  tiers,
		limitsSvc: limits,
		log:       log.With("engine", string(cfg.Action), "direction", string(cfg.Direction)),
	}
}

func (e *Engine) Start(source domain.Account, target domain.TransactionTarget, rates engine.RateSource) error {
	if err := e.Bind(source, target, rates); err != nil {
		return err
	}

	wantsOnChain := e.cfg.Direction.RequiresRefundAddress()
	if wantsOnChain && e.onchain == nil {
		return fmt.Errorf("%w: direction %s needs a wrapped on-chain engine", engine.ErrInvalidInputs, e.cfg.Direction)
	}
	if !wantsOnChain && e.onchain != nil {
		return fmt.Errorf("%w: direction %s must not wrap an on-chain engine", engine.ErrInvalidInputs, e.cfg.Direction)
	}
	if wantsOnChain && source.Kind() != domain.KindNonCustodial {
		return fmt.Errorf("%w: direction %s needs a non-custodial source", engine.ErrInvalidInputs, e.cfg.Direction)
	}
	if !wantsOnChain && source.Kind() != domain.KindCustodial {
		return fmt.Errorf("%w: direction %s needs a custodial source", engine.ErrInvalidInputs, e.cfg.Direction)
	}
	if e.cfg.Action == engine.ActionSell && !target.TargetAsset().IsFiat() {
		return fmt.Errorf("%w: sell target must be fiat", engine.ErrInvalidInputs)
	}
	if e.cfg.Action == engine.ActionSwap && target.TargetAsset().IsFiat() {
		return fmt.Errorf("%w: swap target must be crypto", engine.ErrInvalidInputs)
	}

	if e.onchain != nil {
		// The wrapped engine moves funds on the source chain. It is started
		// against the source on both sides and rebound to the order's
		// deposit address before the deposit payment is executed.
		if err := e.onchain.Start(source, source, rates); err != nil {
			return fmt.Errorf("failed to start wrapped engine: %w", err)
		}
	}

	e.quotes = NewQuoteEngine(
		e.provider,
		e.cfg.Direction,
		QuotePair{From: source.TargetAsset(), To: target.TargetAsset()},
		e.cfg.QuoteInterval,
		e.log,
	)
	return nil
}

// InitialiseTx builds the starting transaction, fetches the first quote
// and resolves the user's tier limits into asset bounds.
func (e *Engine) InitialiseTx(ctx context.Context) (domain.PendingTx, error) {
	if !e.Started() {
		return domain.PendingTx{}, engine.ErrNotStarted
	}

	var tx domain.PendingTx
	var err error
	if e.onchain != nil {
		tx, err = e.onchain.InitialiseTx(ctx)
	} else {
		tx, err = e.initialiseCustodial(ctx)
	}
	if err != nil {
		return domain.PendingTx{}, err
	}

	quote, err := e.quotes.Start(ctx, domain.ZeroMoney(e.Source.TargetAsset()))
	if err != nil {
		return domain.PendingTx{}, fmt.Errorf("failed to fetch initial quote: %w", err)
	}

	if err := e.fetchLimits(ctx); err != nil {
		return domain.PendingTx{}, err
	}
	return e.applyLimits(tx, quote)
}

func (e *Engine) initialiseCustodial(ctx context.Context) (domain.PendingTx, error) {
	balance, err := e.Source.Balance(ctx)
	if err != nil {
		return domain.PendingTx{}, fmt.Errorf("failed to fetch custodial balance: %w", err)
	}
	asset := e.Source.TargetAsset()
	return domain.PendingTx{
		Amount:              domain.ZeroMoney(asset),
		TotalBalance:        balance,
		AvailableBalance:    balance,
		FeeAmount:           domain.ZeroMoney(asset),
		FeeForFullAvailable: domain.ZeroMoney(asset),
		FeeSelection: domain.FeeSelection{
			Selected:  domain.FeeNone,
			Available: []domain.FeeLevel{domain.FeeNone},
			Asset:     asset,
		},
		State: domain.Uninitialised,
	}, nil
}

// fetchLimits resolves the tier and converts the fiat bounds into the
// source asset (ceiling on min, floor on max).
func (e *Engine) fetchLimits(ctx context.Context) error {
	tiers, err := e.tiersSvc.Tiers(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch kyc tiers: %w", err)
	}
	e.tiers = tiers

	// Unverified users trade only under simplified due diligence.
	if tiers.Current < domain.TierSilver && !tiers.IsApproved(domain.TierSilver) {
		eligible, err := e.tiersSvc.IsSDDEligible(ctx)
		if err != nil {
			return fmt.Errorf("failed to check sdd eligibility: %w", err)
		}
		if !eligible {
			return ErrTradingNotAllowed
		}
	}

	limits, err := e.limitsSvc.SwapLimits(ctx, e.cfg.Fiat)
	if err != nil {
		return fmt.Errorf("failed to fetch transfer limits: %w", err)
	}

	asset := e.Source.TargetAsset()
	rate, err := e.Rates.LastPrice(ctx, asset, e.cfg.Fiat)
	if err != nil {
		return fmt.Errorf("failed to fetch %s/%s rate: %w", asset, e.cfg.Fiat, err)
	}

	min, max, err := ConvertLimits(limits, rate.Inverse())
	if err != nil {
		return err
	}
	e.assetMin = min
	e.assetMax = max
	e.bounded = true
	return nil
}

// applyLimits caches the bounds on the transaction, raising the swap
// minimum by the quoted network fee.
func (e *Engine) applyLimits(tx domain.PendingTx, quote domain.Quote) (domain.PendingTx, error) {
	if !e.bounded {
		return tx, nil
	}
	min := e.assetMin
	if e.cfg.Action == engine.ActionSwap {
		raised, err := SwapMinimum(e.assetMin, quote)
		if err != nil {
			return tx, err
		}
		min = raised
	}
	max := e.assetMax
	return tx.WithLimits(&min, &max), nil
}

func (e *Engine) UpdateAmount(ctx context.Context, amount domain.Money, tx domain.PendingTx) (domain.PendingTx, error) {
	if !e.Started() {
		return tx, engine.ErrNotStarted
	}

	var err error
	if e.onchain != nil {
		tx, err = e.onchain.UpdateAmount(ctx, amount, tx)
		if err != nil {
			return tx, err
		}
	} else {
		balance, berr := e.Source.Balance(ctx)
		if berr != nil {
			e.log.Warn("custodial balance fetch failed, degrading", "error", berr)
			tx = tx.WithAmount(amount).WithState(domain.InsufficientFunds)
			return tx, nil
		}
		tx = tx.WithAmount(amount)
		tx.TotalBalance = balance
		tx.AvailableBalance = balance
		tx.State = domain.Uninitialised
	}

	quote, err := e.quotes.UpdateAmount(ctx, amount)
	if err != nil {
		// A stale quote is still usable for display; keep the last one.
		e.log.Warn("quote reprice failed", "error", err)
		if latest, ok := e.quotes.Latest(); ok {
			quote = latest
		} else {
			return tx, err
		}
	}
	return e.applyLimits(tx, quote)
}

// UpdateFeeLevel delegates to the wrapped engine; custodial transfers have
// no fee levels to change.
func (e *Engine) UpdateFeeLevel(ctx context.Context, tx domain.PendingTx, level domain.FeeLevel, customRate int64) (domain.PendingTx, error) {
	if e.onchain != nil {
		return e.onchain.UpdateFeeLevel(ctx, tx, level, customRate)
	}
	if level != domain.FeeNone {
		return tx, fmt.Errorf("%w: %s on custodial transfer", engine.ErrUnsupportedFeeLevel, level)
	}
	return tx, nil
}

// ValidateAmount lets a wrapped on-chain failure win over the composite's
// own checks: anything other than CanExecute or InvalidAmount from the
// inner engine is authoritative, so a specific on-chain failure is never
// masked by a generic limit failure.
func (e *Engine) ValidateAmount(ctx context.Context, tx domain.PendingTx) (domain.PendingTx, error) {
	if e.onchain != nil {
		inner, err := e.onchain.ValidateAmount(ctx, tx)
		if err != nil {
			return inner, err
		}
		if inner.State != domain.CanExecute && inner.State != domain.InvalidAmount {
			return inner, nil
		}
		tx = inner
	}

	// Background repricing moves the fee-adjusted minimum; re-derive the
	// bounds from the latest quote so validation never uses a stale floor.
	if quote, ok := e.quotes.Latest(); ok {
		var err error
		tx, err = e.applyLimits(tx, quote)
		if err != nil {
			return tx, err
		}
	}

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
	if tx.MinLimit != nil && tx.Amount.Cmp(*tx.MinLimit) < 0 {
		return domain.UnderMinLimit
	}
	if tx.MaxLimit != nil && tx.Amount.Cmp(*tx.MaxLimit) > 0 {
		return maxLimitState(e.tiers)
	}
	return domain.CanExecute
}

func (e *Engine) ValidateAll(ctx context.Context, tx domain.PendingTx) (domain.PendingTx, error) {
	tx, err := e.ValidateAmount(ctx, tx)
	if err != nil || tx.State != domain.CanExecute {
		return tx, err
	}
	if _, ok := e.quotes.Latest(); !ok {
		metrics.ValidationFailures.WithLabelValues(string(domain.OptionInvalid)).Inc()
		return tx.WithState(domain.OptionInvalid), nil
	}
	return tx, nil
}

func (e *Engine) BuildConfirmations(ctx context.Context, tx domain.PendingTx) (domain.PendingTx, error) {
	return tx.WithConfirmations(e.confirmations(tx, nil)), nil
}

func (e *Engine) RefreshConfirmations(ctx context.Context, tx domain.PendingTx) (domain.PendingTx, error) {
	return tx.WithConfirmations(e.confirmations(tx, tx.Confirmations)), nil
}

func (e *Engine) confirmations(tx domain.PendingTx, existing []domain.Confirmation) []domain.Confirmation {
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
	if quote, ok := e.quotes.Latest(); ok {
		list = domain.ReplaceConfirmation(list, domain.Confirmation{
			Kind:  domain.ConfirmExchangeRate,
			Label: "Exchange rate",
			Value: fmt.Sprintf("1 %s = %s %s", quote.Price.From, quote.Price.Price.FloatString(2), quote.Price.To),
		})
	}
	return list
}

// Execute creates the custodial order against the quote the user last saw,
// then pays the user's funds into the order's deposit address through the
// wrapped engine on user-key directions. Quote polling is stopped whether
// or not order creation succeeds, and the result carries the user-entered
// amount, not the quoted volume.
func (e *Engine) Execute(ctx context.Context, tx domain.PendingTx, secondPassword string) (domain.TxResult, error) {
	if !tx.CanExecute() {
		return nil, fmt.Errorf("%w: state %s", engine.ErrNotExecutable, tx.State)
	}
	defer e.quotes.Stop()

	quote, ok := e.quotes.Latest()
	if !ok {
		return nil, fmt.Errorf("%w: no quote available", engine.ErrNotExecutable)
	}
	if quote.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: quote %s expired", engine.ErrNotExecutable, quote.ID)
	}

	req := OrderRequest{
		Direction: e.cfg.Direction,
		QuoteID:   quote.ID,
		Volume:    tx.Amount,
	}
	if e.cfg.Direction.RequiresRefundAddress() {
		addr, err := e.Source.ReceiveAddress(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve refund address: %w", err)
		}
		req.RefundAddress = addr
	}
	if e.cfg.Direction.RequiresDestinationAddress() {
		addr, err := domain.AddressOf(ctx, e.Target)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve destination address: %w", err)
		}
		req.DestinationAddress = addr
	}

	asset := string(e.Source.TargetAsset())
	order, err := e.custodial.CreateOrder(ctx, req)
	if err != nil {
		metrics.ExecutesTotal.WithLabelValues(asset, "error").Inc()
		return nil, fmt.Errorf("order creation failed: %w", err)
	}

	if e.onchain != nil {
		if err := e.executeDeposit(ctx, tx, order, quote, secondPassword); err != nil {
			metrics.ExecutesTotal.WithLabelValues(asset, "error").Inc()
			return nil, err
		}
	}
	metrics.ExecutesTotal.WithLabelValues(asset, "ok").Inc()

	return domain.UnhashedResult{OrderID: order.ID, Amount: tx.Amount}, nil
}

// executeDeposit pays the user's funds into the order through the wrapped
// engine. The order was already minted: a failure here is a partial
// execution the caller must surface, not roll back.
func (e *Engine) executeDeposit(ctx context.Context, tx domain.PendingTx, order Order, quote domain.Quote, secondPassword string) error {
	addr := order.DepositAddress
	if addr == "" {
		addr = quote.SampleDepositAddress
	}
	if addr == "" {
		return fmt.Errorf("order %s carries no deposit address", order.ID)
	}

	target := domain.AddressTarget{Asset: e.Source.TargetAsset(), Address: addr}
	if err := e.onchain.Start(e.Source, target, e.Rates); err != nil {
		return fmt.Errorf("failed to retarget deposit for order %s: %w", order.ID, err)
	}

	result, err := e.onchain.Execute(ctx, tx, secondPassword)
	if err != nil {
		return fmt.Errorf("deposit payment for order %s failed: %w", order.ID, err)
	}
	e.depositResult = result
	if hashed, ok := result.(domain.HashedResult); ok {
		e.log.Info("deposit payment broadcast", "order", order.ID, "hash", hashed.TxHash)
	}
	return nil
}

func (e *Engine) PostExecute(ctx context.Context, result domain.TxResult) error {
	if e.onchain != nil && e.depositResult != nil {
		if err := e.onchain.PostExecute(ctx, e.depositResult); err != nil {
			e.log.Warn("deposit post-execute failed", "error", err)
		}
	}
	return e.custodial.RefreshBalances(ctx)
}

func (e *Engine) Stop() {
	if e.quotes != nil {
		e.quotes.Stop()
	}
	if e.onchain != nil {
		e.onchain.Stop()
	}
}
