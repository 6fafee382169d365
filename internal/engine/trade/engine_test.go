package trade

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/vietddude/txengine/internal/core/domain"
	"github.com/vietddude/txengine/internal/engine"
)

type mockAccount struct {
	asset   domain.Asset
	kind    domain.AccountKind
	balance domain.Money
	label   string
	addr    string
}

func (m *mockAccount) TargetAsset() domain.Asset { return m.asset }
func (m *mockAccount) Label() string             { return m.label }
func (m *mockAccount) Kind() domain.AccountKind  { return m.kind }
func (m *mockAccount) Balance(context.Context) (domain.Money, error) {
	return m.balance, nil
}
func (m *mockAccount) ReceiveAddress(context.Context) (string, error) { return m.addr, nil }

type fixedProvider struct {
	networkFee  domain.Money
	feeAfter    int // fee appears from this fetch onward; 0 means always
	expired     bool
	depositAddr string
	calls       int
}

func (p *fixedProvider) FetchQuote(_ context.Context, _ domain.TransferDirection, pair QuotePair, _ domain.Money) (domain.Quote, error) {
	p.calls++
	fee := p.networkFee
	if fee.Asset() == "" || p.calls < p.feeAfter {
		fee = domain.ZeroMoney(pair.To)
	}
	expiry := time.Now().Add(time.Minute)
	if p.expired {
		expiry = time.Now().Add(-time.Minute)
	}
	return domain.Quote{
		ID:                   "quote-1",
		Price:                domain.NewExchangeRate(pair.From, pair.To, new(big.Rat).SetInt64(25_000)),
		NetworkFee:           fee,
		SampleDepositAddress: p.depositAddr,
		ExpiresAt:            expiry,
	}, nil
}

type mockCustodial struct {
	order     Order
	orderErr  error
	request   *OrderRequest
	refreshed bool
}

func (m *mockCustodial) CreateOrder(_ context.Context, req OrderRequest) (Order, error) {
	m.request = &req
	if m.orderErr != nil {
		return Order{}, m.orderErr
	}
	return m.order, nil
}

func (m *mockCustodial) RefreshBalances(context.Context) error {
	m.refreshed = true
	return nil
}

type mockTiers struct {
	tiers domain.KycTiers
	sdd   bool
}

func (m *mockTiers) Tiers(context.Context) (domain.KycTiers, error) { return m.tiers, nil }
func (m *mockTiers) IsSDDEligible(context.Context) (bool, error)    { return m.sdd, nil }

type mockLimits struct {
	limits domain.TransferLimits
}

func (m *mockLimits) SwapLimits(_ context.Context, fiat domain.Asset) (domain.TransferLimits, error) {
	return m.limits, nil
}

type stubRates struct{}

func (stubRates) LastPrice(_ context.Context, asset, fiat domain.Asset) (domain.ExchangeRate, error) {
	return domain.NewExchangeRate(asset, fiat, new(big.Rat).SetInt64(25_000)), nil
}

func usdLimits() *mockLimits {
	return &mockLimits{limits: domain.TransferLimits{
		Min: domain.MoneyFromMinor(domain.AssetUSD, 1000),    // $10
		Max: domain.MoneyFromMinor(domain.AssetUSD, 100_000), // $1000
	}}
}

func silverTiers() *mockTiers {
	return &mockTiers{tiers: domain.KycTiers{
		Current:  domain.TierSilver,
		Approved: map[domain.KycTier]bool{domain.TierSilver: true},
	}}
}

func custodialBTC(sat int64) *mockAccount {
	return &mockAccount{
		asset:   domain.AssetBTC,
		kind:    domain.KindCustodial,
		balance: domain.MoneyFromMinor(domain.AssetBTC, sat),
		label:   "BTC Trading Account",
	}
}

func fiatTarget() domain.TransactionTarget {
	return &mockAccount{asset: domain.AssetUSD, kind: domain.KindFiat, label: "USD Account"}
}

func sellConfig() Config {
	return Config{
		Action:        engine.ActionSell,
		Direction:     domain.DirectionInternal,
		Fiat:          domain.AssetUSD,
		QuoteInterval: time.Hour,
	}
}

func newSellEngine(t *testing.T, custodial *mockCustodial) *Engine {
	t.Helper()
	provider := &fixedProvider{}
	eng := NewEngine(sellConfig(), nil, provider, custodial, silverTiers(), usdLimits(), nil)
	if err := eng.Start(custodialBTC(10_000_000), fiatTarget(), stubRates{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return eng
}

func TestStartContract(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		onchain engine.Engine
		source  *mockAccount
		target  domain.TransactionTarget
	}{
		{
			name:    "internal direction must not wrap an engine",
			cfg:     sellConfig(),
			onchain: &stubEngine{},
			source:  custodialBTC(1),
			target:  fiatTarget(),
		},
		{
			name: "on-chain direction needs a wrapped engine",
			cfg: Config{
				Action: engine.ActionSwap, Direction: domain.DirectionFromUserKey,
				Fiat: domain.AssetUSD, QuoteInterval: time.Hour,
			},
			source: &mockAccount{asset: domain.AssetBTC, kind: domain.KindNonCustodial},
			target: &mockAccount{asset: domain.AssetETH, kind: domain.KindCustodial},
		},
		{
			name:   "internal direction needs a custodial source",
			cfg:    sellConfig(),
			source: &mockAccount{asset: domain.AssetBTC, kind: domain.KindNonCustodial},
			target: fiatTarget(),
		},
		{
			name:   "sell target must be fiat",
			cfg:    sellConfig(),
			source: custodialBTC(1),
			target: &mockAccount{asset: domain.AssetETH, kind: domain.KindCustodial},
		},
		{
			name: "swap target must be crypto",
			cfg: Config{
				Action: engine.ActionSwap, Direction: domain.DirectionInternal,
				Fiat: domain.AssetUSD, QuoteInterval: time.Hour,
			},
			source: custodialBTC(1),
			target: fiatTarget(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := NewEngine(tt.cfg, tt.onchain, &fixedProvider{}, &mockCustodial{}, silverTiers(), usdLimits(), nil)
			err := eng.Start(tt.source, tt.target, stubRates{})
			if !errors.Is(err, engine.ErrInvalidInputs) {
				t.Errorf("err = %v, want ErrInvalidInputs", err)
			}
		})
	}
}

func TestInitialiseTxSetsConvertedLimits(t *testing.T) {
	eng := newSellEngine(t, &mockCustodial{})
	defer eng.Stop()

	tx, err := eng.InitialiseTx(context.Background())
	if err != nil {
		t.Fatalf("InitialiseTx failed: %v", err)
	}

	// $10 and $1000 at 25000 BTC/USD
	if tx.MinLimit == nil || tx.MinLimit.Minor().Int64() != 40_000 {
		t.Errorf("min limit = %v, want 40000 sat", tx.MinLimit)
	}
	if tx.MaxLimit == nil || tx.MaxLimit.Minor().Int64() != 4_000_000 {
		t.Errorf("max limit = %v, want 4000000 sat", tx.MaxLimit)
	}
	if tx.FeeSelection.Selected != domain.FeeNone {
		t.Errorf("fee level = %s, want none on a custodial transfer", tx.FeeSelection.Selected)
	}
	if tx.AvailableBalance.Cmp(tx.TotalBalance) != 0 {
		t.Error("custodial available balance should equal the total balance")
	}
}

func TestSwapMinimumRaisedByNetworkFee(t *testing.T) {
	cfg := Config{
		Action: engine.ActionSwap, Direction: domain.DirectionInternal,
		Fiat: domain.AssetUSD, QuoteInterval: time.Hour,
	}
	// The quote prices BTC->ETH at 25000 with a 0.25 ETH network fee, which
	// converts back to 1000 sat at that price.
	networkFee := domain.NewMoney(domain.AssetETH, new(big.Int).SetInt64(250_000_000_000_000_000))
	provider := &fixedProvider{networkFee: networkFee}
	target := &mockAccount{asset: domain.AssetETH, kind: domain.KindCustodial, label: "ETH Trading Account"}

	eng := NewEngine(cfg, nil, provider, &mockCustodial{}, silverTiers(), usdLimits(), nil)
	if err := eng.Start(custodialBTC(10_000_000), target, stubRates{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer eng.Stop()

	tx, err := eng.InitialiseTx(context.Background())
	if err != nil {
		t.Fatalf("InitialiseTx failed: %v", err)
	}

	// $10 converts to 40000 sat; the fee raises the floor to 41000.
	if tx.MinLimit == nil || tx.MinLimit.Minor().Int64() != 41_000 {
		t.Errorf("min limit = %v, want 41000 sat", tx.MinLimit)
	}
}

func TestValidateAmountTierStates(t *testing.T) {
	tests := []struct {
		name string
		tier domain.KycTier
		want domain.ValidationState
	}{
		{"silver over max", domain.TierSilver, domain.OverSilverTierLimit},
		{"gold over max", domain.TierGold, domain.OverGoldTierLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tiers := &mockTiers{tiers: domain.KycTiers{Current: tt.tier}}
			eng := NewEngine(sellConfig(), nil, &fixedProvider{}, &mockCustodial{}, tiers, usdLimits(), nil)
			if err := eng.Start(custodialBTC(10_000_000), fiatTarget(), stubRates{}); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			defer eng.Stop()

			tx, err := eng.InitialiseTx(context.Background())
			if err != nil {
				t.Fatalf("InitialiseTx failed: %v", err)
			}
			// Over the $1000 max (4000000 sat) but within the balance.
			tx, err = eng.UpdateAmount(context.Background(), domain.MoneyFromMinor(domain.AssetBTC, 5_000_000), tx)
			if err != nil {
				t.Fatalf("UpdateAmount failed: %v", err)
			}
			tx, err = eng.ValidateAmount(context.Background(), tx)
			if err != nil {
				t.Fatalf("ValidateAmount failed: %v", err)
			}
			if tx.State != tt.want {
				t.Errorf("state = %s, want %s", tx.State, tt.want)
			}
		})
	}
}

func TestValidateAmountUnderMin(t *testing.T) {
	eng := newSellEngine(t, &mockCustodial{})
	defer eng.Stop()

	tx, _ := eng.InitialiseTx(context.Background())
	tx, _ = eng.UpdateAmount(context.Background(), domain.MoneyFromMinor(domain.AssetBTC, 10_000), tx)
	tx, _ = eng.ValidateAmount(context.Background(), tx)
	if tx.State != domain.UnderMinLimit {
		t.Errorf("state = %s, want UnderMinLimit", tx.State)
	}
}

func TestExecuteCreatesOrder(t *testing.T) {
	custodial := &mockCustodial{order: Order{ID: "order-7", State: "PENDING"}}
	eng := newSellEngine(t, custodial)

	tx, _ := eng.InitialiseTx(context.Background())
	amount := domain.MoneyFromMinor(domain.AssetBTC, 1_000_000)
	tx, _ = eng.UpdateAmount(context.Background(), amount, tx)
	tx, err := eng.ValidateAll(context.Background(), tx)
	if err != nil {
		t.Fatalf("ValidateAll failed: %v", err)
	}
	if !tx.CanExecute() {
		t.Fatalf("state = %s, want CanExecute", tx.State)
	}

	result, err := eng.Execute(context.Background(), tx, "")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	unhashed, ok := result.(domain.UnhashedResult)
	if !ok {
		t.Fatalf("result type = %T, want UnhashedResult", result)
	}
	if unhashed.OrderID != "order-7" {
		t.Errorf("order id = %s, want order-7", unhashed.OrderID)
	}
	// The result reports what the user asked to move, not the quoted volume.
	if unhashed.Amount.Cmp(amount) != 0 {
		t.Errorf("result amount = %s, want %s", unhashed.Amount, amount)
	}

	if custodial.request == nil {
		t.Fatal("CreateOrder was not called")
	}
	if custodial.request.QuoteID != "quote-1" {
		t.Errorf("quote id = %s, want quote-1", custodial.request.QuoteID)
	}
	if custodial.request.RefundAddress != "" || custodial.request.DestinationAddress != "" {
		t.Error("internal direction must not carry addresses")
	}

	// Quote polling is disposed by Execute.
	if _, err := eng.quotes.UpdateAmount(context.Background(), amount); err == nil {
		t.Error("quote engine should be stopped after Execute")
	}
}

func TestExecuteStopsQuotesOnFailure(t *testing.T) {
	custodial := &mockCustodial{orderErr: errors.New("rejected")}
	eng := newSellEngine(t, custodial)

	tx, _ := eng.InitialiseTx(context.Background())
	tx, _ = eng.UpdateAmount(context.Background(), domain.MoneyFromMinor(domain.AssetBTC, 1_000_000), tx)
	tx, _ = eng.ValidateAll(context.Background(), tx)

	if _, err := eng.Execute(context.Background(), tx, ""); err == nil {
		t.Fatal("Execute should surface order creation failure")
	}
	if _, err := eng.quotes.UpdateAmount(context.Background(), domain.ZeroMoney(domain.AssetBTC)); err == nil {
		t.Error("quote engine should be stopped even when the order fails")
	}
}

func TestPostExecuteRefreshesBalances(t *testing.T) {
	custodial := &mockCustodial{}
	eng := newSellEngine(t, custodial)
	defer eng.Stop()

	if err := eng.PostExecute(context.Background(), domain.UnhashedResult{}); err != nil {
		t.Fatalf("PostExecute failed: %v", err)
	}
	if !custodial.refreshed {
		t.Error("balances were not refreshed")
	}
}

// stubEngine is a minimal wrapped engine with a scriptable validation state.
type stubEngine struct {
	state     domain.ValidationState
	stopped   bool
	target    domain.TransactionTarget
	execCount int
	execErr   error
	postCount int
}

func (s *stubEngine) Start(_ domain.Account, target domain.TransactionTarget, _ engine.RateSource) error {
	s.target = target
	return nil
}

func (s *stubEngine) InitialiseTx(context.Context) (domain.PendingTx, error) {
	return domain.PendingTx{
		Amount:           domain.ZeroMoney(domain.AssetBTC),
		TotalBalance:     domain.MoneyFromMinor(domain.AssetBTC, 10_000_000),
		AvailableBalance: domain.MoneyFromMinor(domain.AssetBTC, 10_000_000),
		FeeAmount:        domain.ZeroMoney(domain.AssetBTC),
		FeeSelection: domain.FeeSelection{
			Selected:  domain.FeeRegular,
			Available: []domain.FeeLevel{domain.FeeRegular},
			Asset:     domain.AssetBTC,
		},
		State: domain.Uninitialised,
	}, nil
}

func (s *stubEngine) UpdateAmount(_ context.Context, amount domain.Money, tx domain.PendingTx) (domain.PendingTx, error) {
	return tx.WithAmount(amount), nil
}

func (s *stubEngine) UpdateFeeLevel(_ context.Context, tx domain.PendingTx, _ domain.FeeLevel, _ int64) (domain.PendingTx, error) {
	return tx, nil
}

func (s *stubEngine) ValidateAmount(_ context.Context, tx domain.PendingTx) (domain.PendingTx, error) {
	return tx.WithState(s.state), nil
}

func (s *stubEngine) ValidateAll(_ context.Context, tx domain.PendingTx) (domain.PendingTx, error) {
	return tx.WithState(s.state), nil
}

func (s *stubEngine) BuildConfirmations(_ context.Context, tx domain.PendingTx) (domain.PendingTx, error) {
	return tx, nil
}

func (s *stubEngine) RefreshConfirmations(_ context.Context, tx domain.PendingTx) (domain.PendingTx, error) {
	return tx, nil
}

func (s *stubEngine) Execute(_ context.Context, tx domain.PendingTx, _ string) (domain.TxResult, error) {
	s.execCount++
	if s.execErr != nil {
		return nil, s.execErr
	}
	return domain.HashedResult{TxHash: "feedface", Amount: tx.Amount}, nil
}

func (s *stubEngine) PostExecute(context.Context, domain.TxResult) error {
	s.postCount++
	return nil
}

func (s *stubEngine) Stop() { s.stopped = true }

func newUserKeySwapEngine(t *testing.T, inner *stubEngine, provider *fixedProvider, custodial *mockCustodial) *Engine {
	t.Helper()
	cfg := Config{
		Action: engine.ActionSwap, Direction: domain.DirectionFromUserKey,
		Fiat: domain.AssetUSD, QuoteInterval: time.Hour,
	}
	source := &mockAccount{
		asset: domain.AssetBTC, kind: domain.KindNonCustodial,
		balance: domain.MoneyFromMinor(domain.AssetBTC, 10_000_000),
		label:   "My Wallet", addr: "refund-addr",
	}
	target := &mockAccount{asset: domain.AssetETH, kind: domain.KindCustodial, label: "ETH Trading Account"}
	eng := NewEngine(cfg, inner, provider, custodial, silverTiers(), usdLimits(), nil)
	if err := eng.Start(source, target, stubRates{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return eng
}

func TestInnerEngineStateIsAuthoritative(t *testing.T) {
	inner := &stubEngine{state: domain.InsufficientGas}
	eng := newUserKeySwapEngine(t, inner, &fixedProvider{}, &mockCustodial{})
	defer eng.Stop()

	tx, err := eng.InitialiseTx(context.Background())
	if err != nil {
		t.Fatalf("InitialiseTx failed: %v", err)
	}
	// An amount that would fail the composite's own min check; the inner
	// engine's gas failure must win regardless.
	tx, _ = eng.UpdateAmount(context.Background(), domain.MoneyFromMinor(domain.AssetBTC, 10), tx)
	tx, err = eng.ValidateAmount(context.Background(), tx)
	if err != nil {
		t.Fatalf("ValidateAmount failed: %v", err)
	}
	if tx.State != domain.InsufficientGas {
		t.Errorf("state = %s, want InsufficientGas from the wrapped engine", tx.State)
	}
}

func TestStopDisposesWrappedEngine(t *testing.T) {
	inner := &stubEngine{}
	eng := newUserKeySwapEngine(t, inner, &fixedProvider{}, &mockCustodial{})
	eng.Stop()
	if !inner.stopped {
		t.Error("wrapped engine was not stopped")
	}
}

func userKeyExecutableTx(t *testing.T, eng *Engine) domain.PendingTx {
	t.Helper()
	tx, err := eng.InitialiseTx(context.Background())
	if err != nil {
		t.Fatalf("InitialiseTx failed: %v", err)
	}
	tx, err = eng.UpdateAmount(context.Background(), domain.MoneyFromMinor(domain.AssetBTC, 1_000_000), tx)
	if err != nil {
		t.Fatalf("UpdateAmount failed: %v", err)
	}
	tx, err = eng.ValidateAll(context.Background(), tx)
	if err != nil {
		t.Fatalf("ValidateAll failed: %v", err)
	}
	if !tx.CanExecute() {
		t.Fatalf("state = %s, want CanExecute", tx.State)
	}
	return tx
}

func TestExecutePaysDepositForUserKeyDirection(t *testing.T) {
	inner := &stubEngine{state: domain.CanExecute}
	custodial := &mockCustodial{order: Order{ID: "order-9", DepositAddress: "deposit-addr-9"}}
	eng := newUserKeySwapEngine(t, inner, &fixedProvider{}, custodial)
	tx := userKeyExecutableTx(t, eng)

	result, err := eng.Execute(context.Background(), tx, "pw")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	unhashed, ok := result.(domain.UnhashedResult)
	if !ok || unhashed.OrderID != "order-9" {
		t.Fatalf("result = %#v, want order-9", result)
	}

	if custodial.request == nil || custodial.request.RefundAddress != "refund-addr" {
		t.Errorf("order request = %+v, want refund address from the source", custodial.request)
	}
	if inner.execCount != 1 {
		t.Fatalf("wrapped engine executed %d times, want 1", inner.execCount)
	}
	addr, ok := inner.target.(domain.AddressTarget)
	if !ok || addr.Address != "deposit-addr-9" {
		t.Errorf("deposit target = %#v, want the order's deposit address", inner.target)
	}
	if addr.Asset != domain.AssetBTC {
		t.Errorf("deposit asset = %s, want BTC", addr.Asset)
	}

	// The deposit side settles in PostExecute alongside the custodial refresh.
	if err := eng.PostExecute(context.Background(), result); err != nil {
		t.Fatalf("PostExecute failed: %v", err)
	}
	if inner.postCount != 1 {
		t.Errorf("wrapped engine post-execute ran %d times, want 1", inner.postCount)
	}
	if !custodial.refreshed {
		t.Error("custodial balances were not refreshed")
	}
}

func TestExecuteDepositFallsBackToQuoteAddress(t *testing.T) {
	inner := &stubEngine{state: domain.CanExecute}
	custodial := &mockCustodial{order: Order{ID: "order-10"}}
	eng := newUserKeySwapEngine(t, inner, &fixedProvider{depositAddr: "sample-deposit"}, custodial)
	tx := userKeyExecutableTx(t, eng)

	if _, err := eng.Execute(context.Background(), tx, ""); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	addr, ok := inner.target.(domain.AddressTarget)
	if !ok || addr.Address != "sample-deposit" {
		t.Errorf("deposit target = %#v, want the quote's sample address", inner.target)
	}
}

func TestExecuteSurfacesDepositFailure(t *testing.T) {
	inner := &stubEngine{state: domain.CanExecute, execErr: errors.New("broadcast rejected")}
	custodial := &mockCustodial{order: Order{ID: "order-11", DepositAddress: "deposit-addr-11"}}
	eng := newUserKeySwapEngine(t, inner, &fixedProvider{}, custodial)
	tx := userKeyExecutableTx(t, eng)

	if _, err := eng.Execute(context.Background(), tx, ""); err == nil {
		t.Fatal("Execute should surface the deposit failure")
	}
	// The order was already minted before the deposit failed.
	if custodial.request == nil {
		t.Error("order creation should have run")
	}
	if _, err := eng.quotes.UpdateAmount(context.Background(), domain.ZeroMoney(domain.AssetBTC)); err == nil {
		t.Error("quote engine should be stopped after a failed deposit")
	}
}

func TestExecuteRejectsExpiredQuote(t *testing.T) {
	provider := &fixedProvider{expired: true}
	custodial := &mockCustodial{}
	eng := NewEngine(sellConfig(), nil, provider, custodial, silverTiers(), usdLimits(), nil)
	if err := eng.Start(custodialBTC(10_000_000), fiatTarget(), stubRates{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	tx, _ := eng.InitialiseTx(context.Background())
	tx, _ = eng.UpdateAmount(context.Background(), domain.MoneyFromMinor(domain.AssetBTC, 1_000_000), tx)
	tx, _ = eng.ValidateAll(context.Background(), tx)

	_, err := eng.Execute(context.Background(), tx, "")
	if !errors.Is(err, engine.ErrNotExecutable) {
		t.Fatalf("err = %v, want ErrNotExecutable", err)
	}
	if custodial.request != nil {
		t.Error("no order may be created against an expired quote")
	}
}

func TestValidateAmountUsesRepricedQuote(t *testing.T) {
	cfg := Config{
		Action: engine.ActionSwap, Direction: domain.DirectionInternal,
		Fiat: domain.AssetUSD, QuoteInterval: time.Hour,
	}
	// The network fee appears on the third fetch only: 0.25 ETH at
	// BTC->ETH 25000 raises the minimum by 1000 sat.
	provider := &fixedProvider{
		networkFee: domain.NewMoney(domain.AssetETH, new(big.Int).SetInt64(250_000_000_000_000_000)),
		feeAfter:   3,
	}
	target := &mockAccount{asset: domain.AssetETH, kind: domain.KindCustodial, label: "ETH Trading Account"}
	eng := NewEngine(cfg, nil, provider, &mockCustodial{}, silverTiers(), usdLimits(), nil)
	if err := eng.Start(custodialBTC(10_000_000), target, stubRates{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer eng.Stop()

	tx, err := eng.InitialiseTx(context.Background())
	if err != nil {
		t.Fatalf("InitialiseTx failed: %v", err)
	}
	tx, _ = eng.UpdateAmount(context.Background(), domain.MoneyFromMinor(domain.AssetBTC, 40_500), tx)
	tx, err = eng.ValidateAmount(context.Background(), tx)
	if err != nil {
		t.Fatalf("ValidateAmount failed: %v", err)
	}
	if tx.State != domain.CanExecute {
		t.Fatalf("state before reprice = %s, want CanExecute", tx.State)
	}

	// A background reprice installs the fee-bearing quote without an
	// amount edit in between.
	if _, err := eng.quotes.UpdateAmount(context.Background(), domain.MoneyFromMinor(domain.AssetBTC, 40_500)); err != nil {
		t.Fatalf("reprice failed: %v", err)
	}

	tx, err = eng.ValidateAmount(context.Background(), tx)
	if err != nil {
		t.Fatalf("ValidateAmount failed: %v", err)
	}
	if tx.State != domain.UnderMinLimit {
		t.Errorf("state after reprice = %s, want UnderMinLimit", tx.State)
	}
	if tx.MinLimit == nil || tx.MinLimit.Minor().Int64() != 41_000 {
		t.Errorf("min limit = %v, want 41000 sat", tx.MinLimit)
	}
}

func TestBronzeTierNeedsSDD(t *testing.T) {
	tests := []struct {
		name    string
		tiers   domain.KycTiers
		sdd     bool
		allowed bool
	}{
		{"bronze without sdd", domain.KycTiers{Current: domain.TierBronze}, false, false},
		{"bronze with sdd", domain.KycTiers{Current: domain.TierBronze}, true, true},
		{
			"bronze with approved silver",
			domain.KycTiers{Current: domain.TierBronze, Approved: map[domain.KycTier]bool{domain.TierSilver: true}},
			false,
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tiers := &mockTiers{tiers: tt.tiers, sdd: tt.sdd}
			eng := NewEngine(sellConfig(), nil, &fixedProvider{}, &mockCustodial{}, tiers, usdLimits(), nil)
			if err := eng.Start(custodialBTC(10_000_000), fiatTarget(), stubRates{}); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			defer eng.Stop()

			_, err := eng.InitialiseTx(context.Background())
			if tt.allowed && err != nil {
				t.Fatalf("InitialiseTx failed: %v", err)
			}
			if !tt.allowed && !errors.Is(err, ErrTradingNotAllowed) {
				t.Fatalf("err = %v, want ErrTradingNotAllowed", err)
			}
		})
	}
}
