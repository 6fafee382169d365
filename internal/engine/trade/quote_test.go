package trade

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/txengine/internal/core/domain"
)

type scriptedProvider struct {
	mu      sync.Mutex
	calls   int
	err     error
	blockOn int
	block   chan struct{}
	started chan struct{}
}

func (p *scriptedProvider) FetchQuote(_ context.Context, _ domain.TransferDirection, pair QuotePair, _ domain.Money) (domain.Quote, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()

	if p.err != nil {
		return domain.Quote{}, p.err
	}
	if p.blockOn > 0 && n == p.blockOn {
		p.started <- struct{}{}
		<-p.block
	}
	return domain.Quote{
		ID:    fmt.Sprintf("q%d", n),
		Price: domain.NewExchangeRate(pair.From, pair.To, new(big.Rat).SetInt64(25_000)),
	}, nil
}

func btcUSDPair() QuotePair {
	return QuotePair{From: domain.AssetBTC, To: domain.AssetUSD}
}

func TestQuoteEngineStartInstallsFirstQuote(t *testing.T) {
	provider := &scriptedProvider{}
	q := NewQuoteEngine(provider, domain.DirectionInternal, btcUSDPair(), time.Hour, nil)
	defer q.Stop()

	quote, err := q.Start(context.Background(), domain.ZeroMoney(domain.AssetBTC))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if quote.ID != "q1" {
		t.Errorf("quote = %s, want q1", quote.ID)
	}

	latest, ok := q.Latest()
	if !ok || latest.ID != "q1" {
		t.Errorf("Latest = %v %v, want q1", latest.ID, ok)
	}
}

func TestQuoteEngineStartFailsOnFetchError(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("no market")}
	q := NewQuoteEngine(provider, domain.DirectionInternal, btcUSDPair(), time.Hour, nil)

	if _, err := q.Start(context.Background(), domain.ZeroMoney(domain.AssetBTC)); err == nil {
		t.Fatal("Start should fail when the first fetch fails")
	}
	if _, ok := q.Latest(); ok {
		t.Error("no quote should be installed after a failed fetch")
	}
}

func TestQuoteEngineUpdateAmountReplacesQuote(t *testing.T) {
	provider := &scriptedProvider{}
	q := NewQuoteEngine(provider, domain.DirectionInternal, btcUSDPair(), time.Hour, nil)
	defer q.Stop()

	if _, err := q.Start(context.Background(), domain.ZeroMoney(domain.AssetBTC)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	quote, err := q.UpdateAmount(context.Background(), domain.MoneyFromMinor(domain.AssetBTC, 100))
	if err != nil {
		t.Fatalf("UpdateAmount failed: %v", err)
	}
	if quote.ID != "q2" {
		t.Errorf("quote = %s, want q2", quote.ID)
	}
	if latest, _ := q.Latest(); latest.ID != "q2" {
		t.Errorf("Latest = %s, want q2", latest.ID)
	}
}

func TestQuoteEngineDiscardsStaleResponse(t *testing.T) {
	provider := &scriptedProvider{
		blockOn: 2,
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	q := NewQuoteEngine(provider, domain.DirectionInternal, btcUSDPair(), time.Hour, nil)
	defer q.Stop()

	if _, err := q.Start(context.Background(), domain.ZeroMoney(domain.AssetBTC)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The second request stalls in flight while the third completes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.UpdateAmount(context.Background(), domain.MoneyFromMinor(domain.AssetBTC, 1))
	}()
	<-provider.started

	if _, err := q.UpdateAmount(context.Background(), domain.MoneyFromMinor(domain.AssetBTC, 2)); err != nil {
		t.Fatalf("UpdateAmount failed: %v", err)
	}

	close(provider.block)
	<-done

	// The slow response must not clobber the newer one.
	latest, ok := q.Latest()
	if !ok {
		t.Fatal("no quote installed")
	}
	if latest.ID != "q3" {
		t.Errorf("Latest = %s, want q3", latest.ID)
	}
}

func TestQuoteEngineStop(t *testing.T) {
	provider := &scriptedProvider{}
	q := NewQuoteEngine(provider, domain.DirectionInternal, btcUSDPair(), time.Hour, nil)

	if _, err := q.Start(context.Background(), domain.ZeroMoney(domain.AssetBTC)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	q.Stop()

	if _, err := q.UpdateAmount(context.Background(), domain.MoneyFromMinor(domain.AssetBTC, 1)); err == nil {
		t.Error("UpdateAmount should fail after Stop")
	}
	if _, err := q.Start(context.Background(), domain.ZeroMoney(domain.AssetBTC)); err == nil {
		t.Error("Start should fail after Stop")
	}

	// Stop is idempotent.
	q.Stop()
}
