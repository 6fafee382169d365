package trade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/txengine/internal/core/domain"
	"github.com/vietddude/txengine/internal/engine/metrics"
)

// QuotePair is the asset pair a quote prices.
type QuotePair struct {
	From domain.Asset
	To   domain.Asset
}

func (p QuotePair) String() string {
	return fmt.Sprintf("%s-%s", p.From, p.To)
}

// QuoteProvider fetches a priced quote for a custodial operation, sized to
// the amount the user intends to move.
type QuoteProvider interface {
	FetchQuote(ctx context.Context, direction domain.TransferDirection, pair QuotePair, amount domain.Money) (domain.Quote, error)
}

// QuoteEngine maintains the single latest priced quote for a flow. It
// exposes a synchronous Latest accessor so order creation uses the quote
// consistent with what the user last saw, never a fresher one fetched
// mid-confirmation.
//
// Repricing is time-driven (fixed interval) and amount-driven
// (UpdateAmount). Overlapping requests carry a monotonically increasing
// sequence; only a response at least as new as the installed one replaces
// the cell, so a slow stale fetch can never clobber a newer quote.
type QuoteEngine struct {
	provider  QuoteProvider
	direction domain.TransferDirection
	pair      QuotePair
	interval  time.Duration
	log       *slog.Logger

	mu        sync.Mutex
	latest    *domain.Quote
	installed uint64
	seq       uint64
	amount    domain.Money
	cancel    context.CancelFunc
	stopped   bool
}

// NewQuoteEngine creates a quote engine for one pair and direction.
func NewQuoteEngine(
	provider QuoteProvider,
	direction domain.TransferDirection,
	pair QuotePair,
	interval time.Duration,
	log *slog.Logger,
) *QuoteEngine {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &QuoteEngine{
		provider:  provider,
		direction: direction,
		pair:      pair,
		interval:  interval,
		log:       log.With("pair", pair.String()),
	}
}

// Start fetches the first quote synchronously, then begins the repricing
// ticker. The ticker stops when ctx is cancelled or Stop is called.
func (q *QuoteEngine) Start(ctx context.Context, amount domain.Money) (domain.Quote, error) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return domain.Quote{}, fmt.Errorf("quote engine already stopped")
	}
	q.amount = amount
	pollCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.mu.Unlock()

	quote, err := q.fetch(ctx, amount)
	if err != nil {
		return domain.Quote{}, err
	}

	go q.poll(pollCtx)
	return quote, nil
}

// Latest returns the current quote synchronously.
func (q *QuoteEngine) Latest() (domain.Quote, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.latest == nil {
		return domain.Quote{}, false
	}
	return *q.latest, true
}

// UpdateAmount re-requests a quote sized to the new amount.
func (q *QuoteEngine) UpdateAmount(ctx context.Context, amount domain.Money) (domain.Quote, error) {
	q.mu.Lock()
	q.amount = amount
	q.mu.Unlock()
	return q.fetch(ctx, amount)
}

// Stop cancels the repricing ticker. No quote is fetched or installed
// after Stop returns.
func (q *QuoteEngine) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
}

func (q *QuoteEngine) poll(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.mu.Lock()
			amount := q.amount
			q.mu.Unlock()

			if _, err := q.fetch(ctx, amount); err != nil {
				q.log.Warn("quote refresh failed", "error", err)
			}
		}
	}
}

// fetch requests a quote and installs it unless a newer request already
// landed.
func (q *QuoteEngine) fetch(ctx context.Context, amount domain.Money) (domain.Quote, error) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return domain.Quote{}, fmt.Errorf("quote engine stopped")
	}
	q.seq++
	seq := q.seq
	q.mu.Unlock()

	quote, err := q.provider.FetchQuote(ctx, q.direction, q.pair, amount)
	if err != nil {
		metrics.QuoteRefreshErrors.WithLabelValues(q.pair.String()).Inc()
		return domain.Quote{}, fmt.Errorf("quote fetch failed: %w", err)
	}
	metrics.QuoteRefreshes.WithLabelValues(q.pair.String()).Inc()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return quote, nil
	}
	if seq >= q.installed {
		q.latest = &quote
		q.installed = seq
	}
	return quote, nil
}
