package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/txengine/internal/core/domain"
	"github.com/vietddude/txengine/internal/engine"
)

// JournalEntry records an executed transaction for the local activity
// history.
type JournalEntry struct {
	FlowID     string
	Action     string
	Asset      string
	AmountStr  string
	TxHash     string
	OrderID    string
	ExecutedAt time.Time
}

// Journal persists executed transactions. Best effort: a journal failure
// never fails the flow.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
}

// Processor owns one engine and the single live PendingTx for the lifetime
// of a user transaction. All transitions are serialized behind a mutex;
// amount updates carry a revision so a slow stale recomputation can never
// overwrite a newer one (last write wins on the rendered state).
type Processor struct {
	id      string
	action  engine.Action
	eng     engine.Engine
	journal Journal
	log     *slog.Logger

	mu       sync.Mutex
	tx       domain.PendingTx
	init     bool
	applied  uint64
	issued   uint64
	closed   bool
	closeFns []func()
}

// New wraps a started engine in a flow processor. journal may be nil.
func New(action engine.Action, eng engine.Engine, journal Journal, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	return &Processor{
		id:      id,
		action:  action,
		eng:     eng,
		journal: journal,
		log:     log.With("flow", id, "action", string(action)),
	}
}

// ID is the flow identifier.
func (p *Processor) ID() string {
	return p.id
}

// Current returns the live transaction.
func (p *Processor) Current() domain.PendingTx {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx
}

// Initialise builds the starting transaction.
func (p *Processor) Initialise(ctx context.Context) (domain.PendingTx, error) {
	tx, err := p.eng.InitialiseTx(ctx)
	if err != nil {
		return domain.PendingTx{}, fmt.Errorf("failed to initialise flow: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tx = tx
	p.init = true
	return tx, nil
}

// UpdateAmount recomputes the transaction for a new amount. If a newer
// update completed while this one was in flight, the stale result is
// discarded and the current transaction returned unchanged.
func (p *Processor) UpdateAmount(ctx context.Context, amount domain.Money) (domain.PendingTx, error) {
	p.mu.Lock()
	if !p.init {
		p.mu.Unlock()
		return domain.PendingTx{}, engine.ErrNotStarted
	}
	p.issued++
	rev := p.issued
	snapshot := p.tx
	p.mu.Unlock()

	next, err := p.eng.UpdateAmount(ctx, amount, snapshot)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		return p.tx, err
	}
	if rev < p.applied {
		p.log.Debug("discarding stale amount update", "revision", rev)
		return p.tx, nil
	}
	p.applied = rev
	p.tx = next
	return next, nil
}

// UpdateFeeLevel switches fee levels and recomputes.
func (p *Processor) UpdateFeeLevel(ctx context.Context, level domain.FeeLevel, customRate int64) (domain.PendingTx, error) {
	return p.step(func() (domain.PendingTx, error) {
		return p.eng.UpdateFeeLevel(ctx, p.tx, level, customRate)
	})
}

// Validate runs full validation on the current transaction.
func (p *Processor) Validate(ctx context.Context) (domain.PendingTx, error) {
	return p.step(func() (domain.PendingTx, error) {
		return p.eng.ValidateAll(ctx, p.tx)
	})
}

// BuildConfirmations produces the confirmation list.
func (p *Processor) BuildConfirmations(ctx context.Context) (domain.PendingTx, error) {
	return p.step(func() (domain.PendingTx, error) {
		return p.eng.BuildConfirmations(ctx, p.tx)
	})
}

// RefreshConfirmations updates the confirmation values in place.
func (p *Processor) RefreshConfirmations(ctx context.Context) (domain.PendingTx, error) {
	return p.step(func() (domain.PendingTx, error) {
		return p.eng.RefreshConfirmations(ctx, p.tx)
	})
}

func (p *Processor) step(fn func() (domain.PendingTx, error)) (domain.PendingTx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.init {
		return domain.PendingTx{}, engine.ErrNotStarted
	}
	next, err := fn()
	if err != nil {
		return p.tx, err
	}
	p.tx = next
	return next, nil
}

// Execute submits the transaction. PostExecute and journal failures are
// logged and swallowed; a successful submission is never reported as
// failed because of bookkeeping.
func (p *Processor) Execute(ctx context.Context, secondPassword string) (domain.TxResult, error) {
	p.mu.Lock()
	tx := p.tx
	p.mu.Unlock()

	if !tx.CanExecute() {
		return nil, fmt.Errorf("%w: state %s", engine.ErrNotExecutable, tx.State)
	}

	result, err := p.eng.Execute(ctx, tx, secondPassword)
	if err != nil {
		return nil, err
	}

	if err := p.eng.PostExecute(ctx, result); err != nil {
		p.log.Warn("post-execute failed", "error", err)
	}
	p.record(ctx, result)
	return result, nil
}

func (p *Processor) record(ctx context.Context, result domain.TxResult) {
	if p.journal == nil {
		return
	}
	entry := JournalEntry{
		FlowID:     p.id,
		Action:     string(p.action),
		Asset:      string(result.ResultAmount().Asset()),
		AmountStr:  result.ResultAmount().Minor().String(),
		ExecutedAt: time.Now().UTC(),
	}
	switch r := result.(type) {
	case domain.HashedResult:
		entry.TxHash = r.TxHash
	case domain.UnhashedResult:
		entry.OrderID = r.OrderID
	}
	if err := p.journal.Record(ctx, entry); err != nil {
		p.log.Warn("failed to journal transaction", "error", err)
	}
}

// Close tears the flow down: the engine stops its background work and the
// transaction is discarded. Safe to call more than once.
func (p *Processor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.eng.Stop()
	p.tx = domain.PendingTx{}
	p.init = false
}
