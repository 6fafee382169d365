package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/txengine/internal/flow"
)

// JournalRepo implements flow.Journal using PostgreSQL.
type JournalRepo struct {
	db *DB
}

// NewJournalRepo creates a new PostgreSQL journal repository.
func NewJournalRepo(db *DB) *JournalRepo {
	return &JournalRepo{db: db}
}

// Record saves an executed transaction to the journal.
func (r *JournalRepo) Record(ctx context.Context, entry flow.JournalEntry) error {
	query := `
		INSERT INTO tx_journal (
			flow_id, action, asset, amount, tx_hash, order_id, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (flow_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.FlowID, entry.Action, entry.Asset, entry.AmountStr,
		nullable(entry.TxHash), nullable(entry.OrderID), entry.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record journal entry: %w", err)
	}
	return nil
}

type journalRow struct {
	FlowID     string    `db:"flow_id"`
	Action     string    `db:"action"`
	Asset      string    `db:"asset"`
	Amount     string    `db:"amount"`
	TxHash     *string   `db:"tx_hash"`
	OrderID    *string   `db:"order_id"`
	ExecutedAt time.Time `db:"executed_at"`
}

func (j *journalRow) toEntry() flow.JournalEntry {
	entry := flow.JournalEntry{
		FlowID:     j.FlowID,
		Action:     j.Action,
		Asset:      j.Asset,
		AmountStr:  j.Amount,
		ExecutedAt: j.ExecutedAt,
	}
	if j.TxHash != nil {
		entry.TxHash = *j.TxHash
	}
	if j.OrderID != nil {
		entry.OrderID = *j.OrderID
	}
	return entry
}

// Recent returns the most recent journal entries for an asset, newest first.
// An empty asset returns entries across all assets.
func (r *JournalRepo) Recent(ctx context.Context, asset string, limit int) ([]flow.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT flow_id, action, asset, amount, tx_hash, order_id, executed_at
		FROM tx_journal
		WHERE ($1 = '' OR asset = $1)
		ORDER BY executed_at DESC
		LIMIT $2
	`

	var rows []journalRow
	if err := r.db.SelectContext(ctx, &rows, query, asset, limit); err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}

	entries := make([]flow.JournalEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].toEntry())
	}
	return entries, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
