package events

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ared-network/iota-anchor/pkg/database"
)

const eventColumns = `id, block_number, block_hash, event_index,
       pallet, event_name, event_data, event_hash, created_at`

// Consumer reads indexed events and tracks the consumption watermark.
type Consumer struct {
	db     *database.DB
	log    *slog.Logger
	filter *Filter

	mu            sync.Mutex
	lastBlock     int64
	lastTimestamp time.Time
	hasWatermark  bool
}

// NewConsumer returns a consumer over the indexed event table.
func NewConsumer(db *database.DB, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{db: db, log: log.With("component", "events")}
}

// WithFilter applies a compiled event filter to every fetched window.
func (c *Consumer) WithFilter(f *Filter) *Consumer {
	c.filter = f
	return c
}

// FetchWindow returns events with created_at in [start, end), ordered by
// (block_number, event_index). Pallets, when non-empty, restricts the
// window to those pallet names.
func (c *Consumer) FetchWindow(ctx context.Context, start, end time.Time, pallets []string) (*Window, error) {
	query := `SELECT ` + eventColumns + `
       FROM indexed_events
       WHERE created_at >= ? AND created_at < ?`
	args := []any{c.timeArg(start), c.timeArg(end)}

	if len(pallets) > 0 {
		query += ` AND pallet IN (` + placeholders(len(pallets)) + `)`
		for _, p := range pallets {
			args = append(args, p)
		}
	}
	query += ` ORDER BY block_number, event_index`

	rows, err := c.db.QueryContext(ctx, c.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch window: %w", err)
	}
	defer rows.Close()

	evts, err := c.scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("fetch window: %w", err)
	}

	if c.filter != nil {
		evts, err = c.filter.Apply(evts)
		if err != nil {
			return nil, fmt.Errorf("fetch window: %w", err)
		}
	}

	if len(evts) > 0 {
		last := evts[len(evts)-1]
		c.mu.Lock()
		c.lastBlock = last.BlockNumber
		c.lastTimestamp = last.Timestamp
		c.hasWatermark = true
		c.mu.Unlock()
	}

	c.log.InfoContext(ctx, "fetched events",
		"count", len(evts),
		"start", start.UTC().Format(time.RFC3339),
		"end", end.UTC().Format(time.RFC3339))

	return &Window{Start: start, End: end, Events: evts}, nil
}

// FetchUnanchored returns events that no anchor item references yet, oldest
// first. Since, when non-nil, bounds the scan; limit caps the result.
func (c *Consumer) FetchUnanchored(ctx context.Context, since *time.Time, limit int) ([]Event, error) {
	query := `SELECT ie.id, ie.block_number, ie.block_hash, ie.event_index,
       ie.pallet, ie.event_name, ie.event_data, ie.event_hash, ie.created_at
       FROM indexed_events ie
       LEFT JOIN anchor_items ai ON ie.event_hash = ai.event_hash
       WHERE ai.id IS NULL`
	var args []any
	if since != nil {
		query += ` AND ie.created_at >= ?`
		args = append(args, c.timeArg(*since))
	}
	query += ` ORDER BY ie.block_number, ie.event_index LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, c.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch unanchored: %w", err)
	}
	defer rows.Close()

	evts, err := c.scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("fetch unanchored: %w", err)
	}
	return evts, nil
}

// LastAnchorEnd returns the end of the most recent posted or confirmed
// anchor, or nil when none exists.
func (c *Consumer) LastAnchorEnd(ctx context.Context) (*time.Time, error) {
	query := `SELECT end_time
       FROM anchors
       WHERE status IN ('posted', 'confirmed')
       ORDER BY end_time DESC
       LIMIT 1`

	var ts database.TimeScanner
	err := c.db.QueryRowContext(ctx, query).Scan(&ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last anchor end: %w", err)
	}
	t := ts.Time
	return &t, nil
}

// EventCountSince returns the number of events created at or after t.
func (c *Consumer) EventCountSince(ctx context.Context, t time.Time) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, c.db.Rebind(
		`SELECT COUNT(*) FROM indexed_events WHERE created_at >= ?`), c.timeArg(t)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("event count: %w", err)
	}
	return n, nil
}

// LastBlock returns the highest block number consumed so far.
func (c *Consumer) LastBlock() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastBlock, c.hasWatermark
}

// LastTimestamp returns the timestamp of the most recently consumed event.
func (c *Consumer) LastTimestamp() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTimestamp, c.hasWatermark
}

func (c *Consumer) scanEvents(rows *sql.Rows) ([]Event, error) {
	var evts []Event
	for rows.Next() {
		var (
			e    Event
			id   string
			data sql.NullString
			ts   database.TimeScanner
		)
		if err := rows.Scan(&id, &e.BlockNumber, &e.BlockHash, &e.EventIndex,
			&e.Pallet, &e.Name, &data, &e.Hash, &ts); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("bad event id %q: %w", id, err)
		}
		e.ID = parsed
		if data.Valid && data.String != "" {
			e.Data = []byte(data.String)
		}
		e.Timestamp = ts.Time
		evts = append(evts, e)
	}
	return evts, rows.Err()
}

// timeArg formats a timestamp for the active dialect. SQLite stores
// fixed-width UTC strings so lexicographic comparison matches time order.
func (c *Consumer) timeArg(t time.Time) any {
	return database.TimeArg(c.db.Driver, t)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
