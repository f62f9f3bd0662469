// Package anchors persists anchors, their Merkle items, and the retry log
// behind the anchor.Repository port. The same queries run against postgres
// and the sqlite lite mode; dialect differences live in the DDL and in the
// shared database helpers.
package anchors

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ared-network/iota-anchor/pkg/anchor"
	"github.com/ared-network/iota-anchor/pkg/database"
)

const defaultPageSize = 100

const anchorColumns = `id, digest, method, start_time, end_time, item_count,
       status, iota_block_id, iota_network, explorer_url, error_message,
       created_at, posted_at, confirmed_at`

// Store implements anchor.Repository over a SQL database.
type Store struct {
	db  *database.DB
	log *slog.Logger
}

var _ anchor.Repository = (*Store)(nil)

// NewStore opens the anchor store and applies its schema.
func NewStore(ctx context.Context, db *database.DB, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{db: db, log: log.With("component", "anchorstore")}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range ddlFor(s.db.Driver) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate anchors: %w", err)
		}
	}
	return nil
}

// UpsertAnchor inserts the anchor or, when the (digest, start_time, end_time)
// key already exists, overwrites the existing row's mutable fields. A fresh
// row keeps the id generated here; a conflict returns the row's existing id.
func (s *Store) UpsertAnchor(ctx context.Context, a *anchor.Anchor) (uuid.UUID, bool, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Method == "" {
		a.Method = anchor.MethodMerkleSHA256
	}
	if a.Status == "" {
		a.Status = anchor.StatusPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO anchors (` + anchorColumns + `)
       VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
       ON CONFLICT (digest, start_time, end_time) DO UPDATE SET
           status = excluded.status,
           item_count = excluded.item_count,
           iota_block_id = excluded.iota_block_id,
           iota_network = excluded.iota_network,
           explorer_url = excluded.explorer_url,
           error_message = excluded.error_message,
           posted_at = excluded.posted_at,
           confirmed_at = excluded.confirmed_at
       RETURNING id`

	var returned string
	err := s.db.QueryRowContext(ctx, s.db.Rebind(query),
		a.ID.String(), a.Digest, a.Method,
		s.timeArg(a.StartTime), s.timeArg(a.EndTime), a.ItemCount,
		string(a.Status),
		nullStr(a.BlockID), nullStr(a.Network), nullStr(a.ExplorerURL), nullStr(a.ErrorMessage),
		s.timeArg(a.CreatedAt), s.nullTime(a.PostedAt), s.nullTime(a.ConfirmedAt),
	).Scan(&returned)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("upsert anchor: %w", err)
	}
	persisted, err := uuid.Parse(returned)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("upsert anchor: bad id %q: %w", returned, err)
	}
	inserted := persisted == a.ID
	a.ID = persisted
	return persisted, inserted, nil
}

func (s *Store) GetAnchor(ctx context.Context, id uuid.UUID) (*anchor.Anchor, error) {
	query := `SELECT ` + anchorColumns + ` FROM anchors WHERE id = ?`
	a, err := scanAnchor(s.db.QueryRowContext(ctx, s.db.Rebind(query), id.String()))
	if err == sql.ErrNoRows {
		return nil, anchor.ErrAnchorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get anchor: %w", err)
	}
	return a, nil
}

// FindByKey looks up an anchor by its natural key.
func (s *Store) FindByKey(ctx context.Context, digest string, start, end time.Time) (*anchor.Anchor, error) {
	query := `SELECT ` + anchorColumns + ` FROM anchors
       WHERE digest = ? AND start_time = ? AND end_time = ?`
	a, err := scanAnchor(s.db.QueryRowContext(ctx, s.db.Rebind(query),
		digest, s.timeArg(start), s.timeArg(end)))
	if err == sql.ErrNoRows {
		return nil, anchor.ErrAnchorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find anchor: %w", err)
	}
	return a, nil
}

func (s *Store) ListAnchors(ctx context.Context, q anchor.ListQuery) ([]*anchor.Anchor, error) {
	query := `SELECT ` + anchorColumns + ` FROM anchors`
	var args []any
	if q.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(q.Status))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list anchors: %w", err)
	}
	defer rows.Close()
	return collectAnchors(rows)
}

func (s *Store) CountAnchors(ctx context.Context, status anchor.Status) (int, error) {
	query := `SELECT COUNT(*) FROM anchors`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, s.db.Rebind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count anchors: %w", err)
	}
	return n, nil
}

// ListByStatuses returns anchors in any of the given states created before
// olderThan, oldest first. Reconciliation scans run on this.
func (s *Store) ListByStatuses(ctx context.Context, statuses []anchor.Status, olderThan time.Time, limit int) ([]*anchor.Anchor, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	query := `SELECT ` + anchorColumns + ` FROM anchors
       WHERE status IN (` + placeholders(len(statuses)) + `)
         AND created_at < ?
       ORDER BY created_at ASC
       LIMIT ?`
	args := make([]any, 0, len(statuses)+2)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, s.timeArg(olderThan), limit)

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer rows.Close()
	return collectAnchors(rows)
}

// UpdateStatus transitions the anchor, stamping posted_at or confirmed_at and
// writing any non-empty update fields. The write is guarded on the status the
// transaction read, so a concurrent transition fails here instead of being
// overwritten.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, to anchor.Status, upd anchor.StatusUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, s.db.Rebind(
		`SELECT status FROM anchors WHERE id = ?`), id.String()).Scan(&current)
	if err == sql.ErrNoRows {
		return anchor.ErrAnchorNotFound
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	from := anchor.Status(current)
	if !anchor.CanTransition(from, to) {
		return anchor.NewError(anchor.CodeInvalidInput,
			fmt.Sprintf("illegal status transition %s -> %s", from, to), nil)
	}

	set := []string{"status = ?"}
	args := []any{string(to)}
	now := time.Now().UTC()
	switch to {
	case anchor.StatusPosted:
		set = append(set, "posted_at = ?")
		args = append(args, s.timeArg(now))
	case anchor.StatusConfirmed:
		set = append(set, "confirmed_at = ?")
		args = append(args, s.timeArg(now))
	}
	if upd.BlockID != "" {
		set = append(set, "iota_block_id = ?")
		args = append(args, upd.BlockID)
	}
	if upd.Network != "" {
		set = append(set, "iota_network = ?")
		args = append(args, upd.Network)
	}
	if upd.ExplorerURL != "" {
		set = append(set, "explorer_url = ?")
		args = append(args, upd.ExplorerURL)
	}
	if upd.ErrorMessage != "" {
		set = append(set, "error_message = ?")
		args = append(args, upd.ErrorMessage)
	}
	args = append(args, id.String(), current)

	query := `UPDATE anchors SET ` + strings.Join(set, ", ") + ` WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update status: anchor %s changed concurrently", id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.InfoContext(ctx, "anchor status updated",
		"anchor_id", id.String(), "from", string(from), "to", string(to))
	return nil
}

func (s *Store) Stats(ctx context.Context) (*anchor.Stats, error) {
	st := &anchor.Stats{ByStatus: make(map[anchor.Status]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM anchors GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("anchor stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("anchor stats: %w", err)
		}
		st.ByStatus[anchor.Status(status)] = n
		st.TotalAnchors += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("anchor stats: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM anchor_items`).Scan(&st.TotalItems); err != nil {
		return nil, fmt.Errorf("anchor stats: %w", err)
	}

	var last database.TimeScanner
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM anchors`).Scan(&last); err != nil {
		return nil, fmt.Errorf("anchor stats: %w", err)
	}
	if last.Valid {
		t := last.Time
		st.LastAnchorAt = &t
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnchor(row rowScanner) (*anchor.Anchor, error) {
	var (
		a         anchor.Anchor
		id        string
		status    string
		blockID   sql.NullString
		network   sql.NullString
		explorer  sql.NullString
		errMsg    sql.NullString
		started   database.TimeScanner
		ended     database.TimeScanner
		created   database.TimeScanner
		posted    database.TimeScanner
		confirmed database.TimeScanner
	)
	if err := row.Scan(&id, &a.Digest, &a.Method, &started, &ended, &a.ItemCount,
		&status, &blockID, &network, &explorer, &errMsg,
		&created, &posted, &confirmed); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("bad anchor id %q: %w", id, err)
	}
	a.ID = parsed
	a.Status = anchor.Status(status)
	a.StartTime = started.Time
	a.EndTime = ended.Time
	a.CreatedAt = created.Time
	a.BlockID = blockID.String
	a.Network = network.String
	a.ExplorerURL = explorer.String
	a.ErrorMessage = errMsg.String
	if posted.Valid {
		t := posted.Time
		a.PostedAt = &t
	}
	if confirmed.Valid {
		t := confirmed.Time
		a.ConfirmedAt = &t
	}
	return &a, nil
}

func collectAnchors(rows *sql.Rows) ([]*anchor.Anchor, error) {
	var out []*anchor.Anchor
	for rows.Next() {
		a, err := scanAnchor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anchor: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan anchors: %w", err)
	}
	return out, nil
}

func (s *Store) timeArg(t time.Time) any {
	return database.TimeArg(s.db.Driver, t)
}

func (s *Store) nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return s.timeArg(*t)
}

func nullStr(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
