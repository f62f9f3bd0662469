package anchors

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ared-network/iota-anchor/pkg/anchor"
	"github.com/ared-network/iota-anchor/pkg/database"
)

const itemColumns = `ai.id, ai.anchor_id, ai.event_id, ai.event_hash,
       ai.position_in_merkle, ai.merkle_proof, ai.created_at`

// SaveItems writes the window's items in one transaction. Positions already
// present for the anchor are left untouched, so a rerun over a window that
// was partially persisted fills the gaps without rewriting proofs.
func (s *Store) SaveItems(ctx context.Context, items []*anchor.Item) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save items: %w", err)
	}
	defer tx.Rollback()

	query := s.db.Rebind(`INSERT INTO anchor_items (id, anchor_id, event_id, event_hash,
       position_in_merkle, merkle_proof, created_at)
       VALUES (?, ?, ?, ?, ?, ?, ?)
       ON CONFLICT (anchor_id, position_in_merkle) DO NOTHING`)

	now := time.Now().UTC()
	for _, it := range items {
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		var eventID any
		if it.EventID != nil {
			eventID = it.EventID.String()
		}
		var proof any
		if len(it.Proof) > 0 {
			b, err := json.Marshal(it.Proof)
			if err != nil {
				return fmt.Errorf("save items: encode proof: %w", err)
			}
			proof = string(b)
		}
		if _, err := tx.ExecContext(ctx, query,
			it.ID.String(), it.AnchorID.String(), eventID, it.EventHash,
			it.Position, proof, s.timeArg(it.CreatedAt)); err != nil {
			return fmt.Errorf("save items: position %d: %w", it.Position, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save items: %w", err)
	}

	s.log.InfoContext(ctx, "anchor items saved",
		"anchor_id", items[0].AnchorID.String(), "count", len(items))
	return nil
}

// ListItems returns one page of an anchor's items in Merkle order plus the
// total matching count. A device id narrows the page to items whose event the
// indexer attributes to that device.
func (s *Store) ListItems(ctx context.Context, anchorID uuid.UUID, q anchor.ItemsQuery) ([]*anchor.Item, int, error) {
	where := ` FROM anchor_items ai WHERE ai.anchor_id = ?`
	args := []any{anchorID.String()}
	if q.DeviceID != "" {
		where = ` FROM anchor_items ai
       LEFT JOIN indexed_events ie ON ai.event_id = ie.id
       WHERE ai.anchor_id = ? AND ie.device_id = ?`
		args = append(args, q.DeviceID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT COUNT(*)`+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	query := `SELECT ` + itemColumns + where + ` ORDER BY ai.position_in_merkle LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), append(args, limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*anchor.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("list items: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	return items, total, nil
}

// FindItemByHash returns the newest item recorded for the hash along with its
// anchor. The same hash can appear in several windows; verification wants the
// most recent commitment.
func (s *Store) FindItemByHash(ctx context.Context, eventHash string) (*anchor.Item, *anchor.Anchor, error) {
	query := `SELECT ` + itemColumns + `
       FROM anchor_items ai
       INNER JOIN anchors a ON ai.anchor_id = a.id
       WHERE ai.event_hash = ?
       ORDER BY a.created_at DESC
       LIMIT 1`
	it, err := scanItem(s.db.QueryRowContext(ctx, s.db.Rebind(query), eventHash))
	if err == sql.ErrNoRows {
		return nil, nil, anchor.ErrItemNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("find item: %w", err)
	}
	a, err := s.GetAnchor(ctx, it.AnchorID)
	if err != nil {
		return nil, nil, fmt.Errorf("find item: %w", err)
	}
	return it, a, nil
}

func scanItem(row rowScanner) (*anchor.Item, error) {
	var (
		it       anchor.Item
		id       string
		anchorID string
		eventID  sql.NullString
		proof    sql.NullString
		created  database.TimeScanner
	)
	if err := row.Scan(&id, &anchorID, &eventID, &it.EventHash,
		&it.Position, &proof, &created); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("bad item id %q: %w", id, err)
	}
	it.ID = parsed
	owner, err := uuid.Parse(anchorID)
	if err != nil {
		return nil, fmt.Errorf("bad anchor id %q: %w", anchorID, err)
	}
	it.AnchorID = owner
	if eventID.Valid && eventID.String != "" {
		evt, err := uuid.Parse(eventID.String)
		if err != nil {
			return nil, fmt.Errorf("bad event id %q: %w", eventID.String, err)
		}
		it.EventID = &evt
	}
	if proof.Valid && proof.String != "" {
		if err := json.Unmarshal([]byte(proof.String), &it.Proof); err != nil {
			return nil, fmt.Errorf("decode proof: %w", err)
		}
	}
	it.CreatedAt = created.Time
	return &it, nil
}
