package anchors

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ared-network/iota-anchor/pkg/database"
)

// RecordRetry appends one retry-log entry for the anchor.
func (s *Store) RecordRetry(ctx context.Context, anchorID uuid.UUID, errorMessage string) error {
	query := `INSERT INTO anchor_retry_log (id, anchor_id, created_at, error_message)
       VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		uuid.New().String(), anchorID.String(),
		s.timeArg(time.Now().UTC()), nullStr(errorMessage))
	if err != nil {
		return fmt.Errorf("record retry: %w", err)
	}
	return nil
}

func (s *Store) RetryCount(ctx context.Context, anchorID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT COUNT(*) FROM anchor_retry_log WHERE anchor_id = ?`),
		anchorID.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("retry count: %w", err)
	}
	return n, nil
}

// LastRetryAt returns when the anchor was last retried, or nil when it never
// was. Reconciliation gates backoff on this.
func (s *Store) LastRetryAt(ctx context.Context, anchorID uuid.UUID) (*time.Time, error) {
	var last database.TimeScanner
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT MAX(created_at) FROM anchor_retry_log WHERE anchor_id = ?`),
		anchorID.String()).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("last retry: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time
	return &t, nil
}
