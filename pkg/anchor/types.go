// Package anchor contains the anchoring pipeline: the workflow that turns
// an event window into a Merkle root posted on the ledger, the lifecycle
// types it persists, and the ports it drives.
package anchor

import (
	"time"

	"github.com/google/uuid"
)

// MethodMerkleSHA256 is the digest method recorded on every anchor this
// service produces.
const MethodMerkleSHA256 = "merkle_sha256"

// Anchor is one committed (or in-flight) window summary.
type Anchor struct {
	ID           uuid.UUID  `json:"id"`
	Digest       string     `json:"digest"`
	Method       string     `json:"method"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      time.Time  `json:"end_time"`
	ItemCount    int        `json:"item_count"`
	Status       Status     `json:"status"`
	BlockID      string     `json:"iota_block_id,omitempty"`
	Network      string     `json:"iota_network,omitempty"`
	ExplorerURL  string     `json:"explorer_url,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	PostedAt     *time.Time `json:"posted_at,omitempty"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
}

// Item ties one event hash to its leaf position and stored proof path.
// Items are immutable once written.
type Item struct {
	ID        uuid.UUID  `json:"id"`
	AnchorID  uuid.UUID  `json:"anchor_id"`
	EventID   *uuid.UUID `json:"event_id,omitempty"`
	EventHash string     `json:"event_hash"`
	Position  int        `json:"position_in_merkle"`
	Proof     []string   `json:"merkle_proof,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// RetryEntry is one recorded submission retry, used to count and
// rate-limit reconciliation attempts.
type RetryEntry struct {
	ID           uuid.UUID `json:"id"`
	AnchorID     uuid.UUID `json:"anchor_id"`
	CreatedAt    time.Time `json:"created_at"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Stats summarizes the anchor store for the stats endpoint.
type Stats struct {
	TotalAnchors int            `json:"total_anchors"`
	ByStatus     map[Status]int `json:"by_status"`
	TotalItems   int            `json:"total_items"`
	LastAnchorAt *time.Time     `json:"last_anchor_at,omitempty"`
}

// Outcome names how a workflow run concluded.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeEmpty     Outcome = "empty"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Result is the structured return of a workflow run. Runs never propagate
// errors to the scheduler; failures are reported here.
type Result struct {
	Success    bool          `json:"success"`
	Outcome    Outcome       `json:"outcome"`
	AnchorID   uuid.UUID     `json:"anchor_id,omitempty"`
	Digest     string        `json:"digest,omitempty"`
	EventCount int           `json:"event_count"`
	BlockID    string        `json:"block_id,omitempty"`
	Error      string        `json:"error,omitempty"`
	ErrorCode  Code          `json:"error_code,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Clock provides time to the workflow so tests can pin it.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// WallClock returns the real-time clock.
func WallClock() Clock { return wallClock{} }
