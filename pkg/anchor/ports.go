package anchor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ared-network/iota-anchor/pkg/events"
)

// InclusionState is the ledger's verdict on a posted block.
type InclusionState string

const (
	InclusionIncluded    InclusionState = "included"
	InclusionConflicting InclusionState = "conflicting"
	InclusionPending     InclusionState = "pending"
	InclusionUnknown     InclusionState = "unknown"
)

// PostReceipt is what a successful ledger submission returns.
type PostReceipt struct {
	BlockID        string
	Network        string
	ExplorerURL    string
	Included       bool
	MilestoneIndex int64
}

// BlockStatus is one parsed metadata lookup for a block.
type BlockStatus struct {
	BlockID        string
	IsSolid        bool
	MilestoneIndex int64
	State          InclusionState
}

// Ledger is the submission side of the pipeline.
type Ledger interface {
	// Health reports whether the node is reachable and healthy.
	Health(ctx context.Context) error
	// PostAnchor submits the message as a tagged-data block. With wait set
	// it also polls metadata until the block is included or the
	// confirmation window runs out.
	PostAnchor(ctx context.Context, msg *Message, wait bool) (*PostReceipt, error)
	// BlockMetadata fetches the current inclusion status of a block.
	BlockMetadata(ctx context.Context, blockID string) (*BlockStatus, error)
}

// StatusUpdate carries the optional fields written alongside a status
// transition. Zero-valued fields are left untouched.
type StatusUpdate struct {
	BlockID      string
	Network      string
	ExplorerURL  string
	ErrorMessage string
}

// ListQuery selects a page of anchors.
type ListQuery struct {
	Status Status // empty matches all
	Limit  int
	Offset int
}

// ItemsQuery selects a page of anchor items, optionally narrowed to the
// events of one device.
type ItemsQuery struct {
	DeviceID string
	Limit    int
	Offset   int
}

// Repository persists anchors, their items, and the retry log.
type Repository interface {
	// UpsertAnchor inserts the anchor keyed on (digest, start, end) or, on
	// conflict, updates the mutable fields of the existing row. It reports
	// the persisted identity and whether a new row was created.
	UpsertAnchor(ctx context.Context, a *Anchor) (uuid.UUID, bool, error)
	GetAnchor(ctx context.Context, id uuid.UUID) (*Anchor, error)
	// FindByKey looks up an anchor by its natural key. Returns
	// ErrAnchorNotFound when absent.
	FindByKey(ctx context.Context, digest string, start, end time.Time) (*Anchor, error)
	ListAnchors(ctx context.Context, q ListQuery) ([]*Anchor, error)
	CountAnchors(ctx context.Context, status Status) (int, error)
	// ListByStatuses returns anchors in any of the given states created
	// before olderThan, oldest first.
	ListByStatuses(ctx context.Context, statuses []Status, olderThan time.Time, limit int) ([]*Anchor, error)
	// UpdateStatus transitions the anchor and stamps posted_at or
	// confirmed_at as appropriate. Illegal transitions are rejected.
	UpdateStatus(ctx context.Context, id uuid.UUID, to Status, upd StatusUpdate) error

	// SaveItems writes the window's items in one transaction. Rows that
	// already exist for (anchor_id, position) are left as they are.
	SaveItems(ctx context.Context, items []*Item) error
	ListItems(ctx context.Context, anchorID uuid.UUID, q ItemsQuery) ([]*Item, int, error)
	// FindItemByHash returns the newest item recorded for the hash along
	// with its anchor. Returns ErrItemNotFound when no anchor covers it.
	FindItemByHash(ctx context.Context, eventHash string) (*Item, *Anchor, error)

	RecordRetry(ctx context.Context, anchorID uuid.UUID, errorMessage string) error
	RetryCount(ctx context.Context, anchorID uuid.UUID) (int, error)
	LastRetryAt(ctx context.Context, anchorID uuid.UUID) (*time.Time, error)

	Stats(ctx context.Context) (*Stats, error)
}

// EventSource supplies the event windows the workflow anchors.
type EventSource interface {
	FetchWindow(ctx context.Context, start, end time.Time) (*events.Window, error)
	// LastAnchorEnd reports the end of the newest posted or confirmed
	// window, or nil when nothing has been anchored yet.
	LastAnchorEnd(ctx context.Context) (*time.Time, error)
	EventCountSince(ctx context.Context, since time.Time) (int, error)
}

// Archiver stores a proof bundle for a confirmed anchor and returns its
// storage location. Archiving is best effort; callers log and continue
// when it fails.
type Archiver interface {
	Archive(ctx context.Context, a *Anchor, items []*Item) (string, error)
}
