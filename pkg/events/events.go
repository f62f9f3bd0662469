// Package events reads the indexed blockchain event stream that anchor
// windows are built from.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one indexed blockchain event. Rows are written by the chain
// indexer; this service only reads them.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	BlockNumber int64           `json:"block_number"`
	BlockHash   string          `json:"block_hash"`
	EventIndex  int             `json:"event_index"`
	Pallet      string          `json:"pallet"`
	Name        string          `json:"event_name"`
	Data        json.RawMessage `json:"event_data,omitempty"`
	Hash        string          `json:"event_hash"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Window is a half-open time slice [Start, End) of events in anchoring
// order: ascending (block number, event index).
type Window struct {
	Start  time.Time `json:"start_time"`
	End    time.Time `json:"end_time"`
	Events []Event   `json:"events"`
}

// Count returns the number of events in the window.
func (w *Window) Count() int { return len(w.Events) }

// Empty reports whether the window holds no events.
func (w *Window) Empty() bool { return len(w.Events) == 0 }

// Hashes returns the event hashes in window order. These are the tree
// leaves.
func (w *Window) Hashes() []string {
	hashes := make([]string, len(w.Events))
	for i, e := range w.Events {
		hashes[i] = e.Hash
	}
	return hashes
}
