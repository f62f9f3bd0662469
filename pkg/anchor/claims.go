package anchor

import (
	"fmt"
	"sync"
	"time"
)

// ClaimKey identifies one anchorable window. The workflow and the
// reconciler derive it the same way so their claims collide.
func ClaimKey(digest string, start, end time.Time) string {
	return fmt.Sprintf("%s:%d:%d", digest, start.UTC().Unix(), end.UTC().Unix())
}

// ClaimSet serializes work on anchors inside one process. The workflow
// claims the window key while a run is in flight and reconciliation
// claims anchor IDs while resubmitting, so the two never double-post
// the same anchor.
type ClaimSet struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewClaimSet() *ClaimSet {
	return &ClaimSet{held: make(map[string]struct{})}
}

// TryClaim takes the key if it is free and reports whether it did.
func (c *ClaimSet) TryClaim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.held[key]; ok {
		return false
	}
	c.held[key] = struct{}{}
	return true
}

// Release frees the key. Releasing an unheld key is a no-op.
func (c *ClaimSet) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.held, key)
}

// Held reports whether the key is currently claimed.
func (c *ClaimSet) Held(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.held[key]
	return ok
}
