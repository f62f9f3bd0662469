package archive

import (
	"context"
	"fmt"

	"github.com/ared-network/iota-anchor/pkg/anchor"
)

// Archiver seals anchors into bundles and stores them. It satisfies the
// archival port of both the workflow and the reconciler.
type Archiver struct {
	store  Store
	signer *Signer
}

var _ anchor.Archiver = (*Archiver)(nil)

// NewArchiver archives bundles to store, signing them when signer is
// non-nil.
func NewArchiver(store Store, signer *Signer) *Archiver {
	return &Archiver{store: store, signer: signer}
}

// Archive seals the anchor and its items and returns the bundle address.
func (ar *Archiver) Archive(ctx context.Context, a *anchor.Anchor, items []*anchor.Item) (string, error) {
	sealed, err := Seal(NewBundle(a, items), ar.signer)
	if err != nil {
		return "", err
	}
	addr, err := ar.store.Put(ctx, sealed)
	if err != nil {
		return "", fmt.Errorf("store bundle: %w", err)
	}
	return addr, nil
}
