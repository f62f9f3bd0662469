// Package archive builds, signs, and stores proof bundles for confirmed
// anchors. A bundle carries everything needed to verify an event offline:
// the anchor header, every item with its compact proof path, and the block
// the digest was posted in. Bundles are canonical JSON signed with an
// HKDF-derived ed25519 key and stored content-addressed.
package archive

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/ared-network/iota-anchor/pkg/anchor"
	"github.com/ared-network/iota-anchor/pkg/canonicalize"
)

// BundleVersion is bumped when the bundle layout changes.
const BundleVersion = 1

// Bundle is the archival form of one confirmed anchor. Its fields are
// stable for a given anchor, so re-archiving yields byte-identical
// canonical JSON and therefore the same content address.
type Bundle struct {
	Version     int          `json:"version"`
	AnchorID    string       `json:"anchor_id"`
	Digest      string       `json:"digest"`
	Method      string       `json:"method"`
	StartTime   string       `json:"start_time"`
	EndTime     string       `json:"end_time"`
	ItemCount   int          `json:"item_count"`
	BlockID     string       `json:"block_id,omitempty"`
	Network     string       `json:"network,omitempty"`
	ExplorerURL string       `json:"explorer_url,omitempty"`
	Items       []BundleItem `json:"items"`
}

// BundleItem is one event leaf with its compact proof path.
type BundleItem struct {
	EventHash string   `json:"event_hash"`
	Position  int      `json:"position"`
	Proof     []string `json:"proof,omitempty"`
}

// NewBundle assembles the bundle for an anchor. Items are ordered by leaf
// position regardless of input order.
func NewBundle(a *anchor.Anchor, items []*anchor.Item) *Bundle {
	b := &Bundle{
		Version:     BundleVersion,
		AnchorID:    a.ID.String(),
		Digest:      a.Digest,
		Method:      a.Method,
		StartTime:   a.StartTime.UTC().Format(time.RFC3339),
		EndTime:     a.EndTime.UTC().Format(time.RFC3339),
		ItemCount:   a.ItemCount,
		BlockID:     a.BlockID,
		Network:     a.Network,
		ExplorerURL: a.ExplorerURL,
		Items:       make([]BundleItem, len(items)),
	}
	for i, it := range items {
		b.Items[i] = BundleItem{
			EventHash: it.EventHash,
			Position:  it.Position,
			Proof:     it.Proof,
		}
	}
	sort.Slice(b.Items, func(i, j int) bool { return b.Items[i].Position < b.Items[j].Position })
	return b
}

// Envelope wraps the canonical bundle bytes with their signature.
type Envelope struct {
	Bundle    json.RawMessage `json:"bundle"`
	Signature string          `json:"signature,omitempty"`
	PublicKey string          `json:"public_key,omitempty"`
}

// Seal canonicalizes the bundle and wraps it in a signed envelope. A nil
// signer produces an unsigned envelope, which lite deployments without a
// signing secret fall back to.
func Seal(b *Bundle, signer *Signer) ([]byte, error) {
	canonical, err := canonicalize.JCS(b)
	if err != nil {
		return nil, fmt.Errorf("canonicalize bundle: %w", err)
	}
	env := Envelope{Bundle: canonical}
	if signer != nil {
		env.Signature = signer.Sign(canonical)
		env.PublicKey = signer.PublicKey()
	}
	sealed, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("seal bundle: %w", err)
	}
	return sealed, nil
}

// Open parses a sealed envelope, checks its signature when one is present,
// and returns the bundle.
func Open(sealed []byte) (*Bundle, error) {
	var env Envelope
	if err := json.Unmarshal(sealed, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if len(env.Bundle) == 0 {
		return nil, errors.New("envelope carries no bundle")
	}
	if env.Signature != "" {
		pub, err := hex.DecodeString(env.PublicKey)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return nil, errors.New("envelope public key malformed")
		}
		sig, err := hex.DecodeString(env.Signature)
		if err != nil {
			return nil, errors.New("envelope signature malformed")
		}
		// Re-canonicalize before checking so an envelope that was
		// pretty-printed in transit still verifies.
		canonical, err := canonicalize.JCS(env.Bundle)
		if err != nil {
			return nil, fmt.Errorf("canonicalize bundle: %w", err)
		}
		if !ed25519.Verify(ed25519.PublicKey(pub), canonical, sig) {
			return nil, errors.New("bundle signature invalid")
		}
	}
	var b Bundle
	if err := json.Unmarshal(env.Bundle, &b); err != nil {
		return nil, fmt.Errorf("parse bundle: %w", err)
	}
	return &b, nil
}

// hkdf parameters. Changing either breaks key continuity with already
// published public keys.
const (
	kdfSalt = "ared-anchor-kdf"
	kdfInfo = "proof-bundle-signing-v1"
)

// Signer signs bundle bytes with an ed25519 key derived from the shared
// signing secret, so every replica signs with the same key and no key
// material is stored.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner derives the signing keypair from secret with HKDF-SHA256.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("signing secret is empty")
	}
	r := hkdf.New(sha256.New, []byte(secret), []byte(kdfSalt), []byte(kdfInfo))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("derive signing seed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Sign returns the hex ed25519 signature over data.
func (s *Signer) Sign(data []byte) string {
	return hex.EncodeToString(ed25519.Sign(s.priv, data))
}

// PublicKey returns the hex public key callers publish for verification.
func (s *Signer) PublicKey() string {
	return hex.EncodeToString(s.pub)
}
