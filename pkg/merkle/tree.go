// Package merkle implements the binary hash tree used for event anchoring.
//
// Hashing follows the RFC 6962 domain-separation convention: leaf hashes are
// SHA-256 over 0x00 || leaf bytes, internal nodes are SHA-256 over
// 0x01 || left || right. An unpaired rightmost node is promoted to the next
// level unchanged. All hashes are lowercase hex.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

var (
	// ErrEmptyInput is returned when a tree is built from zero leaves.
	ErrEmptyInput = errors.New("merkle: empty input")
	// ErrIndexOutOfRange is returned when a proof is requested for an
	// index outside [0, size).
	ErrIndexOutOfRange = errors.New("merkle: leaf index out of range")
)

// Tree is a fully materialized hash tree. Nodes holds every level bottom-up:
// Nodes[0] is the leaf level, Nodes[len-1] is the single-element root level.
type Tree struct {
	Leaves []string   // leaf-level hashes, in input order
	Root   string     // root hash
	Nodes  [][]string // all levels including leaves and root
}

// Build constructs a tree over raw leaf bytes. Each leaf is hashed with the
// leaf prefix before combination.
func Build(leaves [][]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyInput
	}
	hashes := make([]string, len(leaves))
	for i, l := range leaves {
		hashes[i] = LeafHash(l)
	}
	return fromLeafHashes(hashes), nil
}

// BuildFromHashes constructs a tree over pre-hashed leaves given as hex. The
// decoded digests are re-hashed with the leaf prefix, so the result equals
// Build applied to the raw digest bytes.
func BuildFromHashes(hashes []string) (*Tree, error) {
	if len(hashes) == 0 {
		return nil, ErrEmptyInput
	}
	leafHashes := make([]string, len(hashes))
	for i, h := range hashes {
		b, err := decodeHex(h)
		if err != nil {
			return nil, fmt.Errorf("merkle: leaf %d: %w", i, err)
		}
		leafHashes[i] = LeafHash(b)
	}
	return fromLeafHashes(leafHashes), nil
}

// BuildFromRawHashes constructs a tree using the given hex hashes directly as
// the leaf level, without re-applying the leaf prefix. This is the mode used
// for event hashes: the stored event hash is itself the leaf hash.
func BuildFromRawHashes(hashes []string) (*Tree, error) {
	if len(hashes) == 0 {
		return nil, ErrEmptyInput
	}
	leafHashes := make([]string, len(hashes))
	for i, h := range hashes {
		if _, err := decodeHex(h); err != nil {
			return nil, fmt.Errorf("merkle: leaf %d: %w", i, err)
		}
		leafHashes[i] = strings.ToLower(h)
	}
	return fromLeafHashes(leafHashes), nil
}

func fromLeafHashes(leafHashes []string) *Tree {
	t := &Tree{
		Leaves: leafHashes,
		Nodes:  [][]string{leafHashes},
	}
	level := leafHashes
	for len(level) > 1 {
		level = nextLevel(level)
		t.Nodes = append(t.Nodes, level)
	}
	t.Root = level[0]
	return t
}

// nextLevel pairs adjacent hashes; an unpaired last node is promoted.
func nextLevel(hashes []string) []string {
	next := make([]string, 0, (len(hashes)+1)/2)
	for i := 0; i < len(hashes); i += 2 {
		if i+1 < len(hashes) {
			next = append(next, NodeHash(hashes[i], hashes[i+1]))
		} else {
			next = append(next, hashes[i])
		}
	}
	return next
}

// Size returns the number of leaves.
func (t *Tree) Size() int { return len(t.Leaves) }

// LeafHash computes the prefixed hash of raw leaf bytes.
func LeafHash(leaf []byte) string {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(leaf)
	return hex.EncodeToString(h.Sum(nil))
}

// NodeHash computes the prefixed hash of two child hashes given as hex.
func NodeHash(left, right string) string {
	h := sha256.New()
	h.Write([]byte{nodePrefix})
	h.Write(mustDecodeHex(left))
	h.Write(mustDecodeHex(right))
	return hex.EncodeToString(h.Sum(nil))
}

func decodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

// mustDecodeHex is used on hashes the tree itself produced or already
// validated; a decode failure here indicates internal corruption.
func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(fmt.Sprintf("merkle: corrupt internal hash %q", s))
	}
	return b
}
