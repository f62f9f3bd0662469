package merkle

import (
	"fmt"
	"strings"
)

// Proof is an inclusion proof for a single leaf. Folding ProofPath onto
// LeafHash, leaf level first, must reproduce Root.
type Proof struct {
	LeafHash  string      `json:"leaf_hash"`
	LeafIndex int         `json:"leaf_index"`
	ProofPath []ProofStep `json:"proof_path"`
	Root      string      `json:"root"`
	TreeSize  int         `json:"tree_size"`
}

// ProofStep names one sibling and which side of the current hash it sits on.
type ProofStep struct {
	Side        string `json:"side"` // "L" or "R"
	SiblingHash string `json:"sibling_hash"`
}

const (
	// SideLeft marks a sibling on the left of the current hash.
	SideLeft = "L"
	// SideRight marks a sibling on the right of the current hash.
	SideRight = "R"
)

// Prove generates the inclusion proof for the leaf at index i. A single-leaf
// tree yields an empty path.
func (t *Tree) Prove(i int) (*Proof, error) {
	if i < 0 || i >= len(t.Leaves) {
		return nil, fmt.Errorf("%w: %d (size %d)", ErrIndexOutOfRange, i, len(t.Leaves))
	}

	proof := &Proof{
		LeafHash:  t.Leaves[i],
		LeafIndex: i,
		Root:      t.Root,
		TreeSize:  len(t.Leaves),
	}

	idx := i
	// Walk every level below the root. A node without a partner is promoted
	// and contributes no step.
	for _, level := range t.Nodes[:len(t.Nodes)-1] {
		if idx%2 == 0 {
			if idx+1 < len(level) {
				proof.ProofPath = append(proof.ProofPath, ProofStep{
					Side:        SideRight,
					SiblingHash: level[idx+1],
				})
			}
		} else {
			proof.ProofPath = append(proof.ProofPath, ProofStep{
				Side:        SideLeft,
				SiblingHash: level[idx-1],
			})
		}
		idx /= 2
	}

	return proof, nil
}

// Verify recomputes the root from the leaf hash and the path and compares it
// with the proof's root.
func Verify(p *Proof) bool {
	return VerifyAgainstRoot(p.LeafHash, p.ProofPath, p.Root)
}

// VerifyAgainstRoot folds the path onto leafHash and checks the result
// against expectedRoot. Hash comparison is case-insensitive; stored hashes
// are lowercase.
func VerifyAgainstRoot(leafHash string, path []ProofStep, expectedRoot string) bool {
	current := leafHash
	for _, step := range path {
		switch step.Side {
		case SideLeft:
			current = NodeHash(step.SiblingHash, current)
		case SideRight:
			current = NodeHash(current, step.SiblingHash)
		default:
			return false
		}
	}
	return strings.EqualFold(current, expectedRoot)
}

// Compact serializes the path as ["L:<hex>", "R:<hex>", ...]. This is the
// stored and wire form of a proof path.
func (p *Proof) Compact() []string {
	out := make([]string, len(p.ProofPath))
	for i, step := range p.ProofPath {
		out[i] = step.Side + ":" + step.SiblingHash
	}
	return out
}

// FromCompact reconstructs a proof from its compact path plus the leaf and
// root context that the caller persisted alongside it.
func FromCompact(leafHash string, leafIndex int, compact []string, root string, treeSize int) (*Proof, error) {
	path, err := ParseCompactPath(compact)
	if err != nil {
		return nil, err
	}
	return &Proof{
		LeafHash:  leafHash,
		LeafIndex: leafIndex,
		ProofPath: path,
		Root:      root,
		TreeSize:  treeSize,
	}, nil
}

// ParseCompactPath decodes a compact path. Each element must be
// "L:<hex>" or "R:<hex>".
func ParseCompactPath(compact []string) ([]ProofStep, error) {
	path := make([]ProofStep, 0, len(compact))
	for i, s := range compact {
		side, hash, ok := strings.Cut(s, ":")
		if !ok || (side != SideLeft && side != SideRight) {
			return nil, fmt.Errorf("merkle: malformed proof element %d: %q", i, s)
		}
		if _, err := decodeHex(hash); err != nil {
			return nil, fmt.Errorf("merkle: malformed proof element %d: %w", i, err)
		}
		path = append(path, ProofStep{Side: side, SiblingHash: strings.ToLower(hash)})
	}
	return path, nil
}
