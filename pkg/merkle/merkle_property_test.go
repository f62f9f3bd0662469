//go:build property
// +build property

// Package merkle_test contains property-based tests for tree construction
// and inclusion proofs.
package merkle_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ared-network/iota-anchor/pkg/merkle"
)

func leavesFromStrings(items []string) [][]byte {
	leaves := make([][]byte, len(items))
	for i, s := range items {
		leaves[i] = []byte(s)
	}
	return leaves
}

// TestRootDeterminism verifies tree construction is deterministic.
// Property: Build(leaves).Root == Build(leaves).Root for any leaves
func TestRootDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Tree construction is deterministic", prop.ForAll(
		func(items []string) bool {
			if len(items) == 0 {
				return true // Skip empty input
			}

			t1, err1 := merkle.Build(leavesFromStrings(items))
			t2, err2 := merkle.Build(leavesFromStrings(items))

			if err1 != nil && err2 != nil {
				return true // Both fail consistently
			}
			if err1 != nil || err2 != nil {
				return false // Inconsistent failure
			}

			return t1.Root == t2.Root
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestAllProofsVerify verifies every generated proof is valid.
// Property: Verify(Prove(i)) == true for all i
func TestAllProofsVerify(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("Generated proofs always verify", prop.ForAll(
		func(items []string) bool {
			if len(items) == 0 {
				return true
			}

			tree, err := merkle.Build(leavesFromStrings(items))
			if err != nil {
				return true // Skip errors
			}

			for i := 0; i < tree.Size(); i++ {
				proof, err := tree.Prove(i)
				if err != nil {
					return false
				}
				if !merkle.Verify(proof) {
					return false
				}
			}

			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestLeafChangeChangesRoot verifies a modified leaf always moves the root.
// Property: Build(leaves).Root != Build(leaves with leaf i changed).Root
func TestLeafChangeChangesRoot(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("Changing a leaf changes the root", prop.ForAll(
		func(items []string, idx int) bool {
			if len(items) == 0 {
				return true
			}

			t1, err := merkle.Build(leavesFromStrings(items))
			if err != nil {
				return true
			}

			changed := append([]string(nil), items...)
			i := idx % len(changed)
			if i < 0 {
				i += len(changed)
			}
			changed[i] = changed[i] + "!"

			t2, err := merkle.Build(leavesFromStrings(changed))
			if err != nil {
				return false
			}

			return t1.Root != t2.Root
		},
		gen.SliceOf(gen.AlphaString()),
		gen.Int(),
	))

	properties.TestingRun(t)
}

// TestTamperedProofsFail verifies a proof with a flipped path side never
// verifies against the original root.
func TestTamperedProofsFail(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("Tampered proofs fail verification", prop.ForAll(
		func(items []string, idx int) bool {
			if len(items) < 2 {
				return true // Single-leaf proofs have no path to tamper with
			}

			tree, err := merkle.Build(leavesFromStrings(items))
			if err != nil {
				return true
			}

			i := idx % tree.Size()
			if i < 0 {
				i += tree.Size()
			}
			proof, err := tree.Prove(i)
			if err != nil {
				return false
			}
			if len(proof.ProofPath) == 0 {
				return true
			}
			if proof.ProofPath[0].SiblingHash == proof.LeafHash {
				return true // swapping identical siblings reproduces the same parent
			}

			tampered := *proof
			tampered.ProofPath = append([]merkle.ProofStep(nil), proof.ProofPath...)
			if tampered.ProofPath[0].Side == merkle.SideLeft {
				tampered.ProofPath[0].Side = merkle.SideRight
			} else {
				tampered.ProofPath[0].Side = merkle.SideLeft
			}

			return !merkle.Verify(&tampered)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.Int(),
	))

	properties.TestingRun(t)
}

// TestCompactRoundTripPreservesValidity verifies serializing a proof to
// compact form and back never loses verifiability.
func TestCompactRoundTripPreservesValidity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("Compact round trip preserves validity", prop.ForAll(
		func(items []string) bool {
			if len(items) == 0 {
				return true
			}

			tree, err := merkle.Build(leavesFromStrings(items))
			if err != nil {
				return true
			}

			for i := 0; i < tree.Size(); i++ {
				proof, err := tree.Prove(i)
				if err != nil {
					return false
				}
				restored, err := merkle.FromCompact(proof.LeafHash, proof.LeafIndex, proof.Compact(), proof.Root, proof.TreeSize)
				if err != nil {
					return false
				}
				if !merkle.Verify(restored) {
					return false
				}
			}

			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
