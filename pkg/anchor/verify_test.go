package anchor_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ared-network/iota-anchor/pkg/anchor"
	"github.com/ared-network/iota-anchor/pkg/merkle"
)

// seedAnchoredWindow runs the workflow once so the repo holds a real
// anchor with real proofs.
func seedAnchoredWindow(t *testing.T, repo *fakeRepo) (*anchor.Anchor, []*anchor.Item) {
	t.Helper()
	start := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	source := &fakeSource{events: testEvents(start.Add(time.Hour))}
	w := anchor.NewWorkflow(repo, &fakeLedger{receipt: &anchor.PostReceipt{
		BlockID:     "0xblock",
		Network:     "testnet",
		ExplorerURL: "https://explorer.example/block/0xblock",
	}}, source, nil)

	res := w.Run(context.Background(), &start, &end, false)
	require.True(t, res.Success)

	a, err := repo.GetAnchor(context.Background(), res.AnchorID)
	require.NoError(t, err)
	items, _, err := repo.ListItems(context.Background(), a.ID, anchor.ItemsQuery{})
	require.NoError(t, err)
	return a, items
}

func TestVerifyEventHash(t *testing.T) {
	repo := newFakeRepo()
	a, items := seedAnchoredWindow(t, repo)
	v := anchor.NewVerifier(repo)

	for _, it := range items {
		got, err := v.VerifyEventHash(context.Background(), it.EventHash)
		require.NoError(t, err)
		assert.True(t, got.Verified, "position %d", it.Position)
		assert.Equal(t, a.Digest, got.AnchorDigest)
		assert.Equal(t, "0xblock", got.BlockID)
		assert.Equal(t, it.Proof, got.ProofPath)
	}
}

func TestVerifyUppercaseHashAccepted(t *testing.T) {
	repo := newFakeRepo()
	_, items := seedAnchoredWindow(t, repo)
	v := anchor.NewVerifier(repo)

	got, err := v.VerifyEventHash(context.Background(), "  "+toUpper(items[0].EventHash)+" ")
	require.NoError(t, err)
	assert.True(t, got.Verified)
}

func toUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func TestVerifyUnknownHash(t *testing.T) {
	repo := newFakeRepo()
	seedAnchoredWindow(t, repo)
	v := anchor.NewVerifier(repo)

	got, err := v.VerifyEventHash(context.Background(), hexHash(0xcc))
	require.NoError(t, err)
	assert.False(t, got.Verified)
	assert.Equal(t, "Event hash not found in any anchor", got.Message)
	assert.Empty(t, got.AnchorDigest)
}

func TestVerifyMissingProof(t *testing.T) {
	repo := newFakeRepo()
	a := &anchor.Anchor{
		ID:        uuid.New(),
		Digest:    hexHash(0xdd),
		Method:    anchor.MethodMerkleSHA256,
		StartTime: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2025, 12, 2, 0, 0, 0, 0, time.UTC),
		ItemCount: 2,
		Status:    anchor.StatusPosted,
		CreatedAt: time.Now().UTC(),
	}
	repo.anchors[a.ID] = a
	repo.items[a.ID] = []*anchor.Item{{
		ID:        uuid.New(),
		AnchorID:  a.ID,
		EventHash: hexHash(0xee),
		Position:  0,
	}}

	v := anchor.NewVerifier(repo)
	got, err := v.VerifyEventHash(context.Background(), hexHash(0xee))
	require.NoError(t, err)
	assert.False(t, got.Verified)
	assert.Equal(t, "No Merkle proof available", got.Message)
	assert.Equal(t, a.Digest, got.AnchorDigest)
}

func TestVerifySingleLeafAnchor(t *testing.T) {
	repo := newFakeRepo()
	leaf := hexHash(0x11)
	tree, err := merkle.BuildFromRawHashes([]string{leaf})
	require.NoError(t, err)

	a := &anchor.Anchor{
		ID:        uuid.New(),
		Digest:    tree.Root,
		Method:    anchor.MethodMerkleSHA256,
		StartTime: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2025, 12, 2, 0, 0, 0, 0, time.UTC),
		ItemCount: 1,
		Status:    anchor.StatusConfirmed,
		CreatedAt: time.Now().UTC(),
	}
	repo.anchors[a.ID] = a
	repo.items[a.ID] = []*anchor.Item{{
		ID:        uuid.New(),
		AnchorID:  a.ID,
		EventHash: leaf,
		Position:  0,
	}}

	// A single-leaf tree has an empty proof path and the digest is the
	// leaf itself.
	v := anchor.NewVerifier(repo)
	got, err := v.VerifyEventHash(context.Background(), leaf)
	require.NoError(t, err)
	assert.True(t, got.Verified)
}

func TestVerifyTamperedDigest(t *testing.T) {
	repo := newFakeRepo()
	a, items := seedAnchoredWindow(t, repo)

	repo.anchors[a.ID].Digest = hexHash(0x99)

	v := anchor.NewVerifier(repo)
	got, err := v.VerifyEventHash(context.Background(), items[0].EventHash)
	require.NoError(t, err)
	assert.False(t, got.Verified)
	assert.Equal(t, "Proof does not reproduce the anchor digest", got.Message)
}

func TestVerifyEmptyHash(t *testing.T) {
	v := anchor.NewVerifier(newFakeRepo())
	_, err := v.VerifyEventHash(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, anchor.IsCode(err, anchor.CodeInvalidInput))
}
