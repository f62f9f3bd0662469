package anchor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ared-network/iota-anchor/pkg/merkle"
)

// Verification is the answer to "is this event hash anchored".
type Verification struct {
	Verified     bool     `json:"verified"`
	Message      string   `json:"message"`
	EventHash    string   `json:"event_hash"`
	AnchorDigest string   `json:"anchor_digest,omitempty"`
	BlockID      string   `json:"ledger_block_id,omitempty"`
	ExplorerURL  string   `json:"explorer_url,omitempty"`
	ProofPath    []string `json:"proof_path,omitempty"`
}

// Verifier replays stored proofs against their anchor digests. Event
// hashes are the leaf hashes themselves, matching how the workflow
// builds its trees.
type Verifier struct {
	repo Repository
}

func NewVerifier(repo Repository) *Verifier {
	return &Verifier{repo: repo}
}

// VerifyEventHash looks up the newest item for the hash and folds its
// stored proof path back to the anchor digest.
func (v *Verifier) VerifyEventHash(ctx context.Context, eventHash string) (*Verification, error) {
	eventHash = strings.ToLower(strings.TrimSpace(eventHash))
	if eventHash == "" {
		return nil, NewError(CodeInvalidInput, "event hash is required", nil)
	}

	item, a, err := v.repo.FindItemByHash(ctx, eventHash)
	if errors.Is(err, ErrItemNotFound) {
		return &Verification{
			Verified:  false,
			Message:   "Event hash not found in any anchor",
			EventHash: eventHash,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up event hash: %w", err)
	}

	out := &Verification{
		EventHash:    eventHash,
		AnchorDigest: a.Digest,
		BlockID:      a.BlockID,
		ExplorerURL:  a.ExplorerURL,
		ProofPath:    item.Proof,
	}
	if len(item.Proof) == 0 && a.ItemCount > 1 {
		out.Message = "No Merkle proof available"
		return out, nil
	}

	path, err := merkle.ParseCompactPath(item.Proof)
	if err != nil {
		out.Message = "Stored proof path is malformed"
		return out, nil
	}
	if merkle.VerifyAgainstRoot(eventHash, path, a.Digest) {
		out.Verified = true
		out.Message = "Event hash verified against anchored Merkle root"
	} else {
		out.Message = "Proof does not reproduce the anchor digest"
	}
	return out, nil
}
