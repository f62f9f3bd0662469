package tangle

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ared-network/iota-anchor/pkg/anchor"
	"github.com/ared-network/iota-anchor/pkg/retry"
)

// taggedDataType is the core API v2 payload type for tagged data.
const taggedDataType = 5

type taggedDataPayload struct {
	Type int    `json:"type"`
	Tag  string `json:"tag"`
	Data string `json:"data"`
}

type blockSubmitRequest struct {
	ProtocolVersion int               `json:"protocolVersion"`
	Payload         taggedDataPayload `json:"payload"`
}

type blockSubmitResponse struct {
	BlockID string `json:"blockId"`
}

type blockMetadataResponse struct {
	BlockID                    string `json:"blockId"`
	IsSolid                    bool   `json:"isSolid"`
	ReferencedByMilestoneIndex *int64 `json:"referencedByMilestoneIndex"`
	LedgerInclusionState       string `json:"ledgerInclusionState"`
}

// PostAnchor implements anchor.Ledger. It serializes the message, submits
// it as a tagged-data block with bounded retries, and optionally waits
// until the node reports inclusion.
func (c *Client) PostAnchor(ctx context.Context, msg *anchor.Message, wait bool) (*anchor.PostReceipt, error) {
	data, err := msg.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, anchor.NewError(anchor.CodeCancelled, "wait for submit slot", err)
	}

	c.log.InfoContext(ctx, "posting anchor block",
		"digest", msg.Digest, "count", msg.Count, "tag", c.cfg.Tag, "wait", wait)

	blockID, err := c.submitWithRetry(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, anchor.NewError(anchor.CodeCancelled, "submit anchor block", ctx.Err())
		}
		return nil, anchor.NewError(anchor.CodeLedgerSubmission, "submit anchor block", err)
	}

	receipt := &anchor.PostReceipt{
		BlockID:     blockID,
		Network:     c.cfg.Network,
		ExplorerURL: c.ExplorerURL(blockID),
	}
	c.log.InfoContext(ctx, "anchor block submitted", "block_id", blockID)

	if wait {
		st, err := c.WaitForInclusion(ctx, blockID)
		if err != nil {
			return nil, err
		}
		receipt.Included = true
		receipt.MilestoneIndex = st.MilestoneIndex
	}
	return receipt, nil
}

// SubmitTaggedData posts one tagged-data block and returns its block ID.
// Tag and data travel hex-encoded.
func (c *Client) SubmitTaggedData(ctx context.Context, tag string, data []byte) (string, error) {
	body, err := json.Marshal(blockSubmitRequest{
		ProtocolVersion: 2,
		Payload: taggedDataPayload{
			Type: taggedDataType,
			Tag:  hex.EncodeToString([]byte(tag)),
			Data: hex.EncodeToString(data),
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal block: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		c.cfg.NodeURL+"/api/core/v2/blocks", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		c.log.Error("block submission rejected",
			"status", resp.StatusCode, "response", truncate(string(respBody), 200))
		return "", fmt.Errorf("%w: status %d", ErrSubmissionRejected, resp.StatusCode)
	}

	var out blockSubmitResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if out.BlockID == "" {
		return "", fmt.Errorf("%w: node returned no block id", ErrSubmissionRejected)
	}
	return out.BlockID, nil
}

// submitWithRetry retries submissions on any node error with exponential
// backoff, under one overall API deadline.
func (c *Client) submitWithRetry(ctx context.Context, data []byte) (string, error) {
	submitCtx, cancel := context.WithTimeout(ctx, c.cfg.APITimeout)
	defer cancel()

	policy := retry.Policy{
		Base:        c.cfg.RetryDelay,
		Max:         c.cfg.RetryMaxDelay,
		MaxAttempts: c.cfg.RetryCount,
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		blockID, err := c.SubmitTaggedData(submitCtx, c.cfg.Tag, data)
		if err == nil {
			return blockID, nil
		}
		lastErr = err
		if submitCtx.Err() != nil {
			break
		}
		if attempt+1 < policy.MaxAttempts {
			delay := retry.Backoff(policy, attempt)
			c.log.Warn("block submission failed, retrying",
				"attempt", attempt+1, "max_attempts", policy.MaxAttempts,
				"delay", delay, "error", err)
			if err := retry.Wait(submitCtx, delay); err != nil {
				break
			}
		}
	}
	return "", fmt.Errorf("after %d attempts: %w", policy.MaxAttempts, lastErr)
}

// BlockMetadata implements anchor.Ledger. One parse at the boundary: the
// loose metadata JSON becomes a typed status with an inclusion variant.
func (c *Client) BlockMetadata(ctx context.Context, blockID string) (*anchor.BlockStatus, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	var raw blockMetadataResponse
	if err := c.getJSON(ctx, "/api/core/v2/blocks/"+blockID+"/metadata", &raw); err != nil {
		return nil, anchor.NewError(anchor.CodeLedgerUnavailable, "fetch block metadata", err)
	}
	st := &anchor.BlockStatus{
		BlockID: blockID,
		IsSolid: raw.IsSolid,
		State:   mapInclusion(raw),
	}
	if raw.ReferencedByMilestoneIndex != nil {
		st.MilestoneIndex = *raw.ReferencedByMilestoneIndex
	}
	return st, nil
}

// mapInclusion folds the raw metadata into the inclusion variant. A block
// referenced by a milestone counts as included unless the ledger flagged
// it conflicting.
func mapInclusion(raw blockMetadataResponse) anchor.InclusionState {
	switch raw.LedgerInclusionState {
	case "conflicting":
		return anchor.InclusionConflicting
	case "included":
		return anchor.InclusionIncluded
	}
	if raw.ReferencedByMilestoneIndex != nil {
		return anchor.InclusionIncluded
	}
	if raw.IsSolid || raw.LedgerInclusionState == "pending" {
		return anchor.InclusionPending
	}
	return anchor.InclusionUnknown
}

// WaitForInclusion polls block metadata until the block is included, the
// ledger reports a conflict, or the confirmation window closes. Transient
// metadata errors cost one poll interval each.
func (c *Client) WaitForInclusion(ctx context.Context, blockID string) (*anchor.BlockStatus, error) {
	deadline := time.Now().Add(c.cfg.ConfirmationTimeout)
	started := time.Now()

	c.log.InfoContext(ctx, "waiting for block inclusion",
		"block_id", blockID, "timeout", c.cfg.ConfirmationTimeout)

	for {
		if !time.Now().Before(deadline) {
			return nil, anchor.NewError(anchor.CodeLedgerConfirmationTimeout,
				fmt.Sprintf("block %s not included after %s", blockID, c.cfg.ConfirmationTimeout),
				ErrConfirmationTimeout)
		}

		st, err := c.BlockMetadata(ctx, blockID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, anchor.NewError(anchor.CodeCancelled, "wait for inclusion", ctx.Err())
			}
			c.log.Warn("metadata poll failed, retrying", "block_id", blockID, "error", err)
		} else {
			switch st.State {
			case anchor.InclusionIncluded:
				c.log.InfoContext(ctx, "block included",
					"block_id", blockID,
					"milestone_index", st.MilestoneIndex,
					"elapsed", time.Since(started).Round(time.Millisecond))
				return st, nil
			case anchor.InclusionConflicting:
				return nil, anchor.NewError(anchor.CodeLedgerConflicting,
					fmt.Sprintf("block %s has conflicting state", blockID), ErrConflicting)
			}
		}

		if err := retry.Wait(ctx, c.cfg.PollInterval); err != nil {
			return nil, anchor.NewError(anchor.CodeCancelled, "wait for inclusion", err)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
