package anchor

import (
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/ared-network/iota-anchor/pkg/canonicalize"
)

// Message is the payload posted to the ledger for one anchor. The wire
// form is canonical JSON (sorted keys, no whitespace) so that the same
// window always serializes to the same bytes.
type Message struct {
	Digest string
	Count  int
	Start  time.Time
	End    time.Time
	Issued time.Time
	Meta   map[string]string
}

// NewMessage builds the ledger message for a computed window digest.
func NewMessage(digest string, count int, start, end, issued time.Time) *Message {
	return &Message{
		Digest: digest,
		Count:  count,
		Start:  start,
		End:    end,
		Issued: issued,
	}
}

// CanonicalBytes serializes the message as canonical JSON. Timestamps are
// unix seconds; meta string values are NFC-normalized so visually equal
// keys cannot produce distinct payloads.
func (m *Message) CanonicalBytes() ([]byte, error) {
	if m.Digest == "" {
		return nil, NewError(CodeInvalidInput, "anchor message requires a digest", nil)
	}
	payload := map[string]any{
		"algorithm": "sha256",
		"count":     m.Count,
		"digest":    m.Digest,
		"end":       m.End.UTC().Unix(),
		"start":     m.Start.UTC().Unix(),
		"ts":        m.Issued.UTC().Unix(),
		"type":      "merkle_root",
		"v":         "1.0",
	}
	if len(m.Meta) > 0 {
		meta := make(map[string]string, len(m.Meta))
		for k, v := range m.Meta {
			meta[norm.NFC.String(k)] = norm.NFC.String(v)
		}
		payload["meta"] = meta
	}
	data, err := canonicalize.JCS(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize anchor message: %w", err)
	}
	return data, nil
}
