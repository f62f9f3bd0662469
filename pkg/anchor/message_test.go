package anchor_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ared-network/iota-anchor/pkg/anchor"
)

func TestMessageCanonicalBytes(t *testing.T) {
	start := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 12, 2, 0, 0, 0, 0, time.UTC)
	issued := end.Add(5 * time.Minute)
	digest := strings.Repeat("ab", 32)

	msg := anchor.NewMessage(digest, 2, start, end, issued)
	data, err := msg.CanonicalBytes()
	require.NoError(t, err)

	want := `{"algorithm":"sha256","count":2,"digest":"` + digest +
		`","end":1764633600,"start":1764547200,"ts":1764633900,"type":"merkle_root","v":"1.0"}`
	assert.Equal(t, want, string(data))
}

func TestMessageMetaSorted(t *testing.T) {
	start := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	msg := anchor.NewMessage(strings.Repeat("cd", 32), 1, start, start.Add(time.Hour), start.Add(2*time.Hour))
	msg.Meta = map[string]string{"service": "ared-edge", "region": "eu-west"}

	data, err := msg.CanonicalBytes()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"meta":{"region":"eu-west","service":"ared-edge"}`)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "merkle_root", decoded["type"])
}

func TestMessageMetaNormalized(t *testing.T) {
	start := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	composed := anchor.NewMessage(strings.Repeat("ef", 32), 1, start, start.Add(time.Hour), start)
	composed.Meta = map[string]string{"site": "Zürich"}

	decomposed := anchor.NewMessage(strings.Repeat("ef", 32), 1, start, start.Add(time.Hour), start)
	decomposed.Meta = map[string]string{"site": "Zürich"}

	a, err := composed.CanonicalBytes()
	require.NoError(t, err)
	b, err := decomposed.CanonicalBytes()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b), "visually equal meta must canonicalize identically")
}

func TestMessageRequiresDigest(t *testing.T) {
	msg := anchor.NewMessage("", 0, time.Now(), time.Now(), time.Now())
	_, err := msg.CanonicalBytes()
	require.Error(t, err)
	assert.True(t, anchor.IsCode(err, anchor.CodeInvalidInput))
}

func TestMessageDeterminism(t *testing.T) {
	start := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	msg := anchor.NewMessage(strings.Repeat("01", 32), 7, start, start.Add(time.Hour), start.Add(time.Hour))
	msg.Meta = map[string]string{"a": "1", "b": "2", "c": "3"}

	first, err := msg.CanonicalBytes()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := msg.CanonicalBytes()
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}
