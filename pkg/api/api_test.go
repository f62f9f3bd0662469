package api_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ared-network/iota-anchor/pkg/anchor"
	"github.com/ared-network/iota-anchor/pkg/api"
	"github.com/ared-network/iota-anchor/pkg/database"
	"github.com/ared-network/iota-anchor/pkg/merkle"
	"github.com/ared-network/iota-anchor/pkg/reconcile"
	"github.com/ared-network/iota-anchor/pkg/store/anchors"
	"github.com/ared-network/iota-anchor/pkg/tangle"
)

type fakeRunner struct {
	lastStart *time.Time
	lastEnd   *time.Time
	lastWait  bool
	res       *anchor.Result
}

func (f *fakeRunner) Run(_ context.Context, start, end *time.Time, wait bool) *anchor.Result {
	f.lastStart, f.lastEnd, f.lastWait = start, end, wait
	if f.res != nil {
		return f.res
	}
	return &anchor.Result{Success: true, Outcome: anchor.OutcomeCreated, EventCount: 3}
}

type fakeRetrier struct {
	lastID uuid.UUID
	sum    *reconcile.Summary
	err    error
}

func (f *fakeRetrier) RetryAnchor(_ context.Context, id uuid.UUID) (*reconcile.Summary, error) {
	f.lastID = id
	if f.err != nil {
		return nil, f.err
	}
	if f.sum != nil {
		return f.sum, nil
	}
	return &reconcile.Summary{Processed: 1, Retried: 1}, nil
}

type fakeNode struct {
	healthErr error
	info      *tangle.NodeInfo
}

func (f *fakeNode) Health(context.Context) error { return f.healthErr }

func (f *fakeNode) Info(context.Context) (*tangle.NodeInfo, error) {
	if f.info == nil {
		return nil, errors.New("info unavailable")
	}
	return f.info, nil
}

func (f *fakeNode) Network() string { return "testnet" }

type fixture struct {
	repo    *anchors.Store
	runner  *fakeRunner
	retrier *fakeRetrier
	node    *fakeNode
	srv     *httptest.Server
}

func newFixture(t *testing.T, cfg api.Config) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo, err := anchors.NewStore(context.Background(), db, nil)
	require.NoError(t, err)

	// Generous default so unrelated tests never trip the limiter.
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 1000
		cfg.RateLimitBurst = 1000
	}

	fx := &fixture{repo: repo, runner: &fakeRunner{}, retrier: &fakeRetrier{}, node: &fakeNode{}}
	s, err := api.NewServer(repo, fx.runner, fx.retrier, fx.node, db, cfg,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	fx.srv = httptest.NewServer(s.Routes())
	t.Cleanup(fx.srv.Close)
	return fx
}

func (fx *fixture) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(fx.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp)
}

func (fx *fixture) post(t *testing.T, path, token string, body []byte) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, fx.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return out
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func seedAnchor(t *testing.T, repo anchor.Repository, digest string, status anchor.Status) *anchor.Anchor {
	t.Helper()
	created := time.Now().UTC().Add(-time.Hour)
	a := &anchor.Anchor{
		Digest:    digest,
		StartTime: created.Add(-24 * time.Hour),
		EndTime:   created,
		ItemCount: 2,
		Status:    status,
		CreatedAt: created,
	}
	if status == anchor.StatusPosted || status == anchor.StatusConfirmed {
		a.BlockID = "0x" + digest
		a.Network = "testnet"
		a.ExplorerURL = "https://explorer.example/testnet/block/0x" + digest
	}
	_, _, err := repo.UpsertAnchor(context.Background(), a)
	require.NoError(t, err)
	return a
}

func eventHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func signToken(t *testing.T, secret string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestHealth(t *testing.T) {
	fx := newFixture(t, api.Config{})
	code, body := fx.get(t, "/health")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
}

func TestReadiness(t *testing.T) {
	fx := newFixture(t, api.Config{LedgerEnabled: true})
	code, body := fx.get(t, "/readiness")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ready", body["status"])

	fx.node.healthErr = errors.New("node down")
	code, body = fx.get(t, "/readiness")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]any)
	require.Equal(t, "ok", checks["database"])
	require.Equal(t, "unreachable", checks["ledger"])
}

func TestListAnchors(t *testing.T) {
	fx := newFixture(t, api.Config{})
	seedAnchor(t, fx.repo, "d1", anchor.StatusPending)
	seedAnchor(t, fx.repo, "d2", anchor.StatusPending)
	seedAnchor(t, fx.repo, "d3", anchor.StatusConfirmed)

	code, body := fx.get(t, "/api/v1/anchors")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 3, body["total"])
	require.Len(t, body["anchors"], 3)

	code, body = fx.get(t, "/api/v1/anchors?status=pending")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 2, body["total"])

	code, body = fx.get(t, "/api/v1/anchors?limit=1&offset=1")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["anchors"], 1)
	require.EqualValues(t, 1, body["limit"])

	code, _ = fx.get(t, "/api/v1/anchors?status=bogus")
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = fx.get(t, "/api/v1/anchors?limit=nope")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestGetAnchor(t *testing.T) {
	fx := newFixture(t, api.Config{})
	a := seedAnchor(t, fx.repo, "d1", anchor.StatusPosted)

	code, body := fx.get(t, "/api/v1/anchors/"+a.ID.String())
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "d1", body["digest"])
	require.Equal(t, "0xd1", body["iota_block_id"])

	code, body = fx.get(t, "/api/v1/anchors/"+uuid.NewString())
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "Not Found", body["title"])

	code, _ = fx.get(t, "/api/v1/anchors/not-a-uuid")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestAnchorItems(t *testing.T) {
	fx := newFixture(t, api.Config{})
	ctx := context.Background()
	a := seedAnchor(t, fx.repo, "d1", anchor.StatusPosted)
	require.NoError(t, fx.repo.SaveItems(ctx, []*anchor.Item{
		{AnchorID: a.ID, EventHash: "aa", Position: 0, Proof: []string{"R:bb"}},
		{AnchorID: a.ID, EventHash: "bb", Position: 1, Proof: []string{"L:aa"}},
	}))

	code, body := fx.get(t, "/api/v1/anchors/"+a.ID.String()+"/items")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 2, body["total"])
	items := body["items"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	require.Equal(t, "aa", first["event_hash"])
	require.EqualValues(t, 0, first["position_in_merkle"])

	// No events recorded for this device, so the join filters everything.
	code, body = fx.get(t, "/api/v1/anchors/"+a.ID.String()+"/items?device_id=device-9")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 0, body["total"])

	code, _ = fx.get(t, "/api/v1/anchors/"+uuid.NewString()+"/items")
	require.Equal(t, http.StatusNotFound, code)
}

func TestVerifyEndpoint(t *testing.T) {
	fx := newFixture(t, api.Config{})
	ctx := context.Background()

	h1, h2 := eventHash("event-1"), eventHash("event-2")
	tree, err := merkle.BuildFromRawHashes([]string{h1, h2})
	require.NoError(t, err)
	p0, err := tree.Prove(0)
	require.NoError(t, err)
	p1, err := tree.Prove(1)
	require.NoError(t, err)

	a := seedAnchor(t, fx.repo, tree.Root, anchor.StatusConfirmed)
	require.NoError(t, fx.repo.SaveItems(ctx, []*anchor.Item{
		{AnchorID: a.ID, EventHash: h1, Position: 0, Proof: p0.Compact()},
		{AnchorID: a.ID, EventHash: h2, Position: 1, Proof: p1.Compact()},
	}))

	code, body := fx.post(t, "/api/v1/verify", "", mustJSON(t, map[string]string{"event_hash": h1}))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["verified"])
	require.Equal(t, "Event hash verified against anchored Merkle root", body["message"])
	require.Equal(t, tree.Root, body["anchor_digest"])
	require.Equal(t, a.ExplorerURL, body["explorer_url"])

	code, body = fx.post(t, "/api/v1/verify", "", mustJSON(t, map[string]string{"event_hash": eventHash("absent")}))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["verified"])
	require.Equal(t, "Event hash not found in any anchor", body["message"])
}

func TestVerifySchemaRejections(t *testing.T) {
	fx := newFixture(t, api.Config{})

	for name, body := range map[string][]byte{
		"missing hash":  []byte(`{}`),
		"numeric hash":  []byte(`{"event_hash": 7}`),
		"unknown field": []byte(`{"event_hash": "aa", "bogus": true}`),
		"not json":      []byte(`{not json`),
	} {
		code, _ := fx.post(t, "/api/v1/verify", "", body)
		require.Equal(t, http.StatusBadRequest, code, name)
	}
}

func TestRunEndpoint(t *testing.T) {
	fx := newFixture(t, api.Config{})

	code, body := fx.post(t, "/api/v1/anchors/run", "", []byte(`{}`))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "created", body["outcome"])
	require.Nil(t, fx.runner.lastStart)
	require.False(t, fx.runner.lastWait)

	code, _ = fx.post(t, "/api/v1/anchors/run", "", mustJSON(t, map[string]any{
		"start":                 "2026-03-01T00:00:00Z",
		"end":                   "2026-03-02T00:00:00Z",
		"wait_for_confirmation": true,
	}))
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, fx.runner.lastStart)
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *fx.runner.lastStart)
	require.True(t, fx.runner.lastWait)

	code, _ = fx.post(t, "/api/v1/anchors/run", "", mustJSON(t, map[string]any{"start": "yesterday"}))
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = fx.post(t, "/api/v1/anchors/run", "", mustJSON(t, map[string]any{
		"start": "2026-03-02T00:00:00Z",
		"end":   "2026-03-01T00:00:00Z",
	}))
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = fx.post(t, "/api/v1/anchors/run", "", []byte(`{"bogus": 1}`))
	require.Equal(t, http.StatusBadRequest, code)
}

func TestRunReportsLedgerFailure(t *testing.T) {
	fx := newFixture(t, api.Config{})
	fx.runner.res = &anchor.Result{
		Success:   false,
		Outcome:   anchor.OutcomeFailed,
		Error:     "node unreachable",
		ErrorCode: anchor.CodeLedgerUnavailable,
	}

	code, body := fx.post(t, "/api/v1/anchors/run", "", []byte(`{}`))
	require.Equal(t, http.StatusBadGateway, code)
	require.Equal(t, "failed", body["outcome"])
	require.Equal(t, "node unreachable", body["error"])
}

func TestRunAuth(t *testing.T) {
	const secret = "test-secret"
	fx := newFixture(t, api.Config{JWTSecret: secret})

	code, body := fx.post(t, "/api/v1/anchors/run", "", []byte(`{}`))
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "Unauthorized", body["title"])

	code, _ = fx.post(t, "/api/v1/anchors/run", "garbage", []byte(`{}`))
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = fx.post(t, "/api/v1/anchors/run", signToken(t, "wrong-secret"), []byte(`{}`))
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = fx.post(t, "/api/v1/anchors/run", signToken(t, secret), []byte(`{}`))
	require.Equal(t, http.StatusOK, code)
}

func TestRetryEndpoint(t *testing.T) {
	fx := newFixture(t, api.Config{})
	a := seedAnchor(t, fx.repo, "d1", anchor.StatusFailed)

	code, body := fx.post(t, "/api/v1/anchors/"+a.ID.String()+"/retry", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, a.ID, fx.retrier.lastID)
	result := body["result"].(map[string]any)
	require.EqualValues(t, 1, result["retried"])
	refreshed := body["anchor"].(map[string]any)
	require.Equal(t, "d1", refreshed["digest"])

	fx.retrier.err = anchor.ErrAnchorNotFound
	code, _ = fx.post(t, "/api/v1/anchors/"+uuid.NewString()+"/retry", "", nil)
	require.Equal(t, http.StatusNotFound, code)

	fx.retrier.err = anchor.NewError(anchor.CodeInvalidInput, "anchor already confirmed", nil)
	code, body = fx.post(t, "/api/v1/anchors/"+a.ID.String()+"/retry", "", nil)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "Conflict", body["title"])

	code, _ = fx.post(t, "/api/v1/anchors/nope/retry", "", nil)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestNodeStatus(t *testing.T) {
	fx := newFixture(t, api.Config{})
	code, body := fx.get(t, "/api/v1/node/status")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["enabled"])

	fx = newFixture(t, api.Config{LedgerEnabled: true})
	fx.node.info = &tangle.NodeInfo{Name: "HORNET", Version: "2.0.1"}
	code, body = fx.get(t, "/api/v1/node/status")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["enabled"])
	require.Equal(t, true, body["healthy"])
	require.Equal(t, "testnet", body["network"])
	info := body["info"].(map[string]any)
	require.Equal(t, "HORNET", info["name"])
}

func TestStats(t *testing.T) {
	fx := newFixture(t, api.Config{})
	seedAnchor(t, fx.repo, "d1", anchor.StatusPending)
	seedAnchor(t, fx.repo, "d2", anchor.StatusConfirmed)

	code, body := fx.get(t, "/api/v1/stats")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 2, body["total_anchors"])
	byStatus := body["by_status"].(map[string]any)
	require.EqualValues(t, 1, byStatus["confirmed"])
}

func TestMethodNotAllowed(t *testing.T) {
	fx := newFixture(t, api.Config{})
	a := seedAnchor(t, fx.repo, "d1", anchor.StatusPending)

	code, _ := fx.post(t, "/api/v1/anchors", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, code)

	code, _ = fx.post(t, "/api/v1/anchors/"+a.ID.String(), "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, code)

	resp, err := http.Get(fx.srv.URL + "/api/v1/verify")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestUnknownAnchorResource(t *testing.T) {
	fx := newFixture(t, api.Config{})
	code, _ := fx.get(t, "/api/v1/anchors/x/y/z")
	require.Equal(t, http.StatusNotFound, code)
}

func TestRateLimit(t *testing.T) {
	fx := newFixture(t, api.Config{RateLimitRPS: 1, RateLimitBurst: 1})

	resp, err := http.Get(fx.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(fx.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "5", resp.Header.Get("Retry-After"))
}
