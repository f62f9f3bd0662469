package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ared-network/iota-anchor/pkg/anchor"
)

const (
	maxBodyBytes = 1 << 20

	defaultPageLimit = 50
	maxPageLimit     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// queryInt reads an integer query parameter, falling back to def when the
// parameter is absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// decodeValidated reads the body, checks it against the schema, and fills
// out. The double unmarshal keeps schema pointers ahead of Go type errors.
// An empty body validates as an empty object.
func decodeValidated(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, out any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteBadRequest(w, "request body unreadable or too large")
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		WriteBadRequest(w, "request body is not valid JSON")
		return false
	}
	if err := schema.Validate(raw); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		WriteBadRequest(w, "request body does not match the expected shape")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "iota-anchor"})
}

// handleReadiness answers whether the service can do useful work: the
// database must ping and, when the ledger is enabled, the node must be
// healthy.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	checks := map[string]string{}
	ready := true

	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			checks["database"] = "unreachable"
			ready = false
		} else {
			checks["database"] = "ok"
		}
	}
	if s.cfg.LedgerEnabled && s.node != nil {
		if err := s.node.Health(r.Context()); err != nil {
			checks["ledger"] = "unreachable"
			ready = false
		} else {
			checks["ledger"] = "ok"
		}
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func (s *Server) handleAnchors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	s.listAnchors(w, r)
}

func (s *Server) listAnchors(w http.ResponseWriter, r *http.Request) {
	var status anchor.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = anchor.Status(strings.ToLower(raw))
		if !status.Valid() {
			WriteBadRequest(w, "unknown status "+strconv.Quote(raw))
			return
		}
	}
	limit, err := queryInt(r, "limit", defaultPageLimit)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if limit == 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	list, err := s.repo.ListAnchors(r.Context(), anchor.ListQuery{Status: status, Limit: limit, Offset: offset})
	if err != nil {
		WriteInternal(w, err)
		return
	}
	total, err := s.repo.CountAnchors(r.Context(), status)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if list == nil {
		list = []*anchor.Anchor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"anchors": list,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// handleAnchorSubtree dispatches /api/v1/anchors/{id} and its children.
func (s *Server) handleAnchorSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/anchors/"), "/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.getAnchor(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "items":
		s.listItems(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "retry":
		s.retryAnchor(w, r, parts[0])
	default:
		WriteNotFound(w, "unknown anchor resource")
	}
}

func (s *Server) getAnchor(w http.ResponseWriter, r *http.Request, idStr string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		WriteBadRequest(w, "invalid anchor id")
		return
	}
	a, err := s.repo.GetAnchor(r.Context(), id)
	if errors.Is(err, anchor.ErrAnchorNotFound) {
		WriteNotFound(w, "anchor not found")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request, idStr string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		WriteBadRequest(w, "invalid anchor id")
		return
	}
	limit, err := queryInt(r, "limit", defaultPageLimit)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if limit == 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	if _, err := s.repo.GetAnchor(r.Context(), id); err != nil {
		if errors.Is(err, anchor.ErrAnchorNotFound) {
			WriteNotFound(w, "anchor not found")
			return
		}
		WriteInternal(w, err)
		return
	}

	items, total, err := s.repo.ListItems(r.Context(), id, anchor.ItemsQuery{
		DeviceID: r.URL.Query().Get("device_id"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if items == nil {
		items = []*anchor.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"anchor_id": id,
		"items":     items,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if !s.authorized(w, r) {
		return
	}
	if s.runner == nil {
		WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "anchor runs are disabled")
		return
	}

	var req struct {
		Start               *string `json:"start"`
		End                 *string `json:"end"`
		WaitForConfirmation bool    `json:"wait_for_confirmation"`
	}
	if !decodeValidated(w, r, s.schemas.run, &req) {
		return
	}

	start, ok := parseTimeParam(w, "start", req.Start)
	if !ok {
		return
	}
	end, ok := parseTimeParam(w, "end", req.End)
	if !ok {
		return
	}
	if start != nil && end != nil && !start.Before(*end) {
		WriteBadRequest(w, "start must be before end")
		return
	}

	s.log.InfoContext(r.Context(), "manual anchor run requested",
		"wait", req.WaitForConfirmation)
	res := s.runner.Run(r.Context(), start, end, req.WaitForConfirmation)
	writeJSON(w, statusForResult(res), res)
}

// parseTimeParam parses an optional RFC 3339 field, writing the problem
// response itself on failure.
func parseTimeParam(w http.ResponseWriter, name string, raw *string) (*time.Time, bool) {
	if raw == nil {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		WriteBadRequest(w, name+" must be an RFC 3339 timestamp")
		return nil, false
	}
	t = t.UTC()
	return &t, true
}

// statusForResult maps a run result onto an HTTP status. The body is the
// full result either way so callers always see outcome and timing.
func statusForResult(res *anchor.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.ErrorCode {
	case anchor.CodeInvalidInput:
		return http.StatusBadRequest
	case anchor.CodeLedgerUnavailable, anchor.CodeLedgerSubmission, anchor.CodeLedgerConflicting:
		return http.StatusBadGateway
	case anchor.CodeLedgerConfirmationTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) retryAnchor(w http.ResponseWriter, r *http.Request, idStr string) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if !s.authorized(w, r) {
		return
	}
	if s.retrier == nil {
		WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "reconciliation is disabled")
		return
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		WriteBadRequest(w, "invalid anchor id")
		return
	}

	s.log.InfoContext(r.Context(), "manual anchor retry requested", "anchor_id", id.String())
	sum, err := s.retrier.RetryAnchor(r.Context(), id)
	switch {
	case errors.Is(err, anchor.ErrAnchorNotFound):
		WriteNotFound(w, "anchor not found")
		return
	case anchor.IsCode(err, anchor.CodeInvalidInput):
		WriteConflict(w, "anchor already confirmed")
		return
	case err != nil:
		WriteInternal(w, err)
		return
	}

	refreshed, err := s.repo.GetAnchor(r.Context(), id)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": sum, "anchor": refreshed})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	var req struct {
		EventHash string `json:"event_hash"`
	}
	if !decodeValidated(w, r, s.schemas.verify, &req) {
		return
	}

	v, err := s.verifier.VerifyEventHash(r.Context(), req.EventHash)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleNodeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if !s.cfg.LedgerEnabled || s.node == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}

	out := map[string]any{
		"enabled": true,
		"network": s.node.Network(),
		"healthy": s.node.Health(r.Context()) == nil,
	}
	if info, err := s.node.Info(r.Context()); err == nil {
		out["info"] = info
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	stats, err := s.repo.Stats(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
