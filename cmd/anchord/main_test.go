package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func stubServe(t *testing.T, calls *int) {
	t.Helper()
	orig := startServe
	startServe = func(stdout, stderr io.Writer) int {
		*calls++
		return 0
	}
	t.Cleanup(func() { startServe = orig })
}

func TestRunDispatch(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		code      int
		serves    int
		stdoutHas string
		stderrHas string
	}{
		{name: "no args defaults to serve", args: []string{"anchord"}, serves: 1},
		{name: "serve", args: []string{"anchord", "serve"}, serves: 1},
		{name: "server alias", args: []string{"anchord", "server"}, serves: 1},
		{name: "flag prefix goes to serve", args: []string{"anchord", "--whatever"}, serves: 1},
		{name: "version", args: []string{"anchord", "version"}, stdoutHas: "anchord"},
		{name: "help", args: []string{"anchord", "help"}, stdoutHas: "USAGE"},
		{name: "unknown command", args: []string{"anchord", "bogus"}, code: 2, stderrHas: "Unknown command"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var serves int
			stubServe(t, &serves)

			var stdout, stderr bytes.Buffer
			code := Run(tc.args, &stdout, &stderr)

			if code != tc.code {
				t.Errorf("exit = %d, want %d", code, tc.code)
			}
			if serves != tc.serves {
				t.Errorf("serve calls = %d, want %d", serves, tc.serves)
			}
			if tc.stdoutHas != "" && !strings.Contains(stdout.String(), tc.stdoutHas) {
				t.Errorf("stdout = %q, want it to contain %q", stdout.String(), tc.stdoutHas)
			}
			if tc.stderrHas != "" && !strings.Contains(stderr.String(), tc.stderrHas) {
				t.Errorf("stderr = %q, want it to contain %q", stderr.String(), tc.stderrHas)
			}
		})
	}
}

func TestHealthCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var out, errOut bytes.Buffer
	if code := runHealthCmd([]string{"--url", srv.URL}, &out, &errOut); code != 0 {
		t.Fatalf("exit = %d, want 0 (stderr: %s)", code, errOut.String())
	}
	if !strings.Contains(out.String(), "OK") {
		t.Errorf("stdout = %q, want OK", out.String())
	}
}

func TestHealthCmdUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var out, errOut bytes.Buffer
	if code := runHealthCmd([]string{"--url", srv.URL}, &out, &errOut); code != 1 {
		t.Errorf("exit = %d, want 1", code)
	}
	if !strings.Contains(errOut.String(), "Health check failed") {
		t.Errorf("stderr = %q, want failure message", errOut.String())
	}
}

func TestHealthCmdUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	var out, errOut bytes.Buffer
	if code := runHealthCmd([]string{"--url", url}, &out, &errOut); code != 1 {
		t.Errorf("exit = %d, want 1", code)
	}
}

func TestAnchorCmdWindowValidation(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		stderrHas string
	}{
		{
			name:      "malformed start",
			args:      []string{"--start", "yesterday"},
			stderrHas: "--start",
		},
		{
			name:      "start after end",
			args:      []string{"--start", "2024-06-02T00:00:00Z", "--end", "2024-06-01T00:00:00Z"},
			stderrHas: "must be before",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := runAnchorCmd(tc.args, &stdout, &stderr); code != 2 {
				t.Errorf("exit = %d, want 2", code)
			}
			if !strings.Contains(stderr.String(), tc.stderrHas) {
				t.Errorf("stderr = %q, want it to contain %q", stderr.String(), tc.stderrHas)
			}
		})
	}
}

func TestVerifyCmdRequiresHash(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runVerifyCmd(nil, &stdout, &stderr); code != 2 {
		t.Errorf("exit = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "--event-hash") {
		t.Errorf("stderr = %q, want it to mention --event-hash", stderr.String())
	}
}

// TestAnchorCmdEmptyWindow drives the one-shot command end to end against
// an in-memory store with the ledger disabled. An empty window is a
// success, not a failure.
func TestAnchorCmdEmptyWindow(t *testing.T) {
	t.Setenv("DATABASE_URL", ":memory:")
	t.Setenv("IOTA_ENABLED", "false")
	t.Setenv("IOTA_NETWORK", "testnet")
	t.Setenv("ANCHOR_ARCHIVE_TYPE", "")
	t.Setenv("ANCHOR_ARCHIVE_DIR", t.TempDir())
	t.Setenv("ANCHOR_PROFILE_DIR", t.TempDir())
	t.Setenv("ANCHOR_EVENT_FILTER", "")
	t.Setenv("ANCHOR_PALLET_FILTER", "")

	args := []string{
		"--start", "2024-06-01T00:00:00Z",
		"--end", "2024-06-02T00:00:00Z",
		"--json",
	}

	var stdout, stderr bytes.Buffer
	if code := runAnchorCmd(args, &stdout, &stderr); code != 0 {
		t.Fatalf("exit = %d, want 0 (stderr: %s)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"outcome": "empty"`) {
		t.Errorf("stdout = %q, want an empty outcome", stdout.String())
	}
}
