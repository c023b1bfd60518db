// Command healthcheck exits non-zero unless the local reviewmesh peer answers
// its health endpoint, and, when REVIEWMESH_SESSION_ID is set, serves that
// session. It is meant for container HEALTHCHECK directives.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	httphandler "github.com/ericfisherdev/reviewmesh/internal/adapter/driving/http"
)

const defaultAddr = "127.0.0.1:8470"

func main() {
	if err := check(os.Getenv("REVIEWMESH_API_ADDR"), os.Getenv("REVIEWMESH_SESSION_ID")); err != nil {
		fmt.Fprintln(os.Stderr, "unhealthy:", err)
		os.Exit(1)
	}
}

// check queries the health endpoint at rawAddr. An empty wantSession accepts
// whichever session the peer serves.
func check(rawAddr, wantSession string) error {
	addr := normalizeAddr(rawAddr)

	client := &http.Client{Timeout: 2 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/api/v1/health", addr), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("query %s: %w", addr, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %s", resp.Status)
	}

	var health httphandler.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if health.Status != "ok" {
		return fmt.Errorf("peer reports status %q", health.Status)
	}
	if wantSession != "" && health.SessionID != wantSession {
		return fmt.Errorf("peer serves session %q, want %q", health.SessionID, wantSession)
	}

	return nil
}

// normalizeAddr targets loopback when the peer's API binds every interface,
// since the check runs on the peer's host.
func normalizeAddr(raw string) string {
	if raw == "" {
		return defaultAddr
	}

	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return defaultAddr
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	return net.JoinHostPort(host, port)
}
