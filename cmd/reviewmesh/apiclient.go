package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	httphandler "github.com/ericfisherdev/reviewmesh/internal/adapter/driving/http"
)

// apiClient talks to the HTTP API of a running peer. Writes from the CLI go
// through it so they are applied by the peer's sync service.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(addr string) *apiClient {
	return &apiClient{
		base: "http://" + loopback(addr),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// loopback rewrites a bind-all address to the loopback interface.
func loopback(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is `reviewmesh serve` running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: %s: %s", http.MethodPost, path, resp.Status, apiErr.Error)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) submitComment(ctx context.Context, sessionID string, req httphandler.CreateCommentRequest) (httphandler.CommentResponse, error) {
	var out httphandler.CommentResponse
	err := c.post(ctx, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/comments", req, &out)
	return out, err
}

func (c *apiClient) resolveComment(ctx context.Context, sessionID, commentID string, req httphandler.ResolveCommentRequest) (httphandler.CommentResponse, error) {
	var out httphandler.CommentResponse
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/comments/" + url.PathEscape(commentID) + "/resolve"
	err := c.post(ctx, path, req, &out)
	return out, err
}

func (c *apiClient) sendChat(ctx context.Context, sessionID string, req httphandler.CreateChatRequest) (httphandler.ChatLineResponse, error) {
	var out httphandler.ChatLineResponse
	err := c.post(ctx, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/chat", req, &out)
	return out, err
}
