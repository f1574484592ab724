// Package api is the one-shot HTTP query layer of the dashboard: short
// request/response calls against the game server's REST endpoints, separate
// from the realtime stream.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client issues authenticated one-shot requests against a game server.
type Client struct {
	baseURL    string
	token      string
	username   string
	httpClient *http.Client
}

// Response is the normalized result of one request. Data holds the decoded
// JSON body; non-JSON bodies are wrapped as {"text": ...}.
type Response struct {
	Status int
	OK     bool
	Data   map[string]any
}

// NewClient builds a client for a server base address. The token and
// username ride along as the X-Token / X-Username headers the server
// expects.
func NewClient(baseURL, token, username string) (*Client, error) {
	normalized, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:  normalized,
		token:    token,
		username: username,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}, nil
}

// normalizeBaseURL trims the address, strips any trailing slash and defaults
// the scheme to https.
func normalizeBaseURL(base string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	if trimmed == "" {
		return "", fmt.Errorf("base url is required")
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "https://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	return trimmed, nil
}

func normalizeEndpoint(endpoint string) string {
	if strings.HasPrefix(endpoint, "/") {
		return endpoint
	}
	return "/" + endpoint
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body any) (*Response, error) {
	target := c.baseURL + normalizeEndpoint(endpoint)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(c.token); token != "" {
		req.Header.Set("X-Token", token)
	}
	if username := strings.TrimSpace(c.username); username != "" {
		req.Header.Set("X-Username", username)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	data := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			data = map[string]any{"text": string(raw)}
		}
	}

	return &Response{
		Status: resp.StatusCode,
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Data:   data,
	}, nil
}

// payloadError extracts a server-reported error string from a response body,
// if any. The server reports failures inside 200 responses as an "error"
// field.
func payloadError(data map[string]any) string {
	if s, ok := data["error"].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// okField reports whether the body's "ok" field equals 1; the server uses
// this alongside the HTTP status.
func okField(data map[string]any) bool {
	n, ok := data["ok"].(float64)
	return ok && n == 1
}

// Profile is the authenticated user's identity.
type Profile struct {
	ID       string
	Username string
}

// AuthMe fetches the authenticated user's profile.
func (c *Client) AuthMe(ctx context.Context) (*Profile, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("auth profile request failed: HTTP %d", resp.Status)
	}
	if msg := payloadError(resp.Data); msg != "" {
		return nil, fmt.Errorf("auth profile request failed: %s", msg)
	}
	if !okField(resp.Data) {
		return nil, fmt.Errorf("auth profile returned ok!=1")
	}

	id, _ := resp.Data["_id"].(string)
	username, _ := resp.Data["username"].(string)
	if id == "" || username == "" {
		return nil, fmt.Errorf("auth profile response is missing identity fields")
	}
	return &Profile{ID: id, Username: username}, nil
}
