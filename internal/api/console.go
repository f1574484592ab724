package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// ConsoleResult is the outcome of a console command execution.
type ConsoleResult struct {
	OK       bool
	Feedback string
}

// ConsoleExecute runs a line of code in the game server's console. An empty
// shard targets the server's default; otherwise it must name a shard like
// "shard0".
func (c *Client) ConsoleExecute(ctx context.Context, code, shard string) (*ConsoleResult, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return nil, fmt.Errorf("console command cannot be empty")
	}

	body := map[string]any{"expression": trimmed}
	if shard != "" {
		normalized, ok := normalizeShard(shard)
		if !ok {
			return nil, fmt.Errorf("invalid shard %q", shard)
		}
		body["shard"] = normalized
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/user/console", nil, body)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("console request failed: HTTP %d", resp.Status)
	}
	if msg := payloadError(resp.Data); msg != "" {
		return nil, fmt.Errorf("console request failed: %s", msg)
	}

	return &ConsoleResult{
		OK:       true,
		Feedback: extractFeedback(resp.Data),
	}, nil
}

// normalizeShard accepts names of the form "shard<digits>", case-insensitive.
func normalizeShard(shard string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(shard))
	if !strings.HasPrefix(normalized, "shard") {
		return "", false
	}
	digits := normalized[len("shard"):]
	if digits == "" {
		return "", false
	}
	for _, ch := range digits {
		if ch < '0' || ch > '9' {
			return "", false
		}
	}
	return normalized, true
}

// Feedback-bearing keys, in priority order.
var feedbackKeys = []string{"result", "output", "stdout", "message", "text", "status"}

// extractFeedback pulls a human-readable result out of the console response,
// discarding the server's acknowledgment noise.
func extractFeedback(data map[string]any) string {
	for _, key := range feedbackKeys {
		if s, ok := data[key].(string); ok {
			if feedback := sanitizeFeedback(s); feedback != "" {
				return feedback
			}
		}
	}
	return ""
}

// sanitizeFeedback drops responses that are acknowledgments rather than
// output: "1", "ok", "ok <opaque-token>", or a bare opaque token.
func sanitizeFeedback(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || trimmed == "1" || strings.EqualFold(trimmed, "ok") {
		return ""
	}
	lowered := strings.ToLower(trimmed)
	if strings.HasPrefix(lowered, "ok ") && isOpaqueToken(strings.TrimSpace(trimmed[3:])) {
		return ""
	}
	if isOpaqueToken(trimmed) {
		return ""
	}
	return trimmed
}

// isOpaqueToken recognizes hex-ish identifiers the server echoes back in
// place of real output.
func isOpaqueToken(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.ContainsAny(trimmed, " \t") {
		return false
	}
	hexCount := 0
	for _, ch := range trimmed {
		switch {
		case ch >= '0' && ch <= '9', ch >= 'a' && ch <= 'f', ch >= 'A' && ch <= 'F':
			hexCount++
		case ch == '-':
		default:
			return false
		}
	}
	return hexCount >= 16
}
