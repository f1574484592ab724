// Package stream implements the realtime streaming client for a Screeps-style
// game server: one persistent websocket carrying many logical channels, with
// automatic reconnection, reference-counted subscriptions and tolerant parsing
// of the two text framings the server is known to speak.
package stream

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Event is one decoded inbound frame. Payload holds whatever the frame
// carried, decoded to nil, bool, float64, string, map[string]any or []any.
// Events are immutable after construction and are not retained by the client
// once dispatched.
type Event struct {
	Channel    string
	Payload    any
	Raw        string
	ReceivedAt time.Time
}

// Handler receives decoded events for a channel.
type Handler func(Event)

// Channel-bearing keys the server uses interchangeably on object frames.
var channelKeys = []string{"event", "channel", "topic", "type"}

// Payload-bearing keys, checked in priority order.
var payloadKeys = []string{"data", "payload", "result", "message"}

// Reply event names that mark the envelope framing's acknowledgment frames.
var replyEvents = map[string]struct{}{
	"reply":     {},
	"phx_reply": {},
}

// ParseFrame decodes one raw text frame into an Event. It returns nil for
// empty frames and for frames that carry no channel at all. Malformed input
// degrades to a string payload rather than an error; a bad frame must never
// cost the connection.
func ParseFrame(line string) *Event {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	now := time.Now()

	if trimmed[0] == '{' || trimmed[0] == '[' {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			// Looks structured but isn't. Keep the raw text so wildcard
			// consumers can still observe it.
			return &Event{Payload: line, Raw: line, ReceivedAt: now}
		}
		return eventFromValue(decoded, line, now)
	}

	channel, rest := splitFrame(trimmed)
	payload := parsePayload(rest)
	if channel == "auth" {
		payload = normalizeAuthPayload(payload)
	}
	return &Event{Channel: channel, Payload: payload, Raw: line, ReceivedAt: now}
}

// eventFromValue maps an already-decoded JSON value onto the Event shape.
func eventFromValue(decoded any, raw string, now time.Time) *Event {
	switch v := decoded.(type) {
	case map[string]any:
		channel := ""
		for _, key := range channelKeys {
			if s, ok := v[key].(string); ok && s != "" {
				channel = s
				break
			}
		}
		var payload any
		for _, key := range payloadKeys {
			if p, ok := v[key]; ok {
				payload = p
				break
			}
		}
		if channel == "auth" {
			payload = normalizeAuthPayload(payload)
		}
		return &Event{Channel: channel, Payload: payload, Raw: raw, ReceivedAt: now}
	case []any:
		if ev := replyEnvelope(v, raw, now); ev != nil {
			return ev
		}
		return &Event{Payload: v, Raw: raw, ReceivedAt: now}
	default:
		return &Event{Payload: v, Raw: raw, ReceivedAt: now}
	}
}

// replyEnvelope recognizes the 5-element acknowledgment envelope
// [seq, ref, topic, event, payload] and normalizes a recognizable auth
// acknowledgment into the same {status} shape the line protocol produces.
func replyEnvelope(items []any, raw string, now time.Time) *Event {
	if len(items) != 5 {
		return nil
	}
	if _, ok := items[0].(float64); !ok {
		return nil
	}
	if items[1] != nil {
		if _, ok := items[1].(string); !ok {
			if _, ok := items[1].(float64); !ok {
				return nil
			}
		}
	}
	event, ok := items[3].(string)
	if !ok {
		return nil
	}
	if _, ok := replyEvents[event]; !ok {
		return nil
	}
	status := envelopeStatus(items[4])
	if status == "" {
		return nil
	}
	return &Event{
		Channel:    "auth",
		Payload:    map[string]any{"status": status},
		Raw:        raw,
		ReceivedAt: now,
	}
}

func envelopeStatus(payload any) string {
	switch v := payload.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["status"].(string); ok {
			return s
		}
	}
	return ""
}

// splitFrame cuts a line-protocol frame at the first whitespace run.
func splitFrame(line string) (channel, rest string) {
	idx := strings.IndexFunc(line, isSpace)
	if idx < 0 {
		return line, ""
	}
	return line[:idx], strings.TrimLeftFunc(line[idx:], isSpace)
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r' || r == '\n'
}

// parsePayload decodes a payload segment: structured JSON when it looks like
// it, scalar coercion otherwise. A missing segment is a nil payload.
func parsePayload(segment string) any {
	if segment == "" {
		return nil
	}
	if segment[0] == '{' || segment[0] == '[' {
		var decoded any
		if err := json.Unmarshal([]byte(segment), &decoded); err == nil {
			return decoded
		}
	}
	return coerceScalar(segment)
}

// coerceScalar applies the plain-text typing rules the server relies on:
// the same transport mixes typed JSON values and untyped text.
func coerceScalar(text string) any {
	switch text {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseFloat(text, 64); err == nil {
		return n
	}
	return text
}

// normalizeAuthPayload gives auth results a uniform {status} shape whichever
// framing produced them.
func normalizeAuthPayload(payload any) any {
	if s, ok := payload.(string); ok {
		return map[string]any{"status": s}
	}
	return payload
}
