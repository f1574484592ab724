package stream

import (
	"encoding/json"
	"regexp"
	"strings"
)

// The server is not self-announcing: depending on deployment it speaks either
// a plain line protocol ("<verb> <arg>") or a bracketed envelope protocol in
// which event frames carry a numeric type tag and the session is opened with
// a fixed token. Everything that knows about the difference lives here so the
// detection heuristic can be revised without touching the state machine.
const (
	// handshakePreamble is the bare token the envelope framing sends as its
	// first frame after the socket opens.
	handshakePreamble = "o"

	// heartbeatFrame is the envelope framing's keepalive; it carries no event.
	heartbeatFrame = "h"

	// sessionOpenCommand is the fixed token that opens a logical session on
	// the envelope framing.
	sessionOpenCommand = "40"

	// eventTag is the numeric type tag prefixed to envelope event frames.
	eventTag = "42"
)

// taggedBracket matches a numeric-prefixed bracket payload, the signature of
// an envelope-framing event frame.
var taggedBracket = regexp.MustCompile(`^[0-9]+[\[{]`)

// detector decides, from inbound traffic alone, which framing the server is
// speaking. The flag is one-way: once envelope framing has been seen the
// detector never reverts for the lifetime of the client instance.
type detector struct {
	envelope bool
}

// Envelope reports whether the alternate (envelope) framing is active.
func (d *detector) Envelope() bool {
	return d.envelope
}

// Observe inspects one raw inbound frame. It returns the frame body with any
// envelope decoration stripped (empty when the frame carries no event), and
// whether this frame flipped detection to the envelope framing.
func (d *detector) Observe(raw string) (body string, switched bool) {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == handshakePreamble:
		switched = d.flip()
		return "", switched
	case trimmed == heartbeatFrame && d.envelope:
		return "", false
	case taggedBracket.MatchString(trimmed):
		switched = d.flip()
		return strings.TrimLeft(trimmed, "0123456789"), switched
	default:
		return trimmed, false
	}
}

func (d *detector) flip() bool {
	if d.envelope {
		return false
	}
	d.envelope = true
	return true
}

// EncodeCommand renders a verb/argument command in the currently active
// framing.
func (d *detector) EncodeCommand(verb, arg string) string {
	if !d.envelope {
		if arg == "" {
			return verb
		}
		return verb + " " + arg
	}
	return encodeEnvelopeCommand(verb, arg)
}

// encodeLineCommand renders a verb/argument command in the plain line framing
// regardless of detection state.
func encodeLineCommand(verb, arg string) string {
	if arg == "" {
		return verb
	}
	return verb + " " + arg
}

// encodeEnvelopeCommand wraps a command as a tagged two-element array, the
// envelope framing's convention for client events.
func encodeEnvelopeCommand(verb, arg string) string {
	parts, err := json.Marshal([2]string{verb, arg})
	if err != nil {
		// [2]string cannot fail to marshal; keep the command flowing anyway.
		return eventTag + `["` + verb + `","` + arg + `"]`
	}
	return eventTag + string(parts)
}

// EncodeRaw renders a verbatim caller command in the currently active
// framing. Line framing passes the text through untouched; the envelope
// framing wraps it the same way subscribe/auth are wrapped.
func (d *detector) EncodeRaw(command string) string {
	if !d.envelope {
		return command
	}
	verb, arg := splitFrame(strings.TrimSpace(command))
	return encodeEnvelopeCommand(verb, arg)
}
