// Package codec splits raw transport frames into envelopes.
//
// The upstream transport has no guaranteed message-boundary framing:
// the server's write pump concatenates queued messages with newlines,
// and some code paths have been observed emitting adjacent JSON objects
// with no separator at all. The decoder is therefore deliberately
// liberal: it tries whole-frame parsing first, then newline splitting,
// then the "}{"  boundary heuristic, and never fails a whole frame
// because one fragment is malformed.
package codec

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"

	"social-rtc/internal/domain"
)

// Decoder turns raw frames into ordered envelope sequences.
type Decoder struct {
	logger *slog.Logger
}

// New creates a Decoder.
func New(logger *slog.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// Decode produces the envelopes contained in one raw frame, in wire
// order. Malformed fragments are logged and skipped; a frame that
// cannot be decoded at all yields an empty slice. Decode never returns
// an error.
func (d *Decoder) Decode(raw []byte) []domain.Envelope {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil
	}

	// Fast path: the whole frame is a single JSON value.
	var whole domain.Envelope
	if err := json.Unmarshal(payload, &whole); err == nil {
		return []domain.Envelope{whole}
	}

	// Several messages joined by newlines (server write-pump batching).
	if lines := splitLines(payload); len(lines) > 1 {
		return d.decodeAll(lines)
	}

	// Adjacent objects with no separator: "{...}{...}".
	if bytes.Contains(payload, []byte("}{")) {
		return d.decodeAll(splitAdjacent(payload))
	}

	// Single fragment that failed the fast path; parse once more so the
	// failure is logged as a terminal decode error for this frame.
	env, ok := d.parse(payload)
	if !ok {
		return nil
	}
	return []domain.Envelope{env}
}

func (d *Decoder) decodeAll(fragments [][]byte) []domain.Envelope {
	envelopes := make([]domain.Envelope, 0, len(fragments))
	for _, frag := range fragments {
		if env, ok := d.parse(frag); ok {
			envelopes = append(envelopes, env)
		}
	}
	return envelopes
}

func (d *Decoder) parse(fragment []byte) (domain.Envelope, bool) {
	var env domain.Envelope
	if err := json.Unmarshal(fragment, &env); err != nil {
		d.logger.Warn("dropping undecodable fragment",
			"error", err,
			"size", len(fragment),
		)
		return domain.Envelope{}, false
	}
	return env, true
}

// splitLines returns the non-empty newline-separated fragments of the
// payload, or nil when there are fewer than two (so the caller can fall
// through to the next heuristic).
func splitLines(payload []byte) [][]byte {
	parts := strings.Split(string(payload), "\n")
	fragments := make([][]byte, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			fragments = append(fragments, []byte(trimmed))
		}
	}
	if len(fragments) < 2 {
		return nil
	}
	return fragments
}

// splitAdjacent splits on the "}{"  boundary and reattaches the brace
// stripped from each side: every fragment except the first regains a
// leading "{", every fragment except the last regains a trailing "}".
func splitAdjacent(payload []byte) [][]byte {
	parts := strings.Split(string(payload), "}{")
	fragments := make([][]byte, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = "{" + p
		}
		if i < len(parts)-1 {
			p = p + "}"
		}
		fragments[i] = []byte(p)
	}
	return fragments
}
