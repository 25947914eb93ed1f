package codec

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-rtc/internal/domain"
)

func newTestDecoder() *Decoder {
	return New(slog.Default())
}

func TestDecodeSingleEnvelope(t *testing.T) {
	d := newTestDecoder()

	got := d.Decode([]byte(`{"type":"success","message":"ok"}`))
	require.Len(t, got, 1)
	assert.Equal(t, "success", got[0].Type)
	assert.Equal(t, "ok", got[0].Message)
}

func TestDecodeEmptyPayload(t *testing.T) {
	d := newTestDecoder()

	assert.Empty(t, d.Decode(nil))
	assert.Empty(t, d.Decode([]byte("")))
	assert.Empty(t, d.Decode([]byte("  \n  ")))
}

func TestDecodeNewlineJoined(t *testing.T) {
	d := newTestDecoder()

	for _, n := range []int{2, 3, 7} {
		payload := ""
		for i := 0; i < n; i++ {
			payload += fmt.Sprintf("{\"type\":\"private_message\",\"message\":\"m%d\"}\n", i)
		}

		got := d.Decode([]byte(payload))
		require.Len(t, got, n, "expected %d envelopes", n)
		for i, env := range got {
			assert.Equal(t, fmt.Sprintf("m%d", i), env.Message, "order must be preserved")
		}
	}
}

func TestDecodeNewlineJoinedSkipsMalformed(t *testing.T) {
	d := newTestDecoder()

	payload := "{\"type\":\"a\"}\nnot json at all\n{\"type\":\"b\"}"
	got := d.Decode([]byte(payload))
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Type)
	assert.Equal(t, "b", got[1].Type)
}

func TestDecodeAdjacentObjects(t *testing.T) {
	d := newTestDecoder()

	first := `{"type":"error","message":"nope"}`
	second := `{"type":"success","data":{"id":"42"}}`
	got := d.Decode([]byte(first + second))
	require.Len(t, got, 2)

	var want1, want2 domain.Envelope
	require.NoError(t, json.Unmarshal([]byte(first), &want1))
	require.NoError(t, json.Unmarshal([]byte(second), &want2))
	assert.Equal(t, want1.Type, got[0].Type)
	assert.Equal(t, want1.Message, got[0].Message)
	assert.Equal(t, want2.Type, got[1].Type)
	assert.JSONEq(t, string(want2.Data), string(got[1].Data))
}

func TestDecodeNewlineOutranksAdjacent(t *testing.T) {
	d := newTestDecoder()

	// Both heuristics match; the newline split must win, leaving the
	// concatenated line to the adjacent-object pass of... nothing: the
	// concatenated fragment fails to parse and is skipped.
	payload := "{\"type\":\"a\"}{\"type\":\"b\"}\n{\"type\":\"c\"}"
	got := d.Decode([]byte(payload))
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].Type)
}

func TestDecodeAdjacentBoundaryInsideString(t *testing.T) {
	d := newTestDecoder()

	// "}{" inside a string value: whole-frame parse succeeds first, so
	// the boundary heuristic never runs.
	payload := `{"type":"private_message","message":"tricky }{ text"}`
	got := d.Decode([]byte(payload))
	require.Len(t, got, 1)
	assert.Equal(t, "tricky }{ text", got[0].Message)
}

func TestDecodeTerminalFailure(t *testing.T) {
	d := newTestDecoder()

	assert.Empty(t, d.Decode([]byte("definitely not json")))
}

func TestDecodeNotificationFields(t *testing.T) {
	d := newTestDecoder()

	payload := `{"type":"notification","case":"action_based","action_type":"group_message","data":"eyJhIjoxfQ=="}`
	got := d.Decode([]byte(payload))
	require.Len(t, got, 1)
	assert.True(t, got[0].IsNotification())
	assert.Equal(t, domain.CaseActionBased, got[0].Case)
	assert.Equal(t, domain.ActionGroupMessage, got[0].ActionType)
}
