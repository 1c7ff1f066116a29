package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/Rrens/langly/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	frame, err := protocol.Encode(protocol.EventToolStart, protocol.ToolStartPayload{
		Tool:   "Weather",
		Input:  "Morristown",
		TurnID: "t1",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"chat:tool_start","data":{"tool":"Weather","input":"Morristown","turnId":"t1"}}`, string(frame))

	env, err := protocol.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, protocol.EventToolStart, env.Event)

	var payload protocol.ToolStartPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "t1", payload.TurnID)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", "hello"},
		{"missing event", `{"data":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.Decode([]byte(tt.frame))
			assert.Error(t, err)
		})
	}
}
