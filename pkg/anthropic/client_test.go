package anthropic

import (
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "Hi Dr. Smith, "},
		{Type: "tool_use"},
		{Type: "text", Text: "loved your new clinic."},
	}}
	assert.Equal(t, "Hi Dr. Smith, loved your new clinic.", resp.Text())

	var nilResp *MessageResponse
	assert.Empty(t, nilResp.Text())
}

func TestToSDKMessages_Roles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "Q"},
		{Role: "assistant", Content: "A"},
		{Role: "system-ish", Content: "defaults to user"},
	})
	require.Len(t, msgs, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[2].Role)
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		model string
		usage TokenUsage
		want  float64
	}{
		{"claude-3-haiku-20240307", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 1.50},
		{"claude-haiku-4-5-20251001", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 4.80},
		{"claude-sonnet-4-5-20250929", TokenUsage{InputTokens: 500_000, OutputTokens: 100_000}, 3.00},
		{"unknown-model", TokenUsage{InputTokens: 1_000_000}, 0},
		{"claude-3-haiku-20240307", TokenUsage{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.usage.EstimateCost(tt.model), 0.001)
		})
	}
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 100, OutputTokens: 50}.LogCost("claude-3-haiku-20240307", "opening")
		TokenUsage{}.LogCost("unknown-model", "")
	})
}
