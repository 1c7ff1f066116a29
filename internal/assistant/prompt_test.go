package assistant_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Rrens/langly/internal/assistant"
)

func TestSystemPrompt_Override(t *testing.T) {
	assert.Equal(t, "be brief", assistant.SystemPrompt(assistant.Request{SystemPrompt: " be brief "}))
	assert.Equal(t, assistant.DefaultSystemPrompt, assistant.SystemPrompt(assistant.Request{}))
}

func TestLineBuffer(t *testing.T) {
	var lb assistant.LineBuffer

	assert.Nil(t, lb.Write("checking the"))
	assert.Equal(t, []string{"checking the forecast"}, lb.Write(" forecast\nthen"))
	assert.Equal(t, []string{"then summarize"}, lb.Write(" summarize\n\n"))
	assert.Nil(t, lb.Write("tail"))
	assert.Equal(t, []string{"tail"}, lb.Flush())
	assert.Nil(t, lb.Flush())
}
