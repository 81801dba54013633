package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicBuilder_SplitsSystemMessage(t *testing.T) {
	req := map[string]any{
		"model": "claude-3-opus",
		"messages": []any{
			map[string]any{"role": "system", "content": "be terse"},
			map[string]any{"role": "user", "content": "hi"},
		},
	}

	out, err := AnthropicBuilder{}.Build(req, nil)
	require.NoError(t, err)
	assert.Equal(t, "be terse", out.Body["system"])
	msgs, ok := out.Body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 1)
	assert.Equal(t, "2023-06-01", out.Headers["anthropic-version"])
}

func TestGeminiBuilder_MapsAssistantRoleToModel(t *testing.T) {
	req := map[string]any{
		"messages": []any{
			map[string]any{"role": "user", "content": "hi"},
			map[string]any{"role": "assistant", "content": "hello"},
		},
	}

	out, err := GeminiBuilder{}.Build(req, nil)
	require.NoError(t, err)
	contents, ok := out.Body["contents"].([]any)
	require.True(t, ok)
	require.Len(t, contents, 2)
	second := contents[1].(map[string]any)
	assert.Equal(t, "model", second["role"])
}

func TestOpenAIResponsesBuilder_CarriesPreviousResponseID(t *testing.T) {
	req := map[string]any{"model": "gpt-4o", "messages": []any{}}
	vars := map[string]any{"previous_response_id": "resp_123"}

	out, err := OpenAIResponsesBuilder{}.Build(req, vars)
	require.NoError(t, err)
	assert.Equal(t, "resp_123", out.Body["previous_response_id"])
}
