package steps

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/gatewayflow/pipeline"
	"github.com/nodeforge/gatewayflow/template"
	"github.com/nodeforge/gatewayflow/upstream"
)

func TestResponseTransformStep_Execute_OpenAIChatDefaultProtocol(t *testing.T) {
	step := &ResponseTransformStep{deps: &Deps{}}
	wc := pipeline.NewContext("trace-1", pipeline.ChannelExternal, pipeline.CapabilityChat)
	wc.Selected = &pipeline.SelectedUpstream{Protocol: "openai"}
	wc.Set("upstream_call", "response", upstream.Response{
		Body: []byte(`{"id":"cmpl-1","model":"gpt-4","choices":[{"message":{"content":"hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`),
	})

	result := step.Execute(context.Background(), wc)
	require.Equal(t, pipeline.StatusSuccess, result.Status)
	assert.Equal(t, "hi there", wc.Response["content"])
	assert.Equal(t, "stop", wc.Response["finish_reason"])
}

func TestResponseTransformStep_Execute_AnthropicProtocol(t *testing.T) {
	step := &ResponseTransformStep{deps: &Deps{}}
	wc := pipeline.NewContext("trace-2", pipeline.ChannelExternal, pipeline.CapabilityChat)
	wc.Selected = &pipeline.SelectedUpstream{Protocol: "anthropic"}
	wc.Set("upstream_call", "response", upstream.Response{
		Body: []byte(`{"id":"msg-1","model":"claude-3","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":4,"output_tokens":6}}`),
	})

	result := step.Execute(context.Background(), wc)
	require.Equal(t, pipeline.StatusSuccess, result.Status)
	assert.Equal(t, "hi", wc.Response["content"])
	assert.Equal(t, "stop", wc.Response["finish_reason"])
}

func TestResponseTransformStep_Execute_SkipsWhenContextAlreadyFailed(t *testing.T) {
	step := &ResponseTransformStep{deps: &Deps{}}
	wc := pipeline.NewContext("trace-3", pipeline.ChannelExternal, pipeline.CapabilityChat)
	wc.Fail(pipeline.ErrorSourceUpstream, "UPSTREAM_ERROR", "boom")

	result := step.Execute(context.Background(), wc)
	assert.Equal(t, pipeline.StatusSkipped, result.Status)
}

func TestResponseTransformStep_Execute_NonJSONBodyFails(t *testing.T) {
	step := &ResponseTransformStep{deps: &Deps{}}
	wc := pipeline.NewContext("trace-4", pipeline.ChannelExternal, pipeline.CapabilityChat)
	wc.Set("upstream_call", "response", upstream.Response{Body: []byte("not json")})

	result := step.Execute(context.Background(), wc)
	assert.Equal(t, pipeline.StatusFailed, result.Status)
}

func TestFromOpenAIChat_ExtractsToolCalls(t *testing.T) {
	body := map[string]any{
		"choices": []any{
			map[string]any{
				"finish_reason": "tool_calls",
				"message": map[string]any{
					"tool_calls": []any{
						map[string]any{
							"id":       "call-1",
							"function": map[string]any{"name": "lookup", "arguments": `{"q":"x"}`},
						},
					},
				},
			},
		},
	}
	out := fromOpenAIChat(body)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "lookup", out.ToolCalls[0].Name)
	assert.Equal(t, "tool_calls", out.FinishReason)
}

func TestNormalizeResponse_DispatchesByProtocol(t *testing.T) {
	out := normalizeResponse("gemini", map[string]any{})
	assert.Equal(t, template.CanonicalResponse{}, out)
}
