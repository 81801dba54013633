package steps

import (
	"context"
	"encoding/json"

	"github.com/nodeforge/gatewayflow/pipeline"
	"github.com/nodeforge/gatewayflow/template"
	"github.com/nodeforge/gatewayflow/types"
	"github.com/nodeforge/gatewayflow/upstream"
)

// ResponseTransformStep normalises the vendor response body chosen by
// upstream_call back into the gateway's canonical response envelope, using
// the same protocol tag routing decided for request rendering.
type ResponseTransformStep struct {
	pipeline.BaseStep
	deps *Deps
}

func (s *ResponseTransformStep) Name() string        { return "response_transform" }
func (s *ResponseTransformStep) DependsOn() []string { return []string{"upstream_call"} }

func (s *ResponseTransformStep) Execute(ctx context.Context, wc *pipeline.Context) pipeline.StepResult {
	if wc.HasError() {
		return pipeline.StepResult{Status: pipeline.StatusSkipped}
	}

	raw, ok := wc.Get("upstream_call", "response")
	if !ok {
		wc.Fail(pipeline.ErrorSourceGateway, types.ErrInternalError, "no upstream response to transform")
		return pipeline.StepResult{Status: pipeline.StatusFailed}
	}
	resp, ok := raw.(upstream.Response)
	if !ok {
		wc.Fail(pipeline.ErrorSourceGateway, types.ErrInternalError, "malformed upstream response")
		return pipeline.StepResult{Status: pipeline.StatusFailed}
	}

	var body map[string]any
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		wc.Fail(pipeline.ErrorSourceUpstream, "UPSTREAM_5XX", "upstream returned non-JSON body")
		return pipeline.StepResult{Status: pipeline.StatusFailed, Err: err}
	}

	protocol := ""
	if wc.Selected != nil {
		protocol = wc.Selected.Protocol
	}
	canonical := normalizeResponse(protocol, body)

	wc.Response = canonicalToResponseMap(canonical)
	wc.Set("response_transform", "canonical", canonical)
	return pipeline.StepResult{Status: pipeline.StatusSuccess}
}

func normalizeResponse(protocol string, body map[string]any) template.CanonicalResponse {
	switch protocol {
	case "anthropic":
		return template.FromAnthropic(body)
	case "gemini", "vertex":
		return template.FromGemini(body)
	case "openai_responses":
		return template.FromOpenAIResponses(body)
	default:
		return fromOpenAIChat(body)
	}
}

// fromOpenAIChat normalises a chat/completions body, the protocol closest
// to the gateway's own canonical shape: a single choice's message content
// and tool_calls, plus the usage triple already named the OpenAI way.
func fromOpenAIChat(body map[string]any) template.CanonicalResponse {
	out := template.CanonicalResponse{
		ID:    stringField(body, "id"),
		Model: stringField(body, "model"),
	}

	choices, _ := body["choices"].([]any)
	if len(choices) > 0 {
		choice, _ := choices[0].(map[string]any)
		message, _ := choice["message"].(map[string]any)
		out.Content = stringField(message, "content")
		out.FinishReason = template.NormalizeFinishReason(stringField(choice, "finish_reason"))

		if calls, ok := message["tool_calls"].([]any); ok {
			for _, c := range calls {
				call, ok := c.(map[string]any)
				if !ok {
					continue
				}
				fn, _ := call["function"].(map[string]any)
				out.ToolCalls = append(out.ToolCalls, template.ToolCall{
					ID:        stringField(call, "id"),
					Name:      stringField(fn, "name"),
					Arguments: stringField(fn, "arguments"),
				})
			}
		}
	}

	if usage, ok := body["usage"].(map[string]any); ok {
		out.Usage = template.CanonicalUsage{
			PromptTokens:     intField(usage, "prompt_tokens"),
			CompletionTokens: intField(usage, "completion_tokens"),
			TotalTokens:      intField(usage, "total_tokens"),
		}
	}
	return out
}

func canonicalToResponseMap(c template.CanonicalResponse) map[string]any {
	toolCalls := make([]map[string]any, 0, len(c.ToolCalls))
	for _, tc := range c.ToolCalls {
		toolCalls = append(toolCalls, map[string]any{
			"id":        tc.ID,
			"name":      tc.Name,
			"arguments": tc.Arguments,
		})
	}
	return map[string]any{
		"id":            c.ID,
		"model":         c.Model,
		"content":       c.Content,
		"tool_calls":    toolCalls,
		"finish_reason": c.FinishReason,
		"usage": map[string]any{
			"prompt_tokens":     c.Usage.PromptTokens,
			"completion_tokens": c.Usage.CompletionTokens,
			"total_tokens":      c.Usage.TotalTokens,
		},
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
