package template

import (
	"encoding/json"
	"strings"
)

// CanonicalResponse is the gateway's single, OpenAI-shaped response
// envelope that every vendor response is normalised into.
type CanonicalResponse struct {
	ID           string
	Model        string
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        CanonicalUsage
}

// ToolCall is a normalised function/tool invocation extracted from a
// vendor response.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// CanonicalUsage is the OpenAI-named token usage triple every vendor's own
// usage field names are renamed into.
type CanonicalUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// finishReasonMap normalises every vendor's own finish-reason vocabulary
// into the canonical OpenAI set: stop, length, tool_calls, content_filter.
var finishReasonMap = map[string]string{
	"stop":           "stop",
	"end_turn":       "stop",
	"stop_sequence":  "stop",
	"STOP":           "stop",
	"length":         "length",
	"max_tokens":     "length",
	"MAX_TOKENS":     "length",
	"tool_calls":     "tool_calls",
	"tool_use":       "tool_calls",
	"function_call":  "tool_calls",
	"content_filter": "content_filter",
	"SAFETY":         "content_filter",
	"RECITATION":     "content_filter",
}

// NormalizeFinishReason maps a vendor finish reason to the canonical set,
// passing through unrecognised values unchanged rather than erroring.
func NormalizeFinishReason(vendorReason string) string {
	if mapped, ok := finishReasonMap[vendorReason]; ok {
		return mapped
	}
	return vendorReason
}

// FromAnthropic normalises an Anthropic Messages API response body.
func FromAnthropic(body map[string]any) CanonicalResponse {
	out := CanonicalResponse{
		ID:    stringField(body, "id"),
		Model: stringField(body, "model"),
	}

	blocks, _ := body["content"].([]any)
	var text strings.Builder
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		switch block["type"] {
		case "text":
			text.WriteString(stringField(block, "text"))
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        stringField(block, "id"),
				Name:      stringField(block, "name"),
				Arguments: marshalCompact(block["input"]),
			})
		}
	}
	out.Content = text.String()
	out.FinishReason = NormalizeFinishReason(stringField(body, "stop_reason"))

	if usage, ok := body["usage"].(map[string]any); ok {
		input := intField(usage, "input_tokens")
		output := intField(usage, "output_tokens")
		out.Usage = CanonicalUsage{
			PromptTokens:     input,
			CompletionTokens: output,
			TotalTokens:      input + output,
		}
	}
	return out
}

// FromGemini normalises a Gemini generateContent response body.
func FromGemini(body map[string]any) CanonicalResponse {
	out := CanonicalResponse{Model: stringField(body, "modelVersion")}

	candidates, _ := body["candidates"].([]any)
	if len(candidates) > 0 {
		candidate, _ := candidates[0].(map[string]any)
		content, _ := candidate["content"].(map[string]any)
		parts, _ := content["parts"].([]any)

		var text strings.Builder
		for _, p := range parts {
			part, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if t := stringField(part, "text"); t != "" {
				text.WriteString(t)
				continue
			}
			if fc, ok := part["functionCall"].(map[string]any); ok {
				out.ToolCalls = append(out.ToolCalls, ToolCall{
					Name:      stringField(fc, "name"),
					Arguments: marshalCompact(fc["args"]),
				})
			}
		}
		out.Content = text.String()
		out.FinishReason = NormalizeFinishReason(stringField(candidate, "finishReason"))
	}

	if usage, ok := body["usageMetadata"].(map[string]any); ok {
		out.Usage = CanonicalUsage{
			PromptTokens:     intField(usage, "promptTokenCount"),
			CompletionTokens: intField(usage, "candidatesTokenCount"),
			TotalTokens:      intField(usage, "totalTokenCount"),
		}
	}
	return out
}

// FromOpenAIResponses normalises an OpenAI Responses API body back into
// the same canonical shape used for chat/completions, so downstream steps
// never need to know which OpenAI surface served the request.
func FromOpenAIResponses(body map[string]any) CanonicalResponse {
	out := CanonicalResponse{
		ID:    stringField(body, "id"),
		Model: stringField(body, "model"),
	}

	output, _ := body["output"].([]any)
	var text strings.Builder
	for _, item := range output {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		content, _ := m["content"].([]any)
		for _, c := range content {
			block, ok := c.(map[string]any)
			if !ok {
				continue
			}
			text.WriteString(stringField(block, "text"))
		}
	}
	out.Content = text.String()
	out.FinishReason = NormalizeFinishReason(stringField(body, "status"))

	if usage, ok := body["usage"].(map[string]any); ok {
		out.Usage = CanonicalUsage{
			PromptTokens:     intField(usage, "input_tokens"),
			CompletionTokens: intField(usage, "output_tokens"),
			TotalTokens:      intField(usage, "total_tokens"),
		}
	}
	return out
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func marshalCompact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
