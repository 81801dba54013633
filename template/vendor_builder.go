package template

import "fmt"

// VendorBuilder materialises a vendor's wire format directly from the
// canonical request, for vendors whose shape can't be expressed as a
// generic field-mapping template (tool schema translation, content-block
// nesting, etc).
type VendorBuilder interface {
	Build(canonicalRequest map[string]any, vars map[string]any) (RenderedRequest, error)
}

// ResolveVendorBuilder returns the VendorBuilder for a vendor.
func ResolveVendorBuilder(vendor Vendor) (VendorBuilder, error) {
	switch vendor {
	case VendorAnthropic:
		return AnthropicBuilder{}, nil
	case VendorGemini:
		return GeminiBuilder{}, nil
	case VendorOpenAIResponse:
		return OpenAIResponsesBuilder{}, nil
	default:
		return nil, fmt.Errorf("template: no vendor builder for %q", vendor)
	}
}

// AnthropicBuilder materialises the Anthropic Messages API request shape.
type AnthropicBuilder struct{}

func (AnthropicBuilder) Build(req map[string]any, vars map[string]any) (RenderedRequest, error) {
	messages, _ := req["messages"].([]any)

	var system string
	var rest []any
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if msg["role"] == "system" {
			if s, ok := msg["content"].(string); ok {
				system = s
			}
			continue
		}
		rest = append(rest, map[string]any{
			"role":    msg["role"],
			"content": []any{map[string]any{"type": "text", "text": msg["content"]}},
		})
	}

	body := map[string]any{
		"model":    req["model"],
		"messages": rest,
	}
	if system != "" {
		body["system"] = system
	}
	if maxTokens, ok := req["max_tokens"]; ok {
		body["max_tokens"] = maxTokens
	} else {
		body["max_tokens"] = 4096
	}

	return RenderedRequest{Body: body, Headers: map[string]string{"anthropic-version": "2023-06-01"}}, nil
}

// GeminiBuilder materialises the Gemini generateContent request shape.
type GeminiBuilder struct{}

func (GeminiBuilder) Build(req map[string]any, vars map[string]any) (RenderedRequest, error) {
	messages, _ := req["messages"].([]any)

	contents := make([]any, 0, len(messages))
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role := "user"
		if msg["role"] == "assistant" {
			role = "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []any{map[string]any{"text": msg["content"]}},
		})
	}

	body := map[string]any{"contents": contents}
	genConfig := map[string]any{}
	if temp, ok := req["temperature"]; ok {
		genConfig["temperature"] = temp
	}
	if maxTokens, ok := req["max_tokens"]; ok {
		genConfig["maxOutputTokens"] = maxTokens
	}
	if len(genConfig) > 0 {
		body["generationConfig"] = genConfig
	}

	return RenderedRequest{Body: body, Headers: map[string]string{}}, nil
}

// OpenAIResponsesBuilder materialises the OpenAI Responses API shape,
// distinct from the legacy chat/completions body the canonical request
// already resembles.
type OpenAIResponsesBuilder struct{}

func (OpenAIResponsesBuilder) Build(req map[string]any, vars map[string]any) (RenderedRequest, error) {
	body := map[string]any{
		"model": req["model"],
		"input": req["messages"],
	}
	if prevID, ok := vars["previous_response_id"]; ok && prevID != "" {
		body["previous_response_id"] = prevID
	}
	if maxTokens, ok := req["max_tokens"]; ok {
		body["max_output_tokens"] = maxTokens
	}

	return RenderedRequest{Body: body, Headers: map[string]string{}}, nil
}
