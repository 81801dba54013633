package template

// StreamChunk is one OpenAI-style streamed delta, emitted once per
// upstream SSE frame regardless of the originating vendor's own stream
// framing.
type StreamChunk struct {
	ID           string
	Model        string
	Index        int
	DeltaContent string
	DeltaTool    *ToolCall
	FinishReason string
	Usage        *CanonicalUsage
}

// AnthropicDeltaToChunk converts one Anthropic streaming event's text
// delta into the canonical stream chunk shape.
func AnthropicDeltaToChunk(id, model string, index int, textDelta string) StreamChunk {
	return StreamChunk{ID: id, Model: model, Index: index, DeltaContent: textDelta}
}

// GeminiDeltaToChunk converts one Gemini streaming candidate part into the
// canonical stream chunk shape.
func GeminiDeltaToChunk(model string, index int, textDelta string, finishReason string) StreamChunk {
	return StreamChunk{
		Model:        model,
		Index:        index,
		DeltaContent: textDelta,
		FinishReason: NormalizeFinishReason(finishReason),
	}
}
