package steps

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nodeforge/gatewayflow/pipeline"
	"github.com/nodeforge/gatewayflow/types"
	"github.com/nodeforge/gatewayflow/upstream"
)

// StreamSink forwards raw upstream bytes to whatever transport is serving
// the client (SSE response writer, websocket, etc). Only set on wc when the
// caller asked for a streamed response; its absence means call non-streaming.
type StreamSink interface {
	Forward(chunk []byte) error
}

// UpstreamCallStep issues the rendered vendor request(s), walking the
// template_render step's failover list until one candidate succeeds, and
// records the outcome as UpstreamResultSummary for billing/audit.
type UpstreamCallStep struct {
	pipeline.BaseStep
	deps *Deps
}

func (s *UpstreamCallStep) Name() string        { return "upstream_call" }
func (s *UpstreamCallStep) DependsOn() []string { return []string{"template_render"} }

func (s *UpstreamCallStep) Execute(ctx context.Context, wc *pipeline.Context) pipeline.StepResult {
	raw, ok := wc.Get("template_render", "requests")
	if !ok {
		wc.Fail(pipeline.ErrorSourceGateway, types.ErrInternalError, "no rendered requests to call")
		return pipeline.StepResult{Status: pipeline.StatusFailed}
	}
	requests, ok := raw.([]upstream.Request)
	if !ok || len(requests) == 0 {
		wc.Fail(pipeline.ErrorSourceGateway, types.ErrInternalError, "empty rendered request list")
		return pipeline.StepResult{Status: pipeline.StatusFailed}
	}

	if sinkRaw, ok := wc.Get("transport", "stream_sink"); ok {
		if sink, ok := sinkRaw.(StreamSink); ok {
			return s.executeStreaming(ctx, wc, requests[0], sink)
		}
	}
	return s.executeNonStreaming(ctx, wc, requests)
}

func (s *UpstreamCallStep) executeNonStreaming(ctx context.Context, wc *pipeline.Context, requests []upstream.Request) pipeline.StepResult {
	start := time.Now()
	resp, err := s.deps.Caller.Call(ctx, requests)
	latency := time.Since(start)

	if err != nil {
		wc.Upstream = &pipeline.UpstreamResultSummary{
			ModelUsed: wc.RequestedModel,
			ErrorCode: "UPSTREAM_5XX",
			Latency:   latency,
			Attempt:   len(requests),
		}
		wc.Fail(pipeline.ErrorSourceUpstream, types.ErrUpstreamError, err.Error())
		return pipeline.StepResult{Status: pipeline.StatusFailed, Err: err}
	}

	wc.Upstream = &pipeline.UpstreamResultSummary{
		InstanceID: resp.ArmID,
		ModelUsed:  wc.RequestedModel,
		StatusCode: resp.StatusCode,
		Latency:    time.Duration(resp.LatencyMs) * time.Millisecond,
		Attempt:    1,
	}
	wc.Set("upstream_call", "response", resp)
	return pipeline.StepResult{Status: pipeline.StatusSuccess}
}

func (s *UpstreamCallStep) executeStreaming(ctx context.Context, wc *pipeline.Context, req upstream.Request, sink StreamSink) pipeline.StepResult {
	protocol := ""
	if wc.Selected != nil {
		protocol = wc.Selected.Protocol
	}
	result := s.deps.Caller.StreamCall(ctx, req, sink, frameParserFor(protocol))

	wc.Upstream = &pipeline.UpstreamResultSummary{
		InstanceID: req.ArmID,
		ModelUsed:  wc.RequestedModel,
	}
	wc.Set("upstream_call", "usage", result.Usage)

	if result.Err != nil {
		code := types.ErrUpstreamError
		if result.Broken {
			code = "UPSTREAM_STREAM_BROKEN"
		}
		wc.Upstream.ErrorCode = string(code)
		wc.Fail(pipeline.ErrorSourceUpstream, code, result.Err.Error())
		return pipeline.StepResult{Status: pipeline.StatusFailed, Err: result.Err}
	}

	if wc.Channel == pipeline.ChannelExternal && s.deps.MemoryClassifier != nil {
		scheduleMemoryWrite(ctx, s.deps, wc)
	}
	return pipeline.StepResult{Status: pipeline.StatusSuccess}
}

// frameParserFor returns a best-effort usage extractor for a vendor's SSE
// frame shape. Each vendor surfaces final usage differently: OpenAI on a
// top-level "usage" object (present only on the terminal frame when
// stream_options.include_usage is set), Gemini on "usageMetadata", and
// Anthropic on a "message_delta" event's nested "usage". Frames carrying no
// usage object count as a single completion token each, a rough proxy used
// only until the vendor's own terminal usage frame arrives.
func frameParserFor(protocol string) upstream.FrameParser {
	return func(payload []byte) (int, *upstream.UsageTotals, error) {
		var frame map[string]any
		if err := json.Unmarshal(payload, &frame); err != nil {
			return 1, nil, nil
		}

		switch protocol {
		case "anthropic":
			if frame["type"] == "message_delta" {
				if u, ok := frame["usage"].(map[string]any); ok {
					return 0, &upstream.UsageTotals{
						CompletionTokens: intField(u, "output_tokens"),
						TotalTokens:      intField(u, "output_tokens"),
						FromUpstream:     true,
					}, nil
				}
			}
		case "gemini", "vertex":
			if u, ok := frame["usageMetadata"].(map[string]any); ok {
				return 0, &upstream.UsageTotals{
					PromptTokens:     intField(u, "promptTokenCount"),
					CompletionTokens: intField(u, "candidatesTokenCount"),
					TotalTokens:      intField(u, "totalTokenCount"),
					FromUpstream:     true,
				}, nil
			}
		default:
			if u, ok := frame["usage"].(map[string]any); ok {
				return 0, &upstream.UsageTotals{
					PromptTokens:     intField(u, "prompt_tokens"),
					CompletionTokens: intField(u, "completion_tokens"),
					TotalTokens:      intField(u, "total_tokens"),
					FromUpstream:     true,
				}, nil
			}
		}
		return 1, nil, nil
	}
}

func intField(m map[string]any, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}
