package upstream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/gatewayflow/routing"
)

// SSEFrame is one parsed "data: ..." line from an upstream SSE stream.
type SSEFrame struct {
	Data string
	Done bool // true for the terminal "[DONE]" sentinel
}

// FrameParser extracts delta content, tool calls, and usage from one raw
// SSE frame payload. Vendor-specific; supplied by the template package's
// response-transform side so upstream itself stays wire-format agnostic.
type FrameParser func(payload []byte) (deltaTokens int, usage *UsageTotals, err error)

// UsageTotals is the final token accounting for one streamed response.
type UsageTotals struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	FromUpstream     bool // true if vendor reported usage; false if estimated
}

// StreamResult is delivered once the stream finishes, successfully or not.
type StreamResult struct {
	Usage  UsageTotals
	Broken bool // true if the stream failed after bytes were forwarded
	Err    error
}

// StreamSink receives forwarded bytes and the terminal result. Callers
// typically wire Forward to the client's own response writer.
type StreamSink interface {
	Forward(chunk []byte) error
}

// StreamCall opens a streaming upstream request, forwards raw bytes to sink
// as they arrive, and runs a parallel token accumulator via parseFrame.
// Idle timeout resets on every frame; cancelling ctx cancels the upstream
// request and finalises accounting for whatever was delivered so far.
func (c *Caller) StreamCall(ctx context.Context, req Request, sink StreamSink, parseFrame FrameParser) StreamResult {
	host, err := hostOf(req.URL)
	if err != nil {
		return StreamResult{Err: err}
	}

	if c.ssrf != nil {
		if err := c.ssrf.Check(ctx, req.URL); err != nil {
			return StreamResult{Err: err}
		}
	}

	done, err := c.breakers.Allow(host)
	if err != nil {
		return StreamResult{Err: err}
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		done(false)
		return StreamResult{Err: fmt.Errorf("upstream: building stream request: %w", err)}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		done(false)
		c.recordTrial(ctx, req.ArmID, false, time.Since(start))
		return StreamResult{Err: fmt.Errorf("upstream: opening stream: %w", err)}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		done(false)
		c.recordTrial(ctx, req.ArmID, false, time.Since(start))
		return StreamResult{Err: fmt.Errorf("upstream: stream rejected with status %d", httpResp.StatusCode)}
	}

	result := c.pump(callCtx, httpResp, sink, parseFrame)

	success := result.Err == nil
	done(success)
	c.recordTrial(ctx, req.ArmID, success, time.Since(start))

	return result
}

func (c *Caller) pump(ctx context.Context, httpResp *http.Response, sink StreamSink, parseFrame FrameParser) StreamResult {
	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var usage UsageTotals
	bytesForwarded := false

	type lineResult struct {
		line string
		ok   bool
	}
	lines := make(chan lineResult)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- lineResult{line: scanner.Text(), ok: true}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return StreamResult{Usage: usage, Broken: bytesForwarded, Err: ctx.Err()}
		case lr, open := <-lines:
			if !open {
				if err := scanner.Err(); err != nil {
					return StreamResult{Usage: usage, Broken: bytesForwarded, Err: fmt.Errorf("%w: %v", ErrStreamBroken, err)}
				}
				return StreamResult{Usage: usage}
			}
			if !strings.HasPrefix(lr.line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(lr.line, "data:"))
			if payload == "[DONE]" {
				return StreamResult{Usage: usage}
			}

			if err := sink.Forward([]byte(lr.line + "\n\n")); err != nil {
				return StreamResult{Usage: usage, Broken: bytesForwarded, Err: fmt.Errorf("%w: forwarding to client: %v", ErrStreamBroken, err)}
			}
			bytesForwarded = true

			if parseFrame == nil {
				continue
			}
			deltaTokens, frameUsage, parseErr := parseFrame([]byte(payload))
			if parseErr != nil {
				c.logger.Warn("failed to parse sse frame", zap.Error(parseErr))
				continue
			}
			if frameUsage != nil {
				usage = *frameUsage
				usage.FromUpstream = true
			} else {
				usage.CompletionTokens += deltaTokens
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			}
		case <-time.After(c.timeouts.Idle):
			return StreamResult{Usage: usage, Broken: bytesForwarded, Err: fmt.Errorf("%w: idle timeout exceeded", ErrStreamBroken)}
		}
	}
}

func (c *Caller) recordTrial(ctx context.Context, armID string, success bool, latency time.Duration) {
	if c.updater == nil {
		return
	}
	if err := c.updater.Record(ctx, routing.Trial{
		ArmID:     armID,
		Success:   success,
		LatencyMs: float64(latency.Milliseconds()),
	}); err != nil {
		c.logger.Error("failed to record streaming bandit trial", zap.Error(err))
	}
}
