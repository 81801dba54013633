package steps

import (
	"context"

	"github.com/nodeforge/gatewayflow/pipeline"
)

// MemoryWriteStep schedules, without awaiting, a classifier that decides
// whether the caller's latest message encodes a durable personal fact
// worth upserting into their vector memory. External chat only; skipped
// when streaming, since a streamed response forwards bytes straight to
// the transport and finishes after this step would already have run —
// UpstreamCallStep's executeStreaming calls scheduleMemoryWrite itself
// once the stream completes successfully.
type MemoryWriteStep struct {
	pipeline.BaseStep
	deps *Deps
}

func (s *MemoryWriteStep) Name() string        { return "memory_write" }
func (s *MemoryWriteStep) DependsOn() []string { return []string{"sanitize"} }

func (s *MemoryWriteStep) Execute(ctx context.Context, wc *pipeline.Context) pipeline.StepResult {
	if wc.Channel != pipeline.ChannelExternal || wc.HasError() || s.deps.MemoryClassifier == nil {
		return pipeline.StepResult{Status: pipeline.StatusSkipped}
	}
	if _, streaming := wc.Get("transport", "stream_sink"); streaming {
		return pipeline.StepResult{Status: pipeline.StatusSkipped}
	}

	if !scheduleMemoryWrite(ctx, s.deps, wc) {
		return pipeline.StepResult{Status: pipeline.StatusSkipped}
	}
	return pipeline.StepResult{Status: pipeline.StatusSuccess}
}

// scheduleMemoryWrite fires the memory classifier for the latest user
// message in the background, detached from ctx's cancellation so a
// finished or streamed-away request doesn't abort the classification it
// triggered. Returns false if there was nothing to classify.
func scheduleMemoryWrite(ctx context.Context, deps *Deps, wc *pipeline.Context) bool {
	contents := extractUserContents(wc.Request)
	if len(contents) == 0 {
		return false
	}
	latest := contents[len(contents)-1]

	userID := wc.UserID
	classifier := deps.MemoryClassifier
	logger := deps.Logger
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		if err := classifier.ClassifyAndStore(bgCtx, userID, latest); err != nil && logger != nil {
			logger.Warn("memory classification failed")
		}
	}()
	return true
}
