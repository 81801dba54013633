package steps

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/gatewayflow/pipeline"
)

type fakeMemoryClassifier struct {
	mu        sync.Mutex
	userID    string
	content   string
	callCount int
}

func (f *fakeMemoryClassifier) ClassifyAndStore(ctx context.Context, userID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userID = userID
	f.content = content
	f.callCount++
	return nil
}

func (f *fakeMemoryClassifier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

func TestMemoryWriteStep_Execute_SchedulesClassificationForExternalChat(t *testing.T) {
	classifier := &fakeMemoryClassifier{}
	step := &MemoryWriteStep{deps: &Deps{MemoryClassifier: classifier}}

	wc := pipeline.NewContext("trace-1", pipeline.ChannelExternal, pipeline.CapabilityChat)
	wc.UserID = "user-1"
	wc.Request = map[string]any{
		"messages": []any{map[string]any{"role": "user", "content": "my birthday is in March"}},
	}

	result := step.Execute(context.Background(), wc)
	require.Equal(t, pipeline.StatusSuccess, result.Status)

	require.Eventually(t, func() bool { return classifier.calls() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "user-1", classifier.userID)
	assert.Equal(t, "my birthday is in March", classifier.content)
}

func TestMemoryWriteStep_Execute_SkippedForInternalChannel(t *testing.T) {
	classifier := &fakeMemoryClassifier{}
	step := &MemoryWriteStep{deps: &Deps{MemoryClassifier: classifier}}

	wc := pipeline.NewContext("trace-2", pipeline.ChannelInternal, pipeline.CapabilityChat)
	result := step.Execute(context.Background(), wc)
	assert.Equal(t, pipeline.StatusSkipped, result.Status)
	assert.Equal(t, 0, classifier.calls())
}

func TestMemoryWriteStep_Execute_SkippedWhenStreaming(t *testing.T) {
	classifier := &fakeMemoryClassifier{}
	step := &MemoryWriteStep{deps: &Deps{MemoryClassifier: classifier}}

	wc := pipeline.NewContext("trace-3", pipeline.ChannelExternal, pipeline.CapabilityChat)
	wc.Request = map[string]any{"messages": []any{map[string]any{"role": "user", "content": "hi"}}}
	wc.Set("transport", "stream_sink", struct{}{})

	result := step.Execute(context.Background(), wc)
	assert.Equal(t, pipeline.StatusSkipped, result.Status)
	assert.Equal(t, 0, classifier.calls())
}
