package steps

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/gatewayflow/pipeline"
	"github.com/nodeforge/gatewayflow/routing"
	"github.com/nodeforge/gatewayflow/upstream"
)

type fakeArmRepoForCaller struct {
	states map[string]routing.ArmState
}

func (f *fakeArmRepoForCaller) LoadArm(ctx context.Context, armID string) (routing.ArmState, error) {
	return f.states[armID], nil
}

func (f *fakeArmRepoForCaller) SaveArm(ctx context.Context, state routing.ArmState) error {
	f.states[state.ArmID] = state
	return nil
}

func newTestUpstreamCaller() *upstream.Caller {
	ssrf := upstream.NewSSRFGuard(true, nil)
	breakers := upstream.NewHostBreakers(5, time.Second)
	repo := &fakeArmRepoForCaller{states: map[string]routing.ArmState{}}
	updater := routing.NewArmUpdater(repo)
	return upstream.NewCaller(ssrf, breakers, updater, upstream.Timeouts{}, nil)
}

func TestUpstreamCallStep_Execute_SucceedsAndSetsSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer srv.Close()

	step := &UpstreamCallStep{deps: &Deps{Caller: newTestUpstreamCaller()}}
	wc := pipeline.NewContext("trace-1", pipeline.ChannelExternal, pipeline.CapabilityChat)
	wc.RequestedModel = "gpt-4"
	wc.Set("template_render", "requests", []upstream.Request{
		{ArmID: "arm-1", Method: "GET", URL: srv.URL},
	})

	result := step.Execute(context.Background(), wc)
	require.Equal(t, pipeline.StatusSuccess, result.Status)
	require.NotNil(t, wc.Upstream)
	assert.Equal(t, http.StatusOK, wc.Upstream.StatusCode)
}

func TestUpstreamCallStep_Execute_NoRenderedRequestsFails(t *testing.T) {
	step := &UpstreamCallStep{deps: &Deps{Caller: newTestUpstreamCaller()}}
	wc := pipeline.NewContext("trace-2", pipeline.ChannelExternal, pipeline.CapabilityChat)

	result := step.Execute(context.Background(), wc)
	assert.Equal(t, pipeline.StatusFailed, result.Status)
	assert.True(t, wc.HasError())
}

func TestUpstreamCallStep_Execute_AllCandidatesFailingFailsWithUpstreamSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	step := &UpstreamCallStep{deps: &Deps{Caller: newTestUpstreamCaller()}}
	wc := pipeline.NewContext("trace-3", pipeline.ChannelExternal, pipeline.CapabilityChat)
	wc.Set("template_render", "requests", []upstream.Request{
		{ArmID: "arm-1", Method: "GET", URL: srv.URL},
	})

	result := step.Execute(context.Background(), wc)
	assert.Equal(t, pipeline.StatusFailed, result.Status)
	assert.Equal(t, pipeline.ErrorSourceUpstream, wc.ErrorSource)
}

type fakeStreamSink struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (f *fakeStreamSink) Forward(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunk)
	return nil
}

func TestUpstreamCallStep_Execute_StreamingSchedulesMemoryWriteOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
		if flusher != nil {
			flusher.Flush()
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	classifier := &fakeMemoryClassifier{}
	step := &UpstreamCallStep{deps: &Deps{Caller: newTestUpstreamCaller(), MemoryClassifier: classifier}}
	wc := pipeline.NewContext("trace-stream", pipeline.ChannelExternal, pipeline.CapabilityChat)
	wc.UserID = "user-1"
	wc.Request = map[string]any{
		"messages": []any{map[string]any{"role": "user", "content": "remember my name is Sam"}},
	}
	wc.Set("template_render", "requests", []upstream.Request{
		{ArmID: "arm-1", Method: "GET", URL: srv.URL},
	})
	wc.Set("transport", "stream_sink", &fakeStreamSink{})

	result := step.Execute(context.Background(), wc)
	require.Equal(t, pipeline.StatusSuccess, result.Status)

	require.Eventually(t, func() bool { return classifier.calls() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "user-1", classifier.userID)
}

func TestUpstreamCallStep_Execute_StreamingSkipsMemoryWriteForInternalChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "data: [DONE]\n\n")
		if flusher != nil {
			flusher.Flush()
		}
	}))
	defer srv.Close()

	classifier := &fakeMemoryClassifier{}
	step := &UpstreamCallStep{deps: &Deps{Caller: newTestUpstreamCaller(), MemoryClassifier: classifier}}
	wc := pipeline.NewContext("trace-stream-internal", pipeline.ChannelInternal, pipeline.CapabilityChat)
	wc.Set("template_render", "requests", []upstream.Request{
		{ArmID: "arm-1", Method: "GET", URL: srv.URL},
	})
	wc.Set("transport", "stream_sink", &fakeStreamSink{})

	result := step.Execute(context.Background(), wc)
	require.Equal(t, pipeline.StatusSuccess, result.Status)
	assert.Equal(t, 0, classifier.calls())
}

func TestFrameParserFor_OpenAI_ExtractsUsageFromTerminalFrame(t *testing.T) {
	parser := frameParserFor("openai")
	_, usage, err := parser([]byte(`{"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	require.NoError(t, err)
	require.NotNil(t, usage)
	assert.Equal(t, 10, usage.PromptTokens)
	assert.Equal(t, 5, usage.CompletionTokens)
	assert.True(t, usage.FromUpstream)
}

func TestFrameParserFor_Anthropic_ExtractsUsageFromMessageDelta(t *testing.T) {
	parser := frameParserFor("anthropic")
	_, usage, err := parser([]byte(`{"type":"message_delta","usage":{"output_tokens":7}}`))
	require.NoError(t, err)
	require.NotNil(t, usage)
	assert.Equal(t, 7, usage.CompletionTokens)
}

func TestFrameParserFor_Gemini_ExtractsUsageMetadata(t *testing.T) {
	parser := frameParserFor("gemini")
	_, usage, err := parser([]byte(`{"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":4,"totalTokenCount":7}}`))
	require.NoError(t, err)
	require.NotNil(t, usage)
	assert.Equal(t, 3, usage.PromptTokens)
	assert.Equal(t, 4, usage.CompletionTokens)
}

func TestFrameParserFor_FrameWithoutUsageCountsAsOneToken(t *testing.T) {
	parser := frameParserFor("openai")
	delta, usage, err := parser([]byte(`{"choices":[{"delta":{"content":"hi"}}]}`))
	require.NoError(t, err)
	assert.Nil(t, usage)
	assert.Equal(t, 1, delta)
}
