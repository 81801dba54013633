package steps

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nodeforge/gatewayflow/audit"
	"github.com/nodeforge/gatewayflow/pipeline"
)

type fakeAuditSink struct {
	entries []map[string]any
}

func (f *fakeAuditSink) Write(ctx context.Context, entry map[string]any) error {
	f.entries = append(f.entries, entry)
	return nil
}

func TestAuditLogStep_Execute_DispatchesSanitizedContext(t *testing.T) {
	sink := &fakeAuditSink{}
	dispatcher := audit.NewDispatcher(sink, zap.NewNop())
	step := &AuditLogStep{deps: &Deps{AuditDispatcher: dispatcher}}

	wc := pipeline.NewContext("trace-1", pipeline.ChannelExternal, pipeline.CapabilityChat)
	wc.APIKeyID = "key-1"
	wc.RequestedModel = "gpt-4"

	result := step.Execute(context.Background(), wc)
	require.Equal(t, pipeline.StatusSuccess, result.Status)
	require.Len(t, sink.entries, 1)
	assert.Equal(t, "trace-1", sink.entries[0]["trace_id"])
	assert.Equal(t, "gpt-4", sink.entries[0]["requested_model"])
}

func TestAuditLogStep_Execute_SkippedWhenNoDispatcherConfigured(t *testing.T) {
	step := &AuditLogStep{deps: &Deps{}}
	wc := pipeline.NewContext("trace-2", pipeline.ChannelExternal, pipeline.CapabilityChat)

	result := step.Execute(context.Background(), wc)
	assert.Equal(t, pipeline.StatusSkipped, result.Status)
}

func TestAuditLogStep_Execute_RunsEvenWhenContextFailed(t *testing.T) {
	sink := &fakeAuditSink{}
	dispatcher := audit.NewDispatcher(sink, zap.NewNop())
	step := &AuditLogStep{deps: &Deps{AuditDispatcher: dispatcher}}

	wc := pipeline.NewContext("trace-3", pipeline.ChannelExternal, pipeline.CapabilityChat)
	wc.Fail(pipeline.ErrorSourceUpstream, "UPSTREAM_ERROR", "boom")

	result := step.Execute(context.Background(), wc)
	assert.Equal(t, pipeline.StatusSuccess, result.Status)
	require.Len(t, sink.entries, 1)
	assert.Equal(t, false, sink.entries[0]["success"])
}
