package steps

import (
	"context"

	"github.com/nodeforge/gatewayflow/pipeline"
)

// AuditLogStep is the final step of every workflow: it dispatches the
// context's non-sensitive projection to the append-only audit sink
// regardless of whether the request succeeded or failed.
type AuditLogStep struct {
	pipeline.BaseStep
	deps *Deps
}

func (s *AuditLogStep) Name() string        { return "audit_log" }
func (s *AuditLogStep) DependsOn() []string { return []string{"billing"} }

func (s *AuditLogStep) Execute(ctx context.Context, wc *pipeline.Context) pipeline.StepResult {
	if s.deps.AuditDispatcher == nil {
		return pipeline.StepResult{Status: pipeline.StatusSkipped}
	}
	s.deps.AuditDispatcher.Dispatch(ctx, wc.ToAuditDict())
	return pipeline.StepResult{Status: pipeline.StatusSuccess}
}
