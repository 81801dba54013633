package steps

import (
	"context"
	"encoding/json"

	"github.com/nodeforge/gatewayflow/pipeline"
	"github.com/nodeforge/gatewayflow/types"
)

// maxRequestBytes bounds the size of the canonicalized request JSON the
// validation step will accept. A hot-reloadable MAX_REQUEST_BYTES config
// value would override this; the constant is the compiled-in default.
const maxRequestBytes = 2 << 20 // 2 MiB

// chatRequestDTO is the struct-tag-validated shape of an inbound chat
// request, populated by round-tripping context.Request through JSON.
type chatRequestDTO struct {
	Model    string `json:"model" validate:"required"`
	Messages []any  `json:"messages" validate:"required,min=1"`
}

// ValidationStep enforces the request-size ceiling, requires a non-empty
// model, and propagates RequestedModel into the context.
type ValidationStep struct {
	pipeline.BaseStep
	deps *Deps
}

func (s *ValidationStep) Name() string        { return "validation" }
func (s *ValidationStep) DependsOn() []string { return nil }

func (s *ValidationStep) Execute(ctx context.Context, wc *pipeline.Context) pipeline.StepResult {
	raw, err := json.Marshal(wc.Request)
	if err != nil {
		wc.Fail(pipeline.ErrorSourceClient, types.ErrInvalidRequest, "request is not serialisable")
		return pipeline.StepResult{Status: pipeline.StatusFailed, Err: err}
	}
	if len(raw) > maxRequestBytes {
		wc.Fail(pipeline.ErrorSourceClient, types.ErrInvalidRequest, "request exceeds maximum size")
		return pipeline.StepResult{Status: pipeline.StatusFailed, Message: "request too large"}
	}

	var dto chatRequestDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		wc.Fail(pipeline.ErrorSourceClient, types.ErrInvalidRequest, "request does not match expected shape")
		return pipeline.StepResult{Status: pipeline.StatusFailed, Err: err}
	}

	if s.deps.Validator != nil {
		if err := s.deps.Validator.Struct(dto); err != nil {
			wc.Fail(pipeline.ErrorSourceClient, types.ErrInvalidRequest, err.Error())
			return pipeline.StepResult{Status: pipeline.StatusFailed, Err: err}
		}
	}

	wc.RequestedModel = dto.Model
	wc.Set("validation", "validated", wc.Request)
	return pipeline.StepResult{Status: pipeline.StatusSuccess}
}
