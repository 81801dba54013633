// Package pipeline implements the per-channel request DAG that drives gateway
// requests from validation through billing and audit.
package pipeline

import (
	"sync"
	"time"

	"github.com/nodeforge/gatewayflow/types"
)

// Channel distinguishes third-party signed clients from authenticated
// internal users with conversation state.
type Channel string

const (
	ChannelExternal Channel = "external"
	ChannelInternal Channel = "internal"
)

// Capability names the kind of work a request asks for.
type Capability string

const (
	CapabilityChat         Capability = "chat"
	CapabilityEmbedding    Capability = "embedding"
	CapabilityImage        Capability = "image"
	CapabilitySpeech       Capability = "speech"
	CapabilityTranscribe   Capability = "transcribe"
	CapabilityVideo        Capability = "video"
)

// ErrorSource classifies where a pipeline failure originated.
type ErrorSource string

const (
	ErrorSourceNone     ErrorSource = ""
	ErrorSourceClient   ErrorSource = "client"
	ErrorSourceUpstream ErrorSource = "upstream"
	ErrorSourceGateway  ErrorSource = "gateway"
	ErrorSourcePolicy   ErrorSource = "policy"
)

// ClassifyError maps a canonical error code to its error source, per
// SPEC_FULL.md §7's taxonomy table.
func ClassifyError(code types.ErrorCode) ErrorSource {
	switch code {
	case types.ErrInvalidRequest, types.ErrUnauthorized, types.ErrForbidden:
		return ErrorSourceClient
	case "REQUEST_TOO_LARGE", "NOT_FOUND":
		return ErrorSourceClient
	case types.ErrRateLimited, types.ErrRateLimit, types.ErrQuotaExceeded,
		"IP_NOT_ALLOWED", "MODEL_NOT_ALLOWED":
		return ErrorSourcePolicy
	case types.ErrUpstreamTimeout, types.ErrUpstreamError, "UPSTREAM_4XX", "UPSTREAM_5XX",
		"UPSTREAM_STREAM_BROKEN", "UPSTREAM_CIRCUIT_OPEN", "UPSTREAM_DOMAIN_NOT_ALLOWED":
		return ErrorSourceUpstream
	case "NO_AVAILABLE_UPSTREAM", "TEMPLATE_RENDER_FAILED", "STEP_TIMEOUT", types.ErrInternalError:
		return ErrorSourceGateway
	default:
		return ErrorSourceGateway
	}
}

// UpstreamResultSummary is the non-sensitive projection of an upstream call
// outcome, attached to the context for billing and audit.
type UpstreamResultSummary struct {
	ProviderID  string        `json:"provider_id"`
	InstanceID  string        `json:"instance_id"`
	ModelUsed   string        `json:"model_used"`
	StatusCode  int           `json:"status_code"`
	ErrorCode   string        `json:"error_code,omitempty"`
	Latency     time.Duration `json:"latency"`
	Attempt     int           `json:"attempt"`
}

// BillingSummary is the canonical billing projection written by the billing
// step and read by the audit step.
type BillingSummary struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	TotalCost    float64 `json:"total_cost"`
	CacheHit     bool    `json:"cache_hit"`
}

// StepExecution records one executed step's outcome for the history list and
// for the audit projection.
type StepExecution struct {
	Name     string        `json:"name"`
	Status   StepStatus    `json:"status"`
	Duration time.Duration `json:"duration"`
	Attempt  int           `json:"attempt"`
	Error    string        `json:"error,omitempty"`
}

// StatusEvent is one frame emitted to SSE status-channel subscribers while a
// workflow executes (SPEC_FULL.md §6 Event stream frames).
type StatusEvent struct {
	Stage string `json:"stage"`
	Step  string `json:"step"`
	State string `json:"state"` // running|success|failed
	Code  string `json:"code,omitempty"`
	Meta  any    `json:"meta,omitempty"`
}

// StatusEmitter publishes StatusEvents to any subscribers of a single
// request's progress.
type StatusEmitter func(StatusEvent)

// Context is the single mutable state bag shared by every step executing a
// request. It is created per request and discarded; it is mutated only by
// the step that currently owns the turn — see Invariants on Context below.
//
// Invariants:
//   - once ErrorCode is non-empty, no step may mutate Response
//   - ExecutedSteps is append-only
//   - the context is touched by exactly one goroutine at a time (the
//     orchestrator runs steps sequentially; background tasks a step spawns
//     must not write back into the context after the step returns)
type Context struct {
	mu sync.Mutex

	TraceID  string
	Channel  Channel
	Capability Capability

	RequestedModel string
	TenantID       string
	UserID         string
	APIKeyID       string

	Request  map[string]any
	Response map[string]any

	namespaces map[string]map[string]any

	ExecutedSteps []StepExecution

	Success      bool
	ErrorSource  ErrorSource
	ErrorCode    string
	ErrorMessage string
	RetryAfter   time.Duration

	Upstream *UpstreamResultSummary
	Billing  BillingSummary

	Selected *SelectedUpstream

	StatusEmitter StatusEmitter
}

// NewContext creates a fresh per-request Context.
func NewContext(traceID string, channel Channel, capability Capability) *Context {
	return &Context{
		TraceID:    traceID,
		Channel:    channel,
		Capability: capability,
		Request:    make(map[string]any),
		Response:   make(map[string]any),
		namespaces: make(map[string]map[string]any),
		Success:    true,
	}
}

// Namespace returns (creating if needed) the key-value map for a named
// namespace, e.g. "validation", "routing", "billing".
func (c *Context) Namespace(name string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.namespaces[name]
	if !ok {
		ns = make(map[string]any)
		c.namespaces[name] = ns
	}
	return ns
}

// Set writes a single key into a namespace.
func (c *Context) Set(namespace, key string, value any) {
	ns := c.Namespace(namespace)
	c.mu.Lock()
	ns[key] = value
	c.mu.Unlock()
}

// Get reads a single key from a namespace.
func (c *Context) Get(namespace, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.namespaces[namespace]
	if !ok {
		return nil, false
	}
	v, ok := ns[key]
	return v, ok
}

// HasError reports whether a prior step has already marked the context
// failed. Steps must check this before mutating Response.
func (c *Context) HasError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ErrorCode != ""
}

// Fail marks the context as failed. Once called, ExecutedSteps keeps
// growing (audit/tail steps still run) but Response must not change.
func (c *Context) Fail(source ErrorSource, code types.ErrorCode, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ErrorCode != "" {
		return // first error wins
	}
	c.Success = false
	c.ErrorSource = source
	c.ErrorCode = string(code)
	c.ErrorMessage = message
}

// RecordStep appends a step execution outcome. Append-only.
func (c *Context) RecordStep(exec StepExecution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ExecutedSteps = append(c.ExecutedSteps, exec)
}

// Emit publishes a status event if a subscriber is attached.
func (c *Context) Emit(ev StatusEvent) {
	if c.StatusEmitter != nil {
		c.StatusEmitter(ev)
	}
}

// ToAuditDict serialises a non-sensitive projection of the context,
// suitable for the append-only audit sink. No key here may match
// password|secret|token|api_key at any depth — callers relying on this
// invariant should run it through audit.Sanitize before storage as a
// defense in depth measure, but ToAuditDict itself only ever touches the
// explicit allow-list of fields below.
func (c *Context) ToAuditDict() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	steps := make([]map[string]any, 0, len(c.ExecutedSteps))
	for _, s := range c.ExecutedSteps {
		steps = append(steps, map[string]any{
			"name":     s.Name,
			"status":   string(s.Status),
			"duration": s.Duration.String(),
			"attempt":  s.Attempt,
			"error":    s.Error,
		})
	}

	dict := map[string]any{
		"trace_id":        c.TraceID,
		"channel":         string(c.Channel),
		"capability":      string(c.Capability),
		"tenant_id":       c.TenantID,
		"user_id":         c.UserID,
		"api_key_id":      c.APIKeyID,
		"requested_model": c.RequestedModel,
		"success":         c.Success,
		"error_source":    string(c.ErrorSource),
		"error_code":      c.ErrorCode,
		"steps":           steps,
		"billing":         c.Billing,
	}
	if c.Upstream != nil {
		dict["upstream"] = map[string]any{
			"provider_id": c.Upstream.ProviderID,
			"instance_id": c.Upstream.InstanceID,
			"model_used":  c.Upstream.ModelUsed,
			"status_code": c.Upstream.StatusCode,
			"error_code":  c.Upstream.ErrorCode,
			"latency_ms":  c.Upstream.Latency.Milliseconds(),
		}
	}
	return dict
}
