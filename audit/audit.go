// Package audit sanitises and dispatches the final audit projection of a
// completed request to an append-only sink.
package audit

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// sensitiveKeyFragments are substrings matched case-insensitively against
// every map key, at any nesting depth. A key matching any of these is
// redacted rather than logged, even though context.ToAuditDict already
// restricts itself to a non-sensitive field allow-list — this is the
// defense-in-depth pass that invariant asks for.
var sensitiveKeyFragments = []string{"password", "secret", "token", "api_key"}

const redactedPlaceholder = "[REDACTED]"

// Sanitize returns a deep copy of dict with any key matching a sensitive
// fragment (at any depth, in maps and slices of maps) replaced by a
// redaction placeholder. The input is not mutated.
func Sanitize(dict map[string]any) map[string]any {
	out, _ := sanitizeValue(dict).(map[string]any)
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if isSensitiveKey(k) {
				out[k] = redactedPlaceholder
				continue
			}
			out[k] = sanitizeValue(inner)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = sanitizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = sanitizeValue(inner)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// Sink is the append-only destination for sanitised audit dicts. A sink
// must never raise an error that aborts the request: Dispatch logs sink
// failures rather than propagating them, matching the Audit Log Step's
// position as the pipeline's final, best-effort step.
type Sink interface {
	Write(ctx context.Context, entry map[string]any) error
}

// Dispatcher sanitises an audit dict and writes it to a sink, logging
// (never raising) any failure.
type Dispatcher struct {
	sink   Sink
	logger *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(sink Sink, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{sink: sink, logger: logger.With(zap.String("component", "audit"))}
}

// Dispatch sanitises dict and writes it to the configured sink.
func (d *Dispatcher) Dispatch(ctx context.Context, dict map[string]any) {
	clean := Sanitize(dict)
	if err := d.sink.Write(ctx, clean); err != nil {
		d.logger.Error("audit sink write failed", zap.Error(err), zap.Any("trace_id", clean["trace_id"]))
	}
}

// MarshalCompact renders dict as compact JSON, for sinks that store the
// audit entry as a single text/jsonb column.
func MarshalCompact(dict map[string]any) ([]byte, error) {
	return json.Marshal(dict)
}
