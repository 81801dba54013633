package steps

import (
	"context"
	"strings"

	"github.com/nodeforge/gatewayflow/pipeline"
)

// SanitizeStep strips configured fields from the canonical response before
// it reaches the client and, for the external channel, drops any headers
// that must never leave the gateway.
type SanitizeStep struct {
	pipeline.BaseStep
	deps *Deps
}

var forbiddenExternalHeaders = map[string]bool{
	"authorization":    true,
	"x-request-id":     true,
	"x-upstream-host":  true,
	"x-proxy-timing":   true,
}

func (s *SanitizeStep) Name() string        { return "sanitize" }
func (s *SanitizeStep) DependsOn() []string { return []string{"response_transform"} }

func (s *SanitizeStep) Execute(ctx context.Context, wc *pipeline.Context) pipeline.StepResult {
	if wc.HasError() {
		return pipeline.StepResult{Status: pipeline.StatusSkipped}
	}

	if removeRaw, ok := wc.Get("validation", "remove_fields"); ok {
		if paths, ok := removeRaw.([]string); ok {
			for _, p := range paths {
				removePath(wc.Response, p)
			}
		}
	}
	if maskRaw, ok := wc.Get("validation", "mask_fields"); ok {
		if paths, ok := maskRaw.([]string); ok {
			for _, p := range paths {
				maskPath(wc.Response, p)
			}
		}
	}

	if wc.Channel == pipeline.ChannelExternal {
		if headersRaw, ok := wc.Get("upstream_call", "headers"); ok {
			if headers, ok := headersRaw.(map[string]string); ok {
				for k := range headers {
					if forbiddenExternalHeaders[strings.ToLower(k)] {
						delete(headers, k)
					}
				}
			}
		}
	}

	return pipeline.StepResult{Status: pipeline.StatusSuccess}
}

// removePath deletes the value at a dot-separated path, e.g. "usage.cache".
func removePath(doc map[string]any, path string) {
	segments := strings.Split(path, ".")
	cursor := doc
	for i, seg := range segments {
		if i == len(segments)-1 {
			delete(cursor, seg)
			return
		}
		next, ok := cursor[seg].(map[string]any)
		if !ok {
			return
		}
		cursor = next
	}
}

// maskPath replaces the string value at a dot-separated path with a
// partial mask, keeping the first and last character visible.
func maskPath(doc map[string]any, path string) {
	segments := strings.Split(path, ".")
	cursor := doc
	for i, seg := range segments {
		if i == len(segments)-1 {
			if v, ok := cursor[seg].(string); ok {
				cursor[seg] = maskString(v)
			}
			return
		}
		next, ok := cursor[seg].(map[string]any)
		if !ok {
			return
		}
		cursor = next
	}
}

func maskString(v string) string {
	if len(v) <= 2 {
		return "***"
	}
	return v[:1] + strings.Repeat("*", len(v)-2) + v[len(v)-1:]
}
