package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ExprRenderer renders a JSON template whose string leaves may contain
// "{{ path.to.value }}" placeholders, resolved by dot-notation lookup
// against the canonical request and any extra vars. A leaf that is
// exactly one placeholder ("{{ messages }}") is replaced by the resolved
// value itself (preserving type); a placeholder embedded in a larger
// string is substituted textually.
type ExprRenderer struct{}

// Render implements Renderer.
func (ExprRenderer) Render(templateSource string, canonicalRequest map[string]any, vars map[string]any) (RenderedRequest, error) {
	var tmpl any
	if err := json.Unmarshal([]byte(templateSource), &tmpl); err != nil {
		return RenderedRequest{}, fmt.Errorf("template: invalid jinja-like template: %w", err)
	}

	scope := map[string]any{"request": anyMap(canonicalRequest)}
	for k, v := range vars {
		scope[k] = v
	}

	rendered := renderValue(tmpl, scope)
	body, ok := rendered.(map[string]any)
	if !ok {
		return RenderedRequest{}, fmt.Errorf("template: rendered document is not a JSON object")
	}
	return RenderedRequest{Body: body, Headers: map[string]string{}}, nil
}

func anyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func renderValue(v any, scope map[string]any) any {
	switch val := v.(type) {
	case string:
		return renderString(val, scope)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = renderValue(child, scope)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = renderValue(child, scope)
		}
		return out
	default:
		return val
	}
}

// renderString substitutes every "{{ path }}" placeholder in s. If s is
// exactly one placeholder, the resolved value is returned with its
// original type; otherwise placeholders are stringified in place.
func renderString(s string, scope map[string]any) any {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") && strings.Count(trimmed, "{{") == 1 {
		path := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		return resolvePath(path, scope)
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			b.WriteString(rest)
			break
		}
		end += start
		b.WriteString(rest[:start])
		path := strings.TrimSpace(rest[start+2 : end])
		b.WriteString(stringify(resolvePath(path, scope)))
		rest = rest[end+2:]
	}
	return b.String()
}

func resolvePath(path string, scope map[string]any) any {
	parts := strings.Split(path, ".")
	var current any = scope
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
