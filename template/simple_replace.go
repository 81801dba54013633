package template

import "encoding/json"

// SimpleReplaceRenderer applies a shallow merge-patch: each top-level key
// present in the template source overrides the same key on the canonical
// request; a JSON null removes the key entirely. Unlisted keys from the
// canonical request pass through unchanged.
type SimpleReplaceRenderer struct{}

// Render implements Renderer.
func (SimpleReplaceRenderer) Render(templateSource string, canonicalRequest map[string]any, vars map[string]any) (RenderedRequest, error) {
	var patch map[string]any
	if templateSource != "" {
		if err := json.Unmarshal([]byte(templateSource), &patch); err != nil {
			return RenderedRequest{}, err
		}
	}

	body := make(map[string]any, len(canonicalRequest)+len(patch))
	for k, v := range canonicalRequest {
		body[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(body, k)
			continue
		}
		body[k] = v
	}

	return RenderedRequest{Body: body, Headers: map[string]string{}}, nil
}
