package template

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Protocol names the upstream wire protocol family for URL computation
// rules; distinct from Vendor, since e.g. Azure OpenAI uses the OpenAI
// protocol with its own URL quirks.
type Protocol string

const (
	ProtocolOpenAI Protocol = "openai"
	ProtocolAzure  Protocol = "azure_openai"
	ProtocolGemini Protocol = "gemini"
	ProtocolVertex Protocol = "vertex"
)

var versionSegment = regexp.MustCompile(`/v\d+(\.\d+)?(/|$)`)

// ComputeURL derives the final upstream request URL from a candidate's
// configured base URL per protocol-specific rules:
//   - OpenAI: if the base URL has no /vN segment, "/v1" is appended before
//     the path.
//   - Azure OpenAI: an "api-version" query parameter is injected (or left
//     alone if the base URL already carries one — explicit override wins).
//   - Gemini/Vertex: the base URL's path is preserved unchanged.
func ComputeURL(protocol Protocol, baseURL, path, apiVersion string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("template: invalid base url %q: %w", baseURL, err)
	}

	switch protocol {
	case ProtocolOpenAI:
		if !versionSegment.MatchString(u.Path) {
			u.Path = joinPath(u.Path, "v1")
		}
		u.Path = joinPath(u.Path, path)

	case ProtocolAzure:
		u.Path = joinPath(u.Path, path)
		if apiVersion != "" {
			q := u.Query()
			if q.Get("api-version") == "" {
				q.Set("api-version", apiVersion)
				u.RawQuery = q.Encode()
			}
		}

	case ProtocolGemini, ProtocolVertex:
		u.Path = joinPath(u.Path, path)

	default:
		return "", fmt.Errorf("template: unknown protocol %q", protocol)
	}

	return u.String(), nil
}

func joinPath(base, add string) string {
	if add == "" {
		return strings.TrimRight(base, "/")
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(add, "/")
}
