package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/nodeforge/gatewayflow/pipeline"
	"github.com/nodeforge/gatewayflow/routing"
	"github.com/nodeforge/gatewayflow/template"
	"github.com/nodeforge/gatewayflow/upstream"
)

// TemplateRenderStep renders the canonical request into a vendor wire
// format for every candidate in the routing step's ordered failover
// list, resolving each candidate's credential and computing its URL, so
// upstream_call can walk the list without re-entering routing/template
// logic mid-failover.
type TemplateRenderStep struct {
	pipeline.BaseStep
	deps *Deps
}

func (s *TemplateRenderStep) Name() string        { return "template_render" }
func (s *TemplateRenderStep) DependsOn() []string { return []string{"routing"} }

func (s *TemplateRenderStep) Execute(ctx context.Context, wc *pipeline.Context) pipeline.StepResult {
	orderedRaw, ok := wc.Get("routing", "ordered")
	if !ok {
		wc.Fail(pipeline.ErrorSourceGateway, "TEMPLATE_RENDER_FAILED", "no routing decision to render against")
		return pipeline.StepResult{Status: pipeline.StatusFailed}
	}
	ordered, ok := orderedRaw.([]routing.Candidate)
	if !ok || len(ordered) == 0 {
		wc.Fail(pipeline.ErrorSourceGateway, "TEMPLATE_RENDER_FAILED", "empty candidate ordering")
		return pipeline.StepResult{Status: pipeline.StatusFailed}
	}

	requests := make([]upstream.Request, 0, len(ordered))
	for _, cand := range ordered {
		req, err := s.renderCandidate(ctx, wc, cand)
		if err != nil {
			if s.deps.Logger != nil {
				s.deps.Logger.Warn("template render failed for candidate", zap.String("arm_id", cand.ArmID), zap.Error(err))
			}
			continue
		}
		requests = append(requests, req)
	}

	if len(requests) == 0 {
		wc.Fail(pipeline.ErrorSourceGateway, "TEMPLATE_RENDER_FAILED", "no candidate rendered successfully")
		return pipeline.StepResult{Status: pipeline.StatusFailed}
	}

	wc.Set("template_render", "requests", requests)
	return pipeline.StepResult{Status: pipeline.StatusSuccess}
}

func (s *TemplateRenderStep) renderCandidate(ctx context.Context, wc *pipeline.Context, cand routing.Candidate) (upstream.Request, error) {
	vars := map[string]any{
		"model": cand.ModelID,
	}

	rendered, err := renderBody(cand, wc.Request, vars)
	if err != nil {
		return upstream.Request{}, fmt.Errorf("rendering candidate %s: %w", cand.ArmID, err)
	}

	plaintext, err := s.deps.SecretManager.Resolve(ctx, cand.ProviderCode, cand.CredentialID)
	if err != nil {
		return upstream.Request{}, fmt.Errorf("resolving credential for candidate %s: %w", cand.ArmID, err)
	}
	if rendered.Headers == nil {
		rendered.Headers = map[string]string{}
	}
	rendered.Headers["Authorization"] = "Bearer " + plaintext
	rendered.Headers["Content-Type"] = "application/json"

	protocol := protocolFor(cand.ProviderCode)
	path := pathFor(protocol, wc.Capability)
	url, err := template.ComputeURL(protocol, cand.BaseURL, path, "")
	if err != nil {
		return upstream.Request{}, fmt.Errorf("computing url for candidate %s: %w", cand.ArmID, err)
	}

	body, err := json.Marshal(rendered.Body)
	if err != nil {
		return upstream.Request{}, fmt.Errorf("marshaling body for candidate %s: %w", cand.ArmID, err)
	}

	return upstream.Request{
		ArmID:   cand.ArmID,
		Method:  "POST",
		URL:     url,
		Headers: rendered.Headers,
		Body:    body,
	}, nil
}

// renderBody picks the renderer by a pragmatic mapping of provider code to
// engine: the three vendor-builder protocols get their dedicated builder,
// everything else falls back to the expr (dot-path) renderer, and an
// empty template falls back to a pure pass-through merge.
func renderBody(cand routing.Candidate, canonicalRequest map[string]any, vars map[string]any) (template.RenderedRequest, error) {
	switch cand.ProviderCode {
	case "anthropic":
		builder, err := template.ResolveVendorBuilder(template.VendorAnthropic)
		if err != nil {
			return template.RenderedRequest{}, err
		}
		return builder.Build(canonicalRequest, vars)
	case "gemini", "vertex":
		builder, err := template.ResolveVendorBuilder(template.VendorGemini)
		if err != nil {
			return template.RenderedRequest{}, err
		}
		return builder.Build(canonicalRequest, vars)
	case "openai_responses":
		builder, err := template.ResolveVendorBuilder(template.VendorOpenAIResponse)
		if err != nil {
			return template.RenderedRequest{}, err
		}
		return builder.Build(canonicalRequest, vars)
	default:
		if cand.RequestTemplate == "" {
			return template.SimpleReplaceRenderer{}.Render("{}", canonicalRequest, vars)
		}
		renderer, err := template.Resolve(template.EngineExpr)
		if err != nil {
			return template.RenderedRequest{}, err
		}
		return renderer.Render(cand.RequestTemplate, canonicalRequest, vars)
	}
}

func protocolFor(providerCode string) template.Protocol {
	switch providerCode {
	case "azure_openai":
		return template.ProtocolAzure
	case "gemini":
		return template.ProtocolGemini
	case "vertex":
		return template.ProtocolVertex
	default:
		return template.ProtocolOpenAI
	}
}

func pathFor(protocol template.Protocol, capability pipeline.Capability) string {
	switch protocol {
	case template.ProtocolGemini, template.ProtocolVertex:
		return "models/gemini:generateContent"
	default:
		switch capability {
		case pipeline.CapabilityEmbedding:
			return "/embeddings"
		case pipeline.CapabilityImage:
			return "/images/generations"
		case pipeline.CapabilitySpeech:
			return "/audio/speech"
		case pipeline.CapabilityTranscribe:
			return "/audio/transcriptions"
		default:
			return "/chat/completions"
		}
	}
}
