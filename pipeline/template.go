package pipeline

import "fmt"

// Template names the ordered steps that make up one (Channel, Capability)
// workflow. Steps declare their own DependsOn edges; Template just lists
// which steps participate and is resolved once per request.
type Template struct {
	Channel    Channel
	Capability Capability
	Steps      []string
}

type templateKey struct {
	channel    Channel
	capability Capability
}

// templates holds the static set of workflow templates. Templates are
// constants — there is no runtime template authoring API.
var templates = map[templateKey]Template{
	{ChannelExternal, CapabilityChat}: {
		Channel: ChannelExternal, Capability: CapabilityChat,
		Steps: []string{
			"validation", "signature", "rate_limit", "quota_check",
			"routing", "template_render", "upstream_call",
			"response_transform", "sanitize", "memory_write", "billing", "audit_log",
		},
	},
	{ChannelExternal, CapabilityEmbedding}: {
		Channel: ChannelExternal, Capability: CapabilityEmbedding,
		Steps: []string{
			"validation", "signature", "rate_limit", "quota_check",
			"routing", "template_render", "upstream_call",
			"response_transform", "sanitize", "billing", "audit_log",
		},
	},
	{ChannelExternal, CapabilityImage}: {
		Channel: ChannelExternal, Capability: CapabilityImage,
		Steps: []string{
			"validation", "signature", "rate_limit", "quota_check",
			"routing", "template_render", "upstream_call",
			"response_transform", "sanitize", "billing", "audit_log",
		},
	},
	{ChannelExternal, CapabilitySpeech}: {
		Channel: ChannelExternal, Capability: CapabilitySpeech,
		Steps: []string{
			"validation", "signature", "rate_limit", "quota_check",
			"routing", "template_render", "upstream_call",
			"response_transform", "sanitize", "billing", "audit_log",
		},
	},
	{ChannelExternal, CapabilityTranscribe}: {
		Channel: ChannelExternal, Capability: CapabilityTranscribe,
		Steps: []string{
			"validation", "signature", "rate_limit", "quota_check",
			"routing", "template_render", "upstream_call",
			"response_transform", "sanitize", "billing", "audit_log",
		},
	},
	{ChannelExternal, CapabilityVideo}: {
		Channel: ChannelExternal, Capability: CapabilityVideo,
		Steps: []string{
			"validation", "signature", "rate_limit", "quota_check",
			"routing", "template_render", "upstream_call",
			"response_transform", "sanitize", "billing", "audit_log",
		},
	},
	{ChannelInternal, CapabilityChat}: {
		Channel: ChannelInternal, Capability: CapabilityChat,
		Steps: []string{
			"validation", "jwt_auth", "rate_limit", "quota_check",
			"routing", "template_render", "upstream_call",
			"response_transform", "conversation_append", "memory_write",
			"billing", "audit_log",
		},
	},
	{ChannelInternal, CapabilityEmbedding}: {
		Channel: ChannelInternal, Capability: CapabilityEmbedding,
		Steps: []string{
			"validation", "jwt_auth", "rate_limit", "quota_check",
			"routing", "template_render", "upstream_call",
			"response_transform", "billing", "audit_log",
		},
	},
}

// Resolve looks up the static workflow template for (channel, capability).
func Resolve(channel Channel, capability Capability) (Template, error) {
	t, ok := templates[templateKey{channel, capability}]
	if !ok {
		return Template{}, fmt.Errorf("pipeline: no workflow template for channel=%s capability=%s", channel, capability)
	}
	return t, nil
}
