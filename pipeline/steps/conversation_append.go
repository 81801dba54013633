package steps

import (
	"context"

	"github.com/nodeforge/gatewayflow/pipeline"
)

// ConversationAppendStep persists the turn just completed (internal
// channel only): the caller's user message(s) plus the assistant reply,
// tagged with whichever persona produced it.
type ConversationAppendStep struct {
	pipeline.BaseStep
	deps *Deps
}

func (s *ConversationAppendStep) Name() string        { return "conversation_append" }
func (s *ConversationAppendStep) DependsOn() []string { return []string{"sanitize"} }

func (s *ConversationAppendStep) Execute(ctx context.Context, wc *pipeline.Context) pipeline.StepResult {
	if wc.Channel != pipeline.ChannelInternal {
		return pipeline.StepResult{Status: pipeline.StatusSkipped}
	}
	if wc.HasError() || s.deps.ConversationAppender == nil {
		return pipeline.StepResult{Status: pipeline.StatusSkipped}
	}

	sessionID := wc.UserID
	if v, ok := wc.Get("validation", "session_id"); ok {
		if id, ok := v.(string); ok && id != "" {
			sessionID = id
		}
	}

	userContents := extractUserContents(wc.Request)
	if len(userContents) == 0 {
		return pipeline.StepResult{Status: pipeline.StatusSkipped}
	}
	assistantContent, _ := wc.Response["content"].(string)

	personaID := ""
	if v, ok := wc.Get("validation", "persona_id"); ok {
		personaID, _ = v.(string)
	}

	if err := s.deps.ConversationAppender.AppendTurn(ctx, sessionID, userContents, assistantContent, personaID); err != nil {
		if s.deps.Logger != nil {
			s.deps.Logger.Warn("conversation append failed")
		}
		return pipeline.StepResult{Status: pipeline.StatusFailed, Err: err}
	}
	return pipeline.StepResult{Status: pipeline.StatusSuccess}
}

// extractUserContents pulls the trailing run of user-role message contents
// from a canonical chat request's "messages" array — a turn may bundle
// more than one user message before the assistant replies.
func extractUserContents(request map[string]any) []string {
	raw, ok := request["messages"].([]any)
	if !ok {
		return nil
	}

	var contents []string
	for i := len(raw) - 1; i >= 0; i-- {
		m, ok := raw[i].(map[string]any)
		if !ok {
			break
		}
		role, _ := m["role"].(string)
		if role != "user" {
			break
		}
		content, _ := m["content"].(string)
		contents = append([]string{content}, contents...)
	}
	return contents
}
