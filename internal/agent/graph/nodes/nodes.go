package nodes

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/vayu-advisor/server/internal/agent/graph/parsers"
	"github.com/vayu-advisor/server/internal/agent/graph/prompts"
	"github.com/vayu-advisor/server/internal/agent/graph/tools"
	"github.com/vayu-advisor/server/internal/agent/model"
	"github.com/vayu-advisor/server/internal/agent/responder"
	logx "github.com/vayu-advisor/server/pkg/logger"
)

// NodeID names a graph node. Branch conditions return it as the next node key.
type NodeID string

const (
	NodeParseQuery       NodeID = "parse_query"
	NodeValidateInfo     NodeID = "validate_info"
	NodeAskMissingInfo   NodeID = "ask_missing_info"
	NodeDispatchTools    NodeID = "dispatch_tools"
	NodeGenerateResponse NodeID = "generate_response"
)

// Node runs one step over the turn state. Nodes degrade failures into state
// instead of returning them; an error aborts the turn.
type Node = func(ctx context.Context, s *model.AgentState) (*model.AgentState, error)

type Parser interface {
	Parse(ctx context.Context, query string, cc *model.ConversationContext, prefs model.ModelPreferences) *model.ParsedQuery
}

type ToolDispatcher interface {
	Dispatch(ctx context.Context, pq *model.ParsedQuery, cc *model.ConversationContext) map[string]model.ToolResult
}

type Responder interface {
	Respond(ctx context.Context, req responder.Request) (string, error)
}

// DegradationText replaces the advisory when the model cannot be reached.
const DegradationText = "I'm sorry, I wasn't able to put together your health advisory right now because the language model service is unavailable. Please try again in a few minutes."

// NewParseQueryNode parses the latest user message into state.ParsedQuery.
func NewParseQueryNode(p Parser) Node {
	return func(ctx context.Context, s *model.AgentState) (*model.AgentState, error) {
		query := lastUserMessage(s.Messages)
		if query == "" {
			s.ParsedQuery = nil
			return s, nil
		}
		s.ParsedQuery = p.Parse(ctx, query, s.ConversationContext, s.ModelPreferences)
		return s, nil
	}
}

// NewValidateInfoNode recomputes ValidationStatus. A missing parsed query
// yields conservative flags.
func NewValidateInfoNode() Node {
	return func(ctx context.Context, s *model.AgentState) (*model.AgentState, error) {
		pq := s.ParsedQuery
		if pq == nil {
			s.ValidationStatus = model.ValidationStatus{}
			return s, nil
		}
		s.ValidationStatus = model.ValidationStatus{
			IsComplete:   pq.IsComplete,
			NeedsWeather: pq.RequiredActions.NeedsWeatherData,
			NeedsMedical: pq.RequiredActions.NeedsMedicalResearch,
		}
		return s, nil
	}
}

// NewValidateInfoCondition routes complete queries to the tools and everything
// else to ask_missing_info.
func NewValidateInfoCondition() func(context.Context, *model.AgentState) (string, error) {
	return func(ctx context.Context, s *model.AgentState) (string, error) {
		if s != nil && s.ValidationStatus.IsComplete {
			return string(NodeDispatchTools), nil
		}
		return string(NodeAskMissingInfo), nil
	}
}

// NewAskMissingInfoNode emits the parser's pre-authored reply. The turn
// suspends after it.
func NewAskMissingInfoNode() Node {
	return func(ctx context.Context, s *model.AgentState) (*model.AgentState, error) {
		text := ""
		switch pq := s.ParsedQuery; {
		case pq == nil:
			text = model.ErrorResponseText
		case strings.TrimSpace(pq.Response.Text) != "":
			text = pq.Response.Text
		case pq.Intent == model.IntentError:
			text = model.ErrorResponseText
		default:
			text = parsers.RequestInfoText(pq.RequiredActions.MissingInfo)
		}
		appendAssistant(s, text)
		return s, nil
	}
}

// NewDispatchToolsNode fetches weather and medical data.
func NewDispatchToolsNode(d ToolDispatcher) Node {
	return func(ctx context.Context, s *model.AgentState) (*model.AgentState, error) {
		s.ToolResults = d.Dispatch(ctx, s.ParsedQuery, s.ConversationContext)
		return s, nil
	}
}

// NewGenerateResponseNode asks the responder for the advisory. A responder
// failure becomes DegradationText; failed lookups are always acknowledged.
func NewGenerateResponseNode(r Responder) Node {
	return func(ctx context.Context, s *model.AgentState) (*model.AgentState, error) {
		text, err := synthesize(ctx, r, s)
		if err != nil {
			logx.Error().Err(err).Str("session_id", s.SessionID).Str("node", string(NodeGenerateResponse)).Msg("advisory generation failed")
			text = DegradationText
		}
		if notes := Acknowledgements(s.ToolResults); notes != "" {
			text = strings.TrimSpace(text) + "\n\n" + notes
		}
		appendAssistant(s, text)
		return s, nil
	}
}

func synthesize(ctx context.Context, r Responder, s *model.AgentState) (string, error) {
	var intent model.Intent
	if s.ParsedQuery != nil {
		intent = s.ParsedQuery.Intent
	}
	prompt, err := prompts.RenderResponse(ctx, prompts.ResponseInput{
		Query:      lastUserMessage(s.Messages),
		Intent:     intent,
		Info:       s.ConversationContext.ExtractedInfo,
		Conditions: tools.Conditions(s.ConversationContext),
		Weather:    s.ToolResults[model.ToolWeather],
		Medical:    s.ToolResults[model.ToolMedical],
	})
	if err != nil {
		return "", err
	}
	return r.Respond(ctx, responder.Request{
		System:      prompts.ResponseSystem(),
		Prompt:      prompt,
		Preferences: s.ModelPreferences,
	})
}

// Acknowledgements lists a note for every lookup that was attempted and failed.
func Acknowledgements(results map[string]model.ToolResult) string {
	var notes []string
	if r, ok := results[model.ToolWeather]; ok && r.Status == model.ToolStatusFailed {
		notes = append(notes, "Note: I couldn't retrieve weather data for your trip, so this advice doesn't reflect the forecast.")
	}
	if r, ok := results[model.ToolMedical]; ok && r.Status == model.ToolStatusFailed {
		notes = append(notes, "Note: I couldn't retrieve medical research for your condition, so this advice is general.")
	}
	return strings.Join(notes, "\n")
}

func appendAssistant(s *model.AgentState, text string) {
	s.Messages = append(s.Messages, schema.AssistantMessage(text, nil))
}

func lastUserMessage(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if m := msgs[i]; m != nil && m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
