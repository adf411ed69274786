package model

import (
	"encoding/json"
	"time"

	"github.com/cloudwego/eino/schema"
)

// Tool names used as keys of AgentState.ToolResults.
const (
	ToolWeather = "weather"
	ToolMedical = "medical_research"
)

// ToolStatus records how a tool call ended.
type ToolStatus string

const (
	ToolStatusOK ToolStatus = "ok"
	// ToolStatusAbsent means the tool was not called (not needed or inputs missing).
	ToolStatusAbsent ToolStatus = "absent"
	// ToolStatusFailed means the tool was called and produced no usable data.
	ToolStatusFailed ToolStatus = "failed"
)

// ToolResult is one entry of AgentState.ToolResults.
type ToolResult struct {
	Tool   string          `json:"tool"`
	Status ToolStatus      `json:"status"`
	Reason string          `json:"reason,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Available reports whether the tool produced data.
func (r ToolResult) Available() bool {
	return r.Status == ToolStatusOK && len(r.Data) > 0
}

// ValidationStatus is derived from the latest ParsedQuery every turn.
type ValidationStatus struct {
	IsComplete   bool `json:"is_complete"`
	NeedsWeather bool `json:"needs_weather"`
	NeedsMedical bool `json:"needs_medical"`
}

// ModelPreferences carries the provider and per-provider model ids chosen
// for a session. The graph reads it and never changes it.
type ModelPreferences struct {
	Provider     string `json:"provider"`
	GraniteModel string `json:"granite_model,omitempty"`
	OpenAIModel  string `json:"openai_model,omitempty"`
	GeminiModel  string `json:"gemini_model,omitempty"`
}

// AgentState stores per-session state for the orchestration graph.
// Concurrency model:
//   - One AgentState belongs to exactly one session.
//   - The session manager serializes turns, so nodes mutate it without locks.
//   - Messages and ConversationContext.PreviousQueries are append-only
//     except for explicit clear-history / logout resets.
type AgentState struct {
	SessionID           string                `json:"session_id"`
	Messages            []*schema.Message     `json:"messages"`
	ConversationContext *ConversationContext  `json:"conversation_context"`
	ParsedQuery         *ParsedQuery          `json:"parsed_query,omitempty"`
	ToolResults         map[string]ToolResult `json:"tool_results"`
	ModelPreferences    ModelPreferences      `json:"model_preferences"`
	ValidationStatus    ValidationStatus      `json:"validation_status"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

// NewAgentState returns a fresh state for a new session.
func NewAgentState(sessionID string, user UserInfo, prefs ModelPreferences) *AgentState {
	now := time.Now().UTC()
	return &AgentState{
		SessionID:           sessionID,
		Messages:            []*schema.Message{},
		ConversationContext: NewConversationContext(user),
		ToolResults:         map[string]ToolResult{},
		ModelPreferences:    prefs,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// LastAssistantMessage returns the latest assistant content, or "".
func (s *AgentState) LastAssistantMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if m := s.Messages[i]; m != nil && m.Role == schema.Assistant {
			return m.Content
		}
	}
	return ""
}

// ClearHistory drops messages and turn state, keeping profile and preferences.
func (s *AgentState) ClearHistory() {
	s.Messages = []*schema.Message{}
	s.ConversationContext.Reset(true)
	s.resetTurn()
}

// Logout resets everything, including profile and preferences.
func (s *AgentState) Logout(defaults ModelPreferences) {
	s.Messages = []*schema.Message{}
	s.ConversationContext.Reset(false)
	s.ModelPreferences = defaults
	s.resetTurn()
}

func (s *AgentState) resetTurn() {
	s.ParsedQuery = nil
	s.ToolResults = map[string]ToolResult{}
	s.ValidationStatus = ValidationStatus{}
	s.UpdatedAt = time.Now().UTC()
}
