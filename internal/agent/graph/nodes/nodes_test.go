package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vayu-advisor/server/internal/agent/model"
	"github.com/vayu-advisor/server/internal/agent/responder"
)

type fakeResponder struct {
	reply string
	err   error
	reqs  []responder.Request
}

func (f *fakeResponder) Respond(_ context.Context, req responder.Request) (string, error) {
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}

func stateWith(pq *model.ParsedQuery) *model.AgentState {
	s := model.NewAgentState("s-1", model.UserInfo{Conditions: []string{"COPD"}}, model.ModelPreferences{Provider: model.ProviderOpenAI})
	s.Messages = append(s.Messages, schema.UserMessage("Is Delhi safe for me next week?"))
	s.ParsedQuery = pq
	return s
}

func TestValidateInfo(t *testing.T) {
	node := NewValidateInfoNode()

	s := stateWith(nil)
	s.ValidationStatus = model.ValidationStatus{IsComplete: true, NeedsWeather: true}
	out, err := node(context.Background(), s)
	require.NoError(t, err)
	assert.Same(t, s, out)
	assert.Equal(t, model.ValidationStatus{}, s.ValidationStatus)

	s = stateWith(&model.ParsedQuery{IsComplete: true, RequiredActions: model.RequiredActions{NeedsWeatherData: true, NeedsMedicalResearch: true}})
	_, err = node(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, model.ValidationStatus{IsComplete: true, NeedsWeather: true, NeedsMedical: true}, s.ValidationStatus)
}

func TestValidateInfoCondition(t *testing.T) {
	cond := NewValidateInfoCondition()

	tests := []struct {
		name  string
		state *model.AgentState
		want  NodeID
	}{
		{"nil state", nil, NodeAskMissingInfo},
		{"incomplete", &model.AgentState{}, NodeAskMissingInfo},
		{"needs only flags", &model.AgentState{ValidationStatus: model.ValidationStatus{NeedsWeather: true}}, NodeAskMissingInfo},
		{"complete", &model.AgentState{ValidationStatus: model.ValidationStatus{IsComplete: true}}, NodeDispatchTools},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := cond(context.Background(), tt.state)
			require.NoError(t, err)
			assert.Equal(t, string(tt.want), next)
		})
	}
}

func TestAskMissingInfo(t *testing.T) {
	node := NewAskMissingInfoNode()

	s := stateWith(&model.ParsedQuery{Response: model.Response{Text: "Where to?", Type: model.ResponseRequestInfo}})
	_, err := node(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "Where to?", s.LastAssistantMessage())

	s = stateWith(&model.ParsedQuery{RequiredActions: model.RequiredActions{MissingInfo: []string{model.FieldLocation}}})
	_, _ = node(context.Background(), s)
	assert.Contains(t, s.LastAssistantMessage(), "where you are travelling")

	s = stateWith(nil)
	_, _ = node(context.Background(), s)
	assert.Equal(t, model.ErrorResponseText, s.LastAssistantMessage())
}

func TestGenerateResponse(t *testing.T) {
	r := &fakeResponder{reply: "Wear an N95 mask."}
	s := stateWith(&model.ParsedQuery{Intent: model.IntentWeatherHealth, IsComplete: true})
	s.ConversationContext.ExtractedInfo.Location = model.StringPtr("Delhi")
	s.ToolResults = map[string]model.ToolResult{
		model.ToolWeather: {Tool: model.ToolWeather, Status: model.ToolStatusOK, Data: json.RawMessage(`{"location":"Delhi","temperature":41}`)},
		model.ToolMedical: {Tool: model.ToolMedical, Status: model.ToolStatusAbsent, Reason: "no matching research found"},
	}

	_, err := NewGenerateResponseNode(r)(context.Background(), s)

	require.NoError(t, err)
	assert.Equal(t, "Wear an N95 mask.", s.LastAssistantMessage())
	require.Len(t, r.reqs, 1)
	assert.NotEmpty(t, r.reqs[0].System)
	assert.Equal(t, model.ProviderOpenAI, r.reqs[0].Preferences.Provider)
	assert.Contains(t, r.reqs[0].Prompt, `"temperature":41`)
	assert.Contains(t, r.reqs[0].Prompt, "Health conditions: COPD")
	assert.Contains(t, r.reqs[0].Prompt, "no matching research found")
}

func TestGenerateResponseDegrades(t *testing.T) {
	r := &fakeResponder{err: errors.New("connection refused")}
	s := stateWith(&model.ParsedQuery{IsComplete: true})
	s.ToolResults = map[string]model.ToolResult{
		model.ToolWeather: {Tool: model.ToolWeather, Status: model.ToolStatusFailed, Reason: "upstream"},
		model.ToolMedical: {Tool: model.ToolMedical, Status: model.ToolStatusFailed},
	}

	_, err := NewGenerateResponseNode(r)(context.Background(), s)
	require.NoError(t, err)

	reply := s.LastAssistantMessage()
	assert.Contains(t, reply, DegradationText)
	assert.Contains(t, reply, "couldn't retrieve weather data")
	assert.Contains(t, reply, "couldn't retrieve medical research")
}

func TestParseQueryWithoutUserMessage(t *testing.T) {
	s := model.NewAgentState("s-1", model.UserInfo{}, model.ModelPreferences{})
	s.ParsedQuery = &model.ParsedQuery{IsComplete: true}

	_, err := NewParseQueryNode(nil)(context.Background(), s)

	require.NoError(t, err)
	assert.Nil(t, s.ParsedQuery)
}

func TestAcknowledgementsSkipAbsentTools(t *testing.T) {
	assert.Empty(t, Acknowledgements(map[string]model.ToolResult{
		model.ToolWeather: {Status: model.ToolStatusAbsent},
		model.ToolMedical: {Status: model.ToolStatusOK},
	}))
}
