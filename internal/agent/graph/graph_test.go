package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vayu-advisor/server/internal/agent/graph/nodes"
	"github.com/vayu-advisor/server/internal/agent/graph/parsers"
	"github.com/vayu-advisor/server/internal/agent/graph/tools"
	"github.com/vayu-advisor/server/internal/agent/model"
	"github.com/vayu-advisor/server/internal/agent/responder"
)

// fakeLLM serves parser calls (no system field, structured messages) from
// parses and advisory calls from reply/replyErr.
type fakeLLM struct {
	parses     []string
	reply      string
	replyErr   error
	advisories []responder.Request
}

func (f *fakeLLM) Respond(_ context.Context, req responder.Request) (string, error) {
	if req.System == "" {
		out := f.parses[0]
		f.parses = f.parses[1:]
		return out, nil
	}
	f.advisories = append(f.advisories, req)
	if f.replyErr != nil {
		return "", f.replyErr
	}
	return f.reply, nil
}

type stubWeather struct {
	calls int
}

func (s *stubWeather) GetWeather(_ context.Context, location, start, end string) (*model.WeatherReport, error) {
	s.calls++
	return &model.WeatherReport{Location: location, Temperature: 29.5, Conditions: "rain", Humidity: 85}, nil
}

type stubSearcher struct{}

func (stubSearcher) Search(_ context.Context, condition string, _ int) ([]model.MedicalFinding, error) {
	return []model.MedicalFinding{{Condition: condition, Text: "Humidity aggravates " + condition}}, nil
}

type panickingDispatcher struct{}

func (panickingDispatcher) Dispatch(context.Context, *model.ParsedQuery, *model.ConversationContext) map[string]model.ToolResult {
	panic("dispatcher exploded")
}

const (
	mumbaiLocationOnly = `{
		"intent": "weather_health",
		"extracted_info": {"location": "Mumbai", "date_range": null, "health_condition": null},
		"relevance": {"is_relevant": true, "reason": null},
		"required_actions": {"needs_weather_data": false, "needs_medical_research": false, "missing_info": ["date_range"]},
		"is_complete": false,
		"can_answer": false,
		"response": {"text": "When will you be in Mumbai?", "type": "request_info"}
	}`
	mumbaiDates = `{
		"intent": "weather_health",
		"extracted_info": {"location": null, "date_range": {"start": "2024-07-01", "end": "2024-07-05"}, "health_condition": null},
		"relevance": {"is_relevant": true, "reason": null},
		"required_actions": {"needs_weather_data": false, "needs_medical_research": false, "missing_info": []},
		"is_complete": true,
		"can_answer": true,
		"response": {"text": "Gathering data.", "type": "health_advisory"}
	}`
	mumbaiLongTrip = `{
		"intent": "weather_health",
		"extracted_info": {"location": "Mumbai", "date_range": {"start": "2024-07-01", "end": "2024-07-30"}, "health_condition": "asthma"},
		"relevance": {"is_relevant": true, "reason": null},
		"required_actions": {"needs_weather_data": true, "needs_medical_research": true, "missing_info": []},
		"is_complete": true,
		"can_answer": true,
		"response": {"text": "Gathering data.", "type": "health_advisory"}
	}`
)

func clock(date string) func() time.Time {
	t, _ := time.Parse("2006-01-02", date)
	return func() time.Time { return t.Add(8 * time.Hour) }
}

func newTestMachine(t *testing.T, llm *fakeLLM, weather tools.WeatherProvider, dispatcher nodes.ToolDispatcher) *Machine {
	t.Helper()
	parser := parsers.NewQueryParser(llm)
	parser.Now = clock("2024-06-20")
	if dispatcher == nil {
		dispatcher = tools.NewDispatcher(weather, stubSearcher{}, 5)
	}
	m, err := NewMachine(context.Background(), Config{
		Parser:    parser,
		Tools:     dispatcher,
		Responder: llm,
		Callbacks: []einocb.Handler{},
	})
	require.NoError(t, err)
	return m
}

func newState() *model.AgentState {
	return model.NewAgentState("s-1", model.UserInfo{Name: "Asha", Conditions: []string{"Asthma"}}, model.ModelPreferences{Provider: model.ProviderIBM})
}

func TestSlotFillingAcrossTurns(t *testing.T) {
	llm := &fakeLLM{parses: []string{mumbaiLocationOnly, mumbaiDates}, reply: "Carry your inhaler; expect heavy rain."}
	weather := &stubWeather{}
	m := newTestMachine(t, llm, weather, nil)
	state := newState()

	first, err := m.ProcessTurn(context.Background(), state, "I'm planning to visit Mumbai")
	require.NoError(t, err)
	assert.True(t, first.Suspended)
	assert.Equal(t, "When will you be in Mumbai?", first.Reply)
	assert.Equal(t, []nodes.NodeID{nodes.NodeParseQuery, nodes.NodeValidateInfo, nodes.NodeAskMissingInfo}, first.Path)
	assert.False(t, state.ValidationStatus.IsComplete)
	assert.Zero(t, weather.calls)

	second, err := m.ProcessTurn(context.Background(), state, "I'll be there from 1st to 5th July")
	require.NoError(t, err)
	assert.False(t, second.Suspended)
	assert.Equal(t, "Carry your inhaler; expect heavy rain.", second.Reply)
	assert.Equal(t, []nodes.NodeID{nodes.NodeParseQuery, nodes.NodeValidateInfo, nodes.NodeDispatchTools, nodes.NodeGenerateResponse}, second.Path)

	assert.Equal(t, model.ValidationStatus{IsComplete: true, NeedsWeather: true, NeedsMedical: true}, state.ValidationStatus)
	assert.Equal(t, 1, weather.calls)
	assert.Equal(t, model.ToolStatusOK, state.ToolResults[model.ToolWeather].Status)
	assert.Equal(t, model.ToolStatusOK, state.ToolResults[model.ToolMedical].Status)

	require.Len(t, state.Messages, 4)
	roles := []schema.RoleType{state.Messages[0].Role, state.Messages[1].Role, state.Messages[2].Role, state.Messages[3].Role}
	assert.Equal(t, []schema.RoleType{schema.User, schema.Assistant, schema.User, schema.Assistant}, roles)

	require.Len(t, llm.advisories, 1)
	assert.Contains(t, llm.advisories[0].Prompt, "Location: Mumbai")
	assert.Contains(t, llm.advisories[0].Prompt, "Humidity aggravates Asthma")
}

func TestForecastRangeFailureIsAcknowledged(t *testing.T) {
	openMeteo := tools.NewOpenMeteo(model.WeatherConfig{
		GeocodingURL:  "http://127.0.0.1:0/geo",
		ForecastURL:   "http://127.0.0.1:0/forecast",
		AirQualityURL: "http://127.0.0.1:0/air",
		ForecastDays:  16,
	}, nil)
	openMeteo.Now = clock("2024-06-20")

	llm := &fakeLLM{parses: []string{mumbaiLongTrip}, reply: "Here is general advice for asthma in monsoon season."}
	m := newTestMachine(t, llm, openMeteo, nil)
	state := newState()

	out, err := m.ProcessTurn(context.Background(), state, "Mumbai for all of July, I have asthma")
	require.NoError(t, err)

	weather := state.ToolResults[model.ToolWeather]
	assert.Equal(t, model.ToolStatusFailed, weather.Status)
	assert.Contains(t, weather.Reason, string(tools.WeatherForecastRange))
	assert.Contains(t, out.Reply, "general advice")
	assert.Contains(t, out.Reply, "couldn't retrieve weather data")
	assert.Contains(t, llm.advisories[0].Prompt, "Weather and air quality (unavailable)")
}

func TestResponderFailureDegrades(t *testing.T) {
	llm := &fakeLLM{parses: []string{mumbaiLongTrip}, replyErr: responder.ErrRateLimited}
	m := newTestMachine(t, llm, &stubWeather{}, nil)
	state := newState()

	out, err := m.ProcessTurn(context.Background(), state, "Mumbai in July")
	require.NoError(t, err)
	assert.False(t, out.Suspended)
	assert.Equal(t, nodes.DegradationText, out.Reply)
}

func TestMalformedParseSuspendsWithApology(t *testing.T) {
	llm := &fakeLLM{parses: []string{"this is not json"}}
	m := newTestMachine(t, llm, &stubWeather{}, nil)
	state := newState()

	out, err := m.ProcessTurn(context.Background(), state, "hello?")
	require.NoError(t, err)
	assert.True(t, out.Suspended)
	assert.Equal(t, model.ErrorResponseText, out.Reply)
	assert.Equal(t, model.ValidationStatus{}, state.ValidationStatus)
	require.NotNil(t, state.ParsedQuery)
	assert.Equal(t, model.IntentError, state.ParsedQuery.Intent)
}

func TestPanickingNodeEndsTurnWithText(t *testing.T) {
	llm := &fakeLLM{parses: []string{mumbaiLongTrip}}
	m := newTestMachine(t, llm, nil, panickingDispatcher{})
	state := newState()

	out, err := m.ProcessTurn(context.Background(), state, "Mumbai in July")
	require.NoError(t, err)
	assert.False(t, out.Suspended)
	assert.Equal(t, model.ErrorResponseText, out.Reply)
	assert.Equal(t, []nodes.NodeID{nodes.NodeParseQuery, nodes.NodeValidateInfo, nodes.NodeDispatchTools}, out.Path)
}

func TestProcessTurnRejectsInvalidInput(t *testing.T) {
	m := newTestMachine(t, &fakeLLM{}, &stubWeather{}, nil)
	state := newState()

	_, err := m.ProcessTurn(context.Background(), state, "   ")
	assert.True(t, errors.Is(err, ErrEmptyInput))
	assert.Empty(t, state.Messages)

	_, err = m.ProcessTurn(context.Background(), nil, "hi")
	assert.ErrorIs(t, err, ErrNilState)
}

func TestNewMachineValidation(t *testing.T) {
	_, err := NewMachine(context.Background(), Config{})
	assert.Error(t, err)
}

type askingParser struct{}

func (askingParser) Parse(context.Context, string, *model.ConversationContext, model.ModelPreferences) *model.ParsedQuery {
	return &model.ParsedQuery{
		Intent:          model.IntentWeatherHealth,
		RequiredActions: model.RequiredActions{MissingInfo: []string{model.FieldDateRange}},
		Response:        model.Response{Text: "Which dates?", Type: model.ResponseRequestInfo},
	}
}

func TestConcurrentTurnsKeepSeparatePaths(t *testing.T) {
	m, err := NewMachine(context.Background(), Config{
		Parser:    askingParser{},
		Tools:     tools.NewDispatcher(&stubWeather{}, stubSearcher{}, 5),
		Responder: &fakeLLM{},
		Callbacks: []einocb.Handler{},
	})
	require.NoError(t, err)

	outs := make([]Outcome, 8)
	var wg sync.WaitGroup
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := m.ProcessTurn(context.Background(), newState(), "Mumbai please")
			assert.NoError(t, err)
			outs[i] = out
		}(i)
	}
	wg.Wait()

	for _, out := range outs {
		assert.True(t, out.Suspended)
		assert.Equal(t, "Which dates?", out.Reply)
		assert.Equal(t, []nodes.NodeID{nodes.NodeParseQuery, nodes.NodeValidateInfo, nodes.NodeAskMissingInfo}, out.Path)
	}
}
