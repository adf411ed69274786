package prompts

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vayu-advisor/server/internal/agent/model"
)

func TestRenderParser(t *testing.T) {
	cc := model.NewConversationContext(model.UserInfo{Name: "Asha", Conditions: []string{"Asthma"}})
	cc.ExtractedInfo.Location = model.StringPtr("Mumbai")

	msgs, err := RenderParser(context.Background(), ParserInput{
		Query:   "Going to Mumbai",
		Context: cc,
		Today:   "2024-06-01",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, `"missing_info"`)
	assert.Contains(t, msgs[0].Content, "strictly after today")

	user := msgs[1].Content
	assert.Contains(t, user, "Today's date: 2024-06-01")
	assert.Contains(t, user, "Current Query: Going to Mumbai")
	assert.Contains(t, user, `"Asthma"`)
	assert.Contains(t, user, `"location": "Mumbai"`)
	assert.Contains(t, user, "No previous queries.")
}

func TestRenderParserNilContext(t *testing.T) {
	_, err := RenderParser(context.Background(), ParserInput{Query: "hi"})
	assert.Error(t, err)
}

func TestRenderResponseMarksUnavailableTools(t *testing.T) {
	out, err := RenderResponse(context.Background(), ResponseInput{
		Query:  "Is Delhi safe next week?",
		Intent: model.IntentWeatherHealth,
		Info: model.ExtractedInfo{
			Location:  model.StringPtr("Delhi"),
			DateRange: &model.DateRange{Start: model.StringPtr("2024-07-01"), End: model.StringPtr("2024-07-05")},
		},
		Conditions: []string{"COPD"},
		Weather:    model.ToolResult{Tool: model.ToolWeather, Status: model.ToolStatusFailed, Reason: "forecast range exceeded"},
		Medical: model.ToolResult{
			Tool:   model.ToolMedical,
			Status: model.ToolStatusOK,
			Data:   json.RawMessage(`[{"text":"PM2.5 worsens COPD"}]`),
		},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Location: Delhi")
	assert.Contains(t, out, "2024-07-01 to 2024-07-05")
	assert.Contains(t, out, "Weather and air quality (unavailable)")
	assert.Contains(t, out, "forecast range exceeded")
	assert.Contains(t, out, "Medical research (available)")
	assert.Contains(t, out, "PM2.5 worsens COPD")
}
