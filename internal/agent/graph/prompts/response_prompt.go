package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/vayu-advisor/server/internal/agent/model"
)

//go:embed template/response_system.txt
var responseSystemPrompt string

//go:embed template/response_user.txt
var responseUserPrompt string

var responseTemplate = prompt.FromMessages(
	schema.GoTemplate,
	schema.UserMessage(responseUserPrompt),
)

// ResponseSystem returns the system instruction for advisory synthesis.
func ResponseSystem() string {
	return responseSystemPrompt
}

// ResponseInput is the data rendered into the synthesis prompt.
type ResponseInput struct {
	Query      string
	Intent     model.Intent
	Info       model.ExtractedInfo
	Conditions []string
	Weather    model.ToolResult
	Medical    model.ToolResult
}

// RenderResponse renders the synthesis prompt and returns its text.
func RenderResponse(ctx context.Context, in ResponseInput) (string, error) {
	msgs, err := responseTemplate.Format(ctx, map[string]any{
		"query":          in.Query,
		"intent":         string(in.Intent),
		"location":       valueOr(in.Info.Location, "not provided"),
		"dates":          formatDates(in.Info.DateRange),
		"conditions":     formatConditions(in.Conditions),
		"weather_status": statusLabel(in.Weather),
		"weather":        toolBody(in.Weather),
		"medical_status": statusLabel(in.Medical),
		"medical":        toolBody(in.Medical),
	})
	if err != nil {
		return "", fmt.Errorf("response prompt: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("response prompt: empty result")
	}
	return msgs[0].Content, nil
}

func statusLabel(r model.ToolResult) string {
	if r.Available() {
		return "available"
	}
	return "unavailable"
}

func toolBody(r model.ToolResult) string {
	if r.Available() {
		return string(r.Data)
	}
	switch {
	case r.Status == model.ToolStatusFailed && r.Reason != "":
		return "UNAVAILABLE: the lookup failed (" + r.Reason + ")."
	case r.Status == model.ToolStatusFailed:
		return "UNAVAILABLE: the lookup failed."
	case r.Reason != "":
		return "UNAVAILABLE: no data (" + r.Reason + ")."
	}
	return "UNAVAILABLE: no data was retrieved."
}

func valueOr(s *string, fallback string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return fallback
	}
	return *s
}

func formatDates(d *model.DateRange) string {
	if d == nil {
		return "not provided"
	}
	return valueOr(d.Start, "?") + " to " + valueOr(d.End, "?")
}

func formatConditions(c []string) string {
	if len(c) == 0 {
		return "none given"
	}
	return strings.Join(c, ", ")
}
