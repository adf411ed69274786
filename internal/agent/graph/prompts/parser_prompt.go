package prompts

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/vayu-advisor/server/internal/agent/model"
)

//go:embed template/parser_system.txt
var parserSystemPrompt string

//go:embed template/parser_user.txt
var parserUserPrompt string

var parserTemplate = prompt.FromMessages(
	schema.GoTemplate,
	schema.SystemMessage(parserSystemPrompt),
	schema.UserMessage(parserUserPrompt),
)

// ParserInput is the data rendered into the query-parser prompt.
type ParserInput struct {
	Query   string
	Context *model.ConversationContext
	Today   string
}

// RenderParser renders the query-parser prompt via the eino prompt component,
// which emits Prompt callbacks. It returns the system and user messages.
func RenderParser(ctx context.Context, in ParserInput) ([]*schema.Message, error) {
	if in.Context == nil {
		return nil, fmt.Errorf("parser prompt: conversation context is nil")
	}

	previous := "No previous queries."
	if len(in.Context.PreviousQueries) > 0 {
		previous = indentJSON(in.Context.PreviousQueries)
	}

	msgs, err := parserTemplate.Format(ctx, map[string]any{
		"today":            in.Today,
		"query":            in.Query,
		"user_info":        indentJSON(in.Context.UserInfo),
		"previous_queries": previous,
		"extracted_info":   indentJSON(in.Context.ExtractedInfo),
	})
	if err != nil {
		return nil, fmt.Errorf("parser prompt: %w", err)
	}
	if len(msgs) != 2 {
		return nil, fmt.Errorf("parser prompt: expected 2 messages, got %d", len(msgs))
	}
	return msgs, nil
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
