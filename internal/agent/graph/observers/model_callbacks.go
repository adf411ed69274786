package observers

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/vayu-advisor/server/pkg/logger"
)

const maxLoggedContent = 2000

// newModelHandler builds a typed ModelCallbackHandler to log user/assistant messages around model calls.
func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ev := logx.Debug().Str("provider", info.Type).Str("model", info.Name)
			if input != nil && len(input.Messages) > 0 {
				ev = ev.Int("messages", len(input.Messages))
				if um := lastUserContent(input.Messages); um != "" {
					ev = ev.Str("user", truncate(um))
				}
			}
			ev.Msg("model start")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			ev := logx.Debug().Str("provider", info.Type).Str("model", info.Name)
			if output != nil && output.Message != nil {
				ev = ev.Str("assistant", truncate(strings.TrimSpace(output.Message.Content)))
			}
			if output != nil && output.TokenUsage != nil {
				ev = ev.Int("prompt_tokens", output.TokenUsage.PromptTokens).
					Int("completion_tokens", output.TokenUsage.CompletionTokens)
			}
			ev.Msg("model end")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("provider", info.Type).Str("model", info.Name).Msg("model error")
			return ctx
		},
	}
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}

func truncate(s string) string {
	if len(s) <= maxLoggedContent {
		return s
	}
	return s[:maxLoggedContent] + "..."
}
