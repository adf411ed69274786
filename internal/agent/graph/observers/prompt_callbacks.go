package observers

import (
	"context"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/prompt"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/vayu-advisor/server/pkg/logger"
)

// newPromptHandler builds a typed PromptCallbackHandler (not yet wrapped).
func newPromptHandler() *callbackHelper.PromptCallbackHandler {
	return &callbackHelper.PromptCallbackHandler{
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *prompt.CallbackOutput) context.Context {
			if output == nil {
				return ctx
			}
			for i, m := range output.Result {
				if m == nil {
					continue
				}
				logx.Debug().Str("prompt", info.Name).Int("index", i).Str("role", string(m.Role)).
					Str("rendered", truncate(m.Content)).Msg("prompt rendered")
			}
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("prompt", info.Name).Msg("prompt error")
			return ctx
		},
	}
}
