package observers

import (
	"context"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/tool"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/vayu-advisor/server/pkg/logger"
)

// newToolHandler builds a typed ToolCallbackHandler (not yet wrapped).
func newToolHandler() *callbackHelper.ToolCallbackHandler {
	return &callbackHelper.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *tool.CallbackInput) context.Context {
			if input != nil {
				logx.Debug().Str("tool", info.Name).Str("input", input.ArgumentsInJSON).Msg("tool start")
			}
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *tool.CallbackOutput) context.Context {
			if output != nil {
				logx.Debug().Str("tool", info.Name).Int("bytes", len(output.Response)).Msg("tool end")
			}
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("tool", info.Name).Msg("tool execution failed")
			return ctx
		},
	}
}
