package observers

import (
	"context"
	"errors"
	"testing"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
)

func TestAllCallbacksHandleLifecycle(t *testing.T) {
	h := NewAllCallbacks()

	ctx := einocb.InitCallbacks(context.Background(), &einocb.RunInfo{
		Name:      "gpt-4o",
		Type:      "openai",
		Component: components.ComponentOfChatModel,
	}, h)

	assert.NotPanics(t, func() {
		ctx = einocb.OnStart(ctx, &model.CallbackInput{Messages: []*schema.Message{schema.UserMessage("hello")}})
		ctx = einocb.OnEnd(ctx, &model.CallbackOutput{Message: schema.AssistantMessage("hi", nil)})
		_ = einocb.OnError(ctx, errors.New("boom"))
	})

	toolCtx := einocb.InitCallbacks(context.Background(), &einocb.RunInfo{
		Name:      "weather",
		Type:      "Local",
		Component: components.ComponentOfTool,
	}, h)
	assert.NotPanics(t, func() {
		toolCtx = einocb.OnStart(toolCtx, &tool.CallbackInput{ArgumentsInJSON: `{"location":"Mumbai"}`})
		_ = einocb.OnEnd(toolCtx, &tool.CallbackOutput{Response: `{}`})
	})
}

func TestLastUserContent(t *testing.T) {
	msgs := []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage(" first "),
		schema.AssistantMessage("reply", nil),
		nil,
		schema.UserMessage(" second "),
	}
	assert.Equal(t, "second", lastUserContent(msgs))
	assert.Empty(t, lastUserContent(nil))
}
