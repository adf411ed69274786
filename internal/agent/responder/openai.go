package responder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/vayu-advisor/server/internal/agent/model"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIChatModel adapts the openai-go chat completions client to ChatModel.
type OpenAIChatModel struct {
	client openaigo.Client
	model  string
}

// NewOpenAIChatModel validates cfg and builds the client.
func NewOpenAIChatModel(cfg model.OpenAIConfig, modelID string, httpClient *http.Client) (*OpenAIChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAIChatModel{
		client: openaigo.NewClient(opts...),
		model:  modelID,
	}, nil
}

func (m *OpenAIChatModel) GetType() string          { return "OpenAI" }
func (m *OpenAIChatModel) IsCallbacksEnabled() bool { return true }

// Generate implements ChatModel.
func (m *OpenAIChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (out *schema.Message, err error) {
	o := einomodel.GetCommonOptions(&einomodel.Options{Model: &m.model}, opts...)
	conf := callbackConfig(o)

	ctx = einocb.OnStart(ctx, &einomodel.CallbackInput{Messages: input, Config: conf})
	defer func() {
		if err != nil {
			einocb.OnError(ctx, err)
		}
	}()

	params := openaigo.ChatCompletionNewParams{
		Model:    openaigo.ChatModel(conf.Model),
		Messages: toOpenAIMessages(input),
	}
	if o.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*o.Temperature))
	}
	if o.MaxTokens != nil {
		params.MaxTokens = param.NewOpt(int64(*o.MaxTokens))
	}
	if o.TopP != nil {
		params.TopP = param.NewOpt(float64(*o.TopP))
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openaigo.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("openai: %w", statusError(apiErr.StatusCode, apiErr.Message))
		}
		return nil, fmt.Errorf("openai: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %w", ErrEmptyResponse)
	}

	usage := &schema.TokenUsage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	out = &schema.Message{
		Role:    schema.Assistant,
		Content: resp.Choices[0].Message.Content,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: string(resp.Choices[0].FinishReason),
			Usage:        usage,
		},
	}
	einocb.OnEnd(ctx, &einomodel.CallbackOutput{Message: out, Config: conf, TokenUsage: callbackUsage(usage)})
	return out, nil
}

func toOpenAIMessages(in []*schema.Message) []openaigo.ChatCompletionMessageParamUnion {
	out := make([]openaigo.ChatCompletionMessageParamUnion, 0, len(in))
	for _, m := range in {
		if m == nil {
			continue
		}
		switch m.Role {
		case schema.System:
			out = append(out, openaigo.SystemMessage(m.Content))
		case schema.Assistant:
			out = append(out, openaigo.AssistantMessage(m.Content))
		default:
			out = append(out, openaigo.UserMessage(m.Content))
		}
	}
	return out
}

func callbackConfig(o *einomodel.Options) *einomodel.Config {
	conf := &einomodel.Config{}
	if o.Model != nil {
		conf.Model = *o.Model
	}
	if o.MaxTokens != nil {
		conf.MaxTokens = *o.MaxTokens
	}
	if o.Temperature != nil {
		conf.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		conf.TopP = *o.TopP
	}
	return conf
}

func callbackUsage(u *schema.TokenUsage) *einomodel.TokenUsage {
	if u == nil {
		return nil
	}
	return &einomodel.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
