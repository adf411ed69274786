package responder

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/vayu-advisor/server/internal/agent/model"
	logx "github.com/vayu-advisor/server/pkg/logger"
)

// newGeminiFactory returns a Factory sharing one genai client across models.
func newGeminiFactory(cfg model.GeminiConfig, params model.ModelConfig) Factory {
	var (
		once      sync.Once
		client    *genai.Client
		clientErr error
	)
	return func(ctx context.Context, modelID string) (ChatModel, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
		}
		once.Do(func() {
			clientCfg := &genai.ClientConfig{
				APIKey:  cfg.APIKey,
				Backend: genai.BackendGeminiAPI,
			}
			if cfg.BaseURL != "" {
				clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
			}
			client, clientErr = genai.NewClient(ctx, clientCfg)
		})
		if clientErr != nil {
			logx.Error().Err(clientErr).Msg("Error creating Gemini client")
			return nil, fmt.Errorf("error creating Gemini client: %w", clientErr)
		}

		temperature := params.Temperature
		maxTokens := params.MaxTokens
		topP := params.TopP
		cm, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       modelID,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
			TopP:        &topP,
			ThinkingConfig: &genai.ThinkingConfig{
				IncludeThoughts: false,
				ThinkingBudget:  genai.Ptr(int32(512)),
			},
		})
		if err != nil {
			logx.Error().Err(err).Str("model", modelID).Msg("Error creating Gemini chat model")
			return nil, fmt.Errorf("error creating Gemini chat model: %w", err)
		}
		return cm, nil
	}
}
