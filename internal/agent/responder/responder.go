package responder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/vayu-advisor/server/internal/agent/model"
	"github.com/vayu-advisor/server/internal/metrics"
	logx "github.com/vayu-advisor/server/pkg/logger"
)

// ChatModel is the subset of eino's model.BaseChatModel the responder needs.
// *gemini.ChatModel satisfies it directly.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error)
}

// Factory builds a chat model for one model id of a provider.
type Factory func(ctx context.Context, modelID string) (ChatModel, error)

// Config holds everything needed to resolve and build providers.
type Config struct {
	Model  model.ModelConfig
	OpenAI model.OpenAIConfig
	IBM    model.IBMConfig
	Gemini model.GeminiConfig

	// HTTPClient is shared by the openai and watsonx backends. Optional.
	HTTPClient *http.Client
}

// Request is one call to the responder. Either Prompt or Messages is set;
// System is prepended as a system message when non-empty.
type Request struct {
	System      string
	Prompt      string
	Messages    []*schema.Message
	Preferences model.ModelPreferences
}

// Responder routes text generation to the provider selected by Resolve.
type Responder struct {
	cfg       Config
	factories map[string]Factory

	mu     sync.Mutex
	models map[string]ChatModel
}

// Option customizes a Responder.
type Option func(*Responder)

// WithFactory replaces the backend constructor for provider.
func WithFactory(provider string, f Factory) Option {
	return func(r *Responder) {
		r.factories[provider] = f
	}
}

// New creates a Responder with the default provider backends.
func New(cfg Config, opts ...Option) *Responder {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	r := &Responder{
		cfg:    cfg,
		models: make(map[string]ChatModel),
	}
	r.factories = map[string]Factory{
		model.ProviderGemini: newGeminiFactory(cfg.Gemini, cfg.Model),
		model.ProviderOpenAI: func(_ context.Context, id string) (ChatModel, error) {
			return NewOpenAIChatModel(cfg.OpenAI, id, cfg.HTTPClient)
		},
		model.ProviderIBM: func(_ context.Context, id string) (ChatModel, error) {
			return NewWatsonxChatModel(WatsonxConfig{
				APIKey:    cfg.IBM.APIKey,
				Endpoint:  cfg.IBM.Endpoint,
				ProjectID: cfg.IBM.ProjectID,
				IAMURL:    cfg.IBM.IAMURL,
				Model:     id,
			}, cfg.HTTPClient)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve picks the provider and model id for a call. With the selector
// enabled, session preferences win and empty fields fall back to config;
// with it disabled only config is consulted.
func Resolve(cfg Config, prefs model.ModelPreferences) (provider, modelID string, err error) {
	provider = strings.ToLower(strings.TrimSpace(cfg.Model.Provider))
	if cfg.Model.ShowModelSelector && strings.TrimSpace(prefs.Provider) != "" {
		provider = strings.ToLower(strings.TrimSpace(prefs.Provider))
	}

	switch provider {
	case model.ProviderIBM:
		modelID = cfg.IBM.Model
		if cfg.Model.ShowModelSelector && prefs.GraniteModel != "" {
			modelID = prefs.GraniteModel
		}
	case model.ProviderOpenAI:
		modelID = cfg.OpenAI.Model
		if cfg.Model.ShowModelSelector && prefs.OpenAIModel != "" {
			modelID = prefs.OpenAIModel
		}
	case model.ProviderGemini:
		modelID = cfg.Gemini.Model
		if cfg.Model.ShowModelSelector && prefs.GeminiModel != "" {
			modelID = prefs.GeminiModel
		}
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	if strings.TrimSpace(modelID) == "" {
		return "", "", fmt.Errorf("%w for provider %s", ErrMissingModel, provider)
	}
	return provider, modelID, nil
}

// DefaultPreferences returns the preferences a new session starts with.
func DefaultPreferences(cfg Config) model.ModelPreferences {
	if cfg.Model.ShowModelSelector {
		return model.ModelPreferences{
			Provider:     model.ProviderIBM,
			GraniteModel: model.SelectorDefaultGranite,
			OpenAIModel:  cfg.OpenAI.Model,
			GeminiModel:  cfg.Gemini.Model,
		}
	}
	return model.ModelPreferences{
		Provider:     cfg.Model.Provider,
		GraniteModel: cfg.IBM.Model,
		OpenAIModel:  cfg.OpenAI.Model,
		GeminiModel:  cfg.Gemini.Model,
	}
}

// SelectorEnabled reports whether sessions may choose their own model.
func (r *Responder) SelectorEnabled() bool {
	return r.cfg.Model.ShowModelSelector
}

// Defaults returns DefaultPreferences for this responder's config.
func (r *Responder) Defaults() model.ModelPreferences {
	return DefaultPreferences(r.cfg)
}

// Respond sends the request to the resolved provider and returns the reply
// text. Provider failures propagate unchanged; there is no retry.
func (r *Responder) Respond(ctx context.Context, req Request) (string, error) {
	provider, modelID, err := Resolve(r.cfg, req.Preferences)
	if err != nil {
		return "", err
	}

	cm, err := r.chatModel(ctx, provider, modelID)
	if err != nil {
		return "", err
	}

	msgs := make([]*schema.Message, 0, len(req.Messages)+2)
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, schema.SystemMessage(req.System))
	}
	msgs = append(msgs, req.Messages...)
	if strings.TrimSpace(req.Prompt) != "" {
		msgs = append(msgs, schema.UserMessage(req.Prompt))
	}
	if len(msgs) == 0 {
		return "", ErrEmptyRequest
	}

	ctx = einocb.ReuseHandlers(ctx, &einocb.RunInfo{
		Name:      modelID,
		Type:      provider,
		Component: components.ComponentOfChatModel,
	})

	start := time.Now()
	out, err := cm.Generate(ctx, msgs,
		einomodel.WithTemperature(r.cfg.Model.Temperature),
		einomodel.WithMaxTokens(r.cfg.Model.MaxTokens),
		einomodel.WithTopP(r.cfg.Model.TopP),
	)
	elapsed := time.Since(start)
	metrics.ModelLatency.WithLabelValues(provider, modelID).Observe(elapsed.Seconds())
	if err != nil {
		metrics.ModelErrors.WithLabelValues(provider, modelID).Inc()
		logx.Error().Err(err).Str("provider", provider).Str("model", modelID).Dur("elapsed", elapsed).Msg("model call failed")
		return "", err
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		metrics.ModelErrors.WithLabelValues(provider, modelID).Inc()
		return "", fmt.Errorf("%s/%s: %w", provider, modelID, ErrEmptyResponse)
	}

	r.recordUsage(provider, modelID, out, elapsed)
	return out.Content, nil
}

func (r *Responder) recordUsage(provider, modelID string, out *schema.Message, elapsed time.Duration) {
	if out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		logx.Debug().Str("provider", provider).Str("model", modelID).Dur("elapsed", elapsed).Msg("model call done")
		return
	}
	usage := out.ResponseMeta.Usage
	in, outCost, total := model.ComputeCost(usage, model.ResolvePricing(modelID))
	metrics.ModelCostUSD.WithLabelValues(provider, modelID).Add(total)
	logx.Info().
		Str("provider", provider).
		Str("model", modelID).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Float64("input_cost_usd", in).
		Float64("output_cost_usd", outCost).
		Float64("total_cost_usd", total).
		Dur("elapsed", elapsed).
		Msg("model call done")
}

func (r *Responder) chatModel(ctx context.Context, provider, modelID string) (ChatModel, error) {
	key := provider + "/" + modelID

	r.mu.Lock()
	defer r.mu.Unlock()
	if cm, ok := r.models[key]; ok {
		return cm, nil
	}
	factory, ok := r.factories[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	cm, err := factory(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("create %s chat model %s: %w", provider, modelID, err)
	}
	r.models[key] = cm
	logx.Debug().Str("provider", provider).Str("model", modelID).Msg("chat model created")
	return cm, nil
}
