package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	watsonxAPIVersion = "2024-10-08"
	defaultIAMURL     = "https://iam.cloud.ibm.com/identity/token"
	// Refresh the bearer token this long before IAM says it expires.
	tokenSkew = 60 * time.Second
)

// WatsonxConfig holds watsonx.ai credentials for one model.
type WatsonxConfig struct {
	APIKey    string
	Endpoint  string
	ProjectID string
	IAMURL    string
	Model     string
	Version   string
}

// WatsonxChatModel calls the watsonx.ai text/chat endpoint.
type WatsonxChatModel struct {
	cfg        WatsonxConfig
	httpClient *http.Client
	now        func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewWatsonxChatModel validates cfg. No network call is made until Generate.
func NewWatsonxChatModel(cfg WatsonxConfig, httpClient *http.Client) (*WatsonxChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("ibm cloud: %w", ErrMissingAPIKey)
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("ibm cloud: %w", ErrMissingEndpoint)
	}
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, fmt.Errorf("ibm cloud: %w", ErrMissingProject)
	}
	if cfg.IAMURL == "" {
		cfg.IAMURL = defaultIAMURL
	}
	if cfg.Version == "" {
		cfg.Version = watsonxAPIVersion
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &WatsonxChatModel{cfg: cfg, httpClient: httpClient, now: time.Now}, nil
}

func (m *WatsonxChatModel) GetType() string          { return "Watsonx" }
func (m *WatsonxChatModel) IsCallbacksEnabled() bool { return true }

type watsonxMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type watsonxChatRequest struct {
	ModelID     string           `json:"model_id"`
	ProjectID   string           `json:"project_id"`
	Messages    []watsonxMessage `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float32         `json:"temperature,omitempty"`
	TopP        *float32         `json:"top_p,omitempty"`
}

type watsonxChatResponse struct {
	ModelID string `json:"model_id"`
	Choices []struct {
		Index        int            `json:"index"`
		Message      watsonxMessage `json:"message"`
		FinishReason string         `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type iamTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Expiration  int64  `json:"expiration"`
}

// Generate implements ChatModel.
func (m *WatsonxChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (out *schema.Message, err error) {
	o := einomodel.GetCommonOptions(&einomodel.Options{Model: &m.cfg.Model}, opts...)
	conf := callbackConfig(o)

	ctx = einocb.OnStart(ctx, &einomodel.CallbackInput{Messages: input, Config: conf})
	defer func() {
		if err != nil {
			einocb.OnError(ctx, err)
		}
	}()

	token, err := m.bearer(ctx)
	if err != nil {
		return nil, err
	}

	body := watsonxChatRequest{
		ModelID:     conf.Model,
		ProjectID:   m.cfg.ProjectID,
		Temperature: o.Temperature,
		TopP:        o.TopP,
	}
	if o.MaxTokens != nil {
		body.MaxTokens = *o.MaxTokens
	}
	for _, msg := range input {
		if msg == nil {
			continue
		}
		role := string(msg.Role)
		if role == "" {
			role = string(schema.User)
		}
		body.Messages = append(body.Messages, watsonxMessage{Role: role, Content: msg.Content})
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("watsonx: marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/ml/v1/text/chat?version=%s", m.cfg.Endpoint, url.QueryEscape(m.cfg.Version))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("watsonx: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("watsonx: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusUnauthorized {
			m.invalidate()
		}
		return nil, fmt.Errorf("watsonx: %w", statusError(resp.StatusCode, string(b)))
	}

	var decoded watsonxChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("watsonx: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("watsonx: %w", ErrEmptyResponse)
	}

	usage := &schema.TokenUsage{
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
		TotalTokens:      decoded.Usage.TotalTokens,
	}
	out = &schema.Message{
		Role:    schema.Assistant,
		Content: decoded.Choices[0].Message.Content,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: decoded.Choices[0].FinishReason,
			Usage:        usage,
		},
	}
	einocb.OnEnd(ctx, &einomodel.CallbackOutput{Message: out, Config: conf, TokenUsage: callbackUsage(usage)})
	return out, nil
}

// bearer returns a cached IAM token, exchanging the API key when needed.
func (m *WatsonxChatModel) bearer(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" && m.now().Before(m.expires) {
		return m.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ibm:params:oauth:grant-type:apikey")
	form.Set("apikey", m.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.IAMURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("watsonx: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("watsonx: token request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusBadRequest {
			// IAM answers 400 for unknown API keys.
			return "", fmt.Errorf("watsonx: %w (status 400): %s", ErrInvalidAPIKey, string(b))
		}
		return "", fmt.Errorf("watsonx: token: %w", statusError(resp.StatusCode, string(b)))
	}

	var tok iamTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("watsonx: decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("watsonx: %w: empty access token", ErrInvalidAPIKey)
	}

	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	if ttl > tokenSkew {
		ttl -= tokenSkew
	}
	m.token = tok.AccessToken
	m.expires = m.now().Add(ttl)
	return m.token, nil
}

func (m *WatsonxChatModel) invalidate() {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
}
