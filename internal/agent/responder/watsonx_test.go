package responder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWatsonxServer(t *testing.T, chatStatus int, tokenCalls *int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/identity/token", func(w http.ResponseWriter, r *http.Request) {
		*tokenCalls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "secret", r.PostForm.Get("apikey"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":3600}`))
	})
	mux.HandleFunc("/ml/v1/text/chat", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, watsonxAPIVersion, r.URL.Query().Get("version"))
		if chatStatus != http.StatusOK {
			w.WriteHeader(chatStatus)
			_, _ = w.Write([]byte(`{"errors":[{"message":"too many requests"}]}`))
			return
		}
		var req watsonxChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ibm/granite-3-2b-instruct", req.ModelID)
		assert.Equal(t, "proj", req.ProjectID)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, 1000, req.MaxTokens)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model_id": "ibm/granite-3-2b-instruct",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Carry your inhaler."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49}
		}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestWatsonx(t *testing.T, srv *httptest.Server) *WatsonxChatModel {
	t.Helper()
	m, err := NewWatsonxChatModel(WatsonxConfig{
		APIKey:    "secret",
		Endpoint:  srv.URL,
		ProjectID: "proj",
		IAMURL:    srv.URL + "/identity/token",
		Model:     "ibm/granite-3-2b-instruct",
	}, srv.Client())
	require.NoError(t, err)
	return m
}

func TestWatsonxGenerate(t *testing.T) {
	tokenCalls := 0
	srv := newWatsonxServer(t, http.StatusOK, &tokenCalls)
	m := newTestWatsonx(t, srv)

	input := []*schema.Message{schema.SystemMessage("be careful"), schema.UserMessage("Mumbai next week?")}
	for i := 0; i < 2; i++ {
		out, err := m.Generate(context.Background(), input, einomodel.WithMaxTokens(1000))
		require.NoError(t, err)
		assert.Equal(t, "Carry your inhaler.", out.Content)
		require.NotNil(t, out.ResponseMeta)
		assert.Equal(t, 42, out.ResponseMeta.Usage.PromptTokens)
	}
	assert.Equal(t, 1, tokenCalls, "IAM token should be cached")
}

func TestWatsonxRateLimited(t *testing.T) {
	tokenCalls := 0
	srv := newWatsonxServer(t, http.StatusTooManyRequests, &tokenCalls)
	m := newTestWatsonx(t, srv)

	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Contains(t, Describe(err), "Rate limit exceeded")
}

func TestNewWatsonxValidation(t *testing.T) {
	_, err := NewWatsonxChatModel(WatsonxConfig{Endpoint: "x", ProjectID: "p"}, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewWatsonxChatModel(WatsonxConfig{APIKey: "k", ProjectID: "p"}, nil)
	assert.ErrorIs(t, err, ErrMissingEndpoint)

	_, err = NewWatsonxChatModel(WatsonxConfig{APIKey: "k", Endpoint: "x"}, nil)
	assert.ErrorIs(t, err, ErrMissingProject)
}
