package conversations

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vayu-advisor/server/internal/agent/graph"
	"github.com/vayu-advisor/server/internal/agent/graph/nodes"
	"github.com/vayu-advisor/server/internal/agent/model"
	"github.com/vayu-advisor/server/internal/agent/repo"
	errx "github.com/vayu-advisor/server/internal/core/error"
)

// echoRunner appends the user text and a canned reply.
type echoRunner struct {
	mu       sync.Mutex
	inFlight map[string]int
	overlap  bool
	err      error
}

func (r *echoRunner) ProcessTurn(_ context.Context, s *model.AgentState, text string) (graph.Outcome, error) {
	if r.err != nil {
		return graph.Outcome{}, r.err
	}
	r.mu.Lock()
	if r.inFlight == nil {
		r.inFlight = map[string]int{}
	}
	r.inFlight[s.SessionID]++
	if r.inFlight[s.SessionID] > 1 {
		r.overlap = true
	}
	r.mu.Unlock()

	time.Sleep(2 * time.Millisecond)
	s.Messages = append(s.Messages, schema.UserMessage(text), schema.AssistantMessage("ack: "+text, nil))

	r.mu.Lock()
	r.inFlight[s.SessionID]--
	r.mu.Unlock()
	return graph.Outcome{Reply: "ack: " + text, Path: []nodes.NodeID{nodes.NodeParseQuery}}, nil
}

var defaults = model.ModelPreferences{Provider: model.ProviderIBM, GraniteModel: model.SelectorDefaultGranite, OpenAIModel: "gpt-3.5-turbo", GeminiModel: "gemini-2.5-flash"}

func newManager(runner TurnRunner, selector bool) *Manager {
	m := NewManager(ManagerConfig{
		Store:           repo.NewMemorySessionStore(),
		Runner:          runner,
		Defaults:        defaults,
		SelectorEnabled: selector,
	})
	n := 0
	m.newID = func() string {
		n++
		return []string{"s-1", "s-2", "s-3"}[n-1]
	}
	return m
}

func TestCreateAndProcessTurn(t *testing.T) {
	ctx := context.Background()
	m := newManager(&echoRunner{}, true)

	state, err := m.Create(ctx, model.UserInfo{Name: " Mira ", Conditions: []string{"Asthma", " "}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "s-1", state.SessionID)
	assert.Equal(t, model.UserInfo{Name: "Mira", Conditions: []string{"Asthma"}}, state.ConversationContext.UserInfo)
	assert.Equal(t, defaults, state.ModelPreferences)

	res, err := m.ProcessTurn(ctx, "s-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "ack: hello", res.Reply)

	stored, err := m.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 2)
}

func TestProcessTurnErrors(t *testing.T) {
	ctx := context.Background()
	m := newManager(&echoRunner{}, false)

	_, err := m.ProcessTurn(ctx, "nope", "hello")
	assert.ErrorIs(t, err, errx.ErrSessionNotFound)

	_, err = m.ProcessTurn(ctx, "nope", "  ")
	assert.Equal(t, http.StatusBadRequest, errx.StatusOf(err))

	failing := newManager(&echoRunner{err: errors.New("boom")}, false)
	_, err = failing.Create(ctx, model.UserInfo{}, nil)
	require.NoError(t, err)
	_, err = failing.ProcessTurn(ctx, "s-1", "hi")
	assert.Error(t, err)
}

func TestTurnsOnOneSessionAreSerialized(t *testing.T) {
	ctx := context.Background()
	runner := &echoRunner{}
	m := newManager(runner, false)
	_, err := m.Create(ctx, model.UserInfo{}, nil)
	require.NoError(t, err)
	_, err = m.Create(ctx, model.UserInfo{}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := []string{"s-1", "s-2"}[i%2]
			_, err := m.ProcessTurn(ctx, id, "msg")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.False(t, runner.overlap)
	for _, id := range []string{"s-1", "s-2"} {
		s, err := m.Get(ctx, id)
		require.NoError(t, err)
		assert.Len(t, s.Messages, 8)
	}
}

func TestClearHistoryAndLogout(t *testing.T) {
	ctx := context.Background()
	m := newManager(&echoRunner{}, true)
	_, err := m.Create(ctx, model.UserInfo{Name: "Mira", Conditions: []string{"COPD"}}, &model.ModelPreferences{Provider: "openai", OpenAIModel: "gpt-4o"})
	require.NoError(t, err)
	_, err = m.ProcessTurn(ctx, "s-1", "hello")
	require.NoError(t, err)

	cleared, err := m.ClearHistory(ctx, "s-1")
	require.NoError(t, err)
	assert.Empty(t, cleared.Messages)
	assert.Equal(t, []string{"COPD"}, cleared.ConversationContext.UserInfo.Conditions)
	assert.Equal(t, "gpt-4o", cleared.ModelPreferences.OpenAIModel)

	out, err := m.Logout(ctx, "s-1")
	require.NoError(t, err)
	assert.Empty(t, out.ConversationContext.UserInfo.Conditions)
	assert.Equal(t, defaults, out.ModelPreferences)
}

func TestUpdatePreferences(t *testing.T) {
	ctx := context.Background()
	m := newManager(&echoRunner{}, true)
	_, err := m.Create(ctx, model.UserInfo{}, nil)
	require.NoError(t, err)

	s, err := m.UpdatePreferences(ctx, "s-1", model.ModelPreferences{Provider: "Gemini", GeminiModel: "gemini-2.5-flash-lite"})
	require.NoError(t, err)
	assert.Equal(t, model.ProviderGemini, s.ModelPreferences.Provider)
	assert.Equal(t, "gemini-2.5-flash-lite", s.ModelPreferences.GeminiModel)
	assert.Equal(t, model.SelectorDefaultGranite, s.ModelPreferences.GraniteModel)

	_, err = m.UpdatePreferences(ctx, "s-1", model.ModelPreferences{OpenAIModel: "gpt-9"})
	assert.ErrorIs(t, err, ErrInvalidPreferences)
	_, err = m.UpdatePreferences(ctx, "s-1", model.ModelPreferences{Provider: "anthropic"})
	assert.Equal(t, http.StatusBadRequest, errx.StatusOf(err))

	locked := newManager(&echoRunner{}, false)
	_, err = locked.Create(ctx, model.UserInfo{}, &model.ModelPreferences{Provider: model.ProviderOpenAI})
	require.NoError(t, err)
	got, err := locked.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, defaults, got.ModelPreferences)
	_, err = locked.UpdatePreferences(ctx, "s-1", model.ModelPreferences{Provider: model.ProviderOpenAI})
	assert.ErrorIs(t, err, ErrSelectorDisabled)
}

func TestUpdateProfileAndDelete(t *testing.T) {
	ctx := context.Background()
	m := newManager(&echoRunner{}, false)
	_, err := m.Create(ctx, model.UserInfo{Name: "A"}, nil)
	require.NoError(t, err)

	s, err := m.UpdateProfile(ctx, "s-1", model.UserInfo{Name: "B", Conditions: []string{"Bronchitis"}})
	require.NoError(t, err)
	assert.Equal(t, "B", s.ConversationContext.UserInfo.Name)

	require.NoError(t, m.Delete(ctx, "s-1"))
	_, err = m.Get(ctx, "s-1")
	assert.ErrorIs(t, err, errx.ErrSessionNotFound)
	assert.ErrorIs(t, m.Delete(ctx, "s-1"), errx.ErrSessionNotFound)
}
