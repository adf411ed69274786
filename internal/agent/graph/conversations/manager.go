package conversations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vayu-advisor/server/internal/agent/graph"
	"github.com/vayu-advisor/server/internal/agent/model"
	errx "github.com/vayu-advisor/server/internal/core/error"
	"github.com/vayu-advisor/server/internal/metrics"
	logx "github.com/vayu-advisor/server/pkg/logger"
)

var (
	ErrInvalidPreferences = errx.New(nil, http.StatusBadRequest, "invalid model preferences")
	ErrSelectorDisabled   = errx.New(nil, http.StatusConflict, "model selection is disabled")
	ErrInvalidMessage     = errx.New(nil, http.StatusBadRequest, "message text is empty")
)

// TurnRunner drives one turn of the conversation graph.
type TurnRunner interface {
	ProcessTurn(ctx context.Context, state *model.AgentState, text string) (graph.Outcome, error)
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Store  model.SessionStore
	Runner TurnRunner
	// Defaults seeds new sessions and logout resets.
	Defaults model.ModelPreferences
	// SelectorEnabled allows sessions to change their preferences.
	SelectorEnabled bool
}

// Manager owns sessions. Turns on one session are serialized by a
// per-session lock; distinct sessions run concurrently.
type Manager struct {
	store           model.SessionStore
	runner          TurnRunner
	defaults        model.ModelPreferences
	selectorEnabled bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	newID func() string
}

func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		store:           cfg.Store,
		runner:          cfg.Runner,
		defaults:        cfg.Defaults,
		selectorEnabled: cfg.SelectorEnabled,
		locks:           make(map[string]*sync.Mutex),
		newID:           uuid.NewString,
	}
}

// TurnResult is the outcome of a turn plus the state it left behind.
type TurnResult struct {
	graph.Outcome
	State *model.AgentState
}

func (m *Manager) lock(sessionID string) func() {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Create starts a session for the profile. Empty preference fields take
// the defaults; preferences are ignored when the selector is disabled.
func (m *Manager) Create(ctx context.Context, user model.UserInfo, prefs *model.ModelPreferences) (*model.AgentState, error) {
	chosen := m.defaults
	if prefs != nil && m.selectorEnabled {
		merged, err := m.mergePreferences(m.defaults, *prefs)
		if err != nil {
			return nil, err
		}
		chosen = merged
	}

	state := model.NewAgentState(m.newID(), cleanProfile(user), chosen)
	if err := m.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save new session: %w", err)
	}
	metrics.ActiveSessions.Inc()
	logx.Info().Str("session_id", state.SessionID).Str("provider", chosen.Provider).Int("conditions", len(state.ConversationContext.UserInfo.Conditions)).Msg("session created")
	return state, nil
}

// Get returns the stored session.
func (m *Manager) Get(ctx context.Context, sessionID string) (*model.AgentState, error) {
	return m.store.Load(ctx, sessionID)
}

// ProcessTurn runs one user message through the graph and persists the result.
func (m *Manager) ProcessTurn(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrInvalidMessage
	}
	unlock := m.lock(sessionID)
	defer unlock()

	state, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out, err := m.runner.ProcessTurn(ctx, state, text)
	if err != nil {
		if errors.Is(err, graph.ErrEmptyInput) {
			return nil, ErrInvalidMessage
		}
		return nil, fmt.Errorf("process turn: %w", err)
	}
	if err := m.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return &TurnResult{Outcome: out, State: state}, nil
}

// ClearHistory drops the conversation but keeps profile and preferences.
func (m *Manager) ClearHistory(ctx context.Context, sessionID string) (*model.AgentState, error) {
	return m.mutate(ctx, sessionID, func(s *model.AgentState) error {
		s.ClearHistory()
		return nil
	})
}

// Logout wipes the profile, history and preferences. The session id stays
// valid so a new profile can be entered.
func (m *Manager) Logout(ctx context.Context, sessionID string) (*model.AgentState, error) {
	return m.mutate(ctx, sessionID, func(s *model.AgentState) error {
		s.Logout(m.defaults)
		return nil
	})
}

// UpdateProfile replaces the user's profile without touching history.
func (m *Manager) UpdateProfile(ctx context.Context, sessionID string, user model.UserInfo) (*model.AgentState, error) {
	return m.mutate(ctx, sessionID, func(s *model.AgentState) error {
		s.ConversationContext.UserInfo = cleanProfile(user)
		return nil
	})
}

// UpdatePreferences changes the session's provider and models.
func (m *Manager) UpdatePreferences(ctx context.Context, sessionID string, prefs model.ModelPreferences) (*model.AgentState, error) {
	if !m.selectorEnabled {
		return nil, ErrSelectorDisabled
	}
	return m.mutate(ctx, sessionID, func(s *model.AgentState) error {
		merged, err := m.mergePreferences(s.ModelPreferences, prefs)
		if err != nil {
			return err
		}
		s.ModelPreferences = merged
		return nil
	})
}

// Delete ends the session.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	unlock := m.lock(sessionID)
	defer unlock()

	if _, err := m.store.Load(ctx, sessionID); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.locks, sessionID)
	m.mu.Unlock()
	metrics.ActiveSessions.Dec()
	logx.Info().Str("session_id", sessionID).Msg("session deleted")
	return nil
}

func (m *Manager) mutate(ctx context.Context, sessionID string, fn func(*model.AgentState) error) (*model.AgentState, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	state, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state.ConversationContext == nil {
		state.ConversationContext = model.NewConversationContext(model.UserInfo{})
	}
	if err := fn(state); err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return state, nil
}

// mergePreferences overlays non-empty fields of in onto base and checks
// them against the catalog.
func (m *Manager) mergePreferences(base, in model.ModelPreferences) (model.ModelPreferences, error) {
	out := base
	if p := strings.ToLower(strings.TrimSpace(in.Provider)); p != "" {
		switch p {
		case model.ProviderIBM, model.ProviderOpenAI, model.ProviderGemini:
			out.Provider = p
		default:
			return base, fmt.Errorf("%w: unknown provider %q", ErrInvalidPreferences, in.Provider)
		}
	}
	checks := []struct {
		provider string
		id       string
		dst      *string
	}{
		{model.ProviderIBM, in.GraniteModel, &out.GraniteModel},
		{model.ProviderOpenAI, in.OpenAIModel, &out.OpenAIModel},
		{model.ProviderGemini, in.GeminiModel, &out.GeminiModel},
	}
	for _, c := range checks {
		id := strings.TrimSpace(c.id)
		if id == "" {
			continue
		}
		if !model.InCatalog(c.provider, id) {
			return base, fmt.Errorf("%w: %q is not a %s model", ErrInvalidPreferences, id, c.provider)
		}
		*c.dst = id
	}
	return out, nil
}

func cleanProfile(u model.UserInfo) model.UserInfo {
	out := model.UserInfo{Name: strings.TrimSpace(u.Name), Conditions: []string{}}
	for _, c := range u.Conditions {
		if c = strings.TrimSpace(c); c != "" {
			out.Conditions = append(out.Conditions, c)
		}
	}
	return out
}
