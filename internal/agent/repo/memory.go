package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vayu-advisor/server/internal/agent/model"
	errx "github.com/vayu-advisor/server/internal/core/error"
)

// MemorySessionStore keeps sessions in process memory. States are stored
// as JSON snapshots so callers never share mutable state with the store.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string][]byte)}
}

func (s *MemorySessionStore) Load(ctx context.Context, sessionID string) (*model.AgentState, error) {
	s.mu.RLock()
	b, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, errx.ErrSessionNotFound
	}
	var state model.AgentState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	return &state, nil
}

func (s *MemorySessionStore) Save(ctx context.Context, state *model.AgentState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", state.SessionID, err)
	}
	s.mu.Lock()
	s.sessions[state.SessionID] = b
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

var _ model.SessionStore = (*MemorySessionStore)(nil)
