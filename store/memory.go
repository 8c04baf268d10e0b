package store

import (
	"context"
	"sync"

	"github.com/goliatone/go-authsession"
)

// Memory keeps sessions in process memory.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*authsession.Session
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*authsession.Session)}
}

func (m *Memory) Load(_ context.Context, key string) (*authsession.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[key].Clone(), nil
}

func (m *Memory) Save(_ context.Context, key string, session *authsession.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session == nil {
		delete(m.sessions, key)
		return nil
	}
	m.sessions[key] = session.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
	return nil
}

var _ Store = (*Memory)(nil)
