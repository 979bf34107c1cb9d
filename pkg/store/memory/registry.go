package memory

import (
	"context"
	"sync"

	"github.com/tonfabric/agent-engine/pkg/registry"
	"github.com/tonfabric/agent-engine/pkg/types"
)

// RegistryStore is an in-memory registry.Store.
type RegistryStore struct {
	mu      sync.RWMutex
	entries map[string]*registry.Entry
}

func NewRegistryStore() *RegistryStore {
	return &RegistryStore{entries: make(map[string]*registry.Entry)}
}

func (s *RegistryStore) Create(_ context.Context, e *registry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[e.AgentID]; exists {
		return registry.ErrAlreadyRegistered
	}
	s.entries[e.AgentID] = cloneEntry(e)
	return nil
}

func (s *RegistryStore) Get(_ context.Context, agentID string) (*registry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[agentID]
	if !ok {
		return nil, registry.ErrAgentNotFound
	}
	return cloneEntry(e), nil
}

func (s *RegistryStore) Update(_ context.Context, e *registry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.entries[e.AgentID]
	if !ok {
		return registry.ErrAgentNotFound
	}
	// The audit trail is append-only; refuse an update that shrinks it.
	if len(e.AuditTrail) < len(existing.AuditTrail) {
		return registry.ErrAgentNotFound
	}
	s.entries[e.AgentID] = cloneEntry(e)
	return nil
}

func (s *RegistryStore) List(_ context.Context) ([]*registry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*registry.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func cloneEntry(e *registry.Entry) *registry.Entry {
	out := *e
	out.Performance.TotalPnL = types.CloneAmount(e.Performance.TotalPnL)
	if e.AuditTrail != nil {
		out.AuditTrail = make([]registry.AuditEntry, len(e.AuditTrail))
		copy(out.AuditTrail, e.AuditTrail)
	}
	if e.Tags != nil {
		out.Tags = make([]string, len(e.Tags))
		copy(out.Tags, e.Tags)
	}
	return &out
}
