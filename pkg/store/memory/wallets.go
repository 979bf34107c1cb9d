// Package memory provides mutex-guarded in-memory implementations of every
// repository interface in the engine. It is both the default backing store
// and the test double for the durable backends.
package memory

import (
	"context"
	"sync"

	"github.com/tonfabric/agent-engine/pkg/types"
	"github.com/tonfabric/agent-engine/pkg/wallet"
)

// WalletStore is an in-memory wallet.Store.
type WalletStore struct {
	mu      sync.RWMutex
	wallets map[string]*types.AgentWallet
}

func NewWalletStore() *WalletStore {
	return &WalletStore{wallets: make(map[string]*types.AgentWallet)}
}

func (s *WalletStore) Create(_ context.Context, w *types.AgentWallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.wallets[w.AgentID]; exists {
		return wallet.ErrAlreadyExists
	}
	s.wallets[w.AgentID] = cloneWallet(w)
	return nil
}

func (s *WalletStore) Get(_ context.Context, agentID string) (*types.AgentWallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[agentID]
	if !ok {
		return nil, wallet.ErrNotFound
	}
	return cloneWallet(w), nil
}

func (s *WalletStore) Update(_ context.Context, w *types.AgentWallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[w.AgentID]; !ok {
		return wallet.ErrNotFound
	}
	s.wallets[w.AgentID] = cloneWallet(w)
	return nil
}

func cloneWallet(w *types.AgentWallet) *types.AgentWallet {
	out := *w
	out.Balance = types.CloneAmount(w.Balance)
	return &out
}
