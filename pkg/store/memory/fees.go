package memory

import (
	"context"
	"sync"

	"github.com/tonfabric/agent-engine/pkg/fees"
	"github.com/tonfabric/agent-engine/pkg/types"
)

// FeeStore is an in-memory fees.Store.
type FeeStore struct {
	mu       sync.RWMutex
	records  map[string]*fees.FeeRecord
	byAgent  map[string][]string
	creators map[string]*fees.CreatorBalance
}

func NewFeeStore() *FeeStore {
	return &FeeStore{
		records:  make(map[string]*fees.FeeRecord),
		byAgent:  make(map[string][]string),
		creators: make(map[string]*fees.CreatorBalance),
	}
}

func (s *FeeStore) SaveFee(_ context.Context, r *fees.FeeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[r.FeeID]; !exists {
		s.byAgent[r.AgentID] = append(s.byAgent[r.AgentID], r.FeeID)
	}
	s.records[r.FeeID] = cloneFee(r)
	return nil
}

func (s *FeeStore) GetFee(_ context.Context, feeID string) (*fees.FeeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[feeID]
	if !ok {
		return nil, nil
	}
	return cloneFee(r), nil
}

func (s *FeeStore) UpdateFee(_ context.Context, r *fees.FeeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.FeeID]; !ok {
		return fees.ErrFeeNotFound
	}
	s.records[r.FeeID] = cloneFee(r)
	return nil
}

func (s *FeeStore) FeesByAgent(_ context.Context, agentID string) ([]*fees.FeeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byAgent[agentID]
	out := make([]*fees.FeeRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneFee(s.records[id]))
	}
	return out, nil
}

func (s *FeeStore) Creator(_ context.Context, address string) (*fees.CreatorBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.creators[address]
	if !ok {
		return nil, nil
	}
	return cloneCreator(b), nil
}

func (s *FeeStore) SaveCreator(_ context.Context, b *fees.CreatorBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creators[b.Address] = cloneCreator(b)
	return nil
}

func cloneFee(r *fees.FeeRecord) *fees.FeeRecord {
	out := *r
	out.Amount = types.CloneAmount(r.Amount)
	if r.CollectedAt != nil {
		t := *r.CollectedAt
		out.CollectedAt = &t
	}
	return &out
}

func cloneCreator(b *fees.CreatorBalance) *fees.CreatorBalance {
	out := *b
	out.TotalEarned = types.CloneAmount(b.TotalEarned)
	out.PendingPayout = types.CloneAmount(b.PendingPayout)
	out.TotalPaidOut = types.CloneAmount(b.TotalPaidOut)
	if b.LastPayoutAt != nil {
		t := *b.LastPayoutAt
		out.LastPayoutAt = &t
	}
	return &out
}
