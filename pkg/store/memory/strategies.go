package memory

import (
	"context"
	"sync"

	"github.com/tonfabric/agent-engine/pkg/strategy"
	"github.com/tonfabric/agent-engine/pkg/types"
)

// StrategyStore is an in-memory strategy.Store with an append-only
// execution log per strategy.
type StrategyStore struct {
	mu         sync.RWMutex
	strategies map[string]*strategy.Strategy
	executions map[string][]*strategy.ExecutionResult
}

func NewStrategyStore() *StrategyStore {
	return &StrategyStore{
		strategies: make(map[string]*strategy.Strategy),
		executions: make(map[string][]*strategy.ExecutionResult),
	}
}

func (s *StrategyStore) Create(_ context.Context, st *strategy.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[st.ID] = cloneStrategy(st)
	return nil
}

func (s *StrategyStore) Get(_ context.Context, id string) (*strategy.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.strategies[id]
	if !ok {
		return nil, strategy.ErrNotFound
	}
	return cloneStrategy(st), nil
}

func (s *StrategyStore) Update(_ context.Context, st *strategy.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.strategies[st.ID]; !ok {
		return strategy.ErrNotFound
	}
	s.strategies[st.ID] = cloneStrategy(st)
	return nil
}

func (s *StrategyStore) AppendExecution(_ context.Context, r *strategy.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[r.StrategyID] = append(s.executions[r.StrategyID], cloneExecution(r))
	return nil
}

func (s *StrategyStore) Executions(_ context.Context, strategyID string) ([]*strategy.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.executions[strategyID]
	out := make([]*strategy.ExecutionResult, len(list))
	for i, r := range list {
		out[i] = cloneExecution(r)
	}
	return out, nil
}

func cloneStrategy(st *strategy.Strategy) *strategy.Strategy {
	out := *st
	out.MaxGasBudget = types.CloneAmount(st.MaxGasBudget)
	out.GasUsed = types.CloneAmount(st.GasUsed)
	out.Performance.TotalPnL = types.CloneAmount(st.Performance.TotalPnL)
	out.Performance.TotalGasUsed = types.CloneAmount(st.Performance.TotalGasUsed)
	if st.StopConditions.MaxLoss != nil {
		out.StopConditions.MaxLoss = types.CloneAmount(st.StopConditions.MaxLoss)
	}
	if st.StopConditions.ExpiresAt != nil {
		t := *st.StopConditions.ExpiresAt
		out.StopConditions.ExpiresAt = &t
	}
	if st.Params != nil {
		out.Params = make(map[string]string, len(st.Params))
		for k, v := range st.Params {
			out.Params[k] = v
		}
	}
	if st.Schedule != nil {
		sched := *st.Schedule
		out.Schedule = &sched
	}
	return &out
}

func cloneExecution(r *strategy.ExecutionResult) *strategy.ExecutionResult {
	out := *r
	out.GasUsed = types.CloneAmount(r.GasUsed)
	out.PnL = types.CloneAmount(r.PnL)
	if r.Transactions != nil {
		out.Transactions = make([]types.TransactionResult, len(r.Transactions))
		copy(out.Transactions, r.Transactions)
	}
	return &out
}
