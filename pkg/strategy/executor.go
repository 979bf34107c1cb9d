package strategy

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tonfabric/agent-engine/pkg/events"
	"github.com/tonfabric/agent-engine/pkg/types"
)

// DefaultExecutionTimeout bounds one full execution (logic + submissions).
// A run that exceeds it is recorded as a failed execution, not left in an
// indeterminate state.
const DefaultExecutionTimeout = 2 * time.Minute

// Store persists strategies and their append-only execution log. Get fails
// with ErrNotFound for an unknown id.
type Store interface {
	Create(ctx context.Context, s *Strategy) error
	Get(ctx context.Context, id string) (*Strategy, error)
	Update(ctx context.Context, s *Strategy) error
	AppendExecution(ctx context.Context, r *ExecutionResult) error
	Executions(ctx context.Context, strategyID string) ([]*ExecutionResult, error)
}

// Dispatcher submits a transaction on behalf of an agent. wallet.Manager is
// the production implementation.
type Dispatcher interface {
	ExecuteTransaction(ctx context.Context, agentID string, tx types.AgentTransaction) (*types.TransactionResult, error)
}

// Executor runs strategies within their budgets and stops them when a
// configured boundary is crossed. Executions for different strategies may
// run concurrently; a second execution for the same strategy id is rejected
// with ErrExecutionInFlight while one is in flight.
type Executor struct {
	store      Store
	dispatcher Dispatcher
	bus        *events.Bus
	logger     zerolog.Logger
	pnl        PnLModel
	timeout    time.Duration

	mu       sync.Mutex
	logics   map[string]Logic
	inflight map[string]struct{}
}

// NewExecutor wires the executor. A nil pnl model falls back to a zero-return
// FixedReturnModel.
func NewExecutor(store Store, dispatcher Dispatcher, bus *events.Bus, pnl PnLModel, logger zerolog.Logger) *Executor {
	if pnl == nil {
		pnl = &FixedReturnModel{ReturnPerTx: new(big.Int)}
	}
	return &Executor{
		store:      store,
		dispatcher: dispatcher,
		bus:        bus,
		logger:     logger.With().Str("component", "strategy_executor").Logger(),
		pnl:        pnl,
		timeout:    DefaultExecutionTimeout,
		logics:     make(map[string]Logic),
		inflight:   make(map[string]struct{}),
	}
}

// SetTimeout overrides the per-execution timeout.
func (e *Executor) SetTimeout(d time.Duration) {
	if d > 0 {
		e.timeout = d
	}
}

// RegisterLogic binds a trading logic to a strategy type.
func (e *Executor) RegisterLogic(strategyType string, l Logic) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logics[strategyType] = l
}

// CreateParams describes a new strategy.
type CreateParams struct {
	AgentID        string
	Type           string
	Params         map[string]string
	Risk           RiskLevel
	MaxGasBudget   *big.Int
	StopConditions StopConditions
}

// CreateStrategy creates a strategy in pending status.
func (e *Executor) CreateStrategy(ctx context.Context, p CreateParams) (*Strategy, error) {
	if p.AgentID == "" {
		return nil, fmt.Errorf("strategy: agent id is required")
	}
	if p.Type == "" {
		return nil, fmt.Errorf("strategy: type is required")
	}
	now := time.Now().UTC()
	s := &Strategy{
		ID:             uuid.NewString(),
		AgentID:        p.AgentID,
		Type:           p.Type,
		Params:         p.Params,
		Status:         StatusPending,
		Risk:           p.Risk,
		MaxGasBudget:   types.CloneAmount(p.MaxGasBudget),
		GasUsed:        new(big.Int),
		StopConditions: p.StopConditions,
		Performance: Performance{
			TotalPnL:     new(big.Int),
			TotalGasUsed: new(big.Int),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Create(ctx, s); err != nil {
		return nil, err
	}
	e.publish(types.EventStrategyCreated, s, nil)
	return s, nil
}

// StartStrategy moves a pending strategy to running. Starting a running
// strategy fails with ErrAlreadyRunning; restarting from a terminal state
// fails with ErrTerminalState.
func (e *Executor) StartStrategy(ctx context.Context, id string) error {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case s.Status == StatusRunning:
		return ErrAlreadyRunning
	case s.Status.Terminal():
		return ErrTerminalState
	case s.Status != StatusPending:
		return fmt.Errorf("strategy: cannot start from status %s", s.Status)
	}
	s.Status = StatusRunning
	s.UpdatedAt = time.Now().UTC()
	if err := e.store.Update(ctx, s); err != nil {
		return err
	}
	e.publish(types.EventStrategyStarted, s, nil)
	return nil
}

// CancelStrategy cancels a pending or running strategy.
func (e *Executor) CancelStrategy(ctx context.Context, id string) error {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.Status.Terminal() {
		return ErrTerminalState
	}
	s.Status = StatusCancelled
	s.UpdatedAt = time.Now().UTC()
	if err := e.store.Update(ctx, s); err != nil {
		return err
	}
	e.publish(types.EventStrategyCancelled, s, nil)
	return nil
}

// ScheduleStrategy attaches cron/interval metadata. The engine holds no
// timer loop; the external scheduler reads this and calls Execute when due.
func (e *Executor) ScheduleStrategy(ctx context.Context, id string, sched Schedule) error {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.Status.Terminal() {
		return ErrTerminalState
	}
	if sched.NextRunAt.IsZero() && sched.Interval > 0 {
		sched.NextRunAt = time.Now().UTC().Add(sched.Interval)
	}
	s.Schedule = &sched
	s.UpdatedAt = time.Now().UTC()
	return e.store.Update(ctx, s)
}

// GetStrategy returns the strategy by id.
func (e *Executor) GetStrategy(ctx context.Context, id string) (*Strategy, error) {
	return e.store.Get(ctx, id)
}

// Executions returns the strategy's append-only execution log in submission
// order.
func (e *Executor) Executions(ctx context.Context, strategyID string) ([]*ExecutionResult, error) {
	return e.store.Executions(ctx, strategyID)
}

// Execute runs one execution cycle for a strategy: plan transactions against
// the balance and market snapshot, dispatch them, account PnL and gas, and
// evaluate stop conditions. Submission failures are converted into a failed
// ExecutionResult rather than an error.
func (e *Executor) Execute(ctx context.Context, strategyID string, availableBalance *big.Int, market types.MarketData) (*ExecutionResult, error) {
	if err := e.acquire(strategyID); err != nil {
		return nil, err
	}
	defer e.release(strategyID)

	s, err := e.store.Get(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusRunning {
		return nil, ErrNotRunning
	}

	// Gas budget pre-check: never start a run the budget cannot cover.
	if s.MaxGasBudget != nil && s.StopConditions.StopOnGasExhaustion {
		remaining := new(big.Int).Sub(s.MaxGasBudget, s.GasUsed)
		if remaining.Sign() <= 0 {
			e.stop(ctx, s, StopReasonGasExhausted)
			return nil, ErrGasExhausted
		}
	}

	e.mu.Lock()
	logic, ok := e.logics[s.Type]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, s.Type)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	res := &ExecutionResult{
		ExecutionID: uuid.NewString(),
		StrategyID:  s.ID,
		GasUsed:     new(big.Int),
		PnL:         new(big.Int),
		Timestamp:   started.UTC(),
	}

	txs, planErr := logic.Plan(runCtx, ExecutionContext{
		Strategy:         s,
		AvailableBalance: availableBalance,
		Market:           market,
	})

	confirmed := 0
	failedTx := 0
	if planErr != nil {
		res.Error = planErr.Error()
	} else {
		for _, tx := range txs {
			tr, txErr := e.dispatcher.ExecuteTransaction(runCtx, s.AgentID, tx)
			if txErr != nil {
				failedTx++
				res.Transactions = append(res.Transactions, types.TransactionResult{
					Success:     false,
					GasUsed:     new(big.Int),
					Error:       txErr.Error(),
					SubmittedAt: time.Now().UTC(),
				})
				continue
			}
			res.Transactions = append(res.Transactions, *tr)
			if tr.Success {
				confirmed++
				if tr.GasUsed != nil {
					res.GasUsed.Add(res.GasUsed, tr.GasUsed)
				}
			} else {
				failedTx++
			}
		}
	}

	res.Success = planErr == nil && failedTx == 0
	res.Duration = time.Since(started)
	if res.Success {
		res.PnL = e.pnl.Compute(s, confirmed, market)
	}

	if err := e.store.AppendExecution(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to record execution: %w", err)
	}

	if res.Success {
		s.GasUsed.Add(s.GasUsed, res.GasUsed)
		applyPnL(&s.Performance, res.PnL, res.GasUsed, res.Duration.Milliseconds())
	} else {
		s.Performance.FailedExecutions++
		recomputeWinRate(&s.Performance)
	}
	s.UpdatedAt = time.Now().UTC()

	if reason, triggered := e.stopTriggered(s); triggered {
		s.Status = StatusStopped
		s.StopReason = reason
		if s.Schedule != nil {
			s.Schedule.NextRunAt = time.Time{}
		}
	} else if s.Schedule != nil && s.Schedule.Interval > 0 {
		s.Schedule.NextRunAt = time.Now().UTC().Add(s.Schedule.Interval)
	}

	if err := e.store.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to persist strategy state: %w", err)
	}

	e.logger.Info().
		Str("strategy_id", s.ID).
		Str("agent_id", s.AgentID).
		Bool("success", res.Success).
		Int("transactions", len(res.Transactions)).
		Str("pnl", res.PnL.String()).
		Msg("Strategy executed")

	e.publish(types.EventStrategyExecuted, s, map[string]any{
		"execution_id": res.ExecutionID,
		"success":      res.Success,
		"pnl":          res.PnL.String(),
		"gas_used":     res.GasUsed.String(),
	})
	if s.Status == StatusStopped {
		e.publish(types.EventStrategyStopped, s, map[string]any{"reason": s.StopReason})
	}

	return res, nil
}

// stop forces a strategy into stopped state outside the normal post-execution
// path (gas pre-check).
func (e *Executor) stop(ctx context.Context, s *Strategy, reason string) {
	s.Status = StatusStopped
	s.StopReason = reason
	if s.Schedule != nil {
		s.Schedule.NextRunAt = time.Time{}
	}
	s.UpdatedAt = time.Now().UTC()
	if err := e.store.Update(ctx, s); err != nil {
		e.logger.Error().Err(err).Str("strategy_id", s.ID).Msg("Failed to persist stop")
	}
	e.publish(types.EventStrategyStopped, s, map[string]any{"reason": reason})
}

// stopTriggered evaluates the stop conditions in the fixed order: loss,
// executions, expiry, gas. First match wins.
func (e *Executor) stopTriggered(s *Strategy) (string, bool) {
	c := s.StopConditions
	if c.MaxLoss != nil && s.Performance.TotalPnL != nil && s.Performance.TotalPnL.Sign() < 0 {
		loss := new(big.Int).Neg(s.Performance.TotalPnL)
		if loss.Cmp(c.MaxLoss) >= 0 {
			return StopReasonMaxLoss, true
		}
	}
	if c.MaxExecutions > 0 {
		total := s.Performance.SuccessfulExecutions + s.Performance.FailedExecutions
		if total >= c.MaxExecutions {
			return StopReasonMaxExecutions, true
		}
	}
	if c.ExpiresAt != nil && !time.Now().Before(*c.ExpiresAt) {
		return StopReasonExpired, true
	}
	if c.StopOnGasExhaustion && s.MaxGasBudget != nil && s.GasUsed.Cmp(s.MaxGasBudget) >= 0 {
		return StopReasonGasExhausted, true
	}
	return "", false
}

func (e *Executor) acquire(strategyID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[strategyID]; busy {
		return ErrExecutionInFlight
	}
	e.inflight[strategyID] = struct{}{}
	return nil
}

func (e *Executor) release(strategyID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, strategyID)
}

func (e *Executor) publish(t types.EventType, s *Strategy, data map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(types.Event{Type: t, AgentID: s.AgentID, StrategyID: s.ID, Data: data})
}
