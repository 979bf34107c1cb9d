// Package scheduler drives scheduled strategies: every tick it checks the
// tracked strategies and fires Execute for those whose NextRunAt has passed.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tonfabric/agent-engine/internal/logger"
	"github.com/tonfabric/agent-engine/pkg/strategy"
	"github.com/tonfabric/agent-engine/pkg/types"
	"github.com/tonfabric/agent-engine/pkg/wallet"
)

// MarketSource supplies the market snapshot an execution runs against.
type MarketSource interface {
	Snapshot(ctx context.Context, pair string) (types.MarketData, error)
}

// Scheduler periodically executes tracked strategies that are due. It holds
// no timer state per strategy; due-ness lives on the strategy's Schedule and
// survives restarts with the store.
type Scheduler struct {
	executor *strategy.Executor
	wallets  *wallet.Manager
	market   MarketSource
	logger   zerolog.Logger
	tick     time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	eg      *errgroup.Group
	tracked chan string
	ids     map[string]struct{}
}

// New creates a scheduler with the given tick interval.
func New(executor *strategy.Executor, wallets *wallet.Manager, market MarketSource, tick time.Duration, logger zerolog.Logger) *Scheduler {
	if tick <= 0 {
		tick = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)
	return &Scheduler{
		executor: executor,
		wallets:  wallets,
		market:   market,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		tick:     tick,
		ctx:      egCtx,
		cancel:   cancel,
		eg:       eg,
		tracked:  make(chan string, 64),
		ids:      make(map[string]struct{}),
	}
}

// Track registers a strategy id with the scheduler. Strategies that reach a
// terminal state are dropped automatically on the next tick.
func (s *Scheduler) Track(strategyID string) {
	select {
	case s.tracked <- strategyID:
	case <-s.ctx.Done():
	}
}

// Start begins the tick loop.
func (s *Scheduler) Start() {
	s.logger.Info().Dur("tick", s.tick).Msg("Starting scheduler")
	s.eg.Go(s.run)
}

// Stop shuts the scheduler down and waits for in-flight executions.
func (s *Scheduler) Stop() error {
	s.cancel()
	if err := s.eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Scheduler) run() error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case id := <-s.tracked:
			s.ids[id] = struct{}{}
		case <-ticker.C:
			s.drainTracked()
			s.runDue()
		}
	}
}

func (s *Scheduler) drainTracked() {
	for {
		select {
		case id := <-s.tracked:
			s.ids[id] = struct{}{}
		default:
			return
		}
	}
}

func (s *Scheduler) runDue() {
	now := time.Now().UTC()
	for id := range s.ids {
		st, err := s.executor.GetStrategy(s.ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("strategy_id", id).Msg("Dropping unknown strategy")
			delete(s.ids, id)
			continue
		}
		if st.Status.Terminal() {
			delete(s.ids, id)
			continue
		}
		if st.Status != strategy.StatusRunning || st.Schedule == nil {
			continue
		}
		if st.Schedule.NextRunAt.IsZero() || st.Schedule.NextRunAt.After(now) {
			continue
		}
		s.execute(st)
	}
}

func (s *Scheduler) execute(st *strategy.Strategy) {
	lg := logger.WithStrategy(logger.WithAgent(s.logger, st.AgentID), st.ID)

	w, err := s.wallets.GetWallet(s.ctx, st.AgentID)
	if err != nil {
		lg.Error().Err(err).Msg("Failed to load wallet for scheduled run")
		return
	}

	market, err := s.market.Snapshot(s.ctx, st.Params["pair"])
	if err != nil {
		lg.Error().Err(err).Msg("Failed to load market snapshot")
		return
	}

	_, err = s.executor.Execute(s.ctx, st.ID, w.Balance, market)
	switch {
	case err == nil:
	case errors.Is(err, strategy.ErrExecutionInFlight):
		// The previous run is still going; it will reschedule itself.
	case errors.Is(err, strategy.ErrGasExhausted), errors.Is(err, strategy.ErrNotRunning):
		lg.Info().Err(err).Msg("Strategy no longer runnable")
		delete(s.ids, st.ID)
	default:
		lg.Error().Err(err).Msg("Scheduled execution failed")
	}
}
