// Package strategy owns the strategy lifecycle and per-execution
// orchestration: run the strategy's trading logic within its gas budget,
// dispatch the resulting transactions, account PnL, and stop the strategy
// automatically when a configured boundary is crossed.
package strategy

import (
	"errors"
	"math/big"
	"time"

	"github.com/tonfabric/agent-engine/pkg/types"
)

// Status is a strategy's lifecycle state. Transitions:
// pending -> running -> {completed, failed, cancelled, stopped}.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusStopped:
		return true
	default:
		return false
	}
}

// RiskLevel labels the declared aggressiveness of a strategy.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// StopConditions are the boundaries that force an automatic stop. They are
// evaluated after every execution in a fixed order: loss, executions,
// expiry, gas.
type StopConditions struct {
	MaxLoss             *big.Int   `json:"max_loss,omitempty"`
	MaxExecutions       int        `json:"max_executions,omitempty"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	StopOnGasExhaustion bool       `json:"stop_on_gas_exhaustion"`
}

// Performance is the strategy's rolling performance snapshot. Only successful
// executions contribute gas and PnL; failures only bump their counter.
type Performance struct {
	SuccessfulExecutions int      `json:"successful_executions"`
	FailedExecutions     int      `json:"failed_executions"`
	TotalPnL             *big.Int `json:"total_pnl"`
	TotalGasUsed         *big.Int `json:"total_gas_used"`
	WinRateBps           int64    `json:"win_rate_bps"`
	AvgDurationMs        int64    `json:"avg_duration_ms"`
}

// Schedule is cron/interval metadata attached to a strategy. The executor
// does not run its own timer loop; an external scheduler reads this and
// calls Execute when due.
type Schedule struct {
	Cron      string        `json:"cron,omitempty"`
	Interval  time.Duration `json:"interval,omitempty"`
	NextRunAt time.Time     `json:"next_run_at,omitempty"`
}

// Strategy is a runnable trading program bound to an agent. Once it reaches
// a terminal status only the performance snapshot may still be appended to.
type Strategy struct {
	ID             string            `json:"id"`
	AgentID        string            `json:"agent_id"`
	Type           string            `json:"type"`
	Params         map[string]string `json:"params,omitempty"`
	Status         Status            `json:"status"`
	Risk           RiskLevel         `json:"risk"`
	MaxGasBudget   *big.Int          `json:"max_gas_budget"`
	GasUsed        *big.Int          `json:"gas_used"`
	StopConditions StopConditions    `json:"stop_conditions"`
	StopReason     string            `json:"stop_reason,omitempty"`
	Performance    Performance       `json:"performance"`
	Schedule       *Schedule         `json:"schedule,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ExecutionResult records one run of a strategy. Results are append-only and
// observed in submission order.
type ExecutionResult struct {
	ExecutionID  string                    `json:"execution_id"`
	StrategyID   string                    `json:"strategy_id"`
	Success      bool                      `json:"success"`
	Transactions []types.TransactionResult `json:"transactions,omitempty"`
	GasUsed      *big.Int                  `json:"gas_used"`
	PnL          *big.Int                  `json:"pnl"`
	Duration     time.Duration             `json:"duration"`
	Timestamp    time.Time                 `json:"timestamp"`
	Error        string                    `json:"error,omitempty"`
}

var (
	ErrNotFound          = errors.New("strategy: strategy not found")
	ErrAlreadyRunning    = errors.New("strategy: strategy already running")
	ErrTerminalState     = errors.New("strategy: strategy is in a terminal state")
	ErrNotRunning        = errors.New("strategy: strategy is not running")
	ErrGasExhausted      = errors.New("strategy: gas budget exhausted")
	ErrExecutionInFlight = errors.New("strategy: an execution is already in flight")
	ErrUnknownType       = errors.New("strategy: no logic registered for strategy type")
)

// Stop reasons recorded when a stop condition fires.
const (
	StopReasonMaxLoss       = "max_loss"
	StopReasonMaxExecutions = "max_executions"
	StopReasonExpired       = "expired"
	StopReasonGasExhausted  = "gas_exhausted"
)
