package strategy

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/tonfabric/agent-engine/pkg/types"
)

// ExecutionContext is everything a trading logic sees for one run.
type ExecutionContext struct {
	Strategy         *Strategy
	AvailableBalance *big.Int
	Market           types.MarketData
}

// Logic produces the candidate transactions for one execution. The executor
// treats it as a capability: given context, return zero or more transactions.
// Implementations must not submit anything themselves.
type Logic interface {
	Name() string
	Plan(ctx context.Context, ec ExecutionContext) ([]types.AgentTransaction, error)
}

// DecisionProvider supplies an opaque trade decision, typically from an LLM
// layer. Decisions are untrusted; DecisionLogic applies its own guards.
type DecisionProvider interface {
	Decide(ctx context.Context, ec ExecutionContext) (*types.Decision, error)
}

// param reads a strategy parameter, preferring the logic's own field when set.
func param(ec ExecutionContext, own, key string) string {
	if own != "" {
		return own
	}
	if ec.Strategy == nil {
		return ""
	}
	return ec.Strategy.Params[key]
}

// amountParam resolves an amount the same way, falling back to a decimal
// string in the strategy parameters.
func amountParam(ec ExecutionContext, own *big.Int, key string) *big.Int {
	if own != nil {
		return types.CloneAmount(own)
	}
	if ec.Strategy != nil {
		if v, ok := new(big.Int).SetString(ec.Strategy.Params[key], 10); ok {
			return v
		}
	}
	return new(big.Int)
}

// DCALogic buys a fixed amount every run, capped by the available balance.
// Fields left unset fall back to the strategy parameters "dex", "from_token",
// "to_token" and "amount".
type DCALogic struct {
	DexAddress string
	FromToken  string
	ToToken    string
	Amount     *big.Int
}

func (l *DCALogic) Name() string { return "dca" }

func (l *DCALogic) Plan(_ context.Context, ec ExecutionContext) ([]types.AgentTransaction, error) {
	amount := amountParam(ec, l.Amount, "amount")
	if ec.AvailableBalance != nil && amount.Cmp(ec.AvailableBalance) > 0 {
		// Not enough balance this cycle; skip rather than partial-fill.
		return nil, nil
	}
	if amount.Sign() <= 0 {
		return nil, nil
	}
	return []types.AgentTransaction{{
		Type:   types.TxSwap,
		To:     param(ec, l.DexAddress, "dex"),
		Amount: amount,
		Payload: map[string]string{
			"from_token": param(ec, l.FromToken, "from_token"),
			"to_token":   param(ec, l.ToToken, "to_token"),
		},
	}}, nil
}

// RebalanceLogic sells when the observed price drifts above an anchor by
// more than DriftBps and buys when it drifts below, trading TradeAmount at
// a time. Unset fields fall back to the strategy parameters "dex",
// "from_token", "to_token", "anchor_price", "drift_bps" and "trade_amount".
type RebalanceLogic struct {
	DexAddress  string
	FromToken   string
	ToToken     string
	AnchorPrice *big.Int
	DriftBps    int64
	TradeAmount *big.Int
}

func (l *RebalanceLogic) Name() string { return "rebalance" }

func (l *RebalanceLogic) Plan(_ context.Context, ec ExecutionContext) ([]types.AgentTransaction, error) {
	anchor := amountParam(ec, l.AnchorPrice, "anchor_price")
	driftBps := l.DriftBps
	if driftBps == 0 && ec.Strategy != nil {
		if v, err := strconv.ParseInt(ec.Strategy.Params["drift_bps"], 10, 64); err == nil {
			driftBps = v
		}
	}
	if !types.IsPositive(anchor) || !types.IsPositive(ec.Market.Price) {
		return nil, nil
	}
	drift := new(big.Int).Sub(ec.Market.Price, anchor)
	band := types.ApplyBps(anchor, driftBps)
	if drift.CmpAbs(band) <= 0 {
		return nil, nil
	}

	from := param(ec, l.FromToken, "from_token")
	to := param(ec, l.ToToken, "to_token")
	if drift.Sign() < 0 {
		from, to = to, from
	}
	amount := amountParam(ec, l.TradeAmount, "trade_amount")
	if ec.AvailableBalance != nil && amount.Cmp(ec.AvailableBalance) > 0 {
		amount = types.CloneAmount(ec.AvailableBalance)
	}
	if amount.Sign() <= 0 {
		return nil, nil
	}
	return []types.AgentTransaction{{
		Type:   types.TxSwap,
		To:     param(ec, l.DexAddress, "dex"),
		Amount: amount,
		Payload: map[string]string{
			"from_token": from,
			"to_token":   to,
		},
	}}, nil
}

// DecisionLogic consults a DecisionProvider and converts buy/sell decisions
// into swaps, discarding anything below the confidence floor and clamping
// the trade size.
type DecisionLogic struct {
	Provider         DecisionProvider
	DexAddress       string
	FromToken        string
	ToToken          string
	MinConfidenceBps int64
	MaxTradeAmount   *big.Int
}

func (l *DecisionLogic) Name() string { return "decision" }

func (l *DecisionLogic) Plan(ctx context.Context, ec ExecutionContext) ([]types.AgentTransaction, error) {
	if l.Provider == nil {
		return nil, fmt.Errorf("strategy: decision logic has no provider")
	}
	d, err := l.Provider.Decide(ctx, ec)
	if err != nil {
		return nil, fmt.Errorf("decision provider failed: %w", err)
	}
	if d == nil || d.Action == types.ActionHold || d.ConfidenceBps < l.MinConfidenceBps {
		return nil, nil
	}

	amount := types.CloneAmount(d.Amount)
	if limit := amountParam(ec, l.MaxTradeAmount, "max_trade_amount"); limit.Sign() > 0 && amount.Cmp(limit) > 0 {
		amount = limit
	}
	if ec.AvailableBalance != nil && amount.Cmp(ec.AvailableBalance) > 0 {
		amount = types.CloneAmount(ec.AvailableBalance)
	}
	if amount.Sign() <= 0 {
		return nil, nil
	}

	from := param(ec, l.FromToken, "from_token")
	to := param(ec, l.ToToken, "to_token")
	if d.Action == types.ActionSell {
		from, to = to, from
	}
	return []types.AgentTransaction{{
		Type:   types.TxSwap,
		To:     param(ec, l.DexAddress, "dex"),
		Amount: amount,
		Payload: map[string]string{
			"from_token": from,
			"to_token":   to,
			"decided_by": "decision_provider",
		},
	}}, nil
}
