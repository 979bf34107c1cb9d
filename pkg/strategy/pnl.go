package strategy

import (
	"math/big"

	"github.com/tonfabric/agent-engine/pkg/types"
)

// PnLModel computes the realized PnL of one execution. The engine ships the
// fixed-return placeholder; integrators that track balance deltas on-chain
// substitute their own model.
type PnLModel interface {
	Compute(s *Strategy, confirmedTx int, market types.MarketData) *big.Int
}

// FixedReturnModel attributes a fixed return to every confirmed transaction.
// ReturnPerTx may be negative to model a losing strategy.
type FixedReturnModel struct {
	ReturnPerTx *big.Int
}

func (m *FixedReturnModel) Compute(_ *Strategy, confirmedTx int, _ types.MarketData) *big.Int {
	if confirmedTx <= 0 || m.ReturnPerTx == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(m.ReturnPerTx, big.NewInt(int64(confirmedTx)))
}

// applyPnL folds an execution's PnL and gas into the performance snapshot
// and recomputes the derived rates.
func applyPnL(p *Performance, pnl, gas *big.Int, duration int64) {
	if p.TotalPnL == nil {
		p.TotalPnL = new(big.Int)
	}
	if p.TotalGasUsed == nil {
		p.TotalGasUsed = new(big.Int)
	}
	p.SuccessfulExecutions++
	p.TotalPnL.Add(p.TotalPnL, pnl)
	p.TotalGasUsed.Add(p.TotalGasUsed, gas)

	n := int64(p.SuccessfulExecutions)
	p.AvgDurationMs = (p.AvgDurationMs*(n-1) + duration) / n
	recomputeWinRate(p)
}

func recomputeWinRate(p *Performance) {
	total := int64(p.SuccessfulExecutions + p.FailedExecutions)
	if total == 0 {
		p.WinRateBps = 0
		return
	}
	p.WinRateBps = int64(p.SuccessfulExecutions) * types.BpsDenominator / total
}
