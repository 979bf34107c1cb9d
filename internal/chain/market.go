package chain

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tonfabric/agent-engine/pkg/types"
)

// SimulatedMarket produces deterministic price snapshots: each observation
// moves the pair's price by up to driftBps in a direction derived from the
// keccak of the pair and step counter. Same seed, same series.
type SimulatedMarket struct {
	mu       sync.Mutex
	prices   map[string]*big.Int
	steps    map[string]uint64
	base     *big.Int
	driftBps int64
}

// NewSimulatedMarket seeds every pair at basePrice with moves up to driftBps
// per observation.
func NewSimulatedMarket(basePrice *big.Int, driftBps int64) *SimulatedMarket {
	if driftBps <= 0 {
		driftBps = 50
	}
	return &SimulatedMarket{
		prices:   make(map[string]*big.Int),
		steps:    make(map[string]uint64),
		base:     types.CloneAmount(basePrice),
		driftBps: driftBps,
	}
}

// Snapshot implements scheduler.MarketSource.
func (m *SimulatedMarket) Snapshot(_ context.Context, pair string) (types.MarketData, error) {
	if pair == "" {
		pair = "TON/USDT"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	price, ok := m.prices[pair]
	if !ok {
		price = types.CloneAmount(m.base)
	}

	step := m.steps[pair]
	m.steps[pair] = step + 1

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], step)
	h := crypto.Keccak256([]byte(pair), buf[:])

	// h[0] picks the direction, h[1] scales the move within driftBps.
	bps := m.driftBps * int64(h[1]) / 255
	move := types.ApplyBps(price, bps)
	if h[0]%2 == 0 {
		price = new(big.Int).Add(price, move)
	} else {
		price = new(big.Int).Sub(price, move)
	}
	if price.Sign() <= 0 {
		price = big.NewInt(1)
	}
	m.prices[pair] = price

	return types.MarketData{
		Pair:       pair,
		Price:      types.CloneAmount(price),
		Liquidity:  new(big.Int).Mul(price, big.NewInt(1_000_000)),
		ObservedAt: time.Now().UTC(),
	}, nil
}
