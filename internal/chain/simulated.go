// Package chain provides the chain submission backend. The engine ships a
// deterministic simulated backend; a real TON RPC client would slot in behind
// the same custody.Backend interface.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/tonfabric/agent-engine/pkg/custody"
	"github.com/tonfabric/agent-engine/pkg/types"
)

// Per-type gas cost in nanoTON, approximating real TON action phases.
var gasByType = map[types.TxType]int64{
	types.TxTransfer:       10_000_000,
	types.TxSwap:           60_000_000,
	types.TxAddLiquidity:   80_000_000,
	types.TxStake:          40_000_000,
	types.TxUnstake:        40_000_000,
	types.TxGovernanceVote: 20_000_000,
	types.TxNFTTransfer:    30_000_000,
}

const defaultGas = 25_000_000

// SimulatedBackend acknowledges every signed submission deterministically:
// the tx hash is the keccak of the transaction digest and signature, gas is a
// fixed per-type cost, and block seqnos increase monotonically.
type SimulatedBackend struct {
	mu     sync.Mutex
	seqno  uint64
	logger zerolog.Logger

	// FailDestinations forces a non-zero exit code for listed destinations,
	// letting tests and the simulator exercise failure paths.
	FailDestinations map[string]int
}

func NewSimulatedBackend(logger zerolog.Logger) *SimulatedBackend {
	return &SimulatedBackend{
		seqno:  1,
		logger: logger.With().Str("component", "simulated_backend").Logger(),
	}
}

// Submit implements custody.Backend.
func (b *SimulatedBackend) Submit(ctx context.Context, tx types.AgentTransaction, signature []byte) (*types.TransactionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	seqno := b.seqno
	b.seqno++
	exitCode := b.FailDestinations[tx.To]
	b.mu.Unlock()

	digest := custody.TxDigest(tx)
	hash := crypto.Keccak256(digest, signature)

	gas := gasByType[tx.Type]
	if gas == 0 {
		gas = defaultGas
	}

	result := &types.TransactionResult{
		TxHash:      fmt.Sprintf("%x", hash),
		Success:     exitCode == 0,
		GasUsed:     big.NewInt(gas),
		BlockSeqno:  seqno,
		ExitCode:    int32(exitCode),
		SubmittedAt: time.Now().UTC(),
	}
	if exitCode != 0 {
		result.Error = fmt.Sprintf("contract rejected with exit code %d", exitCode)
	}

	b.logger.Debug().
		Str("tx_hash", result.TxHash).
		Str("type", string(tx.Type)).
		Uint64("block_seqno", seqno).
		Bool("success", result.Success).
		Msg("Transaction submitted")

	return result, nil
}
