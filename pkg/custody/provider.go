// Package custody implements the three wallet custody protocols the engine
// can bind to an agent: owner-signed (non-custodial), threshold MPC signing,
// and a rule-constrained smart-contract wallet. All three sit behind the
// Provider interface: accept an AgentTransaction, return a TransactionResult.
package custody

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/tonfabric/agent-engine/pkg/types"
)

// Provider turns an agent transaction into a submitted transaction result.
// Each protocol keeps its internal state (MPC shares, daily spend buckets)
// private; nothing leaks to the wallet manager.
type Provider interface {
	Mode() types.CustodyMode
	Submit(ctx context.Context, tx types.AgentTransaction) (*types.TransactionResult, error)
}

// Backend is the chain submission collaborator: it accepts an assembled,
// signed payload and returns the chain's acknowledgement. Real RPC backends
// are out of scope; the engine ships a deterministic simulated one.
type Backend interface {
	Submit(ctx context.Context, tx types.AgentTransaction, signature []byte) (*types.TransactionResult, error)
}

// Session is one in-flight MPC signing session. Sessions are single-use and
// expire if not finalized within their window.
type Session struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	TxDigest  string         `json:"tx_digest"`
	Shares    map[int][]byte `json:"shares"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Expired reports whether the session's finalization window has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionStore persists MPC signing sessions. Get returns (nil, nil) for an
// unknown id. Implementations may expire entries on their own (redis TTL).
type SessionStore interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// SpendLedger tracks per-wallet daily spending, bucketed by UTC calendar day.
// Reserve must be atomic with respect to the limit check so concurrent
// submissions cannot push a wallet past its daily limit.
type SpendLedger interface {
	// Reserve adds amount to the wallet's bucket for day if the new total
	// stays within limit, and reports whether the reservation was taken.
	Reserve(ctx context.Context, walletID, day string, amount, limit *big.Int) (bool, error)
	// Release undoes a prior reservation after a downstream failure.
	Release(ctx context.Context, walletID, day string, amount *big.Int) error
}

// SpendDay formats t as the UTC calendar-day bucket key.
func SpendDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

var (
	ErrInvalidAmount         = errors.New("custody: transaction amount must be non-negative")
	ErrSignerRequired        = errors.New("custody: no owner signer attached")
	ErrSignatureMismatch     = errors.New("custody: signature does not recover owner address")
	ErrSessionNotFound       = errors.New("custody: signing session not found")
	ErrSessionExpired        = errors.New("custody: signing session expired")
	ErrInvalidPartyIndex     = errors.New("custody: party index out of range")
	ErrInsufficientShares    = errors.New("custody: insufficient signature shares")
	ErrTxTypeNotAllowed      = errors.New("custody: transaction type not allowed")
	ErrTxLimitExceeded       = errors.New("custody: per-transaction spending limit exceeded")
	ErrDailyLimitExceeded    = errors.New("custody: daily spending limit exceeded")
	ErrDestinationNotAllowed = errors.New("custody: destination not in whitelist")
	ErrNoEmergencyAddress    = errors.New("custody: no emergency address configured")
)
