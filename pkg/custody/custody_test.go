package custody

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tonfabric/agent-engine/pkg/types"
)

// fakeBackend records submissions and answers with a canned result.
type fakeBackend struct {
	mu    sync.Mutex
	calls []types.AgentTransaction
	sigs  [][]byte
	err   error
}

func (b *fakeBackend) Submit(_ context.Context, tx types.AgentTransaction, sig []byte) (*types.TransactionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.calls = append(b.calls, tx)
	b.sigs = append(b.sigs, sig)
	return &types.TransactionResult{
		TxHash:      "0xfake",
		Success:     true,
		GasUsed:     big.NewInt(10_000_000),
		BlockSeqno:  uint64(len(b.calls)),
		SubmittedAt: time.Now().UTC(),
	}, nil
}

func (b *fakeBackend) submissions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// memSessions is a map-backed SessionStore for provider tests.
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]*Session)}
}

func (s *memSessions) Put(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	cp.Shares = make(map[int][]byte, len(sess.Shares))
	for i, share := range sess.Shares {
		cp.Shares[i] = share
	}
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memSessions) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	cp.Shares = make(map[int][]byte, len(sess.Shares))
	for i, share := range sess.Shares {
		cp.Shares[i] = share
	}
	return &cp, nil
}

func (s *memSessions) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// memLedger is a map-backed SpendLedger for provider tests.
type memLedger struct {
	mu      sync.Mutex
	buckets map[string]*big.Int
	err     error
}

func newMemLedger() *memLedger {
	return &memLedger{buckets: make(map[string]*big.Int)}
}

func (l *memLedger) Reserve(_ context.Context, walletID, day string, amount, limit *big.Int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	key := walletID + "|" + day
	spent, ok := l.buckets[key]
	if !ok {
		spent = new(big.Int)
	}
	next := new(big.Int).Add(spent, amount)
	if limit != nil && next.Cmp(limit) > 0 {
		return false, nil
	}
	l.buckets[key] = next
	return true, nil
}

func (l *memLedger) Release(_ context.Context, walletID, day string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := walletID + "|" + day
	if spent, ok := l.buckets[key]; ok {
		spent.Sub(spent, amount)
	}
	return nil
}

func (l *memLedger) spent(walletID, day string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.buckets[walletID+"|"+day]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

var errBackendDown = errors.New("backend down")

func swapTx(amount int64) types.AgentTransaction {
	return types.AgentTransaction{
		AgentID: "agent-1",
		Type:    types.TxSwap,
		To:      "EQDex",
		Amount:  big.NewInt(amount),
	}
}

func TestTxDigestIsCanonical(t *testing.T) {
	a := swapTx(100)
	b := swapTx(100)
	b.Payload = map[string]string{"note": "ignored by digest"}
	assert.Equal(t, TxDigest(a), TxDigest(b))

	c := swapTx(101)
	assert.NotEqual(t, TxDigest(a), TxDigest(c))

	nilAmount := swapTx(0)
	nilAmount.Amount = nil
	zeroAmount := swapTx(0)
	assert.Equal(t, TxDigest(zeroAmount), TxDigest(nilAmount))
}

func TestSpendDayIsUTC(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	late := time.Date(2026, 3, 1, 2, 30, 0, 0, loc)
	assert.Equal(t, "2026-02-28", SpendDay(late))
}
