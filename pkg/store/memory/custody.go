package memory

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/tonfabric/agent-engine/pkg/custody"
)

// SessionStore is an in-memory custody.SessionStore. Expiry is enforced by
// the MPC provider on read; Put additionally sweeps expired entries so
// abandoned sessions and their shares do not accumulate.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*custody.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*custody.Session)}
}

func (s *SessionStore) Put(_ context.Context, sess *custody.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for id, old := range s.sessions {
		if now.After(old.ExpiresAt) {
			delete(s.sessions, id)
		}
	}
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *SessionStore) Get(_ context.Context, id string) (*custody.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return cloneSession(sess), nil
}

func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func cloneSession(sess *custody.Session) *custody.Session {
	out := *sess
	out.Shares = make(map[int][]byte, len(sess.Shares))
	for i, share := range sess.Shares {
		cp := make([]byte, len(share))
		copy(cp, share)
		out.Shares[i] = cp
	}
	return &out
}

// SpendLedger is an in-memory custody.SpendLedger with one big.Int bucket per
// wallet per UTC day. Reserve checks the limit and commits under one lock so
// concurrent submissions cannot overshoot.
type SpendLedger struct {
	mu      sync.Mutex
	buckets map[string]*big.Int
}

func NewSpendLedger() *SpendLedger {
	return &SpendLedger{buckets: make(map[string]*big.Int)}
}

func (l *SpendLedger) Reserve(_ context.Context, walletID, day string, amount, limit *big.Int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := walletID + "|" + day
	spent, ok := l.buckets[key]
	if !ok {
		spent = new(big.Int)
	}
	next := new(big.Int).Add(spent, amount)
	if limit != nil && limit.Sign() > 0 && next.Cmp(limit) > 0 {
		return false, nil
	}
	l.buckets[key] = next
	return true, nil
}

func (l *SpendLedger) Release(_ context.Context, walletID, day string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := walletID + "|" + day
	spent, ok := l.buckets[key]
	if !ok {
		return nil
	}
	next := new(big.Int).Sub(spent, amount)
	if next.Sign() < 0 {
		next.SetInt64(0)
	}
	l.buckets[key] = next
	return nil
}
