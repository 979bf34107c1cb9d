package custody

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/tonfabric/agent-engine/pkg/types"
)

// DefaultSessionWindow bounds how long an MPC session may collect shares
// before it expires and its shares are freed.
const DefaultSessionWindow = 10 * time.Minute

// MPCConfig configures a threshold signing provider. A valid signature
// requires cooperation of at least Threshold out of Parties share holders.
type MPCConfig struct {
	Threshold       int
	Parties         int
	PartyPublicKeys []string
	SessionWindow   time.Duration
}

// MPCProvider implements two-phase threshold signing: open a session, collect
// shares from parties, then finalize once the threshold is met. Sessions are
// single-use and removed after finalization.
type MPCProvider struct {
	agentID  string
	cfg      MPCConfig
	sessions SessionStore
	backend  Backend

	// serializes read-modify-write cycles against the session store
	mu sync.Mutex
}

// NewMPCProvider validates the threshold configuration up front; a threshold
// larger than the party count or a mismatched key list never reaches
// transaction time.
func NewMPCProvider(agentID string, cfg MPCConfig, sessions SessionStore, backend Backend) (*MPCProvider, error) {
	if agentID == "" {
		return nil, fmt.Errorf("custody: agent id is required")
	}
	if cfg.Threshold < 1 {
		return nil, fmt.Errorf("custody: mpc threshold must be at least 1, got %d", cfg.Threshold)
	}
	if cfg.Threshold > cfg.Parties {
		return nil, fmt.Errorf("custody: mpc threshold %d exceeds party count %d", cfg.Threshold, cfg.Parties)
	}
	if len(cfg.PartyPublicKeys) != cfg.Parties {
		return nil, fmt.Errorf("custody: expected %d party public keys, got %d", cfg.Parties, len(cfg.PartyPublicKeys))
	}
	if sessions == nil {
		return nil, fmt.Errorf("custody: session store is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("custody: chain backend is required")
	}
	if cfg.SessionWindow <= 0 {
		cfg.SessionWindow = DefaultSessionWindow
	}
	return &MPCProvider{agentID: agentID, cfg: cfg, sessions: sessions, backend: backend}, nil
}

func (p *MPCProvider) Mode() types.CustodyMode { return types.CustodyMPC }

// InitiateSigningSession opens a session for tx and returns its id.
func (p *MPCProvider) InitiateSigningSession(ctx context.Context, tx types.AgentTransaction) (string, error) {
	if tx.Amount != nil && tx.Amount.Sign() < 0 {
		return "", ErrInvalidAmount
	}
	now := time.Now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		AgentID:   p.agentID,
		TxDigest:  fmt.Sprintf("%x", TxDigest(tx)),
		Shares:    make(map[int][]byte),
		CreatedAt: now,
		ExpiresAt: now.Add(p.cfg.SessionWindow),
	}
	if err := p.sessions.Put(ctx, s); err != nil {
		return "", fmt.Errorf("failed to store signing session: %w", err)
	}
	return s.ID, nil
}

// SubmitShare records one party's signature share and reports whether the
// threshold has now been met. A party resubmitting overwrites its own share.
func (p *MPCProvider) SubmitShare(ctx context.Context, sessionID string, partyIndex int, share []byte) (bool, error) {
	if partyIndex < 0 || partyIndex >= p.cfg.Parties {
		return false, ErrInvalidPartyIndex
	}
	if len(share) == 0 {
		return false, fmt.Errorf("custody: empty signature share")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.loadLive(ctx, sessionID)
	if err != nil {
		return false, err
	}
	s.Shares[partyIndex] = share
	if err := p.sessions.Put(ctx, s); err != nil {
		return false, fmt.Errorf("failed to store signature share: %w", err)
	}
	return len(s.Shares) >= p.cfg.Threshold, nil
}

// FinalizeAndSubmit combines the collected shares and submits the transaction.
// Fewer than threshold shares fails with ErrInsufficientShares and keeps the
// session open; success consumes the session.
func (p *MPCProvider) FinalizeAndSubmit(ctx context.Context, sessionID string, tx types.AgentTransaction) (*types.TransactionResult, error) {
	p.mu.Lock()
	s, err := p.loadLive(ctx, sessionID)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if len(s.Shares) < p.cfg.Threshold {
		p.mu.Unlock()
		return nil, ErrInsufficientShares
	}
	sig := combineShares(s.Shares)
	if err := p.sessions.Delete(ctx, sessionID); err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("failed to consume signing session: %w", err)
	}
	p.mu.Unlock()

	return p.backend.Submit(ctx, tx, sig)
}

// Submit runs the full session flow in one call for the degenerate case
// where the engine itself coordinates the parties. External coordinators use
// the three-step API instead.
func (p *MPCProvider) Submit(ctx context.Context, tx types.AgentTransaction) (*types.TransactionResult, error) {
	sessionID, err := p.InitiateSigningSession(ctx, tx)
	if err != nil {
		return nil, err
	}
	digest := TxDigest(tx)
	for i := 0; i < p.cfg.Threshold; i++ {
		share := crypto.Keccak256(digest, []byte(p.cfg.PartyPublicKeys[i]))
		if _, err := p.SubmitShare(ctx, sessionID, i, share); err != nil {
			return nil, err
		}
	}
	return p.FinalizeAndSubmit(ctx, sessionID, tx)
}

// loadLive fetches a session, purging it if expired. Caller holds p.mu.
func (p *MPCProvider) loadLive(ctx context.Context, sessionID string) (*Session, error) {
	s, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing session: %w", err)
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	if s.Expired(time.Now().UTC()) {
		_ = p.sessions.Delete(ctx, sessionID)
		return nil, ErrSessionExpired
	}
	return s, nil
}

// combineShares produces the aggregate signature from the collected shares.
// The engine does not implement real threshold cryptography; backends that
// need a verifiable aggregate plug in their own Backend.
func combineShares(shares map[int][]byte) []byte {
	idx := make([]int, 0, len(shares))
	for i := range shares {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	parts := make([]byte, 0, len(idx)*32)
	for _, i := range idx {
		parts = append(parts, shares[i]...)
	}
	return crypto.Keccak256(parts)
}
