package custody

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tonfabric/agent-engine/pkg/types"
)

// OwnerSigner is the external signing flow (wallet-connect or similar) that
// produces the human owner's signature over a transaction digest. The token
// is a short-lived session credential identifying the request.
type OwnerSigner interface {
	Sign(ctx context.Context, token string, digest []byte) ([]byte, error)
}

// NonCustodialConfig configures an owner-signed provider.
type NonCustodialConfig struct {
	OwnerAddress  string
	SessionSecret []byte
	SessionTTL    time.Duration
}

// NonCustodialProvider holds no keys. Every transaction is forwarded to the
// owner's external signer and the returned signature is verified to recover
// the owner address before submission.
type NonCustodialProvider struct {
	agentID string
	cfg     NonCustodialConfig
	signer  OwnerSigner
	backend Backend
}

// NewNonCustodialProvider validates the configuration and binds the external
// signer. Configuration problems fail here, never at transaction time.
func NewNonCustodialProvider(agentID string, cfg NonCustodialConfig, signer OwnerSigner, backend Backend) (*NonCustodialProvider, error) {
	if agentID == "" {
		return nil, fmt.Errorf("custody: agent id is required")
	}
	if cfg.OwnerAddress == "" {
		return nil, fmt.Errorf("custody: owner address is required")
	}
	if len(cfg.SessionSecret) == 0 {
		return nil, fmt.Errorf("custody: session secret is required")
	}
	if signer == nil {
		return nil, ErrSignerRequired
	}
	if backend == nil {
		return nil, fmt.Errorf("custody: chain backend is required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 5 * time.Minute
	}
	return &NonCustodialProvider{agentID: agentID, cfg: cfg, signer: signer, backend: backend}, nil
}

func (p *NonCustodialProvider) Mode() types.CustodyMode { return types.CustodyNonCustodial }

// Submit validates the transaction shape, obtains the owner's signature via
// the external flow, verifies it, and forwards to the chain backend.
func (p *NonCustodialProvider) Submit(ctx context.Context, tx types.AgentTransaction) (*types.TransactionResult, error) {
	if tx.Amount != nil && tx.Amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	digest := TxDigest(tx)
	token, err := p.sessionToken(digest)
	if err != nil {
		return nil, fmt.Errorf("failed to issue signing session token: %w", err)
	}

	sig, err := p.signer.Sign(ctx, token, digest)
	if err != nil {
		return nil, fmt.Errorf("owner signing failed: %w", err)
	}
	if err := p.verifyOwnerSignature(digest, sig); err != nil {
		return nil, err
	}

	return p.backend.Submit(ctx, tx, sig)
}

// sessionToken issues the JWT handed to the external signer so the signing
// request can be tied back to this provider and digest.
func (p *NonCustodialProvider) sessionToken(digest []byte) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":    p.agentID,
		"owner":  p.cfg.OwnerAddress,
		"digest": fmt.Sprintf("%x", digest),
		"jti":    uuid.NewString(),
		"iat":    now.Unix(),
		"exp":    now.Add(p.cfg.SessionTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.cfg.SessionSecret)
}

// verifyOwnerSignature recovers the signing address from a 65-byte
// [R||S||V] signature and compares it to the configured owner.
func (p *NonCustodialProvider) verifyOwnerSignature(digest, sig []byte) error {
	if len(sig) != 65 {
		return ErrSignatureMismatch
	}
	// Normalize v from 27/28 to 0/1 if the wallet followed Ethereum convention.
	rs := make([]byte, 65)
	copy(rs, sig)
	if rs[64] >= 27 {
		rs[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, rs)
	if err != nil {
		return ErrSignatureMismatch
	}
	recovered := crypto.PubkeyToAddress(*pub).Hex()
	if !strings.EqualFold(recovered, p.cfg.OwnerAddress) {
		return ErrSignatureMismatch
	}
	return nil
}
