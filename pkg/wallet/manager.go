// Package wallet binds exactly one custody protocol to each agent and
// mediates every outbound transaction through it.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tonfabric/agent-engine/pkg/custody"
	"github.com/tonfabric/agent-engine/pkg/events"
	"github.com/tonfabric/agent-engine/pkg/types"
)

var (
	ErrAlreadyExists         = errors.New("wallet: agent already has a wallet")
	ErrNotFound              = errors.New("wallet: wallet not found")
	ErrModeMismatch          = errors.New("wallet: provider does not match wallet custody mode")
	ErrWalletNotActive       = errors.New("wallet: wallet is not active")
	ErrProviderNotConfigured = errors.New("wallet: no custody provider configured")
	ErrInvalidTransition     = errors.New("wallet: invalid lifecycle transition")
	ErrNotRuleConstrained    = errors.New("wallet: emergency stop requires a rule-constrained wallet")
)

// Store persists agent wallet records. Create fails with ErrAlreadyExists on
// a duplicate agent id; Get fails with ErrNotFound for an unknown one.
type Store interface {
	Create(ctx context.Context, w *types.AgentWallet) error
	Get(ctx context.Context, agentID string) (*types.AgentWallet, error)
	Update(ctx context.Context, w *types.AgentWallet) error
}

// Manager owns one AgentWallet record per agent plus the custody provider
// bound to it, and exposes the high-level chain operations that compile down
// to generic transactions.
type Manager struct {
	store  Store
	bus    *events.Bus
	logger zerolog.Logger

	mu        sync.RWMutex
	providers map[string]custody.Provider
}

func NewManager(store Store, bus *events.Bus, logger zerolog.Logger) *Manager {
	return &Manager{
		store:     store,
		bus:       bus,
		logger:    logger.With().Str("component", "wallet_manager").Logger(),
		providers: make(map[string]custody.Provider),
	}
}

// CreateWallet registers a new wallet record for an agent in active status.
func (m *Manager) CreateWallet(ctx context.Context, agentID, contractAddress, ownerAddress string, mode types.CustodyMode, version string) (*types.AgentWallet, error) {
	now := time.Now().UTC()
	w := &types.AgentWallet{
		AgentID:         agentID,
		ContractAddress: contractAddress,
		OwnerAddress:    ownerAddress,
		Mode:            mode,
		Version:         version,
		Balance:         new(big.Int),
		Status:          types.WalletActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.store.Create(ctx, w); err != nil {
		return nil, err
	}

	m.logger.Info().Str("agent_id", agentID).Str("mode", string(mode)).Msg("Wallet created")
	m.publish(types.EventAgentWalletCreated, agentID, map[string]any{
		"contract_address": contractAddress,
		"mode":             string(mode),
	})
	return w, nil
}

// GetWallet returns the wallet record for an agent.
func (m *Manager) GetWallet(ctx context.Context, agentID string) (*types.AgentWallet, error) {
	return m.store.Get(ctx, agentID)
}

// SetupNonCustodial binds an owner-signed provider to the agent's wallet.
func (m *Manager) SetupNonCustodial(ctx context.Context, agentID string, cfg custody.NonCustodialConfig, signer custody.OwnerSigner, backend custody.Backend) error {
	if err := m.checkMode(ctx, agentID, types.CustodyNonCustodial); err != nil {
		return err
	}
	p, err := custody.NewNonCustodialProvider(agentID, cfg, signer, backend)
	if err != nil {
		return err
	}
	m.bind(agentID, p)
	return nil
}

// SetupMPC binds a threshold signing provider to the agent's wallet.
func (m *Manager) SetupMPC(ctx context.Context, agentID string, cfg custody.MPCConfig, sessions custody.SessionStore, backend custody.Backend) error {
	if err := m.checkMode(ctx, agentID, types.CustodyMPC); err != nil {
		return err
	}
	p, err := custody.NewMPCProvider(agentID, cfg, sessions, backend)
	if err != nil {
		return err
	}
	m.bind(agentID, p)
	return nil
}

// SetupRuleConstrainedWallet binds a smart-contract wallet provider to the
// agent's wallet.
func (m *Manager) SetupRuleConstrainedWallet(ctx context.Context, agentID string, cfg custody.RuleWalletConfig, ledger custody.SpendLedger, backend custody.Backend) error {
	if err := m.checkMode(ctx, agentID, types.CustodySmartContract); err != nil {
		return err
	}
	p, err := custody.NewRuleWalletProvider(agentID, cfg, ledger, backend)
	if err != nil {
		return err
	}
	m.bind(agentID, p)
	return nil
}

// Provider returns the custody provider bound to an agent, for flows that
// need the protocol-specific surface (MPC session coordination).
func (m *Manager) Provider(agentID string) (custody.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[agentID]
	if !ok {
		return nil, ErrProviderNotConfigured
	}
	return p, nil
}

// ExecuteTransaction dispatches tx through the agent's custody provider.
func (m *Manager) ExecuteTransaction(ctx context.Context, agentID string, tx types.AgentTransaction) (*types.TransactionResult, error) {
	w, err := m.store.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if w.Status != types.WalletActive {
		return nil, ErrWalletNotActive
	}
	p, err := m.Provider(agentID)
	if err != nil {
		return nil, err
	}

	tx.AgentID = agentID
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	res, err := p.Submit(ctx, tx)
	if err != nil {
		m.publish(types.EventTransactionFailed, agentID, map[string]any{
			"type":  string(tx.Type),
			"error": err.Error(),
		})
		return nil, err
	}

	m.publish(types.EventTransactionSubmitted, agentID, map[string]any{
		"type":    string(tx.Type),
		"tx_hash": res.TxHash,
	})
	return res, nil
}

// The high-level operations below are pure builders: they assemble a generic
// transaction and defer every business rule to the custody provider.

func (m *Manager) TransferToken(ctx context.Context, agentID, tokenAddress, to string, amount *big.Int) (*types.TransactionResult, error) {
	return m.ExecuteTransaction(ctx, agentID, types.AgentTransaction{
		Type:    types.TxTransfer,
		To:      to,
		Amount:  amount,
		Payload: map[string]string{"token": tokenAddress},
	})
}

func (m *Manager) Swap(ctx context.Context, agentID, dexAddress, fromToken, toToken string, amount, minOut *big.Int) (*types.TransactionResult, error) {
	return m.ExecuteTransaction(ctx, agentID, types.AgentTransaction{
		Type:   types.TxSwap,
		To:     dexAddress,
		Amount: amount,
		Payload: map[string]string{
			"from_token": fromToken,
			"to_token":   toToken,
			"min_out":    minOut.String(),
		},
	})
}

func (m *Manager) ProvideLiquidity(ctx context.Context, agentID, poolAddress string, amountA, amountB *big.Int) (*types.TransactionResult, error) {
	return m.ExecuteTransaction(ctx, agentID, types.AgentTransaction{
		Type:   types.TxAddLiquidity,
		To:     poolAddress,
		Amount: amountA,
		Payload: map[string]string{
			"amount_b": amountB.String(),
		},
	})
}

func (m *Manager) Stake(ctx context.Context, agentID, validatorAddress string, amount *big.Int) (*types.TransactionResult, error) {
	return m.ExecuteTransaction(ctx, agentID, types.AgentTransaction{
		Type:   types.TxStake,
		To:     validatorAddress,
		Amount: amount,
	})
}

func (m *Manager) Unstake(ctx context.Context, agentID, validatorAddress string, amount *big.Int) (*types.TransactionResult, error) {
	return m.ExecuteTransaction(ctx, agentID, types.AgentTransaction{
		Type:   types.TxUnstake,
		To:     validatorAddress,
		Amount: amount,
	})
}

func (m *Manager) VoteInGovernance(ctx context.Context, agentID, governanceAddress, proposalID, vote string) (*types.TransactionResult, error) {
	return m.ExecuteTransaction(ctx, agentID, types.AgentTransaction{
		Type:   types.TxGovernanceVote,
		To:     governanceAddress,
		Amount: new(big.Int),
		Payload: map[string]string{
			"proposal_id": proposalID,
			"vote":        vote,
		},
	})
}

func (m *Manager) TransferNFT(ctx context.Context, agentID, nftAddress, to string) (*types.TransactionResult, error) {
	return m.ExecuteTransaction(ctx, agentID, types.AgentTransaction{
		Type:   types.TxNFTTransfer,
		To:     to,
		Amount: new(big.Int),
		Payload: map[string]string{"nft": nftAddress},
	})
}

// PauseWallet transitions an active wallet to paused.
func (m *Manager) PauseWallet(ctx context.Context, agentID string) error {
	return m.transition(ctx, agentID, types.WalletActive, types.WalletPaused, types.EventAgentWalletPaused)
}

// ResumeWallet transitions a paused wallet back to active.
func (m *Manager) ResumeWallet(ctx context.Context, agentID string) error {
	return m.transition(ctx, agentID, types.WalletPaused, types.WalletActive, types.EventAgentWalletResumed)
}

// StopWallet moves a wallet to its terminal stopped state from either
// active or paused.
func (m *Manager) StopWallet(ctx context.Context, agentID string) error {
	w, err := m.store.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if w.Status == types.WalletStopped {
		return ErrInvalidTransition
	}
	w.Status = types.WalletStopped
	w.UpdatedAt = time.Now().UTC()
	if err := m.store.Update(ctx, w); err != nil {
		return err
	}
	m.publish(types.EventAgentWalletStopped, agentID, nil)
	return nil
}

// TriggerEmergencyStop drains the wallet balance to the rule wallet's
// emergency address and stops the wallet.
func (m *Manager) TriggerEmergencyStop(ctx context.Context, agentID string) (*types.TransactionResult, error) {
	w, err := m.store.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	p, err := m.Provider(agentID)
	if err != nil {
		return nil, err
	}
	rw, ok := p.(*custody.RuleWalletProvider)
	if !ok {
		return nil, ErrNotRuleConstrained
	}

	res, err := rw.TriggerEmergencyStop(ctx, w.Balance)
	if err != nil {
		return nil, err
	}

	w.Balance = new(big.Int)
	w.Status = types.WalletStopped
	w.UpdatedAt = time.Now().UTC()
	if err := m.store.Update(ctx, w); err != nil {
		return nil, err
	}

	m.logger.Warn().Str("agent_id", agentID).Str("tx_hash", res.TxHash).Msg("Emergency stop triggered")
	m.publish(types.EventEmergencyTriggered, agentID, map[string]any{"tx_hash": res.TxHash})
	return res, nil
}

// UpdateBalance replaces the wallet's tracked balance.
func (m *Manager) UpdateBalance(ctx context.Context, agentID string, balance *big.Int) error {
	w, err := m.store.Get(ctx, agentID)
	if err != nil {
		return err
	}
	w.Balance = types.CloneAmount(balance)
	w.UpdatedAt = time.Now().UTC()
	return m.store.Update(ctx, w)
}

func (m *Manager) checkMode(ctx context.Context, agentID string, mode types.CustodyMode) error {
	w, err := m.store.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if w.Mode != mode {
		return fmt.Errorf("%w: wallet is %s, provider is %s", ErrModeMismatch, w.Mode, mode)
	}
	return nil
}

func (m *Manager) bind(agentID string, p custody.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[agentID] = p
	m.logger.Info().Str("agent_id", agentID).Str("mode", string(p.Mode())).Msg("Custody provider bound")
}

func (m *Manager) transition(ctx context.Context, agentID string, from, to types.WalletStatus, evt types.EventType) error {
	w, err := m.store.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if w.Status != from {
		return ErrInvalidTransition
	}
	w.Status = to
	w.UpdatedAt = time.Now().UTC()
	if err := m.store.Update(ctx, w); err != nil {
		return err
	}
	m.publish(evt, agentID, nil)
	return nil
}

func (m *Manager) publish(t types.EventType, agentID string, data map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(types.Event{Type: t, AgentID: agentID, Data: data})
}
