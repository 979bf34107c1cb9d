package fees

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tonfabric/agent-engine/pkg/events"
	"github.com/tonfabric/agent-engine/pkg/types"
)

// Manager combines the stateless calculators with the fee/creator ledger.
type Manager struct {
	calc   *Calculator
	store  Store
	bus    *events.Bus
	logger zerolog.Logger

	mu        sync.RWMutex
	referrers map[string]string // agentID -> referrer payout address

	// ledgerMu serializes creator ledger read-modify-write cycles so
	// concurrent credits and payouts for one address never lose updates.
	ledgerMu sync.Mutex
}

func NewManager(cfg Config, store Store, bus *events.Bus, logger zerolog.Logger) *Manager {
	return &Manager{
		calc:      NewCalculator(cfg),
		store:     store,
		bus:       bus,
		logger:    logger.With().Str("component", "fee_manager").Logger(),
		referrers: make(map[string]string),
	}
}

// Calculator exposes the stateless fee arithmetic.
func (m *Manager) Calculator() *Calculator { return m.calc }

// RegisterReferrer associates a referrer payout address with an agent.
func (m *Manager) RegisterReferrer(agentID, address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.referrers[agentID] = address
}

func (m *Manager) referrerOf(agentID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	addr, ok := m.referrers[agentID]
	return addr, ok && addr != ""
}

// DistributeRevenue computes the performance fee on profit and splits it:
// the referral cut comes off the top, then 30% protocol / 40% treasury /
// remainder to the creator. The creator (and referrer, if any) ledgers are
// credited and a performance FeeRecord is written against the treasury.
// A non-positive or below-floor fee distributes nothing.
func (m *Manager) DistributeRevenue(ctx context.Context, agentID string, profit *big.Int, creatorAddress string) (*RevenueDistribution, error) {
	fee := m.calc.PerformanceFee(profit)
	if fee.Sign() <= 0 {
		d := splitPerformance(new(big.Int), new(big.Int))
		return &d, nil
	}

	referral := new(big.Int)
	referrer, hasReferrer := m.referrerOf(agentID)
	if hasReferrer {
		referral = m.calc.ReferralCommission(fee)
	}

	dist := splitPerformance(fee, referral)

	if err := m.CreditCreator(ctx, creatorAddress, dist.Creator); err != nil {
		return nil, err
	}
	if hasReferrer && dist.Referral.Sign() > 0 {
		if err := m.CreditCreator(ctx, referrer, dist.Referral); err != nil {
			return nil, err
		}
	}

	if err := m.record(ctx, FeePerformance, agentID, fee, m.calc.cfg.TreasuryAddress); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("agent_id", agentID).
		Str("fee", fee.String()).
		Str("creator_share", dist.Creator.String()).
		Msg("Performance revenue distributed")
	return &dist, nil
}

// ProcessMarketplaceCommission computes the marketplace commission on a sale
// and splits it 30% protocol / 70% creator, with no referral cut.
func (m *Manager) ProcessMarketplaceCommission(ctx context.Context, agentID string, saleAmount *big.Int, creatorAddress string) (*RevenueDistribution, error) {
	commission := m.calc.MarketplaceCommission(saleAmount)
	if commission.Sign() <= 0 {
		d := splitMarketplace(new(big.Int))
		return &d, nil
	}

	dist := splitMarketplace(commission)
	if err := m.CreditCreator(ctx, creatorAddress, dist.Creator); err != nil {
		return nil, err
	}
	if err := m.record(ctx, FeeMarketplace, agentID, commission, m.calc.cfg.ProtocolAddress); err != nil {
		return nil, err
	}
	return &dist, nil
}

// CreditCreator adds amount to a creator's ledger, creating it lazily on
// first credit. Negative credits are rejected.
func (m *Manager) CreditCreator(ctx context.Context, address string, amount *big.Int) error {
	if amount != nil && amount.Sign() < 0 {
		return ErrNegativeCredit
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}

	m.ledgerMu.Lock()
	defer m.ledgerMu.Unlock()

	b, err := m.store.Creator(ctx, address)
	if err != nil {
		return err
	}
	if b == nil {
		b = &CreatorBalance{
			Address:       address,
			TotalEarned:   new(big.Int),
			PendingPayout: new(big.Int),
			TotalPaidOut:  new(big.Int),
		}
	}
	b.TotalEarned.Add(b.TotalEarned, amount)
	b.PendingPayout.Add(b.PendingPayout, amount)
	return m.store.SaveCreator(ctx, b)
}

// CreatorBalance returns the ledger for an address, or ErrCreatorUnknown.
func (m *Manager) CreatorBalance(ctx context.Context, address string) (*CreatorBalance, error) {
	b, err := m.store.Creator(ctx, address)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrCreatorUnknown
	}
	return b, nil
}

// ProcessPayout zeroes the creator's pending payout, moves it to
// totalPaidOut, stamps lastPayoutAt, and returns the paid amount. Nothing
// pending pays zero; that is not an error.
func (m *Manager) ProcessPayout(ctx context.Context, address string) (*big.Int, error) {
	m.ledgerMu.Lock()
	defer m.ledgerMu.Unlock()

	b, err := m.store.Creator(ctx, address)
	if err != nil {
		return nil, err
	}
	if b == nil || b.PendingPayout.Sign() == 0 {
		return new(big.Int), nil
	}

	paid := types.CloneAmount(b.PendingPayout)
	b.TotalPaidOut.Add(b.TotalPaidOut, paid)
	b.PendingPayout = new(big.Int)
	now := time.Now().UTC()
	b.LastPayoutAt = &now
	if err := m.store.SaveCreator(ctx, b); err != nil {
		return nil, err
	}

	m.logger.Info().Str("address", address).Str("amount", paid.String()).Msg("Creator payout processed")
	return paid, nil
}

// MarkCollected flips a fee record to collected once on-chain confirmation
// arrives and publishes fee.collected.
func (m *Manager) MarkCollected(ctx context.Context, feeID string) error {
	r, err := m.store.GetFee(ctx, feeID)
	if err != nil {
		return err
	}
	if r == nil {
		return ErrFeeNotFound
	}
	if r.Collected {
		return nil
	}
	now := time.Now().UTC()
	r.Collected = true
	r.CollectedAt = &now
	if err := m.store.UpdateFee(ctx, r); err != nil {
		return err
	}

	if m.bus != nil {
		m.bus.Publish(types.Event{
			Type:    types.EventFeeCollected,
			AgentID: r.AgentID,
			Data: map[string]any{
				"fee_id": r.FeeID,
				"type":   string(r.Type),
				"amount": r.Amount.String(),
			},
		})
	}
	return nil
}

// FeesByAgent lists all fee records charged against an agent.
func (m *Manager) FeesByAgent(ctx context.Context, agentID string) ([]*FeeRecord, error) {
	return m.store.FeesByAgent(ctx, agentID)
}

func (m *Manager) record(ctx context.Context, t FeeType, agentID string, amount *big.Int, recipient string) error {
	return m.store.SaveFee(ctx, &FeeRecord{
		FeeID:     uuid.NewString(),
		Type:      t,
		AgentID:   agentID,
		Amount:    types.CloneAmount(amount),
		Recipient: recipient,
		CreatedAt: time.Now().UTC(),
	})
}
