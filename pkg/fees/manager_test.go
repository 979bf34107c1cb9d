package fees_test

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonfabric/agent-engine/pkg/events"
	"github.com/tonfabric/agent-engine/pkg/fees"
	"github.com/tonfabric/agent-engine/pkg/store/memory"
	"github.com/tonfabric/agent-engine/pkg/types"
)

func newManager(t *testing.T, bus *events.Bus) *fees.Manager {
	t.Helper()
	cfg := fees.Config{
		PerformanceFeeBps:        2000,
		ProtocolFeeBps:           50,
		MarketplaceCommissionBps: 250,
		ReferralCommissionBps:    1000,
		TreasuryAddress:          "EQTreasury",
		ProtocolAddress:          "EQProtocol",
	}
	return fees.NewManager(cfg, memory.NewFeeStore(), bus, zerolog.Nop())
}

func ledgerInvariant(t *testing.T, b *fees.CreatorBalance) {
	t.Helper()
	sum := new(big.Int).Add(b.PendingPayout, b.TotalPaidOut)
	assert.Zero(t, sum.Cmp(b.TotalEarned), "pending + paid out must equal earned")
}

func TestDistributeRevenueWithoutReferrer(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil)

	// 20% of 10 TON profit is a 2 TON fee.
	dist, err := m.DistributeRevenue(ctx, "agent-1", types.Nano(10_000_000_000), "EQCreator")
	require.NoError(t, err)

	assert.Equal(t, int64(2_000_000_000), dist.Total.Int64())
	assert.Zero(t, dist.Referral.Sign())
	assert.Equal(t, int64(600_000_000), dist.Protocol.Int64())
	assert.Equal(t, int64(800_000_000), dist.Treasury.Int64())
	assert.Equal(t, int64(600_000_000), dist.Creator.Int64())

	b, err := m.CreatorBalance(ctx, "EQCreator")
	require.NoError(t, err)
	assert.Equal(t, dist.Creator, b.PendingPayout)
	ledgerInvariant(t, b)

	records, err := m.FeesByAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, fees.FeePerformance, records[0].Type)
	assert.Equal(t, "EQTreasury", records[0].Recipient)
	assert.Equal(t, dist.Total, records[0].Amount)
	assert.False(t, records[0].Collected)
}

func TestDistributeRevenueWithReferrer(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil)
	m.RegisterReferrer("agent-1", "EQReferrer")

	dist, err := m.DistributeRevenue(ctx, "agent-1", types.Nano(10_000_000_000), "EQCreator")
	require.NoError(t, err)

	// 10% of the 2 TON fee goes to the referrer off the top.
	assert.Equal(t, int64(200_000_000), dist.Referral.Int64())
	sum := new(big.Int).Add(dist.Protocol, dist.Treasury)
	sum.Add(sum, dist.Referral)
	sum.Add(sum, dist.Creator)
	assert.Zero(t, sum.Cmp(dist.Total))

	ref, err := m.CreatorBalance(ctx, "EQReferrer")
	require.NoError(t, err)
	assert.Equal(t, dist.Referral, ref.PendingPayout)
	ledgerInvariant(t, ref)
}

func TestDistributeRevenueNoProfitIsNoop(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil)

	for _, profit := range []*big.Int{nil, types.Nano(0), types.Nano(-5)} {
		dist, err := m.DistributeRevenue(ctx, "agent-1", profit, "EQCreator")
		require.NoError(t, err)
		assert.Zero(t, dist.Total.Sign())
	}

	_, err := m.CreatorBalance(ctx, "EQCreator")
	assert.ErrorIs(t, err, fees.ErrCreatorUnknown)
	records, err := m.FeesByAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestProcessMarketplaceCommission(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil)

	// 2.5% of a 100 TON sale is 2.5 TON commission, split 30/70.
	dist, err := m.ProcessMarketplaceCommission(ctx, "agent-1", types.Nano(100_000_000_000), "EQCreator")
	require.NoError(t, err)
	assert.Equal(t, int64(2_500_000_000), dist.Total.Int64())
	assert.Equal(t, int64(750_000_000), dist.Protocol.Int64())
	assert.Equal(t, int64(1_750_000_000), dist.Creator.Int64())

	records, err := m.FeesByAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, fees.FeeMarketplace, records[0].Type)
	assert.Equal(t, "EQProtocol", records[0].Recipient)
}

func TestCreditCreator(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil)

	err := m.CreditCreator(ctx, "EQCreator", big.NewInt(-1))
	assert.ErrorIs(t, err, fees.ErrNegativeCredit)

	// Zero and nil credits do not create a ledger entry.
	require.NoError(t, m.CreditCreator(ctx, "EQCreator", nil))
	require.NoError(t, m.CreditCreator(ctx, "EQCreator", big.NewInt(0)))
	_, err = m.CreatorBalance(ctx, "EQCreator")
	assert.ErrorIs(t, err, fees.ErrCreatorUnknown)

	require.NoError(t, m.CreditCreator(ctx, "EQCreator", big.NewInt(100)))
	require.NoError(t, m.CreditCreator(ctx, "EQCreator", big.NewInt(50)))
	b, err := m.CreatorBalance(ctx, "EQCreator")
	require.NoError(t, err)
	assert.Equal(t, int64(150), b.TotalEarned.Int64())
	assert.Equal(t, int64(150), b.PendingPayout.Int64())
	ledgerInvariant(t, b)
}

func TestCreditCreatorConcurrent(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil)

	// Many agents sharing one creator address credit it at once; every
	// single-unit credit must land.
	const credits = 200
	var wg sync.WaitGroup
	for i := 0; i < credits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, m.CreditCreator(ctx, "EQCreator", big.NewInt(1)))
		}()
	}
	wg.Wait()

	b, err := m.CreatorBalance(ctx, "EQCreator")
	require.NoError(t, err)
	assert.Equal(t, int64(credits), b.TotalEarned.Int64())
	assert.Equal(t, int64(credits), b.PendingPayout.Int64())
	ledgerInvariant(t, b)
}

func TestCreditCreatorConcurrentWithPayouts(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil)

	const credits = 100
	var wg sync.WaitGroup
	paid := make(chan *big.Int, credits)
	for i := 0; i < credits; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			require.NoError(t, m.CreditCreator(ctx, "EQCreator", big.NewInt(3)))
		}()
		go func() {
			defer wg.Done()
			p, err := m.ProcessPayout(ctx, "EQCreator")
			require.NoError(t, err)
			paid <- p
		}()
	}
	wg.Wait()
	close(paid)

	totalPaid := new(big.Int)
	for p := range paid {
		totalPaid.Add(totalPaid, p)
	}

	b, err := m.CreatorBalance(ctx, "EQCreator")
	require.NoError(t, err)
	assert.Equal(t, int64(3*credits), b.TotalEarned.Int64())
	assert.Zero(t, b.TotalPaidOut.Cmp(totalPaid), "paid out must equal the sum returned to callers")
	ledgerInvariant(t, b)
}

func TestProcessPayout(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil)

	// Unknown creator pays zero without error.
	paid, err := m.ProcessPayout(ctx, "EQNobody")
	require.NoError(t, err)
	assert.Zero(t, paid.Sign())

	require.NoError(t, m.CreditCreator(ctx, "EQCreator", big.NewInt(700)))

	paid, err = m.ProcessPayout(ctx, "EQCreator")
	require.NoError(t, err)
	assert.Equal(t, int64(700), paid.Int64())

	b, err := m.CreatorBalance(ctx, "EQCreator")
	require.NoError(t, err)
	assert.Zero(t, b.PendingPayout.Sign())
	assert.Equal(t, int64(700), b.TotalPaidOut.Int64())
	require.NotNil(t, b.LastPayoutAt)
	ledgerInvariant(t, b)

	// A second payout with nothing pending pays zero again.
	paid, err = m.ProcessPayout(ctx, "EQCreator")
	require.NoError(t, err)
	assert.Zero(t, paid.Sign())
}

func TestMarkCollected(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus(8, zerolog.Nop())
	defer bus.Close()
	ch, cancel := bus.Subscribe(types.EventFeeCollected)
	defer cancel()

	m := newManager(t, bus)

	assert.ErrorIs(t, m.MarkCollected(ctx, "missing"), fees.ErrFeeNotFound)

	_, err := m.DistributeRevenue(ctx, "agent-1", types.Nano(10_000_000_000), "EQCreator")
	require.NoError(t, err)
	records, err := m.FeesByAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, m.MarkCollected(ctx, records[0].FeeID))
	evt := <-ch
	assert.Equal(t, records[0].FeeID, evt.Data["fee_id"])
	assert.Equal(t, "agent-1", evt.AgentID)

	records, err = m.FeesByAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.True(t, records[0].Collected)
	require.NotNil(t, records[0].CollectedAt)

	// Marking a collected fee again is a no-op, not a second event.
	require.NoError(t, m.MarkCollected(ctx, records[0].FeeID))
	select {
	case evt := <-ch:
		t.Fatalf("unexpected second event: %+v", evt)
	default:
	}
}
