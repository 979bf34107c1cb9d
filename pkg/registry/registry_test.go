package registry_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonfabric/agent-engine/pkg/registry"
	"github.com/tonfabric/agent-engine/pkg/store/memory"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New(memory.NewRegistryStore(), nil, zerolog.Nop())
}

func register(t *testing.T, r *registry.Registry, agentID string, tags ...string) *registry.Entry {
	t.Helper()
	e, err := r.RegisterAgent(context.Background(), agentID, "EQOwner", "EQContract",
		map[string]string{"pair": "TON/USDT"}, registry.RegisterOptions{Tags: tags})
	require.NoError(t, err)
	return e
}

func TestRegisterAgent(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	e := register(t, r, "agent-1", "dca")
	assert.Equal(t, registry.AgentActive, e.Status)
	assert.Equal(t, registry.RiskScoreDefault, e.RiskScore)
	assert.Zero(t, e.Performance.TotalPnL.Sign())
	require.Len(t, e.AuditTrail, 1)
	assert.Equal(t, uint64(1), e.AuditTrail[0].Seq)
	assert.Equal(t, "register", e.AuditTrail[0].Action)

	got, err := r.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, e.AgentID, got.AgentID)
	assert.Equal(t, e.StrategyHash, got.StrategyHash)

	_, err = r.RegisterAgent(ctx, "agent-1", "EQOwner", "EQContract", nil, registry.RegisterOptions{})
	assert.ErrorIs(t, err, registry.ErrAlreadyRegistered)

	_, err = r.GetAgent(ctx, "nobody")
	assert.ErrorIs(t, err, registry.ErrAgentNotFound)
}

func TestAuditTrailIsGapless(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	register(t, r, "agent-1")

	require.NoError(t, r.UpdateStatus(ctx, "agent-1", registry.AgentPaused, "owner"))
	require.NoError(t, r.UpdateRiskScore(ctx, "agent-1", 700, "admin"))
	require.NoError(t, r.UpdatePerformance(ctx, "agent-1", registry.PerformanceMetrics{
		TotalPnL:        big.NewInt(42),
		WinRateBps:      5000,
		TotalExecutions: 2,
	}, "engine"))
	require.NoError(t, r.UpdateStrategyHash(ctx, "agent-1", map[string]string{"pair": "TON/USDC"}, "owner"))

	trail, err := r.GetAuditTrail(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, trail, 5, "one entry per mutation, register included")
	for i, entry := range trail {
		assert.Equal(t, uint64(i+1), entry.Seq, "sequence numbers must be gapless from 1")
	}
	assert.Equal(t, "update_status", trail[1].Action)
	assert.Equal(t, string(registry.AgentActive), trail[1].Before)
	assert.Equal(t, string(registry.AgentPaused), trail[1].After)
	assert.Equal(t, "500", trail[2].Before)
	assert.Equal(t, "700", trail[2].After)
}

func TestUpdateRiskScoreBounds(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	register(t, r, "agent-1")

	assert.ErrorIs(t, r.UpdateRiskScore(ctx, "agent-1", 1500, "admin"), registry.ErrRiskScoreOutOfRange)
	assert.ErrorIs(t, r.UpdateRiskScore(ctx, "agent-1", -1, "admin"), registry.ErrRiskScoreOutOfRange)

	// Rejected updates leave no audit entry behind.
	trail, err := r.GetAuditTrail(ctx, "agent-1")
	require.NoError(t, err)
	assert.Len(t, trail, 1)

	assert.NoError(t, r.UpdateRiskScore(ctx, "agent-1", registry.RiskScoreMin, "admin"))
	assert.NoError(t, r.UpdateRiskScore(ctx, "agent-1", registry.RiskScoreMax, "admin"))
}

func TestQueryAgents(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	register(t, r, "agent-1", "dca")
	register(t, r, "agent-2", "rebalance")
	register(t, r, "agent-3", "dca")
	require.NoError(t, r.UpdateStatus(ctx, "agent-2", registry.AgentPaused, "owner"))
	require.NoError(t, r.UpdateRiskScore(ctx, "agent-3", 900, "admin"))
	require.NoError(t, r.UpdatePerformance(ctx, "agent-1", registry.PerformanceMetrics{
		TotalPnL: big.NewInt(10), WinRateBps: 8000, TotalExecutions: 5,
	}, "engine"))

	byStatus, err := r.QueryAgents(ctx, registry.QueryFilter{Status: registry.AgentPaused})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "agent-2", byStatus[0].AgentID)

	maxRisk := 500
	byRisk, err := r.QueryAgents(ctx, registry.QueryFilter{MaxRiskScore: &maxRisk})
	require.NoError(t, err)
	assert.Len(t, byRisk, 2)

	minWin := int64(7000)
	byWin, err := r.QueryAgents(ctx, registry.QueryFilter{MinWinRateBps: &minWin})
	require.NoError(t, err)
	require.Len(t, byWin, 1)
	assert.Equal(t, "agent-1", byWin[0].AgentID)

	byTag, err := r.QueryAgents(ctx, registry.QueryFilter{Tag: "dca"})
	require.NoError(t, err)
	assert.Len(t, byTag, 2)

	// Conjunctive: dca AND paused matches nothing.
	none, err := r.QueryAgents(ctx, registry.QueryFilter{Tag: "dca", Status: registry.AgentPaused})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestQueryAgentsPagination(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	register(t, r, "agent-1")
	register(t, r, "agent-2")
	register(t, r, "agent-3")

	page, err := r.QueryAgents(ctx, registry.QueryFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "agent-2", page[0].AgentID, "pages are ordered by agent id")

	past, err := r.QueryAgents(ctx, registry.QueryFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestGetTopPerformers(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	perf := func(agentID string, pnl int64) {
		require.NoError(t, r.UpdatePerformance(ctx, agentID, registry.PerformanceMetrics{
			TotalPnL: big.NewInt(pnl),
		}, "engine"))
	}
	register(t, r, "agent-1")
	register(t, r, "agent-2")
	register(t, r, "agent-3")
	perf("agent-1", 100)
	perf("agent-2", 300)
	perf("agent-3", 200)
	require.NoError(t, r.UpdateStatus(ctx, "agent-2", registry.AgentStopped, "owner"))

	top, err := r.GetTopPerformers(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	// agent-2 leads on PnL but is no longer active.
	assert.Equal(t, "agent-3", top[0].AgentID)
	assert.Equal(t, "agent-1", top[1].AgentID)
}

func TestMapTelegramUser(t *testing.T) {
	r := newRegistry(t)

	id := r.MapTelegramUser(42, "EQWallet", "agent-1")
	assert.Equal(t, []string{"agent-1"}, id.AgentIDs)

	// Linking again merges agents and keeps the latest wallet.
	id = r.MapTelegramUser(42, "EQWallet2", "agent-1", "agent-2")
	assert.Equal(t, "EQWallet2", id.WalletAddress)
	assert.Equal(t, []string{"agent-1", "agent-2"}, id.AgentIDs)

	got, ok := r.TelegramIdentity(42)
	require.True(t, ok)
	assert.Equal(t, id.WalletAddress, got.WalletAddress)

	_, ok = r.TelegramIdentity(7)
	assert.False(t, ok)
}

func TestParamsHash(t *testing.T) {
	a := registry.ParamsHash(map[string]string{"pair": "TON/USDT", "size": "1"})
	b := registry.ParamsHash(map[string]string{"size": "1", "pair": "TON/USDT"})
	assert.Equal(t, a, b, "hash must not depend on key order")

	c := registry.ParamsHash(map[string]string{"pair": "TON/USDT", "size": "2"})
	assert.NotEqual(t, a, c)

	assert.Len(t, registry.ParamsHash(nil), 2+64)
}
