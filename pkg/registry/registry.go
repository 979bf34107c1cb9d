// Package registry is the authoritative directory of agents: one entry per
// agent with performance metrics, risk score, status, and a tamper-evident
// append-only audit trail.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tonfabric/agent-engine/pkg/events"
	"github.com/tonfabric/agent-engine/pkg/types"
)

// AgentStatus is the registry-level status of an agent.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentPaused    AgentStatus = "paused"
	AgentStopped   AgentStatus = "stopped"
	AgentSuspended AgentStatus = "suspended"
)

// Risk score bounds and the default assigned at registration.
const (
	RiskScoreMin     = 0
	RiskScoreMax     = 1000
	RiskScoreDefault = 500
)

// PerformanceMetrics is the registry's view of an agent's results.
type PerformanceMetrics struct {
	TotalPnL        *big.Int `json:"total_pnl"`
	WinRateBps      int64    `json:"win_rate_bps"`
	TotalExecutions int      `json:"total_executions"`
}

// AuditEntry describes one state mutation. Entries are append-only and
// totally ordered per agent by Seq; the timestamp is advisory.
type AuditEntry struct {
	Seq       uint64    `json:"seq"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Before    string    `json:"before,omitempty"`
	After     string    `json:"after,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Entry is the authoritative record for one agent.
type Entry struct {
	AgentID         string             `json:"agent_id"`
	Owner           string             `json:"owner"`
	ContractAddress string             `json:"contract_address"`
	StrategyHash    string             `json:"strategy_hash"`
	RiskScore       int                `json:"risk_score"`
	Performance     PerformanceMetrics `json:"performance"`
	Status          AgentStatus        `json:"status"`
	AuditTrail      []AuditEntry       `json:"audit_trail"`
	Tags            []string           `json:"tags,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// QueryFilter is a conjunctive filter over registry entries.
type QueryFilter struct {
	Owner         string
	Status        AgentStatus
	MaxRiskScore  *int
	MinWinRateBps *int64
	Tag           string
	Offset        int
	Limit         int
}

// ChannelIdentity maps an external channel user (Telegram) to a wallet and
// the agents they operate. Convenience index, not authoritative state.
type ChannelIdentity struct {
	TelegramUserID int64     `json:"telegram_user_id"`
	WalletAddress  string    `json:"wallet_address"`
	AgentIDs       []string  `json:"agent_ids"`
	LinkedAt       time.Time `json:"linked_at"`
}

var (
	ErrAlreadyRegistered   = errors.New("registry: agent already registered")
	ErrAgentNotFound       = errors.New("registry: agent not found")
	ErrRiskScoreOutOfRange = fmt.Errorf("registry: risk score must be between %d and %d", RiskScoreMin, RiskScoreMax)
)

// Store persists registry entries. Get fails with ErrAgentNotFound.
type Store interface {
	Create(ctx context.Context, e *Entry) error
	Get(ctx context.Context, agentID string) (*Entry, error)
	Update(ctx context.Context, e *Entry) error
	List(ctx context.Context) ([]*Entry, error)
}

// Registry is the single source of truth for what agents exist and how they
// are doing. Every mutation appends exactly one audit entry.
type Registry struct {
	store  Store
	bus    *events.Bus
	logger zerolog.Logger

	// mu serializes mutations so audit sequence numbers are gapless and
	// totally ordered per agent.
	mu         sync.Mutex
	identities map[int64]*ChannelIdentity
}

func New(store Store, bus *events.Bus, logger zerolog.Logger) *Registry {
	return &Registry{
		store:      store,
		bus:        bus,
		logger:     logger.With().Str("component", "agent_registry").Logger(),
		identities: make(map[int64]*ChannelIdentity),
	}
}

// RegisterOptions carries optional registration data.
type RegisterOptions struct {
	Tags []string
}

// RegisterAgent creates the authoritative entry for a new agent with a
// deterministic hash of its strategy parameters, the default risk score,
// zeroed performance, active status, and one audit entry.
func (r *Registry) RegisterAgent(ctx context.Context, agentID, owner, contractAddress string, strategyParams map[string]string, opts RegisterOptions) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	e := &Entry{
		AgentID:         agentID,
		Owner:           owner,
		ContractAddress: contractAddress,
		StrategyHash:    ParamsHash(strategyParams),
		RiskScore:       RiskScoreDefault,
		Performance:     PerformanceMetrics{TotalPnL: new(big.Int)},
		Status:          AgentActive,
		Tags:            opts.Tags,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	appendAudit(e, "register", owner, "", string(AgentActive))

	if err := r.store.Create(ctx, e); err != nil {
		return nil, err
	}

	r.logger.Info().Str("agent_id", agentID).Str("owner", owner).Msg("Agent registered")
	r.publish(agentID, "register")
	return e, nil
}

// GetAgent returns the entry for an agent id.
func (r *Registry) GetAgent(ctx context.Context, agentID string) (*Entry, error) {
	return r.store.Get(ctx, agentID)
}

// UpdateStatus sets the agent's status and appends one audit entry.
func (r *Registry) UpdateStatus(ctx context.Context, agentID string, status AgentStatus, actor string) error {
	return r.mutate(ctx, agentID, "update_status", actor, func(e *Entry) (before, after string, err error) {
		before, after = string(e.Status), string(status)
		e.Status = status
		return before, after, nil
	})
}

// UpdatePerformance replaces the performance snapshot and appends one audit
// entry. Performance may still be appended after an agent is stopped.
func (r *Registry) UpdatePerformance(ctx context.Context, agentID string, perf PerformanceMetrics, actor string) error {
	return r.mutate(ctx, agentID, "update_performance", actor, func(e *Entry) (string, string, error) {
		before := fmt.Sprintf("pnl=%s win_rate_bps=%d", pnlString(e.Performance.TotalPnL), e.Performance.WinRateBps)
		after := fmt.Sprintf("pnl=%s win_rate_bps=%d", pnlString(perf.TotalPnL), perf.WinRateBps)
		e.Performance = perf
		return before, after, nil
	})
}

// UpdateRiskScore sets the agent's risk score, bounded to [0, 1000].
func (r *Registry) UpdateRiskScore(ctx context.Context, agentID string, score int, actor string) error {
	if score < RiskScoreMin || score > RiskScoreMax {
		return ErrRiskScoreOutOfRange
	}
	return r.mutate(ctx, agentID, "update_risk_score", actor, func(e *Entry) (string, string, error) {
		before, after := fmt.Sprintf("%d", e.RiskScore), fmt.Sprintf("%d", score)
		e.RiskScore = score
		return before, after, nil
	})
}

// UpdateStrategyHash recomputes and stores the parameter hash.
func (r *Registry) UpdateStrategyHash(ctx context.Context, agentID string, strategyParams map[string]string, actor string) error {
	return r.mutate(ctx, agentID, "update_strategy_hash", actor, func(e *Entry) (string, string, error) {
		before := e.StrategyHash
		e.StrategyHash = ParamsHash(strategyParams)
		return before, e.StrategyHash, nil
	})
}

// GetAuditTrail returns the agent's append-only audit trail.
func (r *Registry) GetAuditTrail(ctx context.Context, agentID string) ([]AuditEntry, error) {
	e, err := r.store.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	out := make([]AuditEntry, len(e.AuditTrail))
	copy(out, e.AuditTrail)
	return out, nil
}

// QueryAgents returns entries matching every set filter field, paginated by
// offset/limit, ordered by agent id for stable pages.
func (r *Registry) QueryAgents(ctx context.Context, f QueryFilter) ([]*Entry, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].AgentID < all[j].AgentID })

	var matched []*Entry
	for _, e := range all {
		if f.Owner != "" && e.Owner != f.Owner {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.MaxRiskScore != nil && e.RiskScore > *f.MaxRiskScore {
			continue
		}
		if f.MinWinRateBps != nil && e.Performance.WinRateBps < *f.MinWinRateBps {
			continue
		}
		if f.Tag != "" && !hasTag(e, f.Tag) {
			continue
		}
		matched = append(matched, e)
	}

	if f.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// GetTopPerformers returns the n active agents with the highest total PnL.
func (r *Registry) GetTopPerformers(ctx context.Context, n int) ([]*Entry, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var active []*Entry
	for _, e := range all {
		if e.Status == AgentActive {
			active = append(active, e)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		a, b := active[i].Performance.TotalPnL, active[j].Performance.TotalPnL
		if a == nil {
			a = new(big.Int)
		}
		if b == nil {
			b = new(big.Int)
		}
		return a.Cmp(b) > 0
	})
	if n > 0 && n < len(active) {
		active = active[:n]
	}
	return active, nil
}

// MapTelegramUser associates a Telegram user with a wallet address and adds
// the given agents to their operated set.
func (r *Registry) MapTelegramUser(telegramUserID int64, walletAddress string, agentIDs ...string) *ChannelIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.identities[telegramUserID]
	if !ok {
		id = &ChannelIdentity{
			TelegramUserID: telegramUserID,
			WalletAddress:  walletAddress,
			LinkedAt:       time.Now().UTC(),
		}
		r.identities[telegramUserID] = id
	}
	id.WalletAddress = walletAddress
	for _, agentID := range agentIDs {
		if !containsString(id.AgentIDs, agentID) {
			id.AgentIDs = append(id.AgentIDs, agentID)
		}
	}
	return id
}

// TelegramIdentity returns the channel identity for a Telegram user, if any.
func (r *Registry) TelegramIdentity(telegramUserID int64) (*ChannelIdentity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.identities[telegramUserID]
	return id, ok
}

// mutate loads the entry, applies fn, appends exactly one audit entry, and
// persists — all under the registry lock so sequence numbers never collide.
func (r *Registry) mutate(ctx context.Context, agentID, action, actor string, fn func(e *Entry) (before, after string, err error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.store.Get(ctx, agentID)
	if err != nil {
		return err
	}
	before, after, err := fn(e)
	if err != nil {
		return err
	}
	appendAudit(e, action, actor, before, after)
	e.UpdatedAt = time.Now().UTC()
	if err := r.store.Update(ctx, e); err != nil {
		return err
	}
	r.publish(agentID, action)
	return nil
}

func appendAudit(e *Entry, action, actor, before, after string) {
	var seq uint64 = 1
	if n := len(e.AuditTrail); n > 0 {
		seq = e.AuditTrail[n-1].Seq + 1
	}
	e.AuditTrail = append(e.AuditTrail, AuditEntry{
		Seq:       seq,
		Action:    action,
		Actor:     actor,
		Before:    before,
		After:     after,
		Timestamp: time.Now().UTC(),
	})
}

func (r *Registry) publish(agentID, action string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(types.Event{
		Type:    types.EventRegistryUpdated,
		AgentID: agentID,
		Data:    map[string]any{"action": action},
	})
}

func hasTag(e *Entry, tag string) bool {
	return containsString(e.Tags, tag)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func pnlString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
