// Package api exposes the engine over a small REST surface so dashboards and
// operator tooling can drive it without linking the Go packages.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tonfabric/agent-engine/pkg/custody"
	"github.com/tonfabric/agent-engine/pkg/fees"
	"github.com/tonfabric/agent-engine/pkg/registry"
	"github.com/tonfabric/agent-engine/pkg/strategy"
	"github.com/tonfabric/agent-engine/pkg/types"
	"github.com/tonfabric/agent-engine/pkg/wallet"
)

// Tracker is the scheduler hook: new scheduled strategies are handed to it.
type Tracker interface {
	Track(strategyID string)
}

// Server routes REST calls to the engine components.
type Server struct {
	addr     string
	wallets  *wallet.Manager
	executor *strategy.Executor
	feeMgr   *fees.Manager
	registry *registry.Registry
	tracker  Tracker

	backend  custody.Backend
	sessions custody.SessionStore
	ledger   custody.SpendLedger

	logger zerolog.Logger
}

// Deps carries everything the server needs.
type Deps struct {
	Wallets  *wallet.Manager
	Executor *strategy.Executor
	FeeMgr   *fees.Manager
	Registry *registry.Registry
	Tracker  Tracker
	Backend  custody.Backend
	Sessions custody.SessionStore
	Ledger   custody.SpendLedger
}

func NewServer(addr string, deps Deps, logger zerolog.Logger) *Server {
	return &Server{
		addr:     addr,
		wallets:  deps.Wallets,
		executor: deps.Executor,
		feeMgr:   deps.FeeMgr,
		registry: deps.Registry,
		tracker:  deps.Tracker,
		backend:  deps.Backend,
		sessions: deps.Sessions,
		ledger:   deps.Ledger,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/agents", s.handleRegisterAgent)
	mux.HandleFunc("GET /api/v1/agents", s.handleQueryAgents)
	mux.HandleFunc("GET /api/v1/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("GET /api/v1/agents/{id}/audit", s.handleAuditTrail)
	mux.HandleFunc("POST /api/v1/agents/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /api/v1/agents/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /api/v1/agents/{id}/stop", s.handleStop)
	mux.HandleFunc("POST /api/v1/agents/{id}/emergency", s.handleEmergency)
	mux.HandleFunc("GET /api/v1/agents/{id}/fees", s.handleAgentFees)
	mux.HandleFunc("POST /api/v1/strategies", s.handleCreateStrategy)
	mux.HandleFunc("GET /api/v1/strategies/{id}", s.handleGetStrategy)
	mux.HandleFunc("GET /api/v1/strategies/{id}/executions", s.handleExecutions)
	mux.HandleFunc("POST /api/v1/strategies/{id}/cancel", s.handleCancelStrategy)
	mux.HandleFunc("GET /api/v1/creators/{address}", s.handleCreatorBalance)
	mux.HandleFunc("POST /api/v1/creators/{address}/payout", s.handlePayout)
	mux.HandleFunc("GET /api/v1/top", s.handleTopPerformers)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info().Str("addr", s.addr).Msg("API listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type registerAgentRequest struct {
	AgentID         string            `json:"agent_id"`
	Owner           string            `json:"owner"`
	ContractAddress string            `json:"contract_address"`
	Mode            string            `json:"mode"`
	StrategyParams  map[string]string `json:"strategy_params"`
	Tags            []string          `json:"tags,omitempty"`

	// Rule-constrained wallet settings, nanoTON amounts as decimal strings.
	TxSpendingLimit    string   `json:"tx_spending_limit,omitempty"`
	DailySpendingLimit string   `json:"daily_spending_limit,omitempty"`
	Whitelist          []string `json:"whitelist,omitempty"`
	AllowedTxTypes     []string `json:"allowed_tx_types,omitempty"`
	MultiSigThreshold  string   `json:"multisig_threshold,omitempty"`
	EmergencyAddress   string   `json:"emergency_address,omitempty"`

	// MPC settings.
	MPCThreshold    int      `json:"mpc_threshold,omitempty"`
	MPCParties      int      `json:"mpc_parties,omitempty"`
	PartyPublicKeys []string `json:"party_public_keys,omitempty"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	mode := types.CustodyMode(req.Mode)
	switch mode {
	case types.CustodyMPC, types.CustodySmartContract:
	case types.CustodyNonCustodial:
		http.Error(w, "non-custodial wallets require an external signer and cannot be set up over the API", http.StatusUnprocessableEntity)
		return
	default:
		http.Error(w, "unknown custody mode", http.StatusBadRequest)
		return
	}

	entry, err := s.registry.RegisterAgent(ctx, req.AgentID, req.Owner, req.ContractAddress, req.StrategyParams, registry.RegisterOptions{Tags: req.Tags})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if _, err := s.wallets.CreateWallet(ctx, req.AgentID, req.ContractAddress, req.Owner, mode, "v1"); err != nil {
		writeDomainError(w, err)
		return
	}

	switch mode {
	case types.CustodyMPC:
		err = s.wallets.SetupMPC(ctx, req.AgentID, custody.MPCConfig{
			Threshold:       req.MPCThreshold,
			Parties:         req.MPCParties,
			PartyPublicKeys: req.PartyPublicKeys,
		}, s.sessions, s.backend)
	case types.CustodySmartContract:
		cfg := custody.RuleWalletConfig{
			Whitelist:        req.Whitelist,
			EmergencyAddress: req.EmergencyAddress,
		}
		if cfg.TxSpendingLimit, err = parseAmount(req.TxSpendingLimit); err == nil {
			cfg.DailySpendingLimit, err = parseAmount(req.DailySpendingLimit)
		}
		if err == nil {
			cfg.MultiSigThreshold, err = parseAmount(req.MultiSigThreshold)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, t := range req.AllowedTxTypes {
			cfg.AllowedTxTypes = append(cfg.AllowedTxTypes, types.TxType(t))
		}
		err = s.wallets.SetupRuleConstrainedWallet(ctx, req.AgentID, cfg, s.ledger, s.backend)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleQueryAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := registry.QueryFilter{
		Owner:  q.Get("owner"),
		Status: registry.AgentStatus(q.Get("status")),
		Tag:    q.Get("tag"),
		Offset: intParam(q.Get("offset"), 0),
		Limit:  intParam(q.Get("limit"), 50),
	}
	if raw := q.Get("max_risk_score"); raw != "" {
		v := intParam(raw, registry.RiskScoreMax)
		filter.MaxRiskScore = &v
	}
	if raw := q.Get("min_win_rate_bps"); raw != "" {
		v := int64(intParam(raw, 0))
		filter.MinWinRateBps = &v
	}
	entries, err := s.registry.QueryAgents(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	entry, err := s.registry.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	trail, err := s.registry.GetAuditTrail(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.wallets.PauseWallet, registry.AgentPaused)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.wallets.ResumeWallet, registry.AgentActive)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.wallets.StopWallet, registry.AgentStopped)
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error, status registry.AgentStatus) {
	agentID := r.PathValue("id")
	ctx := r.Context()
	if err := op(ctx, agentID); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.registry.UpdateStatus(ctx, agentID, status, "api"); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEmergency(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	ctx := r.Context()
	res, err := s.wallets.TriggerEmergencyStop(ctx, agentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.registry.UpdateStatus(ctx, agentID, registry.AgentStopped, "api"); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAgentFees(w http.ResponseWriter, r *http.Request) {
	records, err := s.feeMgr.FeesByAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type createStrategyRequest struct {
	AgentID       string            `json:"agent_id"`
	Type          string            `json:"type"`
	Params        map[string]string `json:"params"`
	Risk          string            `json:"risk"`
	MaxGasBudget  string            `json:"max_gas_budget"`
	MaxLoss       string            `json:"max_loss,omitempty"`
	MaxExecutions int               `json:"max_executions,omitempty"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	StopOnGas     bool              `json:"stop_on_gas_exhaustion"`
	IntervalSecs  int               `json:"interval_seconds,omitempty"`
	Start         bool              `json:"start"`
}

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var req createStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	budget, err := parseAmount(req.MaxGasBudget)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	maxLoss, err := parseAmount(req.MaxLoss)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	st, err := s.executor.CreateStrategy(ctx, strategy.CreateParams{
		AgentID:      req.AgentID,
		Type:         req.Type,
		Params:       req.Params,
		Risk:         strategy.RiskLevel(req.Risk),
		MaxGasBudget: budget,
		StopConditions: strategy.StopConditions{
			MaxLoss:             maxLoss,
			MaxExecutions:       req.MaxExecutions,
			ExpiresAt:           req.ExpiresAt,
			StopOnGasExhaustion: req.StopOnGas,
		},
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if req.Start {
		if err := s.executor.StartStrategy(ctx, st.ID); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.IntervalSecs > 0 {
		sched := strategy.Schedule{Interval: time.Duration(req.IntervalSecs) * time.Second}
		if err := s.executor.ScheduleStrategy(ctx, st.ID, sched); err != nil {
			writeDomainError(w, err)
			return
		}
		if s.tracker != nil {
			s.tracker.Track(st.ID)
		}
	}

	st, err = s.executor.GetStrategy(ctx, st.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	st, err := s.executor.GetStrategy(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	list, err := s.executor.Executions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCancelStrategy(w http.ResponseWriter, r *http.Request) {
	if err := s.executor.CancelStrategy(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreatorBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.feeMgr.CreatorBalance(r.Context(), r.PathValue("address"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handlePayout(w http.ResponseWriter, r *http.Request) {
	paid, err := s.feeMgr.ProcessPayout(r.Context(), r.PathValue("address"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"paid": paid.String()})
}

func (s *Server) handleTopPerformers(w http.ResponseWriter, r *http.Request) {
	n := intParam(r.URL.Query().Get("n"), 10)
	entries, err := s.registry.GetTopPerformers(r.Context(), n)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, errors.New("invalid amount, expected a decimal integer string")
	}
	return v, nil
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps engine sentinel errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrAgentNotFound),
		errors.Is(err, wallet.ErrNotFound),
		errors.Is(err, strategy.ErrNotFound),
		errors.Is(err, fees.ErrCreatorUnknown):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrAlreadyRegistered),
		errors.Is(err, wallet.ErrAlreadyExists),
		errors.Is(err, strategy.ErrAlreadyRunning),
		errors.Is(err, strategy.ErrExecutionInFlight):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrRiskScoreOutOfRange),
		errors.Is(err, wallet.ErrInvalidTransition),
		errors.Is(err, wallet.ErrNotRuleConstrained),
		errors.Is(err, strategy.ErrTerminalState),
		errors.Is(err, strategy.ErrNotRunning):
		status = http.StatusUnprocessableEntity
	}
	http.Error(w, err.Error(), status)
}
