// The simulate command seeds one agent end to end against the in-memory
// stores and the simulated chain backend, runs its strategy a few cycles,
// settles fees, and prints the resulting registry entry.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"

	"github.com/tonfabric/agent-engine/internal/chain"
	"github.com/tonfabric/agent-engine/internal/logger"
	"github.com/tonfabric/agent-engine/pkg/custody"
	"github.com/tonfabric/agent-engine/pkg/events"
	"github.com/tonfabric/agent-engine/pkg/fees"
	"github.com/tonfabric/agent-engine/pkg/registry"
	"github.com/tonfabric/agent-engine/pkg/store/memory"
	"github.com/tonfabric/agent-engine/pkg/strategy"
	"github.com/tonfabric/agent-engine/pkg/types"
	"github.com/tonfabric/agent-engine/pkg/wallet"
)

func main() {
	cycles := flag.Int("cycles", 5, "Number of execution cycles to run")
	flag.Parse()

	lg := logger.New("info")
	ctx := context.Background()

	bus := events.NewBus(events.DefaultBuffer, lg)
	defer bus.Close()

	walletMgr := wallet.NewManager(memory.NewWalletStore(), bus, lg)
	reg := registry.New(memory.NewRegistryStore(), bus, lg)
	feeMgr := fees.NewManager(fees.Config{
		PerformanceFeeBps:        2000,
		ProtocolFeeBps:           50,
		MarketplaceCommissionBps: 250,
		ReferralCommissionBps:    1000,
		TreasuryAddress:          "EQTreasury",
		ProtocolAddress:          "EQProtocol",
	}, memory.NewFeeStore(), bus, lg)

	backend := chain.NewSimulatedBackend(lg)
	market := chain.NewSimulatedMarket(big.NewInt(5_000_000_000), 50)

	const (
		agentID = "agent-sim-1"
		owner   = "EQOwnerWallet"
		creator = "EQCreatorWallet"
		dex     = "EQDexRouter"
	)

	params := map[string]string{"pair": "TON/USDT", "amount": "1000000000"}
	if _, err := reg.RegisterAgent(ctx, agentID, owner, "EQAgentContract", params, registry.RegisterOptions{Tags: []string{"dca"}}); err != nil {
		log.Fatalf("Failed to register agent: %v", err)
	}

	if _, err := walletMgr.CreateWallet(ctx, agentID, "EQAgentContract", owner, types.CustodySmartContract, "v1"); err != nil {
		log.Fatalf("Failed to create wallet: %v", err)
	}
	err := walletMgr.SetupRuleConstrainedWallet(ctx, agentID, custody.RuleWalletConfig{
		TxSpendingLimit:    types.Nano(5_000_000_000),
		DailySpendingLimit: types.Nano(50_000_000_000),
		Whitelist:          []string{dex},
		AllowedTxTypes:     []types.TxType{types.TxSwap},
		EmergencyAddress:   owner,
	}, memory.NewSpendLedger(), backend)
	if err != nil {
		log.Fatalf("Failed to set up custody: %v", err)
	}
	if err := walletMgr.UpdateBalance(ctx, agentID, types.Nano(100_000_000_000)); err != nil {
		log.Fatalf("Failed to fund wallet: %v", err)
	}

	executor := strategy.NewExecutor(memory.NewStrategyStore(), walletMgr, bus,
		&strategy.FixedReturnModel{ReturnPerTx: types.Nano(50_000_000)}, lg)
	executor.RegisterLogic("dca", &strategy.DCALogic{
		DexAddress: dex,
		FromToken:  "TON",
		ToToken:    "USDT",
		Amount:     types.Nano(1_000_000_000),
	})

	st, err := executor.CreateStrategy(ctx, strategy.CreateParams{
		AgentID:      agentID,
		Type:         "dca",
		Params:       params,
		Risk:         strategy.RiskLow,
		MaxGasBudget: types.Nano(1_000_000_000),
		StopConditions: strategy.StopConditions{
			MaxExecutions:       *cycles * 2,
			StopOnGasExhaustion: true,
		},
	})
	if err != nil {
		log.Fatalf("Failed to create strategy: %v", err)
	}
	if err := executor.StartStrategy(ctx, st.ID); err != nil {
		log.Fatalf("Failed to start strategy: %v", err)
	}

	for i := 0; i < *cycles; i++ {
		w, err := walletMgr.GetWallet(ctx, agentID)
		if err != nil {
			log.Fatalf("Failed to load wallet: %v", err)
		}
		snapshot, err := market.Snapshot(ctx, "TON/USDT")
		if err != nil {
			log.Fatalf("Failed to load market: %v", err)
		}
		res, err := executor.Execute(ctx, st.ID, w.Balance, snapshot)
		if errors.Is(err, strategy.ErrNotRunning) || errors.Is(err, strategy.ErrGasExhausted) {
			lg.Info().Msg("Strategy stopped, ending simulation")
			break
		}
		if err != nil {
			log.Fatalf("Execution %d failed: %v", i+1, err)
		}
		lg.Info().
			Int("cycle", i+1).
			Bool("success", res.Success).
			Str("pnl", res.PnL.String()).
			Str("gas_used", res.GasUsed.String()).
			Msg("Cycle complete")
	}

	// Settle: registry performance snapshot and revenue distribution.
	final, err := executor.GetStrategy(ctx, st.ID)
	if err != nil {
		log.Fatalf("Failed to load strategy: %v", err)
	}
	err = reg.UpdatePerformance(ctx, agentID, registry.PerformanceMetrics{
		TotalPnL:        final.Performance.TotalPnL,
		WinRateBps:      final.Performance.WinRateBps,
		TotalExecutions: final.Performance.SuccessfulExecutions + final.Performance.FailedExecutions,
	}, "simulate")
	if err != nil {
		log.Fatalf("Failed to update performance: %v", err)
	}

	if final.Performance.TotalPnL.Sign() > 0 {
		dist, err := feeMgr.DistributeRevenue(ctx, agentID, final.Performance.TotalPnL, creator)
		if err != nil {
			log.Fatalf("Failed to distribute revenue: %v", err)
		}
		lg.Info().
			Str("total", dist.Total.String()).
			Str("protocol", dist.Protocol.String()).
			Str("treasury", dist.Treasury.String()).
			Str("creator", dist.Creator.String()).
			Msg("Revenue distributed")
	}

	entry, err := reg.GetAgent(ctx, agentID)
	if err != nil {
		log.Fatalf("Failed to load registry entry: %v", err)
	}
	out, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		log.Fatalf("Failed to render registry entry: %v", err)
	}
	fmt.Println(string(out))
}
