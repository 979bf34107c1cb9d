package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tonfabric/agent-engine/pkg/events"
	"github.com/tonfabric/agent-engine/pkg/types"
)

var (
	// WalletsCreated tracks custody wallets created by mode
	WalletsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_engine_wallets_created_total",
			Help: "The total number of agent wallets created",
		},
		[]string{"mode"},
	)

	// TransactionsSubmitted tracks transaction submissions by outcome
	TransactionsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_engine_transactions_total",
			Help: "The total number of agent transactions submitted",
		},
		[]string{"status"}, // submitted, failed
	)

	// StrategyExecutions tracks strategy executions by outcome
	StrategyExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_engine_strategy_executions_total",
			Help: "The total number of strategy executions",
		},
		[]string{"status"}, // success, failed
	)

	// StrategiesStopped tracks automatic strategy stops by reason
	StrategiesStopped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_engine_strategies_stopped_total",
			Help: "The total number of strategies stopped by a stop condition",
		},
		[]string{"reason"},
	)

	// FeesCollected tracks confirmed fee collections by type
	FeesCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_engine_fees_collected_total",
			Help: "The total number of confirmed fee collections",
		},
		[]string{"type"},
	)

	// EmergencyStops tracks emergency stop activations
	EmergencyStops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_engine_emergency_stops_total",
		Help: "The total number of emergency stops triggered",
	})

	// EventsDropped tracks events dropped by slow subscribers
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_engine_events_dropped_total",
		Help: "The total number of events dropped on full subscriber buffers",
	})
)

// Observe subscribes to the event bus and keeps the counters current. It
// returns when the bus closes, so run it in its own goroutine.
func Observe(bus *events.Bus) {
	ch, cancel := bus.Subscribe()
	defer cancel()

	for ev := range ch {
		switch ev.Type {
		case types.EventAgentWalletCreated:
			WalletsCreated.WithLabelValues(dataString(ev, "mode")).Inc()
		case types.EventTransactionSubmitted:
			TransactionsSubmitted.WithLabelValues("submitted").Inc()
		case types.EventTransactionFailed:
			TransactionsSubmitted.WithLabelValues("failed").Inc()
		case types.EventStrategyExecuted:
			status := "failed"
			if b, ok := ev.Data["success"].(bool); ok && b {
				status = "success"
			}
			StrategyExecutions.WithLabelValues(status).Inc()
		case types.EventStrategyStopped:
			StrategiesStopped.WithLabelValues(dataString(ev, "reason")).Inc()
		case types.EventFeeCollected:
			FeesCollected.WithLabelValues(dataString(ev, "type")).Inc()
		case types.EventEmergencyTriggered:
			EmergencyStops.Inc()
		}
	}
}

func dataString(ev types.Event, key string) string {
	if s, ok := ev.Data[key].(string); ok {
		return s
	}
	return "unknown"
}
