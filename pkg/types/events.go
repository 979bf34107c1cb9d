package types

import "time"

// EventType identifies an engine event on the shared stream.
type EventType string

const (
	EventAgentWalletCreated EventType = "agent.wallet_created"
	EventAgentWalletPaused  EventType = "agent.wallet_paused"
	EventAgentWalletResumed EventType = "agent.wallet_resumed"
	EventAgentWalletStopped EventType = "agent.wallet_stopped"

	EventStrategyCreated   EventType = "strategy.created"
	EventStrategyStarted   EventType = "strategy.started"
	EventStrategyExecuted  EventType = "strategy.executed"
	EventStrategyStopped   EventType = "strategy.stopped"
	EventStrategyCancelled EventType = "strategy.cancelled"

	EventTransactionSubmitted EventType = "transaction.submitted"
	EventTransactionFailed    EventType = "transaction.failed"

	EventFeeCollected       EventType = "fee.collected"
	EventRegistryUpdated    EventType = "registry.updated"
	EventEmergencyTriggered EventType = "emergency.triggered"
)

// Event is a single entry on the engine's shared event stream. Listeners are
// fire-and-forget: a bad or slow subscriber never blocks the emitting
// operation.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	AgentID    string         `json:"agent_id,omitempty"`
	StrategyID string         `json:"strategy_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
}
