package types

import (
	"math/big"
	"time"
)

// MarketData is a pull-based market snapshot handed to each execution.
// Price is nanoTON per whole token unit; Liquidity is pool depth in nanoTON.
type MarketData struct {
	Pair       string            `json:"pair"`
	Price      *big.Int          `json:"price"`
	Liquidity  *big.Int          `json:"liquidity"`
	Extra      map[string]string `json:"extra,omitempty"`
	ObservedAt time.Time         `json:"observed_at"`
}

// DecisionAction is the trade intent proposed by a decision layer.
type DecisionAction string

const (
	ActionBuy  DecisionAction = "buy"
	ActionSell DecisionAction = "sell"
	ActionHold DecisionAction = "hold"
)

// Decision is the opaque output of an external decision layer (typically an
// LLM). It is untrusted input: the executor and custody layers apply their
// own risk checks before anything reaches a chain backend.
type Decision struct {
	Action        DecisionAction `json:"action"`
	Amount        *big.Int       `json:"amount,omitempty"`
	ConfidenceBps int64          `json:"confidence_bps"`
	Rationale     string         `json:"rationale,omitempty"`
}
