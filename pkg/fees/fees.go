// Package fees holds the engine's fee arithmetic and the durable ledger of
// what has been charged and who is owed what. All rates are basis points
// over an integer nanoTON base; the calculators never touch floating point.
package fees

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// FeeType classifies a fee collection event.
type FeeType string

const (
	FeePerformance FeeType = "performance"
	FeeProtocol    FeeType = "protocol"
	FeeMarketplace FeeType = "marketplace"
	FeeReferral    FeeType = "referral"
	FeeGas         FeeType = "gas"
)

// FeeRecord is one fee collection event. It is created on every fee
// calculation greater than zero and mutated exactly once, to collected=true,
// when on-chain confirmation arrives.
type FeeRecord struct {
	FeeID       string     `json:"fee_id"`
	Type        FeeType    `json:"type"`
	AgentID     string     `json:"agent_id"`
	Amount      *big.Int   `json:"amount"`
	Recipient   string     `json:"recipient"`
	Collected   bool       `json:"collected"`
	CreatedAt   time.Time  `json:"created_at"`
	CollectedAt *time.Time `json:"collected_at,omitempty"`
}

// CreatorBalance is a creator's running payout ledger. The invariant
// PendingPayout + TotalPaidOut == TotalEarned holds at all times, and
// PendingPayout never goes negative.
type CreatorBalance struct {
	Address       string     `json:"address"`
	TotalEarned   *big.Int   `json:"total_earned"`
	PendingPayout *big.Int   `json:"pending_payout"`
	TotalPaidOut  *big.Int   `json:"total_paid_out"`
	LastPayoutAt  *time.Time `json:"last_payout_at,omitempty"`
}

// RevenueDistribution is the four-way split of a computed fee.
// Protocol + Treasury + Referral + Creator == Total always; Referral is zero
// when the agent has no registered referrer.
type RevenueDistribution struct {
	Total    *big.Int `json:"total"`
	Protocol *big.Int `json:"protocol"`
	Treasury *big.Int `json:"treasury"`
	Referral *big.Int `json:"referral"`
	Creator  *big.Int `json:"creator"`
}

var (
	ErrNegativeCredit = errors.New("fees: credit amount must be non-negative")
	ErrFeeNotFound    = errors.New("fees: fee record not found")
	ErrCreatorUnknown = errors.New("fees: creator not found")
)

// Store persists fee records and creator balances. Creator returns
// (nil, nil) for an address that has never been credited.
type Store interface {
	SaveFee(ctx context.Context, r *FeeRecord) error
	GetFee(ctx context.Context, feeID string) (*FeeRecord, error)
	UpdateFee(ctx context.Context, r *FeeRecord) error
	FeesByAgent(ctx context.Context, agentID string) ([]*FeeRecord, error)
	Creator(ctx context.Context, address string) (*CreatorBalance, error)
	SaveCreator(ctx context.Context, b *CreatorBalance) error
}
