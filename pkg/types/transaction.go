package types

import (
	"math/big"
	"time"
)

// TxType identifies the kind of on-chain operation a transaction performs.
type TxType string

const (
	TxTransfer       TxType = "transfer"
	TxSwap           TxType = "swap"
	TxAddLiquidity   TxType = "add_liquidity"
	TxStake          TxType = "stake"
	TxUnstake        TxType = "unstake"
	TxGovernanceVote TxType = "governance_vote"
	TxNFTTransfer    TxType = "nft_transfer"
)

// CustodyMode selects which signing protocol guards an agent's wallet.
type CustodyMode string

const (
	CustodyNonCustodial  CustodyMode = "non-custodial"
	CustodyMPC           CustodyMode = "mpc"
	CustodySmartContract CustodyMode = "smart-contract"
)

// WalletStatus is the lifecycle state of an agent wallet.
type WalletStatus string

const (
	WalletActive  WalletStatus = "active"
	WalletPaused  WalletStatus = "paused"
	WalletStopped WalletStatus = "stopped"
)

// AgentTransaction is the generic transaction shape every custody provider
// accepts. Higher-level operations (swap, stake, ...) compile down to this.
type AgentTransaction struct {
	AgentID   string            `json:"agent_id"`
	Type      TxType            `json:"type"`
	To        string            `json:"to"`
	Amount    *big.Int          `json:"amount"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// TransactionResult is what a custody provider returns after submission.
type TransactionResult struct {
	TxHash      string    `json:"tx_hash"`
	Success     bool      `json:"success"`
	GasUsed     *big.Int  `json:"gas_used"`
	BlockSeqno  uint64    `json:"block_seqno,omitempty"`
	ExitCode    int32     `json:"exit_code"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// AgentWallet binds one agent to its custody protocol and tracks lifecycle.
// Wallets are never deleted, only stopped.
type AgentWallet struct {
	AgentID         string       `json:"agent_id"`
	ContractAddress string       `json:"contract_address"`
	OwnerAddress    string       `json:"owner_address"`
	Mode            CustodyMode  `json:"mode"`
	Version         string       `json:"version"`
	Balance         *big.Int     `json:"balance"`
	Status          WalletStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}
