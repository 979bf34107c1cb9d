package custody

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tonfabric/agent-engine/pkg/types"
)

// signedMessagePrefix guards against a transaction digest doubling as any
// other signed payload.
const signedMessagePrefix = "tonfabric agent tx:\n"

// TxDigest produces the canonical 32-byte digest a custody protocol signs.
func TxDigest(tx types.AgentTransaction) []byte {
	amount := "0"
	if tx.Amount != nil {
		amount = tx.Amount.String()
	}
	body := fmt.Sprintf("%s|%s|%s|%s", tx.AgentID, tx.Type, tx.To, amount)
	msg := fmt.Sprintf("%s%d\n%s", signedMessagePrefix, len(body), body)
	return crypto.Keccak256([]byte(msg))
}
