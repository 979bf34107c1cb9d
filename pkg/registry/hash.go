package registry

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/crypto"
)

// ParamsHash computes a deterministic, order-independent content hash of a
// strategy parameter set. Two maps with the same key/value pairs always hash
// identically regardless of insertion order.
func ParamsHash(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var canonical []byte
	for _, k := range keys {
		canonical = append(canonical, []byte(fmt.Sprintf("%d:%s=%d:%s;", len(k), k, len(params[k]), params[k]))...)
	}
	return fmt.Sprintf("0x%x", crypto.Keccak256(canonical))
}
