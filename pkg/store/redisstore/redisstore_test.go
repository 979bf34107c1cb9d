package redisstore

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt64Arg(t *testing.T) {
	v, err := int64Arg(nil)
	require.NoError(t, err)
	assert.Zero(t, v)

	v, err = int64Arg(big.NewInt(5_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000_000), v)

	// Anything beyond int64 must error instead of truncating.
	huge := new(big.Int).Lsh(big.NewInt(1), 70)
	_, err = int64Arg(huge)
	assert.ErrorContains(t, err, "overflows int64")

	_, err = int64Arg(new(big.Int).Neg(huge))
	assert.ErrorContains(t, err, "overflows int64")
}
