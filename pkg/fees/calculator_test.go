package fees

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonfabric/agent-engine/pkg/types"
)

func testConfig() Config {
	return Config{
		PerformanceFeeBps:        2000,
		ProtocolFeeBps:           50,
		MarketplaceCommissionBps: 250,
		ReferralCommissionBps:    1000,
		TreasuryAddress:          "EQTreasury",
		ProtocolAddress:          "EQProtocol",
	}
}

func TestPerformanceFee(t *testing.T) {
	calc := NewCalculator(testConfig())

	assert.Equal(t, int64(200), calc.PerformanceFee(types.Nano(1000)).Int64())
	assert.Equal(t, int64(0), calc.PerformanceFee(types.Nano(0)).Int64())
	assert.Equal(t, int64(0), calc.PerformanceFee(types.Nano(-1000)).Int64())
	assert.Equal(t, int64(0), calc.PerformanceFee(nil).Int64())
}

func TestPerformanceFeeFloorZeroes(t *testing.T) {
	cfg := testConfig()
	cfg.MinPerformanceFee = big.NewInt(500)
	calc := NewCalculator(cfg)

	// 20% of 1000 = 200 < 500: nothing is charged, not raised.
	assert.Equal(t, int64(0), calc.PerformanceFee(types.Nano(1000)).Int64())
	assert.Equal(t, int64(600), calc.PerformanceFee(types.Nano(3000)).Int64())
}

func TestProtocolFeeFloorRaises(t *testing.T) {
	cfg := testConfig()
	cfg.MinProtocolFee = big.NewInt(10)
	calc := NewCalculator(cfg)

	// 0.5% of 1000 = 5 < 10: raised to the floor.
	assert.Equal(t, int64(10), calc.ProtocolFee(types.Nano(1000)).Int64())
	assert.Equal(t, int64(50), calc.ProtocolFee(types.Nano(100_000)).Int64())
	// Non-positive volume charges nothing, floor or not.
	assert.Equal(t, int64(0), calc.ProtocolFee(types.Nano(0)).Int64())
}

func TestProtocolFeeMonotonic(t *testing.T) {
	calc := NewCalculator(testConfig())
	prev := new(big.Int)
	for _, v := range []int64{1, 100, 10_000, 1_000_000, 123_456_789} {
		fee := calc.ProtocolFee(types.Nano(v))
		assert.GreaterOrEqual(t, fee.Cmp(prev), 0, "fee must not decrease as volume grows")
		prev = fee
	}
}

func TestSplitPerformanceSumsExactly(t *testing.T) {
	tests := []struct {
		name     string
		fee      int64
		referral int64
	}{
		{"even split", 10_000, 1000},
		{"dust to creator", 10_007, 1003},
		{"no referral", 999, 0},
		{"tiny fee", 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := splitPerformance(big.NewInt(tt.fee), big.NewInt(tt.referral))

			sum := new(big.Int).Add(d.Protocol, d.Treasury)
			sum.Add(sum, d.Referral)
			sum.Add(sum, d.Creator)
			require.Equal(t, tt.fee, sum.Int64(), "split must sum to the fee exactly")
			assert.GreaterOrEqual(t, d.Creator.Sign(), 0)

			remainder := tt.fee - tt.referral
			assert.Equal(t, remainder*3000/10_000, d.Protocol.Int64())
			assert.Equal(t, remainder*4000/10_000, d.Treasury.Int64())
		})
	}
}

func TestSplitMarketplaceSumsExactly(t *testing.T) {
	for _, commission := range []int64{10_000, 10_001, 7, 1} {
		d := splitMarketplace(big.NewInt(commission))
		sum := new(big.Int).Add(d.Protocol, d.Creator)
		require.Equal(t, commission, sum.Int64())
		assert.Equal(t, commission*3000/10_000, d.Protocol.Int64())
		assert.Zero(t, d.Treasury.Sign())
		assert.Zero(t, d.Referral.Sign())
	}
}
