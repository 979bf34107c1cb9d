package types

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyBps(t *testing.T) {
	tests := []struct {
		name   string
		amount *big.Int
		bps    int64
		want   int64
	}{
		{"twenty percent", Nano(1_000_000_000), 2000, 200_000_000},
		{"half percent", Nano(1_000_000_000), 50, 5_000_000},
		{"truncates toward zero", Nano(3), 50, 0},
		{"full rate", Nano(12345), 10_000, 12345},
		{"zero rate", Nano(12345), 0, 0},
		{"zero amount", Nano(0), 2000, 0},
		{"nil amount", nil, 2000, 0},
		{"negative amount", Nano(-100), 2000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyBps(tt.amount, tt.bps)
			assert.Equal(t, tt.want, got.Int64())
		})
	}
}

func TestApplyBpsDoesNotMutateInput(t *testing.T) {
	amount := Nano(1_000_000_000)
	ApplyBps(amount, 2500)
	assert.Equal(t, int64(1_000_000_000), amount.Int64())
}

func TestCloneAmount(t *testing.T) {
	original := Nano(42)
	clone := CloneAmount(original)
	clone.Add(clone, Nano(1))
	require.Equal(t, int64(42), original.Int64())
	require.Equal(t, int64(43), clone.Int64())

	assert.Equal(t, int64(0), CloneAmount(nil).Int64())
}

func TestIsPositive(t *testing.T) {
	assert.True(t, IsPositive(Nano(1)))
	assert.False(t, IsPositive(Nano(0)))
	assert.False(t, IsPositive(Nano(-1)))
	assert.False(t, IsPositive(nil))
}
