package memory

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonfabric/agent-engine/pkg/custody"
)

func TestSpendLedgerReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	l := NewSpendLedger()
	limit := big.NewInt(1_000)

	ok, err := l.Reserve(ctx, "wallet-1", "2026-08-28", big.NewInt(700), limit)
	require.NoError(t, err)
	assert.True(t, ok)

	// 700 + 400 would exceed 1000.
	ok, err = l.Reserve(ctx, "wallet-1", "2026-08-28", big.NewInt(400), limit)
	require.NoError(t, err)
	assert.False(t, ok)

	// Releasing frees headroom again.
	require.NoError(t, l.Release(ctx, "wallet-1", "2026-08-28", big.NewInt(500)))
	ok, err = l.Reserve(ctx, "wallet-1", "2026-08-28", big.NewInt(400), limit)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSpendLedgerBucketsAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := NewSpendLedger()
	limit := big.NewInt(100)

	ok, err := l.Reserve(ctx, "wallet-1", "2026-08-28", big.NewInt(100), limit)
	require.NoError(t, err)
	require.True(t, ok)

	// Another day and another wallet each get a fresh bucket.
	ok, err = l.Reserve(ctx, "wallet-1", "2026-08-29", big.NewInt(100), limit)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.Reserve(ctx, "wallet-2", "2026-08-28", big.NewInt(100), limit)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSpendLedgerNoLimitAlwaysReserves(t *testing.T) {
	ctx := context.Background()
	l := NewSpendLedger()

	for i := 0; i < 3; i++ {
		ok, err := l.Reserve(ctx, "wallet-1", "2026-08-28", big.NewInt(1_000_000), nil)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestSpendLedgerReleaseFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	l := NewSpendLedger()

	require.NoError(t, l.Release(ctx, "wallet-1", "2026-08-28", big.NewInt(100)))
	ok, err := l.Reserve(ctx, "wallet-1", "2026-08-28", big.NewInt(100), big.NewInt(100))
	require.NoError(t, err)
	assert.True(t, ok, "an over-release must not create negative headroom credit")
}

func TestSpendLedgerConcurrentReservations(t *testing.T) {
	ctx := context.Background()
	l := NewSpendLedger()
	limit := big.NewInt(10)

	var wg sync.WaitGroup
	granted := make(chan struct{}, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Reserve(ctx, "wallet-1", "2026-08-28", big.NewInt(1), limit)
			require.NoError(t, err)
			if ok {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)
	assert.Len(t, granted, 10, "exactly the limit is granted under contention")
}

func TestSessionStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()

	sess := &custody.Session{
		ID:        "sess-1",
		AgentID:   "agent-1",
		TxDigest:  "0xdigest",
		Shares:    map[int][]byte{0: []byte("share-0")},
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, s.Put(ctx, sess))

	// Mutating the caller's copy must not reach the stored one.
	sess.Shares[1] = []byte("late")

	got, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Shares, 1)
	assert.Equal(t, []byte("share-0"), got.Shares[0])

	require.NoError(t, s.Delete(ctx, "sess-1"))
	got, err = s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, got, "unknown sessions read back as nil, not an error")
}

func TestSessionStorePutSweepsExpired(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()

	require.NoError(t, s.Put(ctx, &custody.Session{
		ID:        "stale",
		AgentID:   "agent-1",
		Shares:    map[int][]byte{0: []byte("share-0")},
		ExpiresAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, s.Put(ctx, &custody.Session{
		ID:        "live",
		AgentID:   "agent-1",
		ExpiresAt: time.Now().Add(time.Minute),
	}))

	// The abandoned session is gone even though nobody read it.
	got, err := s.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.Get(ctx, "live")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
