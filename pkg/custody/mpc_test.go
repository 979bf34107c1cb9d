package custody

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonfabric/agent-engine/pkg/types"
)

func mpcConfig(threshold, parties int) MPCConfig {
	keys := make([]string, parties)
	for i := range keys {
		keys[i] = string(rune('a' + i))
	}
	return MPCConfig{Threshold: threshold, Parties: parties, PartyPublicKeys: keys}
}

func TestNewMPCProviderValidation(t *testing.T) {
	sessions := newMemSessions()
	backend := &fakeBackend{}

	tests := []struct {
		name string
		cfg  MPCConfig
	}{
		{"zero threshold", mpcConfig(0, 3)},
		{"threshold above parties", mpcConfig(4, 3)},
		{"key count mismatch", MPCConfig{Threshold: 2, Parties: 3, PartyPublicKeys: []string{"a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMPCProvider("agent-1", tt.cfg, sessions, backend)
			assert.Error(t, err)
		})
	}

	_, err := NewMPCProvider("agent-1", mpcConfig(2, 3), sessions, backend)
	assert.NoError(t, err)
}

func TestMPCThresholdFlow(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	p, err := NewMPCProvider("agent-1", mpcConfig(2, 3), newMemSessions(), backend)
	require.NoError(t, err)

	tx := swapTx(100)
	sessionID, err := p.InitiateSigningSession(ctx, tx)
	require.NoError(t, err)

	met, err := p.SubmitShare(ctx, sessionID, 0, []byte("share-0"))
	require.NoError(t, err)
	assert.False(t, met)

	// Finalizing below threshold keeps the session open.
	_, err = p.FinalizeAndSubmit(ctx, sessionID, tx)
	require.ErrorIs(t, err, ErrInsufficientShares)

	met, err = p.SubmitShare(ctx, sessionID, 2, []byte("share-2"))
	require.NoError(t, err)
	assert.True(t, met)

	res, err := p.FinalizeAndSubmit(ctx, sessionID, tx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, backend.submissions())

	// Sessions are single-use.
	_, err = p.FinalizeAndSubmit(ctx, sessionID, tx)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMPCShareValidation(t *testing.T) {
	ctx := context.Background()
	p, err := NewMPCProvider("agent-1", mpcConfig(2, 3), newMemSessions(), &fakeBackend{})
	require.NoError(t, err)

	sessionID, err := p.InitiateSigningSession(ctx, swapTx(100))
	require.NoError(t, err)

	_, err = p.SubmitShare(ctx, sessionID, -1, []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidPartyIndex)
	_, err = p.SubmitShare(ctx, sessionID, 3, []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidPartyIndex)
	_, err = p.SubmitShare(ctx, sessionID, 0, nil)
	assert.Error(t, err)
	_, err = p.SubmitShare(ctx, "no-such-session", 0, []byte("x"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMPCResubmitOverwritesShare(t *testing.T) {
	ctx := context.Background()
	p, err := NewMPCProvider("agent-1", mpcConfig(2, 3), newMemSessions(), &fakeBackend{})
	require.NoError(t, err)

	sessionID, err := p.InitiateSigningSession(ctx, swapTx(100))
	require.NoError(t, err)

	met, err := p.SubmitShare(ctx, sessionID, 1, []byte("first"))
	require.NoError(t, err)
	assert.False(t, met)

	// Same party again: still one distinct share, threshold not met.
	met, err = p.SubmitShare(ctx, sessionID, 1, []byte("second"))
	require.NoError(t, err)
	assert.False(t, met)
}

func TestMPCSessionExpiry(t *testing.T) {
	ctx := context.Background()
	sessions := newMemSessions()
	cfg := mpcConfig(1, 2)
	cfg.SessionWindow = time.Millisecond
	p, err := NewMPCProvider("agent-1", cfg, sessions, &fakeBackend{})
	require.NoError(t, err)

	sessionID, err := p.InitiateSigningSession(ctx, swapTx(100))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = p.SubmitShare(ctx, sessionID, 0, []byte("late"))
	require.ErrorIs(t, err, ErrSessionExpired)

	// The expired session was purged on access.
	s, err := sessions.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestMPCSelfCoordinatedSubmit(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	p, err := NewMPCProvider("agent-1", mpcConfig(2, 3), newMemSessions(), backend)
	require.NoError(t, err)

	res, err := p.Submit(ctx, swapTx(100))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, types.CustodyMPC, p.Mode())
	assert.Equal(t, 1, backend.submissions())
}

func TestMPCRejectsNegativeAmount(t *testing.T) {
	p, err := NewMPCProvider("agent-1", mpcConfig(1, 1), newMemSessions(), &fakeBackend{})
	require.NoError(t, err)

	_, err = p.InitiateSigningSession(context.Background(), swapTx(-5))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
