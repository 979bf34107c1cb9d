// Package redisstore backs the custody hot paths with Redis: per-wallet
// daily spend buckets and MPC signing sessions with native TTL expiry.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tonfabric/agent-engine/pkg/custody"
)

// Client wraps Redis operations for the custody layer.
type Client struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewClient connects to Redis and verifies the connection.
func NewClient(redisURL string, logger zerolog.Logger) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info().Str("redis_url", redisURL).Msg("Connected to Redis successfully")

	return &Client{
		client: client,
		logger: logger.With().Str("component", "redisstore").Logger(),
	}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// reserveScript checks the daily bucket against the limit and increments it in
// one round trip so concurrent submissions cannot overshoot. Amounts cross to
// Redis as int64; values that do not fit are rejected before the call.
var reserveScript = redis.NewScript(`
local spent = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if limit > 0 and spent + amount > limit then
	return 0
end
redis.call('INCRBY', KEYS[1], amount)
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 1
`)

// SpendLedger is a custody.SpendLedger over Redis daily buckets.
type SpendLedger struct {
	c *Client
}

// NewSpendLedger returns a spend ledger backed by the client.
func NewSpendLedger(c *Client) *SpendLedger {
	return &SpendLedger{c: c}
}

// Buckets live two days so a bucket never expires mid-day in any timezone
// math, then Redis reclaims them.
const spendBucketTTLSeconds = 2 * 24 * 60 * 60

func spendKey(walletID, day string) string {
	return fmt.Sprintf("spend:%s:%s", walletID, day)
}

func (l *SpendLedger) Reserve(ctx context.Context, walletID, day string, amount, limit *big.Int) (bool, error) {
	amt, err := int64Arg(amount)
	if err != nil {
		return false, fmt.Errorf("failed to reserve daily spend: %w", err)
	}
	lim, err := int64Arg(limit)
	if err != nil {
		return false, fmt.Errorf("failed to reserve daily spend: %w", err)
	}
	ok, err := reserveScript.Run(ctx, l.c.client,
		[]string{spendKey(walletID, day)},
		amt, lim, spendBucketTTLSeconds,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to reserve daily spend: %w", err)
	}
	if ok != 1 {
		l.c.logger.Debug().
			Str("wallet", walletID).
			Str("day", day).
			Msg("Daily spend reservation rejected")
		return false, nil
	}
	return true, nil
}

func (l *SpendLedger) Release(ctx context.Context, walletID, day string, amount *big.Int) error {
	amt, err := int64Arg(amount)
	if err != nil {
		return fmt.Errorf("failed to release daily spend: %w", err)
	}
	if err := l.c.client.DecrBy(ctx, spendKey(walletID, day), amt).Err(); err != nil {
		return fmt.Errorf("failed to release daily spend: %w", err)
	}
	return nil
}

// int64Arg converts a nanoTON amount for Redis, rejecting values that would
// silently truncate. A nil amount counts as zero.
func int64Arg(v *big.Int) (int64, error) {
	if v == nil {
		return 0, nil
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("amount %s overflows int64", v.String())
	}
	return v.Int64(), nil
}

// SessionStore is a custody.SessionStore with Redis TTL expiry. The MPC
// provider still checks ExpiresAt on read; the TTL just reclaims storage.
type SessionStore struct {
	c *Client
}

// NewSessionStore returns a session store backed by the client.
func NewSessionStore(c *Client) *SessionStore {
	return &SessionStore{c: c}
}

func sessionKey(id string) string {
	return "mpc_session:" + id
}

func (s *SessionStore) Put(ctx context.Context, sess *custody.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.c.client.Set(ctx, sessionKey(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*custody.Session, error) {
	data, err := s.c.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var sess custody.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := s.c.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
