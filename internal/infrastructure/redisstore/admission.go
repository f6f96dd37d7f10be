// Package redisstore backs the dedup admission guard with Redis, so the
// one-request-per-player invariant holds across coordinator instances.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/matchhub/matchhub/internal/application/dedup"
)

// reserveScript checks the pending reservation and the throttle window in
// one atomic step, re-arms the throttle on every attempt and reserves the
// slot only when both are clear. Returns the suggested wait in ms, 0 on
// success.
var reserveScript = redis.NewScript(`
local wait = 0
local pending = redis.call('PTTL', KEYS[1])
if pending > 0 then wait = pending end
local throttle = redis.call('PTTL', KEYS[2])
if throttle > 0 and throttle > wait then wait = throttle end
redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
if wait > 0 then return wait end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 0
`)

// releaseScript deletes the reservation only while it still belongs to
// the given request id.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

// AdmissionStore implements dedup.AdmissionStore on Redis.
type AdmissionStore struct {
	client redis.UniversalClient
	prefix string
}

func NewAdmissionStore(client redis.UniversalClient) *AdmissionStore {
	return &AdmissionStore{client: client, prefix: "matchhub:dedup"}
}

// NewClient dials Redis and verifies connectivity.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (s *AdmissionStore) TryReserve(ctx context.Context, req *dedup.PendingRequest, throttle time.Duration) (time.Duration, error) {
	ttl := time.Until(req.ExpiresAt)
	if ttl <= 0 {
		ttl = dedup.DefaultTTL
	}
	keys := []string{s.pendingKey(req.PlayerID), s.throttleKey(req.PlayerID)}
	waitMS, err := reserveScript.Run(ctx, s.client, keys,
		req.RequestID.String(), ttl.Milliseconds(), throttle.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("reserve: %w", err)
	}
	return time.Duration(waitMS) * time.Millisecond, nil
}

func (s *AdmissionStore) Release(ctx context.Context, playerID string, requestID uuid.UUID) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client,
		[]string{s.pendingKey(playerID)}, requestID.String()).Int64()
	if err != nil {
		return false, fmt.Errorf("release: %w", err)
	}
	return n == 1, nil
}

func (s *AdmissionStore) pendingKey(playerID string) string {
	return s.prefix + ":pending:" + playerID
}

func (s *AdmissionStore) throttleKey(playerID string) string {
	return s.prefix + ":throttle:" + playerID
}
