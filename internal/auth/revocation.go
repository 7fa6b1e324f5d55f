package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRevocationStore marks logged-out session tokens as revoked in Redis.
// Markers expire together with the token they revoke.
type RedisRevocationStore struct {
	client redis.Cmdable
	now    func() time.Time
}

func NewRedisRevocationStore(client redis.Cmdable) *RedisRevocationStore {
	return &RedisRevocationStore{client: client, now: time.Now}
}

// getRevokedKey generates the Redis key for a revoked session marker
func getRevokedKey(tokenID string) string {
	return fmt.Sprintf("session:revoked:%s", tokenID)
}

// Revoke records tokenID as revoked until expiresAt. Already expired tokens
// need no marker.
func (r *RedisRevocationStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	if err := r.client.Set(ctx, getRevokedKey(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke session token: %w", err)
	}
	return nil
}

// IsRevoked reports whether tokenID has been revoked.
func (r *RedisRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, getRevokedKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return n > 0, nil
}
