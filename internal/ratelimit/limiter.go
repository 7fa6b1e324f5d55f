// Package ratelimit throttles unauthenticated endpoints with Redis counters.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the limiter windows.
type Options struct {
	// MaxRequests is the number of requests one IP may make per purpose
	// within Window.
	MaxRequests int
	Window      time.Duration
	// Cooldown is the minimum gap between two mails to the same address.
	Cooldown time.Duration
}

// Limiter implements a fixed-window per-IP counter and a per-email cooldown.
type Limiter struct {
	client redis.Cmdable
	opts   Options
}

func NewLimiter(client redis.Cmdable, opts Options) *Limiter {
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = 10
	}
	if opts.Window <= 0 {
		opts.Window = 15 * time.Minute
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 2 * time.Minute
	}
	return &Limiter{client: client, opts: opts}
}

func ipKey(ip, purpose string) string {
	return fmt.Sprintf("ratelimit:ip:%s:%s", purpose, ip)
}

func cooldownKey(email string) string {
	return fmt.Sprintf("ratelimit:email:%s", strings.ToLower(strings.TrimSpace(email)))
}

// CheckIPRateLimitWithPurpose reports whether ip has used up its window for purpose.
func (l *Limiter) CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error) {
	count, err := l.client.Get(ctx, ipKey(ip, purpose)).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read rate limit counter: %w", err)
	}
	return count >= l.opts.MaxRequests, nil
}

// RecordIPRequestWithPurpose counts one request. The window starts at the
// first request.
func (l *Limiter) RecordIPRequestWithPurpose(ctx context.Context, ip, purpose string) error {
	key := ipKey(ip, purpose)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.opts.Window).Err(); err != nil {
			return fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}
	return nil
}

// CheckEmailCooldown reports whether a mail was sent to email too recently.
func (l *Limiter) CheckEmailCooldown(ctx context.Context, email string) (bool, error) {
	n, err := l.client.Exists(ctx, cooldownKey(email)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check email cooldown: %w", err)
	}
	return n > 0, nil
}

// SetEmailCooldown starts the cooldown for email.
func (l *Limiter) SetEmailCooldown(ctx context.Context, email string) error {
	if err := l.client.Set(ctx, cooldownKey(email), "1", l.opts.Cooldown).Err(); err != nil {
		return fmt.Errorf("failed to set email cooldown: %w", err)
	}
	return nil
}
