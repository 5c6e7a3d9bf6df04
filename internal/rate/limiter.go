package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter tuning parameters.
type Config struct {
	LockoutThreshold int
	LockoutWindow    time.Duration
	EnableIPThrottle bool
	MaxAttemptsPerIP int

	ResendCooldown      time.Duration
	DailyFailureCeiling int
}

// Limiter enforces the shared counters: failed-login counts per identity
// and per source address, one-time-code resend cadence, and the optional
// daily failed-code ceiling.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{redis: redisClient, config: cfg}
}

func loginKey(identityID string) string { return "gif:" + identityID }
func loginIPKey(ip string) string       { return "gip:" + ip }
func resendKey(identityID string) string {
	return "gor:" + identityID
}
func dailyOTPKey(identityID string) string { return "god:" + identityID }

// CheckLogin reports whether the identity+IP pair is still within its
// failed-attempt budget. It does not count anything.
func (l *Limiter) CheckLogin(ctx context.Context, identityID, ip string) error {
	if err := l.checkCounter(ctx, loginKey(identityID), l.config.LockoutThreshold); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, loginIPKey(ip), l.config.MaxAttemptsPerIP); err != nil {
			return err
		}
	}
	return nil
}

// RecordLoginFailure counts one failed attempt and returns the new
// per-identity total. The caller compares it to the lockout threshold:
// attempt increment and threshold check stay one atomic step.
func (l *Limiter) RecordLoginFailure(ctx context.Context, identityID, ip string) (int64, error) {
	count, err := l.incrementWithTTL(ctx, loginKey(identityID), l.config.LockoutWindow)
	if err != nil {
		return 0, err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if _, err := l.incrementWithTTL(ctx, loginIPKey(ip), l.config.LockoutWindow); err != nil {
			return 0, err
		}
	}

	return count, nil
}

// ResetLogin clears the failed-attempt counters after a successful
// authentication.
func (l *Limiter) ResetLogin(ctx context.Context, identityID, ip string) error {
	keys := []string{loginKey(identityID)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, loginIPKey(ip))
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CheckResend enforces the one-time-code resend cadence: at most one
// dispatch per cooldown window per identity.
func (l *Limiter) CheckResend(ctx context.Context, identityID string) error {
	if l.config.ResendCooldown <= 0 {
		return nil
	}
	ok, err := l.redis.SetNX(ctx, resendKey(identityID), 1, l.config.ResendCooldown).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if !ok {
		return ErrRateLimited
	}
	return nil
}

// RecordOTPFailure counts one failed code verification toward the daily
// ceiling. The counter survives challenge re-issues.
func (l *Limiter) RecordOTPFailure(ctx context.Context, identityID string) error {
	if l.config.DailyFailureCeiling <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, dailyOTPKey(identityID), 24*time.Hour)
	if err != nil {
		return err
	}
	if count > int64(l.config.DailyFailureCeiling) {
		return ErrRateLimited
	}
	return nil
}

// CheckOTPCeiling reports whether the identity may still be issued a
// challenge today.
func (l *Limiter) CheckOTPCeiling(ctx context.Context, identityID string) error {
	if l.config.DailyFailureCeiling <= 0 {
		return nil
	}
	return l.checkCounter(ctx, dailyOTPKey(identityID), l.config.DailyFailureCeiling)
}

func (l *Limiter) checkCounter(ctx context.Context, key string, max int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(max) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
