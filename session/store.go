package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no live session matches the ID.
var ErrNotFound = errors.New("session not found")

// ErrExpired is returned when the session exists but is past its
// lifetime.
var ErrExpired = errors.New("session expired")

// ErrRefreshMismatch is returned by [Store.Rotate] when the presented
// refresh hash does not match the stored one. The session is revoked as a
// side effect: a mismatch means the token was already rotated or forged.
var ErrRefreshMismatch = errors.New("refresh hash mismatch")

// ErrRedisUnavailable wraps backend failures.
var ErrRedisUnavailable = errors.New("session backend unavailable")

// Store persists session records in Redis, indexed per identity so
// revoke-all is possible.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a [Store] with the given key namespace.
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) identityKey(identityID string) string {
	return s.prefix + ":i:" + identityID
}

// Save persists a session with the given TTL and indexes it under its
// identity.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, s.identityKey(sess.IdentityID), sess.SessionID)
		pipe.Expire(ctx, s.identityKey(sess.IdentityID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get retrieves a live session. Expired records are deleted on read.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID

	if sess.Expired(time.Now()) {
		_ = s.Delete(ctx, sessionID)
		return nil, ErrExpired
	}
	return sess, nil
}

// Delete removes one session and its index entry. Deleting an absent
// session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	identityID := ""
	if sess, derr := Decode(data); derr == nil {
		identityID = sess.IdentityID
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sessionID))
		if identityID != "" {
			pipe.SRem(ctx, s.identityKey(identityID), sessionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAll removes every session indexed under the identity and returns
// how many were revoked.
func (s *Store) DeleteAll(ctx context.Context, identityID string) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.identityKey(identityID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, s.identityKey(identityID))

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return len(ids), nil
}

// Sessions lists the live session IDs for an identity.
func (s *Store) Sessions(ctx context.Context, identityID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.identityKey(identityID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Rotate atomically compares the stored refresh hash with providedHash
// and swaps in nextHash. On mismatch the session is revoked and
// [ErrRefreshMismatch] returned; the updated session is returned on
// success.
func (s *Store) Rotate(ctx context.Context, sessionID string, providedHash, nextHash [32]byte) (*Session, error) {
	const maxRetries = 4
	key := s.key(sessionID)

	for i := 0; i < maxRetries; i++ {
		var rotated *Session
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			sess, err := Decode(data)
			if err != nil {
				return err
			}
			sess.SessionID = sessionID

			if sess.Expired(time.Now()) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					pipe.SRem(ctx, s.identityKey(sess.IdentityID), sessionID)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrExpired
			}

			if sess.RefreshHash != providedHash {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					pipe.SRem(ctx, s.identityKey(sess.IdentityID), sessionID)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrRefreshMismatch
			}

			ttl := time.Until(time.Unix(sess.ExpiresAt, 0))
			if ttl <= 0 {
				return ErrExpired
			}

			sess.RefreshHash = nextHash
			updated, err := Encode(sess)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			if err != nil {
				return err
			}
			rotated = sess
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrNotFound
			}
			if errors.Is(err, ErrExpired) || errors.Is(err, ErrRefreshMismatch) || errors.Is(err, ErrCorrupt) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return rotated, nil
	}

	return nil, ErrNotFound
}

// SetVerification writes the step-up verification window fields. The
// record's TTL is preserved. Per-request read/write without a
// cross-request lock is intentional: staleness is bounded by the window
// TTL.
func (s *Store) SetVerification(ctx context.Context, sessionID string, verified bool, verifiedAt int64, purpose string) error {
	key := s.key(sessionID)

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	sess.Verified = verified
	sess.VerifiedAt = verifiedAt
	sess.Purpose = purpose

	data, err := Encode(sess)
	if err != nil {
		return err
	}

	ttl := time.Until(time.Unix(sess.ExpiresAt, 0))
	if ttl <= 0 {
		return ErrExpired
	}

	if err := s.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
