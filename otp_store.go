package goIdentity

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	otpKeyPrefix          = "oc"
	otpChallengeVersion1  = 1
	otpChallengeNonceSize = 8
)

var (
	errOTPChallengeNotFound  = errors.New("otp challenge not found")
	errOTPChallengeExpired   = errors.New("otp challenge expired")
	errOTPChallengeExhausted = errors.New("otp challenge attempts exhausted")
	errOTPChallengeMismatch  = errors.New("otp code mismatch")
	errOTPChallengeBackend   = errors.New("otp challenge backend unavailable")
)

// otpChallenge is the live challenge record for one identity. Nonce ties
// a client-held challenge handle to this exact issuance: a re-issue
// rotates the nonce, so stale handles stop verifying. CodeHash is zero
// for the TOTP method, where the comparison runs against the identity's
// authenticator secret instead.
type otpChallenge struct {
	Nonce     [otpChallengeNonceSize]byte
	Method    OTPMethod
	Purpose   string
	CodeHash  [32]byte
	Attempts  uint8
	Exhausted bool
	IssuedAt  int64
	ExpiresAt int64
}

// otpChallengeStore keeps at most one live challenge per identity in
// Redis. Saving overwrites unconditionally, which is what invalidates a
// prior challenge on re-issue.
type otpChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newOTPChallengeStore(redisClient redis.UniversalClient, prefix string) *otpChallengeStore {
	return &otpChallengeStore{redis: redisClient, prefix: prefix}
}

func (s *otpChallengeStore) key(identityID string) string {
	return s.prefix + ":" + otpKeyPrefix + ":" + identityID
}

func (s *otpChallengeStore) Save(ctx context.Context, identityID string, record *otpChallenge, ttl time.Duration) error {
	encoded, err := encodeOTPChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(identityID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errOTPChallengeBackend, err)
	}
	return nil
}

func (s *otpChallengeStore) Get(ctx context.Context, identityID string) (*otpChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(identityID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errOTPChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", errOTPChallengeBackend, err)
	}

	record, err := decodeOTPChallenge(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(identityID)).Result()
		return nil, errOTPChallengeExpired
	}
	return record, nil
}

func (s *otpChallengeStore) Delete(ctx context.Context, identityID string) error {
	if err := s.redis.Del(ctx, s.key(identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errOTPChallengeBackend, err)
	}
	return nil
}

// Consume runs one verification attempt atomically. match must be a pure
// comparison against the loaded record; it may run more than once if the
// transaction retries. On success the record is deleted (codes are
// single-use). On mismatch the attempt counter is incremented in the same
// transaction. The mismatch that reaches maxAttempts marks the record
// exhausted but still reports a mismatch; the record is kept until its
// TTL so that later attempts surface as exhausted rather than not-found.
func (s *otpChallengeStore) Consume(
	ctx context.Context,
	identityID string,
	nonce [otpChallengeNonceSize]byte,
	maxAttempts int,
	match func(*otpChallenge) bool,
) error {
	const maxRetries = 4
	key := s.key(identityID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeOTPChallenge(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errOTPChallengeExpired
			}
			if record.Nonce != nonce {
				return errOTPChallengeNotFound
			}
			if record.Exhausted || int(record.Attempts) >= maxAttempts {
				return errOTPChallengeExhausted
			}

			if match(record) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				record.Exhausted = true
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errOTPChallengeExpired
			}

			updated, err := encodeOTPChallenge(record)
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
			return errOTPChallengeMismatch
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return errOTPChallengeNotFound
			}
			if errors.Is(err, errOTPChallengeExpired) ||
				errors.Is(err, errOTPChallengeExhausted) ||
				errors.Is(err, errOTPChallengeMismatch) ||
				errors.Is(err, errOTPChallengeNotFound) {
				return err
			}
			return fmt.Errorf("%w: %v", errOTPChallengeBackend, err)
		}
		return nil
	}

	return errOTPChallengeNotFound
}

func encodeOTPChallenge(record *otpChallenge) ([]byte, error) {
	if len(record.Purpose) > 65535 {
		return nil, errors.New("otp challenge purpose too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(otpChallengeVersion1)

	buf.Write(record.Nonce[:])
	buf.WriteByte(byte(record.Method))
	buf.Write(record.CodeHash[:])
	buf.WriteByte(record.Attempts)
	if record.Exhausted {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if err := binary.Write(&buf, binary.BigEndian, record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Purpose))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Purpose)

	return buf.Bytes(), nil
}

func decodeOTPChallenge(data []byte) (*otpChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != otpChallengeVersion1 {
		return nil, errors.New("invalid otp challenge version")
	}

	record := &otpChallenge{}
	if _, err := io.ReadFull(reader, record.Nonce[:]); err != nil {
		return nil, err
	}
	method, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.Method = OTPMethod(method)
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}
	if record.Attempts, err = reader.ReadByte(); err != nil {
		return nil, err
	}
	exhausted, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.Exhausted = exhausted == 1
	if err := binary.Read(reader, binary.BigEndian, &record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var purposeLen uint16
	if err := binary.Read(reader, binary.BigEndian, &purposeLen); err != nil {
		return nil, err
	}
	purpose := make([]byte, purposeLen)
	if _, err := io.ReadFull(reader, purpose); err != nil {
		return nil, err
	}
	record.Purpose = string(purpose)

	return record, nil
}
