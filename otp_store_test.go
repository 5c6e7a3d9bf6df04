package goIdentity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newChallengeStore(t *testing.T) *otpChallengeStore {
	t.Helper()
	_, rdb := newTestRedis(t)
	return newOTPChallengeStore(rdb, "gis")
}

func testChallenge(nonce byte) *otpChallenge {
	now := time.Now()
	record := &otpChallenge{
		Method:    OTPMethodEmail,
		Purpose:   "login",
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(5 * time.Minute).Unix(),
	}
	record.Nonce[0] = nonce
	return record
}

func TestChallengeStoreRoundTrip(t *testing.T) {
	store := newChallengeStore(t)
	ctx := context.Background()

	record := testChallenge(7)
	record.CodeHash[0] = 0xAB
	record.Attempts = 2

	if err := store.Save(ctx, "id-1", record, 5*time.Minute); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.Get(ctx, "id-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Nonce != record.Nonce || got.CodeHash != record.CodeHash {
		t.Fatal("nonce or code hash did not survive the round trip")
	}
	if got.Purpose != "login" || got.Attempts != 2 || got.Method != OTPMethodEmail {
		t.Fatalf("got %+v", got)
	}
}

func TestChallengeStoreMissing(t *testing.T) {
	store := newChallengeStore(t)

	if _, err := store.Get(context.Background(), "nobody"); !errors.Is(err, errOTPChallengeNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestChallengeStoreSaveReplaces(t *testing.T) {
	store := newChallengeStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "id-1", testChallenge(1), 5*time.Minute); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Save(ctx, "id-1", testChallenge(2), 5*time.Minute); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, err := store.Get(ctx, "id-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Nonce[0] != 2 {
		t.Fatal("save must replace the live challenge")
	}
}

func TestChallengeConsumeMatch(t *testing.T) {
	store := newChallengeStore(t)
	ctx := context.Background()

	record := testChallenge(3)
	if err := store.Save(ctx, "id-1", record, 5*time.Minute); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	err := store.Consume(ctx, "id-1", record.Nonce, 3, func(*otpChallenge) bool { return true })
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}

	// Codes are single-use: the record is gone.
	if _, err := store.Get(ctx, "id-1"); !errors.Is(err, errOTPChallengeNotFound) {
		t.Fatalf("err = %v, want not found after consumption", err)
	}
}

func TestChallengeConsumeNonceMismatch(t *testing.T) {
	store := newChallengeStore(t)
	ctx := context.Background()

	record := testChallenge(3)
	if err := store.Save(ctx, "id-1", record, 5*time.Minute); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	var stale [otpChallengeNonceSize]byte
	stale[0] = 99
	err := store.Consume(ctx, "id-1", stale, 3, func(*otpChallenge) bool { return true })
	if !errors.Is(err, errOTPChallengeNotFound) {
		t.Fatalf("err = %v, want not found for a rotated nonce", err)
	}
}

func TestChallengeConsumeAttemptAccounting(t *testing.T) {
	store := newChallengeStore(t)
	ctx := context.Background()
	const max = 3

	record := testChallenge(4)
	if err := store.Save(ctx, "id-1", record, 5*time.Minute); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	never := func(*otpChallenge) bool { return false }

	// Every miss up to the ceiling reports a mismatch; the one that
	// reaches the ceiling marks the record exhausted.
	for i := 0; i < max; i++ {
		err := store.Consume(ctx, "id-1", record.Nonce, max, never)
		if !errors.Is(err, errOTPChallengeMismatch) {
			t.Fatalf("miss %d: err = %v, want mismatch", i+1, err)
		}
	}

	// Past the ceiling even a matching attempt is refused.
	err := store.Consume(ctx, "id-1", record.Nonce, max, func(*otpChallenge) bool { return true })
	if !errors.Is(err, errOTPChallengeExhausted) {
		t.Fatalf("err = %v, want exhausted", err)
	}
}

func TestChallengeConsumePassesRecordToMatch(t *testing.T) {
	store := newChallengeStore(t)
	ctx := context.Background()

	record := testChallenge(5)
	record.Purpose = "step_up:password_change"
	if err := store.Save(ctx, "id-1", record, 5*time.Minute); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	var seenPurpose string
	err := store.Consume(ctx, "id-1", record.Nonce, 3, func(r *otpChallenge) bool {
		seenPurpose = r.Purpose
		return false
	})
	if !errors.Is(err, errOTPChallengeMismatch) {
		t.Fatalf("err = %v, want mismatch", err)
	}
	if seenPurpose != "step_up:password_change" {
		t.Fatalf("purpose seen by match = %q", seenPurpose)
	}
}
