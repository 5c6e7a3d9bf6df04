package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewStore(rdb, "gis"), mr
}

func testSession(sid string, hash byte) *Session {
	now := time.Now()
	s := &Session{
		SessionID:  sid,
		IdentityID: "identity-1",
		DeviceID:   "device-1",
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(time.Hour).Unix(),
	}
	s.RefreshHash[0] = hash
	return s
}

func TestStoreSaveGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sid-1", 1)
	sess.Verified = true
	sess.VerifiedAt = time.Now().Unix()
	sess.Purpose = "password_change"

	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.SessionID != "sid-1" || got.IdentityID != "identity-1" || got.DeviceID != "device-1" {
		t.Fatalf("got %+v", got)
	}
	if got.RefreshHash != sess.RefreshHash {
		t.Fatal("refresh hash did not survive")
	}
	if !got.Verified || got.Purpose != "password_change" {
		t.Fatalf("verification window lost: %+v", got)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Get(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreGetExpiredDeletesRecord(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sid-1", 1)
	sess.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if _, err := store.Get(ctx, "sid-1"); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
	// Expired-on-read leaves nothing behind.
	if _, err := store.Get(ctx, "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second get err = %v, want ErrNotFound", err)
	}
}

func TestStoreRotate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sid-1", 1)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	var next [32]byte
	next[0] = 2

	rotated, err := store.Rotate(ctx, "sid-1", sess.RefreshHash, next)
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if rotated.RefreshHash != next {
		t.Fatal("hash not swapped")
	}

	got, err := store.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get after rotate failed: %v", err)
	}
	if got.RefreshHash != next {
		t.Fatal("swap not persisted")
	}
}

func TestStoreRotateMismatchRevokes(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sid-1", 1)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	var wrong, next [32]byte
	wrong[0] = 9
	next[0] = 2

	if _, err := store.Rotate(ctx, "sid-1", wrong, next); !errors.Is(err, ErrRefreshMismatch) {
		t.Fatalf("err = %v, want ErrRefreshMismatch", err)
	}

	// A mismatch kills the session outright.
	if _, err := store.Get(ctx, "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after revocation", err)
	}
	ids, err := store.Sessions(ctx, "identity-1")
	if err != nil {
		t.Fatalf("sessions failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("index still lists %v", ids)
	}
}

func TestStoreRotateConcurrentSingleWinner(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sid-1", 1)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	const contenders = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			var next [32]byte
			next[0] = byte(10 + n)
			if _, err := store.Rotate(ctx, "sid-1", sess.RefreshHash, next); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	// Every loser observed a hash it did not present, which revokes the
	// session; at most one rotation can have landed first.
	if winners > 1 {
		t.Fatalf("winners = %d, want at most 1", winners)
	}
}

func TestStoreDeleteAll(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, sid := range []string{"sid-1", "sid-2", "sid-3"} {
		if err := store.Save(ctx, testSession(sid, 1), time.Hour); err != nil {
			t.Fatalf("save %s failed: %v", sid, err)
		}
	}

	count, err := store.DeleteAll(ctx, "identity-1")
	if err != nil {
		t.Fatalf("delete all failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	ids, err := store.Sessions(ctx, "identity-1")
	if err != nil {
		t.Fatalf("sessions failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("sessions = %v, want none", ids)
	}
}

func TestStoreDeleteAbsent(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.Delete(context.Background(), "nobody"); err != nil {
		t.Fatalf("deleting an absent session must not error: %v", err)
	}
}

func TestStoreSetVerification(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("sid-1", 1)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	at := time.Now().Unix()
	if err := store.SetVerification(ctx, "sid-1", true, at, "backup_codes_generate"); err != nil {
		t.Fatalf("set verification failed: %v", err)
	}

	got, err := store.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Verified || got.VerifiedAt != at || got.Purpose != "backup_codes_generate" {
		t.Fatalf("got %+v", got)
	}
	// The refresh hash is untouched by the verification write.
	if got.RefreshHash != sess.RefreshHash {
		t.Fatal("refresh hash changed")
	}
}

func TestEncodeDecodeRejectsCorrupt(t *testing.T) {
	data, err := Encode(testSession("sid-1", 1))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if _, err := Decode(data[:len(data)-1]); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("truncated err = %v, want ErrCorrupt", err)
	}
	if _, err := Decode(append([]byte{}, 99)); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("bad version err = %v, want ErrCorrupt", err)
	}
	if _, err := Decode(append(data, 0)); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("trailing bytes err = %v, want ErrCorrupt", err)
	}
}

func TestStepUpValid(t *testing.T) {
	now := time.Now()
	s := &Session{
		Verified:   true,
		VerifiedAt: now.Add(-time.Minute).Unix(),
		Purpose:    "password_change",
	}

	if !s.StepUpValid(now, "password_change", 5*time.Minute, true) {
		t.Fatal("live window with matching purpose should pass")
	}
	if s.StepUpValid(now, "device_trust", 5*time.Minute, true) {
		t.Fatal("strict matching should reject another purpose")
	}
	if !s.StepUpValid(now, "device_trust", 5*time.Minute, false) {
		t.Fatal("loose matching should accept any purpose")
	}
	if s.StepUpValid(now, "password_change", time.Minute, true) {
		t.Fatal("window past its timeout should fail")
	}

	s.Verified = false
	if s.StepUpValid(now, "password_change", 5*time.Minute, false) {
		t.Fatal("unverified session should fail")
	}
}
