package goIdentity

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/fingerprint"
	"github.com/MrEthical07/goIdentity/provider"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "Str0ng-Passw0rd"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, rdb
}

// testConfig lowers the argon2 cost so the suite stays fast.
func testConfig() Config {
	cfg := defaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.MinLength = 8
	cfg.Lockout.Threshold = 3
	cfg.Lockout.Window = time.Minute
	cfg.Lockout.Duration = 5 * time.Minute
	cfg.OTP.ResendCooldown = 0
	cfg.OTP.RequireForHighRisk = false
	return cfg
}

type engineFixture struct {
	engine   *Engine
	store    *memStore
	notifier *captureNotifier
	redis    *miniredis.Miniredis
}

func newTestEngine(t *testing.T, mutate ...func(*Config)) *engineFixture {
	t.Helper()

	mr, rdb := newTestRedis(t)
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	store := newMemStore()
	notifier := &captureNotifier{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityStore(store).
		WithNotifier(notifier).
		WithProviderValidator(&fakeValidator{name: provider.Google, profile: &provider.ExternalProfile{
			ExternalID:    "ext-google-1",
			Email:         "google-user@example.com",
			EmailVerified: true,
			DisplayName:   "Google User",
		}}).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &engineFixture{engine: engine, store: store, notifier: notifier, redis: mr}
}

func (f *engineFixture) register(t *testing.T) *Identity {
	t.Helper()
	identity, err := f.engine.Register(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return identity
}

// loginTokens is the common "straight to a session" login path.
func (f *engineFixture) loginTokens(t *testing.T) *TokenPair {
	t.Helper()
	result, err := f.engine.Login(context.Background(), Credential{
		Email:    testEmail,
		Password: testPassword,
	}, browserSignals())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.Tokens == nil {
		t.Fatalf("expected tokens, got OTP branch: %+v", result)
	}
	return result.Tokens
}

// markStepUpVerified opens the session's verification window directly.
func (f *engineFixture) markStepUpVerified(t *testing.T, sessionID, purpose string) {
	t.Helper()
	if err := f.engine.sessions.SetVerification(context.Background(), sessionID, true, time.Now().Unix(), purpose); err != nil {
		t.Fatalf("set verification failed: %v", err)
	}
}

func browserSignals() fingerprint.Signals {
	return fingerprint.Signals{
		Headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
			"Accept":          "text/html,application/json",
			"Accept-Language": "en-US,en;q=0.9",
			"Accept-Encoding": "gzip, deflate, br",
		},
		RemoteAddr: "198.51.100.7:54321",
	}
}

func automationSignals() fingerprint.Signals {
	return fingerprint.Signals{
		Headers: map[string]string{
			"User-Agent": "curl/8.5.0",
		},
		RemoteAddr: "3.14.15.9:443",
	}
}

// memStore is the in-memory IdentityStore double used across the suite.
type memStore struct {
	mu      sync.RWMutex
	byID    map[string]*Identity
	byEmail map[string]string

	failSaves bool
}

func newMemStore() *memStore {
	return &memStore{
		byID:    make(map[string]*Identity),
		byEmail: make(map[string]string),
	}
}

func (s *memStore) FindByEmail(_ context.Context, email string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return copyIdentity(s.byID[id]), nil
}

func (s *memStore) FindByID(_ context.Context, id string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.byID[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return copyIdentity(identity), nil
}

func (s *memStore) FindBySocialLink(_ context.Context, p provider.Name, providerID string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, identity := range s.byID {
		for _, l := range identity.SocialLinks {
			if l.Provider == p && l.ProviderID == providerID {
				return copyIdentity(identity), nil
			}
		}
	}
	return nil, ErrIdentityNotFound
}

func (s *memStore) Create(_ context.Context, identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(identity.Email)
	if email != "" {
		if _, taken := s.byEmail[email]; taken {
			return ErrEmailTaken
		}
		s.byEmail[email] = identity.ID
	}
	s.byID[identity.ID] = copyIdentity(identity)
	return nil
}

func (s *memStore) Save(_ context.Context, identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSaves {
		return ErrBackendUnavailable
	}
	if _, ok := s.byID[identity.ID]; !ok {
		return ErrIdentityNotFound
	}
	s.byID[identity.ID] = copyIdentity(identity)
	return nil
}

// mutate edits the stored record in place, bypassing the engine.
func (s *memStore) mutate(t *testing.T, id string, fn func(*Identity)) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byID[id]
	if !ok {
		t.Fatalf("identity %s not in store", id)
	}
	fn(identity)
}

func (s *memStore) get(t *testing.T, id string) *Identity {
	t.Helper()
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.byID[id]
	if !ok {
		t.Fatalf("identity %s not in store", id)
	}
	return copyIdentity(identity)
}

func copyIdentity(in *Identity) *Identity {
	out := *in
	out.SocialLinks = append([]SocialLink(nil), in.SocialLinks...)
	out.BackupCodes = append([]BackupCodeRecord(nil), in.BackupCodes...)
	out.TrustedDevices = append([]TrustedDevice(nil), in.TrustedDevices...)
	out.LoginHistory = append([]LoginRecord(nil), in.LoginHistory...)
	return &out
}

// captureNotifier records dispatched codes.
type captureNotifier struct {
	mu    sync.Mutex
	sends []NotificationPayload
	err   error
}

func (n *captureNotifier) Send(_ context.Context, _ OTPMethod, _ *Identity, payload NotificationPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, payload)
	return n.err
}

func (n *captureNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sends) == 0 {
		t.Fatal("no code was dispatched")
	}
	return n.sends[len(n.sends)-1].Code
}

func (n *captureNotifier) sendCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sends)
}

// fakeValidator returns a fixed profile or error for a provider.
type fakeValidator struct {
	name    provider.Name
	profile *provider.ExternalProfile
	err     error
}

func (v *fakeValidator) Name() provider.Name { return v.name }

func (v *fakeValidator) Validate(context.Context, string) (*provider.ExternalProfile, error) {
	if v.err != nil {
		return nil, v.err
	}
	p := *v.profile
	return &p, nil
}
