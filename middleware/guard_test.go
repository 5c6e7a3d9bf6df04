package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/fingerprint"
	"github.com/MrEthical07/goIdentity/provider"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "Str0ng-Passw0rd"
)

type guardFixture struct {
	engine   *goIdentity.Engine
	store    *memStore
	notifier *captureNotifier
}

func newGuardFixture(t *testing.T) *guardFixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMemStore()
	notifier := &captureNotifier{}

	engine, err := goIdentity.New().
		WithRedis(rdb).
		WithIdentityStore(store).
		WithNotifier(notifier).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return &guardFixture{engine: engine, store: store, notifier: notifier}
}

func (f *guardFixture) loginTokens(t *testing.T) *goIdentity.TokenPair {
	t.Helper()
	ctx := context.Background()

	if _, err := f.engine.Register(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	result, err := f.engine.Login(ctx, goIdentity.Credential{
		Email:    testEmail,
		Password: testPassword,
	}, browserSignals())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.Tokens == nil {
		t.Fatal("expected tokens")
	}
	return result.Tokens
}

// openStepUpWindow turns on email codes for the account, then drives the
// request/verify pair through the public engine surface.
func (f *guardFixture) openStepUpWindow(t *testing.T, sessionID, purpose string) {
	t.Helper()
	ctx := context.Background()

	f.store.enableEmailOTP(t, testEmail)

	challenge, _, err := f.engine.RequestStepUp(ctx, sessionID, purpose)
	if err != nil {
		t.Fatalf("request step-up failed: %v", err)
	}
	code := f.notifier.lastCode(t)
	if err := f.engine.VerifyStepUp(ctx, sessionID, challenge, code, purpose); err != nil {
		t.Fatalf("verify step-up failed: %v", err)
	}
}

func browserSignals() fingerprint.Signals {
	return fingerprint.Signals{
		Headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
			"Accept":          "text/html",
			"Accept-Language": "en-US,en;q=0.9",
			"Accept-Encoding": "gzip, deflate, br",
		},
		RemoteAddr: "198.51.100.7:54321",
	}
}

func TestGuardRejectsMissingToken(t *testing.T) {
	f := newGuardFixture(t)
	handler := Guard(f.engine)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without a token")
	}))

	for _, header := range []string{"", "Bearer ", "Basic dXNlcjpwYXNz", "token-without-scheme"} {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}

func TestGuardRejectsGarbageToken(t *testing.T) {
	f := newGuardFixture(t)
	handler := Guard(f.engine)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run with a bad token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGuardInjectsAccessIdentity(t *testing.T) {
	f := newGuardFixture(t)
	tokens := f.loginTokens(t)

	var got *goIdentity.AccessIdentity
	handler := Guard(f.engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access, ok := AccessFromContext(r.Context())
		if !ok {
			t.Fatal("access identity missing from context")
		}
		got = access
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.SessionID != tokens.SessionID {
		t.Fatalf("session = %s, want %s", got.SessionID, tokens.SessionID)
	}
}

func TestRequireStepUp(t *testing.T) {
	f := newGuardFixture(t)
	tokens := f.loginTokens(t)
	const purpose = "password_change"

	chain := Guard(f.engine)(RequireStepUp(f.engine, purpose)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodPost, "/account/password", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)

	// No verification window yet: 403, not 401.
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	f.openStepUpWindow(t, tokens.SessionID, purpose)

	rec = httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status after verification = %d, want 200", rec.Code)
	}
}

func TestRequireStepUpWithoutGuard(t *testing.T) {
	f := newGuardFixture(t)

	handler := RequireStepUp(f.engine, "password_change")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without an access identity")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSignalsFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "test-agent/1.0 (integration)")
	req.Header.Set("Accept-Language", "en-US")
	req.RemoteAddr = "198.51.100.7:54321"

	signals := SignalsFromRequest(req)
	if signals.RemoteAddr != "198.51.100.7:54321" {
		t.Fatalf("remote addr = %q", signals.RemoteAddr)
	}
	if got := signals.Headers["User-Agent"]; got != "test-agent/1.0 (integration)" {
		t.Fatalf("user agent = %q", got)
	}

	// The bag is a copy: later request mutation is invisible.
	req.Header.Set("User-Agent", "changed")
	if got := signals.Headers["User-Agent"]; got != "test-agent/1.0 (integration)" {
		t.Fatalf("signals changed with the request: %q", got)
	}
}

// captureNotifier records every payload handed to it.
type captureNotifier struct {
	mu    sync.Mutex
	sends []goIdentity.NotificationPayload
}

func (n *captureNotifier) Send(_ context.Context, _ goIdentity.OTPMethod, _ *goIdentity.Identity, payload goIdentity.NotificationPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, payload)
	return nil
}

func (n *captureNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sends) == 0 {
		t.Fatal("no notification captured")
	}
	return n.sends[len(n.sends)-1].Code
}

// memStore is a minimal in-memory identity store for middleware tests.
type memStore struct {
	mu      sync.RWMutex
	byID    map[string]*goIdentity.Identity
	byEmail map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		byID:    make(map[string]*goIdentity.Identity),
		byEmail: make(map[string]string),
	}
}

func (s *memStore) enableEmailOTP(t *testing.T, email string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		t.Fatalf("no identity for %q", email)
	}
	s.byID[id].OtpSettings = goIdentity.OtpSettings{
		Enabled: true,
		Method:  goIdentity.OTPMethodEmail,
	}
}

func (s *memStore) FindByEmail(_ context.Context, email string) (*goIdentity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, goIdentity.ErrIdentityNotFound
	}
	return s.byID[id], nil
}

func (s *memStore) FindByID(_ context.Context, id string) (*goIdentity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.byID[id]
	if !ok {
		return nil, goIdentity.ErrIdentityNotFound
	}
	return identity, nil
}

func (s *memStore) FindBySocialLink(_ context.Context, p provider.Name, providerID string) (*goIdentity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, identity := range s.byID {
		for _, l := range identity.SocialLinks {
			if l.Provider == p && l.ProviderID == providerID {
				return identity, nil
			}
		}
	}
	return nil, goIdentity.ErrIdentityNotFound
}

func (s *memStore) Create(_ context.Context, identity *goIdentity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(identity.Email)
	if email != "" {
		if _, taken := s.byEmail[email]; taken {
			return goIdentity.ErrEmailTaken
		}
		s.byEmail[email] = identity.ID
	}
	s.byID[identity.ID] = identity
	return nil
}

func (s *memStore) Save(_ context.Context, identity *goIdentity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[identity.ID]; !ok {
		return goIdentity.ErrIdentityNotFound
	}
	s.byID[identity.ID] = identity
	return nil
}
