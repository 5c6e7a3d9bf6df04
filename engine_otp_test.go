package goIdentity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/pquerna/otp/totp"
)

func enableEmailOTP(t *testing.T, f *engineFixture, identityID string) {
	t.Helper()
	f.store.mutate(t, identityID, func(i *Identity) {
		i.OtpSettings = OtpSettings{
			Enabled:         true,
			Method:          OTPMethodEmail,
			RequireForLogin: true,
		}
	})
}

func loginExpectChallenge(t *testing.T, f *engineFixture) string {
	t.Helper()
	result, err := f.engine.Login(context.Background(), Credential{
		Email:    testEmail,
		Password: testPassword,
	}, browserSignals())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !result.OTPRequired || result.Challenge == "" {
		t.Fatalf("expected a challenge, got %+v", result)
	}
	if result.Tokens != nil {
		t.Fatal("no tokens should be issued before code confirmation")
	}
	return result.Challenge
}

func TestOTPLoginFlow(t *testing.T) {
	f := newTestEngine(t)
	identity := f.register(t)
	enableEmailOTP(t, f, identity.ID)

	challenge := loginExpectChallenge(t, f)
	code := f.notifier.lastCode(t)

	result, err := f.engine.ConfirmLoginOTP(context.Background(), challenge, code, browserSignals())
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if result.Tokens == nil {
		t.Fatal("expected tokens after confirmation")
	}
	if result.IdentityID != identity.ID {
		t.Fatalf("identity = %s, want %s", result.IdentityID, identity.ID)
	}

	if _, err := f.engine.ValidateAccess(result.Tokens.AccessToken); err != nil {
		t.Fatalf("issued access token did not validate: %v", err)
	}
}

func TestOTPWrongCode(t *testing.T) {
	f := newTestEngine(t)
	identity := f.register(t)
	enableEmailOTP(t, f, identity.ID)

	challenge := loginExpectChallenge(t, f)

	_, err := f.engine.ConfirmLoginOTP(context.Background(), challenge, "000000", browserSignals())
	if !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("err = %v, want ErrOTPInvalid", err)
	}

	// The challenge survives a single miss; the right code still works.
	code := f.notifier.lastCode(t)
	if _, err := f.engine.ConfirmLoginOTP(context.Background(), challenge, code, browserSignals()); err != nil {
		t.Fatalf("confirm after one miss failed: %v", err)
	}
}

func TestOTPAttemptCeiling(t *testing.T) {
	f := newTestEngine(t)
	identity := f.register(t)
	enableEmailOTP(t, f, identity.ID)
	ctx := context.Background()

	challenge := loginExpectChallenge(t, f)
	code := f.notifier.lastCode(t)

	max := f.engine.config.OTP.MaxAttempts
	for i := 0; i < max; i++ {
		_, err := f.engine.ConfirmLoginOTP(ctx, challenge, "000000", browserSignals())
		if !errors.Is(err, ErrOTPInvalid) {
			t.Fatalf("miss %d: err = %v, want ErrOTPInvalid", i+1, err)
		}
	}

	// The challenge is burned: even the correct code no longer verifies.
	_, err := f.engine.ConfirmLoginOTP(ctx, challenge, code, browserSignals())
	if !errors.Is(err, ErrOTPExhausted) {
		t.Fatalf("err = %v, want ErrOTPExhausted", err)
	}
}

func TestOTPResendRotatesHandle(t *testing.T) {
	f := newTestEngine(t)
	identity := f.register(t)
	enableEmailOTP(t, f, identity.ID)
	ctx := context.Background()

	oldChallenge := loginExpectChallenge(t, f)

	newChallenge, err := f.engine.ResendLoginOTP(ctx, oldChallenge)
	if err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	if newChallenge == oldChallenge {
		t.Fatal("resend must rotate the challenge handle")
	}
	if f.notifier.sendCount() != 2 {
		t.Fatalf("sends = %d, want 2", f.notifier.sendCount())
	}

	code := f.notifier.lastCode(t)

	// The superseded handle no longer verifies.
	if _, err := f.engine.ConfirmLoginOTP(ctx, oldChallenge, code, browserSignals()); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("stale handle err = %v, want ErrOTPInvalid", err)
	}

	if _, err := f.engine.ConfirmLoginOTP(ctx, newChallenge, code, browserSignals()); err != nil {
		t.Fatalf("fresh handle confirm failed: %v", err)
	}
}

func TestOTPResendCooldown(t *testing.T) {
	f := newTestEngine(t, func(cfg *Config) {
		cfg.OTP.ResendCooldown = time.Minute
	})
	identity := f.register(t)
	enableEmailOTP(t, f, identity.ID)
	ctx := context.Background()

	challenge := loginExpectChallenge(t, f)

	next, err := f.engine.ResendLoginOTP(ctx, challenge)
	if err != nil {
		t.Fatalf("first resend failed: %v", err)
	}

	if _, err := f.engine.ResendLoginOTP(ctx, next); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second resend err = %v, want ErrRateLimited", err)
	}
}

func TestOTPChallengeExpiry(t *testing.T) {
	f := newTestEngine(t)
	identity := f.register(t)
	enableEmailOTP(t, f, identity.ID)

	challenge := loginExpectChallenge(t, f)
	code := f.notifier.lastCode(t)

	f.redis.FastForward(f.engine.config.OTP.ChallengeTTL + time.Second)

	_, err := f.engine.ConfirmLoginOTP(context.Background(), challenge, code, browserSignals())
	if !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("err = %v, want ErrOTPInvalid after expiry", err)
	}
}

func TestOTPBackupCodeSingleUse(t *testing.T) {
	f := newTestEngine(t)
	identity := f.register(t)
	const backup = "ABCDEF2345"

	f.store.mutate(t, identity.ID, func(i *Identity) {
		i.OtpSettings = OtpSettings{
			Enabled:         true,
			Method:          OTPMethodEmail,
			RequireForLogin: true,
		}
		i.BackupCodes = []BackupCodeRecord{{Hash: internal.HashCode(backup)}}
	})
	ctx := context.Background()

	challenge := loginExpectChallenge(t, f)
	result, err := f.engine.ConfirmLoginOTP(ctx, challenge, backup, browserSignals())
	if err != nil {
		t.Fatalf("backup code confirm failed: %v", err)
	}
	if result.Tokens == nil {
		t.Fatal("expected tokens")
	}

	stored := f.store.get(t, identity.ID)
	if !stored.BackupCodes[0].Used {
		t.Fatal("backup code should be marked used")
	}

	// The same code cannot authenticate a second challenge.
	challenge = loginExpectChallenge(t, f)
	if _, err := f.engine.ConfirmLoginOTP(ctx, challenge, backup, browserSignals()); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("reused backup code err = %v, want ErrOTPInvalid", err)
	}
}

func TestOTPTOTPFlow(t *testing.T) {
	f := newTestEngine(t)
	identity := f.register(t)
	ctx := context.Background()

	tokens := f.loginTokens(t)
	f.markStepUpVerified(t, tokens.SessionID, OpOTPSettingsChange)

	url, err := f.engine.SetOTPSettings(ctx, tokens.SessionID, OtpSettings{
		Enabled:         true,
		Method:          OTPMethodTOTP,
		RequireForLogin: true,
	})
	if err != nil {
		t.Fatalf("set settings failed: %v", err)
	}
	if url == "" {
		t.Fatal("expected a provisioning URL for a fresh authenticator secret")
	}

	secret := f.store.get(t, identity.ID).TOTPSecret
	if secret == "" {
		t.Fatal("expected a stored authenticator secret")
	}

	challenge := loginExpectChallenge(t, f)

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("code generation failed: %v", err)
	}
	result, err := f.engine.ConfirmLoginOTP(ctx, challenge, code, browserSignals())
	if err != nil {
		t.Fatalf("authenticator confirm failed: %v", err)
	}
	if result.Tokens == nil {
		t.Fatal("expected tokens")
	}
}

func TestOTPSkippedForTrustedDevice(t *testing.T) {
	f := newTestEngine(t, func(cfg *Config) {
		cfg.OTP.SkipForTrustedDevices = true
	})
	identity := f.register(t)
	enableEmailOTP(t, f, identity.ID)
	ctx := context.Background()

	challenge := loginExpectChallenge(t, f)
	result, err := f.engine.ConfirmLoginOTP(ctx, challenge, f.notifier.lastCode(t), browserSignals())
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	f.markStepUpVerified(t, result.Tokens.SessionID, OpDeviceTrust)
	if err := f.engine.TrustDevice(ctx, result.Tokens.SessionID, result.Tokens.DeviceID); err != nil {
		t.Fatalf("trust device failed: %v", err)
	}

	// Same device logs in again: no challenge this time.
	again, err := f.engine.Login(ctx, Credential{Email: testEmail, Password: testPassword}, browserSignals())
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}
	if again.OTPRequired {
		t.Fatal("trusted device should bypass the code challenge")
	}
	if again.Tokens == nil {
		t.Fatal("expected tokens")
	}
}
