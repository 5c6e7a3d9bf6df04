package goIdentity

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/fingerprint"
	"go.uber.org/zap"
)

const loginPurpose = "login"

// Login authenticates a credential and either issues a session or opens
// a one-time-code challenge, depending on risk and the identity's
// settings. Exactly one credential path applies: a provider token when
// cred.Provider is set, the email/password pair otherwise.
//
// Every credential failure surfaces as [ErrInvalidCredential]; the
// distinction between unknown email, wrong password, and provider
// rejection is logged internally only.
func (e *Engine) Login(ctx context.Context, cred Credential, signals fingerprint.Signals) (*LoginResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	fp := fingerprint.Derive(signals)

	if cred.Provider != "" {
		return e.socialLogin(ctx, cred, fp)
	}
	return e.passwordLogin(ctx, cred, fp)
}

func (e *Engine) passwordLogin(ctx context.Context, cred Credential, fp fingerprint.Result) (*LoginResult, error) {
	ip := clientIPFromContext(ctx)
	email := strings.ToLower(strings.TrimSpace(cred.Email))

	if err := e.limiter.CheckLogin(ctx, email, ip); err != nil {
		e.metricInc(MetricLoginRateLimited)
		e.emitRateLimit(ctx, "login", "")
		return nil, mapRateErr(err)
	}

	if email == "" || cred.Password == "" {
		return nil, e.failLogin(ctx, email, "", ip, "empty_credential")
	}

	identity, err := e.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, e.failLogin(ctx, email, "", ip, "identity_not_found")
	}

	if err := identityUsable(identity, time.Now()); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitEvent(ctx, eventLoginFailure, false, identity.ID, "", fp.DeviceID, err, nil)
		return nil, err
	}

	if !identity.HasPassword() {
		return nil, e.failLogin(ctx, email, identity.ID, ip, "no_password_method")
	}

	ok, err := e.hasher.Verify(cred.Password, identity.PasswordHash)
	if err != nil || !ok {
		count, recErr := e.limiter.RecordLoginFailure(ctx, email, ip)
		if recErr != nil {
			e.metricInc(MetricLoginRateLimited)
			return nil, mapRateErr(recErr)
		}
		if count >= int64(e.config.Lockout.Threshold) {
			return nil, e.lockIdentity(ctx, identity, fp.DeviceID)
		}
		e.metricInc(MetricLoginFailure)
		e.emitEvent(ctx, eventLoginFailure, false, identity.ID, "", fp.DeviceID, ErrInvalidCredential, func() map[string]string {
			return map[string]string{"reason": "password_mismatch"}
		})
		return nil, ErrInvalidCredential
	}

	if err := e.limiter.ResetLogin(ctx, email, ip); err != nil {
		e.log.Warn("login limiter reset failed", zap.Error(err))
	}

	e.maybeUpgradeHash(ctx, identity, cred.Password)
	cred.Password = ""

	return e.completeLogin(ctx, identity, fp, "password")
}

// completeLogin runs the shared tail of every authenticated login: risk
// accounting, the one-time-code branch decision, and session issuance.
func (e *Engine) completeLogin(ctx context.Context, identity *Identity, fp fingerprint.Result, method string) (*LoginResult, error) {
	if fp.Suspicion.Risk == fingerprint.RiskHigh {
		e.metricInc(MetricHighRiskLogin)
		e.emitEvent(ctx, eventHighRiskLogin, true, identity.ID, "", fp.DeviceID, nil, func() map[string]string {
			return map[string]string{
				"score": strconv.Itoa(fp.Suspicion.Score),
				"flags": strings.Join(fp.Suspicion.Flags, ","),
			}
		})
	}

	if e.otpRequiredForLogin(identity, fp) {
		handle, otpMethod, err := e.issueOTPChallenge(ctx, identity, loginPurpose)
		if err != nil {
			return nil, err
		}
		// Persist any lock expiry cleared on the way in.
		identity.UpdatedAt = time.Now()
		if saveErr := e.store.Save(ctx, identity); saveErr != nil {
			e.log.Warn("identity save failed before challenge",
				zap.String("identity_id", identity.ID),
				zap.Error(saveErr))
		}
		return &LoginResult{
			IdentityID:  identity.ID,
			OTPRequired: true,
			OTPMethod:   otpMethod,
			Challenge:   handle,
		}, nil
	}

	tokens, err := e.issueSession(ctx, identity, fp.DeviceID)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitEvent(ctx, eventLoginFailure, false, identity.ID, "", fp.DeviceID, err, func() map[string]string {
			return map[string]string{"reason": "session_issuance"}
		})
		return nil, err
	}

	e.recordLogin(ctx, identity, fp, method)
	e.metricInc(MetricLoginSuccess)
	e.emitEvent(ctx, eventLoginSuccess, true, identity.ID, tokens.SessionID, fp.DeviceID, nil, func() map[string]string {
		return map[string]string{"method": method}
	})

	return &LoginResult{
		IdentityID: identity.ID,
		Tokens:     tokens,
	}, nil
}

// ConfirmLoginOTP verifies the code against the challenge handle and, on
// success, issues the session the login was waiting for.
func (e *Engine) ConfirmLoginOTP(ctx context.Context, challenge, code string, signals fingerprint.Signals) (*LoginResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	identityID, nonce, err := decodeChallengeHandle(challenge)
	if err != nil {
		return nil, ErrOTPInvalid
	}

	identity, err := e.store.FindByID(ctx, identityID)
	if err != nil {
		return nil, ErrOTPInvalid
	}
	if err := identityUsable(identity, time.Now()); err != nil {
		return nil, err
	}

	if err := e.verifyOTPChallenge(ctx, identity, nonce, code, loginPurpose); err != nil {
		e.emitEvent(ctx, eventOTPFailure, false, identity.ID, "", "", err, nil)
		return nil, err
	}

	fp := fingerprint.Derive(signals)

	tokens, err := e.issueSession(ctx, identity, fp.DeviceID)
	if err != nil {
		return nil, err
	}

	e.recordLogin(ctx, identity, fp, "otp")
	e.metricInc(MetricLoginSuccess)
	e.emitEvent(ctx, eventOTPVerified, true, identity.ID, tokens.SessionID, fp.DeviceID, nil, nil)
	e.emitEvent(ctx, eventLoginSuccess, true, identity.ID, tokens.SessionID, fp.DeviceID, nil, func() map[string]string {
		return map[string]string{"method": "otp"}
	})

	return &LoginResult{
		IdentityID: identity.ID,
		Tokens:     tokens,
	}, nil
}

// ResendLoginOTP re-issues the pending login challenge with a fresh code
// and returns the replacement handle. The previous handle stops
// verifying. Resend cadence is enforced independently of verification
// attempts.
func (e *Engine) ResendLoginOTP(ctx context.Context, challenge string) (string, error) {
	if e == nil || e.store == nil {
		return "", ErrEngineNotReady
	}

	identityID, _, err := decodeChallengeHandle(challenge)
	if err != nil {
		return "", ErrOTPInvalid
	}

	identity, err := e.store.FindByID(ctx, identityID)
	if err != nil {
		return "", ErrOTPInvalid
	}
	if err := identityUsable(identity, time.Now()); err != nil {
		return "", err
	}

	// A resend only makes sense against a live challenge.
	if _, err := e.otpStore.Get(ctx, identity.ID); err != nil {
		return "", ErrOTPInvalid
	}

	if err := e.limiter.CheckResend(ctx, identity.ID); err != nil {
		e.emitRateLimit(ctx, "otp_resend", identity.ID)
		return "", mapRateErr(err)
	}

	handle, _, err := e.issueOTPChallenge(ctx, identity, loginPurpose)
	if err != nil {
		return "", err
	}

	e.emitEvent(ctx, eventOTPResent, true, identity.ID, "", "", nil, nil)
	return handle, nil
}

// failLogin counts a failed attempt against the email key and returns
// the uniform credential error.
func (e *Engine) failLogin(ctx context.Context, email, identityID, ip, reason string) error {
	if email != "" {
		if _, err := e.limiter.RecordLoginFailure(ctx, email, ip); err != nil {
			e.metricInc(MetricLoginRateLimited)
			return mapRateErr(err)
		}
	}
	e.metricInc(MetricLoginFailure)
	e.emitEvent(ctx, eventLoginFailure, false, identityID, "", "", ErrInvalidCredential, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return ErrInvalidCredential
}

// lockIdentity transitions the identity to the locked state after the
// failure that reached the threshold.
func (e *Engine) lockIdentity(ctx context.Context, identity *Identity, deviceID string) error {
	identity.Status = IdentityLocked
	identity.LockedUntil = time.Now().Add(e.config.Lockout.Duration)
	identity.UpdatedAt = time.Now()
	if err := e.store.Save(ctx, identity); err != nil {
		e.log.Error("account lock persist failed",
			zap.String("identity_id", identity.ID),
			zap.Error(err))
	}

	e.metricInc(MetricAccountLocked)
	e.emitEvent(ctx, eventAccountLocked, false, identity.ID, "", deviceID, ErrAccountLocked, nil)
	return ErrAccountLocked
}

func (e *Engine) maybeUpgradeHash(ctx context.Context, identity *Identity, plaintext string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(identity.PasswordHash)
	if err != nil || !needs {
		return
	}
	upgraded, err := e.hasher.Hash(plaintext)
	if err != nil {
		e.log.Warn("password hash upgrade failed", zap.Error(err))
		return
	}
	identity.PasswordHash = upgraded
	identity.UpdatedAt = time.Now()
	if err := e.store.Save(ctx, identity); err != nil {
		e.log.Warn("password hash upgrade save failed",
			zap.String("identity_id", identity.ID),
			zap.Error(err))
	}
}

func (e *Engine) otpRequiredForLogin(identity *Identity, fp fingerprint.Result) bool {
	if !e.config.OTP.Enabled || !identity.OtpSettings.Enabled {
		return false
	}
	if e.config.OTP.SkipForTrustedDevices && e.deviceTrusted(identity, fp.DeviceID) {
		return false
	}
	if identity.OtpSettings.RequireForLogin {
		return true
	}
	return e.config.OTP.RequireForHighRisk && fp.Suspicion.Risk == fingerprint.RiskHigh
}

