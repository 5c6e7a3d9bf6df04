package goIdentity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

// encodeChallengeHandle packs the identity ID and the issuance nonce
// into the opaque handle a client presents when confirming a code.
func encodeChallengeHandle(identityID string, nonce [otpChallengeNonceSize]byte) string {
	raw := make([]byte, 0, 1+len(identityID)+len(nonce))
	raw = append(raw, byte(len(identityID)))
	raw = append(raw, identityID...)
	raw = append(raw, nonce[:]...)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeChallengeHandle(handle string) (string, [otpChallengeNonceSize]byte, error) {
	var nonce [otpChallengeNonceSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(handle)
	if err != nil {
		return "", nonce, ErrOTPInvalid
	}
	if len(raw) < 1 {
		return "", nonce, ErrOTPInvalid
	}
	idLen := int(raw[0])
	if len(raw) != 1+idLen+otpChallengeNonceSize {
		return "", nonce, ErrOTPInvalid
	}

	identityID := string(raw[1 : 1+idLen])
	copy(nonce[:], raw[1+idLen:])
	return identityID, nonce, nil
}

// issueOTPChallenge creates (or replaces) the identity's live challenge
// and dispatches the code when the method calls for one. It returns the
// opaque challenge handle and the method used.
func (e *Engine) issueOTPChallenge(ctx context.Context, identity *Identity, purpose string) (string, OTPMethod, error) {
	if !e.config.OTP.Enabled {
		return "", 0, ErrOTPDisabled
	}
	method := identity.OtpSettings.Method
	if method == OTPMethodTOTP && identity.TOTPSecret == "" {
		return "", 0, ErrOTPDisabled
	}

	if err := e.limiter.CheckOTPCeiling(ctx, identity.ID); err != nil {
		e.emitRateLimit(ctx, "otp_issue", identity.ID)
		return "", 0, mapRateErr(err)
	}

	var nonce [otpChallengeNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", 0, err
	}

	now := time.Now()
	record := &otpChallenge{
		Nonce:     nonce,
		Method:    method,
		Purpose:   purpose,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(e.config.OTP.ChallengeTTL).Unix(),
	}

	var code string
	if method != OTPMethodTOTP {
		generated, err := internal.NewOTP(e.config.OTP.CodeDigits)
		if err != nil {
			return "", 0, err
		}
		code = generated
		record.CodeHash = internal.HashCode(code)
	}

	if err := e.otpStore.Save(ctx, identity.ID, record, e.config.OTP.ChallengeTTL); err != nil {
		return "", 0, ErrBackendUnavailable
	}

	if code != "" {
		e.dispatchCode(ctx, identity, method, code, purpose)
	}

	e.metricInc(MetricOTPIssued)
	e.emitEvent(ctx, eventOTPIssued, true, identity.ID, "", "", nil, func() map[string]string {
		return map[string]string{
			"method":  method.String(),
			"purpose": purpose,
		}
	})

	return encodeChallengeHandle(identity.ID, nonce), method, nil
}

// dispatchCode hands the code to the notifier. Delivery failure is
// logged and swallowed: the challenge stands, and the client can request
// a resend.
func (e *Engine) dispatchCode(ctx context.Context, identity *Identity, method OTPMethod, code, purpose string) {
	if e.notifier == nil {
		e.log.Warn("one-time code generated without a notifier",
			zap.String("identity_id", identity.ID))
		return
	}

	payload := NotificationPayload{
		Code:    code,
		Purpose: purpose,
		Subject: "Your verification code",
	}
	if err := e.notifier.Send(ctx, method, identity, payload); err != nil {
		e.log.Warn("one-time code dispatch failed",
			zap.String("identity_id", identity.ID),
			zap.String("method", method.String()),
			zap.Error(err))
	}
}

// verifyOTPChallenge runs one verification attempt against the identity's
// live challenge. purpose must match the challenge's purpose; a handle
// issued for login does not satisfy a step-up gate.
func (e *Engine) verifyOTPChallenge(ctx context.Context, identity *Identity, nonce [otpChallengeNonceSize]byte, candidate, purpose string) error {
	if candidate == "" {
		return ErrOTPInvalid
	}

	if e.tryBackupCode(ctx, identity, candidate) {
		_ = e.otpStore.Delete(ctx, identity.ID)
		return nil
	}

	candidateHash := internal.HashCode(candidate)
	err := e.otpStore.Consume(ctx, identity.ID, nonce, e.config.OTP.MaxAttempts, func(record *otpChallenge) bool {
		if record.Purpose != purpose {
			return false
		}
		if record.Method == OTPMethodTOTP {
			return e.totpCodeValid(identity, candidate)
		}
		return subtle.ConstantTimeCompare(candidateHash[:], record.CodeHash[:]) == 1
	})

	switch {
	case err == nil:
		e.metricInc(MetricOTPVerified)
		return nil
	case errors.Is(err, errOTPChallengeMismatch):
		e.metricInc(MetricOTPFailure)
		if ceilErr := e.limiter.RecordOTPFailure(ctx, identity.ID); ceilErr != nil {
			e.log.Debug("daily code-failure ceiling update",
				zap.String("identity_id", identity.ID),
				zap.Error(ceilErr))
		}
		return ErrOTPInvalid
	case errors.Is(err, errOTPChallengeExhausted):
		e.metricInc(MetricOTPExhausted)
		e.emitEvent(ctx, eventOTPExhausted, false, identity.ID, "", "", ErrOTPExhausted, nil)
		return ErrOTPExhausted
	case errors.Is(err, errOTPChallengeExpired), errors.Is(err, errOTPChallengeNotFound):
		e.metricInc(MetricOTPFailure)
		return ErrOTPInvalid
	default:
		return ErrBackendUnavailable
	}
}

func (e *Engine) totpCodeValid(identity *Identity, candidate string) bool {
	valid, err := totp.ValidateCustom(candidate, identity.TOTPSecret, time.Now(), totp.ValidateOpts{
		Period:    e.config.OTP.TOTPPeriod,
		Skew:      e.config.OTP.TOTPSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// tryBackupCode consumes a matching unused backup code. The used flag is
// persisted immediately so a code cannot authenticate twice.
func (e *Engine) tryBackupCode(ctx context.Context, identity *Identity, candidate string) bool {
	if len(identity.BackupCodes) == 0 {
		return false
	}

	candidateHash := internal.HashCode(candidate)
	for i := range identity.BackupCodes {
		record := &identity.BackupCodes[i]
		if record.Used {
			continue
		}
		if subtle.ConstantTimeCompare(candidateHash[:], record.Hash[:]) == 1 {
			record.Used = true
			identity.UpdatedAt = time.Now()
			if err := e.store.Save(ctx, identity); err != nil {
				// Without the persisted used flag the code would stay live.
				record.Used = false
				e.log.Error("backup code consumption save failed",
					zap.String("identity_id", identity.ID),
					zap.Error(err))
				return false
			}
			e.metricInc(MetricBackupCodeUsed)
			e.emitEvent(ctx, eventBackupCodeUsed, true, identity.ID, "", "", nil, nil)
			return true
		}
	}
	return false
}

// provisionTOTPSecret generates a fresh authenticator secret for the
// identity and returns the otpauth provisioning URL.
func (e *Engine) provisionTOTPSecret(identity *Identity) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.OTP.TOTPIssuer,
		AccountName: identity.Email,
		Period:      e.config.OTP.TOTPPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}
