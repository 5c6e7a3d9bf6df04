package goIdentity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultBackupCodeCount = 10

// Register creates a password-backed identity. Email uniqueness is
// enforced by the store's conditional create, so two concurrent
// registrations for the same address resolve to one winner.
func (e *Engine) Register(ctx context.Context, email, plaintext string) (*Identity, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrInvalidCredential
	}
	if err := e.passPolicy.Check(plaintext); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}

	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	identity := &Identity{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Status:       IdentityActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.store.Create(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// ChangePassword replaces the identity's password. It requires a live
// step-up window and the current password when one is set; a social-only
// identity sets its first password without an old one. All other
// sessions are revoked; the acting session survives.
func (e *Engine) ChangePassword(ctx context.Context, sessionID, oldPassword, newPassword string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	sess, err := e.authorize(ctx, sessionID, OpPasswordChange)
	if err != nil {
		return err
	}

	identity, err := e.store.FindByID(ctx, sess.IdentityID)
	if err != nil {
		return err
	}

	if identity.HasPassword() {
		ok, verr := e.hasher.Verify(oldPassword, identity.PasswordHash)
		if verr != nil || !ok {
			e.metricInc(MetricPasswordChangeFailure)
			e.emitEvent(ctx, eventPasswordChangeFail, false, identity.ID, sessionID, "", ErrInvalidCredential, func() map[string]string {
				return map[string]string{"reason": "old_password_mismatch"}
			})
			return ErrInvalidCredential
		}
	}

	if err := e.passPolicy.Check(newPassword); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitEvent(ctx, eventPasswordChangeFail, false, identity.ID, sessionID, "", ErrPasswordPolicy, nil)
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	identity.PasswordHash = hash
	identity.UpdatedAt = time.Now()

	if err := e.store.Save(ctx, identity); err != nil {
		return ErrBackendUnavailable
	}

	e.revokeOtherSessions(ctx, sess)

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitEvent(ctx, eventPasswordChanged, true, identity.ID, sessionID, "", nil, nil)
	return nil
}

// revokeOtherSessions drops every session of the identity except the
// acting one, which is written back with its remaining lifetime.
func (e *Engine) revokeOtherSessions(ctx context.Context, keep *session.Session) {
	if _, err := e.sessions.DeleteAll(ctx, keep.IdentityID); err != nil {
		e.log.Warn("session sweep failed",
			zap.String("identity_id", keep.IdentityID),
			zap.Error(err))
		return
	}
	ttl := time.Until(time.Unix(keep.ExpiresAt, 0))
	if ttl <= 0 {
		return
	}
	if err := e.sessions.Save(ctx, keep, ttl); err != nil {
		e.log.Warn("acting session restore failed",
			zap.String("session_id", keep.SessionID),
			zap.Error(err))
	}
	e.metricInc(MetricSessionInvalidated)
}

// SetOTPSettings updates the identity's one-time-code preferences. When
// the settings switch to the authenticator method and no secret exists
// yet, a secret is provisioned and its otpauth URL returned for QR
// display; the returned URL is empty otherwise.
func (e *Engine) SetOTPSettings(ctx context.Context, sessionID string, settings OtpSettings) (string, error) {
	if e == nil || e.store == nil {
		return "", ErrEngineNotReady
	}

	sess, err := e.authorize(ctx, sessionID, OpOTPSettingsChange)
	if err != nil {
		return "", err
	}

	identity, err := e.store.FindByID(ctx, sess.IdentityID)
	if err != nil {
		return "", err
	}

	provisioningURL := ""
	if settings.Enabled && settings.Method == OTPMethodTOTP && identity.TOTPSecret == "" {
		secret, url, perr := e.provisionTOTPSecret(identity)
		if perr != nil {
			return "", perr
		}
		identity.TOTPSecret = secret
		provisioningURL = url
	}

	identity.OtpSettings = settings
	identity.UpdatedAt = time.Now()

	if err := e.store.Save(ctx, identity); err != nil {
		return "", ErrBackendUnavailable
	}

	e.emitEvent(ctx, eventOTPSettingsChanged, true, identity.ID, sessionID, "", nil, func() map[string]string {
		return map[string]string{
			"enabled": fmt.Sprintf("%t", settings.Enabled),
			"method":  settings.Method.String(),
		}
	})
	return provisioningURL, nil
}

// GenerateBackupCodes replaces the identity's backup codes and returns
// the plaintexts. This is the only time the plaintexts exist; only
// hashes are stored.
func (e *Engine) GenerateBackupCodes(ctx context.Context, sessionID string) ([]string, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	sess, err := e.authorize(ctx, sessionID, OpBackupCodes)
	if err != nil {
		return nil, err
	}

	identity, err := e.store.FindByID(ctx, sess.IdentityID)
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, defaultBackupCodeCount)
	records := make([]BackupCodeRecord, 0, defaultBackupCodeCount)
	for i := 0; i < defaultBackupCodeCount; i++ {
		code, cerr := internal.NewBackupCode()
		if cerr != nil {
			return nil, cerr
		}
		codes = append(codes, code)
		records = append(records, BackupCodeRecord{Hash: internal.HashCode(code)})
	}

	identity.BackupCodes = records
	identity.UpdatedAt = time.Now()

	if err := e.store.Save(ctx, identity); err != nil {
		return nil, ErrBackendUnavailable
	}

	e.emitEvent(ctx, eventBackupCodesIssued, true, identity.ID, sessionID, "", nil, nil)
	return codes, nil
}

// TrustDevice marks a device as trusted for the identity. A device not
// seen before gets a fresh record.
func (e *Engine) TrustDevice(ctx context.Context, sessionID, deviceID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	sess, err := e.authorize(ctx, sessionID, OpDeviceTrust)
	if err != nil {
		return err
	}

	identity, err := e.store.FindByID(ctx, sess.IdentityID)
	if err != nil {
		return err
	}

	now := time.Now()
	found := false
	for i := range identity.TrustedDevices {
		if identity.TrustedDevices[i].DeviceID == deviceID {
			identity.TrustedDevices[i].Trusted = true
			identity.TrustedDevices[i].LastSeen = now
			found = true
			break
		}
	}
	if !found {
		identity.TrustedDevices = append(identity.TrustedDevices, TrustedDevice{
			DeviceID:  deviceID,
			FirstSeen: now,
			LastSeen:  now,
			Trusted:   true,
		})
		if max := e.config.Session.MaxDevices; max > 0 && len(identity.TrustedDevices) > max {
			identity.TrustedDevices = identity.TrustedDevices[len(identity.TrustedDevices)-max:]
		}
	}
	identity.UpdatedAt = now

	if err := e.store.Save(ctx, identity); err != nil {
		return ErrBackendUnavailable
	}

	e.emitEvent(ctx, eventDeviceTrusted, true, identity.ID, sessionID, deviceID, nil, nil)
	return nil
}

// RemoveDevice drops a device record from the identity.
func (e *Engine) RemoveDevice(ctx context.Context, sessionID, deviceID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	sess, err := e.authorize(ctx, sessionID, OpDeviceRemove)
	if err != nil {
		return err
	}

	identity, err := e.store.FindByID(ctx, sess.IdentityID)
	if err != nil {
		return err
	}

	idx := -1
	for i, d := range identity.TrustedDevices {
		if d.DeviceID == deviceID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrIdentityNotFound
	}

	identity.TrustedDevices = append(identity.TrustedDevices[:idx], identity.TrustedDevices[idx+1:]...)
	identity.UpdatedAt = time.Now()

	if err := e.store.Save(ctx, identity); err != nil {
		return ErrBackendUnavailable
	}

	e.emitEvent(ctx, eventDeviceRemoved, true, identity.ID, sessionID, deviceID, nil, nil)
	return nil
}

// ListDevices returns the identity's device records.
func (e *Engine) ListDevices(ctx context.Context, identityID string) ([]TrustedDevice, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	identity, err := e.store.FindByID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	out := make([]TrustedDevice, len(identity.TrustedDevices))
	copy(out, identity.TrustedDevices)
	return out, nil
}
