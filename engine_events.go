package goIdentity

import (
	"context"
	"errors"
	"time"
)

const (
	eventLoginSuccess        = "login_success"
	eventLoginFailure        = "login_failure"
	eventLoginRateLimited    = "login_rate_limited"
	eventAccountLocked       = "account_locked"
	eventNewDeviceSeen       = "new_device_seen"
	eventHighRiskLogin       = "high_risk_login"
	eventOTPIssued           = "otp_challenge_issued"
	eventOTPResent           = "otp_challenge_resent"
	eventOTPVerified         = "otp_verified"
	eventOTPFailure          = "otp_failure"
	eventOTPExhausted        = "otp_exhausted"
	eventOTPSettingsChanged  = "otp_settings_changed"
	eventBackupCodesIssued   = "backup_codes_generated"
	eventBackupCodeUsed      = "backup_code_used"
	eventSocialLogin         = "social_login"
	eventSocialRegistered    = "social_registration"
	eventSocialLinked        = "social_account_linked"
	eventSocialUnlinked      = "social_account_unlinked"
	eventSocialLinkConflict  = "social_link_conflict"
	eventSessionIssued       = "session_issued"
	eventSessionRefreshed    = "session_refreshed"
	eventRefreshReuse        = "refresh_reuse_detected"
	eventSessionRevoked      = "session_revoked"
	eventSessionsRevokedAll  = "sessions_revoked_all"
	eventStepUpVerified      = "step_up_verified"
	eventStepUpRequired      = "step_up_required"
	eventPasswordChanged     = "password_changed"
	eventPasswordChangeFail  = "password_change_failure"
	eventDeviceTrusted       = "device_trusted"
	eventDeviceRemoved       = "device_removed"
	eventRateLimitTriggered  = "rate_limit_triggered"
)

// eventErrorCode collapses engine errors to stable machine-readable
// strings for the event stream.
func eventErrorCode(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, ErrIdentityNotFound):
		return "identity_not_found"
	case errors.Is(err, ErrIdentityInactive):
		return "identity_inactive"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrEmailInUse):
		return "email_in_use"
	case errors.Is(err, ErrOTPRequired):
		return "otp_required"
	case errors.Is(err, ErrOTPInvalid):
		return "otp_invalid"
	case errors.Is(err, ErrOTPExhausted):
		return "otp_exhausted"
	case errors.Is(err, ErrOTPDisabled):
		return "otp_disabled"
	case errors.Is(err, ErrStepUpRequired):
		return "step_up_required"
	case errors.Is(err, ErrOperationDenied):
		return "operation_denied"
	case errors.Is(err, ErrAlreadyLinked):
		return "already_linked"
	case errors.Is(err, ErrLinkedElsewhere):
		return "linked_elsewhere"
	case errors.Is(err, ErrLastAuthMethod):
		return "last_auth_method"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrProviderUnsupported):
		return "provider_unsupported"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrPasswordPolicy):
		return "password_policy"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	default:
		return "internal_error"
	}
}

func (e *Engine) emitEvent(
	ctx context.Context,
	eventType string,
	success bool,
	identityID string,
	sessionID string,
	deviceID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.events == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := SecurityEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		IdentityID: identityID,
		SessionID:  sessionID,
		DeviceID:   deviceID,
		IP:         clientIPFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if code := eventErrorCode(err); code != "" {
		event.Error = code
	}

	e.events.Emit(event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, identityID string) {
	e.metricInc(MetricRateLimitHit)
	e.emitEvent(ctx, eventRateLimitTriggered, false, identityID, "", "", ErrRateLimited, func() map[string]string {
		return map[string]string{
			"scope": scope,
		}
	})
}
