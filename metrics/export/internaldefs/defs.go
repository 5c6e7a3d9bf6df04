package internaldefs

import (
	goIdentity "github.com/MrEthical07/goIdentity"
)

// CounterDef binds one engine counter to its exported name.
type CounterDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goIdentity.MetricLoginSuccess, Name: "goidentity_login_success_total", Help: "Successful logins."},
	{ID: goIdentity.MetricLoginFailure, Name: "goidentity_login_failure_total", Help: "Failed login attempts."},
	{ID: goIdentity.MetricLoginRateLimited, Name: "goidentity_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: goIdentity.MetricAccountLocked, Name: "goidentity_account_locked_total", Help: "Account lockouts triggered by failed attempts."},
	{ID: goIdentity.MetricOTPIssued, Name: "goidentity_otp_issued_total", Help: "One-time-code challenges issued."},
	{ID: goIdentity.MetricOTPVerified, Name: "goidentity_otp_verified_total", Help: "Successful one-time-code verifications."},
	{ID: goIdentity.MetricOTPFailure, Name: "goidentity_otp_failure_total", Help: "Failed one-time-code verifications."},
	{ID: goIdentity.MetricOTPExhausted, Name: "goidentity_otp_exhausted_total", Help: "Challenges invalidated by the attempt cap."},
	{ID: goIdentity.MetricBackupCodeUsed, Name: "goidentity_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: goIdentity.MetricSocialLogin, Name: "goidentity_social_login_total", Help: "Logins via a linked external provider."},
	{ID: goIdentity.MetricSocialRegistration, Name: "goidentity_social_registration_total", Help: "Identities registered from an external provider."},
	{ID: goIdentity.MetricSocialLinked, Name: "goidentity_social_linked_total", Help: "External accounts linked."},
	{ID: goIdentity.MetricSocialUnlinked, Name: "goidentity_social_unlinked_total", Help: "External accounts unlinked."},
	{ID: goIdentity.MetricSocialLinkConflict, Name: "goidentity_social_link_conflict_total", Help: "Link attempts rejected for ownership conflicts."},
	{ID: goIdentity.MetricSessionCreated, Name: "goidentity_session_created_total", Help: "Sessions issued."},
	{ID: goIdentity.MetricSessionInvalidated, Name: "goidentity_session_invalidated_total", Help: "Sessions revoked."},
	{ID: goIdentity.MetricRefreshSuccess, Name: "goidentity_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: goIdentity.MetricRefreshFailure, Name: "goidentity_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: goIdentity.MetricRefreshReuseDetected, Name: "goidentity_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: goIdentity.MetricStepUpVerified, Name: "goidentity_step_up_verified_total", Help: "Successful step-up verifications."},
	{ID: goIdentity.MetricStepUpRejected, Name: "goidentity_step_up_rejected_total", Help: "Failed step-up verifications."},
	{ID: goIdentity.MetricPasswordChangeSuccess, Name: "goidentity_password_change_success_total", Help: "Successful password changes."},
	{ID: goIdentity.MetricPasswordChangeFailure, Name: "goidentity_password_change_failure_total", Help: "Failed password change attempts."},
	{ID: goIdentity.MetricHighRiskLogin, Name: "goidentity_high_risk_login_total", Help: "Logins scored high-risk by the fingerprint engine."},
	{ID: goIdentity.MetricRateLimitHit, Name: "goidentity_rate_limit_hit_total", Help: "Rate-limit checks that denied an operation."},
}
