package goIdentity

import "errors"

var (
	// ErrInvalidCredential is returned when a password, social token, or
	// one-time code does not authenticate. Provider-internal failure detail
	// is never attached; it is logged internally instead.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrIdentityNotFound is returned by [IdentityStore] implementations
	// when no identity matches the lookup.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrIdentityInactive is returned when the identity exists but has been
	// deactivated.
	ErrIdentityInactive = errors.New("identity inactive")
	// ErrAccountLocked is returned while a failed-attempt lockout is in
	// effect. The lock expires on its own; it is not permanent.
	ErrAccountLocked = errors.New("account locked")
	// ErrEmailTaken is returned by [IdentityStore.Create] when the email is
	// already claimed by another identity.
	ErrEmailTaken = errors.New("email already registered")

	// ErrOTPRequired names the state where credential verification
	// succeeded but a one-time code must be confirmed before a session is
	// issued. The engine reports that state through
	// [LoginResult.OTPRequired]; the sentinel is exported for transport
	// layers that translate the pending challenge into an error response.
	ErrOTPRequired = errors.New("one-time code required")
	// ErrOTPInvalid is returned for a wrong, expired, or missing one-time
	// code.
	ErrOTPInvalid = errors.New("one-time code invalid")
	// ErrOTPExhausted is returned once a challenge has burned all its
	// verification attempts. A new challenge must be issued.
	ErrOTPExhausted = errors.New("one-time code attempts exhausted")
	// ErrOTPDisabled is returned when a one-time-code operation is invoked
	// but the feature is off globally or for the identity.
	ErrOTPDisabled = errors.New("one-time codes disabled")

	// ErrStepUpRequired is returned when a sensitive operation is attempted
	// without a live step-up verification window.
	ErrStepUpRequired = errors.New("step-up verification required")
	// ErrOperationDenied is returned when the policy rule set refuses an
	// operation outright.
	ErrOperationDenied = errors.New("operation denied by policy")

	// ErrAlreadyLinked is returned when the identity already holds a link
	// for the provider.
	ErrAlreadyLinked = errors.New("provider already linked")
	// ErrLinkedElsewhere is returned when another identity already holds
	// the (provider, external id) pair.
	ErrLinkedElsewhere = errors.New("provider account linked to another identity")
	// ErrEmailInUse is returned when a link or registration would collide
	// with a different identity's email.
	ErrEmailInUse = errors.New("email in use by another identity")
	// ErrLastAuthMethod is returned when removing a link would leave the
	// identity with no way to authenticate.
	ErrLastAuthMethod = errors.New("cannot remove last authentication method")

	// ErrTokenExpired is returned when an access or refresh token is past
	// its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is returned when a refresh token references a revoked
	// or unknown session.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrProviderUnavailable names network or key-material failures from
	// an external identity provider. Engine methods surface such failures
	// as [ErrInvalidCredential] and log the detail; the sentinel is
	// exported for callers that need the distinction in their own error
	// mapping, and appears in security event codes.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrProviderUnsupported is returned for a provider outside the closed
	// validator set.
	ErrProviderUnsupported = errors.New("identity provider not supported")

	// ErrRateLimited is returned when a shared counter (login attempts, OTP
	// resend) refuses the operation. An unreachable limiter backend also
	// produces this: the limiter fails toward rejecting, never bypassing.
	ErrRateLimited = errors.New("rate limited")
	// ErrBackendUnavailable wraps Redis failures behind the ephemeral
	// stores.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrSessionNotFound is returned when the session record does not exist
	// or has expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrPasswordPolicy is returned when a new password fails the
	// configured policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrEngineNotReady is returned when the engine is used before Build
	// wired a required dependency.
	ErrEngineNotReady = errors.New("engine not initialized")
)
