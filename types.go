package goIdentity

import (
	"context"
	"time"

	"github.com/MrEthical07/goIdentity/fingerprint"
	"github.com/MrEthical07/goIdentity/provider"
)

// IdentityStatus represents the lifecycle state of an identity.
type IdentityStatus uint8

const (
	// IdentityActive permits authentication.
	IdentityActive IdentityStatus = iota
	// IdentityLocked blocks authentication until the lock expires.
	IdentityLocked
	// IdentityInactive blocks authentication until reactivated out of band.
	IdentityInactive
)

// OTPMethod selects how a one-time code is verified and, for dispatched
// methods, delivered.
type OTPMethod uint8

const (
	// OTPMethodEmail dispatches a random numeric code by email.
	OTPMethodEmail OTPMethod = iota
	// OTPMethodSMS dispatches a random numeric code by SMS.
	OTPMethodSMS
	// OTPMethodTOTP verifies against the identity's authenticator secret;
	// nothing is dispatched.
	OTPMethodTOTP
)

func (m OTPMethod) String() string {
	switch m {
	case OTPMethodEmail:
		return "email"
	case OTPMethodSMS:
		return "sms"
	case OTPMethodTOTP:
		return "totp"
	default:
		return "unknown"
	}
}

// Identity is the durable authenticated principal. It is owned by the
// [IdentityStore]; the engine mutates it only through store round trips.
type Identity struct {
	ID           string
	Email        string // stored lowercase; uniqueness enforced by the store
	PasswordHash string // empty when the identity has no password
	DisplayName  string
	AvatarURL    string

	Status      IdentityStatus
	LockedUntil time.Time // meaningful only while Status == IdentityLocked

	SocialLinks    []SocialLink
	OtpSettings    OtpSettings
	TOTPSecret     string // base32; set when OTPMethodTOTP is provisioned
	BackupCodes    []BackupCodeRecord
	TrustedDevices []TrustedDevice
	LoginHistory   []LoginRecord

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPassword reports whether password authentication is available.
func (id *Identity) HasPassword() bool { return id.PasswordHash != "" }

// LinkFor returns the social link for the provider, if present.
func (id *Identity) LinkFor(p provider.Name) (SocialLink, bool) {
	for _, l := range id.SocialLinks {
		if l.Provider == p {
			return l, true
		}
	}
	return SocialLink{}, false
}

// SocialLink associates an identity with an external provider account.
// The (Provider, ProviderID) pair is unique across all identities.
type SocialLink struct {
	Provider    provider.Name
	ProviderID  string
	Email       string
	Verified    bool
	ConnectedAt time.Time
}

// OtpSettings holds the identity's one-time-code preferences. The OTP
// branch of a login activates only when the engine-level feature flag,
// Enabled here, and the operation's policy all agree.
type OtpSettings struct {
	Enabled         bool
	Method          OTPMethod
	RequireForLogin bool
	// Destination overrides the dispatch target (email address or phone
	// number). Empty means the identity's primary email.
	Destination string
}

// TrustedDevice is a device record attached to an identity. DeviceID is a
// stable hash of low-entropy request signals; FingerprintHash is a richer
// hash used for similarity scoring, not for identity.
type TrustedDevice struct {
	DeviceID        string
	FingerprintHash string
	FirstSeen       time.Time
	LastSeen        time.Time
	Trusted         bool
	LocationSummary string
}

// LoginRecord is one entry of the bounded login history.
type LoginRecord struct {
	At       time.Time
	DeviceID string
	IP       string
	Method   string // "password", "social:<provider>", "otp"
	Risk     fingerprint.RiskLevel
}

// BackupCodeRecord stores the SHA-256 hash of a single backup code. The
// plaintext is never persisted.
type BackupCodeRecord struct {
	Hash [32]byte
	Used bool
}

// IdentityStore is the durable credential store collaborator. Lookups must
// observe writes (read-after-write consistency) so uniqueness checks hold.
//
// FindByEmail must match case-insensitively. Create must be conditional on
// email uniqueness and return [ErrEmailTaken] when the email is already
// claimed, so that concurrent registrations resolve to exactly one winner.
// Lookup misses return [ErrIdentityNotFound].
type IdentityStore interface {
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByID(ctx context.Context, id string) (*Identity, error)
	FindBySocialLink(ctx context.Context, p provider.Name, providerID string) (*Identity, error)
	Create(ctx context.Context, identity *Identity) error
	Save(ctx context.Context, identity *Identity) error
}

// NotificationPayload carries a dispatched one-time code or alert.
type NotificationPayload struct {
	Code    string
	Purpose string
	Subject string
}

// Notifier delivers one-time codes and security alerts. Dispatch is
// fire-and-forget from the engine's perspective: a delivery error is
// logged but never fails the surrounding operation.
type Notifier interface {
	Send(ctx context.Context, method OTPMethod, identity *Identity, payload NotificationPayload) error
}

// Credential is the input to [Engine.Login]. Exactly one path applies:
// when Provider is set, Token is validated against that provider;
// otherwise Email+Password are checked.
type Credential struct {
	Email    string
	Password string

	Provider provider.Name
	Token    string
}

// TokenPair is the credential set minted when a session is issued.
type TokenPair struct {
	AccessToken          string
	RefreshToken         string
	AccessTokenExpiresAt time.Time
	SessionID            string
	DeviceID             string
}

// LoginResult is returned by [Engine.Login] and [Engine.ConfirmLoginOTP].
// Either Tokens is set, or OTPRequired is true and Challenge identifies
// the pending one-time-code challenge.
type LoginResult struct {
	IdentityID string
	IsNewUser  bool

	OTPRequired bool
	OTPMethod   OTPMethod
	Challenge   string

	Tokens *TokenPair
}

// StepUpStatus reports the session's verification window.
type StepUpStatus struct {
	Verified   bool
	VerifiedAt time.Time
	Purpose    string
}
