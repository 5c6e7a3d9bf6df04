package goIdentity

import (
	"errors"
	"time"
)

// Config is the complete engine configuration. It is passed to the
// builder, cloned, validated once, and treated as immutable afterwards.
// There is no ambient global state: tests can vary any flag per run.
type Config struct {
	JWT      JWTConfig
	Session  SessionConfig
	OTP      OTPConfig
	StepUp   StepUpConfig
	Lockout  LockoutConfig
	Password PasswordConfig
	Provider ProviderConfig
	Policy   []PolicyRule
	Events   EventConfig
	Metrics  MetricsConfig
	History  HistoryConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token minting. Access tokens are short-lived,
// signed, and stateless; revocation is handled at the refresh layer.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the Redis-backed session records that track
// refresh tokens per device.
type SessionConfig struct {
	RedisPrefix string
	RefreshTTL  time.Duration // session lifetime; refresh tokens die with it
	// MaxDevices caps the trusted-device list per identity. 0 disables the
	// cap.
	MaxDevices int
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig controls the one-time-code challenge engine. The OTP branch
// of a login activates only when Enabled, the identity's
// OtpSettings.Enabled, and the operation's requirement all hold.
type OTPConfig struct {
	Enabled     bool
	CodeDigits  int
	ChallengeTTL time.Duration
	MaxAttempts int
	// ResendCooldown bounds how often a challenge may be re-dispatched,
	// independently of verification attempts.
	ResendCooldown time.Duration
	// RequireForHighRisk forces the OTP branch when the fingerprint engine
	// scores the device high-risk, even if the operation itself would not
	// require it.
	RequireForHighRisk bool
	// SkipForTrustedDevices lets a device the identity has marked trusted
	// bypass the login OTP branch.
	SkipForTrustedDevices bool
	// DailyFailureCeiling, when > 0, accumulates failed verifications
	// across challenge re-issues in a 24h window and refuses further
	// issuance once hit. 0 keeps attempt counting per challenge only.
	DailyFailureCeiling int

	// TOTP parameters for the authenticator method.
	TOTPIssuer string
	TOTPPeriod uint
	TOTPSkew   uint
}

/*
====================================
STEP-UP CONFIG
====================================
*/

// StepUpConfig controls the per-session verification window consulted
// before sensitive operations.
type StepUpConfig struct {
	// VerificationTimeout is how long a successful step-up stays valid.
	VerificationTimeout time.Duration
	// StrictPurpose requires the window's purpose to match the gated
	// operation. Off by default: a window earned for any purpose satisfies
	// any gate.
	StrictPurpose bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls failed-password-attempt lockout. The counter is
// a fixed window: Threshold failures inside Window lock the account for
// Duration. The Nth failure locks; the (N-1)th does not.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration
	Duration  time.Duration
	// EnableIPThrottle additionally counts failures per source address.
	EnableIPThrottle bool
	// MaxAttemptsPerIP bounds the per-address counter when enabled.
	MaxAttemptsPerIP int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters and the password policy.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSymbol  bool
	UpgradeOnLogin bool
}

/*
====================================
PROVIDER CONFIG
====================================
*/

// ProviderCredentials identifies this application to one external
// provider.
type ProviderCredentials struct {
	ClientID string
	// Audiences lists additional accepted token audiences (mobile client
	// IDs and the like) beyond ClientID.
	Audiences []string
}

// ProviderConfig configures the external token validators. Providers
// without credentials are left out of the validator set.
type ProviderConfig struct {
	Timeout     time.Duration
	Credentials map[string]ProviderCredentials // keyed by provider name
}

/*
====================================
EVENTS / METRICS / HISTORY
====================================
*/

// EventConfig controls the security-event dispatcher.
type EventConfig struct {
	Enabled bool
	// QueueSize bounds the async dispatch queue; overflow drops the event
	// rather than blocking the parent operation.
	QueueSize int
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// HistoryConfig bounds the per-identity login history.
type HistoryConfig struct {
	MaxRecords int
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "goIdentity",
		},
		Session: SessionConfig{
			RedisPrefix: "gis",
			RefreshTTL:  30 * 24 * time.Hour,
			MaxDevices:  10,
		},
		OTP: OTPConfig{
			Enabled:               true,
			CodeDigits:            6,
			ChallengeTTL:          10 * time.Minute,
			MaxAttempts:           3,
			ResendCooldown:        time.Minute,
			RequireForHighRisk:    true,
			SkipForTrustedDevices: false,
			TOTPIssuer:            "goIdentity",
			TOTPPeriod:            30,
			TOTPSkew:              1,
		},
		StepUp: StepUpConfig{
			VerificationTimeout: 5 * time.Minute,
			StrictPurpose:       false,
		},
		Lockout: LockoutConfig{
			Threshold:        5,
			Window:           15 * time.Minute,
			Duration:         15 * time.Minute,
			EnableIPThrottle: true,
			MaxAttemptsPerIP: 20,
		},
		Password: PasswordConfig{
			Memory:        64 * 1024,
			Time:          3,
			Parallelism:   2,
			SaltLength:    16,
			KeyLength:     32,
			MinLength:     10,
			RequireUpper:  true,
			RequireLower:  true,
			RequireDigit:  true,
			RequireSymbol: false,
		},
		Provider: ProviderConfig{
			Timeout: 10 * time.Second,
		},
		Policy: DefaultPolicy(),
		Events: EventConfig{
			Enabled:   true,
			QueueSize: 256,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		History: HistoryConfig{
			MaxRecords: 50,
		},
	}
}

// Validate checks configuration invariants that would otherwise surface
// as runtime misbehavior.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT.AccessTTL must be positive")
	}
	switch c.JWT.SigningMethod {
	case "ed25519", "hs256":
	default:
		return errors.New("JWT.SigningMethod must be ed25519 or hs256")
	}
	if c.Session.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("Session.RefreshTTL must exceed JWT.AccessTTL")
	}
	if c.OTP.CodeDigits < 4 || c.OTP.CodeDigits > 10 {
		return errors.New("OTP.CodeDigits must be between 4 and 10")
	}
	if c.OTP.MaxAttempts < 1 {
		return errors.New("OTP.MaxAttempts must be at least 1")
	}
	if c.OTP.ChallengeTTL <= 0 {
		return errors.New("OTP.ChallengeTTL must be positive")
	}
	if c.StepUp.VerificationTimeout <= 0 {
		return errors.New("StepUp.VerificationTimeout must be positive")
	}
	if c.Lockout.Threshold < 1 {
		return errors.New("Lockout.Threshold must be at least 1")
	}
	if c.Lockout.Window <= 0 || c.Lockout.Duration <= 0 {
		return errors.New("Lockout.Window and Lockout.Duration must be positive")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password.MinLength must be at least 8")
	}
	if len(c.Policy) == 0 {
		return errors.New("Policy must contain at least one rule")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.Provider.Credentials != nil {
		creds := make(map[string]ProviderCredentials, len(cfg.Provider.Credentials))
		for name, c := range cfg.Provider.Credentials {
			c.Audiences = append([]string(nil), c.Audiences...)
			creds[name] = c
		}
		out.Provider.Credentials = creds
	}
	if cfg.Policy != nil {
		rules := make([]PolicyRule, len(cfg.Policy))
		copy(rules, cfg.Policy)
		for i := range rules {
			rules[i].Operations = append([]string(nil), cfg.Policy[i].Operations...)
		}
		out.Policy = rules
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
