package goIdentity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/provider"
	"github.com/MrEthical07/goIdentity/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. Redis and an [IdentityStore] are
// mandatory; everything else has a usable default.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store      IdentityStore
	notifier   Notifier
	eventSink  EventSink
	logger     *zap.Logger
	validators []provider.Validator

	built bool
}

// New returns a builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing sessions, challenges, and counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore sets the durable credential store.
func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.store = store
	return b
}

// WithNotifier sets the one-time-code delivery collaborator. Without one,
// email and SMS codes are generated but not dispatched.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithEventSink sets the security event consumer.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	return b
}

// WithLogger sets the internal logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.logger = log
	return b
}

// WithProviderValidator registers a custom external provider validator,
// replacing the one Build would construct from configuration.
func (b *Builder) WithProviderValidator(v provider.Validator) *Builder {
	b.validators = append(b.validators, v)
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build wires the engine. Signing material is generated when the
// configuration carries none, so a fresh Ed25519 key pair backs access
// tokens in that case; restarting then invalidates outstanding tokens.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("identity store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.JWT.SigningMethod == "ed25519" && len(cfg.JWT.PrivateKey) == 0 {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		cfg.JWT.PrivateKey = priv
		cfg.JWT.PublicKey = pub
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	hasher, err := password.NewHasher(password.Params{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
	})
	if err != nil {
		return nil, err
	}

	validators, err := b.buildValidators(cfg)
	if err != nil {
		return nil, err
	}
	registry, err := provider.NewRegistry(validators...)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		log:        logger,
		store:      b.store,
		notifier:   b.notifier,
		providers:  registry,
		hasher:     hasher,
		jwtManager: jwtManager,
		passPolicy: password.Policy{
			MinLength:     cfg.Password.MinLength,
			RequireUpper:  cfg.Password.RequireUpper,
			RequireLower:  cfg.Password.RequireLower,
			RequireDigit:  cfg.Password.RequireDigit,
			RequireSymbol: cfg.Password.RequireSymbol,
		},
		sessions: session.NewStore(b.redis, cfg.Session.RedisPrefix),
		otpStore: newOTPChallengeStore(b.redis, cfg.Session.RedisPrefix),
		links:    newSocialLinkClaims(b.redis, cfg.Session.RedisPrefix),
		limiter: rate.New(b.redis, rate.Config{
			LockoutThreshold:    cfg.Lockout.Threshold,
			LockoutWindow:       cfg.Lockout.Window,
			EnableIPThrottle:    cfg.Lockout.EnableIPThrottle,
			MaxAttemptsPerIP:    cfg.Lockout.MaxAttemptsPerIP,
			ResendCooldown:      cfg.OTP.ResendCooldown,
			DailyFailureCeiling: cfg.OTP.DailyFailureCeiling,
		}),
		events:  newEventDispatcher(cfg.Events, b.eventSink),
		metrics: NewMetrics(cfg.Metrics),
	}

	b.built = true
	return engine, nil
}

// buildValidators constructs validators for every provider with
// configured credentials, with explicitly registered validators taking
// precedence.
func (b *Builder) buildValidators(cfg Config) ([]provider.Validator, error) {
	byName := make(map[provider.Name]provider.Validator)
	for _, v := range b.validators {
		byName[v.Name()] = v
	}

	for name, creds := range cfg.Provider.Credentials {
		pn := provider.Name(name)
		if !pn.Valid() {
			return nil, fmt.Errorf("unknown provider in config: %q", name)
		}
		if _, ok := byName[pn]; ok {
			continue
		}

		audiences := creds.Audiences
		if creds.ClientID != "" {
			audiences = append([]string{creds.ClientID}, audiences...)
		}

		var (
			v   provider.Validator
			err error
		)
		switch pn {
		case provider.Google:
			v, err = provider.NewGoogle(context.Background(), audiences)
		case provider.Apple:
			v, err = provider.NewApple(context.Background(), audiences)
		case provider.Microsoft:
			v, err = provider.NewMicrosoft(context.Background(), audiences)
		case provider.LinkedIn:
			v, err = provider.NewLinkedIn(context.Background(), audiences)
		case provider.GitHub:
			v = provider.NewGitHub(cfg.Provider.Timeout)
		case provider.Facebook:
			v = provider.NewFacebook(cfg.Provider.Timeout)
		case provider.Discord:
			v = provider.NewDiscord(cfg.Provider.Timeout)
		case provider.Twitter:
			v = provider.NewTwitter(cfg.Provider.Timeout)
		}
		if err != nil {
			return nil, err
		}
		byName[pn] = v
	}

	out := make([]provider.Validator, 0, len(byName))
	for _, v := range byName {
		out = append(out, v)
	}
	return out, nil
}
