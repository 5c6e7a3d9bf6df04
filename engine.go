package goIdentity

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goIdentity/fingerprint"
	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/provider"
	"github.com/MrEthical07/goIdentity/session"
	"go.uber.org/zap"
)

// Engine is the transport-agnostic identity core. It owns login
// orchestration, one-time-code challenges, social identity linking,
// token issuance, and the step-up verification window. Build one with
// [Builder]; an Engine is immutable and safe for concurrent use.
type Engine struct {
	config     Config
	log        *zap.Logger
	store      IdentityStore
	notifier   Notifier
	providers  *provider.Registry
	hasher     *password.Hasher
	passPolicy password.Policy
	jwtManager *jwt.Manager
	sessions   *session.Store
	otpStore   *otpChallengeStore
	links      *socialLinkClaims
	limiter    *rate.Limiter
	events     *eventDispatcher
	metrics    *Metrics
}

// Close stops the event dispatcher after draining its queue.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.events != nil {
		e.events.Close()
	}
}

// EventsDropped reports how many security events overflowed the queue.
func (e *Engine) EventsDropped() uint64 {
	if e == nil || e.events == nil {
		return 0
	}
	return e.events.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// issueSession creates the session record and mints the token pair for
// an authenticated identity on the given device.
func (e *Engine) issueSession(ctx context.Context, identity *Identity, deviceID string) (*TokenPair, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	sessionID := sid.String()

	refreshSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &session.Session{
		SessionID:   sessionID,
		IdentityID:  identity.ID,
		DeviceID:    deviceID,
		RefreshHash: internal.HashRefreshSecret(refreshSecret),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(e.config.Session.RefreshTTL).Unix(),
	}

	if err := e.sessions.Save(ctx, sess, e.config.Session.RefreshTTL); err != nil {
		return nil, ErrBackendUnavailable
	}

	access, expiresAt, err := e.jwtManager.Mint(identity.ID, sessionID, deviceID, now)
	if err != nil {
		return nil, err
	}

	refresh, err := internal.EncodeRefreshToken(sessionID, refreshSecret)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.emitEvent(ctx, eventSessionIssued, true, identity.ID, sessionID, deviceID, nil, nil)

	return &TokenPair{
		AccessToken:          access,
		RefreshToken:         refresh,
		AccessTokenExpiresAt: expiresAt,
		SessionID:            sessionID,
		DeviceID:             deviceID,
	}, nil
}

// recordLogin appends a history entry and refreshes the device record on
// the identity, then saves it. History and device bookkeeping are best
// effort: a failed save is logged, never surfaced, because the login
// itself already succeeded.
func (e *Engine) recordLogin(ctx context.Context, identity *Identity, fp fingerprint.Result, method string) {
	now := time.Now()

	record := LoginRecord{
		At:       now,
		DeviceID: fp.DeviceID,
		IP:       clientIPFromContext(ctx),
		Method:   method,
		Risk:     fp.Suspicion.Risk,
	}
	identity.LoginHistory = append(identity.LoginHistory, record)
	if max := e.config.History.MaxRecords; max > 0 && len(identity.LoginHistory) > max {
		identity.LoginHistory = identity.LoginHistory[len(identity.LoginHistory)-max:]
	}

	seen := false
	for i := range identity.TrustedDevices {
		if identity.TrustedDevices[i].DeviceID == fp.DeviceID {
			identity.TrustedDevices[i].LastSeen = now
			identity.TrustedDevices[i].FingerprintHash = fp.FingerprintHash
			seen = true
			break
		}
	}
	if !seen {
		device := TrustedDevice{
			DeviceID:        fp.DeviceID,
			FingerprintHash: fp.FingerprintHash,
			FirstSeen:       now,
			LastSeen:        now,
		}
		identity.TrustedDevices = append(identity.TrustedDevices, device)
		if max := e.config.Session.MaxDevices; max > 0 && len(identity.TrustedDevices) > max {
			identity.TrustedDevices = identity.TrustedDevices[len(identity.TrustedDevices)-max:]
		}
		e.emitEvent(ctx, eventNewDeviceSeen, true, identity.ID, "", fp.DeviceID, nil, nil)
	}

	identity.UpdatedAt = now
	if err := e.store.Save(ctx, identity); err != nil {
		e.log.Warn("login bookkeeping save failed",
			zap.String("identity_id", identity.ID),
			zap.Error(err))
	}
}

func (e *Engine) deviceTrusted(identity *Identity, deviceID string) bool {
	for _, d := range identity.TrustedDevices {
		if d.DeviceID == deviceID && d.Trusted {
			return true
		}
	}
	return false
}

// identityUsable maps identity status to the login error taxonomy. An
// expired lock unlocks in memory; the caller persists the transition
// with its next save.
func identityUsable(identity *Identity, now time.Time) error {
	switch identity.Status {
	case IdentityLocked:
		if now.Before(identity.LockedUntil) {
			return ErrAccountLocked
		}
		identity.Status = IdentityActive
		identity.LockedUntil = time.Time{}
		return nil
	case IdentityInactive:
		return ErrIdentityInactive
	default:
		return nil
	}
}

// mapRateErr keeps the limiter fail-closed: an unreachable counter
// backend rejects the operation the same way an exceeded counter does.
func mapRateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, rate.ErrRateLimited) || errors.Is(err, rate.ErrRedisUnavailable) {
		return ErrRateLimited
	}
	return ErrRateLimited
}
