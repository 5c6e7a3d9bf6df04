package goIdentity

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/session"
)

// AccessIdentity is the claim set extracted from a verified access
// token.
type AccessIdentity struct {
	IdentityID string
	SessionID  string
	DeviceID   string
	ExpiresAt  time.Time
}

// ValidateAccess verifies an access token's signature and claims. The
// check is stateless: a token minted before its session was revoked
// stays valid until its own expiry, which is why access lifetimes are
// short.
func (e *Engine) ValidateAccess(tokenString string) (*AccessIdentity, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.Parse(tokenString)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidCredential
	}

	return &AccessIdentity{
		IdentityID: claims.Subject,
		SessionID:  claims.SessionID,
		DeviceID:   claims.DeviceID,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

// RefreshSession rotates the refresh token and mints a fresh access
// token. Presenting an already-rotated refresh token is treated as
// theft: the whole session is revoked and both the original holder and
// the thief are cut off at the refresh layer.
func (e *Engine) RefreshSession(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	sessionID, providedSecret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrTokenRevoked
	}

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	sess, err := e.sessions.Rotate(
		ctx,
		sessionID,
		internal.HashRefreshSecret(providedSecret),
		internal.HashRefreshSecret(nextSecret),
	)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshMismatch):
			e.metricInc(MetricRefreshReuseDetected)
			e.metricInc(MetricSessionInvalidated)
			e.emitEvent(ctx, eventRefreshReuse, false, "", sessionID, "", ErrTokenRevoked, nil)
			return nil, ErrTokenRevoked
		case errors.Is(err, session.ErrExpired):
			e.metricInc(MetricRefreshFailure)
			return nil, ErrTokenExpired
		case errors.Is(err, session.ErrNotFound):
			e.metricInc(MetricRefreshFailure)
			return nil, ErrTokenRevoked
		default:
			e.metricInc(MetricRefreshFailure)
			return nil, ErrBackendUnavailable
		}
	}

	now := time.Now()
	access, expiresAt, err := e.jwtManager.Mint(sess.IdentityID, sess.SessionID, sess.DeviceID, now)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	refresh, err := internal.EncodeRefreshToken(sess.SessionID, nextSecret)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitEvent(ctx, eventSessionRefreshed, true, sess.IdentityID, sess.SessionID, sess.DeviceID, nil, nil)

	return &TokenPair{
		AccessToken:          access,
		RefreshToken:         refresh,
		AccessTokenExpiresAt: expiresAt,
		SessionID:            sess.SessionID,
		DeviceID:             sess.DeviceID,
	}, nil
}

// RevokeSession deletes one session. Outstanding access tokens for it
// keep working until their natural expiry; only refreshing is cut off.
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		return ErrBackendUnavailable
	}

	e.metricInc(MetricSessionInvalidated)
	e.emitEvent(ctx, eventSessionRevoked, true, "", sessionID, "", nil, nil)
	return nil
}

// RevokeAllSessions revokes every session of the acting session's
// identity, the acting session included. The operation is gated by the
// policy rule set and normally requires a live step-up window.
func (e *Engine) RevokeAllSessions(ctx context.Context, sessionID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	sess, err := e.authorize(ctx, sessionID, OpRevokeAllSessions)
	if err != nil {
		return 0, err
	}

	count, err := e.sessions.DeleteAll(ctx, sess.IdentityID)
	if err != nil {
		return 0, ErrBackendUnavailable
	}

	e.metricInc(MetricSessionInvalidated)
	e.emitEvent(ctx, eventSessionsRevokedAll, true, sess.IdentityID, sessionID, "", nil, nil)
	return count, nil
}

// ListSessions returns the live session IDs of the identity.
func (e *Engine) ListSessions(ctx context.Context, identityID string) ([]string, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	ids, err := e.sessions.Sessions(ctx, identityID)
	if err != nil {
		return nil, ErrBackendUnavailable
	}
	return ids, nil
}
