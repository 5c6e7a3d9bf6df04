package goIdentity

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goIdentity/session"
)

const stepUpPurposePrefix = "step_up:"

// RequestStepUp opens a one-time-code challenge that, once confirmed,
// marks the session's verification window for the given purpose. It
// returns the challenge handle and the delivery method.
func (e *Engine) RequestStepUp(ctx context.Context, sessionID, purpose string) (string, OTPMethod, error) {
	if e == nil || e.sessions == nil {
		return "", 0, ErrEngineNotReady
	}

	sess, err := e.getSession(ctx, sessionID)
	if err != nil {
		return "", 0, err
	}

	identity, err := e.store.FindByID(ctx, sess.IdentityID)
	if err != nil {
		return "", 0, err
	}
	if err := identityUsable(identity, time.Now()); err != nil {
		return "", 0, err
	}
	if !e.config.OTP.Enabled || !identity.OtpSettings.Enabled {
		return "", 0, ErrOTPDisabled
	}

	return e.issueOTPChallenge(ctx, identity, stepUpPurposePrefix+purpose)
}

// VerifyStepUp confirms the step-up challenge code and marks the
// session's verification window. A login challenge handle does not
// satisfy a step-up gate: purposes are distinct.
func (e *Engine) VerifyStepUp(ctx context.Context, sessionID, challenge, code, purpose string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	sess, err := e.getSession(ctx, sessionID)
	if err != nil {
		return err
	}

	identityID, nonce, err := decodeChallengeHandle(challenge)
	if err != nil {
		return ErrOTPInvalid
	}
	if identityID != sess.IdentityID {
		return ErrOTPInvalid
	}

	identity, err := e.store.FindByID(ctx, identityID)
	if err != nil {
		return ErrOTPInvalid
	}
	if err := identityUsable(identity, time.Now()); err != nil {
		return err
	}

	if err := e.verifyOTPChallenge(ctx, identity, nonce, code, stepUpPurposePrefix+purpose); err != nil {
		e.metricInc(MetricStepUpRejected)
		e.emitEvent(ctx, eventOTPFailure, false, identity.ID, sessionID, "", err, func() map[string]string {
			return map[string]string{"purpose": purpose}
		})
		return err
	}

	if err := e.sessions.SetVerification(ctx, sessionID, true, time.Now().Unix(), purpose); err != nil {
		return ErrBackendUnavailable
	}

	e.metricInc(MetricStepUpVerified)
	e.emitEvent(ctx, eventStepUpVerified, true, identity.ID, sessionID, "", nil, func() map[string]string {
		return map[string]string{"purpose": purpose}
	})
	return nil
}

// CheckStepUp reports whether the session's verification window is live
// for the purpose. With strict purpose matching off, a window earned for
// any purpose satisfies any check.
func (e *Engine) CheckStepUp(ctx context.Context, sessionID, purpose string) (StepUpStatus, bool, error) {
	if e == nil || e.sessions == nil {
		return StepUpStatus{}, false, ErrEngineNotReady
	}

	sess, err := e.getSession(ctx, sessionID)
	if err != nil {
		return StepUpStatus{}, false, err
	}

	status := StepUpStatus{
		Verified:   sess.Verified,
		VerifiedAt: time.Unix(sess.VerifiedAt, 0),
		Purpose:    sess.Purpose,
	}
	live := sess.StepUpValid(time.Now(), purpose, e.config.StepUp.VerificationTimeout, e.config.StepUp.StrictPurpose)
	return status, live, nil
}

// ClearStepUp resets the session's verification window.
func (e *Engine) ClearStepUp(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if err := e.sessions.SetVerification(ctx, sessionID, false, 0, ""); err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrExpired) {
			return ErrSessionNotFound
		}
		return ErrBackendUnavailable
	}
	return nil
}

// authorize loads the session and applies the policy rule set to the
// operation. Sensitive operations pass only inside a live verification
// window.
func (e *Engine) authorize(ctx context.Context, sessionID, op string) (*session.Session, error) {
	sess, err := e.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch evaluatePolicy(e.config.Policy, op) {
	case DecisionAllow:
		return sess, nil
	case DecisionStepUp:
		if sess.StepUpValid(time.Now(), op, e.config.StepUp.VerificationTimeout, e.config.StepUp.StrictPurpose) {
			return sess, nil
		}
		e.emitEvent(ctx, eventStepUpRequired, false, sess.IdentityID, sessionID, "", ErrStepUpRequired, func() map[string]string {
			return map[string]string{"operation": op}
		})
		return nil, ErrStepUpRequired
	default:
		return nil, ErrOperationDenied
	}
}

func (e *Engine) getSession(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrExpired) {
			return nil, ErrSessionNotFound
		}
		return nil, ErrBackendUnavailable
	}
	return sess, nil
}
