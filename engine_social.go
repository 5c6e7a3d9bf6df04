package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/fingerprint"
	"github.com/MrEthical07/goIdentity/provider"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// socialLinkClaims arbitrates concurrent claims on a (provider, external
// id) pair. A conditional write decides the winner; the durable store is
// the backstop for claims that predate this engine instance.
type socialLinkClaims struct {
	redis  redis.UniversalClient
	prefix string
}

func newSocialLinkClaims(redisClient redis.UniversalClient, prefix string) *socialLinkClaims {
	return &socialLinkClaims{redis: redisClient, prefix: prefix}
}

func (c *socialLinkClaims) key(p provider.Name, externalID string) string {
	return c.prefix + ":sl:" + string(p) + ":" + externalID
}

// Claim attempts to take the pair for identityID. It returns the owning
// identity: the caller wins when owner == identityID.
func (c *socialLinkClaims) Claim(ctx context.Context, p provider.Name, externalID, identityID string) (string, error) {
	key := c.key(p, externalID)
	ok, err := c.redis.SetNX(ctx, key, identityID, 0).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if ok {
		return identityID, nil
	}
	owner, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return owner, nil
}

// Release frees the pair, but only if identityID still owns it.
func (c *socialLinkClaims) Release(ctx context.Context, p provider.Name, externalID, identityID string) error {
	key := c.key(p, externalID)
	owner, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if owner != identityID {
		return nil
	}
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// validateProviderToken runs the external validation with the configured
// timeout and collapses every failure to the credential taxonomy.
// Provider-side detail goes to the log only.
func (e *Engine) validateProviderToken(ctx context.Context, p provider.Name, rawToken string) (*provider.ExternalProfile, error) {
	if !p.Valid() || !e.providers.Has(p) {
		return nil, ErrProviderUnsupported
	}

	vctx := ctx
	if e.config.Provider.Timeout > 0 {
		var cancel context.CancelFunc
		vctx, cancel = context.WithTimeout(ctx, e.config.Provider.Timeout)
		defer cancel()
	}

	profile, err := e.providers.Validate(vctx, p, rawToken)
	if err != nil {
		e.log.Info("provider token validation failed",
			zap.String("provider", string(p)),
			zap.Error(err))
		return nil, ErrInvalidCredential
	}
	return profile, nil
}

// socialLogin implements login-or-register for an external credential.
// A matching link authenticates that identity; an unknown external
// account registers a fresh one. Two distinct existing identities are
// never merged.
func (e *Engine) socialLogin(ctx context.Context, cred Credential, fp fingerprint.Result) (*LoginResult, error) {
	profile, err := e.validateProviderToken(ctx, cred.Provider, cred.Token)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitEvent(ctx, eventLoginFailure, false, "", "", fp.DeviceID, err, func() map[string]string {
			return map[string]string{"provider": string(cred.Provider)}
		})
		return nil, err
	}

	identity, err := e.store.FindBySocialLink(ctx, cred.Provider, profile.ExternalID)
	switch {
	case err == nil:
		if usableErr := identityUsable(identity, time.Now()); usableErr != nil {
			e.metricInc(MetricLoginFailure)
			e.emitEvent(ctx, eventLoginFailure, false, identity.ID, "", fp.DeviceID, usableErr, nil)
			return nil, usableErr
		}
		e.metricInc(MetricSocialLogin)
		e.emitEvent(ctx, eventSocialLogin, true, identity.ID, "", fp.DeviceID, nil, func() map[string]string {
			return map[string]string{"provider": string(cred.Provider)}
		})
		return e.completeLogin(ctx, identity, fp, "social:"+string(cred.Provider))

	case errors.Is(err, ErrIdentityNotFound):
		return e.socialRegister(ctx, cred.Provider, profile, fp)

	default:
		return nil, ErrBackendUnavailable
	}
}

func (e *Engine) socialRegister(ctx context.Context, p provider.Name, profile *provider.ExternalProfile, fp fingerprint.Result) (*LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(profile.Email))
	if email != "" {
		if _, err := e.store.FindByEmail(ctx, email); err == nil {
			e.metricInc(MetricSocialLinkConflict)
			e.emitEvent(ctx, eventSocialLinkConflict, false, "", "", fp.DeviceID, ErrEmailInUse, func() map[string]string {
				return map[string]string{"provider": string(p)}
			})
			return nil, ErrEmailInUse
		} else if !errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrBackendUnavailable
		}
	}

	identityID := uuid.NewString()

	owner, err := e.links.Claim(ctx, p, profile.ExternalID, identityID)
	if err != nil {
		return nil, err
	}
	if owner != identityID {
		// A concurrent registration or link already took the pair.
		return nil, ErrLinkedElsewhere
	}

	now := time.Now()
	identity := &Identity{
		ID:          identityID,
		Email:       email,
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
		Status:      IdentityActive,
		SocialLinks: []SocialLink{{
			Provider:    p,
			ProviderID:  profile.ExternalID,
			Email:       email,
			Verified:    true,
			ConnectedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.store.Create(ctx, identity); err != nil {
		_ = e.links.Release(ctx, p, profile.ExternalID, identityID)
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailInUse
		}
		return nil, ErrBackendUnavailable
	}

	e.metricInc(MetricSocialRegistration)
	e.emitEvent(ctx, eventSocialRegistered, true, identity.ID, "", fp.DeviceID, nil, func() map[string]string {
		return map[string]string{"provider": string(p)}
	})

	result, err := e.completeLogin(ctx, identity, fp, "social:"+string(p))
	if err != nil {
		return nil, err
	}
	result.IsNewUser = true
	return result, nil
}

// LinkSocial validates the provider token and attaches the resulting
// external account to the identity. The (provider, external id) pair is
// unique across all identities; concurrent link attempts resolve to one
// winner.
func (e *Engine) LinkSocial(ctx context.Context, identityID string, p provider.Name, rawToken string) (*SocialLink, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	identity, err := e.store.FindByID(ctx, identityID)
	if err != nil {
		return nil, err
	}

	profile, err := e.validateProviderToken(ctx, p, rawToken)
	if err != nil {
		return nil, err
	}

	if _, linked := identity.LinkFor(p); linked {
		e.metricInc(MetricSocialLinkConflict)
		e.emitEvent(ctx, eventSocialLinkConflict, false, identity.ID, "", "", ErrAlreadyLinked, func() map[string]string {
			return map[string]string{"provider": string(p)}
		})
		return nil, ErrAlreadyLinked
	}

	// A profile email belonging to a different identity blocks the link:
	// attaching it would tie one external account to two local emails.
	email := strings.ToLower(strings.TrimSpace(profile.Email))
	if email != "" && email != identity.Email {
		if other, err := e.store.FindByEmail(ctx, email); err == nil && other.ID != identity.ID {
			e.metricInc(MetricSocialLinkConflict)
			e.emitEvent(ctx, eventSocialLinkConflict, false, identity.ID, "", "", ErrEmailInUse, func() map[string]string {
				return map[string]string{"provider": string(p)}
			})
			return nil, ErrEmailInUse
		} else if err != nil && !errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrBackendUnavailable
		}
	}

	owner, err := e.links.Claim(ctx, p, profile.ExternalID, identity.ID)
	if err != nil {
		return nil, err
	}
	if owner != identity.ID {
		e.metricInc(MetricSocialLinkConflict)
		e.emitEvent(ctx, eventSocialLinkConflict, false, identity.ID, "", "", ErrLinkedElsewhere, func() map[string]string {
			return map[string]string{"provider": string(p)}
		})
		return nil, ErrLinkedElsewhere
	}

	// Durable backstop for pairs claimed before this engine's claim keys
	// existed.
	if other, err := e.store.FindBySocialLink(ctx, p, profile.ExternalID); err == nil && other.ID != identity.ID {
		_ = e.links.Release(ctx, p, profile.ExternalID, identity.ID)
		e.metricInc(MetricSocialLinkConflict)
		return nil, ErrLinkedElsewhere
	} else if err != nil && !errors.Is(err, ErrIdentityNotFound) {
		_ = e.links.Release(ctx, p, profile.ExternalID, identity.ID)
		return nil, ErrBackendUnavailable
	}

	link := SocialLink{
		Provider:    p,
		ProviderID:  profile.ExternalID,
		Email:       email,
		Verified:    profile.EmailVerified,
		ConnectedAt: time.Now(),
	}
	identity.SocialLinks = append(identity.SocialLinks, link)
	identity.UpdatedAt = time.Now()

	if err := e.store.Save(ctx, identity); err != nil {
		_ = e.links.Release(ctx, p, profile.ExternalID, identity.ID)
		return nil, ErrBackendUnavailable
	}

	e.metricInc(MetricSocialLinked)
	e.emitEvent(ctx, eventSocialLinked, true, identity.ID, "", "", nil, func() map[string]string {
		return map[string]string{"provider": string(p)}
	})

	return &link, nil
}

// UnlinkSocial detaches a provider link. Removal is refused when it
// would leave the identity with neither a password nor any other link.
// providerID narrows the match when given; empty matches the provider's
// only link.
func (e *Engine) UnlinkSocial(ctx context.Context, identityID string, p provider.Name, providerID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	identity, err := e.store.FindByID(ctx, identityID)
	if err != nil {
		return err
	}

	idx := -1
	for i, l := range identity.SocialLinks {
		if l.Provider != p {
			continue
		}
		if providerID != "" && l.ProviderID != providerID {
			continue
		}
		idx = i
		break
	}
	if idx < 0 {
		return ErrIdentityNotFound
	}

	if !identity.HasPassword() && len(identity.SocialLinks) <= 1 {
		e.emitEvent(ctx, eventSocialUnlinked, false, identity.ID, "", "", ErrLastAuthMethod, func() map[string]string {
			return map[string]string{"provider": string(p)}
		})
		return ErrLastAuthMethod
	}

	removed := identity.SocialLinks[idx]
	identity.SocialLinks = append(identity.SocialLinks[:idx], identity.SocialLinks[idx+1:]...)
	identity.UpdatedAt = time.Now()

	if err := e.store.Save(ctx, identity); err != nil {
		return ErrBackendUnavailable
	}
	_ = e.links.Release(ctx, p, removed.ProviderID, identity.ID)

	e.metricInc(MetricSocialUnlinked)
	e.emitEvent(ctx, eventSocialUnlinked, true, identity.ID, "", "", nil, func() map[string]string {
		return map[string]string{"provider": string(p)}
	})

	return nil
}
