package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// idClaims covers the identity-token claims shared by the OIDC-style
// providers. Providers that omit a field simply leave it zero.
type idClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// OIDCValidator verifies signed identity tokens against a provider's
// published JWKS. Key material is fetched lazily on first use and
// refreshed in the background by keyfunc.
type OIDCValidator struct {
	name     Name
	jwksURL  string
	issuers  []string
	audience []string

	jwks keyfunc.Keyfunc
}

// NewOIDC builds a validator for one identity-token provider. audience
// holds the accepted "aud" values, normally the application client IDs.
func NewOIDC(ctx context.Context, name Name, jwksURL string, issuers, audience []string) (*OIDCValidator, error) {
	if len(audience) == 0 {
		return nil, fmt.Errorf("provider %q: at least one audience required", name)
	}
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("%w: jwks fetch for %q: %v", ErrUnreachable, name, err)
	}
	return &OIDCValidator{
		name:     name,
		jwksURL:  jwksURL,
		issuers:  issuers,
		audience: audience,
		jwks:     jwks,
	}, nil
}

// NewGoogle verifies Google ID tokens.
func NewGoogle(ctx context.Context, audience []string) (*OIDCValidator, error) {
	return NewOIDC(ctx, Google,
		"https://www.googleapis.com/oauth2/v3/certs",
		[]string{"https://accounts.google.com", "accounts.google.com"},
		audience)
}

// NewApple verifies Sign in with Apple ID tokens. Apple does not put
// display name or avatar in the token, so those fields stay empty.
func NewApple(ctx context.Context, audience []string) (*OIDCValidator, error) {
	return NewOIDC(ctx, Apple,
		"https://appleid.apple.com/auth/keys",
		[]string{"https://appleid.apple.com"},
		audience)
}

// NewMicrosoft verifies Microsoft identity platform ID tokens. Issuers
// are tenant-scoped, so the issuer check accepts any
// login.microsoftonline.com tenant.
func NewMicrosoft(ctx context.Context, audience []string) (*OIDCValidator, error) {
	return NewOIDC(ctx, Microsoft,
		"https://login.microsoftonline.com/common/discovery/v2.0/keys",
		nil, audience)
}

// NewLinkedIn verifies LinkedIn OpenID Connect ID tokens.
func NewLinkedIn(ctx context.Context, audience []string) (*OIDCValidator, error) {
	return NewOIDC(ctx, LinkedIn,
		"https://www.linkedin.com/oauth/openid/jwks",
		[]string{"https://www.linkedin.com/oauth"},
		audience)
}

func (v *OIDCValidator) Name() Name { return v.name }

// Validate parses and verifies rawToken and extracts the profile. Any
// failure along the way is an invalid credential.
func (v *OIDCValidator) Validate(ctx context.Context, rawToken string) (*ExternalProfile, error) {
	claims := &idClaims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, v.jwks.Keyfunc,
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidToken, v.name, err)
	}

	if !v.issuerAllowed(claims.Issuer) {
		return nil, fmt.Errorf("%w: %q: issuer %q not accepted", ErrInvalidToken, v.name, claims.Issuer)
	}
	if !v.audienceAllowed(claims.Audience) {
		return nil, fmt.Errorf("%w: %q: audience not accepted", ErrInvalidToken, v.name)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: %q: missing subject", ErrInvalidToken, v.name)
	}

	return &ExternalProfile{
		ExternalID:    claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		DisplayName:   claims.Name,
		AvatarURL:     claims.Picture,
	}, nil
}

func (v *OIDCValidator) issuerAllowed(issuer string) bool {
	if v.name == Microsoft {
		return strings.HasPrefix(issuer, "https://login.microsoftonline.com/")
	}
	for _, allowed := range v.issuers {
		if issuer == allowed {
			return true
		}
	}
	return false
}

func (v *OIDCValidator) audienceAllowed(aud jwt.ClaimStrings) bool {
	for _, got := range aud {
		for _, want := range v.audience {
			if got == want {
				return true
			}
		}
	}
	return false
}
