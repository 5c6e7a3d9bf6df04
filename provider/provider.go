package provider

import (
	"context"
	"errors"
	"fmt"
)

// Name identifies one supported external provider. The set is closed:
// adding a provider means adding a validator variant here, not branching
// elsewhere.
type Name string

const (
	Google    Name = "google"
	Facebook  Name = "facebook"
	Twitter   Name = "twitter"
	GitHub    Name = "github"
	Apple     Name = "apple"
	LinkedIn  Name = "linkedin"
	Microsoft Name = "microsoft"
	Discord   Name = "discord"
)

var allProviders = map[Name]bool{
	Google: true, Facebook: true, Twitter: true, GitHub: true,
	Apple: true, LinkedIn: true, Microsoft: true, Discord: true,
}

// Valid reports whether the name is one of the supported providers.
func (n Name) Valid() bool { return allProviders[n] }

// ErrUnsupported is returned when a credential names a provider outside
// the supported set or one with no configured validator.
var ErrUnsupported = errors.New("unsupported provider")

// ErrInvalidToken wraps every verification failure: bad signature, wrong
// issuer or audience, expired token, rejected bearer token.
var ErrInvalidToken = errors.New("provider token invalid")

// ErrUnreachable wraps network failures talking to the provider.
var ErrUnreachable = errors.New("provider unreachable")

// ExternalProfile is the provider-neutral identity a validator extracts
// from a verified credential. ExternalID is the provider's stable subject
// identifier; everything else is best effort and may be empty.
type ExternalProfile struct {
	ExternalID    string
	Email         string
	EmailVerified bool
	DisplayName   string
	AvatarURL     string
}

// Validator verifies one provider's raw credential and extracts the
// profile it attests to.
type Validator interface {
	Name() Name
	Validate(ctx context.Context, rawToken string) (*ExternalProfile, error)
}

// Registry holds the configured validators.
type Registry struct {
	validators map[Name]Validator
}

// NewRegistry builds a registry from the given validators. Duplicate
// names are rejected.
func NewRegistry(validators ...Validator) (*Registry, error) {
	r := &Registry{validators: make(map[Name]Validator, len(validators))}
	for _, v := range validators {
		name := v.Name()
		if !name.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnsupported, name)
		}
		if _, dup := r.validators[name]; dup {
			return nil, fmt.Errorf("duplicate validator for provider %q", name)
		}
		r.validators[name] = v
	}
	return r, nil
}

// Validate dispatches to the named provider's validator.
func (r *Registry) Validate(ctx context.Context, name Name, rawToken string) (*ExternalProfile, error) {
	v, ok := r.validators[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
	return v.Validate(ctx, rawToken)
}

// Has reports whether a validator is configured for the provider.
func (r *Registry) Has(name Name) bool {
	_, ok := r.validators[name]
	return ok
}
