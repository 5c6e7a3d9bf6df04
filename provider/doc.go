// Package provider validates external identity credentials and
// normalizes the result to a single [ExternalProfile] shape.
//
// There is one [Validator] per supported provider, all behind the same
// capability: Validate(raw credential) -> profile or error. Providers
// that issue signed identity tokens (Google, Apple, Microsoft, LinkedIn)
// verify signature, issuer and audience against the provider's published
// JWKS before trusting any claim. Providers that issue opaque bearer
// tokens (GitHub, Facebook, Discord, Twitter) fetch the profile endpoint
// and treat any non-2xx response as an invalid credential.
//
// Validation errors carry detail for logging only. Callers must collapse
// every failure to a generic invalid-credential outcome; nothing in this
// package is safe to show an end user.
package provider
