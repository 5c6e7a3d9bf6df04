// Package jwt mints and verifies the short-lived, stateless access tokens
// issued alongside each session. Revocation never touches these tokens:
// a revoked session only stops producing new ones, bounding the blast
// radius to the access TTL.
package jwt
