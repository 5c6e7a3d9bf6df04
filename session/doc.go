// Package session implements the Redis-backed session records that make
// refresh tokens revocable and carry the per-session step-up verification
// window. Records are binary-encoded with a leading schema version byte.
// Refresh rotation is atomic: a WATCH transaction compares the stored
// refresh hash and swaps in the next one, so a reused (already rotated)
// token is detected rather than honored.
package session
