// Package goIdentity is an embeddable identity and session-trust core.
//
// It turns a raw login attempt (password, social-provider token, or
// one-time code) into an authenticated, risk-scored session, and governs
// which sensitive operations require renewed proof of identity before they
// may proceed.
//
// The engine is transport-agnostic: callers wire it behind HTTP, gRPC, or
// anything else and implement [IdentityStore] for durable records. Redis
// backs every piece of ephemeral state (sessions, one-time-code
// challenges, lockout counters, link claims).
//
// Construction goes through [Builder]:
//
//	engine, err := goIdentity.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithIdentityStore(store).
//		WithNotifier(mailer).
//		Build()
package goIdentity
