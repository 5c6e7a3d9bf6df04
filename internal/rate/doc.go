// Package rate implements the shared Redis counters behind lockout,
// one-time-code resend cadence, and abuse ceilings. Counters are atomic
// (INCR + first-hit TTL); an unreachable backend surfaces as an error so
// callers reject the operation rather than bypass the limit.
package rate
