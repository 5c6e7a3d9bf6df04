package rate

import "errors"

// ErrRateLimited is returned when a counter is over budget.
var ErrRateLimited = errors.New("rate limited")

// ErrRedisUnavailable wraps backend failures. Callers must treat it as a
// rejection, never as permission to proceed.
var ErrRedisUnavailable = errors.New("rate limiter backend unavailable")
