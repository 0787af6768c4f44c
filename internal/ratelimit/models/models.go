// Package models holds the rate limit result and key types shared by the
// bucket stores and the middleware.
package models

import "time"

// RateLimitResult is the outcome of one limit check.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, set when denied
}

// Denied builds a rejection that can be retried once the window slides.
func Denied(limit int, resetAt, now time.Time) *RateLimitResult {
	retry := int(resetAt.Sub(now).Round(time.Second) / time.Second)
	if retry < 1 {
		retry = 1
	}
	return &RateLimitResult{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retry,
	}
}
