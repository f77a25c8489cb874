package models

import (
	"strings"
	"time"
)

// Result is the outcome of one limiter check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is whole seconds until the window frees a slot.
	RetryAfter int
}

// Key identifies a window. Authenticated callers are limited per profile,
// anonymous callers per client IP.
func Key(kind, subject, scope string) string {
	return strings.Join([]string{"rl", kind, subject, scope}, ":")
}
