package models

import "time"

// Result is the outcome of one sliding window check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is in whole seconds and only set when Allowed is false.
	RetryAfter int
}

// ExceededResponse is the 429 body.
type ExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// Key namespaces a limiter bucket, e.g. Key("graphql", "10.0.0.1").
func Key(scope, identifier string) string {
	return "tumi:ratelimit:" + scope + ":" + identifier
}

// RetryAfterSeconds rounds up so clients never retry early.
func RetryAfterSeconds(now, resetAt time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 1
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
