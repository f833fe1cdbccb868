package tasks

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/convohq/automation/pkg/schema"
)

// RetryPolicy controls the spacing of task retries.
type RetryPolicy struct {
	// Backoff is one of "none", "constant", "linear", "exponential".
	Backoff string
	Delay   time.Duration
	// MaxDelay caps the computed delay when positive.
	MaxDelay time.Duration
}

// DefaultRetryPolicy spaces retries exponentially from a 5s base, capped at
// 5 minutes.
var DefaultRetryPolicy = RetryPolicy{
	Backoff:  "exponential",
	Delay:    5 * time.Second,
	MaxDelay: 5 * time.Minute,
}

// IsRetryableError classifies whether a task failure should be retried.
// Validation, ownership, and entitlement failures are final; network and
// collaborator faults are transient.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Cancellation means shutdown, not failure.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var ae *schema.AutomationError
	if errors.As(err, &ae) {
		return ae.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"database is locked",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"internal server error",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Default retryable; MaxAttempts bounds the damage.
	return true
}

// ComputeBackoff calculates the delay before retry number attempt (1-based).
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	if policy.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		multiplier := time.Duration(1)
		for i := 1; i < attempt; i++ {
			multiplier *= 2
		}
		delay = policy.Delay * multiplier
	case "linear":
		delay = policy.Delay * time.Duration(attempt)
	case "none":
		return 0
	default: // constant
		delay = policy.Delay
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}
