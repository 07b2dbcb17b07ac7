package businessflow

import (
	"math"
	"time"

	"github.com/lettable/deposync/config"
)

// NextAttemptAt computes the next retry time for a job on its given attempt.
// The delay grows as base * multiplier^(attempt-1) and never exceeds the
// policy cap. Attempt numbers start at 1.
func NextAttemptAt(now time.Time, attempt uint, policy config.RetryPolicy) time.Time {
	return now.Add(BackoffDelay(attempt, policy))
}

// BackoffDelay returns the raw delay for an attempt under a policy.
func BackoffDelay(attempt uint, policy config.RetryPolicy) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(policy.BaseInterval)
	factor := math.Pow(policy.Multiplier, float64(attempt-1))
	delay := base * factor
	if max := float64(policy.MaxInterval); policy.MaxInterval > 0 && delay > max {
		delay = max
	}
	// Guard against overflow from large attempt counts.
	if delay > float64(math.MaxInt64) || delay < 0 {
		return policy.MaxInterval
	}
	return time.Duration(delay)
}
