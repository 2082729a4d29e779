package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/aws/smithy-go"
)

// DefaultTimeout is the default per-resource operation timeout.
const DefaultTimeout = 30 * time.Minute

// DefaultRetryMax bounds the number of retries for transient errors.
const DefaultRetryMax = 3

// RetryPolicy defines retry behavior for transient cloud API errors.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: DefaultRetryMax,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// RetryWithBackoff executes fn, retrying with exponential backoff and
// jitter while shouldRetry reports the error as retryable.
func RetryWithBackoff(ctx context.Context, policy *RetryPolicy, fn func() error, shouldRetry func(error) bool) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt < policy.MaxRetries {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(backoffDelay(attempt, policy.BaseDelay, policy.MaxDelay)):
			}
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", policy.MaxRetries, lastErr)
}

// backoffDelay returns exponential backoff with full jitter.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	return time.Duration(rand.Float64() * backoff)
}

// transientCodes are API error codes that indicate throttling or a
// temporary service condition worth retrying.
var transientCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"RequestLimitExceeded":                   true,
	"TooManyRequestsException":               true,
	"ProvisionedThroughputExceededException": true,
	"RequestTimeout":                         true,
	"RequestTimeoutException":                true,
	"ServiceUnavailable":                     true,
	"ServiceUnavailableException":            true,
	"InternalError":                          true,
	"InternalFailure":                        true,
	"SlowDown":                               true,
	"PriorRequestNotComplete":                true,
}

var transientPatterns = []string{
	"throttl",
	"rate exceed",
	"too many requests",
	"request limit",
	"service unavailable",
	"internal server error",
	"connection reset",
	"connection refused",
	"timeout",
	"tls handshake",
	"i/o timeout",
	"temporary failure",
}

// IsTransient reports whether an error is worth retrying. API errors are
// classified by code; everything else falls back to message matching for
// network-level failures that never reach the API layer.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		return transientCodes[ae.ErrorCode()]
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// classifyFailure wraps an executor failure in the matching taxonomy type.
// Retries have already been exhausted by the time this is called, so a
// transient error here still aborts the resource.
func classifyFailure(addr string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransientProviderError
	var fe *FatalProviderError
	if errors.As(err, &te) || errors.As(err, &fe) {
		return err
	}
	if IsTransient(err) {
		return &TransientProviderError{Address: addr, Err: err}
	}
	return &FatalProviderError{Address: addr, Err: err}
}
