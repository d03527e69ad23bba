package dispatcher

import (
	"context"
	"errors"
	"net"
	"strings"
)

// isTransientError checks if error is transient and the job should be re-queued
func isTransientError(err error) bool {
	if err == nil || isFatalError(err) {
		return false
	}

	var tErr *TransientError
	if errors.As(err, &tErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Network errors surfaced as plain strings by SDKs
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "slowdown") ||
		strings.Contains(errStr, "service unavailable")
}

// isFatalError checks if error is fatal and should not be retried
func isFatalError(err error) bool {
	if err == nil {
		return false
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return true
	}

	// The job deadline was spent; a rerun would hit it again.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "nosuchkey") ||
		strings.Contains(errStr, "nosuchbucket") ||
		strings.Contains(errStr, "accessdenied")
}
