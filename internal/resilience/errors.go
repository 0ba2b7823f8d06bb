// Package resilience wraps calls to the opaque knowledge and generation
// capabilities. Those calls have unbounded, possibly-failing latency; a
// failure here fails the current run (safe to retry as a new run), so errors
// carry enough context to tell transient trouble from hard failures.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// UpstreamError reports a failed call to an external capability (knowledge
// retrieval, creative generation). Transient marks failures worth retrying
// before giving up on the run.
type UpstreamError struct {
	Capability string // "knowledge", "generation"
	Op         string
	Err        error
	Transient  bool
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Capability, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError wraps err, classifying it as transient via IsTransient.
func NewUpstreamError(capability, op string, err error) *UpstreamError {
	return &UpstreamError{
		Capability: capability,
		Op:         op,
		Err:        err,
		Transient:  IsTransient(err),
	}
}

// IsTransient reports whether the error (or anything in its chain) looks safe
// to retry: an explicitly transient UpstreamError, a network timeout, a
// connection-level failure, or a known transient message pattern from HTTP
// clients.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"rate limit",
		"overloaded",
		"server closed idle connection",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether an HTTP status indicates a transient
// server-side issue.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
