package retry

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/dcayres/campaign-dispatch/internal/httpclient"
)

// Kind is the failure taxonomy the executor decides on.
type Kind string

const (
	KindNetworkError    Kind = "NETWORK_ERROR"
	KindTimeout         Kind = "TIMEOUT"
	KindAPIError4xx     Kind = "API_ERROR_4XX"
	KindAPIError5xx     Kind = "API_ERROR_5XX"
	KindValidationError Kind = "VALIDATION_ERROR"
)

// ValidationError marks a definitional failure (missing credentials or
// required fields). Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Classify maps any error to exactly one Kind. It is total: every input,
// including nil, yields a Kind. Unclassified errors default to
// KindNetworkError, which keeps them retryable.
func Classify(err error) Kind {
	if err == nil {
		return KindNetworkError
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return KindValidationError
	}

	// An HTTP response was received: classify by status.
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode >= 400 && statusErr.StatusCode < 500:
			return KindAPIError4xx
		case statusErr.StatusCode >= 500:
			return KindAPIError5xx
		}
	}

	// Transport-level failures: refused/reset connections, DNS, broken
	// pipes, TLS handshakes, socket-level timeouts.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindNetworkError
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return KindNetworkError
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return KindNetworkError
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return KindNetworkError
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetworkError
	}

	// A timeout indicator without a status.
	if errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return KindTimeout
	}

	return KindNetworkError
}
