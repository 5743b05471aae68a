// Package mailerrors defines the sentinel error kinds shared across the
// blob store, processing pipeline, and recovery engine.
package mailerrors

import "errors"

var (
	// ErrIntegrity means stored bytes hash mismatched the expected BlobId. Fatal, never retried.
	ErrIntegrity = errors.New("mailerrors: integrity check failed")
	// ErrNotFound means a blob or row was absent.
	ErrNotFound = errors.New("mailerrors: not found")
	// ErrIO wraps a disk failure. Retryable if classified transient by the recovery engine.
	ErrIO = errors.New("mailerrors: io failure")
	// ErrEncoding means an undecodable charset or transfer encoding. Soft, per-part failure.
	ErrEncoding = errors.New("mailerrors: encoding failure")
	// ErrSizeExceeded means an object exceeded a configured size ceiling.
	ErrSizeExceeded = errors.New("mailerrors: size exceeded")
	// ErrSecurity means a part failed a security check (ratio, nesting, dangerous type, quarantine).
	ErrSecurity = errors.New("mailerrors: security check failed")
	// ErrNetwork wraps a transport-layer failure.
	ErrNetwork = errors.New("mailerrors: network failure")
	// ErrTimeout wraps a deadline exceeded condition.
	ErrTimeout = errors.New("mailerrors: timeout")
	// ErrRateLimit wraps a rate-limited transport response.
	ErrRateLimit = errors.New("mailerrors: rate limited")
	// ErrCircuitBreakerOpen is returned fast by the recovery engine when a breaker is open.
	ErrCircuitBreakerOpen = errors.New("mailerrors: circuit breaker open")
	// ErrAlreadyDownloading reports a duplicate in-flight download. The attachment
	// downloader does not return it: it coalesces duplicate calls onto the
	// in-flight fetch instead.
	ErrAlreadyDownloading = errors.New("mailerrors: already downloading")
	// ErrNotImplemented is returned by capability interfaces with no backing implementation
	// (secure-part verify/decrypt).
	ErrNotImplemented = errors.New("mailerrors: not implemented")
)
