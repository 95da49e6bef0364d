// Package proxyerr defines the typed error kinds a request can fail with,
// so call sites can pick an HTTP status and log severity via errors.Is
// instead of string-matching.
package proxyerr

import "errors"

var (
	// ErrBadRequest is returned when the incoming request lacks an
	// authority or its absolute URI cannot be reassembled.
	ErrBadRequest = errors.New("proxy: bad request")

	// ErrUpstreamFailure wraps a DNS/connect/TLS/protocol error reaching
	// the origin server.
	ErrUpstreamFailure = errors.New("proxy: upstream failure")

	// ErrInterceptionUnsupported marks a client TLS handshake failure
	// during MITM accept; the connection is dropped without adding the
	// host to exclusions automatically.
	ErrInterceptionUnsupported = errors.New("proxy: interception unsupported")

	// ErrConfigurationError marks a startup-time fatal condition: unreadable
	// config, bad CA PEM, unreachable filter metadata.
	ErrConfigurationError = errors.New("proxy: configuration error")

	// ErrTransientLifecycle marks a filter refresh failure that should be
	// logged and survived, continuing to serve with the current engine.
	ErrTransientLifecycle = errors.New("proxy: transient lifecycle error")
)
