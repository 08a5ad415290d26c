// Package errtag defines the sentinel error categories the probing
// engine uses to classify what went wrong, without leaking socket-
// level or driver-level error types out of their owning package.
package errtag

import "errors"

var (
	// ErrSyntax means the address or domain shape is invalid. Non-retryable.
	ErrSyntax = errors.New("errtag: invalid address syntax")

	// ErrResolve means DNS lookup failed or returned nothing usable.
	ErrResolve = errors.New("errtag: mx resolution failed")

	// ErrNetwork means a connect/read/write/TLS failure at the socket level.
	ErrNetwork = errors.New("errtag: network failure")

	// ErrProtocol means the server's reply could not be parsed.
	ErrProtocol = errors.New("errtag: protocol parse failure")

	// ErrPolicy means the server explicitly refused on blacklist/policy grounds.
	ErrPolicy = errors.New("errtag: policy refusal")

	// ErrInternal means a serialization or storage error in an adapter.
	ErrInternal = errors.New("errtag: internal failure")
)
