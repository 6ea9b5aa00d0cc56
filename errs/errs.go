// Package errs provides structured error types shared across ledgersync services.
package errs

import (
	"errors"
	"strings"
)

// Kind identifies a failure category produced by exchange ingestion.
type Kind string

const (
	// KindTransport indicates a network-level failure (timeout, connection reset).
	KindTransport Kind = "transport"
	// KindAuth indicates a rejected signature or bad credentials.
	KindAuth Kind = "auth"
	// KindBusiness indicates an HTTP-success response carrying a non-zero business code.
	KindBusiness Kind = "business"
	// KindDecode indicates a malformed or unexpected response body.
	KindDecode Kind = "decode"
	// KindNotFound indicates a missing transaction or credential.
	KindNotFound Kind = "not_found"
	// KindInvalid indicates invalid input provided by the caller.
	KindInvalid Kind = "invalid_request"
	// KindUnavailable indicates a component is temporarily unable to accept work.
	KindUnavailable Kind = "unavailable"
)

// E captures structured error information produced across the ledgersync stack.
type E struct {
	Exchange string
	Kind     Kind
	HTTP     int
	RawCode  string
	RawMsg   string
	Message  string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the exchange and failure kind.
func New(exchange string, kind Kind, opts ...Option) *E {
	e := &E{
		Exchange: strings.TrimSpace(exchange),
		Kind:     kind,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw exchange error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw exchange error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	exchange := strings.TrimSpace(e.Exchange)
	if exchange == "" {
		exchange = "unknown"
	}
	parts = append(parts, "exchange="+exchange)

	kind := strings.TrimSpace(string(e.Kind))
	if kind == "" {
		kind = "unknown"
	}
	parts = append(parts, "kind="+kind)

	if e.RawCode != "" {
		parts = append(parts, "raw_code="+e.RawCode)
	}
	if e.Message != "" {
		parts = append(parts, "msg="+e.Message)
	} else if e.RawMsg != "" {
		parts = append(parts, "msg="+e.RawMsg)
	}
	if e.cause != nil {
		parts = append(parts, "cause="+e.cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *E) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// KindOf extracts the failure kind from err, or an empty Kind when err does not
// carry an envelope.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries an envelope of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether err may succeed on a later attempt. Only transport
// failures qualify; everything else is either fatal or per-record.
func Retryable(err error) bool {
	return IsKind(err, KindTransport)
}

// CredentialFatal reports whether err invalidates the credential that produced
// it. The enclosing sync for that credential must abort.
func CredentialFatal(err error) bool {
	return IsKind(err, KindAuth)
}

// RecordSkippable reports whether err affects a single record only and the
// enclosing batch should continue.
func RecordSkippable(err error) bool {
	kind := KindOf(err)
	return kind == KindBusiness || kind == KindDecode
}
