// Package nyxerr defines the error taxonomy shared by every layer of the
// client: wire codec, connection state machine, pool, and the retry and
// transaction engine. Errors preserve the server's error code and tags
// verbatim (spec: the client does not hide the server's error taxonomy).
package nyxerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error for callers that need to branch on category
// rather than on a specific server code.
type Kind int

const (
	KindUnknown Kind = iota
	KindClientConnectionError
	KindClientConnectionFailedTemporarily
	KindClientConnectionEOS
	KindClientConnectionTimeout
	KindClientConnectionInconsistentState
	KindProtocolError
	KindProtocolEncodingError
	KindProtocolOutOfOrderError
	KindAuthenticationError
	KindPasswordRequired
	KindIdleSessionTimeoutError
	KindClientEncodingError
	KindNoResultExpected
	KindNoDataError
	KindInvalidArgumentError
	KindServerError
)

func (k Kind) String() string {
	switch k {
	case KindClientConnectionError:
		return "ClientConnectionError"
	case KindClientConnectionFailedTemporarily:
		return "ClientConnectionError.FailedTemporarily"
	case KindClientConnectionEOS:
		return "ClientConnectionError.Eos"
	case KindClientConnectionTimeout:
		return "ClientConnectionError.Timeout"
	case KindClientConnectionInconsistentState:
		return "ClientConnectionError.InconsistentState"
	case KindProtocolError:
		return "ProtocolError"
	case KindProtocolEncodingError:
		return "ProtocolError.ProtocolEncodingError"
	case KindProtocolOutOfOrderError:
		return "ProtocolError.ProtocolOutOfOrderError"
	case KindAuthenticationError:
		return "AuthenticationError"
	case KindPasswordRequired:
		return "PasswordRequired"
	case KindIdleSessionTimeoutError:
		return "IdleSessionTimeoutError"
	case KindClientEncodingError:
		return "ClientEncodingError"
	case KindNoResultExpected:
		return "NoResultExpected"
	case KindNoDataError:
		return "NoDataError"
	case KindInvalidArgumentError:
		return "InvalidArgumentError"
	case KindServerError:
		return "ServerError"
	}
	return "Unknown"
}

// Tag annotates an Error with a behavior hint for the retry layer.
type Tag string

const (
	TagShouldRetry     Tag = "SHOULD_RETRY"
	TagShouldReconnect Tag = "SHOULD_RECONNECT"
)

// Error is the error type returned by every nyxdb-go package. Zero value
// is not usable; construct with New.
type Error struct {
	kind  Kind
	msg   string
	cause error
	code  uint32
	tags  map[Tag]struct{}

	// Side channels, set by whichever layer has the information.
	queryText    string
	capabilities uint32 // descriptor.Capabilities, stored as uint32 to avoid an import cycle
	hasCaps      bool
}

// New creates an Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap creates an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{kind: kind, msg: msg, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.kind, e.msg, e.cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Kind reports the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Code returns the server error code, valid only when Kind() == KindServerError.
func (e *Error) Code() uint32 { return e.code }

// WithCode attaches a server error code and returns e for chaining.
func (e *Error) WithCode(code uint32) *Error {
	e.code = code
	return e
}

// HasTag reports whether t was attached to e.
func (e *Error) HasTag(t Tag) bool {
	_, ok := e.tags[t]
	return ok
}

// WithTag attaches a tag and returns e for chaining.
func (e *Error) WithTag(t Tag) *Error {
	if e.tags == nil {
		e.tags = make(map[Tag]struct{}, 1)
	}
	e.tags[t] = struct{}{}
	return e
}

// WithQueryText attaches the query text that produced this error.
func (e *Error) WithQueryText(q string) *Error {
	e.queryText = q
	return e
}

// QueryText returns the query text attached to this error, if any.
func (e *Error) QueryText() string { return e.queryText }

// WithCapabilities attaches the observed capability bitset for this query.
func (e *Error) WithCapabilities(caps uint32) *Error {
	e.capabilities = caps
	e.hasCaps = true
	return e
}

// Capabilities returns the capability bitset attached to this error, if any.
func (e *Error) Capabilities() (uint32, bool) { return e.capabilities, e.hasCaps }

// Context prepends explanatory framing to the error without losing its
// kind, tags, or side channels, mirroring the source's `.context(str)`.
func (e *Error) Context(s string) *Error {
	cp := *e
	cp.msg = s + ": " + e.msg
	return &cp
}

// ShouldRetry reports whether err (or any error in its chain) is tagged
// SHOULD_RETRY.
func ShouldRetry(err error) bool {
	var e *Error
	for err != nil {
		if x, ok := err.(*Error); ok {
			e = x
			if e.HasTag(TagShouldRetry) {
				return true
			}
		}
		err = errors.Unwrap(err)
	}
	return false
}

// ShouldReconnect reports whether err (or any error in its chain) is
// tagged SHOULD_RECONNECT.
func ShouldReconnect(err error) bool {
	var e *Error
	for err != nil {
		if x, ok := err.(*Error); ok {
			e = x
			if e.HasTag(TagShouldReconnect) {
				return true
			}
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Is reports whether err's chain contains an *Error of kind k.
func Is(err error, k Kind) bool {
	for err != nil {
		if x, ok := err.(*Error); ok && x.kind == k {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
