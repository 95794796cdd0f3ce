// Package errs holds the error taxonomy shared by the anchoring core.
package errs

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ERR_VALIDATION         ErrorCode = "VALIDATION_ERROR"
	ERR_NO_FUNDS           ErrorCode = "NO_FUNDS"
	ERR_INSUFFICIENT_FUNDS ErrorCode = "INSUFFICIENT_FUNDS"
	ERR_NETWORK            ErrorCode = "NETWORK_ERROR"
	ERR_UPSTREAM           ErrorCode = "UPSTREAM_ERROR"
	ERR_INTEGRITY          ErrorCode = "INTEGRITY_ERROR"
	ERR_DECODE             ErrorCode = "DECODE_ERROR"
	ERR_NOT_FOUND          ErrorCode = "NOT_FOUND"
	ERR_BROADCAST_REJECTED ErrorCode = "BROADCAST_REJECTED"
	ERR_SIGNING            ErrorCode = "SIGNING_ERROR"
	ERR_ALREADY_EXISTS     ErrorCode = "ALREADY_EXISTS"
	ERR_CONFIG             ErrorCode = "CONFIG_ERROR"
	ERR_INVALID_STATE      ErrorCode = "INVALID_STATE"

	ERR_UNSUPPORTED_SCRIPT ErrorCode = "UNSUPPORTED_SCRIPT_FORMAT"
	ERR_PREFIX_NOT_FOUND   ErrorCode = "PREFIX_NOT_FOUND"
	ERR_MALFORMED_ENVELOPE ErrorCode = "MALFORMED_ENVELOPE"
)

// Error is the typed error surfaced by every package of the core. Status and
// Body are only set for upstream (ledger) failures.
type Error struct {
	Code   ErrorCode
	Msg    string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Code)
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Msg)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code ErrorCode, msg string) error {
	return &Error{Code: code, Msg: msg}
}

func Newf(code ErrorCode, format string, args ...interface{}) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying cause.
func Wrap(code ErrorCode, err error, msg string) error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// Upstream builds an ERR_UPSTREAM error carrying the remote status and body.
func Upstream(msg string, status int, body string) error {
	return &Error{Code: ERR_UPSTREAM, Msg: msg, Status: status, Body: body}
}

// CodeOf returns the code of the outermost *Error in err's chain, or "" if
// there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Retryable reports whether err is transient. Only network failures are.
func Retryable(err error) bool {
	return Is(err, ERR_NETWORK)
}
