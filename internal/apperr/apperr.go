// Package apperr defines the error kinds shared by the checkout core and
// their mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	KindValidation           Kind = "VALIDATION_FAILED"
	KindInvalidAmount        Kind = "INVALID_AMOUNT"
	KindNotFound             Kind = "NOT_FOUND"
	KindInvalidTransition    Kind = "INVALID_TRANSITION"
	KindNotEligible          Kind = "NOT_ELIGIBLE"
	KindBadSignature         Kind = "BAD_SIGNATURE"
	KindMalformedPayload     Kind = "MALFORMED_PAYLOAD"
	KindGatewayRejected      Kind = "GATEWAY_REJECTED"
	KindGatewayUnreachable   Kind = "GATEWAY_UNREACHABLE"
	KindGatewayProtocol      Kind = "GATEWAY_PROTOCOL_ERROR"
	KindInsufficientCapacity Kind = "INSUFFICIENT_CAPACITY"
	KindRefundFailed         Kind = "REFUND_FAILED"
	KindUnauthorized         Kind = "UNAUTHORIZED"
	KindInternal             Kind = "INTERNAL"
)

type Error struct {
	Kind        Kind
	Message     string
	Fields      []string
	GatewayCode string
	// Status overrides the default HTTP status of Kind when non-zero.
	Status int
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.GatewayCode != "" {
		b.WriteString(" [")
		b.WriteString(e.GatewayCode)
		b.WriteString("]")
	}
	if len(e.Fields) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Fields, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation           = &Error{Kind: KindValidation}
	ErrInvalidAmount        = &Error{Kind: KindInvalidAmount}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrInvalidTransition    = &Error{Kind: KindInvalidTransition}
	ErrNotEligible          = &Error{Kind: KindNotEligible}
	ErrBadSignature         = &Error{Kind: KindBadSignature}
	ErrMalformedPayload     = &Error{Kind: KindMalformedPayload}
	ErrGatewayRejected      = &Error{Kind: KindGatewayRejected}
	ErrGatewayUnreachable   = &Error{Kind: KindGatewayUnreachable}
	ErrGatewayProtocol      = &Error{Kind: KindGatewayProtocol}
	ErrInsufficientCapacity = &Error{Kind: KindInsufficientCapacity}
	ErrRefundFailed         = &Error{Kind: KindRefundFailed}
	ErrUnauthorized         = &Error{Kind: KindUnauthorized}
	ErrInternal             = &Error{Kind: KindInternal}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(fields []string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

func GatewayRejected(httpStatus int, code, message string) *Error {
	status := http.StatusBadGateway
	if httpStatus >= 400 && httpStatus < 500 {
		status = http.StatusBadRequest
	}
	return &Error{Kind: KindGatewayRejected, Message: message, GatewayCode: code, Status: status}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	if e.Status != 0 {
		return e.Status
	}

	switch e.Kind {
	case KindValidation, KindInvalidAmount, KindInvalidTransition, KindNotEligible,
		KindBadSignature, KindMalformedPayload, KindInsufficientCapacity:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindGatewayUnreachable:
		return http.StatusServiceUnavailable
	case KindGatewayRejected, KindGatewayProtocol, KindRefundFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsGateway reports whether err originates from the payment gateway.
func IsGateway(err error) bool {
	switch KindOf(err) {
	case KindGatewayRejected, KindGatewayUnreachable, KindGatewayProtocol, KindRefundFailed:
		return true
	}
	return false
}

// Retryable reports whether a transient gateway error appears anywhere in
// err's chain, including under a RefundFailed wrap.
func Retryable(err error) bool {
	return errors.Is(err, ErrGatewayUnreachable) || errors.Is(err, ErrGatewayProtocol)
}
