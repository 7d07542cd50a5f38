// Package errors defines the dispatch error taxonomy and its HTTP mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

type Kind string

const (
	KindInvalidTransition          Kind = "invalid_transition"
	KindTenantScopeViolation       Kind = "tenant_scope_violation"
	KindPartialBookingFailure      Kind = "partial_booking_failure"
	KindReversalBlocked            Kind = "reversal_blocked"
	KindAuditLogWriteFailure       Kind = "audit_log_write_failure"
	KindSequenceGenerationConflict Kind = "sequence_generation_conflict"
	KindPrecondition               Kind = "precondition_failed"
	KindNotFound                   Kind = "not_found"
	KindValidation                 Kind = "validation"
)

var statusCodes = map[Kind]int{
	KindInvalidTransition:          http.StatusConflict,
	KindTenantScopeViolation:       http.StatusForbidden,
	KindPartialBookingFailure:      http.StatusConflict,
	KindReversalBlocked:            http.StatusConflict,
	KindAuditLogWriteFailure:       http.StatusInternalServerError,
	KindSequenceGenerationConflict: http.StatusInternalServerError,
	KindPrecondition:               http.StatusUnprocessableEntity,
	KindNotFound:                   http.StatusNotFound,
	KindValidation:                 http.StatusBadRequest,
}

// Error is a classified failure. Message is the actionable, user-facing reason.
type Error struct {
	Kind    Kind
	Message string
	Meta    map[string]any
	Err     error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) With(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	e.Meta[key] = value
	return e
}

func (e *Error) StatusCode() int {
	if code, ok := statusCodes[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func (e *Error) ToHTTPError() *httperror.HTTPError {
	herr := httperror.NewHTTPError(e.StatusCode(), e.Message).AddMetaValue("kind", string(e.Kind))
	for k, v := range e.Meta {
		herr = herr.AddMetaValue(k, v)
	}
	return herr
}

// As returns the classified error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

func InvalidTransition(from, to string) *Error {
	return Newf(KindInvalidTransition, "cannot move match from %q to %q", from, to).
		With("from", from).
		With("to", to)
}

func TenantScopeViolation(msg string) *Error {
	return New(KindTenantScopeViolation, msg)
}

func NotFound(entity, id string) *Error {
	return Newf(KindNotFound, "%s %s not found", entity, id).With("id", id)
}

func Precondition(msg string) *Error {
	return New(KindPrecondition, msg)
}

func Validation(msg string) *Error {
	return New(KindValidation, msg)
}

// PartialBookingFailure reports a committed Load whose match/posting linkage did not complete.
// Retry with the load id; never re-run the whole booking.
func PartialBookingFailure(matchID, loadID string, err error) *Error {
	return Wrap(KindPartialBookingFailure, err, fmt.Sprintf("load %s was created but match %s was not linked", loadID, matchID)).
		With("match_id", matchID).
		With("load_id", loadID)
}

func ReversalBlocked(reason string, requiresFormalReversal bool) *Error {
	return New(KindReversalBlocked, reason).With("requires_formal_reversal", requiresFormalReversal)
}

func AuditLogWriteFailure(action string, err error) *Error {
	return Wrap(KindAuditLogWriteFailure, err, fmt.Sprintf("audit log write failed for %s", action)).With("action", action)
}

func SequenceGenerationConflict(prefix string, attempts int, err error) *Error {
	return Wrap(KindSequenceGenerationConflict, err, fmt.Sprintf("load number sequence %s conflicted after %d attempts", prefix, attempts)).
		With("prefix", prefix).
		With("attempts", attempts)
}
