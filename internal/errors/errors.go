package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodeAborted            = Code(codes.Aborted)
	CodeUnavailable        = Code(codes.Unavailable)
	CodeInternal           = Code(codes.Internal)
	CodeUnauthenticated    = Code(codes.Unauthenticated)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeFailedPrecondition: http.StatusConflict,
	CodeAborted:            http.StatusConflict,
	CodeUnavailable:        http.StatusServiceUnavailable,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnauthenticated:    http.StatusUnauthorized,
}

// Reason narrows a Code down to one failure the caller can act on.
type Reason string

const (
	ReasonInvalidParticipants Reason = "INVALID_PARTICIPANTS"
	ReasonInvalidMove         Reason = "INVALID_MOVE"
	ReasonNotYourTurn         Reason = "NOT_YOUR_TURN"
	ReasonSessionTerminal     Reason = "SESSION_TERMINAL"
	ReasonNotFound            Reason = "NOT_FOUND"
	ReasonDuplicateScoring    Reason = "DUPLICATE_SCORING"
	ReasonConcurrencyConflict Reason = "CONCURRENCY_CONFLICT"
	ReasonStorageUnavailable  Reason = "STORAGE_UNAVAILABLE"
)

// Sentinels for errors.Is. Two errors match when their reasons are equal.
var (
	ErrInvalidParticipants = New(CodeInvalidArgument, WithReason(ReasonInvalidParticipants))
	ErrInvalidMove         = New(CodeInvalidArgument, WithReason(ReasonInvalidMove))
	ErrNotYourTurn         = New(CodeFailedPrecondition, WithReason(ReasonNotYourTurn))
	ErrSessionTerminal     = New(CodeFailedPrecondition, WithReason(ReasonSessionTerminal))
	ErrNotFound            = New(CodeNotFound, WithReason(ReasonNotFound))
	ErrDuplicateScoring    = New(CodeAlreadyExists, WithReason(ReasonDuplicateScoring))
	ErrConcurrencyConflict = New(CodeAborted, WithReason(ReasonConcurrencyConflict))
	ErrStorageUnavailable  = New(CodeUnavailable, WithReason(ReasonStorageUnavailable))
)

type Error struct {
	Code    Code   `json:"code"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.Reason != "" {
		s += fmt.Sprintf(", reason: %s", e.Reason)
	}
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches errors carrying the same reason, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	if t.Reason == "" {
		return e == t
	}

	return e.Reason == t.Reason
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

// NotFound reports a missing record of the given kind.
func NotFound(kind string, id any) *Error {
	return New(CodeNotFound,
		WithReason(ReasonNotFound),
		WithMessagef("%s not found: id=%v", kind, id),
	)
}

// Unavailable wraps a storage failure. The core never retries these.
func Unavailable(op string, err error) *Error {
	return New(CodeUnavailable,
		WithReason(ReasonStorageUnavailable),
		WithMessagef("storage unavailable: %s", op),
		WithCause(err),
	)
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}

func WithReason(r Reason) Option {
	return optionFunc(func(e *Error) {
		e.Reason = r
	})
}
