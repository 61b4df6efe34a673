package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain is reported in the ErrorInfo detail of every gRPC status.
const Domain = "triviapot"

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodePermissionDenied   = Code(codes.PermissionDenied)
	CodeResourceExhausted  = Code(codes.ResourceExhausted)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodeAborted            = Code(codes.Aborted)
	CodeInternal           = Code(codes.Internal)
	CodeUnavailable        = Code(codes.Unavailable)
	CodeUnauthenticated    = Code(codes.Unauthenticated)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodePermissionDenied:   http.StatusForbidden,
	CodeResourceExhausted:  http.StatusTooManyRequests,
	CodeFailedPrecondition: http.StatusPreconditionFailed,
	CodeAborted:            http.StatusConflict,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnavailable:        http.StatusServiceUnavailable,
	CodeUnauthenticated:    http.StatusUnauthorized,
}

// Reasons identify failures a caller is expected to branch on.
const (
	ReasonRoundNotOpen          = "ROUND_NOT_OPEN"
	ReasonRoundStillOpen        = "ROUND_STILL_OPEN"
	ReasonEntryLimitExceeded    = "ENTRY_LIMIT_EXCEEDED"
	ReasonQuestionIndexMismatch = "QUESTION_INDEX_MISMATCH"
	ReasonSessionCompleted      = "SESSION_COMPLETED"
	ReasonPaymentRequired       = "PAYMENT_REQUIRED"
	ReasonPaymentInvalid        = "PAYMENT_INVALID"
	ReasonAlreadyFinalized      = "ALREADY_FINALIZED"
	ReasonNotAWinner            = "NOT_A_WINNER"
	ReasonAlreadyClaimed        = "ALREADY_CLAIMED"
	ReasonInsufficientEntrants  = "INSUFFICIENT_ENTRANTS"
	ReasonProgramError          = "PROGRAM_ERROR"
)

type Error struct {
	Code     Code              `json:"code"`
	Message  string            `json:"message"`
	Reason   string            `json:"reason,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	err      error
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

// Is matches errors carrying the same code and reason, so callers can use errors.Is with a template.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Code == e.Code && t.Reason == e.Reason
}

func (e *Error) GRPCStatus() *status.Status {
	st := status.New(codes.Code(e.Code), e.Message)
	if e.Reason == "" {
		return st
	}

	ds, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   e.Reason,
		Domain:   Domain,
		Metadata: e.Metadata,
	})
	if err != nil {
		return st
	}

	return ds
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

// FromGRPC rebuilds an *Error from a gRPC status returned to a client.
func FromGRPC(err error) *Error {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return Internal(err)
	}

	e := New(Code(st.Code()), WithMessagef("%s", st.Message()), WithCause(err))
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == Domain {
			e.Reason = info.GetReason()
			e.Metadata = info.GetMetadata()
		}
	}

	return e
}

// HasReason reports whether err is an *Error with the given reason.
func HasReason(err error, reason string) bool {
	var e *Error
	return errors.As(err, &e) && e.Reason == reason
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
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

func WithReason(reason string) Option {
	return optionFunc(func(e *Error) {
		e.Reason = reason
	})
}

func WithMetadata(key, value string) Option {
	return optionFunc(func(e *Error) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]string)
		}
		e.Metadata[key] = value
	})
}

// Templates for errors.Is checks.
var (
	ErrRoundNotOpen          = New(CodeFailedPrecondition, WithReason(ReasonRoundNotOpen))
	ErrEntryLimitExceeded    = New(CodeResourceExhausted, WithReason(ReasonEntryLimitExceeded))
	ErrQuestionIndexMismatch = New(CodeFailedPrecondition, WithReason(ReasonQuestionIndexMismatch))
	ErrSessionCompleted      = New(CodeFailedPrecondition, WithReason(ReasonSessionCompleted))
)
