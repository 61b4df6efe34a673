package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/victornm/triviapot/internal/errors"
)

func TestError_GRPCRoundTrip(t *testing.T) {
	e := errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(errors.ReasonQuestionIndexMismatch),
		errors.WithMessagef("question index mismatch: got=%d expected=%d", 4, 3),
		errors.WithMetadata("expected_index", "3"),
	)

	st := e.GRPCStatus()
	require.Equal(t, codes.FailedPrecondition, st.Code())

	got := errors.FromGRPC(st.Err())
	assert.Equal(t, errors.CodeFailedPrecondition, got.Code)
	assert.Equal(t, errors.ReasonQuestionIndexMismatch, got.Reason)
	assert.Equal(t, "3", got.Metadata["expected_index"])
	assert.Equal(t, "question index mismatch: got=4 expected=3", got.Message)
	assert.ErrorIs(t, got, errors.ErrQuestionIndexMismatch)
}

func TestFromGRPC_PlainStatus(t *testing.T) {
	got := errors.FromGRPC(status.Error(codes.Unavailable, "try later"))
	assert.Equal(t, errors.CodeUnavailable, got.Code)
	assert.Empty(t, got.Reason)
	assert.Nil(t, errors.FromGRPC(nil))
}

func TestConvert(t *testing.T) {
	cause := stderrors.New("boom")
	e := errors.Convert(fmt.Errorf("wrapped: %w", cause))
	assert.Equal(t, errors.CodeInternal, e.Code)
	assert.ErrorIs(t, e, cause)

	limit := errors.New(errors.CodeResourceExhausted, errors.WithReason(errors.ReasonEntryLimitExceeded))
	assert.Same(t, limit, errors.Convert(fmt.Errorf("start: %w", limit)))
	assert.True(t, errors.HasReason(fmt.Errorf("start: %w", limit), errors.ReasonEntryLimitExceeded))
	assert.False(t, errors.HasReason(cause, errors.ReasonEntryLimitExceeded))
}

func TestError_HTTPStatusCode(t *testing.T) {
	tests := map[string]struct {
		code errors.Code
		want int
	}{
		"invalid argument":    {code: errors.CodeInvalidArgument, want: http.StatusBadRequest},
		"resource exhausted":  {code: errors.CodeResourceExhausted, want: http.StatusTooManyRequests},
		"failed precondition": {code: errors.CodeFailedPrecondition, want: http.StatusPreconditionFailed},
		"unknown code":        {code: errors.Code(codes.DataLoss), want: http.StatusInternalServerError},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, errors.New(tt.code).HTTPStatusCode())
		})
	}
}
