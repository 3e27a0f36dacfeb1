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

	"github.com/victornm/xo/internal/errors"
)

func TestError_Is(t *testing.T) {
	tests := map[string]struct {
		err    error
		target error
		want   bool
	}{
		"same reason matches the sentinel": {
			err:    errors.New(errors.CodeFailedPrecondition, errors.WithReason(errors.ReasonNotYourTurn), errors.WithMessagef("session=1")),
			target: errors.ErrNotYourTurn,
			want:   true,
		},
		"wrapped error still matches": {
			err:    fmt.Errorf("make move: %w", errors.New(errors.CodeInvalidArgument, errors.WithReason(errors.ReasonInvalidMove))),
			target: errors.ErrInvalidMove,
			want:   true,
		},
		"different reason with same code does not match": {
			err:    errors.New(errors.CodeFailedPrecondition, errors.WithReason(errors.ReasonSessionTerminal)),
			target: errors.ErrNotYourTurn,
			want:   false,
		},
		"error without reason does not match sentinels": {
			err:    errors.New(errors.CodeNotFound),
			target: errors.ErrNotFound,
			want:   false,
		},
		"helper NotFound matches": {
			err:    errors.NotFound("session", 7),
			target: errors.ErrNotFound,
			want:   true,
		},
		"helper Unavailable matches and keeps cause": {
			err:    errors.Unavailable("get session", stderrors.New("dial tcp: refused")),
			target: errors.ErrStorageUnavailable,
			want:   true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, stderrors.Is(tt.err, tt.target))
		})
	}
}

func TestError_HTTPStatusCode(t *testing.T) {
	tests := map[string]struct {
		err  *errors.Error
		want int
	}{
		"invalid move":         {errors.ErrInvalidMove, http.StatusBadRequest},
		"not your turn":        {errors.ErrNotYourTurn, http.StatusConflict},
		"session terminal":     {errors.ErrSessionTerminal, http.StatusConflict},
		"not found":            {errors.ErrNotFound, http.StatusNotFound},
		"duplicate scoring":    {errors.ErrDuplicateScoring, http.StatusConflict},
		"concurrency conflict": {errors.ErrConcurrencyConflict, http.StatusConflict},
		"storage unavailable":  {errors.ErrStorageUnavailable, http.StatusServiceUnavailable},
		"internal":             {errors.Internal(stderrors.New("boom")), http.StatusInternalServerError},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatusCode())
		})
	}
}

func TestConvert(t *testing.T) {
	cause := stderrors.New("boom")

	e := errors.Convert(fmt.Errorf("wrapped: %w", cause))
	require.Equal(t, errors.CodeInternal, e.Code)
	require.ErrorIs(t, e, cause)

	orig := errors.NotFound("user", 1)
	require.Same(t, orig, errors.Convert(fmt.Errorf("get: %w", orig)))

	st := status.Convert(errors.ErrConcurrencyConflict)
	require.Equal(t, codes.Aborted, st.Code())
}
