package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppError_CodeMatching(t *testing.T) {
	err := NewError(ErrCodeNotFound, "aggregate not found")
	require.Equal(t, ErrCodeNotFound, err.Code())
	require.True(t, IsErrorCode(err, ErrCodeNotFound))
	require.False(t, IsErrorCode(err, ErrCodeConflict))

	// errors.Is 基于错误码匹配
	require.True(t, stdErrors.Is(err, NewError(ErrCodeNotFound, "other message")))
}

func TestWrapError(t *testing.T) {
	require.Nil(t, WrapError(nil, ErrCodeDatabase, "should be nil"))

	cause := fmt.Errorf("connection refused")
	err := WrapError(cause, ErrCodeDatabase, "query failed")
	require.Equal(t, ErrCodeDatabase, err.Code())
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "connection refused")

	// 嵌套包装沿 Unwrap 链取最外层错误码
	outer := WrapError(err, ErrCodeInternal, "request failed")
	require.Equal(t, ErrCodeInternal, GetErrorCode(outer))
	require.ErrorIs(t, outer, cause)
}

func TestGetErrorCode(t *testing.T) {
	require.Equal(t, ErrorCode(""), GetErrorCode(nil))
	require.Equal(t, ErrCodeInternal, GetErrorCode(fmt.Errorf("plain error")))
	require.Equal(t, ErrCodeTimeout, GetErrorCode(NewError(ErrCodeTimeout, "deadline")))
}

func TestAppError_WithDetail(t *testing.T) {
	base := NewError(ErrCodeConflict, "version mismatch")
	detailed := base.WithDetail("stream_id", "acc-1").WithDetail("expected", 3)

	require.Equal(t, "acc-1", detailed.Details()["stream_id"])
	require.Equal(t, 3, detailed.Details()["expected"])
	// 原错误不受影响
	require.Empty(t, base.Details())
}
