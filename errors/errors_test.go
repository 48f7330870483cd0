package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.class.String())
	}
}

func TestWrapPattern(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Loader", "LoadMore", "page fetch")
	require.Error(t, err)
	assert.Equal(t, "Loader.LoadMore: page fetch failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))

	assert.Nil(t, Wrap(nil, "Loader", "LoadMore", "page fetch"))
}

func TestWrapClassified(t *testing.T) {
	base := stderrors.New("boom")

	tests := []struct {
		name string
		wrap func(error, string, string, string) error
		want ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.wrap(base, "Cache", "Put", "store page")
			require.Error(t, err)

			var ce *ClassifiedError
			require.True(t, stderrors.As(err, &ce))
			assert.Equal(t, tt.want, ce.Class)
			assert.Equal(t, "Cache", ce.Component)
			assert.Equal(t, "Put", ce.Operation)
			assert.True(t, stderrors.Is(err, base))

			assert.Nil(t, tt.wrap(nil, "Cache", "Put", "store page"))
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"fetch failed sentinel", ErrFetchFailed, true},
		{"fetch timeout sentinel", ErrFetchTimeout, true},
		{"buffer full sentinel", ErrFeedBufferFull, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped transient", WrapTransient(stderrors.New("x"), "c", "m", "a"), true},
		{"wrapped invalid", WrapInvalid(stderrors.New("x"), "c", "m", "a"), false},
		{"timeout pattern", stderrors.New("read timeout on socket"), true},
		{"connection pattern", stderrors.New("connection refused"), true},
		{"plain error", stderrors.New("boom"), false},
		{"stale event", ErrStaleEvent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsInvalid(t *testing.T) {
	assert.True(t, IsInvalid(ErrStaleEvent))
	assert.True(t, IsInvalid(ErrMalformedEvent))
	assert.True(t, IsInvalid(ErrInvalidData))
	assert.True(t, IsInvalid(fmt.Errorf("decode: %w", ErrMalformedEvent)))
	assert.False(t, IsInvalid(ErrFetchFailed))
	assert.False(t, IsInvalid(nil))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsFatal(ErrMissingConfig))
	assert.True(t, IsFatal(ErrSessionClosed))
	assert.True(t, IsFatal(WrapFatal(stderrors.New("x"), "c", "m", "a")))
	assert.False(t, IsFatal(ErrStaleEvent))
	assert.False(t, IsFatal(nil))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil defaults transient", nil, ErrorTransient},
		{"transient sentinel", ErrFetchFailed, ErrorTransient},
		{"invalid sentinel", ErrStaleEvent, ErrorInvalid},
		{"fatal sentinel", ErrInvalidConfig, ErrorFatal},
		{"unknown defaults transient", stderrors.New("boom"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassifiedErrorMessage(t *testing.T) {
	ce := &ClassifiedError{Class: ErrorInvalid, Err: stderrors.New("under")}
	assert.Equal(t, "under", ce.Error())

	ce.Message = "override"
	assert.Equal(t, "override", ce.Error())
	assert.Equal(t, "under", ce.Unwrap().Error())
}
