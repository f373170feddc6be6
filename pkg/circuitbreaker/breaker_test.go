package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failing(context.Context) error { return errBoom }
func ok(context.Context) error      { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	cb := New(Config{Name: "catalog", FailureThreshold: 2, ResetTimeout: time.Hour})

	require.ErrorIs(t, cb.Execute(context.Background(), failing), errBoom)
	assert.Equal(t, StateClosed, cb.State())
	require.ErrorIs(t, cb.Execute(context.Background(), failing), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	require.ErrorIs(t, cb.Execute(context.Background(), ok), ErrOpen)
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, ResetTimeout: time.Millisecond})

	_ = cb.Execute(context.Background(), failing)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, ResetTimeout: time.Millisecond})

	_ = cb.Execute(context.Background(), failing)
	time.Sleep(5 * time.Millisecond)
	_ = cb.Execute(context.Background(), failing)

	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_IgnoresNonFailures(t *testing.T) {
	notFound := errors.New("not found")
	cb := New(Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		IsFailure:        func(err error) bool { return !errors.Is(err, notFound) },
	})

	err := cb.Execute(context.Background(), func(context.Context) error { return notFound })
	require.ErrorIs(t, err, notFound)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, int64(0), cb.Metrics().FailureCount)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, ResetTimeout: time.Hour})

	_ = cb.Execute(context.Background(), failing)
	_ = cb.Execute(context.Background(), failing)
	_ = cb.Execute(context.Background(), ok)

	assert.Equal(t, int64(0), cb.Metrics().FailureCount)
}

func TestBreaker_ResetCloses(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, ResetTimeout: time.Hour})

	_ = cb.Execute(context.Background(), failing)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), ok), ErrOpen)

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Execute(context.Background(), ok))
}
