package apierr_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagebuilder/internal/apierr"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want apierr.Type
	}{
		{&pq.Error{Code: "23505", Message: "dup"}, apierr.Validation},
		{&pq.Error{Code: "23503"}, apierr.Validation},
		{&pq.Error{Code: "42P01", Message: "no table"}, apierr.Server},
		{&apierr.StatusError{StatusCode: 401}, apierr.Authentication},
		{&apierr.StatusError{StatusCode: 403}, apierr.Authorization},
		{&apierr.StatusError{StatusCode: 429}, apierr.RateLimit},
		{&apierr.StatusError{StatusCode: 503}, apierr.Server},
		{context.DeadlineExceeded, apierr.Network},
		{errors.New("network unreachable"), apierr.Network},
		{errors.New("permission denied"), apierr.Authorization},
		{errors.New("page not found"), apierr.NotFound},
		{errors.New("rate limit exceeded"), apierr.RateLimit},
		{errors.New("invalid input"), apierr.Validation},
		{errors.New("weird"), apierr.Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			got := apierr.Classify(fmt.Errorf("wrapped: %w", tc.err), "op")
			assert.Equal(t, tc.want, got.Type)
			assert.Equal(t, "op", got.Operation)
			assert.ErrorIs(t, got, tc.err)
		})
	}
	assert.Nil(t, apierr.Classify(nil, "op"))
}

func TestClassify_PgCodeAndMessages(t *testing.T) {
	e := apierr.Classify(&pq.Error{Code: "23505", Detail: "Key (id) exists"}, "createElement")
	assert.Equal(t, "23505", e.Code)
	assert.Equal(t, "Key (id) exists", e.Details)
	assert.Equal(t, "This data already exists.", apierr.UserMessage(e))
	assert.False(t, apierr.Recoverable(e))

	n := apierr.Classify(errors.New("fetch failed"), "")
	assert.True(t, apierr.Recoverable(n))
	assert.NotEmpty(t, apierr.RecoveryHint(n))
}

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	v, err := apierr.WithRetry(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("server unavailable")
		}
		return "ok", nil
	}, apierr.RetryOptions{MaxRetries: 3, Delay: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	_, err := apierr.WithRetry(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("network down")
	}, apierr.RetryOptions{MaxRetries: 3, Delay: time.Millisecond})
	assert.EqualError(t, err, "network down")
	assert.Equal(t, 3, calls)
}

func TestWithRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := apierr.WithRetry(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, &apierr.StatusError{StatusCode: 404}
	}, apierr.RetryOptions{MaxRetries: 5, Delay: time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestHandler_RollbackNewestFirst(t *testing.T) {
	h := apierr.NewHandler()
	var order []int
	h.PushRollback(func(context.Context) error { order = append(order, 1); return nil })
	h.PushRollback(func(context.Context) error { order = append(order, 2); return errors.New("failed") })
	h.PushRollback(func(context.Context) error { order = append(order, 3); return nil })

	err := h.Rollback(context.Background())
	assert.EqualError(t, err, "failed")
	assert.Equal(t, []int{3, 2, 1}, order)
	assert.Zero(t, h.Pending())
}

func TestHandler_LastErrorAndDismiss(t *testing.T) {
	h := apierr.NewHandler()
	ae := h.Handle(context.Background(), errors.New("server exploded"), "saveElement")
	require.NotNil(t, ae)
	assert.Equal(t, apierr.Server, h.LastError().Type)
	h.Dismiss()
	assert.Nil(t, h.LastError())

	h.PushRollback(func(context.Context) error { return nil })
	h.Commit()
	assert.Zero(t, h.Pending())
}
