// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cartertinney/iot-operations-sdks-sub011/mqtt/retry"
	"github.com/stretchr/testify/require"
)

func TestSucceedsImmediately(t *testing.T) {
	e := &retry.ExponentialBackoff{NoJitter: true}

	count := 0
	err := e.Start(context.Background(), "test",
		func(context.Context) (bool, error) {
			count++
			return true, nil
		},
	)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRetriesUntilSuccess(t *testing.T) {
	e := &retry.ExponentialBackoff{
		MinInterval: time.Millisecond,
		MaxInterval: 2 * time.Millisecond,
		NoJitter:    true,
	}

	count := 0
	err := e.Start(context.Background(), "test",
		func(context.Context) (bool, error) {
			count++
			if count < 3 {
				return true, errors.New("transient")
			}
			return true, nil
		},
	)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestStopsOnNonRetryableError(t *testing.T) {
	e := &retry.ExponentialBackoff{NoJitter: true}

	fatal := errors.New("fatal")
	count := 0
	err := e.Start(context.Background(), "test",
		func(context.Context) (bool, error) {
			count++
			return false, fatal
		},
	)
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, count)
}

func TestStopsAtMaxAttempts(t *testing.T) {
	e := &retry.ExponentialBackoff{
		MaxAttempts: 3,
		MinInterval: time.Millisecond,
		MaxInterval: 2 * time.Millisecond,
		NoJitter:    true,
	}

	transient := errors.New("transient")
	count := 0
	err := e.Start(context.Background(), "test",
		func(context.Context) (bool, error) {
			count++
			return true, transient
		},
	)
	require.ErrorIs(t, err, transient)
	require.Equal(t, 3, count)
}

func TestHonorsContextCancellation(t *testing.T) {
	e := &retry.ExponentialBackoff{
		MinInterval: time.Minute,
		NoJitter:    true,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(10*time.Millisecond, cancel)

	err := e.Start(ctx, "test",
		func(context.Context) (bool, error) {
			return true, errors.New("transient")
		},
	)
	require.ErrorIs(t, err, context.Canceled)
}
