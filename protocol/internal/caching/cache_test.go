// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package caching_test

import (
	"sync"
	"testing"
	"time"

	"github.com/cartertinney/iot-operations-sdks-sub011/internal/mqtt"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/internal/caching"
	"github.com/stretchr/testify/require"
)

// Manually-advanced clock for cache tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func request(client string, correlation string, expiry uint32) *mqtt.Message {
	return &mqtt.Message{
		PublishOptions: mqtt.PublishOptions{
			CorrelationData: []byte(correlation),
			MessageExpiry:   expiry,
			UserProperties:  map[string]string{"__sndId": client},
		},
	}
}

func TestCacheExecutesOncePerFingerprint(t *testing.T) {
	clock := newTestClock()
	c := caching.New(clock, 10*time.Second)

	count := 0
	cb := func() (*mqtt.Message, error) {
		count++
		return &mqtt.Message{Payload: []byte("result")}, nil
	}

	req := request("client", "correlation-1", 10)

	first, err := c.Exec(req, cb)
	require.NoError(t, err)
	require.Equal(t, []byte("result"), first.Payload)

	second, err := c.Exec(req, cb)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, count)
}

func TestCacheDistinguishesFingerprints(t *testing.T) {
	clock := newTestClock()
	c := caching.New(clock, 10*time.Second)

	count := 0
	cb := func() (*mqtt.Message, error) {
		count++
		return &mqtt.Message{}, nil
	}

	_, err := c.Exec(request("a", "correlation", 10), cb)
	require.NoError(t, err)
	_, err = c.Exec(request("b", "correlation", 10), cb)
	require.NoError(t, err)
	_, err = c.Exec(request("a", "other", 10), cb)
	require.NoError(t, err)

	require.Equal(t, 3, count)
}

func TestCacheRetainsUntilTTL(t *testing.T) {
	clock := newTestClock()
	c := caching.New(clock, 10*time.Second)

	count := 0
	cb := func() (*mqtt.Message, error) {
		count++
		return &mqtt.Message{}, nil
	}

	req := request("client", "correlation", 2)

	_, err := c.Exec(req, cb)
	require.NoError(t, err)

	// The request expiry has passed, but the cache TTL has not.
	clock.advance(5 * time.Second)
	_, err = c.Exec(req, cb)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// The cache TTL has now passed as well; this counts as a new request.
	clock.advance(10 * time.Second)
	_, err = c.Exec(req, cb)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestCacheNonIdempotentRetainsUntilExpiry(t *testing.T) {
	clock := newTestClock()
	c := caching.New(clock, 0)

	count := 0
	cb := func() (*mqtt.Message, error) {
		count++
		return &mqtt.Message{}, nil
	}

	req := request("client", "correlation", 2)

	_, err := c.Exec(req, cb)
	require.NoError(t, err)

	// Duplicates within the request expiry are deduplicated even without a
	// cache TTL.
	clock.advance(time.Second)
	_, err = c.Exec(req, cb)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// Once the request expires, the entry is released.
	clock.advance(5 * time.Second)
	_, err = c.Exec(req, cb)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestCacheDropsExpiredExecution(t *testing.T) {
	clock := newTestClock()
	c := caching.New(clock, 0)

	req := request("client", "correlation", 2)

	// The callback completes after the request has already expired, so no
	// response should be produced.
	res, err := c.Exec(req, func() (*mqtt.Message, error) {
		clock.advance(5 * time.Second)
		return &mqtt.Message{}, nil
	})
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestCacheJoinsInFlightExecution(t *testing.T) {
	clock := newTestClock()
	c := caching.New(clock, 0)

	req := request("client", "correlation", 10)

	started := make(chan struct{})
	release := make(chan struct{})
	count := 0
	cb := func() (*mqtt.Message, error) {
		count++
		close(started)
		<-release
		return &mqtt.Message{Payload: []byte("joined")}, nil
	}

	var wg sync.WaitGroup
	results := make([]*mqtt.Message, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.Exec(req, cb)
		}()
	}

	<-started
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, 1, count)
	require.Same(t, results[0], results[1])
}
