// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package caching

import (
	"sync"
	"time"

	"github.com/cartertinney/iot-operations-sdks-sub011/internal/mqtt"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/internal/constants"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/internal/container"
)

type (
	// Cache deduplicates request executions by their fingerprint, which is the
	// pair of sender client ID and correlation data. An entry lives at least
	// until its request expires; completed results of idempotent commands are
	// additionally retained for the configured TTL and replayed verbatim.
	Cache struct {
		clock Clock
		ttl   time.Duration

		entries container.PriorityMap[key, *entry, int64]
		mu      sync.Mutex
	}

	// Callback computes the response message for a request.
	Callback = func() (*mqtt.Message, error)

	// Clock is used for test dependency injection.
	Clock interface {
		Now() time.Time
	}

	key struct {
		client      string
		correlation string
	}

	entry struct {
		// sync.OnceValues used to compute and store the result, so that
		// concurrent duplicates join the in-flight execution instead of
		// re-executing.
		cb Callback

		end      time.Time // Time processing completed; zero while in flight.
		reqTTL   time.Time // Time the initial request expires.
		cacheTTL time.Time // Time the cache entry fully expires.
	}
)

// MaxEntryCount bounds the cache to protect against fingerprint churn from
// misbehaving invokers.
const MaxEntryCount = 10000

// New creates a new cache. A zero TTL disables retention beyond the request
// expiry, which still provides in-flight and until-expiry deduplication.
func New(clock Clock, ttl time.Duration) *Cache {
	return &Cache{
		clock:   clock,
		ttl:     ttl,
		entries: container.NewPriorityMap[key, *entry, int64](),
	}
}

// Exec returns the response message for the request, executing the provided
// callback to produce it if an equivalent execution is not already available.
// A nil message with no error indicates that the request should be dropped
// without a response, e.g. because it expired before completing.
func (c *Cache) Exec(req *mqtt.Message, cb Callback) (*mqtt.Message, error) {
	return c.get(req, cb).cb()
}

// Get or create the cache entry. This is separate from Exec so that the cache
// mutex is not retained while the callback is executing.
func (c *Cache) get(req *mqtt.Message, cb Callback) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now().UTC()
	c.trim(now)

	id := key{
		client:      req.UserProperties[constants.SenderClientID],
		correlation: string(req.CorrelationData),
	}

	if cached, ok := c.entries.Get(id); ok {
		return cached
	}

	e := &entry{
		reqTTL: now.Add(time.Duration(req.MessageExpiry) * time.Second),
	}

	// Until processing completes, the entry lives exactly as long as its
	// request; set() may extend it afterwards for idempotent retention.
	e.cacheTTL = e.reqTTL
	e.cb = sync.OnceValues(func() (*mqtt.Message, error) {
		res, err := cb()
		return c.set(id, e, res, err)
	})

	c.entries.Set(id, e, e.cacheTTL.UnixNano())
	return e
}

// Store the result in the cache and resolve what to return for it.
func (c *Cache) set(
	id key,
	e *entry,
	res *mqtt.Message,
	err error,
) (*mqtt.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e.end = c.clock.Now().UTC()

	// Successful results of idempotent commands are retained past the request
	// expiry; errors and non-idempotent results only cover retransmissions
	// that arrive while the original request is still live.
	if c.ttl > 0 && err == nil && res != nil {
		if cacheTTL := e.end.Add(c.ttl); cacheTTL.After(e.cacheTTL) {
			e.cacheTTL = cacheTTL
			c.entries.Set(id, e, e.cacheTTL.UnixNano())
		}
		return res, nil
	}

	// The request expired before processing completed, so there is nobody
	// left to respond to.
	if e.end.After(e.reqTTL) {
		c.entries.Delete(id)
		return nil, nil
	}

	return res, err
}

// Remove expired entries, as well as the oldest entries when the cache has
// grown past its bound. Must be called under the cache mutex.
func (c *Cache) trim(now time.Time) {
	for c.entries.Len() > 0 {
		id, e, _ := c.entries.Next()
		if now.Before(e.cacheTTL) && c.entries.Len() <= MaxEntryCount {
			return
		}

		// Never trim in-flight executions; they are completed by set().
		if e.end.IsZero() {
			return
		}

		c.entries.Delete(id)
	}
}
