// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal

import (
	"context"
	"sync"
)

// Background abstracts the concept of a long-running background process which
// contexts may need to tie to.
type Background struct {
	err   error
	done  chan struct{}
	close func()
}

// NewBackground creates a background whose contexts are cancelled with the
// given error when it is closed.
func NewBackground(err error) *Background {
	done := make(chan struct{})
	return &Background{err, done, sync.OnceFunc(func() { close(done) })}
}

// With ties a context to this background.
func (b *Background) With(
	ctx context.Context,
) (context.Context, context.CancelFunc) {
	c, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-b.done:
			cancel(b.err)
		case <-c.Done():
		}
	}()
	return c, func() { cancel(context.Canceled) }
}

// Close the background, cancelling all tied contexts.
func (b *Background) Close() {
	b.close()
}

// Done returns the channel that is closed when the background stops.
func (b *Background) Done() <-chan struct{} {
	return b.done
}
