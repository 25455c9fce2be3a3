// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cartertinney/iot-operations-sdks-sub011/internal/wallclock"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/errors"
)

// Timeout applies an optional named timeout.
type Timeout struct {
	time.Duration
	Name string
	Text string
}

// Validate bounds-checks the timeout, reporting failures with the given kind.
func (to *Timeout) Validate(kind errors.Kind) error {
	switch {
	case to.Duration < 0:
		return &errors.Error{
			Message:       "timeout cannot be negative",
			Kind:          kind,
			PropertyName:  "Timeout",
			PropertyValue: to.Duration,
		}

	case to.Seconds() > math.MaxUint32:
		return &errors.Error{
			Message:       "timeout too large",
			Kind:          kind,
			PropertyName:  "Timeout",
			PropertyValue: to.Duration,
		}

	default:
		return nil
	}
}

// Context applies this timeout to a context, with a protocol error as its
// cancellation cause.
func (to *Timeout) Context(
	ctx context.Context,
) (context.Context, context.CancelFunc) {
	if to.Duration == 0 {
		return context.WithCancel(ctx)
	}
	return wallclock.Instance.WithTimeoutCause(
		ctx,
		to.Duration,
		&errors.Error{
			Message:      fmt.Sprintf("%s timed out", to.Text),
			Kind:         errors.Timeout,
			TimeoutName:  to.Name,
			TimeoutValue: to.Duration,
		},
	)
}

// MessageExpiry converts the timeout into an MQTT message expiry interval,
// rounding up to whole seconds with a minimum of one.
func (to *Timeout) MessageExpiry() uint32 {
	if to.Duration <= 0 {
		return 0
	}
	expiry := uint32(math.Ceil(to.Seconds()))
	if expiry == 0 {
		expiry = 1
	}
	return expiry
}
