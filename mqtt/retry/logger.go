// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package retry

import (
	"context"
	"log/slog"

	"github.com/cartertinney/iot-operations-sdks-sub011/internal/log"
)

type logger struct{ log.Logger }

func (l logger) attempt(
	ctx context.Context,
	name string,
	attempt uint64,
) {
	l.Log(ctx, slog.LevelDebug, "retry attempt",
		slog.String("operation", name),
		slog.Uint64("attempt", attempt),
	)
}

func (l logger) complete(
	ctx context.Context,
	name string,
	attempt uint64,
	err error,
) {
	if err == nil {
		l.Log(ctx, slog.LevelDebug, "retry succeeded",
			slog.String("operation", name),
			slog.Uint64("attempt", attempt),
		)
		return
	}
	l.Log(ctx, slog.LevelWarn, "retry abandoned",
		slog.String("operation", name),
		slog.Uint64("attempt", attempt),
		slog.String("error", err.Error()),
	)
}
