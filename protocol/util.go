// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package protocol

import (
	"log/slog"

	"github.com/cartertinney/iot-operations-sdks-sub011/internal/log"
	"github.com/google/uuid"
)

// Must ensures an object is created, or panics on error. Used to create global
// instances, e.g. of an Application state.
func Must[T any](t T, e error) T {
	if e != nil {
		panic(e)
	}
	return t
}

// Wrap the envoy's logger, falling back to the application's logger.
func wrapLogger(logger *slog.Logger, app *Application) log.Logger {
	if logger == nil {
		logger = app.log
	}
	return log.Wrap(logger)
}

// Render correlation data in its UUID form where possible.
func correlationString(correlation []byte) string {
	if u, err := uuid.FromBytes(correlation); err == nil {
		return u.String()
	}
	return string(correlation)
}
