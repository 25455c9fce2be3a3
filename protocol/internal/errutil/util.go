// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package errutil

import (
	"context"

	"github.com/cartertinney/iot-operations-sdks-sub011/internal/log"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/errors"
	"github.com/google/uuid"
)

type noReturn struct{ error }

// NoReturn indicates that this error cannot be returned over RPC.
func NoReturn(err error) error {
	return noReturn{err}
}

// IsNoReturn gets whether this error is returnable, and the underlying error.
func IsNoReturn(err error) (bool, error) {
	if e, ok := err.(noReturn); ok {
		return true, e.error
	}
	return false, err
}

// Return prepares the error for returning to the caller, removing any
// no-return flags (since this is used outside of the RPC context) and applying
// the shallow flag where possible.
func Return(err error, logger log.Logger, shallow bool) error {
	if e, ok := err.(noReturn); ok {
		err = e.error
	}
	if e, ok := err.(*errors.Error); ok && !e.IsRemote {
		e.IsShallow = shallow
	}
	if err != nil {
		logger.WarnErr(context.Background(), err)
	}
	return err
}

// ValidateNonNil validates that a collection of arguments are not nil.
func ValidateNonNil(args map[string]any) error {
	for k, v := range args {
		if v == nil {
			return &errors.Error{
				Message:      "argument is nil",
				Kind:         errors.ConfigurationInvalid,
				PropertyName: k,
			}
		}
	}
	return nil
}

// NewUUID generates a UUID with a protocol error on failure.
func NewUUID() (string, error) {
	correlation, err := uuid.NewV7()
	if err != nil {
		return "", &errors.Error{
			Message:     err.Error(),
			Kind:        errors.UnknownError,
			NestedError: err,
		}
	}
	return correlation.String(), nil
}
