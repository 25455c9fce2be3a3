// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package errutil

import (
	"fmt"
	"strconv"

	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/errors"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/internal/constants"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/internal/version"
	"github.com/sosodev/duration"
)

// Wire statuses, named per their HTTP equivalents.
const (
	statusOK                  = 200
	statusNoContent           = 204
	statusBadRequest          = 400
	statusRequestTimeout      = 408
	statusStateInvalid        = 422
	statusInternalServerError = 500
	statusInvocationException = 503
	statusVersionNotSupported = 505
)

type result struct {
	status            int
	message           string
	application       bool
	name              string
	value             any
	version           string
	supportedVersions []int
}

// ToUserProp translates an executor-side error into response user properties.
// A nil error produces the successful status; noContent selects between the
// OK and NoContent variants.
func ToUserProp(err error, noContent bool) map[string]string {
	if err == nil {
		status := statusOK
		if noContent {
			status = statusNoContent
		}
		return (&result{status: status}).props()
	}

	e, ok := err.(*errors.Error)
	if !ok {
		return (&result{
			status:  statusInternalServerError,
			message: "invalid error",
		}).props()
	}

	switch e.Kind {
	case errors.HeaderMissing:
		return (&result{
			status:  statusBadRequest,
			message: e.Message,
			name:    e.HeaderName,
		}).props()

	case errors.HeaderInvalid:
		return (&result{
			status:  statusBadRequest,
			message: e.Message,
			name:    e.HeaderName,
			value:   e.HeaderValue,
		}).props()

	case errors.PayloadInvalid:
		return (&result{
			status:  statusBadRequest,
			message: e.Message,
			name:    constants.PayloadProperty,
		}).props()

	case errors.Timeout:
		return (&result{
			status:  statusRequestTimeout,
			message: e.Message,
			name:    e.TimeoutName,
			value:   duration.Format(e.TimeoutValue),
		}).props()

	case errors.StateInvalid:
		return (&result{
			status:      statusStateInvalid,
			message:     e.Message,
			application: e.InApplication,
			name:        e.PropertyName,
			value:       e.PropertyValue,
		}).props()

	case errors.InternalLogicError:
		return (&result{
			status:  statusInternalServerError,
			message: e.Message,
			name:    e.PropertyName,
		}).props()

	case errors.InvocationException:
		return (&result{
			status:      statusInvocationException,
			message:     e.Message,
			application: e.InApplication,
			name:        e.PropertyName,
			value:       e.PropertyValue,
		}).props()

	case errors.ExecutionException:
		return (&result{
			status:      statusInternalServerError,
			message:     e.Message,
			application: e.InApplication,
		}).props()

	case errors.UnsupportedRequestVersion:
		return (&result{
			status:            statusVersionNotSupported,
			message:           e.Message,
			version:           e.ProtocolVersion,
			supportedVersions: e.SupportedMajorProtocolVersions,
		}).props()

	case errors.UnknownError:
		return (&result{
			status:  statusInternalServerError,
			message: e.Message,
		}).props()

	default:
		return (&result{
			status:  statusInternalServerError,
			message: "invalid error kind",
			name:    "Kind",
		}).props()
	}
}

// FromUserProp translates response user properties back into an error, or nil
// for a successful status.
func FromUserProp(user map[string]string) error {
	status := user[constants.Status]
	statusMessage := user[constants.StatusMessage]
	propertyName := user[constants.InvalidPropertyName]
	propertyValue := user[constants.InvalidPropertyValue]
	protocolVersion := user[constants.RequestProtocolVersion]
	supportedVersions := user[constants.SupportedProtocolMajorVersion]

	if status == "" {
		return &errors.Error{
			Message:    "status missing",
			Kind:       errors.HeaderMissing,
			HeaderName: constants.Status,
		}
	}

	code, err := strconv.ParseInt(status, 10, 32)
	if err != nil {
		return &errors.Error{
			Message:     "status is not a valid integer",
			Kind:        errors.HeaderInvalid,
			HeaderName:  constants.Status,
			HeaderValue: status,
			NestedError: err,
		}
	}

	// No error, we're done.
	if code < statusBadRequest {
		return nil
	}

	e := &errors.Error{
		Message:        statusMessage,
		IsRemote:       true,
		InApplication:  user[constants.IsApplicationError] == "true",
		HTTPStatusCode: int(code),
	}

	switch code {
	case statusBadRequest:
		switch {
		case propertyName == "", propertyName == constants.PayloadProperty:
			e.Kind = errors.PayloadInvalid

		case propertyValue == "":
			e.Kind = errors.HeaderMissing
			e.HeaderName = propertyName

		default:
			e.Kind = errors.HeaderInvalid
			e.HeaderName = propertyName
			e.HeaderValue = propertyValue
		}

	case statusRequestTimeout:
		to, err := duration.Parse(propertyValue)
		if err != nil {
			return &errors.Error{
				Message:     "invalid timeout value",
				Kind:        errors.HeaderInvalid,
				HeaderName:  constants.InvalidPropertyValue,
				HeaderValue: propertyValue,
				NestedError: err,
			}
		}
		e.Kind = errors.Timeout
		e.TimeoutName = propertyName
		e.TimeoutValue = to.ToTimeDuration()

	case statusStateInvalid:
		e.Kind = errors.StateInvalid
		e.PropertyName = propertyName
		if propertyValue != "" {
			e.PropertyValue = propertyValue
		}

	case statusInternalServerError:
		switch {
		case e.InApplication:
			e.Kind = errors.ExecutionException

		case propertyName != "":
			e.Kind = errors.InternalLogicError
			e.PropertyName = propertyName

		default:
			e.Kind = errors.UnknownError
		}

	case statusInvocationException:
		e.Kind = errors.InvocationException
		e.PropertyName = propertyName
		if propertyValue != "" {
			e.PropertyValue = propertyValue
		}

	case statusVersionNotSupported:
		e.Kind = errors.UnsupportedRequestVersion
		e.Message = "request version is not supported"
		if statusMessage != "" {
			e.Message = statusMessage
		}
		e.ProtocolVersion = protocolVersion
		e.SupportedMajorProtocolVersions = version.ParseSupported(
			supportedVersions,
		)

	default:
		// Treat unknown statuses as unknown errors, but otherwise allow them.
		e.Kind = errors.UnknownError
		e.PropertyName = propertyName
		if propertyValue != "" {
			e.PropertyValue = propertyValue
		}
	}

	return e
}

func (r *result) props() map[string]string {
	props := make(map[string]string, 6)

	props[constants.Status] = fmt.Sprint(r.status)

	if r.message != "" {
		props[constants.StatusMessage] = r.message
	}
	if r.application {
		props[constants.IsApplicationError] = "true"
	}

	if r.name != "" {
		props[constants.InvalidPropertyName] = r.name
		if r.value != nil && r.value != "" {
			props[constants.InvalidPropertyValue] = fmt.Sprint(r.value)
		}
	}

	if r.version != "" {
		props[constants.RequestProtocolVersion] = r.version
		props[constants.SupportedProtocolMajorVersion] = version.SerializeSupported(
			r.supportedVersions,
		)
	}

	return props
}
