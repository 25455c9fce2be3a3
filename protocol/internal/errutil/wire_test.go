// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package errutil_test

import (
	"testing"
	"time"

	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/errors"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/internal/errutil"
	"github.com/stretchr/testify/require"
)

func TestSuccessProps(t *testing.T) {
	props := errutil.ToUserProp(nil, false)
	require.Equal(t, "200", props["__stat"])

	props = errutil.ToUserProp(nil, true)
	require.Equal(t, "204", props["__stat"])

	require.NoError(t, errutil.FromUserProp(props))
}

func TestHeaderMissingRoundTrip(t *testing.T) {
	props := errutil.ToUserProp(&errors.Error{
		Message:    "timestamp missing",
		Kind:       errors.HeaderMissing,
		HeaderName: "__ts",
	}, false)
	require.Equal(t, "400", props["__stat"])
	require.Equal(t, "__ts", props["__propName"])

	err := errutil.FromUserProp(props)
	require.Error(t, err)

	e, ok := err.(*errors.Error)
	require.True(t, ok)
	require.Equal(t, errors.HeaderMissing, e.Kind)
	require.Equal(t, "__ts", e.HeaderName)
	require.True(t, e.IsRemote)
	require.Equal(t, 400, e.HTTPStatusCode)
}

func TestPayloadInvalidRoundTrip(t *testing.T) {
	props := errutil.ToUserProp(&errors.Error{
		Message: "cannot deserialize payload",
		Kind:    errors.PayloadInvalid,
	}, false)
	require.Equal(t, "400", props["__stat"])
	require.Equal(t, "payload", props["__propName"])

	err := errutil.FromUserProp(props)
	e, ok := err.(*errors.Error)
	require.True(t, ok)
	require.Equal(t, errors.PayloadInvalid, e.Kind)
}

func TestTimeoutRoundTrip(t *testing.T) {
	props := errutil.ToUserProp(&errors.Error{
		Message:      "command execution timed out",
		Kind:         errors.Timeout,
		TimeoutName:  "ExecutionTimeout",
		TimeoutValue: 5 * time.Second,
	}, false)
	require.Equal(t, "408", props["__stat"])
	require.Equal(t, "ExecutionTimeout", props["__propName"])
	require.Equal(t, "PT5S", props["__propVal"])

	err := errutil.FromUserProp(props)
	e, ok := err.(*errors.Error)
	require.True(t, ok)
	require.Equal(t, errors.Timeout, e.Kind)
	require.Equal(t, "ExecutionTimeout", e.TimeoutName)
	require.Equal(t, 5*time.Second, e.TimeoutValue)
}

func TestExecutionExceptionRoundTrip(t *testing.T) {
	props := errutil.ToUserProp(&errors.Error{
		Message:       "handler panicked",
		Kind:          errors.ExecutionException,
		InApplication: true,
	}, false)
	require.Equal(t, "500", props["__stat"])
	require.Equal(t, "true", props["__apErr"])

	err := errutil.FromUserProp(props)
	e, ok := err.(*errors.Error)
	require.True(t, ok)
	require.Equal(t, errors.ExecutionException, e.Kind)
	require.True(t, e.InApplication)
}

func TestStateInvalidRoundTrip(t *testing.T) {
	props := errutil.ToUserProp(&errors.Error{
		Message:      "fencing token too old",
		Kind:         errors.StateInvalid,
		PropertyName: "FencingToken",
	}, false)
	require.Equal(t, "422", props["__stat"])

	err := errutil.FromUserProp(props)
	e, ok := err.(*errors.Error)
	require.True(t, ok)
	require.Equal(t, errors.StateInvalid, e.Kind)
	require.Equal(t, "FencingToken", e.PropertyName)
}

func TestUnsupportedVersionRoundTrip(t *testing.T) {
	props := errutil.ToUserProp(&errors.Error{
		Message:                        "unsupported version",
		Kind:                           errors.UnsupportedRequestVersion,
		ProtocolVersion:                "7.0",
		SupportedMajorProtocolVersions: []int{1},
	}, false)
	require.Equal(t, "505", props["__stat"])
	require.Equal(t, "7.0", props["__requestProtVer"])
	require.Equal(t, "1", props["__supProtMajVer"])

	err := errutil.FromUserProp(props)
	e, ok := err.(*errors.Error)
	require.True(t, ok)
	require.Equal(t, errors.UnsupportedRequestVersion, e.Kind)
	require.Equal(t, "7.0", e.ProtocolVersion)
	require.Equal(t, []int{1}, e.SupportedMajorProtocolVersions)
}

func TestUnknownStatus(t *testing.T) {
	err := errutil.FromUserProp(map[string]string{"__stat": "418"})
	e, ok := err.(*errors.Error)
	require.True(t, ok)
	require.Equal(t, errors.UnknownError, e.Kind)
	require.Equal(t, 418, e.HTTPStatusCode)

	require.Error(t, errutil.FromUserProp(map[string]string{}))
	require.Error(t, errutil.FromUserProp(map[string]string{"__stat": "xyz"}))
}
