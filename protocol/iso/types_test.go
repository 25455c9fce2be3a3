// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package iso_test

import (
	"testing"
	"time"

	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/iso"
	"github.com/stretchr/testify/require"
)

func TestDuration(t *testing.T) {
	d := iso.Duration(90 * time.Second)
	require.Equal(t, "PT1M30S", d.String())

	var parsed iso.Duration
	require.NoError(t, parsed.UnmarshalText([]byte("PT1M30S")))
	require.Equal(t, d, parsed)

	require.NoError(t, parsed.UnmarshalText([]byte("PT5S")))
	require.Equal(t, iso.Duration(5*time.Second), parsed)

	require.Error(t, parsed.UnmarshalText([]byte("bogus")))
}

func TestDateTime(t *testing.T) {
	val := time.Date(2024, 8, 1, 12, 34, 56, 0, time.UTC)
	dt := iso.DateTime(val)
	require.Equal(t, "2024-08-01T12:34:56Z", dt.String())

	var parsed iso.DateTime
	require.NoError(t, parsed.UnmarshalText([]byte("2024-08-01T12:34:56Z")))
	require.True(t, val.Equal(time.Time(parsed)))
}

func TestDate(t *testing.T) {
	var parsed iso.Date
	require.NoError(t, parsed.UnmarshalText([]byte("2024-08-01")))
	require.Equal(t, "2024-08-01", parsed.String())
}

func TestByteSlice(t *testing.T) {
	val := iso.ByteSlice{0x01, 0x02, 0x03}

	text, err := val.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "AQID", string(text))

	var parsed iso.ByteSlice
	require.NoError(t, parsed.UnmarshalText(text))
	require.Equal(t, val, parsed)

	require.Error(t, parsed.UnmarshalText([]byte("!!!")))
}
