// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package protocol_test

import (
	"testing"

	"github.com/cartertinney/iot-operations-sdks-sub011/protocol"
	"github.com/stretchr/testify/require"
)

type testValue struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSONRoundTrip(t *testing.T) {
	enc := protocol.JSON[testValue]{}
	val := testValue{Name: "test", Count: 3}

	data, err := enc.Serialize(val)
	require.NoError(t, err)
	require.Equal(t, "application/json", data.ContentType)
	require.Equal(t, byte(1), data.PayloadFormat)

	out, err := enc.Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, val, out)
}

func TestJSONEmptyPayload(t *testing.T) {
	enc := protocol.JSON[testValue]{}
	out, err := enc.Deserialize(&protocol.Data{})
	require.NoError(t, err)
	require.Equal(t, testValue{}, out)
}

func TestJSONContentTypeMismatch(t *testing.T) {
	enc := protocol.JSON[testValue]{}
	_, err := enc.Deserialize(&protocol.Data{
		Payload:     []byte(`{}`),
		ContentType: "application/cbor",
	})
	require.ErrorIs(t, err, protocol.ErrUnsupportedContentType)
}

func TestRawRoundTrip(t *testing.T) {
	enc := protocol.Raw{}
	payload := []byte{0x01, 0x02, 0x03}

	data, err := enc.Serialize(payload)
	require.NoError(t, err)
	require.Equal(t, "application/octet-stream", data.ContentType)
	require.Equal(t, byte(0), data.PayloadFormat)

	out, err := enc.Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, payload, out)

	_, err = enc.Deserialize(&protocol.Data{
		Payload:     payload,
		ContentType: "text/plain",
	})
	require.ErrorIs(t, err, protocol.ErrUnsupportedContentType)
}

func TestEmpty(t *testing.T) {
	enc := protocol.Empty{}

	data, err := enc.Serialize(nil)
	require.NoError(t, err)
	require.Empty(t, data.Payload)

	out, err := enc.Deserialize(data)
	require.NoError(t, err)
	require.Nil(t, out)

	_, err = enc.Serialize("unexpected")
	require.Error(t, err)

	_, err = enc.Deserialize(&protocol.Data{Payload: []byte("unexpected")})
	require.Error(t, err)
}

func TestCustomPassThrough(t *testing.T) {
	enc := protocol.Custom{}
	data := protocol.Data{
		Payload:     []byte("anything"),
		ContentType: "application/x-custom",
	}

	serialized, err := enc.Serialize(data)
	require.NoError(t, err)
	require.Equal(t, data, *serialized)

	out, err := enc.Deserialize(serialized)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestCBORRoundTrip(t *testing.T) {
	enc := protocol.CBOR[testValue]{}
	val := testValue{Name: "test", Count: 3}

	data, err := enc.Serialize(val)
	require.NoError(t, err)
	require.Equal(t, "application/cbor", data.ContentType)

	out, err := enc.Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, val, out)

	empty, err := enc.Deserialize(&protocol.Data{})
	require.NoError(t, err)
	require.Equal(t, testValue{}, empty)
}

func TestAvroRoundTrip(t *testing.T) {
	enc, err := protocol.NewAvro[testValue](`{
		"type": "record",
		"name": "testValue",
		"fields": [
			{"name": "name", "type": "string"},
			{"name": "count", "type": "int"}
		]
	}`)
	require.NoError(t, err)

	val := testValue{Name: "test", Count: 3}

	data, err := enc.Serialize(val)
	require.NoError(t, err)
	require.Equal(t, "application/avro", data.ContentType)

	out, err := enc.Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, val, out)
}
