// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package protocol

import (
	"encoding/json"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/linkedin/goavro/v2"
	"google.golang.org/protobuf/proto"
)

type (
	// CBOR is a simple implementation of a CBOR encoding.
	CBOR[T any] struct{}

	// Protobuf encodes protobuf messages using their binary wire format.
	Protobuf[T proto.Message] struct{}

	// Avro encodes values using the Avro binary format for the provided
	// codec's schema. Values are bridged through their JSON form, so the Go
	// type's JSON field names must align with the schema.
	Avro[T any] struct{ Codec *goavro.Codec }
)

// NewAvro creates an Avro encoding from an Avro schema.
func NewAvro[T any](schema string) (Avro[T], error) {
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return Avro[T]{}, err
	}
	return Avro[T]{codec}, nil
}

// Serialize translates the Go type T into CBOR bytes.
func (CBOR[T]) Serialize(t T) (*Data, error) {
	bytes, err := cbor.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &Data{bytes, "application/cbor", 0}, nil
}

// Deserialize translates CBOR bytes into the Go type T. An empty payload
// deserializes to the zero value.
func (CBOR[T]) Deserialize(data *Data) (T, error) {
	var t T
	switch data.ContentType {
	case "", "application/cbor":
		if len(data.Payload) == 0 {
			return t, nil
		}
		err := cbor.Unmarshal(data.Payload, &t)
		return t, err
	default:
		return t, ErrUnsupportedContentType
	}
}

// Serialize translates the protobuf message into its binary wire format.
func (Protobuf[T]) Serialize(t T) (*Data, error) {
	bytes, err := proto.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &Data{bytes, "application/protobuf", 0}, nil
}

// Deserialize translates the binary wire format into the protobuf message.
func (Protobuf[T]) Deserialize(data *Data) (T, error) {
	var t T
	switch data.ContentType {
	case "", "application/protobuf":
		// T is a pointer type, so allocate the underlying message.
		//nolint:forcetypeassert // The type is guaranteed by the constraint.
		t = reflect.New(reflect.TypeOf(t).Elem()).Interface().(T)
		if len(data.Payload) == 0 {
			return t, nil
		}
		err := proto.Unmarshal(data.Payload, t)
		return t, err
	default:
		return t, ErrUnsupportedContentType
	}
}

// Serialize translates the Go type T into Avro binary bytes.
func (a Avro[T]) Serialize(t T) (*Data, error) {
	textual, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	native, _, err := a.Codec.NativeFromTextual(textual)
	if err != nil {
		return nil, err
	}
	bytes, err := a.Codec.BinaryFromNative(nil, native)
	if err != nil {
		return nil, err
	}
	return &Data{bytes, "application/avro", 0}, nil
}

// Deserialize translates Avro binary bytes into the Go type T. An empty
// payload deserializes to the zero value.
func (a Avro[T]) Deserialize(data *Data) (T, error) {
	var t T
	switch data.ContentType {
	case "", "application/avro":
		if len(data.Payload) == 0 {
			return t, nil
		}
		native, _, err := a.Codec.NativeFromBinary(data.Payload)
		if err != nil {
			return t, err
		}
		textual, err := a.Codec.TextualFromNative(nil, native)
		if err != nil {
			return t, err
		}
		err = json.Unmarshal(textual, &t)
		return t, err
	default:
		return t, ErrUnsupportedContentType
	}
}
