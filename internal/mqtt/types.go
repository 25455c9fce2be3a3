// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import "context"

type (
	// Message represents a received message.
	Message struct {
		Topic   string
		Payload []byte
		PublishOptions

		// Ack manually acks the message. All owned messages must be acked; for
		// QoS 0 messages this is a no-op.
		Ack func()
	}

	// MessageHandler is a callback invoked for messages received on the
	// underlying connection. It returns whether the handler took ownership of
	// the message; an owned message must eventually be acked by the owner,
	// while a message no handler owns is acked by the client immediately.
	MessageHandler = func(context.Context, *Message) bool

	// ConnectEvent contains the relevant metadata provided to the handler when
	// the MQTT client connects to the broker.
	ConnectEvent struct {
		ReasonCode byte
	}

	// ConnectEventHandler is a user-defined callback function used to respond
	// to connection notifications from the MQTT client.
	ConnectEventHandler = func(*ConnectEvent)

	// DisconnectEvent contains the relevant metadata provided to the handler
	// when the MQTT client disconnects from the broker.
	DisconnectEvent struct {
		ReasonCode *byte
		Error      error
	}

	// DisconnectEventHandler is a user-defined callback function used to
	// respond to disconnection notifications from the MQTT client.
	DisconnectEventHandler = func(*DisconnectEvent)

	// Ack contains values from PUBACK/SUBACK/UNSUBACK packets received from
	// the MQTT server.
	Ack struct {
		ReasonCode     byte
		ReasonString   string
		UserProperties map[string]string
	}
)
