// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import "github.com/cartertinney/iot-operations-sdks-sub011/internal/mqtt"

// Aliases for the shared MQTT message contract, so that users of the session
// client only need to import this package.
type (
	Message                = mqtt.Message
	MessageHandler         = mqtt.MessageHandler
	ConnectEvent           = mqtt.ConnectEvent
	ConnectEventHandler    = mqtt.ConnectEventHandler
	DisconnectEvent        = mqtt.DisconnectEvent
	DisconnectEventHandler = mqtt.DisconnectEventHandler
	Ack                    = mqtt.Ack

	PublishOption      = mqtt.PublishOption
	PublishOptions     = mqtt.PublishOptions
	SubscribeOption    = mqtt.SubscribeOption
	SubscribeOptions   = mqtt.SubscribeOptions
	UnsubscribeOption  = mqtt.UnsubscribeOption
	UnsubscribeOptions = mqtt.UnsubscribeOptions

	WithContentType     = mqtt.WithContentType
	WithCorrelationData = mqtt.WithCorrelationData
	WithMessageExpiry   = mqtt.WithMessageExpiry
	WithNoLocal         = mqtt.WithNoLocal
	WithPayloadFormat   = mqtt.WithPayloadFormat
	WithQoS             = mqtt.WithQoS
	WithResponseTopic   = mqtt.WithResponseTopic
	WithRetain          = mqtt.WithRetain
	WithRetainHandling  = mqtt.WithRetainHandling
	WithUserProperties  = mqtt.WithUserProperties
)
