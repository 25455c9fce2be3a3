// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package protocol

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cartertinney/iot-operations-sdks-sub011/internal/log"
	"github.com/cartertinney/iot-operations-sdks-sub011/internal/mqtt"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/errors"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/internal"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/internal/constants"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/internal/errutil"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol/internal/version"
	"github.com/google/uuid"
)

type (
	// Listener represents an object which will listen to an MQTT topic.
	Listener interface {
		Start(context.Context) error
		Close()
	}

	// Listeners represents a collection of MQTT listeners.
	Listeners []Listener

	// Provide the shared implementation details for the MQTT listeners.
	listener[T any] struct {
		app            *Application
		client         MqttClient
		encoding       Encoding[T]
		topic          *internal.TopicFilter
		shareName      string
		concurrency    uint
		reqCorrelation bool
		reqClientID    bool
		versionKind    errors.Kind
		log            log.Logger
		handler        interface {
			onMsg(context.Context, *mqtt.Message, *Message[T]) error
			onErr(context.Context, *mqtt.Message, error) error
		}

		unregister func()
		done       func()
		active     atomic.Bool
	}
)

// Register the listener to the MQTT client's message stream. Messages are only
// owned (and thus acked) by this listener if they match its topic filter.
func (l *listener[T]) register() {
	handle, done := internal.Concurrent(l.concurrency, l.handle)
	l.done = done
	l.unregister = l.client.RegisterMessageHandler(
		func(ctx context.Context, pub *mqtt.Message) bool {
			if !l.active.Load() {
				return false
			}
			if _, ok := l.topic.Tokens(pub.Topic); !ok {
				return false
			}
			handle(ctx, pub)
			return true
		},
	)
}

// Subscribe to the listener's topic filter.
func (l *listener[T]) listen(ctx context.Context) error {
	if !l.active.CompareAndSwap(false, true) {
		return nil
	}
	ack, err := l.client.Subscribe(
		ctx,
		l.filter(),
		mqtt.WithQoS(1),
		mqtt.WithNoLocal(l.shareName == ""),
	)
	return errutil.Mqtt(ctx, "subscribe", ack, err)
}

// Unsubscribe and detach from the MQTT client's message stream.
func (l *listener[T]) close() {
	if l.active.CompareAndSwap(true, false) {
		ctx := context.Background()
		ack, err := l.client.Unsubscribe(ctx, l.filter())
		if err := errutil.Mqtt(ctx, "unsubscribe", ack, err); err != nil {
			// Returning an error from a close function that is most likely to
			// be deferred is rarely useful, so just log it.
			l.log.Error(ctx, err)
		}
	}
	l.unregister()
	l.done()
}

// The concrete subscription filter, including the shared subscription group
// when one is configured.
func (l *listener[T]) filter() string {
	if l.shareName != "" {
		return "$share/" + l.shareName + "/" + l.topic.Filter()
	}
	return l.topic.Filter()
}

func (l *listener[T]) handle(ctx context.Context, pub *mqtt.Message) {
	msg := &Message[T]{}

	// The very first check must be the version, because if we don't support
	// it, nothing else is trustworthy.
	ver := pub.UserProperties[constants.ProtocolVersion]
	if !version.IsSupported(ver) {
		l.error(ctx, pub, &errors.Error{
			Message:                        "unsupported version",
			Kind:                           l.versionKind,
			ProtocolVersion:                ver,
			SupportedMajorProtocolVersions: version.Supported,
		})
		return
	}

	msg.ClientID = pub.UserProperties[constants.SenderClientID]
	if l.reqClientID && msg.ClientID == "" {
		l.error(ctx, pub, &errors.Error{
			Message:    "sender client ID missing",
			Kind:       errors.HeaderMissing,
			HeaderName: constants.SenderClientID,
		})
		return
	}

	if l.reqCorrelation && len(pub.CorrelationData) == 0 {
		l.error(ctx, pub, &errors.Error{
			Message:    "correlation data missing",
			Kind:       errors.HeaderMissing,
			HeaderName: constants.CorrelationData,
		})
		return
	}
	if len(pub.CorrelationData) != 0 {
		correlationData, err := uuid.FromBytes(pub.CorrelationData)
		if err != nil {
			l.error(ctx, pub, &errors.Error{
				Message:    "correlation data is not a valid UUID",
				Kind:       errors.HeaderInvalid,
				HeaderName: constants.CorrelationData,
			})
			return
		}
		msg.CorrelationData = correlationData.String()
	}

	if ts := pub.UserProperties[constants.Timestamp]; ts != "" {
		var err error
		msg.Timestamp, err = l.app.hlc.Parse(constants.Timestamp, ts)
		if err != nil {
			l.error(ctx, pub, err)
			return
		}
		if err := l.app.SetHLC(msg.Timestamp); err != nil {
			l.error(ctx, pub, err)
			return
		}
	}

	msg.Metadata = internal.PropToMetadata(pub.UserProperties)
	msg.TopicTokens, _ = l.topic.Tokens(pub.Topic)

	if err := l.handler.onMsg(ctx, pub, msg); err != nil {
		l.error(ctx, pub, err)
	}
}

// Decode the payload manually, since it may be ignored on errors.
func (l *listener[T]) payload(pub *mqtt.Message) (T, error) {
	if pub.PayloadFormat > 1 {
		var zero T
		return zero, &errors.Error{
			Message:     "payload format indicator invalid",
			Kind:        errors.HeaderInvalid,
			HeaderName:  constants.FormatIndicator,
			HeaderValue: fmt.Sprint(pub.PayloadFormat),
		}
	}

	return deserialize(l.encoding, &Data{
		Payload:       pub.Payload,
		ContentType:   pub.ContentType,
		PayloadFormat: pub.PayloadFormat,
	})
}

func (l *listener[T]) error(ctx context.Context, pub *mqtt.Message, err error) {
	// Drop the message if the error handler fails.
	if e := l.handler.onErr(ctx, pub, err); e != nil {
		l.drop(ctx, pub, e)
	}
}

func (l *listener[T]) drop(ctx context.Context, _ *mqtt.Message, err error) {
	l.log.Error(ctx, err)
}

// Start listening to all underlying MQTT topics.
func (ls Listeners) Start(ctx context.Context) error {
	for _, l := range ls {
		if err := l.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close all underlying MQTT topics and free resources.
func (ls Listeners) Close() {
	for _, l := range ls {
		l.Close()
	}
}
