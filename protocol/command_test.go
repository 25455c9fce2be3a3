// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package protocol_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cartertinney/iot-operations-sdks-sub011/internal/mqtt"
	"github.com/cartertinney/iot-operations-sdks-sub011/protocol"
	protoerr "github.com/cartertinney/iot-operations-sdks-sub011/protocol/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Simple happy-path sanity check.
func TestCommand(t *testing.T) {
	ctx := context.Background()
	stub := setupMqtt(ctx, t, 1885)
	defer stub.Broker.Close()

	app, err := protocol.NewApplication()
	require.NoError(t, err)

	var listeners protocol.Listeners
	defer listeners.Close()

	enc := protocol.JSON[string]{}
	topic := "prefix/{ex:token}/suffix"
	value := "test"

	executor, err := protocol.NewCommandExecutor(app, stub.Server, enc, enc,
		topic,
		func(
			_ context.Context,
			cr *protocol.CommandRequest[string],
		) (*protocol.CommandResponse[string], error) {
			return protocol.Respond(
				cr.Payload+cr.ClientID+cr.CorrelationData,
				protocol.WithMetadata(cr.TopicTokens),
			)
		},
		protocol.WithTopicNamespace("ns"),
		protocol.WithTokenMetadataPrefix("token:"),
	)
	require.NoError(t, err)
	listeners = append(listeners, executor)

	invoker, err := protocol.NewCommandInvoker(app, stub.Client, enc, enc,
		topic,
		protocol.WithResponseTopicSuffix("response"),
		protocol.WithTopicNamespace("ns"),
		protocol.WithTopicTokens{"token": "test"},
		protocol.WithTopicTokenNamespace("ex:"),
	)
	require.NoError(t, err)
	listeners = append(listeners, invoker)

	err = listeners.Start(ctx)
	require.NoError(t, err)

	res, err := invoker.Invoke(ctx, value)
	require.NoError(t, err)

	expected := value + stub.Client.ID() + res.CorrelationData
	require.Equal(t, expected, res.Payload)
	require.Equal(t, "test", res.Metadata["ex:token"])
	require.Equal(t, "test", res.Metadata["token:ex:token"])
}

func TestCommandApplicationError(t *testing.T) {
	ctx := context.Background()
	stub := setupMqtt(ctx, t, 1886)
	defer stub.Broker.Close()

	app, err := protocol.NewApplication()
	require.NoError(t, err)

	var listeners protocol.Listeners
	defer listeners.Close()

	req := protocol.Empty{}
	res := protocol.JSON[string]{}
	topic := "app/error/topic"

	executor, err := protocol.NewCommandExecutor(app, stub.Server, req, res,
		topic,
		func(
			context.Context,
			*protocol.CommandRequest[any],
		) (*protocol.CommandResponse[string], error) {
			return nil, fmt.Errorf("user error")
		},
	)
	require.NoError(t, err)
	listeners = append(listeners, executor)

	invoker, err := protocol.NewCommandInvoker(app, stub.Client, req, res,
		topic,
	)
	require.NoError(t, err)
	listeners = append(listeners, invoker)

	err = listeners.Start(ctx)
	require.NoError(t, err)

	_, err = invoker.Invoke(ctx, nil)
	require.Error(t, err)
	require.Equal(t, "user error", err.Error())

	e, ok := err.(*protoerr.Error)
	require.True(t, ok)
	require.Equal(t, protoerr.ExecutionException, e.Kind)
	require.True(t, e.IsRemote)
	require.True(t, e.InApplication)
	require.Equal(t, 500, e.HTTPStatusCode)
}

func TestCommandInvocationError(t *testing.T) {
	ctx := context.Background()
	stub := setupMqtt(ctx, t, 1887)
	defer stub.Broker.Close()

	app, err := protocol.NewApplication()
	require.NoError(t, err)

	var listeners protocol.Listeners
	defer listeners.Close()

	req := protocol.JSON[int]{}
	res := protocol.JSON[int]{}
	topic := "invocation/error/topic"

	executor, err := protocol.NewCommandExecutor(app, stub.Server, req, res,
		topic,
		func(
			_ context.Context,
			cr *protocol.CommandRequest[int],
		) (*protocol.CommandResponse[int], error) {
			return nil, protocol.InvocationError{
				Message:       "argument out of range",
				PropertyName:  "value",
				PropertyValue: cr.Payload,
			}
		},
	)
	require.NoError(t, err)
	listeners = append(listeners, executor)

	invoker, err := protocol.NewCommandInvoker(app, stub.Client, req, res,
		topic,
	)
	require.NoError(t, err)
	listeners = append(listeners, invoker)

	err = listeners.Start(ctx)
	require.NoError(t, err)

	_, err = invoker.Invoke(ctx, 42)
	require.Error(t, err)

	e, ok := err.(*protoerr.Error)
	require.True(t, ok)
	require.Equal(t, protoerr.InvocationException, e.Kind)
	require.True(t, e.InApplication)
	require.Equal(t, "value", e.PropertyName)
	require.Equal(t, "42", e.PropertyValue)
}

func TestCommandExecutionTimeout(t *testing.T) {
	ctx := context.Background()
	stub := setupMqtt(ctx, t, 1888)
	defer stub.Broker.Close()

	app, err := protocol.NewApplication()
	require.NoError(t, err)

	var listeners protocol.Listeners
	defer listeners.Close()

	enc := protocol.JSON[string]{}
	topic := "timeout/topic"

	executor, err := protocol.NewCommandExecutor(app, stub.Server, enc, enc,
		topic,
		func(
			ctx context.Context,
			_ *protocol.CommandRequest[string],
		) (*protocol.CommandResponse[string], error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		protocol.WithTimeout(time.Second),
	)
	require.NoError(t, err)
	listeners = append(listeners, executor)

	invoker, err := protocol.NewCommandInvoker(app, stub.Client, enc, enc,
		topic,
	)
	require.NoError(t, err)
	listeners = append(listeners, invoker)

	err = listeners.Start(ctx)
	require.NoError(t, err)

	_, err = invoker.Invoke(ctx, "sleep")
	require.Error(t, err)

	e, ok := err.(*protoerr.Error)
	require.True(t, ok)
	require.Equal(t, protoerr.Timeout, e.Kind)
	require.True(t, e.IsRemote)
	require.Equal(t, "ExecutionTimeout", e.TimeoutName)
	require.Equal(t, time.Second, e.TimeoutValue)
	require.Equal(t, 408, e.HTTPStatusCode)
}

func TestCommandInvokerTimeout(t *testing.T) {
	ctx := context.Background()
	stub := setupMqtt(ctx, t, 1889)
	defer stub.Broker.Close()

	app, err := protocol.NewApplication()
	require.NoError(t, err)

	enc := protocol.JSON[string]{}

	// No executor is listening, so the invocation can never complete.
	invoker, err := protocol.NewCommandInvoker(app, stub.Client, enc, enc,
		"unanswered/topic",
	)
	require.NoError(t, err)
	defer invoker.Close()

	err = invoker.Start(ctx)
	require.NoError(t, err)

	_, err = invoker.Invoke(ctx, "hello", protocol.WithTimeout(2*time.Second))
	require.Error(t, err)

	e, ok := err.(*protoerr.Error)
	require.True(t, ok)
	require.Equal(t, protoerr.Timeout, e.Kind)
	require.False(t, e.IsRemote)
	require.Equal(t, "commandTimeout", e.TimeoutName)
}

// Replaying an idempotent request must execute the handler once and produce
// identical responses for every copy.
func TestCommandIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	stub := setupMqtt(ctx, t, 1890)
	defer stub.Broker.Close()

	app, err := protocol.NewApplication()
	require.NoError(t, err)

	enc := protocol.JSON[string]{}
	topic := "replay/topic"
	responseTopic := "replay/response"

	var count atomic.Int32
	executor, err := protocol.NewCommandExecutor(app, stub.Server, enc, enc,
		topic,
		func(
			_ context.Context,
			_ *protocol.CommandRequest[string],
		) (*protocol.CommandResponse[string], error) {
			return protocol.Respond(fmt.Sprint(count.Add(1)))
		},
		protocol.WithIdempotent(true),
		protocol.WithCacheTTL(10*time.Second),
	)
	require.NoError(t, err)
	defer executor.Close()

	err = executor.Start(ctx)
	require.NoError(t, err)

	// Drive the executor with raw duplicate publishes so the correlation data
	// can be reused.
	responses := make(chan *mqtt.Message, 2)
	stub.Client.RegisterMessageHandler(
		func(_ context.Context, msg *mqtt.Message) bool {
			if msg.Topic != responseTopic {
				return false
			}
			responses <- msg
			msg.Ack()
			return true
		},
	)
	_, err = stub.Client.Subscribe(ctx, responseTopic, mqtt.WithQoS(1))
	require.NoError(t, err)

	correlation := uuid.New()
	publish := func() {
		_, err := stub.Client.Publish(ctx, topic, []byte(`"ping"`),
			mqtt.WithQoS(1),
			mqtt.WithCorrelationData(correlation[:]),
			mqtt.WithResponseTopic(responseTopic),
			mqtt.WithMessageExpiry(10),
			mqtt.WithContentType("application/json"),
			mqtt.WithPayloadFormat(1),
			mqtt.WithUserProperties(map[string]string{
				"__sndId": stub.Client.ID(),
			}),
		)
		require.NoError(t, err)
	}

	publish()
	first := <-responses

	publish()
	second := <-responses

	require.Equal(t, int32(1), count.Load())
	require.Equal(t, first.Payload, second.Payload)
	require.Equal(t, `"1"`, string(first.Payload))
	require.Equal(t, "200", first.UserProperties["__stat"])
	require.Equal(t,
		first.UserProperties["__ts"],
		second.UserProperties["__ts"],
	)
}
