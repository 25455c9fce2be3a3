// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cartertinney/iot-operations-sdks-sub011/mqtt/internal"
	"github.com/cartertinney/iot-operations-sdks-sub011/mqtt/retry"
	"github.com/eclipse/paho.golang/paho"
	"github.com/eclipse/paho.golang/paho/session"
	"github.com/eclipse/paho.golang/paho/session/state"
	"github.com/google/uuid"
)

type (
	// SessionClient implements an MQTT session client supporting MQTT v5 with
	// QoS 0 and QoS 1.
	SessionClient struct {
		config connectionConfig

		// The provider used to open the network connection for each connect
		// attempt.
		connectionProvider ConnectionProvider

		// Paho's session tracker, used to restore in-flight QoS 1 state across
		// reconnections.
		session session.SessionManager

		// Tracker for the current Paho client instance and connection state.
		conn *internal.ConnectionTracker[*paho.Client]

		// Background state tied to the lifetime of the session client.
		shutdown       *internal.Background
		sessionStarted atomic.Bool

		// Queue of PUBLISHes waiting to be flushed to the server.
		outgoingPublishes chan *outgoingPublish

		// Handler lists notified of incoming messages and lifecycle events.
		messageHandlers         *internal.HandlerList[MessageHandler]
		connectEventHandlers    *internal.HandlerList[ConnectEventHandler]
		disconnectEventHandlers *internal.HandlerList[DisconnectEventHandler]
		fatalErrorHandlers      *internal.HandlerList[func(error)]

		log logger
	}

	connectionConfig struct {
		clientID string

		firstConnectionCleanStart bool
		keepAlive                 uint16
		sessionExpiryInterval     uint32
		receiveMaximum            uint16
		connectionTimeout         time.Duration
		connectionRetry           retry.Policy
		userProperties            map[string]string

		userNameProvider UserNameProvider
		passwordProvider PasswordProvider
	}
)

// NewSessionClient constructs a new session client with the given connection
// provider and options.
func NewSessionClient(
	connectionProvider ConnectionProvider,
	opts ...SessionClientOption,
) (*SessionClient, error) {
	if connectionProvider == nil {
		return nil, &InvalidArgumentError{
			message: "connection provider must not be nil",
		}
	}

	c := &SessionClient{
		connectionProvider: connectionProvider,
		session:            state.NewInMemory(),
		conn:               internal.NewConnectionTracker[*paho.Client](),

		outgoingPublishes: make(chan *outgoingPublish, maxPublishQueueSize),

		messageHandlers:         internal.NewHandlerList[MessageHandler](),
		connectEventHandlers:    internal.NewHandlerList[ConnectEventHandler](),
		disconnectEventHandlers: internal.NewHandlerList[DisconnectEventHandler](),
		fatalErrorHandlers:      internal.NewHandlerList[func(error)](),

		config: connectionConfig{
			clientID:                  randomClientID(),
			firstConnectionCleanStart: true,
			receiveMaximum:            defaultReceiveMaximum,
			userNameProvider:          defaultUserName,
			passwordProvider:          defaultPassword,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	// Do this after options since we need the user-configured logger for the
	// default retry.
	if c.config.connectionRetry == nil {
		c.config.connectionRetry = &retry.ExponentialBackoff{
			Logger: c.log.Wrapped,
		}
	}

	return c, nil
}

// ID returns the MQTT client ID of this session client.
func (c *SessionClient) ID() string {
	return c.config.clientID
}

// Start the session client, spawning any necessary background goroutines. In
// order to terminate the session client and clean up any running goroutines,
// Stop() must be called after calling Start().
func (c *SessionClient) Start() error {
	if !c.sessionStarted.CompareAndSwap(false, true) {
		return &ClientStateError{State: Started}
	}

	c.shutdown = internal.NewBackground(&ClientStateError{State: ShutDown})
	ctx, _ := c.shutdown.With(context.Background())

	go func() {
		defer c.shutdown.Close()
		if err := c.manageConnection(ctx); err != nil {
			c.log.Error(ctx, err)
			for handler := range c.fatalErrorHandlers.All() {
				go handler(err)
			}
		}
	}()

	go c.manageOutgoingPublishes(ctx)

	return nil
}

// Stop the session client, terminating any pending operations and cleaning up
// background goroutines.
func (c *SessionClient) Stop() error {
	if !c.sessionStarted.Load() {
		return &ClientStateError{State: NotStarted}
	}
	c.shutdown.Close()
	return nil
}

// RegisterConnectEventHandler registers a handler to a list of handlers that
// are called synchronously in registration order whenever the session client
// successfully establishes an MQTT connection. Note that since the handler
// gets called synchronously, handlers should not block for an extended period
// of time to avoid blocking the session client.
func (c *SessionClient) RegisterConnectEventHandler(
	handler ConnectEventHandler,
) func() {
	return c.connectEventHandlers.Append(handler)
}

// RegisterDisconnectEventHandler registers a handler to a list of handlers
// that are called synchronously in registration order whenever the session
// client detects a disconnection from the MQTT server. Note that since the
// handler gets called synchronously, handlers should not block for an extended
// period of time to avoid blocking the session client.
func (c *SessionClient) RegisterDisconnectEventHandler(
	handler DisconnectEventHandler,
) func() {
	return c.disconnectEventHandlers.Append(handler)
}

// RegisterFatalErrorHandler registers a handler that is called in a goroutine
// if the session client terminates due to a fatal error.
func (c *SessionClient) RegisterFatalErrorHandler(
	handler func(error),
) func() {
	return c.fatalErrorHandlers.Append(handler)
}

func randomClientID() string {
	return "aio-" + uuid.NewString()
}
