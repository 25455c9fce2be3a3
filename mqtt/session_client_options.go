// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/cartertinney/iot-operations-sdks-sub011/internal/log"
	"github.com/cartertinney/iot-operations-sdks-sub011/mqtt/retry"
)

// SessionClientOption configures the session client at construction.
type SessionClientOption func(*SessionClient)

// WithLogger sets the logger for the MQTT session client.
func WithLogger(l *slog.Logger) SessionClientOption {
	return func(c *SessionClient) {
		c.log = logger{log.Wrap(l)}
	}
}

// WithClientID sets the MQTT Client Identifier. A random client ID is
// generated if this option is not provided.
func WithClientID(clientID string) SessionClientOption {
	return func(c *SessionClient) {
		c.config.clientID = clientID
	}
}

// WithFirstConnectionCleanStart sets the value of Clean Start in the CONNECT
// packet for the first connection. Note that Clean Start will always be false
// on reconnections.
//
// This setting is true by default, and it should not be changed unless you are
// aware of the implications. If there is a possibility of a session on the
// MQTT server for this Client ID with in-flight QoS 1+ PUBLISHes or QoS 2
// SUBSCRIBEs, it may result in message loss and/or MQTT protocol violations.
func WithFirstConnectionCleanStart(cleanStart bool) SessionClientOption {
	return func(c *SessionClient) {
		c.config.firstConnectionCleanStart = cleanStart
	}
}

// WithConnectionRetry sets the connection retry policy for the MQTT session
// client.
func WithConnectionRetry(connRetry retry.Policy) SessionClientOption {
	return func(c *SessionClient) {
		c.config.connectionRetry = connRetry
	}
}

// UserNameProvider is a function that returns an MQTT User Name and User Name
// Flag. Note that if the return value userNameFlag is false, the return value
// userName is ignored.
type UserNameProvider func(context.Context) (string, bool, error)

// WithUserName sets the UserNameProvider that the session client uses to get
// the MQTT User Name for each MQTT connection.
func WithUserName(provider UserNameProvider) SessionClientOption {
	return func(c *SessionClient) {
		c.config.userNameProvider = provider
	}
}

// defaultUserName is a UserNameProvider that returns no MQTT User Name. It is
// used if no UserNameProvider is provided by the user.
func defaultUserName(context.Context) (string, bool, error) {
	return "", false, nil
}

// ConstantUserName is a UserNameProvider that returns an unchanging User Name.
// This can be used if the User Name does not need to be updated between MQTT
// connections.
func ConstantUserName(userName string) UserNameProvider {
	return func(context.Context) (string, bool, error) {
		return userName, true, nil
	}
}

// PasswordProvider is a function that returns an MQTT Password and Password
// Flag. Note that if the return value passwordFlag is false, the return value
// password is ignored.
type PasswordProvider func(context.Context) ([]byte, bool, error)

// WithPassword sets the PasswordProvider that the session client uses to get
// the MQTT Password for each MQTT connection.
func WithPassword(provider PasswordProvider) SessionClientOption {
	return func(c *SessionClient) {
		c.config.passwordProvider = provider
	}
}

// defaultPassword is a PasswordProvider that returns no MQTT Password. It is
// used if no PasswordProvider is provided by the user.
func defaultPassword(context.Context) ([]byte, bool, error) {
	return nil, false, nil
}

// ConstantPassword is a PasswordProvider that returns an unchanging Password.
// This can be used if the Password does not need to be updated between MQTT
// connections.
func ConstantPassword(password []byte) PasswordProvider {
	return func(context.Context) ([]byte, bool, error) {
		return password, true, nil
	}
}

// FilePassword is a PasswordProvider that reads an MQTT Password from a given
// filename for each MQTT connection.
func FilePassword(filename string) PasswordProvider {
	return func(context.Context) ([]byte, bool, error) {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, false, err
		}
		return data, true, nil
	}
}

// WithKeepAlive sets the keep alive interval, in seconds, for the MQTT
// connection.
func WithKeepAlive(keepAlive uint16) SessionClientOption {
	return func(c *SessionClient) {
		c.config.keepAlive = keepAlive
	}
}

// WithSessionExpiryInterval sets the MQTT Session Expiry Interval, in seconds.
func WithSessionExpiryInterval(sessionExpiryInterval uint32) SessionClientOption {
	return func(c *SessionClient) {
		c.config.sessionExpiryInterval = sessionExpiryInterval
	}
}

// WithReceiveMaximum sets the MQTT client-side Receive Maximum.
func WithReceiveMaximum(receiveMaximum uint16) SessionClientOption {
	return func(c *SessionClient) {
		c.config.receiveMaximum = receiveMaximum
	}
}

// WithConnectionTimeout sets the timeout for a single connection attempt.
func WithConnectionTimeout(connectionTimeout time.Duration) SessionClientOption {
	return func(c *SessionClient) {
		c.config.connectionTimeout = connectionTimeout
	}
}

// WithConnectUserProperties sets the user properties for the CONNECT packet.
func WithConnectUserProperties(
	userProperties map[string]string,
) SessionClientOption {
	return func(c *SessionClient) {
		c.config.userProperties = userProperties
	}
}
