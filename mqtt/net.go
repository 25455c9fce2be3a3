// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/eclipse/paho.golang/packets"
	"github.com/gorilla/websocket"
)

// ConnectionProvider is a function that returns a net.Conn connected to an
// MQTT server that is ready to read to and write from. Note that the returned
// net.Conn must be thread-safe (i.e., concurrent Write calls must not
// interleave).
type ConnectionProvider func(context.Context) (net.Conn, error)

// TCPConnection is a ConnectionProvider that connects to an MQTT server over
// TCP.
func TCPConnection(hostname string, port int) ConnectionProvider {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(
			ctx,
			"tcp",
			fmt.Sprintf("%s:%d", hostname, port),
		)
		if err != nil {
			return nil, &ConnectionError{
				message: "error opening TCP connection",
				wrapped: err,
			}
		}
		return conn, nil
	}
}

// TLSConfigProvider is a function that returns a *tls.Config to be used when
// opening a TLS connection to an MQTT server. See tls.Config for more
// information on TLS configuration options.
type TLSConfigProvider func(context.Context) (*tls.Config, error)

// ConstantTLSConfig is a TLSConfigProvider that returns an unchanging
// *tls.Config. This can be used if the TLS configuration does not need to be
// updated between network connections to the MQTT server.
func ConstantTLSConfig(config *tls.Config) TLSConfigProvider {
	return func(context.Context) (*tls.Config, error) {
		return config, nil
	}
}

// TLSConnection is a ConnectionProvider that connects to an MQTT server with
// TLS over TCP given a TLSConfigProvider.
func TLSConnection(
	hostname string,
	port int,
	tlsConfigProvider TLSConfigProvider,
) ConnectionProvider {
	return func(ctx context.Context) (net.Conn, error) {
		if tlsConfigProvider == nil {
			// Use the zero configuration by default.
			tlsConfigProvider = ConstantTLSConfig(nil)
		}

		config, err := tlsConfigProvider(ctx)
		if err != nil {
			return nil, &ConnectionError{
				message: "error getting TLS configuration",
				wrapped: err,
			}
		}

		d := tls.Dialer{Config: config}
		conn, err := d.DialContext(
			ctx,
			"tcp",
			fmt.Sprintf("%s:%d", hostname, port),
		)
		if err != nil {
			return nil, &ConnectionError{
				message: "error opening TLS connection",
				wrapped: err,
			}
		}
		return packets.NewThreadSafeConn(conn), nil
	}
}

// WebsocketConnection is a ConnectionProvider that connects to an MQTT server
// over websockets given a URL, e.g. "wss://hostname:port/mqtt". A nil TLS
// config provider is valid for "ws" URLs and uses the default TLS
// configuration for "wss" URLs.
func WebsocketConnection(
	url string,
	tlsConfigProvider TLSConfigProvider,
) ConnectionProvider {
	return func(ctx context.Context) (net.Conn, error) {
		d := websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
			Subprotocols:     []string{"mqtt"},
		}

		if tlsConfigProvider != nil {
			config, err := tlsConfigProvider(ctx)
			if err != nil {
				return nil, &ConnectionError{
					message: "error getting TLS configuration",
					wrapped: err,
				}
			}
			d.TLSClientConfig = config
		}

		conn, _, err := d.DialContext(ctx, url, nil)
		if err != nil {
			return nil, &ConnectionError{
				message: "error opening websocket connection",
				wrapped: err,
			}
		}
		return packets.NewThreadSafeConn(&websocketConn{conn: conn}), nil
	}
}

// websocketConn adapts a websocket connection to net.Conn, framing writes as
// binary messages per the MQTT websocket binding.
type websocketConn struct {
	conn   *websocket.Conn
	reader io.Reader
}

func (w *websocketConn) Read(p []byte) (int, error) {
	for {
		if w.reader == nil {
			t, r, err := w.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if t != websocket.BinaryMessage {
				continue
			}
			w.reader = r
		}

		n, err := w.reader.Read(p)
		if err == io.EOF {
			// Message exhausted; move on to the next one.
			w.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (w *websocketConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *websocketConn) Close() error {
	return w.conn.Close()
}

func (w *websocketConn) LocalAddr() net.Addr {
	return w.conn.LocalAddr()
}

func (w *websocketConn) RemoteAddr() net.Addr {
	return w.conn.RemoteAddr()
}

func (w *websocketConn) SetDeadline(t time.Time) error {
	if err := w.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return w.conn.SetWriteDeadline(t)
}

func (w *websocketConn) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}

func (w *websocketConn) SetWriteDeadline(t time.Time) error {
	return w.conn.SetWriteDeadline(t)
}
