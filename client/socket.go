package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnectionState represents the lifecycle state of the socket link.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "CONNECTING"
	StateReady        ConnectionState = "READY"
	StateDisconnected ConnectionState = "DISCONNECTED"
)

// socketConn wraps one live websocket connection. Writes are
// serialized; inbound frames are delivered on a channel until the
// connection dies.
type socketConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	inbound chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// dialSocket connects and authenticates the websocket endpoint.
func dialSocket(ctx context.Context, baseURL, token string) (*socketConn, error) {
	wsURL, err := socketURL(baseURL, token)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("dial socket: %w", err)
	}

	sc := &socketConn{
		conn:    conn,
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
	go sc.readLoop()

	return sc, nil
}

func socketURL(baseURL, token string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}

	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/ws"
	query := parsed.Query()
	query.Set("token", token)
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}

// WriteJSON sends one event frame.
func (sc *socketConn) WriteJSON(v any) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	_ = sc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := sc.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write socket frame: %w", err)
	}
	return nil
}

// Inbound returns the stream of raw inbound frames. The channel closes
// when the connection dies.
func (sc *socketConn) Inbound() <-chan []byte {
	return sc.inbound
}

// Done is closed once the connection is torn down.
func (sc *socketConn) Done() <-chan struct{} {
	return sc.closed
}

// Close tears the connection down. Safe to call more than once.
func (sc *socketConn) Close() {
	sc.closeOnce.Do(func() {
		close(sc.closed)
		_ = sc.conn.Close()
	})
}

func (sc *socketConn) readLoop() {
	defer func() {
		sc.Close()
		close(sc.inbound)
	}()

	sc.conn.SetPingHandler(func(appData string) error {
		sc.writeMu.Lock()
		defer sc.writeMu.Unlock()
		_ = sc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return sc.conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	for {
		_, raw, err := sc.conn.ReadMessage()
		if err != nil {
			return
		}

		select {
		case sc.inbound <- raw:
		case <-sc.closed:
			return
		}
	}
}
