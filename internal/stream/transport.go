package stream

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// Conn is one open physical connection. The client only ever writes text
// frames and closes; inbound traffic arrives through the callbacks passed to
// the Dialer.
type Conn interface {
	// Write sends one text frame.
	Write(text string) error
	// Close tears the connection down. The close callback still fires.
	Close() error
}

// Dialer opens a physical connection to the resolved endpoint. onFrame is
// invoked for every inbound text frame, onClose exactly once when the
// connection dies, with the error that killed it (nil on clean shutdown).
// Implementations deliver callbacks from their own goroutine; the client
// serializes them through its mailbox.
type Dialer func(endpoint string, onFrame func(string), onClose func(error)) (Conn, error)

// socketPath is appended to the configured base address to reach the
// server's streaming endpoint.
const socketPath = "/socket/websocket"

// ResolveEndpoint turns a configured base address into the websocket URL:
// trailing slash stripped, socket path appended, doubled slashes collapsed,
// and the secure scheme used unless the host is loopback. A credential, when
// present, rides along as a query parameter.
func ResolveEndpoint(base, credential string) (string, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		return "", fmt.Errorf("endpoint is required")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", base, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q: missing host", base)
	}

	if isLoopbackHost(u.Hostname()) {
		u.Scheme = "ws"
	} else {
		u.Scheme = "wss"
	}

	u.Path = collapseSlashes(strings.TrimRight(u.Path, "/") + socketPath)

	if credential != "" {
		q := u.Query()
		q.Set("token", credential)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

func collapseSlashes(path string) string {
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	return path
}

// wsConn adapts a gorilla websocket connection to the Conn interface.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Write(text string) error {
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// WebsocketDialer is the production Dialer. It dials the endpoint and runs a
// read pump that feeds inbound text frames to onFrame until the connection
// dies.
func WebsocketDialer(endpoint string, onFrame func(string), onClose func(error)) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					onClose(nil)
				} else {
					onClose(err)
				}
				return
			}
			onFrame(string(data))
		}
	}()

	return &wsConn{conn: conn}, nil
}
