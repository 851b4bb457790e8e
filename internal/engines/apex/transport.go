package apex

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"live-timing/internal/common/errors"
)

// Conn is an open push connection
type Conn interface {
	// ReadMessage blocks until the next text frame or a read failure
	ReadMessage() (string, error)
	Close() error
}

// Dialer opens push connections
type Dialer interface {
	Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error)
}

// WebSocketDialer dials with gorilla/websocket
type WebSocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer with the given handshake timeout
func NewWebSocketDialer(handshakeTimeout time.Duration) *WebSocketDialer {
	return &WebSocketDialer{
		dialer: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  handshakeTimeout,
			EnableCompression: true,
		},
	}
}

// Dial opens a websocket to endpoint
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ConnectionError("dial "+endpoint, err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() (string, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return "", errors.ConnectionError("push connection closed", err)
	}
	return string(data), nil
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
