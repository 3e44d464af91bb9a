package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/mousti0113/class-social-media-sub003/internal/identity"
	"github.com/mousti0113/class-social-media-sub003/internal/presence"
)

// WebSocketDialer dials the presence endpoint with a connect token.
type WebSocketDialer struct {
	endpoint string
	token    string
}

// NewWebSocketDialer creates a dialer for the given ws:// or wss:// endpoint.
func NewWebSocketDialer(endpoint, token string) *WebSocketDialer {
	return &WebSocketDialer{endpoint: endpoint, token: token}
}

// Dial opens the channel. A 401 from the server is surfaced as
// identity.ErrAuthentication so the controller stops retrying.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", d.token)
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + d.token}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", d.endpoint, identity.ErrAuthentication)
		}
		return nil, fmt.Errorf("dial %s: %w", d.endpoint, err)
	}
	return &wsConn{ws: ws}, nil
}

// wsConn adapts websocket.Conn to the Conn interface.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadFrame(ctx context.Context) (presence.Frame, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return presence.Frame{}, err
	}
	var frame presence.Frame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
		return presence.Frame{}, ErrProtocol
	}
	return frame, nil
}

func (c *wsConn) WriteFrame(ctx context.Context, frame presence.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "client closing")
}
