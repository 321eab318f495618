package daemon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a websocket attach session. Reads go through the embedded Stream; Write sends
// binary frames to the container's stdin.
type Conn struct {
	*Stream

	ws *websocket.Conn
	mu sync.Mutex
}

func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// DialWebsocket upgrades req (normally the attach/ws endpoint) to a websocket. A
// refused handshake is classified like any other response.
func (c *Client) DialWebsocket(ctx context.Context, req Request) (*Conn, error) {
	u, err := BuildURL(c.base, c.version, req)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	d := websocket.Dialer{HandshakeTimeout: 45 * time.Second}
	if tr, ok := c.http.Transport.(*http.Transport); ok {
		d.NetDialContext = tr.DialContext
		d.TLSClientConfig = tr.TLSClientConfig
	}

	start := time.Now()
	ws, resp, err := d.DialContext(ctx, u.String(), nil)
	took := time.Since(start)
	if err != nil {
		if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
			defer resp.Body.Close()
			if cerr := Classify(resp); cerr != nil {
				c.metrics.observe(req.Endpoint, statusClass(resp.StatusCode, cerr), took)
				return nil, cerr
			}
		}
		c.metrics.observe(req.Endpoint, "transport", took)
		return nil, &TransportError{Method: http.MethodGet, URL: u.Redacted(), Err: err}
	}
	c.metrics.observe(req.Endpoint, statusClass(resp.StatusCode, nil), took)

	return &Conn{Stream: NewStream(&wsReader{conn: ws}), ws: ws}, nil
}

// wsReader presents consecutive websocket messages as one byte stream.
type wsReader struct {
	conn *websocket.Conn
	r    io.Reader
}

func (w *wsReader) Read(p []byte) (int, error) {
	for {
		if w.r == nil {
			_, r, err := w.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			w.r = r
		}
		n, err := w.r.Read(p)
		if err == io.EOF {
			w.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (w *wsReader) Close() error {
	return w.conn.Close()
}
