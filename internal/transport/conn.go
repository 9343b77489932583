package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/sackio/unibrowse/internal/wire"
)

const writeTimeout = 10 * time.Second

// Conn owns one client-side WebSocket to a remote endpoint.
type Conn struct {
	url string

	writeMu sync.Mutex
	conn    net.Conn
	rw      io.ReadWriter

	closeOnce sync.Once
	closed    chan struct{}
}

type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (b bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// Dial opens the channel and returns once the WebSocket handshake completes.
func Dial(ctx context.Context, url string) (*Conn, error) {
	slog.Debug("transport dialing", "url", url)
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	var rw io.ReadWriter = conn
	if br != nil {
		// Frames the server sent right after the handshake sit in br.
		rw = bufferedConn{Conn: conn, r: io.MultiReader(br, conn)}
	}
	return &Conn{url: url, conn: conn, rw: rw, closed: make(chan struct{})}, nil
}

// URL returns the dialled address.
func (c *Conn) URL() string { return c.url }

// Send writes one serialised envelope. It fails when the channel is closed.
func (c *Conn) Send(env wire.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}
	return c.SendRaw(data)
}

// SendRaw writes an already-encoded text frame.
func (c *Conn) SendRaw(data []byte) error {
	select {
	case <-c.closed:
		return wire.NewError(wire.CodeNotConnected, "transport closed", nil)
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := wsutil.WriteClientText(c.conn, data); err != nil {
		return wire.NewError(wire.CodeNotConnected, "transport write failed", err)
	}
	return nil
}

// ReadLoop delivers every inbound text frame to fn until the channel fails or
// is closed. It returns the terminating error.
func (c *Conn) ReadLoop(fn func([]byte)) error {
	for {
		data, err := wsutil.ReadServerText(c.rw)
		if err != nil {
			select {
			case <-c.closed:
				return net.ErrClosed
			default:
			}
			return err
		}
		fn(data)
	}
}

// Close closes the socket. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		// Best-effort close frame; the peer may already be gone.
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = ws.WriteFrame(c.conn, ws.MaskFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.closed }
