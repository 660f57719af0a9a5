package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/p2pml_bridge/internal/protocol"
)

// ErrMalformed marks a frame that is not a valid protocol message. The
// channel stays usable after it.
var ErrMalformed = errors.New("transport: malformed message")

// Conn is one end of a dedicated page <-> worker channel carried over a
// WebSocket. Writes are serialised; reads must come from a single goroutine.
type Conn struct {
	conn  net.Conn
	state ws.State

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func newConn(c net.Conn, state ws.State) *Conn {
	return &Conn{conn: c, state: state, done: make(chan struct{})}
}

// Dial opens the page end of a channel to the worker at url (ws:// or wss://).
func Dial(ctx context.Context, url string) (*Conn, error) {
	c, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return newConn(c, ws.StateClientSide), nil
}

// Post sends one message. A deadline on ctx bounds the write.
func (c *Conn) Post(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("transport: post %s: %w", msg.Type, net.ErrClosed)
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}

	if c.state.ClientSide() {
		err = wsutil.WriteClientText(c.conn, data)
	} else {
		err = wsutil.WriteServerText(c.conn, data)
	}
	if err != nil {
		return fmt.Errorf("transport: post %s: %w", msg.Type, err)
	}
	return nil
}

// Send is Post under the name the page side uses.
func (c *Conn) Send(ctx context.Context, msg protocol.Message) error {
	return c.Post(ctx, msg)
}

// Receive blocks for the next message. Control frames are handled internally.
func (c *Conn) Receive() (protocol.Message, error) {
	var (
		data []byte
		err  error
	)
	if c.state.ClientSide() {
		data, err = wsutil.ReadServerText(c.conn)
	} else {
		data, err = wsutil.ReadClientText(c.conn)
	}
	if err != nil {
		return protocol.Message{}, err
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, nil
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close closes the channel. Subsequent calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
