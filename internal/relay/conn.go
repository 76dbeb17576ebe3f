package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/wavelength/internal/protocol"
	"github.com/1ureka/wavelength/internal/util"
)

var (
	// ErrNotConnected is returned by Send on a connection that is not Connected.
	ErrNotConnected = errors.New("connection not connected")
	// ErrOutboxFull is returned by Send when the peer is not keeping up; the
	// connection is aborted.
	ErrOutboxFull = errors.New("connection outbox full")
)

// Conn is one relay socket, dialed (outbound) or accepted (inbound). It is
// created and owned by a Manager and is safe for concurrent use.
//
// Every Conn runs at most one reader and one writer goroutine. Frames are
// written in Send order; envelopes read are delivered in stream order.
type Conn struct {
	id     uuid.UUID
	role   Role
	target string // canonical dial target (outbound)
	m      *Manager
	sink   sink

	// Lifecycle
	ctx        context.Context
	cancel     context.CancelFunc
	abortOnce  sync.Once
	finishOnce sync.Once

	// Communication
	outbox     chan []byte   // drained by writeLoop
	drain      chan struct{} // closed to request a graceful flush
	drainOnce  sync.Once
	readerDone chan struct{}
	writerDone chan struct{}

	mu    sync.Mutex
	state State
	ws    *websocket.Conn
	peer  string
}

func newConn(m *Manager, role Role, s sink) *Conn {
	ctx, cancel := context.WithCancel(m.ctx)
	return &Conn{
		id:         uuid.New(),
		role:       role,
		m:          m,
		sink:       s,
		ctx:        ctx,
		cancel:     cancel,
		outbox:     make(chan []byte, m.opts.OutboxSize),
		drain:      make(chan struct{}),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
		state:      StateConnecting,
	}
}

// ID returns the connection's unique id.
func (c *Conn) ID() uuid.UUID { return c.id }

// Role tells whether the connection was dialed or accepted.
func (c *Conn) Role() Role { return c.role }

// Target returns the canonical dial target of an outbound connection.
func (c *Conn) Target() string { return c.target }

// RemoteAddr returns the peer address once the socket is open.
func (c *Conn) RemoteAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) String() string {
	if c.role == RoleOutbound {
		return fmt.Sprintf("[%s] %s", util.ShortID(c.id), c.target)
	}
	return fmt.Sprintf("[%s] %s", util.ShortID(c.id), c.RemoteAddr())
}

// ---------------------------------------------------------------------------
// Open
// ---------------------------------------------------------------------------

// dial opens an outbound connection. Runs in its own goroutine.
func (c *Conn) dial(template websocket.Dialer, path string) {
	defer c.m.wg.Done()

	// The handshake read does not watch ctx; tie the raw socket to the
	// connection's lifetime so Close interrupts a stalled handshake.
	dialer := template
	dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		var d net.Dialer
		nc, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		context.AfterFunc(c.ctx, func() { nc.Close() })
		return nc, nil
	}

	ws, _, err := dialer.DialContext(c.ctx, c.target+path, nil)

	c.mu.Lock()
	if err == nil && c.state != StateConnecting {
		// Closed while the handshake was in flight.
		err = context.Canceled
	}
	if err != nil {
		c.state = StateErrored
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		c.cancel()
		util.Stats.AddFailed()
		util.LogWarning("%s connect failed: %v", c, err)
		c.m.post(func() {
			c.m.remove(c)
			c.sink.connected(c, false)
		})
		return
	}
	c.ws = ws
	c.peer = ws.RemoteAddr().String()
	c.state = StateConnected
	c.mu.Unlock()

	util.Stats.AddOpened()
	util.LogDebug("%s connected", c)
	c.m.post(func() { c.sink.connected(c, true) })
	c.start()
}

// accept adopts an upgraded inbound socket. The caller has already
// registered c with the Manager.
func (c *Conn) accept(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.peer = ws.RemoteAddr().String()
	c.state = StateConnected
	c.mu.Unlock()

	util.Stats.AddOpened()
	util.LogDebug("%s accepted", c)
	c.m.post(func() { c.sink.connected(c, true) })
	c.start()
}

// start launches the reader and writer goroutines.
func (c *Conn) start() {
	c.ws.SetReadLimit(c.m.opts.MaxFrameBytes)
	c.m.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
}

// ---------------------------------------------------------------------------
// Send / receive
// ---------------------------------------------------------------------------

// Send queues env for transmission. It fails with ErrNotConnected unless the
// connection is Connected. There is no delivery acknowledgement.
//
// Send never blocks. When the outbox is full the peer is too slow to keep
// up: the connection is aborted and Send returns ErrOutboxFull.
func (c *Conn) Send(env protocol.Envelope) error {
	data, err := protocol.Serialize(env)
	if err != nil {
		return err
	}

	if st := c.State(); st != StateConnected {
		util.LogWarning("%s send %q rejected: state %s", c, env.Type(), st)
		return fmt.Errorf("%w (state %s)", ErrNotConnected, st)
	}

	select {
	case c.outbox <- data:
		return nil
	case <-c.ctx.Done():
		return ErrNotConnected
	default:
	}

	util.LogWarning("%s outbox full (%d frames), dropping slow peer", c, cap(c.outbox))
	c.abort()
	return ErrOutboxFull
}

// readLoop parses inbound frames until the socket fails or closes. It is the
// only place that fires the disconnect event, so it fires exactly once.
func (c *Conn) readLoop() {
	defer c.m.wg.Done()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogDebug("%s closed by peer", c)
			} else {
				select {
				case <-c.ctx.Done():
					// Shutting down.
				default:
					util.LogWarning("%s read error: %v", c, err)
				}
			}
			break
		}

		env, err := protocol.Parse(data)
		if err != nil {
			util.Stats.AddRejected()
			util.LogWarning("%s rejected frame: %v", c, err)
			c.m.post(func() { c.sink.rejected(c, err) })
			continue
		}

		util.Stats.AddRecv()
		c.m.post(func() { c.sink.message(c, env) })
	}

	c.abort()
	close(c.readerDone)
	c.finish()
}

// writeLoop is the single writer. On a graceful close it flushes the outbox
// and sends a close frame before returning.
func (c *Conn) writeLoop() {
	defer c.m.wg.Done()
	defer close(c.writerDone)

	for {
		select {
		case data := <-c.outbox:
			if err := c.write(data); err != nil {
				return
			}

		case <-c.drain:
			if err := c.flush(); err != nil {
				return
			}
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
			if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.m.opts.GraceDelay)); err != nil {
				util.LogDebug("%s close frame: %v", c, err)
			}
			return

		case <-c.ctx.Done():
			return
		}
	}
}

// flush writes whatever is still queued without waiting for more.
func (c *Conn) flush() error {
	for {
		select {
		case data := <-c.outbox:
			if err := c.write(data); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// write sends one frame. A peer that does not take it within the write
// timeout is treated as gone.
func (c *Conn) write(data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.m.opts.WriteTimeout)); err != nil {
		c.abort()
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		select {
		case <-c.ctx.Done():
		default:
			util.LogWarning("%s write error: %v", c, err)
		}
		c.abort()
		return err
	}
	util.Stats.AddSent()
	return nil
}

// ---------------------------------------------------------------------------
// Close
// ---------------------------------------------------------------------------

// Close starts shutting the connection down. A graceful close flushes queued
// frames and notifies the peer, waiting at most the grace delay; otherwise
// the socket is aborted at once. The disconnect event follows either way.
// Closing a connection that is still dialing cancels the dial, which then
// reports a failed connect. Calling Close again is a no-op.
func (c *Conn) Close(graceful bool) {
	c.mu.Lock()
	switch c.state {
	case StateConnecting:
		c.state = StateClosing
		c.mu.Unlock()
		c.cancel()
		return
	case StateConnected:
		c.state = StateClosing
		if graceful {
			// The read loop still holds a count; it cannot finish before we unlock.
			c.m.wg.Add(1)
		}
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		return
	}

	if !graceful {
		c.abort()
		return
	}

	go func() {
		defer c.m.wg.Done()

		grace, cancel := context.WithTimeout(context.Background(), c.m.opts.GraceDelay)
		defer cancel()

		c.drainOnce.Do(func() { close(c.drain) })
		select {
		case <-c.writerDone:
		case <-grace.Done():
		}
		// The peer's close reply ends the read loop.
		select {
		case <-c.readerDone:
		case <-grace.Done():
		}
		c.abort()
	}()
}

// abort releases the socket. Safe to call from any goroutine, any number of times.
func (c *Conn) abort() {
	c.abortOnce.Do(func() {
		c.mu.Lock()
		if c.state == StateConnected {
			c.state = StateClosing
		}
		ws := c.ws
		c.mu.Unlock()

		c.cancel()
		if ws != nil {
			if err := ws.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				util.LogDebug("%s socket close: %v", c, err)
			}
		}
	})
}

// finish marks the connection Closed and fires the disconnect event.
func (c *Conn) finish() {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()

		util.Stats.AddClosed()
		util.LogDebug("%s disconnected", c)
		c.m.post(func() {
			c.sink.disconnected(c)
			c.m.remove(c)
		})
	})
}
