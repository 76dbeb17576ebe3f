// Package relay manages wavelength relay connections: it dials relays,
// runs the relay listener that accepts peers, and exchanges typed envelopes
// over WebSocket text frames, one envelope per frame.
package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/wavelength/internal/protocol"
	"github.com/1ureka/wavelength/internal/util"
)

// ErrManagerClosed is returned by Connect after Close.
var ErrManagerClosed = errors.New("relay manager closed")

// Options tunes a Manager. Zero values take the defaults below.
type Options struct {
	ListenHost       string        // interface the listener binds; "" = all
	Path             string        // WebSocket endpoint path
	GraceDelay       time.Duration // bound on a graceful close
	HandshakeTimeout time.Duration // outbound WebSocket handshake
	WriteTimeout     time.Duration // bound on writing one frame
	OutboxSize       int           // queued frames per connection
	MaxFrameBytes    int64         // largest accepted inbound frame
	EventBuffer      int           // pending event-loop callbacks
}

// Defaults.
const (
	DefaultPath             = "/ws"
	DefaultGraceDelay       = 250 * time.Millisecond
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultOutboxSize       = 64
	DefaultMaxFrameBytes    = 8 << 20
	DefaultEventBuffer      = 256
)

func (o Options) withDefaults() Options {
	if o.Path == "" {
		o.Path = DefaultPath
	}
	if o.GraceDelay <= 0 {
		o.GraceDelay = DefaultGraceDelay
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = DefaultOutboxSize
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = DefaultEventBuffer
	}
	return o
}

// Manager owns every relay connection of one process role: outbound
// connections it dialed and inbound ones accepted by its listener. All
// connection callbacks and subscriber deliveries run on a single event-loop
// goroutine, so they never interleave.
type Manager struct {
	opts   Options
	dialer websocket.Dialer // copied per dial

	ctx    context.Context
	cancel context.CancelFunc

	// Event loop
	events   chan func()
	stop     chan struct{}
	loopDone chan struct{}

	mu       sync.Mutex
	conns    map[uuid.UUID]*Conn
	listener *listener
	subs     map[*Subscription]struct{}
	closed   bool

	wg sync.WaitGroup // connection goroutines
}

// NewManager creates a Manager and starts its event loop. Call Close to
// release it.
func NewManager(opts Options) *Manager {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		opts: opts,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan func(), opts.EventBuffer),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
		conns:    make(map[uuid.UUID]*Conn),
		subs:     make(map[*Subscription]struct{}),
	}
	go m.loop()
	return m
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// Connect dials a relay at address:port and returns the new connection at
// once; h observes its events. Every call creates a new connection. Connect
// failures, including an address that cannot be normalised, are reported
// through h.OnConnected(c, false). The only error is ErrManagerClosed.
func (m *Manager) Connect(address string, port int, h Handler) (*Conn, error) {
	if h == nil {
		h = HandlerFuncs{}
	}
	c := newConn(m, RoleOutbound, handlerSink{h})

	target, normErr := NormalizeTarget(address, port)
	c.target = target
	if normErr != nil {
		c.target = address
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		c.cancel()
		return nil, ErrManagerClosed
	}
	if normErr != nil {
		m.mu.Unlock()
		c.mu.Lock()
		c.state = StateErrored
		c.mu.Unlock()
		c.cancel()
		util.Stats.AddFailed()
		util.LogWarning("%s connect failed: %v", c, normErr)
		m.post(func() { c.sink.connected(c, false) })
		return c, nil
	}
	m.conns[c.id] = c
	m.wg.Add(1)
	m.mu.Unlock()

	util.LogDebug("%s dialing", c)
	go c.dial(m.dialer, m.opts.Path)
	return c, nil
}

// Disconnect closes c. A nil or already closed connection is a no-op.
func (m *Manager) Disconnect(c *Conn, graceful bool) {
	if c == nil {
		return
	}
	c.Close(graceful)
}

// Send writes env to c.
func (m *Manager) Send(c *Conn, env protocol.Envelope) error {
	if c == nil {
		return ErrNotConnected
	}
	return c.Send(env)
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Peers returns a snapshot of the active inbound connections. The Manager
// has no broadcast; fan-out is done by iterating this set.
func (m *Manager) Peers() []*Conn {
	return m.snapshot(func(c *Conn) bool { return c.role == RoleInbound })
}

// Conns returns a snapshot of every active connection.
func (m *Manager) Conns() []*Conn {
	return m.snapshot(func(*Conn) bool { return true })
}

// Lookup finds an active connection by id.
func (m *Manager) Lookup(id uuid.UUID) (*Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	return c, ok
}

func (m *Manager) snapshot(keep func(*Conn) bool) []*Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func (m *Manager) remove(c *Conn) {
	m.mu.Lock()
	delete(m.conns, c.id)
	m.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// Subscribe registers a new listener-event subscriber with the given
// channel buffer. After Close the returned subscription is already closed.
func (m *Manager) Subscribe(buffer int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, ch: ch, done: make(chan struct{}), m: m}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(s.done)
		s.once.Do(func() {})
		close(ch)
		return s
	}
	m.subs[s] = struct{}{}
	return s
}

// dropSubscription runs on the event loop, the only goroutine that sends on s.ch.
func (m *Manager) dropSubscription(s *Subscription) {
	m.mu.Lock()
	_, ok := m.subs[s]
	delete(m.subs, s)
	m.mu.Unlock()
	if ok {
		close(s.ch)
	}
}

// broadcast hands ev to every subscriber. Runs on the event loop.
func (m *Manager) broadcast(ev Event) {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.deliver(ev)
	}
}

// post queues fn for the event loop. Once the loop has exited fn is dropped.
func (m *Manager) post(fn func()) {
	select {
	case m.events <- fn:
	case <-m.loopDone:
	}
}

// loop runs posted callbacks one at a time until stop, then drains what is
// left and closes every subscription.
func (m *Manager) loop() {
	defer close(m.loopDone)

	for {
		select {
		case fn := <-m.events:
			fn()
		case <-m.stop:
			for {
				select {
				case fn := <-m.events:
					fn()
				default:
					m.mu.Lock()
					subs := m.subs
					m.subs = make(map[*Subscription]struct{})
					m.mu.Unlock()
					for s := range subs {
						close(s.ch)
					}
					return
				}
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Shutdown
// ---------------------------------------------------------------------------

// Close aborts every connection, stops the listener, waits for all
// disconnect events to be delivered and stops the event loop. It must not
// be called from a Handler or while a subscriber has stopped reading.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	for _, c := range m.Conns() {
		c.Close(false)
	}
	m.StopListener()
	m.cancel()
	m.wg.Wait()

	close(m.stop)
	<-m.loopDone
	util.LogDebug("relay manager closed")
}
