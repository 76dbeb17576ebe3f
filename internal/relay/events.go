package relay

import (
	"sync"

	"github.com/1ureka/wavelength/internal/protocol"
)

// Handler receives the lifecycle and message events of an outbound
// connection. All methods run on the Manager's event loop, one at a time;
// a slow handler delays delivery for every connection of that Manager.
type Handler interface {
	// OnConnected fires once: ok is false when the connection never opened.
	OnConnected(c *Conn, ok bool)
	// OnMessage fires for every envelope read, in stream order.
	OnMessage(c *Conn, env protocol.Envelope)
	// OnDisconnected fires exactly once for a connection that reached Connected.
	OnDisconnected(c *Conn)
}

// Rejecter is an optional Handler extension notified of frames that could
// not be parsed. The read loop keeps going after a reject.
type Rejecter interface {
	OnReject(c *Conn, err error)
}

// HandlerFuncs adapts plain functions to Handler and Rejecter. Nil fields
// are skipped.
type HandlerFuncs struct {
	Connected    func(c *Conn, ok bool)
	Message      func(c *Conn, env protocol.Envelope)
	Disconnected func(c *Conn)
	Reject       func(c *Conn, err error)
}

func (h HandlerFuncs) OnConnected(c *Conn, ok bool) {
	if h.Connected != nil {
		h.Connected(c, ok)
	}
}

func (h HandlerFuncs) OnMessage(c *Conn, env protocol.Envelope) {
	if h.Message != nil {
		h.Message(c, env)
	}
}

func (h HandlerFuncs) OnDisconnected(c *Conn) {
	if h.Disconnected != nil {
		h.Disconnected(c)
	}
}

func (h HandlerFuncs) OnReject(c *Conn, err error) {
	if h.Reject != nil {
		h.Reject(c, err)
	}
}

// EventKind identifies a relay listener event.
type EventKind int

const (
	// EventConnected: a new inbound peer was accepted.
	EventConnected EventKind = iota + 1
	// EventMessage: a peer sent an envelope.
	EventMessage
	// EventRejected: a peer sent a frame that failed to parse.
	EventRejected
	// EventClosed: a peer connection is gone; it leaves the active set right
	// after delivery.
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	case EventRejected:
		return "rejected"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one inbound-peer notification delivered to subscribers.
type Event struct {
	Kind     EventKind
	Conn     *Conn
	Envelope protocol.Envelope // EventMessage only
	Err      error             // EventRejected only
}

// Subscription is a channel of relay listener events. Every subscriber sees
// every event in delivery order. Subscribers must keep reading C (or Close
// the subscription); the event loop waits for each delivery.
type Subscription struct {
	// C is closed after Close, or when the Manager shuts down.
	C <-chan Event

	ch   chan Event
	done chan struct{}
	once sync.Once
	m    *Manager
}

// Close detaches the subscription. Pending deliveries are dropped.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.m.post(func() { s.m.dropSubscription(s) })
	})
}

// deliver hands ev to the subscriber. Runs on the event loop.
func (s *Subscription) deliver(ev Event) {
	select {
	case s.ch <- ev:
	case <-s.done:
	}
}

// sink routes a connection's events. Every method is invoked on the event loop.
type sink interface {
	connected(c *Conn, ok bool)
	message(c *Conn, env protocol.Envelope)
	rejected(c *Conn, err error)
	disconnected(c *Conn)
}

// handlerSink feeds an outbound connection's Handler.
type handlerSink struct{ h Handler }

func (s handlerSink) connected(c *Conn, ok bool)             { s.h.OnConnected(c, ok) }
func (s handlerSink) message(c *Conn, env protocol.Envelope) { s.h.OnMessage(c, env) }
func (s handlerSink) disconnected(c *Conn)                   { s.h.OnDisconnected(c) }

func (s handlerSink) rejected(c *Conn, err error) {
	if r, ok := s.h.(Rejecter); ok {
		r.OnReject(c, err)
	}
}

// listenerSink fans inbound connection events out to subscribers.
type listenerSink struct{ m *Manager }

func (s listenerSink) connected(c *Conn, ok bool) {
	if ok {
		s.m.broadcast(Event{Kind: EventConnected, Conn: c})
	}
}

func (s listenerSink) message(c *Conn, env protocol.Envelope) {
	s.m.broadcast(Event{Kind: EventMessage, Conn: c, Envelope: env})
}

func (s listenerSink) rejected(c *Conn, err error) {
	s.m.broadcast(Event{Kind: EventRejected, Conn: c, Err: err})
}

func (s listenerSink) disconnected(c *Conn) {
	s.m.broadcast(Event{Kind: EventClosed, Conn: c})
}
