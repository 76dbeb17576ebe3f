package wavelength

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/wavelength/internal/protocol"
	"github.com/1ureka/wavelength/internal/relay"
	"github.com/1ureka/wavelength/internal/util"
)

// ErrNotTuned is returned when sending chat before Join.
var ErrNotTuned = errors.New("not tuned in to a frequency")

const incomingBuffer = 256

// Client is one outbound chat session with a relay.
type Client struct {
	name string
	conn *relay.Conn

	incoming chan protocol.Envelope
	done     chan struct{}

	mu   sync.Mutex
	freq protocol.Frequency
}

// Dial connects to the relay at address:port through m and waits until the
// connection is open or ctx is done.
func Dial(ctx context.Context, m *relay.Manager, address string, port int, name string) (*Client, error) {
	cl := &Client{
		name:     name,
		incoming: make(chan protocol.Envelope, incomingBuffer),
		done:     make(chan struct{}),
	}
	opened := make(chan bool, 1)

	conn, err := m.Connect(address, port, relay.HandlerFuncs{
		Connected: func(_ *relay.Conn, ok bool) { opened <- ok },
		Message:   cl.onMessage,
		Disconnected: func(*relay.Conn) {
			close(cl.incoming)
			close(cl.done)
		},
	})
	if err != nil {
		return nil, err
	}

	select {
	case ok := <-opened:
		if !ok {
			return nil, fmt.Errorf("connect to %s failed", conn.Target())
		}
	case <-ctx.Done():
		conn.Close(false)
		return nil, ctx.Err()
	}
	cl.conn = conn
	return cl, nil
}

// onMessage runs on the Manager's event loop and must not block.
func (cl *Client) onMessage(c *relay.Conn, env protocol.Envelope) {
	if env.Type() == protocol.TypeJoined {
		if freq, err := protocol.FrequencyOf(env); err == nil {
			cl.mu.Lock()
			cl.freq = freq
			cl.mu.Unlock()
		}
	}
	select {
	case cl.incoming <- env:
	default:
		util.LogWarning("%s incoming buffer full, dropping %s", c, env.Type())
	}
}

// Name returns the display name sent on Join.
func (cl *Client) Name() string { return cl.name }

// Conn returns the underlying relay connection.
func (cl *Client) Conn() *relay.Conn { return cl.conn }

// Frequency returns the frequency confirmed by the relay, or 0.
func (cl *Client) Frequency() protocol.Frequency {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.freq
}

// Incoming delivers every envelope the relay sends. It is closed once the
// connection is gone.
func (cl *Client) Incoming() <-chan protocol.Envelope { return cl.incoming }

// Done is closed once the connection is gone.
func (cl *Client) Done() <-chan struct{} { return cl.done }

// Join asks the relay to tune in to freq. The relay answers with joined or
// error on Incoming.
func (cl *Client) Join(freq protocol.Frequency) error {
	if err := freq.Validate(); err != nil {
		return err
	}
	return cl.conn.Send(protocol.MustEncode(protocol.TypeJoin, map[string]any{
		"frequency": int(freq),
		"name":      cl.name,
	}))
}

// Leave tunes out of the current frequency.
func (cl *Client) Leave() error {
	cl.mu.Lock()
	cl.freq = 0
	cl.mu.Unlock()
	return cl.conn.Send(protocol.MustEncode(protocol.TypeLeave, nil))
}

// Say sends a chat line to the current frequency.
func (cl *Client) Say(text string) error {
	freq := cl.Frequency()
	if freq == 0 {
		return ErrNotTuned
	}
	env, err := protocol.Encode(protocol.TypeMessage, map[string]any{
		"frequency": int(freq),
		"from":      cl.name,
		"text":      text,
	})
	if err != nil {
		return err
	}
	return cl.conn.Send(env)
}

// Send writes a prepared envelope such as an attachment.
func (cl *Client) Send(env protocol.Envelope) error {
	return cl.conn.Send(env)
}

// Ping sends a ping carrying seq; the relay echoes it in a pong.
func (cl *Client) Ping(seq int) error {
	return cl.conn.Send(protocol.MustEncode(protocol.TypePing, map[string]any{"seq": seq}))
}

// Close disconnects from the relay.
func (cl *Client) Close(graceful bool) {
	cl.conn.Close(graceful)
}
