// Package wavelength turns the relay listener into a chat relay: peers tune
// in to a frequency and everything they send is fanned out to the other
// peers on that frequency.
package wavelength

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/1ureka/wavelength/internal/protocol"
	"github.com/1ureka/wavelength/internal/relay"
	"github.com/1ureka/wavelength/internal/util"
)

// Presence events carried in the "event" field of a presence envelope.
const (
	PresenceJoin  = "join"
	PresenceLeave = "leave"
)

const subscriptionBuffer = 256

// member is one peer tuned in to a frequency.
type member struct {
	freq protocol.Frequency
	name string
}

// Router relays envelopes between the inbound peers of a Manager by
// frequency. Events are handled one at a time by Run; the tables are
// guarded for the query methods.
type Router struct {
	m   *relay.Manager
	sub *relay.Subscription

	mu      sync.Mutex
	members map[*relay.Conn]*member
	rooms   map[protocol.Frequency]map[*relay.Conn]*member
}

// NewRouter subscribes to m's inbound peers. Run must be called to drain
// the subscription, since the Manager waits for every delivery.
func NewRouter(m *relay.Manager) *Router {
	return &Router{
		m:       m,
		sub:     m.Subscribe(subscriptionBuffer),
		members: make(map[*relay.Conn]*member),
		rooms:   make(map[protocol.Frequency]map[*relay.Conn]*member),
	}
}

// Run routes events until ctx is done or the Manager closes, then drops
// the subscription.
func (r *Router) Run(ctx context.Context) error {
	defer r.sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-r.sub.C:
			if !ok {
				return nil
			}
			r.handle(ev)
		}
	}
}

// Frequencies returns how many peers are tuned in to each frequency.
func (r *Router) Frequencies() map[protocol.Frequency]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[protocol.Frequency]int, len(r.rooms))
	for f, room := range r.rooms {
		out[f] = len(room)
	}
	return out
}

// Members returns the sorted names of the peers on freq.
func (r *Router) Members(freq protocol.Frequency) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return namesLocked(r.rooms[freq])
}

func (r *Router) handle(ev relay.Event) {
	switch ev.Kind {
	case relay.EventConnected:
		util.LogInfo("%s tuned in to the relay", ev.Conn)
	case relay.EventMessage:
		r.route(ev.Conn, ev.Envelope)
	case relay.EventRejected:
		r.reply(ev.Conn, errorEnvelope("malformed envelope"))
	case relay.EventClosed:
		r.leave(ev.Conn)
	}
}

func (r *Router) route(c *relay.Conn, env protocol.Envelope) {
	switch env.Type() {
	case protocol.TypeJoin:
		r.join(c, env)
	case protocol.TypeLeave:
		if !r.leave(c) {
			r.reply(c, errorEnvelope("not tuned in to a frequency"))
		}
	case protocol.TypeMessage, protocol.TypeAttachment:
		r.forward(c, env)
	case protocol.TypePing:
		fields := map[string]any{}
		if seq, ok := env.Raw("seq"); ok {
			fields["seq"] = seq
		}
		r.reply(c, protocol.MustEncode(protocol.TypePong, fields))
	default:
		r.reply(c, errorEnvelope(fmt.Sprintf("unknown envelope type %q", env.Type())))
	}
}

// join tunes c in to the requested frequency, leaving its previous one.
func (r *Router) join(c *relay.Conn, env protocol.Envelope) {
	freq, err := protocol.FrequencyOf(env)
	if err != nil {
		r.reply(c, errorEnvelope(fmt.Sprintf("invalid frequency: %v", err)))
		return
	}
	name := env.Text("name")
	if name == "" {
		name = util.ShortID(c.ID())
	}

	r.leave(c)

	mb := &member{freq: freq, name: name}
	r.mu.Lock()
	room := r.rooms[freq]
	if room == nil {
		room = make(map[*relay.Conn]*member)
		r.rooms[freq] = room
	}
	others := namesLocked(room)
	peers := peersLocked(room, c)
	room[c] = mb
	r.members[c] = mb
	r.mu.Unlock()

	util.LogInfo("%s joined %s MHz as %q", c, freq, name)
	r.reply(c, protocol.MustEncode(protocol.TypeJoined, map[string]any{
		"frequency": int(freq),
		"name":      name,
		"peers":     others,
	}))
	r.fanout(peers, presenceEnvelope(freq, PresenceJoin, name))
}

// leave removes c from its frequency and announces it. It reports whether
// c was tuned in.
func (r *Router) leave(c *relay.Conn) bool {
	r.mu.Lock()
	mb, ok := r.members[c]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.members, c)
	room := r.rooms[mb.freq]
	delete(room, c)
	if len(room) == 0 {
		delete(r.rooms, mb.freq)
	}
	peers := peersLocked(room, nil)
	r.mu.Unlock()

	util.LogInfo("%s left %s MHz", c, mb.freq)
	r.fanout(peers, presenceEnvelope(mb.freq, PresenceLeave, mb.name))
	return true
}

// forward relays env verbatim to every other peer on the sender's frequency.
func (r *Router) forward(c *relay.Conn, env protocol.Envelope) {
	r.mu.Lock()
	mb, ok := r.members[c]
	var peers []*relay.Conn
	if ok {
		peers = peersLocked(r.rooms[mb.freq], c)
	}
	r.mu.Unlock()

	if !ok {
		r.reply(c, errorEnvelope(fmt.Sprintf("join a frequency before sending %s", env.Type())))
		return
	}
	if env.Has("frequency") {
		if freq, err := protocol.FrequencyOf(env); err != nil || freq != mb.freq {
			r.reply(c, errorEnvelope(fmt.Sprintf("%s addressed to another frequency than %s MHz", env.Type(), mb.freq)))
			return
		}
	}
	util.LogDebug("%s %s -> %d peers on %s MHz", c, env.Type(), len(peers), mb.freq)
	r.fanout(peers, env)
}

func (r *Router) fanout(peers []*relay.Conn, env protocol.Envelope) {
	for _, p := range peers {
		r.reply(p, env)
	}
}

func (r *Router) reply(c *relay.Conn, env protocol.Envelope) {
	if err := r.m.Send(c, env); err != nil {
		util.LogDebug("%s drop %s: %v", c, env.Type(), err)
	}
}

func peersLocked(room map[*relay.Conn]*member, except *relay.Conn) []*relay.Conn {
	out := make([]*relay.Conn, 0, len(room))
	for c := range room {
		if c != except {
			out = append(out, c)
		}
	}
	return out
}

func namesLocked(room map[*relay.Conn]*member) []string {
	out := make([]string, 0, len(room))
	for _, mb := range room {
		out = append(out, mb.name)
	}
	sort.Strings(out)
	return out
}

func errorEnvelope(reason string) protocol.Envelope {
	return protocol.MustEncode(protocol.TypeError, map[string]any{"reason": reason})
}

func presenceEnvelope(freq protocol.Frequency, event, name string) protocol.Envelope {
	return protocol.MustEncode(protocol.TypePresence, map[string]any{
		"frequency": int(freq),
		"event":     event,
		"name":      name,
	})
}
