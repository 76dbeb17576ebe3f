package wavelength

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/wavelength/internal/attachment"
	"github.com/1ureka/wavelength/internal/protocol"
	"github.com/1ureka/wavelength/internal/relay"
)

const waitTimeout = 5 * time.Second

func testOptions() relay.Options {
	return relay.Options{ListenHost: "127.0.0.1", GraceDelay: 100 * time.Millisecond}
}

// startRouter runs a relay with a router on a free port.
func startRouter(t *testing.T) (*Router, int) {
	t.Helper()
	m := relay.NewManager(testOptions())
	t.Cleanup(m.Close)

	r := NewRouter(m)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	require.True(t, m.StartListener(0))
	return r, m.ListenAddr().(*net.TCPAddr).Port
}

func dial(t *testing.T, port int, name string) *Client {
	t.Helper()
	return dialWith(t, port, name, testOptions())
}

func dialWith(t *testing.T, port int, name string, opts relay.Options) *Client {
	t.Helper()
	m := relay.NewManager(opts)
	t.Cleanup(m.Close)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	cl, err := Dial(ctx, m, "127.0.0.1", port, name)
	require.NoError(t, err)
	return cl
}

// expect reads the next envelope and checks its type.
func expect(t *testing.T, cl *Client, typ string) protocol.Envelope {
	t.Helper()
	select {
	case env, ok := <-cl.Incoming():
		require.True(t, ok, "%s: connection closed while waiting for %s", cl.Name(), typ)
		require.Equal(t, typ, env.Type(), "%s: unexpected envelope %v", cl.Name(), env.Fields())
		return env
	case <-time.After(waitTimeout):
		t.Fatalf("%s: timed out waiting for %s", cl.Name(), typ)
		return protocol.Envelope{}
	}
}

func expectNothing(t *testing.T, cl *Client) {
	t.Helper()
	select {
	case env := <-cl.Incoming():
		t.Fatalf("%s: unexpected %s envelope", cl.Name(), env.Type())
	case <-time.After(100 * time.Millisecond):
	}
}

func tuneIn(t *testing.T, cl *Client, freq protocol.Frequency) protocol.Envelope {
	t.Helper()
	require.NoError(t, cl.Join(freq))
	joined := expect(t, cl, protocol.TypeJoined)
	require.Equal(t, freq, cl.Frequency())
	return joined
}

func TestJoinAndPresence(t *testing.T) {
	r, port := startRouter(t)
	alice := dial(t, port, "alice")
	bob := dial(t, port, "bob")

	joined := tuneIn(t, alice, 88)
	var peers []string
	require.NoError(t, joined.Decode("peers", &peers))
	assert.Empty(t, peers)

	joined = tuneIn(t, bob, 88)
	require.NoError(t, joined.Decode("peers", &peers))
	assert.Equal(t, []string{"alice"}, peers)

	presence := expect(t, alice, protocol.TypePresence)
	assert.Equal(t, PresenceJoin, presence.Text("event"))
	assert.Equal(t, "bob", presence.Text("name"))

	assert.Equal(t, []string{"alice", "bob"}, r.Members(88))
	assert.Equal(t, map[protocol.Frequency]int{88: 2}, r.Frequencies())
}

func TestMessageFanout(t *testing.T) {
	_, port := startRouter(t)
	alice := dial(t, port, "alice")
	bob := dial(t, port, "bob")
	carol := dial(t, port, "carol")

	tuneIn(t, alice, 120)
	tuneIn(t, bob, 120)
	expect(t, alice, protocol.TypePresence)
	tuneIn(t, carol, 121)

	require.NoError(t, alice.Say("hello"))
	msg := expect(t, bob, protocol.TypeMessage)
	assert.Equal(t, "hello", msg.Text("text"))
	assert.Equal(t, "alice", msg.Text("from"))

	// Unknown fields are relayed verbatim.
	custom := protocol.MustEncode(protocol.TypeMessage, map[string]any{
		"frequency": 120,
		"text":      "styled",
		"style":     map[string]any{"bold": true},
	})
	require.NoError(t, bob.Send(custom))
	got := expect(t, alice, protocol.TypeMessage)
	want, err := protocol.Serialize(custom)
	require.NoError(t, err)
	data, err := protocol.Serialize(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(data))

	expectNothing(t, carol)
}

func TestSendBeforeJoin(t *testing.T) {
	_, port := startRouter(t)
	cl := dial(t, port, "dave")

	assert.ErrorIs(t, cl.Say("hi"), ErrNotTuned)
	require.NoError(t, cl.Send(protocol.MustEncode(protocol.TypeMessage, map[string]any{"text": "hi"})))
	errEnv := expect(t, cl, protocol.TypeError)
	assert.Contains(t, errEnv.Text("reason"), "join a frequency")

	require.NoError(t, cl.Send(protocol.MustEncode(protocol.TypeLeave, nil)))
	expect(t, cl, protocol.TypeError)
}

func TestWrongFrequency(t *testing.T) {
	_, port := startRouter(t)
	cl := dial(t, port, "erin")
	tuneIn(t, cl, 100)

	require.NoError(t, cl.Send(protocol.MustEncode(protocol.TypeMessage, map[string]any{"frequency": 101, "text": "x"})))
	expect(t, cl, protocol.TypeError)
}

func TestJoinInvalidFrequency(t *testing.T) {
	_, port := startRouter(t)
	cl := dial(t, port, "frank")

	for _, freq := range []any{29, 301, "eighty"} {
		require.NoError(t, cl.Send(protocol.MustEncode(protocol.TypeJoin, map[string]any{"frequency": freq})))
		errEnv := expect(t, cl, protocol.TypeError)
		assert.Contains(t, errEnv.Text("reason"), "invalid frequency")
	}
	assert.Zero(t, cl.Frequency())
}

func TestSwitchFrequency(t *testing.T) {
	r, port := startRouter(t)
	alice := dial(t, port, "alice")
	bob := dial(t, port, "bob")
	tuneIn(t, alice, 200)
	tuneIn(t, bob, 200)
	expect(t, alice, protocol.TypePresence)

	tuneIn(t, bob, 201)
	left := expect(t, alice, protocol.TypePresence)
	assert.Equal(t, PresenceLeave, left.Text("event"))
	assert.Equal(t, []string{"alice"}, r.Members(200))
	assert.Equal(t, []string{"bob"}, r.Members(201))
}

func TestLeave(t *testing.T) {
	r, port := startRouter(t)
	alice := dial(t, port, "alice")
	bob := dial(t, port, "bob")
	tuneIn(t, alice, 250)
	tuneIn(t, bob, 250)
	expect(t, alice, protocol.TypePresence)

	require.NoError(t, bob.Leave())
	assert.Zero(t, bob.Frequency())
	assert.ErrorIs(t, bob.Say("still here?"), ErrNotTuned)

	left := expect(t, alice, protocol.TypePresence)
	assert.Equal(t, PresenceLeave, left.Text("event"))
	assert.Equal(t, "bob", left.Text("name"))
	assert.Equal(t, []string{"alice"}, r.Members(250))

	// Leaving twice is answered with an error.
	require.NoError(t, bob.Leave())
	errEnv := expect(t, bob, protocol.TypeError)
	assert.Contains(t, errEnv.Text("reason"), "not tuned in")
}

func TestPingUnknownMalformed(t *testing.T) {
	_, port := startRouter(t)
	cl := dial(t, port, "gina")

	require.NoError(t, cl.Ping(42))
	pong := expect(t, cl, protocol.TypePong)
	var seq int
	require.NoError(t, pong.Decode("seq", &seq))
	assert.Equal(t, 42, seq)

	require.NoError(t, cl.Send(protocol.MustEncode("teleport", nil)))
	errEnv := expect(t, cl, protocol.TypeError)
	assert.Contains(t, errEnv.Text("reason"), "teleport")

	// A raw socket can send what Client never would.
	ws, _, err := websocket.DefaultDialer.Dial("ws://127.0.0.1:"+strconv.Itoa(port)+relay.DefaultPath, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"text":"no type"}`)))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeError, env.Type())
	assert.Equal(t, "malformed envelope", env.Text("reason"))
}

func TestDisconnectAnnouncesLeave(t *testing.T) {
	r, port := startRouter(t)
	alice := dial(t, port, "alice")
	bob := dial(t, port, "bob")
	tuneIn(t, alice, 150)
	tuneIn(t, bob, 150)
	expect(t, alice, protocol.TypePresence)

	bob.Close(true)
	select {
	case <-bob.Done():
	case <-time.After(waitTimeout):
		t.Fatal("bob never disconnected")
	}

	left := expect(t, alice, protocol.TypePresence)
	assert.Equal(t, PresenceLeave, left.Text("event"))
	assert.Equal(t, "bob", left.Text("name"))
	assert.Equal(t, []string{"alice"}, r.Members(150))
}

// TestSilentPeerDoesNotStallRelay floods a frequency that has a peer which
// never reads. The relay drops that peer and keeps serving everyone else.
func TestSilentPeerDoesNotStallRelay(t *testing.T) {
	r, port := startRouter(t)

	opts := testOptions()
	opts.OutboxSize = 256
	alice := dialWith(t, port, "alice", opts)
	tuneIn(t, alice, 88)

	silent, _, err := websocket.DefaultDialer.Dial("ws://127.0.0.1:"+strconv.Itoa(port)+relay.DefaultPath, nil)
	require.NoError(t, err)
	defer silent.Close()
	require.NoError(t, silent.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","frequency":88,"name":"mallory"}`)))
	expect(t, alice, protocol.TypePresence)

	line := strings.Repeat("x", 256<<10)
	for i := 0; i < 200; i++ {
		require.NoError(t, alice.Say(line))
	}

	carol := dial(t, port, "carol")
	require.NoError(t, carol.Ping(1))
	expect(t, carol, protocol.TypePong)

	require.Eventually(t, func() bool {
		members := r.Members(88)
		return len(members) == 1 && members[0] == "alice"
	}, waitTimeout, 10*time.Millisecond)
}

// TestAttachmentRelay prepares a file on a queue and relays it to a peer.
func TestAttachmentRelay(t *testing.T) {
	_, port := startRouter(t)
	alice := dial(t, port, "alice")
	bob := dial(t, port, "bob")
	tuneIn(t, alice, 99)
	tuneIn(t, bob, 99)
	expect(t, alice, protocol.TypePresence)

	path := filepath.Join(t.TempDir(), "map.txt")
	require.NoError(t, os.WriteFile(path, []byte("x marks the spot"), 0o644))

	q := attachment.NewQueue(attachment.NewPool(2), attachment.QueueOptions{})
	task := q.Submit(func(ctx context.Context) error {
		env, err := attachment.Prepare(ctx, path, alice.Frequency(), alice.Name(), 0)
		if err != nil {
			return err
		}
		return alice.Send(env)
	})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	res, err := task.Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.NoError(t, q.Shutdown(ctx))

	got := expect(t, bob, protocol.TypeAttachment)
	data, err := attachment.Verify(got)
	require.NoError(t, err)
	assert.Equal(t, "x marks the spot", string(data))
	assert.Equal(t, "map.txt", got.Text("name"))
}
