package relay

import (
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/1ureka/wavelength/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// listener is the relay server side: an HTTP server upgrading requests on
// the relay path to inbound connections.
type listener struct {
	ln  net.Listener
	srv *http.Server
}

// StartListener binds the relay listener on port (0 picks a free one). It
// returns false when this Manager already runs a listener, when the Manager
// is closed, or when the bind fails; nothing is retained in that case.
func (m *Manager) StartListener(port int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	if m.listener != nil {
		util.LogWarning("relay listener already running on %s", m.listener.ln.Addr())
		return false
	}

	addr := net.JoinHostPort(m.opts.ListenHost, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		util.LogError("failed to start relay listener on %s: %v", addr, err)
		return false
	}

	l := &listener{ln: ln}
	mux := http.NewServeMux()
	mux.HandleFunc(m.opts.Path, func(w http.ResponseWriter, r *http.Request) {
		m.handleUpgrade(l, w, r)
	})
	l.srv = &http.Server{Handler: mux}
	m.listener = l

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("relay listener stopped: %v", err)
		}
	}()

	util.LogInfo("relay listening on %s%s", ln.Addr(), m.opts.Path)
	return true
}

// ListenAddr returns the bound listener address, or nil without a listener.
func (m *Manager) ListenAddr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.ln.Addr()
}

// StopListener closes every inbound connection and then releases the
// listener; the port is free again on return. No-op without a listener.
func (m *Manager) StopListener() {
	m.mu.Lock()
	l := m.listener
	m.listener = nil
	m.mu.Unlock()

	if l == nil {
		return
	}

	for _, c := range m.Peers() {
		c.Close(true)
	}
	if err := l.srv.Close(); err != nil {
		util.LogDebug("relay listener close: %v", err)
	}
	util.LogInfo("relay listener on %s stopped", l.ln.Addr())
}

// handleUpgrade turns an HTTP request into an inbound connection.
func (m *Manager) handleUpgrade(l *listener, w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogDebug("upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	c := newConn(m, RoleInbound, listenerSink{m})

	m.mu.Lock()
	if m.closed || m.listener != l {
		m.mu.Unlock()
		c.cancel()
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"))
		ws.Close()
		return
	}
	m.conns[c.id] = c
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	c.accept(ws)
}
