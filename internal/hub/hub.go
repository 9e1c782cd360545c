// Package hub accepts terminal WebSocket connections, holds the per-session
// client sets, and mediates the JSON wire protocol between browsers and the
// session registry.
package hub

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/xicheng412/CliCast/internal/auth"
	"github.com/xicheng412/CliCast/internal/session"
	"github.com/xicheng412/CliCast/internal/term"
)

const (
	// maxInputMessageSize caps a single input message. Larger messages are
	// dropped with an error frame.
	maxInputMessageSize = 64 * 1024

	// messageRateLimit / messageRateBurst bound client message rates per
	// connection. Bursts cover paste operations.
	messageRateLimit = 200
	messageRateBurst = 200

	// exitCloseGrace is how long clients stay connected after the exit frame
	// so the final output renders before the socket closes.
	exitCloseGrace = 1500 * time.Millisecond

	readLimit = 1024 * 1024
)

// defaultDims fills in the conventional 80x24 when an init omits dimensions.
func defaultDims(cols, rows int) (int, int) {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	return cols, rows
}

// clientSet is the set of connections attached to one session, guarded by
// its own lock so broadcasts do not contend with hub-level mutation.
type clientSet struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func newClientSet() *clientSet {
	return &clientSet{clients: make(map[*client]struct{})}
}

func (cs *clientSet) add(c *client) {
	cs.mu.Lock()
	cs.clients[c] = struct{}{}
	cs.mu.Unlock()
}

// remove deletes c and reports how many clients remain.
func (cs *clientSet) remove(c *client) int {
	cs.mu.Lock()
	delete(cs.clients, c)
	n := len(cs.clients)
	cs.mu.Unlock()
	return n
}

// broadcast enqueues frame to every client, evicting any whose queue is full
// or whose connection is gone. Eviction drops the client, never the session.
func (cs *clientSet) broadcast(frame []byte) {
	cs.mu.Lock()
	var evicted []*client
	for c := range cs.clients {
		if !c.enqueue(frame) {
			evicted = append(evicted, c)
		}
	}
	for _, c := range evicted {
		delete(cs.clients, c)
	}
	cs.mu.Unlock()

	for _, c := range evicted {
		c.close(websocket.StatusPolicyViolation, "send queue overflow")
	}
}

// each runs fn over a snapshot of the set.
func (cs *clientSet) each(fn func(c *client)) {
	cs.mu.Lock()
	snapshot := make([]*client, 0, len(cs.clients))
	for c := range cs.clients {
		snapshot = append(snapshot, c)
	}
	cs.mu.Unlock()
	for _, c := range snapshot {
		fn(c)
	}
}

// Hub owns the WebSocket surface: the per-session endpoint and the shared
// dev terminal.
type Hub struct {
	registry *session.Registry
	tokens   *auth.TokenStore

	mu       sync.Mutex
	sessions map[string]*clientSet

	dev *DevTerminal
}

func New(registry *session.Registry, tokens *auth.TokenStore) *Hub {
	return &Hub{
		registry: registry,
		tokens:   tokens,
		sessions: make(map[string]*clientSet),
		dev:      newDevTerminal(),
	}
}

// set returns the client set for sessionID, creating it if needed.
func (h *Hub) set(sessionID string) *clientSet {
	h.mu.Lock()
	defer h.mu.Unlock()
	cs, ok := h.sessions[sessionID]
	if !ok {
		cs = newClientSet()
		h.sessions[sessionID] = cs
	}
	return cs
}

// drop removes a client set that has emptied, unless a newer connection has
// since joined it or replaced it.
func (h *Hub) drop(sessionID string, cs *clientSet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cs.mu.Lock()
	empty := len(cs.clients) == 0
	cs.mu.Unlock()
	if empty && h.sessions[sessionID] == cs {
		delete(h.sessions, sessionID)
	}
}

// ServeSession handles GET /ws?sessionId=<id>&token=<t>. Token and session
// validity are checked before the upgrade; failures are plain HTTP
// rejections, never an upgrade followed by a close.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request) {
	tok := auth.FromRequest(r.Header.Get("Authorization"), r.URL.Query().Get("token"))
	if !h.tokens.Verify(tok) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" || !h.registry.Exists(sessionID) {
		http.Error(w, "Unknown session", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[hub] accept failed for session %s: %v", sessionID, err)
		return
	}
	conn.SetReadLimit(readLimit)

	c := newClient(conn)
	cs := h.set(sessionID)
	log.Printf("[hub] client connected to session %s", sessionID)

	h.readLoop(r, c, cs, sessionID)

	if cs.remove(c) == 0 {
		// Last client gone: detach the event sink but keep the PTY running
		// so a reconnecting browser can reattach.
		h.registry.Detach(sessionID)
		h.drop(sessionID, cs)
	}
	c.close(websocket.StatusNormalClosure, "")
	log.Printf("[hub] client disconnected from session %s", sessionID)
}

// readLoop processes client messages until the connection drops.
func (h *Hub) readLoop(r *http.Request, c *client, cs *clientSet, sessionID string) {
	initialized := false
	limiter := newRateLimiter(messageRateLimit, messageRateBurst)

	for {
		typ, data, err := c.conn.Read(r.Context())
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			c.enqueue(errorFrame("Binary frames are not supported."))
			continue
		}
		if !limiter.allow() {
			continue
		}

		msg, err := parseClientMessage(data)
		if err != nil {
			c.enqueue(errorFrame(err.Error()))
			continue
		}

		switch msg.Type {
		case msgInit:
			if initialized {
				c.enqueue(readyFrame(sessionID))
				continue
			}
			// Join the fan-out set first so no chunk falls between the
			// replayed snapshot and the live broadcast stream.
			cs.add(c)
			cols, rows := defaultDims(msg.Cols, msg.Rows)
			h.startSession(sessionID, cols, rows, cs, c)
			initialized = true

		case msgInput:
			if !initialized {
				c.enqueue(errorFrame("Terminal not initialized. Send init first."))
				continue
			}
			payload, err := decodeData(msg.Data)
			if err != nil {
				c.enqueue(errorFrame("Input data must be base64-encoded."))
				continue
			}
			if len(payload) > maxInputMessageSize {
				c.enqueue(errorFrame("Input message too large."))
				continue
			}
			if err := h.registry.Write(sessionID, payload); err != nil {
				log.Printf("[hub] input to session %s: %v", sessionID, err)
			}

		case msgResize:
			if initialized {
				h.registry.Resize(sessionID, msg.Cols, msg.Rows)
			}

		case msgPing:
			c.enqueue(pongFrame())

		case msgKill:
			c.enqueue(errorFrame("kill is only supported on the dev terminal."))
		}
	}
}

// startSession spawns (or reattaches to) the session's PTY with the hub's
// broadcast callbacks bound, replaying the history ring to the initiating
// client between ready and the live output stream.
func (h *Hub) startSession(sessionID string, cols, rows int, cs *clientSet, c *client) {
	replay := func(history [][]byte) {
		c.enqueue(readyFrame(sessionID))
		c.enqueue(historyFrame(history))
	}
	err := h.registry.Start(sessionID, cols, rows, session.Callbacks{
		OnOutput: func(chunk []byte) {
			cs.broadcast(outputFrame(chunk))
		},
		OnStatus: func(status session.Status) {
			cs.broadcast(statusFrame(status, sessionID))
		},
		OnExit: func(st term.ExitStatus) {
			cs.broadcast(exitFrame(st))
			cs.each(func(c *client) {
				c.closeAfter(exitCloseGrace, websocket.StatusNormalClosure, "")
			})
		},
		OnError: func(message string) {
			cs.broadcast(errorFrame(message))
		},
	}, replay)
	if err != nil {
		log.Printf("[hub] start session %s: %v", sessionID, err)
	}
}

// ServeDev handles GET /ws/dev?token=<t>.
func (h *Hub) ServeDev(w http.ResponseWriter, r *http.Request) {
	tok := auth.FromRequest(r.Header.Get("Authorization"), r.URL.Query().Get("token"))
	if !h.tokens.Verify(tok) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	h.dev.serve(w, r)
}

// CloseAll closes every connected client with the given close code. Used on
// server shutdown (1001, going away).
func (h *Hub) CloseAll(code websocket.StatusCode, reason string) {
	h.mu.Lock()
	sets := make([]*clientSet, 0, len(h.sessions))
	for _, cs := range h.sessions {
		sets = append(sets, cs)
	}
	h.mu.Unlock()

	for _, cs := range sets {
		cs.each(func(c *client) {
			c.close(code, reason)
		})
	}
	h.dev.closeAll(code, reason)
}

// StopDev terminates the shared dev PTY. Used on server shutdown.
func (h *Hub) StopDev() {
	h.dev.stop()
}
