package hub

import (
	"log"
	"net/http"
	"os"
	"os/exec"
	"sync"

	"github.com/coder/websocket"

	"github.com/xicheng412/CliCast/internal/session"
	"github.com/xicheng412/CliCast/internal/term"
)

// DevTerminal is the process-wide shared developer shell: one PTY bound to
// the user's login shell, broadcast to every subscriber. The PTY is spawned
// lazily on the first init and concurrent inits converge on the same PTY.
type DevTerminal struct {
	mu   sync.Mutex
	term *term.Terminal
	ring *session.HistoryRing

	set *clientSet
}

func newDevTerminal() *DevTerminal {
	return &DevTerminal{
		ring: session.NewHistoryRing(0),
		set:  newClientSet(),
	}
}

// resolveShell probes for the first existing executable among $SHELL and the
// common shell paths.
func resolveShell() string {
	candidates := []string{os.Getenv("SHELL"), "/bin/zsh", "/bin/bash", "/bin/sh"}
	for _, shell := range candidates {
		if shell == "" {
			continue
		}
		if _, err := exec.LookPath(shell); err == nil {
			return shell
		}
	}
	return "/bin/sh"
}

// resolveHome probes for the first existing directory among $HOME, the
// process working directory, and /.
func resolveHome() string {
	candidates := []string{os.Getenv("HOME")}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, wd)
	}
	candidates = append(candidates, "/")
	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return "/"
}

func (d *DevTerminal) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[dev-term] accept failed: %v", err)
		return
	}
	conn.SetReadLimit(readLimit)

	c := newClient(conn)
	log.Printf("[dev-term] client connected")

	d.readLoop(r, c)

	d.set.remove(c)
	c.close(websocket.StatusNormalClosure, "")
	log.Printf("[dev-term] client disconnected")
}

func (d *DevTerminal) readLoop(r *http.Request, c *client) {
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
				c.enqueue(devReadyFrame(false))
				continue
			}
			cols, rows := defaultDims(msg.Cols, msg.Rows)
			d.attach(c, cols, rows)
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
			d.write(payload)

		case msgResize:
			if initialized {
				d.resize(msg.Cols, msg.Rows)
			}

		case msgPing:
			c.enqueue(pongFrame())

		case msgKill:
			d.kill()
			c.enqueue(killedFrame())
		}
	}
}

// attach subscribes c to the shared PTY, spawning it when this is the first
// init. Everything from the ready frame to the history snapshot happens
// under the singleton lock, so concurrent inits converge on one PTY and each
// client's replay is gap-free against the broadcast stream.
func (d *DevTerminal) attach(c *client, cols, rows int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	isNew := d.term == nil
	if isNew {
		if err := d.spawnLocked(cols, rows); err != nil {
			log.Printf("[dev-term] spawn failed: %v", err)
			c.enqueue(errorFrame("Failed to start terminal: " + err.Error()))
			return
		}
	}

	d.set.add(c)
	c.enqueue(devReadyFrame(isNew))
	c.enqueue(historyFrame(d.ring.Snapshot()))
}

// spawnLocked starts the shared shell PTY. Caller holds d.mu.
func (d *DevTerminal) spawnLocked(cols, rows int) error {
	shell := resolveShell()
	home := resolveHome()
	d.ring = session.NewHistoryRing(0)

	t, err := term.Start(term.Options{
		Argv: []string{shell},
		Dir:  home,
		Cols: cols,
		Rows: rows,
		OnData: func(chunk []byte) {
			d.mu.Lock()
			d.ring.Append(chunk)
			d.set.broadcast(outputFrame(chunk))
			d.mu.Unlock()
		},
		OnExit: func(st term.ExitStatus) {
			d.mu.Lock()
			d.term = nil
			d.mu.Unlock()
			log.Printf("[dev-term] shell exited code=%d", st.Code)
			d.set.broadcast(exitFrame(st))
			d.set.each(func(c *client) {
				c.closeAfter(exitCloseGrace, websocket.StatusNormalClosure, "")
			})
		},
	})
	if err != nil {
		return err
	}

	d.term = t
	log.Printf("[dev-term] started shell %s in %s", shell, home)
	return nil
}

func (d *DevTerminal) write(p []byte) {
	d.mu.Lock()
	t := d.term
	d.mu.Unlock()
	if t != nil {
		t.Write(p)
	}
}

func (d *DevTerminal) resize(cols, rows int) {
	d.mu.Lock()
	t := d.term
	d.mu.Unlock()
	if t != nil {
		t.Resize(cols, rows)
	}
}

// kill terminates the shared PTY. The exit path clears d.term so the next
// init spawns a fresh shell.
func (d *DevTerminal) kill() {
	d.mu.Lock()
	t := d.term
	d.mu.Unlock()
	if t != nil {
		t.Kill()
	}
}

func (d *DevTerminal) closeAll(code websocket.StatusCode, reason string) {
	d.set.each(func(c *client) {
		c.close(code, reason)
	})
}

// stop kills the shared PTY on server shutdown.
func (d *DevTerminal) stop() {
	d.kill()
}
