package hub

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// sendQueueSize bounds the per-client outgoing queue. A client that cannot
// drain this many frames is evicted rather than allowed to stall the PTY
// reader.
const sendQueueSize = 256

// client is one WebSocket connection. All outgoing frames pass through a
// single writer goroutine so per-socket FIFO order holds and broadcasts
// never block on a slow peer.
type client struct {
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	send      chan []byte
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, sendQueueSize),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	for {
		select {
		case frame := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, frame); err != nil {
				c.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// enqueue hands a frame to the writer. It reports false when the client is
// gone or its queue is full; the caller evicts on false.
func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close tears the connection down once. Safe from any goroutine.
func (c *client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close(code, reason)
	})
}

// closeAfter schedules a close, used for the post-exit grace delay.
func (c *client) closeAfter(d time.Duration, code websocket.StatusCode, reason string) {
	time.AfterFunc(d, func() {
		c.close(code, reason)
	})
}

// rateLimiter is a token bucket for client message rates. It is used only
// from the connection's read loop, so no locking is needed.
type rateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newRateLimiter(rate float64, burst int) *rateLimiter {
	return &rateLimiter{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

// allow consumes a token, refilling based on elapsed time. Messages arriving
// with no tokens left are dropped by the caller.
func (rl *rateLimiter) allow() bool {
	now := time.Now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.refillRate
	rl.lastRefill = now
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
