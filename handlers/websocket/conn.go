package websocket

import (
	"errors"
	"sync"

	socketio "github.com/zishang520/socket.io/v2/socket"
)

// outboundQueueSize bounds the per-connection send queue. A client that
// cannot drain it loses events; the room never waits for it.
const outboundQueueSize = 64

var errQueueFull = errors.New("outbound queue full")

type outbound struct {
	event   string
	payload interface{}
}

// socketConn adapts a socket.io socket to the collab.Conn contract:
// Send enqueues and returns immediately, a writer goroutine performs the
// actual emit, and overflow evicts the oldest queued event for this
// recipient only.
type socketConn struct {
	id     string
	socket *socketio.Socket
	queue  chan outbound
	done   chan struct{}
	once   sync.Once
}

func newSocketConn(socket *socketio.Socket) *socketConn {
	c := &socketConn{
		id:     string(socket.Id()),
		socket: socket,
		queue:  make(chan outbound, outboundQueueSize),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *socketConn) ID() string { return c.id }

func (c *socketConn) Send(event string, payload interface{}) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}

	msg := outbound{event: event, payload: payload}
	select {
	case c.queue <- msg:
		return nil
	default:
	}

	// Queue saturated: evict the oldest pending event to make room, so a
	// stalled client sees fresh state rather than a stale backlog.
	select {
	case <-c.queue:
	default:
	}
	select {
	case c.queue <- msg:
		return errQueueFull
	default:
		return errQueueFull
	}
}

func (c *socketConn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *socketConn) writeLoop() {
	for {
		select {
		case m := <-c.queue:
			_ = c.socket.Emit(m.event, m.payload)
		case <-c.done:
			return
		}
	}
}
