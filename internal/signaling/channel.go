package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/eyecall/internal/util"
)

var (
	// ErrPingTimeout is reported when a pong did not arrive before the next
	// keepalive tick.
	ErrPingTimeout = errors.New("ping timeout")
	// ErrNotOpen is returned by Send before the channel is open.
	ErrNotOpen = errors.New("signaling channel not open")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("signaling channel closed")
)

const (
	defaultWriteTimeout     = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	eventBuffer             = 64
)

// Options configures a Channel.
type Options struct {
	// PingInterval enables keepalive when positive.
	PingInterval time.Duration
	// Framing used for offers, answers and candidates.
	Framing Framing
	// WriteTimeout bounds each write. Zero selects a default.
	WriteTimeout time.Duration
	// Dialer overrides the WebSocket dialer. Its Subprotocols are replaced.
	Dialer *websocket.Dialer
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// Event is one notification from a Channel: Opened, Received, Failed or Closed.
type Event interface {
	channelEvent()
}

// Opened is delivered once the WebSocket handshake completed.
type Opened struct{}

// Received carries one application message. Ping and pong are never delivered.
type Received struct {
	Message Message
}

// Failed reports a transport failure, a keepalive timeout, or an undecodable
// frame. Frames failing with ErrMalformed leave the channel open; every other
// Failed is terminal and is the last event delivered.
type Failed struct {
	Err error
}

// Closed reports that the relay closed the connection. It is terminal.
type Closed struct{}

func (Opened) channelEvent()   {}
func (Received) channelEvent() {}
func (Failed) channelEvent()   {}
func (Closed) channelEvent()   {}

// ---------------------------------------------------------------------------
// Channel
// ---------------------------------------------------------------------------

// Channel is a duplex message channel to the signaling relay.
//
// Open returns immediately; the outcome of the handshake arrives as an
// Opened or Failed event. After Close no further events are delivered.
type Channel struct {
	opts   Options
	events chan Event

	mu       sync.Mutex
	conn     *websocket.Conn
	closing  bool // Close was called
	finished bool // a terminal event was delivered

	writeMu sync.Mutex

	closed        chan struct{}
	closeOnce     sync.Once
	cancelDial    context.CancelFunc
	keepaliveDone chan struct{}

	pongReceived atomic.Bool
}

// Open starts dialing endpoint in the background. Cancelling ctx is
// equivalent to calling Close.
func Open(ctx context.Context, endpoint string, opts Options) *Channel {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	dialCtx, cancel := context.WithCancel(ctx)
	c := &Channel{
		opts:          opts,
		events:        make(chan Event, eventBuffer),
		closed:        make(chan struct{}),
		cancelDial:    cancel,
		keepaliveDone: make(chan struct{}),
	}

	go c.run(dialCtx, endpoint)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.closed:
		}
	}()

	return c
}

// Events returns the channel's event stream. It is never closed.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Send encodes and writes one message. Writes are serialized.
func (c *Channel) Send(msg Message) error {
	c.mu.Lock()
	conn, closing := c.conn, c.closing
	c.mu.Unlock()

	switch {
	case closing:
		return ErrClosed
	case conn == nil:
		return ErrNotOpen
	}

	if err := c.write(conn, msg); err != nil {
		return err
	}

	switch msg.(type) {
	case Ping, Pong:
	default:
		util.Stats.AddSent()
	}
	return nil
}

func (c *Channel) write(conn *websocket.Conn, msg Message) error {
	data, err := Encode(msg, c.opts.Framing)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", TypeOf(msg), err)
	}
	return nil
}

// Close disarms the keepalive, then closes the transport. It is idempotent
// and suppresses every later event, including Closed.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		conn := c.conn
		c.mu.Unlock()

		close(c.closed)
		c.cancelDial()

		// The keepalive goroutine only exists once connected.
		if conn == nil {
			return
		}
		<-c.keepaliveDone

		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = conn.Close()
	})
	return err
}

// emit delivers ev unless the channel was closed locally or already
// delivered a terminal event. It reports whether ev was delivered.
func (c *Channel) emit(ev Event) bool {
	c.mu.Lock()
	if c.closing || c.finished {
		c.mu.Unlock()
		return false
	}
	if isTerminal(ev) {
		c.finished = true
	}
	c.mu.Unlock()

	select {
	case c.events <- ev:
		return true
	case <-c.closed:
		return false
	}
}

func isTerminal(ev Event) bool {
	switch e := ev.(type) {
	case Closed:
		return true
	case Failed:
		return !errors.Is(e.Err, ErrMalformed)
	}
	return false
}

// fail delivers a terminal Failed event and tears the transport down.
func (c *Channel) fail(err error) {
	if !c.emit(Failed{Err: err}) {
		return
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

func (c *Channel) run(ctx context.Context, endpoint string) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: defaultHandshakeTimeout,
	}
	if c.opts.Dialer != nil {
		dialer = *c.opts.Dialer
	}
	dialer.Subprotocols = []string{Subprotocol}

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		close(c.keepaliveDone)
		c.fail(fmt.Errorf("failed to connect to signaling server: %w", err))
		return
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		close(c.keepaliveDone)
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	util.LogDebug("signaling channel open: %s", endpoint)
	c.emit(Opened{})

	if c.opts.PingInterval > 0 {
		go c.keepalive(conn)
	} else {
		close(c.keepaliveDone)
	}

	c.readLoop(conn)
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.emit(Closed{})
				return
			}
			c.fail(fmt.Errorf("signaling connection lost: %w", err))
			return
		}

		if mt != websocket.TextMessage {
			c.emit(Failed{Err: fmt.Errorf("%w: unexpected frame type %d", ErrMalformed, mt)})
			continue
		}

		msg, err := Decode(data)
		if err != nil {
			c.emit(Failed{Err: err})
			continue
		}

		switch msg.(type) {
		case Pong:
			c.pongReceived.Store(true)
		case Ping:
			if err := c.write(conn, Pong{}); err != nil {
				util.LogDebug("failed to answer relay ping: %v", err)
			}
		default:
			util.Stats.AddRecv()
			c.emit(Received{Message: msg})
		}
	}
}

// keepalive sends a ping every interval. A tick that finds the previous
// ping unanswered fails the channel.
func (c *Channel) keepalive(conn *websocket.Conn) {
	defer close(c.keepaliveDone)

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	c.pongReceived.Store(true)
	for {
		select {
		case <-ticker.C:
			if !c.pongReceived.CompareAndSwap(true, false) {
				c.fail(ErrPingTimeout)
				return
			}
			if err := c.write(conn, Ping{}); err != nil {
				c.fail(err)
				return
			}

		case <-c.closed:
			return
		}
	}
}
