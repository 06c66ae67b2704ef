// Package session owns the persistent websocket channel to the chat service:
// connect/authenticate/reconnect lifecycle, FIFO command delivery, and
// in-order fan-out of inbound events to registered handlers.
package session

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"emberchat/internal/protocol"
)

type State string

const (
	StateDisconnected   State = "Disconnected"
	StateConnecting     State = "Connecting"
	StateAuthenticating State = "Authenticating"
	StateLive           State = "Live"
	StateReconnecting   State = "Reconnecting"
)

// ErrConnectionLost is reported when the transport drops underneath an
// authenticated session.
var ErrConnectionLost = errors.New("connection lost")

// Handler receives every inbound event exactly once, in arrival order.
type Handler func(protocol.Event)

type Options struct {
	// URL is the websocket endpoint, e.g. ws://127.0.0.1:8081/ws.
	URL string

	// AutoReconnect schedules a single reconnect attempt with the last
	// known token when a Live connection drops.
	AutoReconnect  bool
	ReconnectDelay time.Duration

	// OnConnectionLost is invoked (from the read loop goroutine) when the
	// transport drops and, if reconnecting, the attempt fails too.
	OnConnectionLost func(err error)

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

type handlerEntry struct {
	id int
	fn Handler
}

type Conn struct {
	opts Options

	mu       sync.Mutex
	ws       *websocket.Conn
	state    State
	token    string
	queue    [][]byte
	closed   bool
	retrying bool

	handlers  []handlerEntry
	handlerID int
}

func New(opts Options) *Conn {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	return &Conn{
		opts:  opts,
		state: StateDisconnected,
	}
}

// Subscribe registers an event handler and returns its disposal func.
// Handlers run on the read loop goroutine, in registration order.
func (c *Conn) Subscribe(h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlerID++
	id := c.handlerID
	c.handlers = append(c.handlers, handlerEntry{id: id, fn: h})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, entry := range c.handlers {
			if entry.id == id {
				c.handlers = append(c.handlers[:i], c.handlers[i+1:]...)
				return
			}
		}
	}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the chat service and immediately sends the Authenticate
// command. The session is Live once the server answers Authenticated.
func (c *Conn) Connect(token string) error {
	c.mu.Lock()
	if c.ws != nil {
		c.mu.Unlock()
		return errors.New("session already connected")
	}
	c.closed = false
	c.token = token
	c.state = StateConnecting
	c.mu.Unlock()

	return c.dialAndAuthenticate(token)
}

func (c *Conn) dialAndAuthenticate(token string) error {
	ws, _, err := c.opts.Dialer.Dial(c.opts.URL, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	frame, err := protocol.EncodeCommand(protocol.Authenticate{Token: token})
	if err != nil {
		ws.Close()
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.closed {
		// Disconnect landed while the dial was in flight; it wins.
		c.mu.Unlock()
		ws.Close()
		return nil
	}
	c.ws = ws
	c.state = StateAuthenticating
	writeErr := ws.WriteMessage(websocket.TextMessage, frame)
	c.mu.Unlock()

	if writeErr != nil {
		ws.Close()
		c.mu.Lock()
		if c.ws == ws {
			c.ws = nil
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return writeErr
	}

	go c.readLoop(ws)
	return nil
}

// Send transmits a command immediately when Live; otherwise the frame is
// queued and flushed, in issuance order, once authentication completes.
func (c *Conn) Send(cmd protocol.Command) error {
	frame, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateLive {
		c.queue = append(c.queue, frame)
		log.Printf("[SESSION] Queued %s command (state: %s, queue: %d)", cmd.CommandKind(), c.state, len(c.queue))
		return nil
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Disconnect closes the channel idempotently. It always wins over a pending
// reconnect attempt.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.state = StateDisconnected
	c.queue = nil
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleDrop(ws, err)
			return
		}

		evt, err := protocol.DecodeEvent(data)
		if err != nil {
			// Unknown or malformed frames never crash the loop.
			log.Printf("[SESSION] Dropping undecodable frame: %v", err)
			continue
		}

		if _, ok := evt.(protocol.AuthenticatedEvent); ok {
			c.markLive(ws)
		}

		for _, entry := range c.snapshotHandlers() {
			entry.fn(evt)
		}
	}
}

func (c *Conn) snapshotHandlers() []handlerEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]handlerEntry(nil), c.handlers...)
}

// markLive flushes the command queue accumulated during connection setup.
func (c *Conn) markLive(ws *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws != ws || c.state != StateAuthenticating {
		return
	}
	c.state = StateLive

	for _, frame := range c.queue {
		if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("[SESSION] Flush failed: %v", err)
			break
		}
	}
	c.queue = nil
	log.Printf("[SESSION] Live")
}

func (c *Conn) handleDrop(ws *websocket.Conn, cause error) {
	c.mu.Lock()

	if c.closed || c.ws != ws {
		// Explicit disconnect or a stale loop from before a reconnect.
		c.mu.Unlock()
		return
	}

	wasLive := c.state == StateLive
	c.ws.Close()
	c.ws = nil

	if wasLive && c.opts.AutoReconnect && !c.retrying {
		c.retrying = true
		c.state = StateReconnecting
		token := c.token
		c.mu.Unlock()

		log.Printf("[SESSION] Connection lost (%v), reconnecting in %s", cause, c.opts.ReconnectDelay)
		go c.reconnect(token)
		return
	}

	c.state = StateDisconnected
	c.mu.Unlock()

	log.Printf("[SESSION] Connection lost: %v", cause)
	c.notifyLost(cause)
}

// reconnect makes exactly one attempt with the last known token. Only one
// attempt is ever in flight, and an explicit Disconnect aborts it.
func (c *Conn) reconnect(token string) {
	time.Sleep(c.opts.ReconnectDelay)

	c.mu.Lock()
	if c.closed {
		c.retrying = false
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	err := c.dialAndAuthenticate(token)

	c.mu.Lock()
	c.retrying = false
	c.mu.Unlock()

	if err != nil {
		log.Printf("[SESSION] Reconnect failed: %v", err)
		c.notifyLost(ErrConnectionLost)
	}
}

func (c *Conn) notifyLost(err error) {
	if c.opts.OnConnectionLost != nil {
		c.opts.OnConnectionLost(err)
	}
}
