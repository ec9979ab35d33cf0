// Package transport implements the WebSocket-based bidirectional message
// stream shared by the coordinator, workers, and clients. It is built
// around gorilla/websocket, generalizing the same Hub/Client/read-write-pump
// shape the dashboard package uses for its one-way stats push into a
// symmetric, two-way connection that carries protocol.Message envelopes.
package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cyxwiz-lab/hybridbuild/internal/protocol"
)

// frame is a queued outbound WebSocket frame, tagged with its wire type so
// the write pump never has to guess text vs binary from content.
type frame struct {
	wsType int
	data   []byte
}

// Subprotocol is the WebSocket subprotocol name negotiated by both sides.
const Subprotocol = "cyxmake-distributed"

const (
	// DefaultSendQueueDepth is the default bound on a connection's outbound
	// message queue.
	DefaultSendQueueDepth = 64
	// DefaultMaxFrameBytes is the default maximum frame size accepted on a
	// connection (64 MiB).
	DefaultMaxFrameBytes = 64 * 1024 * 1024

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
)

// ErrWouldBlock is returned by Send when the connection's outbound queue is
// full; the caller observes backpressure instead of blocking.
var ErrWouldBlock = errors.New("transport: send queue full")

// ErrClosed is returned by Send once the connection has been closed.
var ErrClosed = errors.New("transport: connection closed")

// ErrorKind classifies errors surfaced through OnError.
type ErrorKind string

const (
	ErrorKindOversize ErrorKind = "TransportOversize"
	ErrorKindProtocol ErrorKind = "ProtocolParse"
	ErrorKindIO       ErrorKind = "IOError"
)

// ConnError is the value passed to a Connection's OnError callback.
type ConnError struct {
	Kind ErrorKind
	Err  error
}

func (e *ConnError) Error() string { return string(e.Kind) + ": " + e.Err.Error() }

// State is the lifecycle state of a Connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateError
)

// Connection wraps one *websocket.Conn with a bounded outbound queue and
// read/write pump goroutines. A single writer goroutine per connection
// preserves per-connection send ordering; there is no cross-connection
// ordering guarantee.
type Connection struct {
	ID     string
	conn   *websocket.Conn
	log    zerolog.Logger
	send   chan frame
	maxLen int64

	OnMessage    func(*Connection, *protocol.Message)
	OnDisconnect func(*Connection, string)
	OnError      func(*Connection, *ConnError)

	mu     sync.Mutex
	state  State
	closed bool

	pendingText *protocol.Message // awaiting a companion binary frame
}

// NewConnection wraps an already-established websocket connection.
func NewConnection(id string, conn *websocket.Conn, log zerolog.Logger, sendQueueDepth int, maxFrameBytes int64) *Connection {
	if sendQueueDepth <= 0 {
		sendQueueDepth = DefaultSendQueueDepth
	}
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	c := &Connection{
		ID:     id,
		conn:   conn,
		log:    log.With().Str("conn_id", id).Logger(),
		send:   make(chan frame, sendQueueDepth),
		maxLen: maxFrameBytes,
		state:  StateConnected,
	}
	conn.SetReadLimit(maxFrameBytes)
	return c
}

// Start launches the read and write pumps. It blocks until the connection
// closes.
func (c *Connection) Start() {
	go c.writePump()
	c.readPump()
}

// Send enqueues a message for delivery. It never blocks: if the outbound
// queue is full, ErrWouldBlock is returned immediately.
func (c *Connection) Send(msg *protocol.Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case c.send <- frame{wsType: websocket.TextMessage, data: data}:
	default:
		return ErrWouldBlock
	}

	if msg.Binary != nil {
		select {
		case c.send <- frame{wsType: websocket.BinaryMessage, data: msg.Binary}:
		default:
			return ErrWouldBlock
		}
	}
	return nil
}

// Close closes the underlying connection and stops its pumps.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateClosing
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Connection) readPump() {
	defer func() {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.conn.Close()
		if c.OnDisconnect != nil {
			c.OnDisconnect(c, "read-closed")
		}
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.raiseError(ErrorKindIO, err)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			c.handleTextFrame(data)
		case websocket.BinaryMessage:
			c.handleBinaryFrame(data)
		}
	}
}

func (c *Connection) handleTextFrame(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		var parseErr *protocol.ParseError
		if errors.As(err, &parseErr) && parseErr.Len > int(c.maxLen) {
			c.raiseError(ErrorKindOversize, err)
		} else {
			c.raiseError(ErrorKindProtocol, err)
		}
		return
	}

	if msg.HasBinary {
		c.mu.Lock()
		c.pendingText = msg
		c.mu.Unlock()
		return
	}

	if c.OnMessage != nil {
		c.OnMessage(c, msg)
	}
}

func (c *Connection) handleBinaryFrame(data []byte) {
	c.mu.Lock()
	pending := c.pendingText
	c.pendingText = nil
	c.mu.Unlock()

	if pending == nil {
		// Binary frame with no preceding has_binary text frame: protocol
		// violation, drop it rather than dispatch a malformed message.
		c.raiseError(ErrorKindProtocol, errors.New("binary frame without preceding text frame"))
		return
	}

	pending.Binary = data
	if c.OnMessage != nil {
		c.OnMessage(c, pending)
	}
}

func (c *Connection) raiseError(kind ErrorKind, err error) {
	if c.OnError != nil {
		c.OnError(c, &ConnError{Kind: kind, Err: err})
	} else {
		c.log.Warn().Err(err).Str("kind", string(kind)).Msg("transport error")
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(f.wsType, f.data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
