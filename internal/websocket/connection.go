package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeBufferSize     = 100
	defaultWriteTimeout = 5 * time.Second
)

// Connection wraps one dashboard WebSocket subscribed to a session's roster
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions,
// so every write goes through writeCh and a single writer goroutine
type Connection struct {
	id        string
	conn      *websocket.Conn
	writeCh   chan []byte
	teacherID string
	sessionID string

	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection creates a connection bound to sessionID and starts its writer
func NewConnection(conn *websocket.Conn, sessionID, teacherID string) *Connection {
	return newConnection(conn, sessionID, teacherID, defaultWriteTimeout)
}

func newConnection(conn *websocket.Conn, sessionID, teacherID string, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		writeCh:      make(chan []byte, writeBufferSize),
		teacherID:    teacherID,
		sessionID:    sessionID,
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop is the only goroutine writing data frames to the socket.
// writeCh is never closed, so WriteJSON cannot panic on a send after exit.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for delivery
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close stops the writer and closes the socket. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection has been closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) ID() string        { return c.id }
func (c *Connection) TeacherID() string { return c.teacherID }
func (c *Connection) SessionID() string { return c.sessionID }
