package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// State of a realtime connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

var errSessionClosed = errors.New("session closed")

// session is one live connection. Outbound frames go through send and are
// written by the session's writer goroutine only.
type session struct {
	id        string
	userID    int64
	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
}

func newSession(id string, userID int64, conn Conn, buffer int) *session {
	s := &session{
		id:     id,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
	s.setState(StateAuthenticated)
	return s
}

func (s *session) State() State     { return State(s.state.Load()) }
func (s *session) setState(v State) { s.state.Store(int32(v)) }

// enqueue queues frame for writing. It fails when the session is closed or
// ctx ends before there is room in the queue.
func (s *session) enqueue(ctx context.Context, frame []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return errSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
