package chat

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"ProjChat/logger"
	"ProjChat/module/chat/model"
)

// SessionState tracks the relay session lifecycle:
// Connecting -> Authenticated -> Joined* -> Closed.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const sendQueueSize = 256

// Session is one connected client transport. It owns the websocket
// write side (single writer pump) and records which contexts it joined
// so the close path can undo exactly what join did: one Rooms.Leave and
// one Presence.Disconnect per prior join, never more, never fewer.
type Session struct {
	id        string
	conn      *websocket.Conn
	createdAt time.Time

	state    atomic.Int32
	identity atomic.Pointer[model.Identity]

	mu     sync.Mutex
	joined map[string]model.ConversationContext

	sendQ     chan *Frame
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn) *Session {
	return &Session{
		id:        id,
		conn:      conn,
		createdAt: time.Now(),
		joined:    make(map[string]model.ConversationContext),
		sendQ:     make(chan *Frame, sendQueueSize),
		done:      make(chan struct{}),
	}
}

func (s *Session) SessionID() string { return s.id }

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// Identity returns the authenticated identity; zero before auth.
func (s *Session) Identity() model.Identity {
	if p := s.identity.Load(); p != nil {
		return *p
	}
	return model.Identity{}
}

func (s *Session) Authorized() bool {
	st := s.State()
	return st == StateAuthenticated || st == StateJoined
}

// authenticate moves Connecting -> Authenticated. The identity is
// immutable once assigned.
func (s *Session) authenticate(id model.Identity) error {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticated)) {
		return errors.New("session not in connecting state")
	}
	ident := id
	s.identity.Store(&ident)
	return nil
}

// addJoined records membership; returns false when already joined
// (join is idempotent).
func (s *Session) addJoined(ctx model.ConversationContext) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ctx.Key()
	if _, ok := s.joined[key]; ok {
		return false
	}
	s.joined[key] = ctx
	s.state.Store(int32(StateJoined))
	return true
}

// removeJoined drops membership; returns false when the context was not
// joined.
func (s *Session) removeJoined(ctx model.ConversationContext) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ctx.Key()
	if _, ok := s.joined[key]; !ok {
		return false
	}
	delete(s.joined, key)
	if len(s.joined) == 0 && s.State() != StateClosed {
		s.state.Store(int32(StateAuthenticated))
	}
	return true
}

func (s *Session) isJoined(ctx model.ConversationContext) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.joined[ctx.Key()]
	return ok
}

// snapshotJoined returns the joined contexts for the close path.
func (s *Session) snapshotJoined() []model.ConversationContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ConversationContext, 0, len(s.joined))
	for _, c := range s.joined {
		out = append(out, c)
	}
	return out
}

// markClosed flips to Closed exactly once; the first caller runs cleanup.
func (s *Session) markClosed() bool {
	first := false
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
		first = true
	})
	return first
}

// Deliver enqueues a frame for the write pump. Non-blocking: a full
// queue fails the delivery instead of stalling the broadcast path.
func (s *Session) Deliver(f *Frame) error {
	select {
	case <-s.done:
		return errors.New("session closed")
	default:
	}
	select {
	case s.sendQ <- f:
		return nil
	default:
		return errors.New("send queue full")
	}
}

// writePump is the only goroutine writing to the socket. It flushes the
// send queue and keeps the connection alive with pings; read deadline
// renewal happens in the pong handler set by the read side.
func (s *Session) writePump(pingInterval, writeWait time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case f := <-s.sendQ:
			data, err := f.Marshal()
			if err != nil {
				logger.Errorf("[session] marshal frame err session=%s err=%v", s.id, err)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Infof("[session] write err session=%s err=%v", s.id, err)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("ping"),
				time.Now().Add(writeWait)); err != nil {
				logger.Infof("[session] ping err session=%s err=%v", s.id, err)
				return
			}
		}
	}
}
