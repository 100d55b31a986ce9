package chat

import (
	"context"
	"sync"
	"time"

	"ProjChat/global"
	"ProjChat/logger"
	"ProjChat/module/chat/model"
	security "ProjChat/tools/security"
)

// MessageStore is the durable store contract. AppendMessage assigns the
// canonical id and per-context seq; FetchTranscript returns an empty
// slice, never an error, for a context with no history.
type MessageStore interface {
	AppendMessage(ctx context.Context, conv model.ConversationContext, sender model.Identity, content, attachmentRef string) (*model.Message, error)
	FetchTranscript(ctx context.Context, conv model.ConversationContext) ([]*model.Message, error)
}

// EventBus republishes local events to peer relay nodes.
type EventBus interface {
	PublishMessage(ctx context.Context, conv model.ConversationContext, m *model.Message) error
	PublishPresence(ctx context.Context, id model.Identity, st model.Status) error
}

// Archiver mirrors persisted messages onto the archive pipeline.
type Archiver interface {
	Archive(m *model.Message) error
}

// Handler processes one inbound frame type.
type Handler interface {
	Type() FrameType
	Handle(s *Session, f *Frame) error
}

// Server is the relay: it owns the Presence registry and Room router
// singletons and mediates every session's access to them.
type Server struct {
	cfg  *global.AppConfig
	node string

	presence *Presence
	rooms    *Rooms
	store    MessageStore
	bus      EventBus // nil when single-node
	archiver Archiver // nil when archiving disabled

	jwtOpts security.Options

	mu       sync.RWMutex
	sessions map[string]*Session

	disp map[FrameType]Handler
}

func NewServer(cfg *global.AppConfig, store MessageStore, mirror PresenceMirror, bus EventBus, archiver Archiver) *Server {
	s := &Server{
		cfg:      cfg,
		node:     cfg.NodeID,
		presence: NewPresence(mirror),
		rooms:    NewRooms(),
		store:    store,
		bus:      bus,
		archiver: archiver,
		jwtOpts:  security.DefaultOptions([]byte(cfg.JWTSecret)),
		sessions: make(map[string]*Session),
		disp:     make(map[FrameType]Handler),
	}

	for _, h := range []Handler{
		&authHandler{s: s},
		&joinHandler{s: s},
		&leaveHandler{s: s},
		&sendHandler{s: s},
		&statusHandler{s: s},
	} {
		s.disp[h.Type()] = h
	}

	// Presence transitions fan out to every joined counterpart session;
	// the bus republish leaves the watcher's critical section first.
	s.presence.AddWatcher(func(ev PresenceEvent) {
		go s.rooms.FanoutPresence(ev.Identity, ev.Status)
		if s.bus != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := s.bus.PublishPresence(ctx, ev.Identity, ev.Status); err != nil {
					logger.Warnf("[server] bus presence publish failed identity=%s err=%v", ev.Identity.Key(), err)
				}
			}()
		}
	})

	return s
}

func (s *Server) Presence() *Presence { return s.presence }
func (s *Server) Rooms() *Rooms       { return s.rooms }
func (s *Server) Store() MessageStore { return s.store }
func (s *Server) NodeID() string      { return s.node }

func (s *Server) handlerFor(t FrameType) Handler {
	return s.disp[t]
}

func (s *Server) registerSession(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.SessionID()] = sess
	s.mu.Unlock()
}

func (s *Server) removeSession(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.SessionID())
	s.mu.Unlock()
}

func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// teardown runs the Closed-entry cleanup exactly once per session: one
// Rooms.Leave and one Presence.Disconnect per prior join. An underflow
// here is a session-cleanup bug and is logged loudly rather than hidden.
func (s *Server) teardown(sess *Session, reason string) {
	if !sess.markClosed() {
		return
	}
	for _, conv := range sess.snapshotJoined() {
		s.rooms.Leave(conv, sess)
		if err := s.presence.Disconnect(sess.Identity()); err != nil {
			logger.Errorf("[server] presence disconnect bug session=%s ctx=%s err=%v",
				sess.SessionID(), conv.Key(), err)
		}
	}
	s.removeSession(sess)
	logger.Infof("[server] session closed session=%s user=%s reason=%s",
		sess.SessionID(), sess.Identity().Key(), reason)
}

// RemoteBroadcast delivers a message that was persisted by a peer node
// to local members of the context.
func (s *Server) RemoteBroadcast(conv model.ConversationContext, m *model.Message) {
	n := s.rooms.Broadcast(conv, BuildNewMessage(m), nil)
	logger.Debugf("[server] remote broadcast ctx=%s msg=%s delivered=%d", conv.Key(), m.ID, n)
}

// RemotePresence applies a presence transition observed on a peer node.
func (s *Server) RemotePresence(id model.Identity, st model.Status) {
	s.rooms.FanoutPresence(id, st)
}
