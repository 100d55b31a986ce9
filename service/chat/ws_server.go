package chat

import (
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ProjChat/logger"
	errs "ProjChat/tools/errs"
	"ProjChat/tools/ids"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const maxFrameBytes = 1 << 20 // 1MB

// HandleWS upgrades the connection and runs the session read loop.
// Every reconnect lands here as a fresh Connecting session; the relay
// never resumes prior state.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed err=%v", err)
		return
	}

	sess := newSession(ids.GenerateString(), ws)
	s.registerSession(sess)
	go sess.writePump(s.cfg.PingInterval, s.cfg.WriteWait)
	defer s.teardown(sess, "read loop exit")

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	// Unauthenticated sessions get a bounded grace period, then the
	// socket is cut and the normal close path runs.
	authTimer := time.AfterFunc(s.cfg.UnauthTTL, func() {
		if !sess.Authorized() {
			logger.Infof("[ws] unauth ttl expired session=%s", sess.SessionID())
			_ = ws.Close()
		}
	})
	defer authTimer.Stop()

	if err := sess.Deliver(BuildConnAck(sess.SessionID(), s.node)); err != nil {
		logger.Warnf("[ws] conn ack deliver failed session=%s err=%v", sess.SessionID(), err)
	}

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed session=%s err=%v", sess.SessionID(), rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout session=%s err=%v", sess.SessionID(), rerr)
			} else {
				logger.Infof("[ws] read err session=%s err=%v", sess.SessionID(), rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := ParseFrameJSON(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Warnf("[ws] parse frame err session=%s err=%v sample=%q", sess.SessionID(), perr, sample)
			_ = sess.Deliver(BuildError(errs.CodeProtocolMalformed, "malformed frame"))
			continue
		}

		h := s.handlerFor(frame.Type)
		if h == nil {
			logger.Infof("[ws] no handler session=%s type=%s", sess.SessionID(), frame.Type)
			continue
		}
		if err := h.Handle(sess, frame); err != nil {
			// Only auth-stage faults propagate here; they close the session.
			logger.Infof("[ws] fatal frame err session=%s type=%s err=%v", sess.SessionID(), frame.Type, err)
			return
		}
	}
}
