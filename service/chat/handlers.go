package chat

import (
	"context"

	"ProjChat/logger"
	"ProjChat/module/chat/model"
	errs "ProjChat/tools/errs"
	security "ProjChat/tools/security"
)

// ---- auth ----

type authHandler struct{ s *Server }

func (h *authHandler) Type() FrameType { return FrameAuth }

// Handle verifies the handshake token and binds the identity to the
// session. An auth-stage fault closes the session (the returned error
// propagates to the read loop).
func (h *authHandler) Handle(sess *Session, f *Frame) error {
	p, err := ExtractPayload[AuthPayload](f)
	if err != nil || p.Token == "" {
		_ = sess.Deliver(BuildError(errs.CodeAuthFailed, "auth payload malformed"))
		return errs.ErrAuthFailed.WrapMsg("payload", "err", err)
	}
	claims, err := security.Verify(h.s.jwtOpts, p.Token)
	if err != nil {
		_ = sess.Deliver(BuildError(errs.CodeAuthFailed, "token rejected"))
		return errs.ErrAuthFailed.WrapMsg("verify", "err", err)
	}
	ident, err := model.ParseIdentityKey(claims.Subject())
	if err != nil {
		_ = sess.Deliver(BuildError(errs.CodeAuthFailed, "token subject invalid"))
		return errs.ErrAuthFailed.WrapMsg("subject", "err", err)
	}
	if err := sess.authenticate(ident); err != nil {
		_ = sess.Deliver(BuildError(errs.CodeAuthFailed, "already authenticated"))
		return errs.ErrAuthFailed.WrapMsg("state", "err", err)
	}
	logger.Infof("[auth] session=%s user=%s", sess.SessionID(), ident.Key())
	return sess.Deliver(BuildAuthAck(sess.SessionID(), ident))
}

// ---- join ----

type joinHandler struct{ s *Server }

func (h *joinHandler) Type() FrameType { return FrameJoin }

// Handle registers the session with the room router and the presence
// registry and replies with a counterpart status snapshot. A malformed
// context is a retryable protocol fault: the session stays
// Authenticated.
func (h *joinHandler) Handle(sess *Session, f *Frame) error {
	if !sess.Authorized() {
		_ = sess.Deliver(BuildError(errs.CodeAuthRequired, "join before auth"))
		return nil
	}
	p, err := ExtractPayload[JoinPayload](f)
	if err != nil {
		_ = sess.Deliver(BuildError(errs.CodeProtocolMalformed, "join payload malformed"))
		return nil
	}
	self, err := p.Self.Identity()
	if err != nil || self.Key() != sess.Identity().Key() {
		_ = sess.Deliver(BuildError(errs.CodeBadContext, "self identity mismatch"))
		return nil
	}
	counterpart, err := p.Counterpart.Identity()
	if err != nil {
		_ = sess.Deliver(BuildError(errs.CodeBadContext, "counterpart invalid"))
		return nil
	}
	conv := model.ConversationContext{ProjectID: p.ProjectID, A: self, B: counterpart}
	if err := conv.Validate(); err != nil {
		_ = sess.Deliver(BuildError(errs.CodeBadContext, err.Error()))
		return nil
	}

	// Idempotent: re-joining only refreshes the snapshot, membership and
	// the presence refcount move once per context.
	if sess.addJoined(conv) {
		h.s.rooms.Join(conv, sess)
		h.s.presence.Connect(self)
	}

	st := h.s.presence.StatusOf(counterpart)
	logger.Infof("[join] session=%s user=%s ctx=%s counterpart=%s status=%s",
		sess.SessionID(), self.Key(), conv.Key(), counterpart.Key(), st)
	return sess.Deliver(BuildJoined(conv, counterpart, st))
}

// ---- leave ----

type leaveHandler struct{ s *Server }

func (h *leaveHandler) Type() FrameType { return FrameLeave }

func (h *leaveHandler) Handle(sess *Session, f *Frame) error {
	if !sess.Authorized() {
		_ = sess.Deliver(BuildError(errs.CodeAuthRequired, "leave before auth"))
		return nil
	}
	p, err := ExtractPayload[LeavePayload](f)
	if err != nil {
		_ = sess.Deliver(BuildError(errs.CodeProtocolMalformed, "leave payload malformed"))
		return nil
	}
	counterpart, err := p.Counterpart.Identity()
	if err != nil {
		_ = sess.Deliver(BuildError(errs.CodeBadContext, "counterpart invalid"))
		return nil
	}
	conv := model.ConversationContext{ProjectID: p.ProjectID, A: sess.Identity(), B: counterpart}
	if err := conv.Validate(); err != nil {
		_ = sess.Deliver(BuildError(errs.CodeBadContext, err.Error()))
		return nil
	}
	if sess.removeJoined(conv) {
		h.s.rooms.Leave(conv, sess)
		if err := h.s.presence.Disconnect(sess.Identity()); err != nil {
			logger.Errorf("[leave] presence disconnect bug session=%s err=%v", sess.SessionID(), err)
		}
	}
	return nil
}

// ---- send ----

type sendHandler struct{ s *Server }

func (h *sendHandler) Type() FrameType { return FrameSend }

// Handle persists then fans out, in that order, always. A failed persist
// reaches only the originator as send_failed; nothing is broadcast. A
// failed delivery to one member after a successful persist is logged and
// never rolls the message back.
func (h *sendHandler) Handle(sess *Session, f *Frame) error {
	if !sess.Authorized() {
		_ = sess.Deliver(BuildError(errs.CodeAuthRequired, "send before auth"))
		return nil
	}
	p, err := ExtractPayload[SendPayload](f)
	if err != nil || p.Content == "" {
		_ = sess.Deliver(BuildError(errs.CodeProtocolMalformed, "send payload malformed"))
		return nil
	}
	counterpart, err := p.Counterpart.Identity()
	if err != nil {
		_ = sess.Deliver(BuildSendFailed(p.CallID, errs.CodeBadContext, "counterpart invalid"))
		return nil
	}
	conv := model.ConversationContext{ProjectID: p.ProjectID, A: sess.Identity(), B: counterpart}
	if err := conv.Validate(); err != nil {
		_ = sess.Deliver(BuildSendFailed(p.CallID, errs.CodeBadContext, err.Error()))
		return nil
	}
	if !sess.isJoined(conv) {
		_ = sess.Deliver(BuildSendFailed(p.CallID, errs.CodeBadContext, "not joined to context"))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.s.cfg.SendTimeout)
	defer cancel()
	msg, err := h.s.store.AppendMessage(ctx, conv, sess.Identity(), p.Content, p.AttachmentRef)
	if err != nil {
		logger.Errorf("[send] persist failed session=%s ctx=%s err=%v", sess.SessionID(), conv.Key(), err)
		_ = sess.Deliver(BuildSendFailed(p.CallID, errs.CodeStoreUnavailable, "persist failed"))
		return nil
	}

	delivered := h.s.rooms.Broadcast(conv, BuildNewMessage(msg), sess)
	logger.Infof("[send] msg=%s seq=%d ctx=%s delivered=%d", msg.ID, msg.Seq, conv.Key(), delivered)

	if err := sess.Deliver(BuildSendAck(p.CallID, msg)); err != nil {
		logger.Warnf("[send] ack deliver failed session=%s msg=%s err=%v", sess.SessionID(), msg.ID, err)
	}

	if h.s.bus != nil {
		if err := h.s.bus.PublishMessage(ctx, conv, msg); err != nil {
			logger.Warnf("[send] bus publish failed msg=%s err=%v", msg.ID, err)
		}
	}
	if h.s.archiver != nil {
		if err := h.s.archiver.Archive(msg); err != nil {
			logger.Warnf("[send] archive failed msg=%s err=%v", msg.ID, err)
		}
	}
	return nil
}

// ---- status query ----

type statusHandler struct{ s *Server }

func (h *statusHandler) Type() FrameType { return FrameStatusQuery }

// Handle is the out-of-band presence refresh: the reply goes only to the
// asking session.
func (h *statusHandler) Handle(sess *Session, f *Frame) error {
	if !sess.Authorized() {
		_ = sess.Deliver(BuildError(errs.CodeAuthRequired, "status query before auth"))
		return nil
	}
	p, err := ExtractPayload[StatusQueryPayload](f)
	if err != nil {
		_ = sess.Deliver(BuildError(errs.CodeProtocolMalformed, "status payload malformed"))
		return nil
	}
	ident, err := p.Identity.Identity()
	if err != nil {
		_ = sess.Deliver(BuildError(errs.CodeProtocolMalformed, "identity invalid"))
		return nil
	}
	return sess.Deliver(BuildPresenceChanged(ident, h.s.presence.StatusOf(ident)))
}
