package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ProjChat/global"
	"ProjChat/module/chat/model"
	errs "ProjChat/tools/errs"
	security "ProjChat/tools/security"
)

const testSecret = "unit-test-secret"

// fakeStore is an in-memory MessageStore with the same contract as the
// Mongo one: canonical ids, per-context seq, counterpart validation.
type fakeStore struct {
	mu         sync.Mutex
	seq        map[string]int64
	msgs       map[string][]*model.Message
	failAppend bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{seq: make(map[string]int64), msgs: make(map[string][]*model.Message)}
}

func (s *fakeStore) AppendMessage(_ context.Context, conv model.ConversationContext, sender model.Identity, content, attachmentRef string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend {
		return nil, errs.ErrStoreUnavailable.WrapMsg("down")
	}
	receiver, ok := conv.Counterpart(sender)
	if !ok {
		return nil, errs.ErrStoreRejected.WrapMsg("sender not in context")
	}
	key := conv.Key()
	s.seq[key]++
	m := &model.Message{
		ID:            fmt.Sprintf("msg-%s-%d", key, s.seq[key]),
		ContextKey:    key,
		ProjectID:     conv.ProjectID,
		Seq:           s.seq[key],
		Sender:        sender,
		Receiver:      receiver,
		Content:       content,
		AttachmentRef: attachmentRef,
		CreatedAt:     time.Now().UTC(),
	}
	s.msgs[key] = append(s.msgs[key], m)
	return m, nil
}

func (s *fakeStore) FetchTranscript(_ context.Context, conv model.ConversationContext) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Message(nil), s.msgs[conv.Key()]...), nil
}

func (s *fakeStore) count(conv model.ConversationContext) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs[conv.Key()])
}

func newTestServer(store MessageStore) *Server {
	cfg := &global.AppConfig{
		NodeID:      "test-node",
		JWTSecret:   testSecret,
		SendTimeout: time.Second,
	}
	return NewServer(cfg, store, nil, nil, nil)
}

func mintToken(t *testing.T, subject string) string {
	t.Helper()
	token, _, _, err := security.Generate(security.DefaultOptions([]byte(testSecret)), subject, nil)
	require.NoError(t, err)
	return token
}

// drain empties the session's send queue without blocking.
func drain(sess *Session) []*Frame {
	var out []*Frame
	for {
		select {
		case f := <-sess.sendQ:
			out = append(out, f)
		default:
			return out
		}
	}
}

func framesOfType(frames []*Frame, ft FrameType) []*Frame {
	var out []*Frame
	for _, f := range frames {
		if f.Type == ft {
			out = append(out, f)
		}
	}
	return out
}

func authedSession(t *testing.T, srv *Server, id string, ident model.Identity) *Session {
	t.Helper()
	sess := newSession(id, nil)
	srv.registerSession(sess)
	require.NoError(t, sess.authenticate(ident))
	return sess
}

func joinFrame(conv model.ConversationContext, self model.Identity) *Frame {
	counterpart, _ := conv.Counterpart(self)
	return &Frame{Type: FrameJoin, Payload: map[string]any{
		"project_id":  conv.ProjectID,
		"self":        map[string]any{"kind": string(self.Kind), "id": self.ID},
		"counterpart": map[string]any{"kind": string(counterpart.Kind), "id": counterpart.ID},
	}}
}

func sendFrame(conv model.ConversationContext, self model.Identity, callID, content string) *Frame {
	counterpart, _ := conv.Counterpart(self)
	return &Frame{Type: FrameSend, Payload: map[string]any{
		"call_id":     callID,
		"project_id":  conv.ProjectID,
		"counterpart": map[string]any{"kind": string(counterpart.Kind), "id": counterpart.ID},
		"content":     content,
	}}
}

// ---- auth ----

func TestAuthHandler(t *testing.T) {
	r := require.New(t)
	srv := newTestServer(newFakeStore())

	sess := newSession("s1", nil)
	f := &Frame{Type: FrameAuth, Payload: map[string]any{"token": mintToken(t, "client:7")}}
	r.NoError(srv.handlerFor(FrameAuth).Handle(sess, f))

	r.Equal(StateAuthenticated, sess.State())
	r.Equal("client:7", sess.Identity().Key())
	acks := framesOfType(drain(sess), FrameAuthAck)
	r.Len(acks, 1)
}

func TestAuthHandlerRejectsBadToken(t *testing.T) {
	r := require.New(t)
	srv := newTestServer(newFakeStore())

	sess := newSession("s1", nil)
	f := &Frame{Type: FrameAuth, Payload: map[string]any{"token": "garbage"}}
	err := srv.handlerFor(FrameAuth).Handle(sess, f)
	r.Error(err)
	r.Equal(errs.CodeAuthFailed, errs.CodeOf(err))
	r.Equal(StateConnecting, sess.State())
	r.Len(framesOfType(drain(sess), FrameError), 1)
}

func TestAuthHandlerRejectsSecondAuth(t *testing.T) {
	r := require.New(t)
	srv := newTestServer(newFakeStore())

	sess := newSession("s1", nil)
	f := &Frame{Type: FrameAuth, Payload: map[string]any{"token": mintToken(t, "client:7")}}
	r.NoError(srv.handlerFor(FrameAuth).Handle(sess, f))
	r.Error(srv.handlerFor(FrameAuth).Handle(sess, f))
}

// ---- join / leave ----

func TestJoinIdempotent(t *testing.T) {
	r := require.New(t)
	srv := newTestServer(newFakeStore())
	conv := testConv()

	sess := authedSession(t, srv, "s1", conv.A)
	jf := joinFrame(conv, conv.A)

	r.NoError(srv.handlerFor(FrameJoin).Handle(sess, jf))
	r.NoError(srv.handlerFor(FrameJoin).Handle(sess, jf))

	// membership and the presence refcount moved once; the snapshot
	// reply still arrives per request
	r.Len(srv.rooms.MembersOf(conv), 1)
	r.Equal(1, srv.presence.EntryOf(conv.A).ConnectionCount)
	r.Len(framesOfType(drain(sess), FrameJoined), 2)
	r.Equal(StateJoined, sess.State())
}

func TestJoinBeforeAuth(t *testing.T) {
	r := require.New(t)
	srv := newTestServer(newFakeStore())
	conv := testConv()

	sess := newSession("s1", nil)
	r.NoError(srv.handlerFor(FrameJoin).Handle(sess, joinFrame(conv, conv.A)))
	errsFrames := framesOfType(drain(sess), FrameError)
	r.Len(errsFrames, 1)
	r.Empty(srv.rooms.MembersOf(conv))
}

func TestJoinSelfMismatch(t *testing.T) {
	r := require.New(t)
	srv := newTestServer(newFakeStore())
	conv := testConv()

	// authenticated as the provider, claiming to join as the client
	sess := authedSession(t, srv, "s1", conv.B)
	r.NoError(srv.handlerFor(FrameJoin).Handle(sess, joinFrame(conv, conv.A)))
	r.Len(framesOfType(drain(sess), FrameError), 1)
	r.Empty(srv.rooms.MembersOf(conv))
	r.Equal(model.StatusOffline, srv.presence.StatusOf(conv.A))
}

func TestJoinedSnapshotCarriesCounterpartStatus(t *testing.T) {
	r := require.New(t)
	srv := newTestServer(newFakeStore())
	conv := testConv()

	provider := authedSession(t, srv, "s2", conv.B)
	r.NoError(srv.handlerFor(FrameJoin).Handle(provider, joinFrame(conv, conv.B)))

	client := authedSession(t, srv, "s1", conv.A)
	r.NoError(srv.handlerFor(FrameJoin).Handle(client, joinFrame(conv, conv.A)))

	joined := framesOfType(drain(client), FrameJoined)
	r.Len(joined, 1)
	p, err := ExtractPayload[JoinedPayload](joined[0])
	r.NoError(err)
	r.Equal("online", p.Status)
	r.Equal(conv.Key(), p.ContextKey)
}

func TestLeaveReleasesPresence(t *testing.T) {
	r := require.New(t)
	srv := newTestServer(newFakeStore())
	conv := testConv()

	sess := authedSession(t, srv, "s1", conv.A)
	r.NoError(srv.handlerFor(FrameJoin).Handle(sess, joinFrame(conv, conv.A)))
	r.Equal(model.StatusOnline, srv.presence.StatusOf(conv.A))

	lf := &Frame{Type: FrameLeave, Payload: map[string]any{
		"project_id":  conv.ProjectID,
		"counterpart": map[string]any{"kind": string(conv.B.Kind), "id": conv.B.ID},
	}}
	r.NoError(srv.handlerFor(FrameLeave).Handle(sess, lf))
	// leaving twice must not drive the refcount negative
	r.NoError(srv.handlerFor(FrameLeave).Handle(sess, lf))

	r.Equal(model.StatusOffline, srv.presence.StatusOf(conv.A))
	r.Empty(srv.rooms.MembersOf(conv))
	r.Equal(StateAuthenticated, sess.State())
}

// ---- send ----

func TestSendPersistsThenBroadcasts(t *testing.T) {
	r := require.New(t)
	store := newFakeStore()
	srv := newTestServer(store)
	conv := testConv()

	client := authedSession(t, srv, "s1", conv.A)
	provider := authedSession(t, srv, "s2", conv.B)
	r.NoError(srv.handlerFor(FrameJoin).Handle(client, joinFrame(conv, conv.A)))
	r.NoError(srv.handlerFor(FrameJoin).Handle(provider, joinFrame(conv, conv.B)))
	drain(client)
	drain(provider)

	r.NoError(srv.handlerFor(FrameSend).Handle(client, sendFrame(conv, conv.A, "c1", "hello")))

	// originator: ack only, never a broadcast copy
	clientFrames := drain(client)
	acks := framesOfType(clientFrames, FrameSendAck)
	r.Len(acks, 1)
	r.Empty(framesOfType(clientFrames, FrameNewMessage))

	ackPayload, err := ExtractPayload[MessagePayload](acks[0])
	r.NoError(err)
	r.Equal("c1", ackPayload.CallID)
	r.Equal(int64(1), ackPayload.Message.Seq)

	// counterpart: exactly one broadcast copy
	pushed := framesOfType(drain(provider), FrameNewMessage)
	r.Len(pushed, 1)

	// second message continues the per-context sequence
	r.NoError(srv.handlerFor(FrameSend).Handle(client, sendFrame(conv, conv.A, "c2", "again")))
	acks = framesOfType(drain(client), FrameSendAck)
	r.Len(acks, 1)
	ackPayload, err = ExtractPayload[MessagePayload](acks[0])
	r.NoError(err)
	r.Equal(int64(2), ackPayload.Message.Seq)
	r.Equal(2, store.count(conv))
}

func TestSendPersistFailureReachesOnlyOriginator(t *testing.T) {
	r := require.New(t)
	store := newFakeStore()
	srv := newTestServer(store)
	conv := testConv()

	client := authedSession(t, srv, "s1", conv.A)
	provider := authedSession(t, srv, "s2", conv.B)
	r.NoError(srv.handlerFor(FrameJoin).Handle(client, joinFrame(conv, conv.A)))
	r.NoError(srv.handlerFor(FrameJoin).Handle(provider, joinFrame(conv, conv.B)))
	drain(client)
	drain(provider)

	store.failAppend = true
	r.NoError(srv.handlerFor(FrameSend).Handle(client, sendFrame(conv, conv.A, "c1", "hello")))

	failed := framesOfType(drain(client), FrameSendFailed)
	r.Len(failed, 1)
	p, err := ExtractPayload[SendFailedPayload](failed[0])
	r.NoError(err)
	r.Equal("c1", p.CallID)
	r.Equal(errs.CodeStoreUnavailable, p.Code)

	// nothing was persisted, so nothing may reach the counterpart
	r.Empty(framesOfType(drain(provider), FrameNewMessage))
	r.Equal(0, store.count(conv))
}

func TestSendRequiresJoin(t *testing.T) {
	r := require.New(t)
	srv := newTestServer(newFakeStore())
	conv := testConv()

	sess := authedSession(t, srv, "s1", conv.A)
	r.NoError(srv.handlerFor(FrameSend).Handle(sess, sendFrame(conv, conv.A, "c1", "hello")))

	failed := framesOfType(drain(sess), FrameSendFailed)
	r.Len(failed, 1)
	p, err := ExtractPayload[SendFailedPayload](failed[0])
	r.NoError(err)
	r.Equal(errs.CodeBadContext, p.Code)
}

func TestSendEmptyContentRejected(t *testing.T) {
	r := require.New(t)
	srv := newTestServer(newFakeStore())
	conv := testConv()

	sess := authedSession(t, srv, "s1", conv.A)
	r.NoError(srv.handlerFor(FrameJoin).Handle(sess, joinFrame(conv, conv.A)))
	drain(sess)

	r.NoError(srv.handlerFor(FrameSend).Handle(sess, sendFrame(conv, conv.A, "c1", "")))
	r.Len(framesOfType(drain(sess), FrameError), 1)
}

// ---- status query ----

func TestStatusQueryRepliesOnlyToAsker(t *testing.T) {
	r := require.New(t)
	srv := newTestServer(newFakeStore())
	conv := testConv()

	client := authedSession(t, srv, "s1", conv.A)
	provider := authedSession(t, srv, "s2", conv.B)
	r.NoError(srv.handlerFor(FrameJoin).Handle(provider, joinFrame(conv, conv.B)))
	drain(provider)

	qf := &Frame{Type: FrameStatusQuery, Payload: map[string]any{
		"identity": map[string]any{"kind": string(conv.B.Kind), "id": conv.B.ID},
	}}
	r.NoError(srv.handlerFor(FrameStatusQuery).Handle(client, qf))

	replies := framesOfType(drain(client), FramePresenceChanged)
	r.Len(replies, 1)
	p, err := ExtractPayload[PresencePayload](replies[0])
	r.NoError(err)
	r.Equal("online", p.Status)
	r.Empty(framesOfType(drain(provider), FramePresenceChanged))
}

// ---- teardown ----

func TestTeardownPairsDisconnects(t *testing.T) {
	r := require.New(t)
	srv := newTestServer(newFakeStore())
	conv := testConv()

	other := model.ConversationContext{
		ProjectID: "p2",
		A:         conv.A,
		B:         model.Identity{Kind: model.KindProvider, ID: "43"},
	}

	sess := authedSession(t, srv, "s1", conv.A)
	r.NoError(srv.handlerFor(FrameJoin).Handle(sess, joinFrame(conv, conv.A)))
	r.NoError(srv.handlerFor(FrameJoin).Handle(sess, joinFrame(other, conv.A)))
	r.Equal(2, srv.presence.EntryOf(conv.A).ConnectionCount)

	srv.teardown(sess, "test")
	r.Equal(model.StatusOffline, srv.presence.StatusOf(conv.A))
	r.Empty(srv.rooms.Contexts())
	r.Equal(0, srv.SessionCount())
	r.Equal(StateClosed, sess.State())

	// a second close of the same session must not disconnect again
	srv.teardown(sess, "test")
	r.Equal(0, srv.presence.EntryOf(conv.A).ConnectionCount)
}

func TestTwoTabsOneDisconnectStaysOnline(t *testing.T) {
	r := require.New(t)
	srv := newTestServer(newFakeStore())
	conv := testConv()

	tab1 := authedSession(t, srv, "s1", conv.A)
	tab2 := authedSession(t, srv, "s2", conv.A)
	r.NoError(srv.handlerFor(FrameJoin).Handle(tab1, joinFrame(conv, conv.A)))
	r.NoError(srv.handlerFor(FrameJoin).Handle(tab2, joinFrame(conv, conv.A)))

	srv.teardown(tab1, "test")
	r.Equal(model.StatusOnline, srv.presence.StatusOf(conv.A))

	srv.teardown(tab2, "test")
	r.Equal(model.StatusOffline, srv.presence.StatusOf(conv.A))
}
