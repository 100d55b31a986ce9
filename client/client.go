package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ProjChat/logger"
	"ProjChat/module/chat/model"
	"ProjChat/module/profile"
	"ProjChat/service/chat"
	errs "ProjChat/tools/errs"
)

// Config wires one Conversation to a relay node.
type Config struct {
	RelayURL string // ws://host/chat
	HTTPURL  string // http://host, transcript fetch
	Token    string
	Self     model.Identity

	CallTimeout  time.Duration // per-submit ack wait
	WriteWait    time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func (c *Config) norm() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
}

type callResult struct {
	msg    *model.Message
	code   int
	reason string
	failed bool
}

// Conversation is the client side of one two-party context: it keeps the
// local transcript, tracks the counterpart's presence and survives relay
// reconnects by re-issuing the join and re-fetching history.
type Conversation struct {
	cfg  Config
	conv model.ConversationContext

	transcript *Transcript

	// optional push callbacks; invoked from the read loop, keep them fast
	OnMessage  func(m *model.Message)
	OnPresence func(id model.Identity, st model.Status)

	wmu sync.Mutex
	ws  *websocket.Conn

	joined  atomic.Bool
	status  atomic.Value // model.Status of the counterpart
	readyCh chan struct{}
	readyMu sync.Mutex

	pmu     sync.Mutex
	pending map[string]chan callResult

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial starts a Conversation. Connecting happens in the background; use
// WaitReady to block until the join handshake completes.
func Dial(cfg Config, projectID string, counterpart model.Identity) (*Conversation, error) {
	cfg.norm()
	conv := model.ConversationContext{ProjectID: projectID, A: cfg.Self, B: counterpart}
	if err := conv.Validate(); err != nil {
		return nil, err
	}

	c := &Conversation{
		cfg:        cfg,
		conv:       conv,
		transcript: NewTranscript(),
		readyCh:    make(chan struct{}),
		pending:    make(map[string]chan callResult),
		done:       make(chan struct{}),
	}
	c.status.Store(model.StatusOffline)

	c.wg.Add(1)
	go c.runLoop()
	return c, nil
}

func (c *Conversation) Transcript() *Transcript { return c.transcript }
func (c *Conversation) Context() model.ConversationContext { return c.conv }

// CounterpartStatus never blocks; it reflects the latest snapshot or
// push the relay delivered.
func (c *Conversation) CounterpartStatus() model.Status {
	return c.status.Load().(model.Status)
}

// Connected reports whether the join handshake currently holds.
func (c *Conversation) Connected() bool { return c.joined.Load() }

// WaitReady blocks until the conversation is joined or ctx expires.
func (c *Conversation) WaitReady(ctx context.Context) error {
	c.readyMu.Lock()
	ch := c.readyCh
	c.readyMu.Unlock()
	select {
	case <-ch:
		return nil
	case <-c.done:
		return errs.ErrTransportClosed.WrapMsg("conversation closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the conversation down; safe to call twice.
func (c *Conversation) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wmu.Lock()
		if c.ws != nil {
			_ = c.ws.Close()
		}
		c.wmu.Unlock()
	})
	c.wg.Wait()
}

// Submit sends one message. The entry appears in the transcript as
// pending immediately; it fails right away when the relay link is down
// rather than queueing into an uncertain future.
func (c *Conversation) Submit(content, attachmentRef string) (*model.Message, error) {
	callID := uuid.NewString()
	counterpart, _ := c.conv.Counterpart(c.cfg.Self)
	prov := &model.Message{
		ID:            model.ProvisionalPrefix + uuid.NewString(),
		ContextKey:    c.conv.Key(),
		ProjectID:     c.conv.ProjectID,
		Sender:        c.cfg.Self,
		Receiver:      counterpart,
		Content:       content,
		AttachmentRef: attachmentRef,
		CreatedAt:     time.Now().UTC(),
	}
	c.transcript.AppendPending(callID, prov)

	if !c.joined.Load() {
		c.transcript.Fail(callID, errs.CodeTransportClosed, "not connected")
		return nil, errs.ErrTransportClosed.WrapMsg("submit", "call", callID)
	}

	resCh := make(chan callResult, 1)
	c.pmu.Lock()
	c.pending[callID] = resCh
	c.pmu.Unlock()
	defer func() {
		c.pmu.Lock()
		delete(c.pending, callID)
		c.pmu.Unlock()
	}()

	f := &chat.Frame{
		Type: chat.FrameSend,
		Ts:   time.Now().UnixMilli(),
		Payload: map[string]any{
			"call_id":        callID,
			"project_id":     c.conv.ProjectID,
			"counterpart":    map[string]any{"kind": string(counterpart.Kind), "id": counterpart.ID},
			"content":        content,
			"attachment_ref": attachmentRef,
		},
	}
	if err := c.writeFrame(f); err != nil {
		c.transcript.Fail(callID, errs.CodeTransportClosed, "write failed")
		return nil, errs.ErrTransportClosed.WrapMsg("submit write", "err", err)
	}

	select {
	case res := <-resCh:
		if res.failed {
			return nil, errs.NewCodeError(res.code, res.reason)
		}
		return res.msg, nil
	case <-time.After(c.cfg.CallTimeout):
		c.transcript.Fail(callID, errs.CodeTransportTimeout, "ack timeout")
		return nil, errs.ErrTransportTimeout.WrapMsg("submit", "call", callID)
	case <-c.done:
		c.transcript.Fail(callID, errs.CodeTransportClosed, "conversation closed")
		return nil, errs.ErrTransportClosed.WrapMsg("submit", "call", callID)
	}
}

// QueryStatus asks the relay for a fresh presence snapshot; the answer
// arrives as a presence_changed push.
func (c *Conversation) QueryStatus(id model.Identity) error {
	if !c.joined.Load() {
		return errs.ErrTransportClosed.WrapMsg("status query")
	}
	return c.writeFrame(&chat.Frame{
		Type: chat.FrameStatusQuery,
		Ts:   time.Now().UnixMilli(),
		Payload: map[string]any{
			"identity": map[string]any{"kind": string(id.Kind), "id": id.ID},
		},
	})
}

// ===== connection lifecycle =====

func (c *Conversation) runLoop() {
	defer c.wg.Done()

	backoff := c.cfg.ReconnectMin
	for {
		select {
		case <-c.done:
			return
		default:
		}

		ws, err := c.dialOnce()
		if err != nil {
			logger.Warnf("[client] dial failed ctx=%s err=%v", c.conv.Key(), err)
			select {
			case <-time.After(backoff):
			case <-c.done:
				return
			}
			backoff = backoff * 2
			if backoff > c.cfg.ReconnectMax {
				backoff = c.cfg.ReconnectMax
			}
			continue
		}
		backoff = c.cfg.ReconnectMin

		c.readLoop(ws) // blocks until the connection drops

		c.joined.Store(false)
		c.failAllPending(errs.CodeTransportClosed, "connection lost")
		c.resetReady()

		select {
		case <-c.done:
			return
		default:
			logger.Infof("[client] reconnecting ctx=%s", c.conv.Key())
		}
	}
}

func (c *Conversation) dialOnce() (*websocket.Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(c.cfg.RelayURL, nil)
	if err != nil {
		return nil, err
	}
	c.wmu.Lock()
	c.ws = ws
	c.wmu.Unlock()

	// handshake starts with auth; join follows the auth_ack in readLoop
	err = c.writeFrame(&chat.Frame{
		Type:    chat.FrameAuth,
		Ts:      time.Now().UnixMilli(),
		Payload: map[string]any{"token": c.cfg.Token},
	})
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	return ws, nil
}

func (c *Conversation) writeFrame(f *chat.Frame) error {
	raw, err := f.Marshal()
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.ws == nil {
		return errs.ErrTransportClosed.WrapMsg("no connection")
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

func (c *Conversation) readLoop(ws *websocket.Conn) {
	defer ws.Close()
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			logger.Debugf("[client] read loop exit ctx=%s err=%v", c.conv.Key(), err)
			return
		}
		f, err := chat.ParseFrameJSON(raw)
		if err != nil {
			logger.Warnf("[client] bad frame err=%v", err)
			continue
		}
		c.dispatch(f)
	}
}

func (c *Conversation) dispatch(f *chat.Frame) {
	switch f.Type {
	case chat.FrameAuthAck:
		counterpart, _ := c.conv.Counterpart(c.cfg.Self)
		err := c.writeFrame(&chat.Frame{
			Type: chat.FrameJoin,
			Ts:   time.Now().UnixMilli(),
			Payload: map[string]any{
				"project_id":  c.conv.ProjectID,
				"self":        map[string]any{"kind": string(c.cfg.Self.Kind), "id": c.cfg.Self.ID},
				"counterpart": map[string]any{"kind": string(counterpart.Kind), "id": counterpart.ID},
			},
		})
		if err != nil {
			logger.Warnf("[client] join write failed err=%v", err)
		}

	case chat.FrameJoined:
		p, err := chat.ExtractPayload[chat.JoinedPayload](f)
		if err != nil {
			logger.Warnf("[client] bad joined payload err=%v", err)
			return
		}
		c.status.Store(model.Status(p.Status))
		c.joined.Store(true)
		c.markReady()
		// history reconcile off the read loop; live pushes dedupe anyway
		go c.refreshTranscript()

	case chat.FrameNewMessage:
		p, err := chat.ExtractPayload[chat.MessagePayload](f)
		if err != nil {
			logger.Warnf("[client] bad message payload err=%v", err)
			return
		}
		m, err := p.Message.Model()
		if err != nil {
			logger.Warnf("[client] bad wire message err=%v", err)
			return
		}
		if c.transcript.AppendIncoming(m) && c.OnMessage != nil {
			c.OnMessage(m)
		}

	case chat.FrameSendAck:
		p, err := chat.ExtractPayload[chat.MessagePayload](f)
		if err != nil {
			logger.Warnf("[client] bad ack payload err=%v", err)
			return
		}
		m, err := p.Message.Model()
		if err != nil {
			logger.Warnf("[client] bad ack message err=%v", err)
			return
		}
		c.transcript.Confirm(p.CallID, m)
		c.signal(p.CallID, callResult{msg: m})

	case chat.FrameSendFailed:
		p, err := chat.ExtractPayload[chat.SendFailedPayload](f)
		if err != nil {
			logger.Warnf("[client] bad send_failed payload err=%v", err)
			return
		}
		c.transcript.Fail(p.CallID, p.Code, p.Reason)
		c.signal(p.CallID, callResult{failed: true, code: p.Code, reason: p.Reason})

	case chat.FramePresenceChanged:
		p, err := chat.ExtractPayload[chat.PresencePayload](f)
		if err != nil {
			logger.Warnf("[client] bad presence payload err=%v", err)
			return
		}
		ident, err := p.Identity.Identity()
		if err != nil {
			return
		}
		st := model.Status(p.Status)
		if counterpart, ok := c.conv.Counterpart(c.cfg.Self); ok && counterpart.Key() == ident.Key() {
			c.status.Store(st)
		}
		if c.OnPresence != nil {
			c.OnPresence(ident, st)
		}

	case chat.FrameError:
		logger.Warnf("[client] relay error frame payload=%v", f.Payload)

	case chat.FrameConnAck:
		// informational
	}
}

func (c *Conversation) signal(callID string, res callResult) {
	c.pmu.Lock()
	ch, ok := c.pending[callID]
	c.pmu.Unlock()
	if ok {
		select {
		case ch <- res:
		default:
		}
	}
}

func (c *Conversation) failAllPending(code int, reason string) {
	c.pmu.Lock()
	chans := make(map[string]chan callResult, len(c.pending))
	for id, ch := range c.pending {
		chans[id] = ch
	}
	c.pmu.Unlock()
	for id, ch := range chans {
		c.transcript.Fail(id, code, reason)
		select {
		case ch <- callResult{failed: true, code: code, reason: reason}:
		default:
		}
	}
}

func (c *Conversation) markReady() {
	c.readyMu.Lock()
	select {
	case <-c.readyCh:
	default:
		close(c.readyCh)
	}
	c.readyMu.Unlock()
}

func (c *Conversation) resetReady() {
	c.readyMu.Lock()
	select {
	case <-c.readyCh:
		c.readyCh = make(chan struct{})
	default:
	}
	c.readyMu.Unlock()
}

// ===== history fetch =====

type transcriptResp struct {
	ContextKey string           `json:"context_key"`
	Messages   []*model.Message `json:"messages"`
}

func (c *Conversation) refreshTranscript() {
	counterpart, _ := c.conv.Counterpart(c.cfg.Self)
	q := url.Values{}
	q.Set("project", c.conv.ProjectID)
	q.Set("kind", string(counterpart.Kind))
	q.Set("id", counterpart.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.HTTPURL+"/transcript?"+q.Encode(), nil)
	if err != nil {
		logger.Warnf("[client] transcript request build failed err=%v", err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Warnf("[client] transcript fetch failed ctx=%s err=%v", c.conv.Key(), err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Warnf("[client] transcript fetch status=%d ctx=%s", resp.StatusCode, c.conv.Key())
		return
	}

	var body transcriptResp
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		logger.Warnf("[client] transcript decode failed err=%v", err)
		return
	}
	c.transcript.LoadHistory(body.Messages)
	logger.Debugf("[client] transcript reconciled ctx=%s n=%d", c.conv.Key(), len(body.Messages))
}

// CounterpartProfile resolves the directory record for the conversation
// header. Lookup faults never surface here: a missing profile and an
// unreachable directory both degrade to a placeholder so rendering
// keeps working.
func (c *Conversation) CounterpartProfile(ctx context.Context) (*profile.Profile, error) {
	counterpart, _ := c.conv.Counterpart(c.cfg.Self)
	q := url.Values{}
	q.Set("kind", string(counterpart.Kind))
	q.Set("id", counterpart.ID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.HTTPURL+"/profile?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Warnf("[client] profile fetch failed identity=%s err=%v", counterpart.Key(), err)
		return profile.Placeholder(counterpart), nil
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var p profile.Profile
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return profile.Placeholder(counterpart), nil
		}
		return &p, nil
	case http.StatusNotFound:
		return profile.Placeholder(counterpart), nil
	default:
		logger.Warnf("[client] profile fetch status=%d identity=%s", resp.StatusCode, counterpart.Key())
		return profile.Placeholder(counterpart), nil
	}
}
