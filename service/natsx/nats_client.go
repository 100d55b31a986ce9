package natsx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"ProjChat/logger"
	"ProjChat/module/chat/model"
)

// Subjects for the relay event bus. Every relay node publishes its local
// events and subscribes to everyone else's; envelopes carry the origin
// node so a node can skip its own traffic.
const (
	SubjectMessages = "projchat.relay.messages"
	SubjectPresence = "projchat.relay.presence"
)

type MessageEnvelope struct {
	Origin     string         `json:"origin"`
	ContextKey string         `json:"context_key"`
	Message    *model.Message `json:"message"`
}

type PresenceEnvelope struct {
	Origin   string         `json:"origin"`
	Identity model.Identity `json:"identity"`
	Status   model.Status   `json:"status"`
}

// Manager is the slim relay bus over core NATS. At-least-once overall
// delivery is carried by the durable store + client dedup, so plain
// pub/sub is enough here.
type Manager struct {
	nc   *nats.Conn
	node string
}

func NewManager(url, node string) (*Manager, error) {
	nc, err := nats.Connect(url,
		nats.Name("projchat-relay-"+node),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnf("[natsx] disconnected err=%v", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infof("[natsx] reconnected url=%s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	return &Manager{nc: nc, node: node}, nil
}

func (m *Manager) Close() {
	if m.nc != nil {
		m.nc.Close()
	}
}

func (m *Manager) PublishMessage(_ context.Context, conv model.ConversationContext, msg *model.Message) error {
	b, err := json.Marshal(MessageEnvelope{Origin: m.node, ContextKey: conv.Key(), Message: msg})
	if err != nil {
		return errors.Wrap(err, "marshal message envelope")
	}
	return m.nc.Publish(SubjectMessages, b)
}

func (m *Manager) PublishPresence(_ context.Context, id model.Identity, st model.Status) error {
	b, err := json.Marshal(PresenceEnvelope{Origin: m.node, Identity: id, Status: st})
	if err != nil {
		return errors.Wrap(err, "marshal presence envelope")
	}
	return m.nc.Publish(SubjectPresence, b)
}

// SubscribeMessages delivers peer-node messages; own traffic is skipped.
func (m *Manager) SubscribeMessages(h func(conv model.ConversationContext, msg *model.Message)) error {
	_, err := m.nc.Subscribe(SubjectMessages, func(natsMsg *nats.Msg) {
		var env MessageEnvelope
		if err := json.Unmarshal(natsMsg.Data, &env); err != nil {
			logger.Warnf("[natsx] bad message envelope err=%v", err)
			return
		}
		if env.Origin == m.node || env.Message == nil {
			return
		}
		conv, err := model.ParseContextKey(env.ContextKey)
		if err != nil {
			logger.Warnf("[natsx] bad context key key=%s err=%v", env.ContextKey, err)
			return
		}
		h(conv, env.Message)
	})
	return errors.Wrap(err, "subscribe messages")
}

// SubscribePresence delivers peer-node presence transitions.
func (m *Manager) SubscribePresence(h func(id model.Identity, st model.Status)) error {
	_, err := m.nc.Subscribe(SubjectPresence, func(natsMsg *nats.Msg) {
		var env PresenceEnvelope
		if err := json.Unmarshal(natsMsg.Data, &env); err != nil {
			logger.Warnf("[natsx] bad presence envelope err=%v", err)
			return
		}
		if env.Origin == m.node {
			return
		}
		h(env.Identity, env.Status)
	})
	return errors.Wrap(err, "subscribe presence")
}
