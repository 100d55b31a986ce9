package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"ProjChat/module/chat/model"
	decode "ProjChat/tools/decode"
)

// FrameType tags every frame on the wire (JSON text messages).
type FrameType string

const (
	// client -> relay
	FrameAuth        FrameType = "auth"
	FrameJoin        FrameType = "join"
	FrameLeave       FrameType = "leave"
	FrameSend        FrameType = "send"
	FrameStatusQuery FrameType = "status_query"

	// relay -> client
	FrameConnAck         FrameType = "conn_ack"
	FrameAuthAck         FrameType = "auth_ack"
	FrameJoined          FrameType = "joined"
	FrameNewMessage      FrameType = "new_message"
	FramePresenceChanged FrameType = "presence_changed"
	FrameSendAck         FrameType = "send_ack"
	FrameSendFailed      FrameType = "send_failed"
	FrameError           FrameType = "error"
)

// Frame is the wire envelope. Payload stays a dynamic map; typed payloads
// are decoded on demand through tools/decode.
type Frame struct {
	Type    FrameType      `json:"type"`
	Ts      int64          `json:"ts,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	frame := &Frame{}
	if err := json.Unmarshal(raw, frame); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if frame.Type == "" {
		return nil, fmt.Errorf("frame type missing")
	}
	return frame, nil
}

func (f *Frame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

// ---- inbound payloads ----

type AuthPayload struct {
	Token string `json:"token"`
}

type IdentityRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (r IdentityRef) Identity() (model.Identity, error) {
	id := model.Identity{Kind: model.IdentityKind(r.Kind), ID: r.ID}
	if err := id.Validate(); err != nil {
		return model.Identity{}, err
	}
	return id, nil
}

type JoinPayload struct {
	ProjectID   string      `json:"project_id"`
	Self        IdentityRef `json:"self"`
	Counterpart IdentityRef `json:"counterpart"`
}

type LeavePayload struct {
	ProjectID   string      `json:"project_id"`
	Counterpart IdentityRef `json:"counterpart"`
}

type SendPayload struct {
	CallID        string      `json:"call_id"` // client call id, acked back verbatim
	ProjectID     string      `json:"project_id"`
	Counterpart   IdentityRef `json:"counterpart"`
	Content       string      `json:"content"`
	AttachmentRef string      `json:"attachment_ref,omitempty"`
}

type StatusQueryPayload struct {
	Identity IdentityRef `json:"identity"`
}

func ExtractPayload[T any](f *Frame) (*T, error) {
	if f == nil || f.Payload == nil {
		return nil, fmt.Errorf("frame payload is nil")
	}
	return decode.DecodeMap[T](f.Payload)
}

// ---- server push builders ----

func BuildConnAck(sessionID, nodeID string) *Frame {
	return &Frame{
		Type: FrameConnAck,
		Ts:   time.Now().UnixMilli(),
		Payload: map[string]any{
			"session_id": sessionID,
			"node_id":    nodeID,
		},
	}
}

func BuildAuthAck(sessionID string, id model.Identity) *Frame {
	return &Frame{
		Type: FrameAuthAck,
		Ts:   time.Now().UnixMilli(),
		Payload: map[string]any{
			"session_id": sessionID,
			"identity":   map[string]any{"kind": string(id.Kind), "id": id.ID},
		},
	}
}

// BuildJoined carries the status snapshot of the counterpart taken at
// join time.
func BuildJoined(ctx model.ConversationContext, counterpart model.Identity, st model.Status) *Frame {
	return &Frame{
		Type: FrameJoined,
		Ts:   time.Now().UnixMilli(),
		Payload: map[string]any{
			"context_key": ctx.Key(),
			"project_id":  ctx.ProjectID,
			"counterpart": map[string]any{"kind": string(counterpart.Kind), "id": counterpart.ID},
			"status":      string(st),
		},
	}
}

func messageMap(m *model.Message) map[string]any {
	out := map[string]any{
		"id":          m.ID,
		"context_key": m.ContextKey,
		"project_id":  m.ProjectID,
		"seq":         m.Seq,
		"sender":      map[string]any{"kind": string(m.Sender.Kind), "id": m.Sender.ID},
		"receiver":    map[string]any{"kind": string(m.Receiver.Kind), "id": m.Receiver.ID},
		"content":     m.Content,
		"created_at":  m.CreatedAt.UnixMilli(),
	}
	if m.AttachmentRef != "" {
		out["attachment_ref"] = m.AttachmentRef
	}
	return out
}

func BuildNewMessage(m *model.Message) *Frame {
	return &Frame{
		Type:    FrameNewMessage,
		Ts:      time.Now().UnixMilli(),
		Payload: map[string]any{"message": messageMap(m)},
	}
}

func BuildPresenceChanged(id model.Identity, st model.Status) *Frame {
	return &Frame{
		Type: FramePresenceChanged,
		Ts:   time.Now().UnixMilli(),
		Payload: map[string]any{
			"identity": map[string]any{"kind": string(id.Kind), "id": id.ID},
			"status":   string(st),
		},
	}
}

func BuildSendAck(callID string, m *model.Message) *Frame {
	return &Frame{
		Type: FrameSendAck,
		Ts:   time.Now().UnixMilli(),
		Payload: map[string]any{
			"call_id": callID,
			"message": messageMap(m),
		},
	}
}

// BuildSendFailed is scoped to the originating session only.
func BuildSendFailed(callID string, code int, reason string) *Frame {
	return &Frame{
		Type: FrameSendFailed,
		Ts:   time.Now().UnixMilli(),
		Payload: map[string]any{
			"call_id": callID,
			"code":    code,
			"reason":  reason,
		},
	}
}

func BuildError(code int, reason string) *Frame {
	return &Frame{
		Type: FrameError,
		Ts:   time.Now().UnixMilli(),
		Payload: map[string]any{
			"code":   code,
			"reason": reason,
		},
	}
}

// MessagePayload is the typed view of new_message / send_ack payloads;
// the client decodes into this.
type MessagePayload struct {
	CallID  string     `json:"call_id"`
	Message WireMessage `json:"message"`
}

// WireMessage mirrors model.Message with a millisecond timestamp, which
// is what actually travels in frame payloads.
type WireMessage struct {
	ID            string      `json:"id"`
	ContextKey    string      `json:"context_key"`
	ProjectID     string      `json:"project_id"`
	Seq           int64       `json:"seq"`
	Sender        IdentityRef `json:"sender"`
	Receiver      IdentityRef `json:"receiver"`
	Content       string      `json:"content"`
	AttachmentRef string      `json:"attachment_ref"`
	CreatedAt     int64       `json:"created_at"`
}

func (w WireMessage) Model() (*model.Message, error) {
	sender, err := w.Sender.Identity()
	if err != nil {
		return nil, err
	}
	receiver, err := w.Receiver.Identity()
	if err != nil {
		return nil, err
	}
	return &model.Message{
		ID:            w.ID,
		ContextKey:    w.ContextKey,
		ProjectID:     w.ProjectID,
		Seq:           w.Seq,
		Sender:        sender,
		Receiver:      receiver,
		Content:       w.Content,
		AttachmentRef: w.AttachmentRef,
		CreatedAt:     time.UnixMilli(w.CreatedAt),
	}, nil
}

// PresencePayload is the typed view of presence_changed payloads.
type PresencePayload struct {
	Identity IdentityRef `json:"identity"`
	Status   string      `json:"status"`
}

// JoinedPayload is the typed view of the joined snapshot.
type JoinedPayload struct {
	ContextKey  string      `json:"context_key"`
	ProjectID   string      `json:"project_id"`
	Counterpart IdentityRef `json:"counterpart"`
	Status      string      `json:"status"`
}

// SendFailedPayload is the typed view of send_failed.
type SendFailedPayload struct {
	CallID string `json:"call_id"`
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}
