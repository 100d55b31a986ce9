package model

import (
	"strings"
	"time"
)

const MsgTableName = "messages"

// Message is one immutable chat message. ID is assigned by the durable
// store at persistence time; Seq is the per-context monotonic sequence
// that defines the canonical transcript order.
type Message struct {
	ID            string    `json:"id" bson:"_id"`
	ContextKey    string    `json:"context_key" bson:"context_key"`
	ProjectID     string    `json:"project_id" bson:"project_id"`
	Seq           int64     `json:"seq" bson:"seq"`
	Sender        Identity  `json:"sender" bson:"sender"`
	Receiver      Identity  `json:"receiver" bson:"receiver"`
	Content       string    `json:"content" bson:"content"`
	AttachmentRef string    `json:"attachment_ref,omitempty" bson:"attachment_ref,omitempty"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
}

// Provisional ids carry this prefix so they can never collide with a
// store-assigned snowflake id.
const ProvisionalPrefix = "prov-"

func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// PresenceEntry is the registry's view of one correspondent.
// Status is derived: online iff ConnectionCount > 0.
type PresenceEntry struct {
	Identity        Identity `json:"identity"`
	ConnectionCount int      `json:"connection_count"`
	Status          Status   `json:"status"`
}
