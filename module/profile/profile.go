package profile

import (
	"context"

	"ProjChat/module/chat/model"
)

// Profile is the directory record behind a chat identity. The relay only
// needs enough to render a conversation header; account management lives
// in a separate system.
type Profile struct {
	Identity    model.Identity `json:"identity"`
	DisplayName string         `json:"display_name"`
	AvatarRef   string         `json:"avatar_ref,omitempty"`
	AccountKind string         `json:"account_kind"`
}

// Resolver looks up the directory record for an identity.
type Resolver interface {
	Resolve(ctx context.Context, id model.Identity) (*Profile, error)
}
