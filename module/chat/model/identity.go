package model

import (
	"fmt"
	"strings"
)

// IdentityKind distinguishes the two correspondent roles of a project
// conversation. A project pairs exactly one client with one provider.
type IdentityKind string

const (
	KindClient   IdentityKind = "client"
	KindProvider IdentityKind = "provider"
)

func (k IdentityKind) Valid() bool {
	return k == KindClient || k == KindProvider
}

// Identity uniquely addresses a correspondent. Immutable once assigned
// to a session.
type Identity struct {
	Kind IdentityKind `json:"kind" bson:"kind"`
	ID   string       `json:"id" bson:"id"`
}

func (i Identity) IsZero() bool {
	return i.Kind == "" && i.ID == ""
}

func (i Identity) Validate() error {
	if !i.Kind.Valid() {
		return fmt.Errorf("identity kind %q invalid", i.Kind)
	}
	if i.ID == "" {
		return fmt.Errorf("identity id empty")
	}
	// ids embed into ":"-joined routing keys, the separator is reserved
	if strings.Contains(i.ID, ":") {
		return fmt.Errorf("identity id %q contains ':'", i.ID)
	}
	return nil
}

// Key is the canonical map key for an identity, e.g. "client:42".
func (i Identity) Key() string {
	return string(i.Kind) + ":" + i.ID
}

// ParseIdentityKey is the inverse of Key.
func ParseIdentityKey(key string) (Identity, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok {
		return Identity{}, fmt.Errorf("identity key %q invalid", key)
	}
	ident := Identity{Kind: IdentityKind(kind), ID: id}
	if err := ident.Validate(); err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// Status is derived presence: online iff at least one live connection.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)
