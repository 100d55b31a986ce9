package model

import (
	"fmt"
	"sort"
	"strings"
)

// ConversationContext is the addressable scope of a room: one project
// plus the pair of correspondents talking about it. (A,B) and (B,A)
// name the same context.
type ConversationContext struct {
	ProjectID string   `json:"project_id" bson:"project_id"`
	A         Identity `json:"a" bson:"a"`
	B         Identity `json:"b" bson:"b"`
}

func (c ConversationContext) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project id empty")
	}
	if strings.Contains(c.ProjectID, ":") {
		return fmt.Errorf("project id %q contains ':'", c.ProjectID)
	}
	if err := c.A.Validate(); err != nil {
		return fmt.Errorf("identity a: %w", err)
	}
	if err := c.B.Validate(); err != nil {
		return fmt.Errorf("identity b: %w", err)
	}
	if c.A.Key() == c.B.Key() {
		return fmt.Errorf("correspondents identical")
	}
	return nil
}

// Key is the canonical routing key; identity order is normalized so both
// correspondents derive the same key.
func (c ConversationContext) Key() string {
	p := []string{c.A.Key(), c.B.Key()}
	sort.Strings(p)
	return fmt.Sprintf("pc:dm:%s:%s:%s", c.ProjectID, p[0], p[1])
}

// Includes reports whether id is one of the two correspondents.
func (c ConversationContext) Includes(id Identity) bool {
	return c.A.Key() == id.Key() || c.B.Key() == id.Key()
}

// Counterpart returns the other correspondent of id, or false when id is
// not part of the context.
func (c ConversationContext) Counterpart(id Identity) (Identity, bool) {
	switch id.Key() {
	case c.A.Key():
		return c.B, true
	case c.B.Key():
		return c.A, true
	}
	return Identity{}, false
}

// ParseContextKey rebuilds a context from its canonical key. Used by the
// inter-node bus where only the key travels on the subject envelope.
func ParseContextKey(key string) (ConversationContext, error) {
	rest, ok := strings.CutPrefix(key, "pc:dm:")
	if !ok {
		return ConversationContext{}, fmt.Errorf("context key %q invalid", key)
	}
	// project:kindA:idA:kindB:idB
	parts := strings.SplitN(rest, ":", 5)
	if len(parts) != 5 {
		return ConversationContext{}, fmt.Errorf("context key %q invalid", key)
	}
	a, err := ParseIdentityKey(parts[1] + ":" + parts[2])
	if err != nil {
		return ConversationContext{}, err
	}
	b, err := ParseIdentityKey(parts[3] + ":" + parts[4])
	if err != nil {
		return ConversationContext{}, err
	}
	c := ConversationContext{ProjectID: parts[0], A: a, B: b}
	if err := c.Validate(); err != nil {
		return ConversationContext{}, err
	}
	return c, nil
}
