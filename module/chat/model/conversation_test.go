package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextKeySymmetric(t *testing.T) {
	r := require.New(t)

	a := Identity{Kind: KindClient, ID: "7"}
	b := Identity{Kind: KindProvider, ID: "42"}

	ab := ConversationContext{ProjectID: "p1", A: a, B: b}
	ba := ConversationContext{ProjectID: "p1", A: b, B: a}

	r.Equal(ab.Key(), ba.Key())
	r.Equal("pc:dm:p1:client:7:provider:42", ab.Key())
}

func TestContextValidate(t *testing.T) {
	r := require.New(t)

	a := Identity{Kind: KindClient, ID: "7"}
	b := Identity{Kind: KindProvider, ID: "42"}

	r.NoError(ConversationContext{ProjectID: "p1", A: a, B: b}.Validate())
	r.Error(ConversationContext{ProjectID: "", A: a, B: b}.Validate())
	r.Error(ConversationContext{ProjectID: "p1", A: a, B: a}.Validate())
	r.Error(ConversationContext{ProjectID: "p1", A: a, B: Identity{Kind: "ghost", ID: "1"}}.Validate())
	// ":" is the routing-key separator, opaque ids may not carry it
	r.Error(ConversationContext{ProjectID: "p:1", A: a, B: b}.Validate())
	r.Error(ConversationContext{ProjectID: "p1", A: a, B: Identity{Kind: KindProvider, ID: "4:2"}}.Validate())
}

func TestContextCounterpart(t *testing.T) {
	r := require.New(t)

	a := Identity{Kind: KindClient, ID: "7"}
	b := Identity{Kind: KindProvider, ID: "42"}
	c := ConversationContext{ProjectID: "p1", A: a, B: b}

	got, ok := c.Counterpart(a)
	r.True(ok)
	r.Equal(b.Key(), got.Key())

	got, ok = c.Counterpart(b)
	r.True(ok)
	r.Equal(a.Key(), got.Key())

	_, ok = c.Counterpart(Identity{Kind: KindClient, ID: "other"})
	r.False(ok)

	r.True(c.Includes(a))
	r.False(c.Includes(Identity{Kind: KindProvider, ID: "99"}))
}

func TestParseContextKey(t *testing.T) {
	r := require.New(t)

	a := Identity{Kind: KindClient, ID: "7"}
	b := Identity{Kind: KindProvider, ID: "42"}
	key := ConversationContext{ProjectID: "p1", A: a, B: b}.Key()

	conv, err := ParseContextKey(key)
	r.NoError(err)
	r.Equal(key, conv.Key())
	r.Equal("p1", conv.ProjectID)

	_, err = ParseContextKey("pc:dm:short")
	r.Error(err)
	_, err = ParseContextKey("wrong:prefix:p1:client:7:provider:42")
	r.Error(err)
}

func TestParseIdentityKey(t *testing.T) {
	r := require.New(t)

	id, err := ParseIdentityKey("client:42")
	r.NoError(err)
	r.Equal(KindClient, id.Kind)
	r.Equal("42", id.ID)

	_, err = ParseIdentityKey("noseparator")
	r.Error(err)
	_, err = ParseIdentityKey("ghost:42")
	r.Error(err)
	_, err = ParseIdentityKey("client:")
	r.Error(err)
	// an embedded ":" would make Key() ambiguous to re-parse
	_, err = ParseIdentityKey("client:4:2")
	r.Error(err)
}

func TestProvisionalID(t *testing.T) {
	r := require.New(t)

	r.True(IsProvisionalID("prov-abc"))
	r.False(IsProvisionalID("1234567890"))
}
