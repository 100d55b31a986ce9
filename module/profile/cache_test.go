package profile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ProjChat/module/chat/model"
	errs "ProjChat/tools/errs"
)

type stubResolver struct {
	calls int
	p     *Profile
	err   error
}

func (s *stubResolver) Resolve(context.Context, model.Identity) (*Profile, error) {
	s.calls++
	return s.p, s.err
}

func TestCachedResolverNotFoundYieldsPlaceholder(t *testing.T) {
	r := require.New(t)
	id := model.Identity{Kind: model.KindProvider, ID: "42"}
	inner := &stubResolver{err: errs.ErrProfileNotFound.WrapMsg("resolve")}
	cr := NewCachedResolver(inner, time.Minute)

	// an identity with no directory record still renders
	p, err := cr.Resolve(context.Background(), id)
	r.NoError(err)
	r.Equal(id.Key(), p.DisplayName)
	r.Equal(string(id.Kind), p.AccountKind)
}

func TestCachedResolverDirectoryDownYieldsPlaceholder(t *testing.T) {
	r := require.New(t)
	id := model.Identity{Kind: model.KindClient, ID: "7"}
	inner := &stubResolver{err: errs.ErrStoreUnavailable.WrapMsg("pg down")}
	cr := NewCachedResolver(inner, time.Minute)

	p, err := cr.Resolve(context.Background(), id)
	r.NoError(err)
	r.Equal(id.Key(), p.DisplayName)
}

func TestCachedResolverCachesHits(t *testing.T) {
	r := require.New(t)
	id := model.Identity{Kind: model.KindClient, ID: "7"}
	inner := &stubResolver{p: &Profile{Identity: id, DisplayName: "Ada", AccountKind: "client"}}
	cr := NewCachedResolver(inner, time.Minute)

	p1, err := cr.Resolve(context.Background(), id)
	r.NoError(err)
	p2, err := cr.Resolve(context.Background(), id)
	r.NoError(err)
	r.Equal("Ada", p1.DisplayName)
	r.Equal("Ada", p2.DisplayName)
	r.Equal(1, inner.calls)
}

func TestCachedResolverDoesNotCachePlaceholders(t *testing.T) {
	r := require.New(t)
	id := model.Identity{Kind: model.KindProvider, ID: "42"}
	inner := &stubResolver{err: errs.ErrProfileNotFound.WrapMsg("resolve")}
	cr := NewCachedResolver(inner, time.Minute)

	_, err := cr.Resolve(context.Background(), id)
	r.NoError(err)

	// the record shows up later, the next lookup must see it
	inner.err = nil
	inner.p = &Profile{Identity: id, DisplayName: "Grace", AccountKind: "provider"}
	p, err := cr.Resolve(context.Background(), id)
	r.NoError(err)
	r.Equal("Grace", p.DisplayName)
	r.Equal(2, inner.calls)
}
