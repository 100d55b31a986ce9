package chat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"ProjChat/module/chat/model"
	errs "ProjChat/tools/errs"
)

func ident(kind model.IdentityKind, id string) model.Identity {
	return model.Identity{Kind: kind, ID: id}
}

func TestPresenceRefcount(t *testing.T) {
	r := require.New(t)
	p := NewPresence(nil)
	a := ident(model.KindClient, "7")

	r.Equal(model.StatusOffline, p.StatusOf(a))

	// two tabs, one identity: online until the last one drops
	p.Connect(a)
	p.Connect(a)
	r.Equal(model.StatusOnline, p.StatusOf(a))
	r.Equal(2, p.EntryOf(a).ConnectionCount)

	r.NoError(p.Disconnect(a))
	r.Equal(model.StatusOnline, p.StatusOf(a))

	r.NoError(p.Disconnect(a))
	r.Equal(model.StatusOffline, p.StatusOf(a))
}

func TestPresenceUnderflow(t *testing.T) {
	r := require.New(t)
	p := NewPresence(nil)
	a := ident(model.KindClient, "7")

	err := p.Disconnect(a)
	r.Error(err)
	r.Equal(errs.CodePresenceUnderflow, errs.CodeOf(err))

	p.Connect(a)
	r.NoError(p.Disconnect(a))
	// count never goes negative, the second disconnect is rejected
	err = p.Disconnect(a)
	r.Error(err)
	r.Equal(errs.CodePresenceUnderflow, errs.CodeOf(err))
	r.Equal(0, p.EntryOf(a).ConnectionCount)
}

func TestPresenceWatcherTransitionsOnly(t *testing.T) {
	r := require.New(t)
	p := NewPresence(nil)
	a := ident(model.KindProvider, "42")

	var mu sync.Mutex
	var events []PresenceEvent
	p.AddWatcher(func(ev PresenceEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	p.Connect(a) // 0->1 online
	p.Connect(a) // no event
	r.NoError(p.Disconnect(a))
	r.NoError(p.Disconnect(a)) // 1->0 offline

	mu.Lock()
	defer mu.Unlock()
	r.Len(events, 2)
	r.Equal(model.StatusOnline, events[0].Status)
	r.Equal(model.StatusOffline, events[1].Status)
	r.Equal(a.Key(), events[0].Identity.Key())
}

func TestPresenceWatcherRemove(t *testing.T) {
	r := require.New(t)
	p := NewPresence(nil)
	a := ident(model.KindClient, "1")

	fired := 0
	token := p.AddWatcher(func(PresenceEvent) { fired++ })
	p.Connect(a)
	p.RemoveWatcher(token)
	r.NoError(p.Disconnect(a))

	r.Equal(1, fired)
}

func TestPresenceOnlineKeys(t *testing.T) {
	r := require.New(t)
	p := NewPresence(nil)

	a := ident(model.KindClient, "7")
	b := ident(model.KindProvider, "42")
	p.Connect(a)
	p.Connect(b)
	r.ElementsMatch([]string{a.Key(), b.Key()}, p.OnlineKeys())

	r.NoError(p.Disconnect(b))
	r.ElementsMatch([]string{a.Key()}, p.OnlineKeys())
}
