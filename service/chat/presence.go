package chat

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"ProjChat/logger"
	"ProjChat/module/chat/model"
	errs "ProjChat/tools/errs"
)

const presenceShards = 32

// PresenceEvent is emitted on every online/offline transition.
type PresenceEvent struct {
	Identity model.Identity
	Status   model.Status
}

// PresenceWatcher receives transition events. Watchers run under the
// shard lock and must not block.
type PresenceWatcher func(ev PresenceEvent)

// PresenceMirror is the optional cross-node view (Redis) written through
// on every transition.
type PresenceMirror interface {
	SetOnline(ctx context.Context, identityKey string) error
	SetOffline(ctx context.Context, identityKey string) error
}

type presenceShard struct {
	mu      sync.RWMutex
	entries map[string]*model.PresenceEntry
}

// Presence is the process-wide source of truth for "is X online".
// A correspondent may hold several live sessions (two tabs), so the
// state is a refcount per identity, not a per-session flag.
type Presence struct {
	shards [presenceShards]*presenceShard

	wmu      sync.RWMutex
	watchers map[int64]PresenceWatcher
	nextWID  int64

	mirror PresenceMirror
}

func NewPresence(mirror PresenceMirror) *Presence {
	p := &Presence{
		watchers: make(map[int64]PresenceWatcher),
		mirror:   mirror,
	}
	for i := range p.shards {
		p.shards[i] = &presenceShard{entries: make(map[string]*model.PresenceEntry)}
	}
	return p
}

func (p *Presence) shardOf(key string) *presenceShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return p.shards[h.Sum32()%presenceShards]
}

// Connect increments the identity's connection count; a 0->1 transition
// marks the identity online and emits a presence event.
func (p *Presence) Connect(id model.Identity) {
	key := id.Key()
	sh := p.shardOf(key)

	sh.mu.Lock()
	e, ok := sh.entries[key]
	if !ok {
		e = &model.PresenceEntry{Identity: id, Status: model.StatusOffline}
		sh.entries[key] = e
	}
	e.ConnectionCount++
	transitioned := e.ConnectionCount == 1
	if transitioned {
		e.Status = model.StatusOnline
	}
	if transitioned {
		p.emit(PresenceEvent{Identity: id, Status: model.StatusOnline})
	}
	sh.mu.Unlock()

	if transitioned {
		p.mirrorWrite(key, model.StatusOnline)
	}
}

// Disconnect decrements the count; a 1->0 transition marks offline and
// emits a presence event. Decrementing below zero is a logic error in
// session cleanup and is rejected, never clamped.
func (p *Presence) Disconnect(id model.Identity) error {
	key := id.Key()
	sh := p.shardOf(key)

	sh.mu.Lock()
	e, ok := sh.entries[key]
	if !ok || e.ConnectionCount <= 0 {
		sh.mu.Unlock()
		return errs.ErrPresenceUnderflow.WrapMsg("disconnect", "identity", key)
	}
	e.ConnectionCount--
	transitioned := e.ConnectionCount == 0
	if transitioned {
		e.Status = model.StatusOffline
		delete(sh.entries, key)
		p.emit(PresenceEvent{Identity: id, Status: model.StatusOffline})
	}
	sh.mu.Unlock()

	if transitioned {
		p.mirrorWrite(key, model.StatusOffline)
	}
	return nil
}

// StatusOf never blocks and defaults to offline for never-seen identities.
func (p *Presence) StatusOf(id model.Identity) model.Status {
	key := id.Key()
	sh := p.shardOf(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if e, ok := sh.entries[key]; ok && e.ConnectionCount > 0 {
		return model.StatusOnline
	}
	return model.StatusOffline
}

// EntryOf returns a copy of the registry entry for diagnostics.
func (p *Presence) EntryOf(id model.Identity) model.PresenceEntry {
	key := id.Key()
	sh := p.shardOf(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if e, ok := sh.entries[key]; ok {
		return *e
	}
	return model.PresenceEntry{Identity: id, Status: model.StatusOffline}
}

// OnlineKeys snapshots every identity currently online; feeds the
// mirror TTL refresh loop.
func (p *Presence) OnlineKeys() []string {
	out := make([]string, 0, 32)
	for _, sh := range p.shards {
		sh.mu.RLock()
		for k, e := range sh.entries {
			if e.ConnectionCount > 0 {
				out = append(out, k)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// AddWatcher registers a transition watcher and returns a token for removal.
func (p *Presence) AddWatcher(w PresenceWatcher) int64 {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	p.nextWID++
	p.watchers[p.nextWID] = w
	return p.nextWID
}

func (p *Presence) RemoveWatcher(token int64) {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	delete(p.watchers, token)
}

// emit runs while the shard lock is held so transitions for one identity
// reach watchers in order.
func (p *Presence) emit(ev PresenceEvent) {
	p.wmu.RLock()
	defer p.wmu.RUnlock()
	for _, w := range p.watchers {
		w(ev)
	}
}

func (p *Presence) mirrorWrite(key string, st model.Status) {
	if p.mirror == nil {
		return
	}
	// Mirror writes stay off the hot path; failures degrade cross-node
	// visibility only, the local registry remains authoritative.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var err error
		if st == model.StatusOnline {
			err = p.mirror.SetOnline(ctx, key)
		} else {
			err = p.mirror.SetOffline(ctx, key)
		}
		if err != nil {
			logger.Warnf("[presence] mirror write failed identity=%s status=%s err=%v", key, st, err)
		}
	}()
}
