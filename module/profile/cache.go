package profile

import (
	"context"
	"sync"
	"time"

	"ProjChat/logger"
	"ProjChat/module/chat/model"
	errs "ProjChat/tools/errs"
)

// CachedResolver fronts the directory with a small TTL cache so a busy
// conversation does not hammer Postgres for the same two identities.
// Every failed lookup, not-found included, falls back to a placeholder
// profile; chat must keep working when the directory has no record or is
// down.
type CachedResolver struct {
	inner Resolver
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	p       *Profile
	expires time.Time
}

func NewCachedResolver(inner Resolver, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedResolver{inner: inner, ttl: ttl, cache: make(map[string]cacheEntry)}
}

func Placeholder(id model.Identity) *Profile {
	return &Profile{Identity: id, DisplayName: id.Key(), AccountKind: string(id.Kind)}
}

func (r *CachedResolver) Resolve(ctx context.Context, id model.Identity) (*Profile, error) {
	key := id.Key()

	r.mu.RLock()
	e, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && time.Now().Before(e.expires) {
		return e.p, nil
	}

	p, err := r.inner.Resolve(ctx, id)
	if err != nil {
		// placeholders are not cached so the directory can catch up
		if errs.CodeOf(err) != errs.CodeProfileNotFound {
			logger.Warnf("[profile] directory lookup failed identity=%s err=%v", key, err)
		}
		return Placeholder(id), nil
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{p: p, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()
	return p, nil
}
