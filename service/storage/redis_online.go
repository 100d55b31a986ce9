package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ===== cross-node presence mirror =====
//
// Each relay node owns the in-process presence registry for its own
// sessions; the mirror keeps a shared view in Redis so any node (or an
// external service) can answer "is X online" for identities homed
// elsewhere. One zset per online identity, member = node id, score = the
// unix second that node's claim expires. An identity is online while any
// node holds a live claim, so the last local disconnect on one node
// never wipes sessions homed on another, and a crashed node's claim
// simply ages out.

type OnlineConfig struct {
	NodeID string        // zset member for this node's claims
	TTL    time.Duration // claim lifetime; refreshed while online
}

func (c *OnlineConfig) norm() {
	if c.TTL <= 0 {
		c.TTL = 2 * time.Minute
	}
}

type OnlineMirror struct {
	rdb  *redis.Client
	conf OnlineConfig
}

func NewOnlineMirror(rdb *redis.Client, conf OnlineConfig) *OnlineMirror {
	conf.norm()
	return &OnlineMirror{rdb: rdb, conf: conf}
}

func onlineKey(identityKey string) string { return "pc:online:" + identityKey }

// claimScore is the score written for a claim issued now.
func claimScore(now time.Time, ttl time.Duration) float64 {
	return float64(now.Add(ttl).Unix())
}

// anyLiveClaim reports whether at least one node claim is unexpired.
func anyLiveClaim(scores []float64, now time.Time) bool {
	cutoff := float64(now.Unix())
	for _, s := range scores {
		if s > cutoff {
			return true
		}
	}
	return false
}

// SetOnline records this node's claim. Called on the 0->1 registry
// transition. The key TTL backstops claim expiry so fully-offline
// identities leave no key behind.
func (m *OnlineMirror) SetOnline(ctx context.Context, identityKey string) error {
	now := time.Now()
	pipe := m.rdb.TxPipeline()
	pipe.ZAdd(ctx, onlineKey(identityKey), redis.Z{
		Score:  claimScore(now, m.conf.TTL),
		Member: m.conf.NodeID,
	})
	pipe.Expire(ctx, onlineKey(identityKey), m.conf.TTL+time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

// SetOffline drops this node's claim only. Called on the 1->0
// transition; claims held by other nodes stay untouched.
func (m *OnlineMirror) SetOffline(ctx context.Context, identityKey string) error {
	return m.rdb.ZRem(ctx, onlineKey(identityKey), m.conf.NodeID).Err()
}

// IsOnline answers from the shared view: online iff any node's claim is
// still live.
func (m *OnlineMirror) IsOnline(ctx context.Context, identityKey string) (bool, error) {
	zs, err := m.rdb.ZRangeWithScores(ctx, onlineKey(identityKey), 0, -1).Result()
	if err != nil {
		return false, err
	}
	scores := make([]float64, 0, len(zs))
	for _, z := range zs {
		scores = append(scores, z.Score)
	}
	return anyLiveClaim(scores, time.Now()), nil
}

// Refresh renews this node's claims for every currently-online identity
// and purges claims that already expired. The relay calls it
// periodically with its live identity set.
func (m *OnlineMirror) Refresh(ctx context.Context, identityKeys []string) error {
	if len(identityKeys) == 0 {
		return nil
	}
	now := time.Now()
	stale := fmt.Sprintf("%d", now.Unix())
	pipe := m.rdb.Pipeline()
	for _, k := range identityKeys {
		key := onlineKey(k)
		pipe.ZAdd(ctx, key, redis.Z{Score: claimScore(now, m.conf.TTL), Member: m.conf.NodeID})
		pipe.ZRemRangeByScore(ctx, key, "-inf", stale)
		pipe.Expire(ctx, key, m.conf.TTL+time.Minute)
	}
	_, err := pipe.Exec(ctx)
	return err
}
