package chat

import (
	"sync"

	"ProjChat/logger"
	"ProjChat/module/chat/model"
)

// Member is one routable transport session. Deliver must not block; a
// full send queue counts as a failed delivery.
type Member interface {
	SessionID() string
	Deliver(f *Frame) error
}

type room struct {
	mu      sync.Mutex
	ctx     model.ConversationContext
	members map[string]Member // session id -> member
}

// Rooms maps a conversation context to the set of connected sessions
// that should receive its broadcasts. Pure ephemeral routing state,
// rebuilt from scratch on relay restart.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]*room // context key -> room
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]*room)}
}

// Join adds m to the context's membership set. Idempotent. The insert
// happens under the registry lock: a concurrent Leave that empties the
// room evicts it under the same lock, so the joiner can never land in a
// room that is no longer reachable from the map.
func (r *Rooms) Join(ctx model.ConversationContext, m Member) {
	key := ctx.Key()

	r.mu.Lock()
	rm, ok := r.rooms[key]
	if !ok {
		rm = &room{ctx: ctx, members: make(map[string]Member)}
		r.rooms[key] = rm
	}
	rm.mu.Lock()
	rm.members[m.SessionID()] = m
	rm.mu.Unlock()
	r.mu.Unlock()
}

// Leave removes membership; an emptied room is evicted (the transcript
// lives in the durable store, nothing is lost).
func (r *Rooms) Leave(ctx model.ConversationContext, m Member) {
	key := ctx.Key()

	r.mu.Lock()
	rm, ok := r.rooms[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	rm.mu.Lock()
	delete(rm.members, m.SessionID())
	empty := len(rm.members) == 0
	rm.mu.Unlock()
	if empty {
		delete(r.rooms, key)
	}
	r.mu.Unlock()
}

// Broadcast sends f to every member of the context except the originator
// (which gets the message back on the ack path only, never a second
// copy). Broadcasting into an empty context is not an error; the other
// correspondent is simply offline.
func (r *Rooms) Broadcast(ctx model.ConversationContext, f *Frame, except Member) int {
	r.mu.RLock()
	rm, ok := r.rooms[ctx.Key()]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	// The room lock serializes broadcasts per context: members observe
	// messages in the order their sends completed persistence.
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delivered := 0
	for sid, m := range rm.members {
		if except != nil && sid == except.SessionID() {
			continue
		}
		if err := m.Deliver(f); err != nil {
			logger.Warnf("[rooms] deliver failed ctx=%s session=%s err=%v", ctx.Key(), sid, err)
			continue
		}
		delivered++
	}
	return delivered
}

// MembersOf lists the current membership; diagnostics and presence-check
// routing.
func (r *Rooms) MembersOf(ctx model.ConversationContext) []Member {
	r.mu.RLock()
	rm, ok := r.rooms[ctx.Key()]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]Member, 0, len(rm.members))
	for _, m := range rm.members {
		out = append(out, m)
	}
	return out
}

// Contexts lists all live context keys.
func (r *Rooms) Contexts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms))
	for k := range r.rooms {
		out = append(out, k)
	}
	return out
}

// FanoutPresence pushes a presence transition to every member of every
// context that includes the identity, skipping that identity's own
// sessions.
func (r *Rooms) FanoutPresence(id model.Identity, st model.Status) {
	f := BuildPresenceChanged(id, st)

	r.mu.RLock()
	targets := make([]*room, 0, 4)
	for _, rm := range r.rooms {
		if rm.ctx.Includes(id) {
			targets = append(targets, rm)
		}
	}
	r.mu.RUnlock()

	for _, rm := range targets {
		rm.mu.Lock()
		for sid, m := range rm.members {
			if owner, ok := m.(interface{ Identity() model.Identity }); ok &&
				owner.Identity().Key() == id.Key() {
				continue
			}
			if err := m.Deliver(f); err != nil {
				logger.Debugf("[rooms] presence deliver failed session=%s err=%v", sid, err)
			}
		}
		rm.mu.Unlock()
	}
}
