package client

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"ProjChat/module/chat/model"
)

// EntryStatus tracks a transcript entry's delivery lifecycle as seen by
// this client.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"   // submitted, no ack yet
	EntryConfirmed EntryStatus = "confirmed" // carries the store-assigned id and seq
	EntryFailed    EntryStatus = "failed"    // relay rejected or connection was down
)

// Entry is one row of the local conversation view. Confirmed entries hold
// canonical messages; pending/failed ones hold the provisional copy made
// at submit time.
type Entry struct {
	Message    *model.Message
	Status     EntryStatus
	CallID     string
	FailCode   int
	FailReason string
}

// Transcript is the client-side conversation state. The relay delivers
// at-least-once, so every ingress point dedupes on the canonical message
// id; provisional ids can never collide with canonical ones.
type Transcript struct {
	mu        sync.RWMutex
	confirmed []*Entry
	local     []*Entry // pending + failed, submit order
	byID      map[string]*Entry
	byCall    map[string]*Entry
}

func NewTranscript() *Transcript {
	return &Transcript{
		byID:   make(map[string]*Entry),
		byCall: make(map[string]*Entry),
	}
}

// LoadHistory reconciles the confirmed region against a fresh fetch from
// the relay. Pending and failed local entries survive untouched; live
// pushes that raced the fetch are already deduped by id.
func (t *Transcript) LoadHistory(msgs []*model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.confirmed {
		delete(t.byID, e.Message.ID)
	}
	t.confirmed = t.confirmed[:0]
	for _, m := range msgs {
		if _, dup := t.byID[m.ID]; dup {
			continue
		}
		e := &Entry{Message: m, Status: EntryConfirmed}
		t.confirmed = append(t.confirmed, e)
		t.byID[m.ID] = e
	}
	t.sortConfirmedLocked()
}

// AppendPending records a freshly submitted message under its provisional
// id.
func (t *Transcript) AppendPending(callID string, m *model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := &Entry{Message: m, Status: EntryPending, CallID: callID}
	t.local = append(t.local, e)
	t.byCall[callID] = e
}

// Confirm swaps a pending entry's provisional copy for the canonical
// message from the relay's ack. If the canonical message already arrived
// through the live stream, the pending copy is simply dropped.
func (t *Transcript) Confirm(callID string, m *model.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byCall[callID]
	if !ok {
		return false
	}
	delete(t.byCall, callID)
	t.dropLocalLocked(e)

	if _, dup := t.byID[m.ID]; dup {
		return true
	}
	ce := &Entry{Message: m, Status: EntryConfirmed, CallID: callID}
	t.confirmed = append(t.confirmed, ce)
	t.byID[m.ID] = ce
	t.sortConfirmedLocked()
	return true
}

// Fail marks a pending entry failed; the entry stays visible so the user
// can retry.
func (t *Transcript) Fail(callID string, code int, reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byCall[callID]
	if !ok {
		return false
	}
	delete(t.byCall, callID)
	e.Status = EntryFailed
	e.FailCode = code
	e.FailReason = reason
	return true
}

// AppendIncoming ingests a live-pushed message. Returns false when the
// canonical id is already present (redelivery or ack raced the push).
func (t *Transcript) AppendIncoming(m *model.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.byID[m.ID]; dup {
		return false
	}
	e := &Entry{Message: m, Status: EntryConfirmed}
	t.confirmed = append(t.confirmed, e)
	t.byID[m.ID] = e
	t.sortConfirmedLocked()
	return true
}

// Entries snapshots the view: confirmed history in seq order, then local
// pending/failed entries in submit order.
func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := append(t.confirmed[:len(t.confirmed):len(t.confirmed)], t.local...)
	return lo.Map(all, func(e *Entry, _ int) Entry { return *e })
}

// PendingCount reports how many submits still await an ack.
func (t *Transcript) PendingCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byCall)
}

func (t *Transcript) sortConfirmedLocked() {
	sort.SliceStable(t.confirmed, func(i, j int) bool {
		return t.confirmed[i].Message.Seq < t.confirmed[j].Message.Seq
	})
}

func (t *Transcript) dropLocalLocked(target *Entry) {
	for i, e := range t.local {
		if e == target {
			t.local = append(t.local[:i], t.local[i+1:]...)
			return
		}
	}
}
