package rpc

import "time"

// pendingRequest is owned exclusively by Channel; created on request,
// destroyed on completion, timeout, cancellation, or channel close.
type pendingRequest struct {
	id       int64
	method   string
	deadline time.Time
	timer    *time.Timer
	resultCh chan requestOutcome
}

type requestOutcome struct {
	value wireValue
	err   error
}

// pendingTable is a dense, integer-indexed structure for correlating
// responses to their requests: ids are monotonic small integers, so a
// slot array indexed by id-modulo-capacity outperforms a hash map and
// never needs its own hashing, per the design notes this module follows
// ("avoid hash maps when a ring or slot array suffices"). Slots grow by
// doubling when the table is saturated.
type pendingTable struct {
	slots []*pendingRequest
	count int
}

func newPendingTable() *pendingTable {
	return &pendingTable{slots: make([]*pendingRequest, 64)}
}

func (t *pendingTable) slotFor(id int64) int {
	return int(id) % len(t.slots)
}

// insert places p at its id's slot, growing and reinserting everything if
// the slot is already occupied by a different live request (this only
// happens once every len(slots) ids have been issued without completing).
func (t *pendingTable) insert(p *pendingRequest) {
	for t.slots[t.slotFor(p.id)] != nil {
		t.grow()
	}
	t.slots[t.slotFor(p.id)] = p
	t.count++
}

func (t *pendingTable) grow() {
	old := t.slots
	t.slots = make([]*pendingRequest, len(old)*2)
	for _, p := range old {
		if p != nil {
			t.slots[t.slotFor(p.id)] = p
		}
	}
}

func (t *pendingTable) lookup(id int64) (*pendingRequest, bool) {
	p := t.slots[t.slotFor(id)]
	if p == nil || p.id != id {
		return nil, false
	}
	return p, true
}

// remove detaches the pending request with the given id, if any.
func (t *pendingTable) remove(id int64) (*pendingRequest, bool) {
	idx := t.slotFor(id)
	p := t.slots[idx]
	if p == nil || p.id != id {
		return nil, false
	}
	t.slots[idx] = nil
	t.count--
	return p, true
}

// drain returns and clears every live pending request, in no particular
// order, for use by close() rejecting everything outstanding.
func (t *pendingTable) drain() []*pendingRequest {
	out := make([]*pendingRequest, 0, t.count)
	for i, p := range t.slots {
		if p != nil {
			out = append(out, p)
			t.slots[i] = nil
		}
	}
	t.count = 0
	return out
}

// occupied reports whether id currently names a live pending request, used
// by the id allocator to forward-probe past collisions.
func (t *pendingTable) occupied(id int64) bool {
	_, ok := t.lookup(id)
	return ok
}
