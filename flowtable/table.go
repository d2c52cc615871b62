package flowtable

import (
	"sync"

	"github.com/cespare/xxhash"
	"github.com/mel2oo/pcapcore/gid"
)

const shardCount = 32

// FlowTable maps 5-tuples to FlowIDs, with both directions of a flow mapping
// to the same id. It is sharded by a hash of the 5-tuple so that, in the
// multi-threaded variant described in spec.md §5 (packets sharded across
// workers by flow id), distinct flows rarely contend on the same shard
// mutex; heplify reaches for the same cespare/xxhash package to key its
// per-packet dedup cache, and the same fast non-cryptographic hash picks
// the shard here. Within a shard, flows are looked up in an ordinary Go map
// keyed by the variable-width tuple encoding.
type FlowTable struct {
	shards [shardCount]shard
	ids    gid.Allocator
}

type shard struct {
	mu    sync.Mutex
	byKey map[string]gid.FlowID
	flows map[gid.FlowID]*Flow
}

// NewFlowTable returns an empty table.
func NewFlowTable() *FlowTable {
	t := &FlowTable{}
	for i := range t.shards {
		t.shards[i].byKey = make(map[string]gid.FlowID)
		t.shards[i].flows = make(map[gid.FlowID]*Flow)
	}
	return t
}

func (t *FlowTable) shardIndexFor(tuple FiveTuple) uint64 {
	return xxhash.Sum64(tuple.key()) % shardCount
}

func (t *FlowTable) shardFor(tuple FiveTuple) *shard {
	return &t.shards[t.shardIndexFor(tuple)]
}

// LookupFlow returns the FlowID mapped to the given 5-tuple, if any.
func (t *FlowTable) LookupFlow(tuple FiveTuple) (gid.FlowID, bool) {
	s := t.shardFor(tuple)
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[string(tuple.key())]
	return id, ok
}

// InsertFlow records a newly observed 5-tuple. If the reverse direction is
// already known, the new tuple is attached to that flow instead of creating
// one; otherwise a fresh FlowID is allocated and flow becomes its canonical
// record. Returns the FlowID the tuple now maps to.
func (t *FlowTable) InsertFlow(tuple FiveTuple, flow *Flow) gid.FlowID {
	rev := tuple.Reverse()
	si, ri := t.shardIndexFor(tuple), t.shardIndexFor(rev)
	s, rs := &t.shards[si], &t.shards[ri]

	// The reverse direction may live in a different shard; check it first,
	// without holding this tuple's shard lock, to avoid a lock-order cycle
	// between the two shards.
	if rs != s {
		rs.mu.Lock()
		id, ok := rs.byKey[string(rev.key())]
		rs.mu.Unlock()
		if ok {
			s.mu.Lock()
			s.byKey[string(tuple.key())] = id
			s.mu.Unlock()
			return id
		}
	} else {
		s.mu.Lock()
		if id, ok := s.byKey[string(rev.key())]; ok {
			s.byKey[string(tuple.key())] = id
			s.mu.Unlock()
			return id
		}
		s.mu.Unlock()
	}

	id := t.ids.Next()
	flow.FlowID = id

	if s == rs {
		s.mu.Lock()
		s.flows[id] = flow
		s.byKey[string(tuple.key())] = id
		s.byKey[string(rev.key())] = id
		s.mu.Unlock()
		return id
	}

	// tuple.key() belongs under s and rev.key() under rs, the shard its own
	// hash actually picks — otherwise a LookupFlow(rev) issued before any
	// insert of rev directly would hash to rs and never find it. Lock in
	// increasing shard-index order so two concurrent inserts of a tuple and
	// its reverse can't deadlock on each other's shard.
	first, second := s, rs
	if ri < si {
		first, second = rs, s
	}
	first.mu.Lock()
	second.mu.Lock()
	s.flows[id] = flow
	s.byKey[string(tuple.key())] = id
	rs.byKey[string(rev.key())] = id
	second.mu.Unlock()
	first.mu.Unlock()
	return id
}

// GetFlow returns the Flow record for id, if it is still live.
func (t *FlowTable) GetFlow(id gid.FlowID) (*Flow, bool) {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		f, ok := s.flows[id]
		s.mu.Unlock()
		if ok {
			return f, true
		}
	}
	return nil, false
}

// Modify looks up id and applies fn to its Flow under the shard lock.
// Returns false if the flow no longer exists.
func (t *FlowTable) Modify(id gid.FlowID, fn func(*Flow)) bool {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		f, ok := s.flows[id]
		if ok {
			fn(f)
		}
		s.mu.Unlock()
		if ok {
			return true
		}
	}
	return false
}

// Values returns every live flow, in no particular order.
func (t *FlowTable) Values() []*Flow {
	var out []*Flow
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for _, f := range s.flows {
			out = append(out, f)
		}
		s.mu.Unlock()
	}
	return out
}

// Len returns the number of live flows.
func (t *FlowTable) Len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		n += len(s.flows)
		s.mu.Unlock()
	}
	return n
}

// Clear removes every flow from the table. Flow ids already allocated are
// never reused, even after Clear.
func (t *FlowTable) Clear() {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		s.byKey = make(map[string]gid.FlowID)
		s.flows = make(map[gid.FlowID]*Flow)
		s.mu.Unlock()
	}
}
