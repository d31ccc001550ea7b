// Package slotmap implements the cluster slot space: CRC16 key hashing, the
// ordered slot-range-to-shard mapping, and the MOVED incremental-update
// decision tree (spec component B).
package slotmap

import (
	"sort"
	"sync"

	"vkcluster/internal/clustererrs"
)

// SlotAddr selects which member of a shard a route should resolve to.
type SlotAddr int

const (
	// Master: the request must go to the shard's primary.
	Master SlotAddr = iota
	// ReplicaOptional: a replica may serve the request; fall back to the
	// primary if no replica is available.
	ReplicaOptional
	// ReplicaRequired: a replica must serve the request if one exists.
	ReplicaRequired
)

// Range is one contiguous slot range mapped to a shard.
type Range struct {
	Start int
	End   int // inclusive
	Shard *ShardAddrs
}

// SlotMap is the ordered, non-overlapping mapping from slot ranges to
// shards. A slot is owned by exactly one shard, except momentarily during a
// migration in progress (represented here simply as the slot pointing at
// its new owner once the MOVED is observed).
type SlotMap struct {
	mu     sync.RWMutex
	ranges []Range // sorted by Start, ascending, non-overlapping
}

// New builds an empty slot map.
func New() *SlotMap {
	return &SlotMap{}
}

// ShardAddrsForSlot returns the shard owning slot, or nil if unmapped.
func (m *SlotMap) ShardAddrsForSlot(slot int) *ShardAddrs {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx := m.search(slot); idx >= 0 {
		return m.ranges[idx].Shard
	}
	return nil
}

// search returns the index of the range containing slot, via binary search
// over Start, or -1 if none matches.
func (m *SlotMap) search(slot int) int {
	i := sort.Search(len(m.ranges), func(i int) bool { return m.ranges[i].Start > slot })
	i--
	if i >= 0 && i < len(m.ranges) && slot >= m.ranges[i].Start && slot <= m.ranges[i].End {
		return i
	}
	return -1
}

// SetRanges atomically replaces the entire slot map, as produced by a fresh
// CLUSTER SLOTS-derived topology during a full refresh.
func (m *SlotMap) SetRanges(ranges []Range) {
	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	m.mu.Lock()
	m.ranges = sorted
	m.mu.Unlock()
}

// AllRanges returns a snapshot copy of the current ranges.
func (m *SlotMap) AllRanges() []Range {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Range, len(m.ranges))
	copy(out, m.ranges)
	return out
}

// AllNodeAddresses returns the deduplicated set of every address (primary or
// replica) known across the slot map.
func (m *SlotMap) AllNodeAddresses() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, r := range m.ranges {
		for _, a := range r.Shard.AllAddrs() {
			if _, ok := seen[a]; !ok {
				seen[a] = struct{}{}
				out = append(out, a)
			}
		}
	}
	return out
}

// GetSlotsOfNode returns every slot currently owned (as primary or replica's
// shard) by addr.
func (m *SlotMap) GetSlotsOfNode(addr string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []int
	for _, r := range m.ranges {
		owns := false
		for _, a := range r.Shard.AllAddrs() {
			if a == addr {
				owns = true
				break
			}
		}
		if owns {
			for s := r.Start; s <= r.End; s++ {
				out = append(out, s)
			}
		}
	}
	return out
}

// UpdateSlotRange reassigns a single slot to point at shard, splitting the
// owning range if needed ("slot migration" semantics: only the one slot
// moves, not the whole range of its prior owner).
func (m *SlotMap) UpdateSlotRange(slot int, shard *ShardAddrs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reassignLocked(slot, shard)
}

// AddNewPrimary creates a brand-new single-slot shard owning slot, with addr
// as its primary and no replicas.
func (m *SlotMap) AddNewPrimary(slot int, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reassignLocked(slot, NewShardAddrsPrimaryOnly(addr))
}

// reassignLocked must be called with m.mu held for writing. It removes slot
// from whichever range currently contains it (splitting that range into up
// to two pieces) and inserts a fresh single-slot range pointing at shard.
func (m *SlotMap) reassignLocked(slot int, shard *ShardAddrs) error {
	if slot < 0 || slot >= NumSlots {
		return clustererrs.New(clustererrs.KindClientError, "slot out of range")
	}
	idx := -1
	for i, r := range m.ranges {
		if slot >= r.Start && slot <= r.End {
			idx = i
			break
		}
	}
	var next []Range
	next = append(next, m.ranges[:max(idx, 0)]...)
	if idx >= 0 {
		old := m.ranges[idx]
		if old.Start < slot {
			next = append(next, Range{Start: old.Start, End: slot - 1, Shard: old.Shard})
		}
		next = append(next, Range{Start: slot, End: slot, Shard: shard})
		if old.End > slot {
			next = append(next, Range{Start: slot + 1, End: old.End, Shard: old.Shard})
		}
		next = append(next, m.ranges[idx+1:]...)
	} else {
		next = append(next, Range{Start: slot, End: slot, Shard: shard})
		next = append(next, m.ranges...)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Start < next[j].Start })
	m.ranges = next
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// UpdateUponMovedError implements the five-scenario MOVED decision tree
// (spec §4.B, transcribed from the Rust original's update_upon_moved_error):
//
//  1. If newPrimary is already this slot's shard's primary or a replica,
//     update the shard's roles in place (AlreadyPrimary / Promoted) and stop.
//  2. Else if newPrimary is the primary of some *other* shard, this is a
//     slot migration: reassign just this slot to that shard.
//  3. Else if newPrimary is a replica of some other shard, remove it from
//     that shard and create a brand-new shard owning this slot.
//  4. Else create a brand-new shard with newPrimary as its sole primary.
func (m *SlotMap) UpdateUponMovedError(slot int, newPrimary string) error {
	if cur := m.ShardAddrsForSlot(slot); cur != nil {
		switch cur.AttemptRoleUpdate(newPrimary) {
		case AlreadyPrimary, Promoted:
			return nil
		case NodeNotFound:
			// fall through to scenarios 2-4 below.
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.ranges {
		if r.Shard.Primary() == newPrimary {
			// Scenario 2: slot migration onto an existing primary.
			return m.reassignLocked(slot, r.Shard)
		}
	}
	for _, r := range m.ranges {
		for _, rep := range r.Shard.Replicas() {
			if rep == newPrimary {
				// Scenario 3: promote a known replica of another shard into
				// its own new shard.
				if err := r.Shard.RemoveReplica(newPrimary); err != nil {
					return err
				}
				return m.reassignLocked(slot, NewShardAddrsPrimaryOnly(newPrimary))
			}
		}
	}
	// Scenario 4: brand-new node.
	return m.reassignLocked(slot, NewShardAddrsPrimaryOnly(newPrimary))
}
