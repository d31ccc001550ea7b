package slotmap

import (
	"sync"

	"vkcluster/internal/clustererrs"
)

// ShardUpdateResult is the outcome of ShardAddrs.AttemptRoleUpdate.
type ShardUpdateResult int

const (
	// AlreadyPrimary: newPrimary is already the shard's primary; no change.
	AlreadyPrimary ShardUpdateResult = iota
	// Promoted: newPrimary was a replica of this shard and has been swapped
	// into the primary slot.
	Promoted
	// NodeNotFound: newPrimary is neither the primary nor a replica here.
	NodeNotFound
)

// ShardAddrs holds the primary and ordered replica addresses of one shard.
// A given address appears in at most one role within a shard: primary XOR
// one replica slot, never both.
type ShardAddrs struct {
	mu       sync.RWMutex
	primary  string
	replicas []string
}

// NewShardAddrs builds a shard with the given primary and replicas.
func NewShardAddrs(primary string, replicas []string) *ShardAddrs {
	rs := make([]string, len(replicas))
	copy(rs, replicas)
	return &ShardAddrs{primary: primary, replicas: rs}
}

// NewShardAddrsPrimaryOnly builds a shard with no known replicas yet.
func NewShardAddrsPrimaryOnly(primary string) *ShardAddrs {
	return &ShardAddrs{primary: primary}
}

// Primary returns a snapshot of the shard's current primary address.
func (s *ShardAddrs) Primary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary
}

// Replicas returns a snapshot copy of the shard's current replica addresses.
func (s *ShardAddrs) Replicas() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.replicas))
	copy(out, s.replicas)
	return out
}

// ReplicaCount returns the number of known replicas.
func (s *ShardAddrs) ReplicaCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.replicas)
}

// AttemptRoleUpdate evaluates whether newPrimary is already the primary, a
// replica eligible for promotion, or unknown to this shard. On promotion the
// former primary becomes a replica and newPrimary becomes primary.
func (s *ShardAddrs) AttemptRoleUpdate(newPrimary string) ShardUpdateResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.primary == newPrimary {
		return AlreadyPrimary
	}
	for i, r := range s.replicas {
		if r == newPrimary {
			s.replicas[i], s.primary = s.primary, s.replicas[i]
			return Promoted
		}
	}
	return NodeNotFound
}

// AddReplica appends addr to the replica list if it isn't already the
// primary or an existing replica.
func (s *ShardAddrs) AddReplica(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.primary == addr {
		return
	}
	for _, r := range s.replicas {
		if r == addr {
			return
		}
	}
	s.replicas = append(s.replicas, addr)
}

// RemoveReplica removes addr from the replica list. Fails with a
// clustererrs.KindClientError if addr is not currently a replica of this
// shard.
func (s *ShardAddrs) RemoveReplica(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.replicas {
		if r == addr {
			s.replicas = append(s.replicas[:i], s.replicas[i+1:]...)
			return nil
		}
	}
	return clustererrs.New(clustererrs.KindClientError, "address is not a replica of this shard: "+addr)
}

// AllAddrs returns primary followed by all replicas.
func (s *ShardAddrs) AllAddrs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, 1+len(s.replicas))
	out = append(out, s.primary)
	out = append(out, s.replicas...)
	return out
}
