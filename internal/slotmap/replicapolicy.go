package slotmap

import "sync/atomic"

// ReplicaPolicy picks which address within a shard should serve a
// read-eligible command, per spec.md §4.B's read-from-replica strategies.
type ReplicaPolicy interface {
	// Pick returns the chosen address, and ok=false if the policy has no
	// eligible candidate (caller falls back to the primary).
	Pick(shard *ShardAddrs) (addr string, ok bool)
}

// AlwaysFromPrimary never picks a replica; every read goes to the primary.
// This is the default when no read-from-replica strategy is configured.
type AlwaysFromPrimary struct{}

func (AlwaysFromPrimary) Pick(shard *ShardAddrs) (string, bool) {
	return "", false
}

// RoundRobin cycles through a shard's replicas on successive picks, one
// shared counter per policy instance.
type RoundRobin struct {
	counter atomic.Uint64
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (p *RoundRobin) Pick(shard *ShardAddrs) (string, bool) {
	reps := shard.Replicas()
	if len(reps) == 0 {
		return "", false
	}
	n := p.counter.Add(1) - 1
	return reps[int(n%uint64(len(reps)))], true
}

// AZAffinity prefers a replica in the same availability zone as the client,
// falling back to round-robin across all replicas if none match.
type AZAffinity struct {
	ClientAZ string
	fallback RoundRobin
	// addrAZ reports the AZ of a given address, as learned from CLUSTER
	// SHARDS. Supplied by the connection container, which is the only
	// component that tracks per-node AZ metadata.
	addrAZ func(addr string) string
}

func NewAZAffinity(clientAZ string, addrAZ func(addr string) string) *AZAffinity {
	return &AZAffinity{ClientAZ: clientAZ, addrAZ: addrAZ}
}

func (p *AZAffinity) Pick(shard *ShardAddrs) (string, bool) {
	reps := shard.Replicas()
	if len(reps) == 0 {
		return "", false
	}
	if p.addrAZ != nil {
		for _, r := range reps {
			if p.addrAZ(r) == p.ClientAZ {
				return r, true
			}
		}
	}
	return p.fallback.Pick(shard)
}

// AZAffinityReplicasAndPrimary behaves like AZAffinity but also considers the
// shard's primary a same-AZ candidate, falling back to round-robin across
// every member (replicas and primary) of the shard.
type AZAffinityReplicasAndPrimary struct {
	ClientAZ string
	counter  atomic.Uint64
	addrAZ   func(addr string) string
}

func NewAZAffinityReplicasAndPrimary(clientAZ string, addrAZ func(addr string) string) *AZAffinityReplicasAndPrimary {
	return &AZAffinityReplicasAndPrimary{ClientAZ: clientAZ, addrAZ: addrAZ}
}

func (p *AZAffinityReplicasAndPrimary) Pick(shard *ShardAddrs) (string, bool) {
	all := shard.AllAddrs()
	if len(all) == 0 {
		return "", false
	}
	if p.addrAZ != nil {
		for _, a := range all {
			if p.addrAZ(a) == p.ClientAZ {
				return a, true
			}
		}
	}
	n := p.counter.Add(1) - 1
	return all[int(n%uint64(len(all)))], true
}
