package connections

import (
	"vkcluster/internal/nodeconn"
	"vkcluster/internal/slotmap"
)

// Route identifies a single-node target: a slot plus which member of its
// shard must serve it.
type Route struct {
	Slot     int
	SlotAddr slotmap.SlotAddr
}

// ConnectionForRoute resolves route against shardMap and this container,
// applying policy to choose among a shard's members. Falls back to the
// primary when SlotAddr is ReplicaOptional and no replica is available, or
// when policy has no candidate at all.
func (c *Container) ConnectionForRoute(route Route, shardMap *slotmap.SlotMap, policy slotmap.ReplicaPolicy) (addr string, conn nodeconn.NodeConnection, ok bool) {
	shard := shardMap.ShardAddrsForSlot(route.Slot)
	if shard == nil {
		return "", nil, false
	}

	if route.SlotAddr == slotmap.Master {
		addr = shard.Primary()
		conn, ok = c.ConnectionForAddress(addr)
		return addr, conn, ok
	}

	if pick, ok2 := policy.Pick(shard); ok2 {
		if conn, ok3 := c.ConnectionForAddress(pick); ok3 {
			return pick, conn, true
		}
	}

	if route.SlotAddr == slotmap.ReplicaRequired {
		// No replica connection available and the caller demands one.
		return "", nil, false
	}

	// ReplicaOptional: fall back to the primary.
	addr = shard.Primary()
	conn, ok = c.ConnectionForAddress(addr)
	return addr, conn, ok
}
