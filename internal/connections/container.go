// Package connections is the per-address connection container (spec
// component C): one entry per cluster node holding its user connection, an
// optional management connection for background checks, and its advertised
// availability zone.
package connections

import (
	"sync"

	"vkcluster/internal/nodeconn"
)

// PreferKind selects which of a node's connections random_connections
// should favor.
type PreferKind int

const (
	PreferUser PreferKind = iota
	PreferManagement
)

// entry is one node's connection state.
type entry struct {
	addr     string
	userConn nodeconn.NodeConnection
	mgmtConn nodeconn.NodeConnection
	az       string
}

// Container is the address-keyed connection table. Protected by a
// reader-writer lock: readers are routing lookups, writers are refresh,
// reconnect-finalization, and redirect-driven node additions (spec.md §5).
type Container struct {
	mu      sync.RWMutex
	entries map[string]*entry

	// inProgress tracks at most one in-flight refresh task per address; see
	// RefreshState.
	inProgress map[string]*RefreshState
}

// New builds an empty container.
func New() *Container {
	return &Container{
		entries:    make(map[string]*entry),
		inProgress: make(map[string]*RefreshState),
	}
}

// ConnectionForAddress returns the user connection for addr, or ok=false if
// no entry exists yet.
func (c *Container) ConnectionForAddress(addr string) (nodeconn.NodeConnection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[addr]
	if !ok || e.userConn == nil {
		return nil, false
	}
	return e.userConn, true
}

// ManagementConnectionForAddress returns the management connection for
// addr, or ok=false if none is configured. Like ConnectionForAddress, this
// never creates a background task itself — spec.md describes that as the
// refresh engine's responsibility (internal/refresh triggers the dial and
// calls ReplaceOrAddConnection on success).
func (c *Container) ManagementConnectionForAddress(addr string) (nodeconn.NodeConnection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[addr]
	if !ok || e.mgmtConn == nil {
		return nil, false
	}
	return e.mgmtConn, true
}

// AZForAddress returns the advertised availability zone of addr, if known.
func (c *Container) AZForAddress(addr string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[addr]; ok {
		return e.az
	}
	return ""
}

// RandomConnections returns up to n user (or management, if prefer ==
// PreferManagement and the node has one) connections, in map iteration
// order — sufficient for the refresh engine's "query min(num_nodes,10)
// random nodes" use, since Go's map iteration is already randomized per
// run.
func (c *Container) RandomConnections(n int, prefer PreferKind) []nodeconn.NodeConnection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]nodeconn.NodeConnection, 0, n)
	for _, e := range c.entries {
		if len(out) >= n {
			break
		}
		conn := e.userConn
		if prefer == PreferManagement && e.mgmtConn != nil {
			conn = e.mgmtConn
		}
		if conn != nil {
			out = append(out, conn)
		}
	}
	return out
}

// ReplaceOrAddConnection installs (or replaces) the user connection for
// addr, creating the entry if this is a new node.
func (c *Container) ReplaceOrAddConnection(addr string, conn nodeconn.NodeConnection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[addr]
	if !ok {
		e = &entry{addr: addr}
		c.entries[addr] = e
	}
	if e.userConn != nil && e.userConn != conn {
		_ = e.userConn.Close()
	}
	e.userConn = conn
}

// ReplaceOrAddManagementConnection installs the management connection for
// addr.
func (c *Container) ReplaceOrAddManagementConnection(addr string, conn nodeconn.NodeConnection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[addr]
	if !ok {
		e = &entry{addr: addr}
		c.entries[addr] = e
	}
	if e.mgmtConn != nil && e.mgmtConn != conn {
		_ = e.mgmtConn.Close()
	}
	e.mgmtConn = conn
}

// SetAZ records addr's advertised availability zone.
func (c *Container) SetAZ(addr, az string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[addr]
	if !ok {
		e = &entry{addr: addr}
		c.entries[addr] = e
	}
	e.az = az
}

// RemoveNode drops addr's entry entirely, closing its connections.
func (c *Container) RemoveNode(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[addr]; ok {
		if e.userConn != nil {
			_ = e.userConn.Close()
		}
		if e.mgmtConn != nil {
			_ = e.mgmtConn.Close()
		}
		delete(c.entries, addr)
	}
	delete(c.inProgress, addr)
}

// ExtendConnectionMap merges other's entries into c, used when a slot
// refresh discovers addresses reachable through a newly learned topology
// view without disturbing already-established connections for unchanged
// addresses.
func (c *Container) ExtendConnectionMap(other *Container) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, e := range other.entries {
		if _, exists := c.entries[addr]; !exists {
			c.entries[addr] = e
		}
	}
}

// Addresses returns every address currently tracked.
func (c *Container) Addresses() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for addr := range c.entries {
		out = append(out, addr)
	}
	return out
}
