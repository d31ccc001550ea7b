// Package subscriptions tracks per-address pub/sub subscriptions so that
// when a slot remap changes which node owns a channel's shard, the
// subscription can be re-established on the new owner (spec component I).
package subscriptions

import "sync"

// Kind distinguishes the three pub/sub subscription flavors, each keyed and
// re-homed independently.
type Kind int

const (
	Channel Kind = iota
	Pattern
	ShardChannel
)

// Tracker holds subscriptions_by_address and unassigned_subscriptions from
// spec.md §3: entries whose owning node is known live in the former; once a
// topology change invalidates that mapping, entries move to the latter
// until the next refresh cycle re-homes them.
type Tracker struct {
	mu sync.Mutex

	byAddress   map[string]map[Kind]map[string]struct{}
	unassigned  map[Kind]map[string]struct{}
}

// New builds an empty tracker.
func New() *Tracker {
	return &Tracker{
		byAddress:  make(map[string]map[Kind]map[string]struct{}),
		unassigned: map[Kind]map[string]struct{}{Channel: {}, Pattern: {}, ShardChannel: {}},
	}
}

// Add records a subscription to channelOrPattern of the given kind as
// currently homed on addr.
func (t *Tracker) Add(addr string, kind Kind, channelOrPattern string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureAddr(addr)
	t.byAddress[addr][kind][channelOrPattern] = struct{}{}
	delete(t.unassigned[kind], channelOrPattern)
}

// Remove drops a subscription wherever it currently lives.
func (t *Tracker) Remove(kind Kind, channelOrPattern string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.unassigned[kind], channelOrPattern)
	for _, kinds := range t.byAddress {
		delete(kinds[kind], channelOrPattern)
	}
}

func (t *Tracker) ensureAddr(addr string) {
	if _, ok := t.byAddress[addr]; !ok {
		t.byAddress[addr] = map[Kind]map[string]struct{}{
			Channel: {}, Pattern: {}, ShardChannel: {},
		}
	}
}

// UnassignFromAddress moves every subscription currently homed on addr into
// unassigned — called when addr is dropped from the connections container
// (node removed, or its shard's slots all moved elsewhere).
func (t *Tracker) UnassignFromAddress(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kinds, ok := t.byAddress[addr]
	if !ok {
		return
	}
	for kind, set := range kinds {
		for item := range set {
			t.unassigned[kind][item] = struct{}{}
		}
	}
	delete(t.byAddress, addr)
}

// Unassigned returns a snapshot of every subscription awaiting re-homing.
func (t *Tracker) Unassigned() map[Kind][]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Kind][]string, len(t.unassigned))
	for kind, set := range t.unassigned {
		items := make([]string, 0, len(set))
		for item := range set {
			items = append(items, item)
		}
		out[kind] = items
	}
	return out
}

// Rehome implements spec component I's refresh-triggered re-homing
// algorithm: for every subscription currently assigned to an address, ask
// ownerOf for its slot's current primary; if the owner changed (or
// vanished), the entry moves to unassigned. Then every unassigned entry is
// re-homed onto its current owner, if one is now known. Returns every
// address that gained or lost a subscription as a result, so the caller can
// trigger a connection refresh for each (old owners need the subscription
// cleared server-side; new owners need SUBSCRIBE re-issued on connect).
func (t *Tracker) Rehome(ownerOf func(kind Kind, channelOrPattern string) (string, bool)) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	touched := make(map[string]struct{})

	for addr, kinds := range t.byAddress {
		for kind, set := range kinds {
			for item := range set {
				owner, ok := ownerOf(kind, item)
				if ok && owner == addr {
					continue
				}
				delete(set, item)
				t.unassigned[kind][item] = struct{}{}
				touched[addr] = struct{}{}
			}
		}
	}

	for kind, set := range t.unassigned {
		for item := range set {
			owner, ok := ownerOf(kind, item)
			if !ok {
				continue
			}
			delete(set, item)
			t.ensureAddr(owner)
			t.byAddress[owner][kind][item] = struct{}{}
			touched[owner] = struct{}{}
		}
	}

	out := make([]string, 0, len(touched))
	for addr := range touched {
		out = append(out, addr)
	}
	return out
}

// ByAddress returns a snapshot of every subscription currently assigned to
// addr, used when rebuilding a RESUBSCRIBE command for a reconnect.
func (t *Tracker) ByAddress(addr string) map[Kind][]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	kinds, ok := t.byAddress[addr]
	if !ok {
		return nil
	}
	out := make(map[Kind][]string, len(kinds))
	for kind, set := range kinds {
		items := make([]string, 0, len(set))
		for item := range set {
			items = append(items, item)
		}
		out[kind] = items
	}
	return out
}
