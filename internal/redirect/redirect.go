// Package redirect interprets MOVED and ASK server errors, updating slot
// ownership and telling the dispatcher how to retry the failed command
// (spec component H).
package redirect

import (
	"vkcluster/internal/clustererrs"
	"vkcluster/internal/connections"
	"vkcluster/internal/slotmap"
)

// Action tells the dispatcher how to proceed after a redirect is resolved.
type Action int

const (
	// RetrySameRoute: the original routing decision still applies (e.g. a
	// redirect error that wasn't actually MOVED/ASK — shouldn't happen, but
	// callers should treat it as "nothing changed").
	RetrySameRoute Action = iota
	// RetryAtAddress: resend the command at the given address. For ASK, the
	// resend must be preceded by an ASKING command on that connection.
	RetryAtAddress
)

// Outcome is the result of handling one redirect.
type Outcome struct {
	Action  Action
	Addr    string
	Ask     bool // true for ASK (requires ASKING before the retry), false for MOVED
}

// Handle classifies err as MOVED or ASK and, for MOVED, applies the slot
// map's incremental ownership update; for ASK, no slot-map change happens
// (ASK is a one-shot per-command redirect, not an ownership change). ok is
// false if err is neither a MOVED nor an ASK server error.
func Handle(err error, sm *slotmap.SlotMap, conns *connections.Container) (Outcome, bool) {
	ce, ok := err.(*clustererrs.Error)
	if !ok {
		return Outcome{}, false
	}
	if ce.Kind != clustererrs.KindMoved && ce.Kind != clustererrs.KindAsk {
		return Outcome{}, false
	}
	slot, addr, ok := clustererrs.RedirectTarget(ce.Message)
	if !ok {
		return Outcome{}, false
	}

	if ce.Kind == clustererrs.KindMoved {
		_ = sm.UpdateUponMovedError(slot, addr)
		if _, ok := conns.ConnectionForAddress(addr); !ok {
			// The new owner isn't connected yet; the refresh engine's
			// trigger_refresh_connection_tasks path (internal/refresh) is
			// responsible for dialing it. The dispatcher retries once that
			// connection appears.
		}
		return Outcome{Action: RetryAtAddress, Addr: addr, Ask: false}, true
	}
	return Outcome{Action: RetryAtAddress, Addr: addr, Ask: true}, true
}
