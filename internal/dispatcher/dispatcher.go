// Package dispatcher owns one cluster.Client's request lifecycle: routing a
// command to a connection, classifying the outcome, and deciding whether to
// retry, redirect, reconnect, or refresh the slot map (spec component G).
package dispatcher

import (
	"context"
	"math"
	"math/rand"
	"time"

	"vkcluster/internal/batch"
	"vkcluster/internal/clustererrs"
	"vkcluster/internal/connections"
	"vkcluster/internal/nodeconn"
	"vkcluster/internal/redirect"
	"vkcluster/internal/refresh"
	"vkcluster/internal/routing"
	"vkcluster/internal/slotmap"
)

// Next is the action the dispatcher takes after a single attempt fails.
type Next int

const (
	Done Next = iota
	Retry
	RetryBusyLoadingError
	Reconnect
	RefreshSlots
	ReconnectToInitialNodes
)

// RetryParams bounds how many attempts a single request gets.
type RetryParams struct {
	NumberOfRetries int
}

// DefaultRetryParams matches the teacher's conservative default elsewhere in
// the codebase: a handful of attempts, not an unbounded loop.
var DefaultRetryParams = RetryParams{NumberOfRetries: 4}

// Dispatcher routes single commands against the shared cluster state. It
// holds no per-request goroutine of its own — Do is called directly by
// whichever goroutine issued the command, matching the "no mutex held
// across a network call" contract of spec.md §5: all shared state lives in
// slotmap.SlotMap and connections.Container, each independently locked.
type Dispatcher struct {
	SlotMap       *slotmap.SlotMap
	Conns         *connections.Container
	ReplicaPolicy slotmap.ReplicaPolicy
	Retry         RetryParams
	Engine        *refresh.Engine
	Querier       refresh.Querier
	InitialNodes  []string
}

// Do executes one command end-to-end, retrying according to d.Retry. A
// request's lifecycle is this loop: resolve a connection for the current
// route (or a redirect's forced address), send, and on failure decide the
// Next action — looping until Done, success, or the retry budget is spent.
func (d *Dispatcher) Do(ctx context.Context, cmd string, args []string) (interface{}, error) {
	info, err := routing.Classify(cmd, args)
	if err != nil {
		return nil, err
	}
	if info.By == routing.Undefined {
		return nil, clustererrs.New(clustererrs.KindClientError, cmd+" cannot be routed automatically; issue it against a specific node")
	}
	if info.By == routing.AllNodes || info.By == routing.AllPrimaries || info.By == routing.MultiShard {
		return d.doFanOut(ctx, cmd, args)
	}

	var lastErr error
	forcedAddr := ""  // set by a MOVED/ASK redirect for the next attempt only.
	needsAsking := false

	for attempt := 0; attempt <= d.Retry.NumberOfRetries; attempt++ {
		addr, conn, ok := d.resolveConnection(info, args, forcedAddr)
		forcedAddr = ""
		if !ok {
			lastErr = clustererrs.New(clustererrs.KindConnectionNotFoundForRoute, "no connection available for "+cmd)
			if d.Engine != nil && d.Querier != nil {
				d.Engine.TriggerRefreshConnectionTasks(ctx, d.SlotMap.AllNodeAddresses(), refresh.AllConnections, d.Querier)
			}
			if !d.wait(ctx, attempt) {
				return nil, ctx.Err()
			}
			continue
		}

		if needsAsking {
			needsAsking = false
			if res := <-conn.Send(ctx, []string{"ASKING"}); res.Err != nil {
				lastErr = res.Err
				continue
			}
		}

		wire := append([]string{cmd}, args...)
		res := <-conn.Send(ctx, wire)
		if res.Err == nil {
			return res.Reply, nil
		}

		lastErr = classify(res.Err)
		next, outcome := d.decide(lastErr, addr)
		switch next {
		case Done:
			return nil, lastErr
		case RetryBusyLoadingError:
			if !d.sleepFixed(ctx, 50*time.Millisecond) {
				return nil, ctx.Err()
			}
		case Reconnect:
			target := addr
			if outcome.Addr != "" {
				target = outcome.Addr
			}
			if d.Engine != nil && d.Querier != nil {
				d.Engine.TriggerRefreshConnectionTasks(ctx, []string{target}, refresh.OnlyUserConnection, d.Querier)
			}
			if !d.wait(ctx, attempt) {
				return nil, ctx.Err()
			}
		case RefreshSlots:
			if d.Engine != nil && d.Querier != nil {
				_ = d.Engine.RefreshSlotsAndSubscriptions(ctx, refresh.Forced, d.currentAddresses(), d.Querier)
			}
		case ReconnectToInitialNodes:
			if d.Engine != nil && d.Querier != nil {
				d.Engine.TriggerRefreshConnectionTasks(ctx, d.InitialNodes, refresh.AllConnections, d.Querier)
			}
			if !d.wait(ctx, attempt) {
				return nil, ctx.Err()
			}
		case Retry:
			if outcome.Addr != "" {
				forcedAddr = outcome.Addr
				needsAsking = outcome.Ask
			}
			if !d.wait(ctx, attempt) {
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// doFanOut handles AllNodes/AllPrimaries/MultiShard commands (DBSIZE, KEYS,
// SCRIPT EXISTS, RANDOMKEY, DEL across hash tags, ...): these need the same
// per-node split-and-aggregate treatment as a pipelined command, so Do wraps
// the single command in a one-element non-atomic batch.Pipeline and lets
// component E/D do the actual fan-out and response combination.
func (d *Dispatcher) doFanOut(ctx context.Context, cmd string, args []string) (interface{}, error) {
	responses, err := batch.Execute(ctx, dispatcherResolver{d}, batch.Pipeline{
		Commands: []batch.Command{{Name: cmd, Args: args}},
	})
	if err != nil {
		return nil, err
	}
	return responses[0].Value, responses[0].Err
}

// dispatcherResolver adapts a Dispatcher to batch.Resolver. It's a separate
// type rather than methods on Dispatcher itself because Dispatcher's
// SlotMap/Conns/ReplicaPolicy are already exported fields of those same
// names.
type dispatcherResolver struct {
	d *Dispatcher
}

func (r dispatcherResolver) SlotMap() *slotmap.SlotMap            { return r.d.SlotMap }
func (r dispatcherResolver) Connections() *connections.Container  { return r.d.Conns }
func (r dispatcherResolver) ReplicaPolicy() slotmap.ReplicaPolicy { return r.d.ReplicaPolicy }

// classify normalizes a raw wire error (a plain error carrying server text)
// into a *clustererrs.Error.
func classify(err error) error {
	if _, ok := err.(*clustererrs.Error); ok {
		return err
	}
	return clustererrs.ParseServerError(err.Error())
}

// decide maps a classified error to the next action, applying the
// redirect handler for MOVED/ASK first since those take priority over the
// generic kind-based mapping below.
func (d *Dispatcher) decide(err error, currentAddr string) (Next, redirect.Outcome) {
	if outcome, ok := redirect.Handle(err, d.SlotMap, d.Conns); ok {
		if _, connected := d.Conns.ConnectionForAddress(outcome.Addr); !connected {
			return Reconnect, outcome
		}
		return Retry, outcome
	}

	switch clustererrs.KindOf(err) {
	case clustererrs.KindLoading:
		return RetryBusyLoadingError, redirect.Outcome{}
	case clustererrs.KindTryAgain, clustererrs.KindClusterDown, clustererrs.KindMasterDown:
		return Retry, redirect.Outcome{}
	case clustererrs.KindIOError, clustererrs.KindBrokenPipe, clustererrs.KindFatalSendError, clustererrs.KindFatalReceiveError:
		return Reconnect, redirect.Outcome{Addr: currentAddr}
	case clustererrs.KindConnectionNotFoundForRoute:
		return RefreshSlots, redirect.Outcome{}
	case clustererrs.KindAllConnectionsUnavailable:
		return ReconnectToInitialNodes, redirect.Outcome{}
	default:
		return Done, redirect.Outcome{}
	}
}

// resolveConnection picks the connection to use for this attempt. If
// forcedAddr is set (a pending MOVED/ASK redirect), it overrides normal
// routing; otherwise the command's routing classification decides.
func (d *Dispatcher) resolveConnection(info routing.RoutingInfo, args []string, forcedAddr string) (string, nodeconn.NodeConnection, bool) {
	if forcedAddr != "" {
		conn, ok := d.Conns.ConnectionForAddress(forcedAddr)
		return forcedAddr, conn, ok
	}

	if info.By == routing.Random {
		conns := d.Conns.RandomConnections(1, connections.PreferUser)
		if len(conns) == 0 {
			return "", nil, false
		}
		return conns[0].Addr(), conns[0], true
	}
	// AllNodes/AllPrimaries/MultiShard never reach here: Do routes those
	// through doFanOut before entering the single-connection retry loop.

	indices, err := routing.KeyIndices(info.By, info.Pattern, args)
	if err != nil || len(indices) == 0 {
		conns := d.Conns.RandomConnections(1, connections.PreferUser)
		if len(conns) == 0 {
			return "", nil, false
		}
		return conns[0].Addr(), conns[0], true
	}

	slot := slotmap.KeySlot(args[indices[0]])
	slotAddr := slotmap.Master
	if info.ReadOnly {
		slotAddr = slotmap.ReplicaOptional
	}
	addr, conn, ok := d.Conns.ConnectionForRoute(connections.Route{Slot: slot, SlotAddr: slotAddr}, d.SlotMap, d.ReplicaPolicy)
	return addr, conn, ok
}

func (d *Dispatcher) currentAddresses() []string {
	return d.SlotMap.AllNodeAddresses()
}

// wait backs off between attempts with exponential growth and jitter,
// bounded by ctx. Returns false if ctx was cancelled first.
func (d *Dispatcher) wait(ctx context.Context, attempt int) bool {
	backoff := time.Duration(math.Pow(2, float64(attempt))) * 20 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
	return d.sleepFixed(ctx, backoff+jitter)
}

func (d *Dispatcher) sleepFixed(ctx context.Context, dur time.Duration) bool {
	select {
	case <-time.After(dur):
		return true
	case <-ctx.Done():
		return false
	}
}
