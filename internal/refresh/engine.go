// Package refresh drives slot-map refresh, periodic topology checks, and
// per-address reconnection with backoff — the background half of the
// cluster core (spec component F). It mirrors the teacher's plain
// context+cancel+sync.WaitGroup task style and uses golang.org/x/time/rate
// for the refresh throttle.
package refresh

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"vkcluster/internal/clustererrs"
	"vkcluster/internal/connections"
	"vkcluster/internal/nodeconn"
	"vkcluster/internal/slotmap"
	"vkcluster/internal/subscriptions"
	"vkcluster/internal/vklog"
)

// Policy controls whether a refresh honors the rate limiter.
type Policy int

const (
	// Throttable: skip the refresh if it's been less than the configured
	// minimum interval since the last completed run.
	Throttable Policy = iota
	// Forced: always attempt a refresh, bypassing the throttle (used by the
	// dispatcher when no connection serves a route, and by
	// PeriodicTopologyCheck once it sees a topology mismatch).
	Forced
)

// DefaultNumberOfRefreshSlotsRetries bounds the retry loop inside
// RefreshSlotsAndSubscriptions.
const DefaultNumberOfRefreshSlotsRetries = 3

// TopologyView is one node's reported slot layout plus its config epoch,
// as reported by the Querier (internal/cluster builds it from CLUSTER
// NODES).
type TopologyView struct {
	Addr   string
	Ranges []slotmap.Range
	Epoch  int64
	Hash   string
}

// Querier is the capability the engine needs to inspect cluster topology;
// internal/cluster supplies the concrete implementation wired to
// internal/nodeconn.
type Querier interface {
	// QueryTopology issues CLUSTER SLOTS (or equivalent) against addr.
	QueryTopology(ctx context.Context, addr string) (TopologyView, error)
	// Dial establishes a fresh NodeConnection for addr, used both for new
	// nodes discovered by a refresh and for per-address reconnection.
	Dial(ctx context.Context, addr string) (nodeconn.NodeConnection, error)
}

// Engine owns the refresh/reconnect state machine for one cluster.Client.
type Engine struct {
	sm    *slotmap.SlotMap
	conns *connections.Container
	subs  *subscriptions.Tracker

	inProgress atomic.Bool
	lastRun    atomic.Int64 // unix nanos; 0 means never run

	minInterval time.Duration
	limiter     *rate.Limiter

	reconnectBaseDelay time.Duration
	reconnectMaxDelay  time.Duration

	wg       sync.WaitGroup
	cancelMu sync.Mutex
	cancels  []context.CancelFunc
}

// NewEngine builds a refresh engine over sm/conns. minInterval is the
// throttle window between successive Throttable refreshes; ratePerSecond
// bounds how many refresh attempts the rate limiter admits (burst 1).
// reconnectBaseDelay/reconnectMaxDelay set the per-address reconnect
// backoff curve (spec.md §3.2's reconnect_retry_strategy); zero values fall
// back to the teacher's fixed 20ms/5s curve.
func NewEngine(sm *slotmap.SlotMap, conns *connections.Container, minInterval time.Duration, ratePerSecond float64, reconnectBaseDelay, reconnectMaxDelay time.Duration) *Engine {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	if reconnectBaseDelay <= 0 {
		reconnectBaseDelay = 20 * time.Millisecond
	}
	if reconnectMaxDelay <= 0 {
		reconnectMaxDelay = 5 * time.Second
	}
	return &Engine{
		sm:                 sm,
		conns:              conns,
		minInterval:        minInterval,
		limiter:            rate.NewLimiter(limit, 1),
		reconnectBaseDelay: reconnectBaseDelay,
		reconnectMaxDelay:  reconnectMaxDelay,
	}
}

// SetSubscriptions wires the pub/sub tracker this engine re-homes on every
// successful slot refresh. Optional: an engine with no tracker set simply
// skips step 4 of spec component I.
func (e *Engine) SetSubscriptions(t *subscriptions.Tracker) {
	e.subs = t
}

// channelOwner computes a channel or pattern's current owner: the primary
// of the shard holding its hash slot, per Master routing.
func (e *Engine) channelOwner(_ subscriptions.Kind, channelOrPattern string) (string, bool) {
	shard := e.sm.ShardAddrsForSlot(slotmap.KeySlot(channelOrPattern))
	if shard == nil {
		return "", false
	}
	return shard.Primary(), true
}

// rehomeSubscriptions implements spec.md §4.I: recompute every tracked
// subscription's owner against the current slot map, move entries whose
// owner changed to unassigned, re-home unassigned entries with a now-known
// owner, and trigger a connection refresh for every address that gained or
// lost a subscription so the server-side SUBSCRIBE/UNSUBSCRIBE state
// follows.
func (e *Engine) rehomeSubscriptions(ctx context.Context, q Querier) {
	if e.subs == nil {
		return
	}
	touched := e.subs.Rehome(e.channelOwner)
	if len(touched) > 0 {
		e.TriggerRefreshConnectionTasks(ctx, touched, OnlyUserConnection, q)
	}
}

// addCancel registers a background task's cancel func so Stop reaches it.
func (e *Engine) addCancel(cancel context.CancelFunc) {
	e.cancelMu.Lock()
	e.cancels = append(e.cancels, cancel)
	e.cancelMu.Unlock()
}

// Stop cancels every background task started by this engine and waits for
// them to exit.
func (e *Engine) Stop() {
	e.cancelMu.Lock()
	cancels := e.cancels
	e.cancelMu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	e.wg.Wait()
}

// RefreshSlotsAndSubscriptions implements spec.md §4.F: a single-refresh
// gate, an optional throttle, bounded retries with exponential backoff and
// jitter to reach quorum on a topology view, and an atomic slot-map swap.
func (e *Engine) RefreshSlotsAndSubscriptions(ctx context.Context, policy Policy, candidates []string, q Querier) error {
	if !e.inProgress.CompareAndSwap(false, true) {
		return nil // another refresh is already running; not an error.
	}
	defer e.inProgress.Store(false)

	if policy == Throttable {
		last := e.lastRun.Load()
		if last != 0 && time.Since(time.Unix(0, last)) < e.minInterval {
			return nil
		}
		// Rate-limit Throttable refreshes on top of the cooldown above, so a
		// burst of redirect-triggered refreshes in a short window still
		// can't exceed the configured ratePerSecond.
		if !e.limiter.Allow() {
			return nil
		}
	}

	var lastErr error
	for attempt := 0; attempt < DefaultNumberOfRefreshSlotsRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 50 * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		views, err := e.queryRandomNodes(ctx, candidates, q, 10)
		if err != nil {
			lastErr = err
			continue
		}
		if len(views) == 0 {
			lastErr = clustererrs.New(clustererrs.KindAllConnectionsUnavailable, "no node answered CLUSTER SLOTS")
			continue
		}

		view, agreed := calculateTopology(views)
		if !agreed && attempt < DefaultNumberOfRefreshSlotsRetries-1 {
			lastErr = clustererrs.New(clustererrs.KindTryAgain, "nodes disagree on topology")
			continue
		}

		e.sm.SetRanges(view.Ranges)
		e.lastRun.Store(time.Now().UnixNano())
		e.rehomeSubscriptions(ctx, q)
		return nil
	}

	if lastErr == nil {
		lastErr = clustererrs.New(clustererrs.KindAllConnectionsUnavailable, "slot refresh exhausted its retries")
	}
	return lastErr
}

func (e *Engine) queryRandomNodes(ctx context.Context, candidates []string, q Querier, max int) ([]TopologyView, error) {
	n := len(candidates)
	if n > max {
		n = max
	}
	perm := rand.Perm(len(candidates))[:n]

	type res struct {
		view TopologyView
		err  error
	}
	ch := make(chan res, n)
	for _, i := range perm {
		addr := candidates[i]
		go func() {
			v, err := q.QueryTopology(ctx, addr)
			ch <- res{view: v, err: err}
		}()
	}
	var views []TopologyView
	var lastErr error
	for i := 0; i < n; i++ {
		r := <-ch
		if r.err != nil {
			lastErr = r.err
			continue
		}
		views = append(views, r.view)
	}
	if len(views) == 0 {
		return nil, lastErr
	}
	return views, nil
}

// calculateTopology picks a canonical view: a majority-agreeing hash wins;
// failing that, the view with the highest reported epoch; agreed reports
// whether a majority was actually found (false means the caller should
// retry rather than trust the epoch tiebreak as final).
func calculateTopology(views []TopologyView) (TopologyView, bool) {
	counts := make(map[string]int)
	first := make(map[string]TopologyView)
	for _, v := range views {
		counts[v.Hash]++
		if _, ok := first[v.Hash]; !ok {
			first[v.Hash] = v
		}
	}
	majority := len(views)/2 + 1
	var best TopologyView
	bestCount := 0
	for hash, c := range counts {
		if c > bestCount {
			bestCount = c
			best = first[hash]
		}
	}
	if bestCount >= majority {
		return best, true
	}

	var byEpoch TopologyView
	highest := int64(-1)
	for _, v := range views {
		if v.Epoch > highest {
			highest = v.Epoch
			byEpoch = v
		}
	}
	return byEpoch, false
}

// PeriodicTopologyCheck queries a small quorum of nodes every interval and
// triggers a full refresh if any of them disagrees with the engine's
// current view. Runs until ctx is cancelled or Stop is called.
func (e *Engine) PeriodicTopologyCheck(ctx context.Context, interval time.Duration, candidates []string, q Querier, currentHash func() string) {
	ctx, cancel := context.WithCancel(ctx)
	e.addCancel(cancel)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		quorum := numProbeNodes(len(candidates))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				perm := rand.Perm(len(candidates))
				n := quorum
				if n > len(perm) {
					n = len(perm)
				}
				mismatch := false
				for _, i := range perm[:n] {
					v, err := q.QueryTopology(ctx, candidates[i])
					if err != nil {
						continue
					}
					if v.Hash != currentHash() {
						mismatch = true
						break
					}
				}
				if mismatch {
					if err := e.RefreshSlotsAndSubscriptions(ctx, Forced, candidates, q); err != nil {
						vklog.Warn("refresh: periodic topology check triggered refresh, which failed: %v", err)
					}
				} else {
					// No topology change, so a full refresh was skipped —
					// still re-home any subscription whose owner moved for
					// reasons other than a slot remap (e.g. a reconnect).
					e.rehomeSubscriptions(ctx, q)
				}
			}
		}
	}()
}

// PeriodicConnectionValidation implements spec.md §4.F's connection
// validation task: every interval, drop any tracked address that no longer
// owns a slot (its connections are closed and its subscriptions, if any,
// move to unassigned for the next rehome), and ping every remaining address,
// triggering an all-connections reconnect for any whose transport has gone
// stale. Runs until ctx is cancelled or Stop is called.
func (e *Engine) PeriodicConnectionValidation(ctx context.Context, interval time.Duration, q Querier) {
	ctx, cancel := context.WithCancel(ctx)
	e.addCancel(cancel)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.validateConnections(ctx, q)
			}
		}
	}()
}

func (e *Engine) validateConnections(ctx context.Context, q Querier) {
	var stale []string
	for _, addr := range e.conns.Addresses() {
		if len(e.sm.GetSlotsOfNode(addr)) == 0 {
			e.conns.RemoveNode(addr)
			if e.subs != nil {
				e.subs.UnassignFromAddress(addr)
			}
			continue
		}
		conn, ok := e.conns.ConnectionForAddress(addr)
		if !ok || conn.Ping(ctx) != nil {
			stale = append(stale, addr)
		}
	}
	if len(stale) > 0 {
		e.TriggerRefreshConnectionTasks(ctx, stale, AllConnections, q)
	}
}

// numProbeNodes is ceil(log2(numNodes)), with a floor of 1.
func numProbeNodes(numNodes int) int {
	if numNodes <= 1 {
		return 1
	}
	return int(math.Ceil(math.Log2(float64(numNodes))))
}
