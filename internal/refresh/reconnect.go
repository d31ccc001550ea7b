package refresh

import (
	"context"
	"math"
	"math/rand"
	"time"

	"vkcluster/internal/vklog"
)

// ConnType selects which of a node's connections a reconnect task
// re-establishes.
type ConnType int

const (
	AllConnections ConnType = iota
	OnlyUserConnection
	OnlyManagementConnection
)

// TriggerRefreshConnectionTasks spawns one reconnect task per address that
// doesn't already have one in flight, per spec.md §4.F. Each task dials
// addr with indefinite retries and exponential backoff (base delay doubled
// per attempt, jittered to 0.8x-1.2x, capped at the maximum delay); the
// task's Notifier resolves (and the in-progress entry clears) the moment
// the first successful connection replaces the container entry, or when
// ctx is cancelled.
func (e *Engine) TriggerRefreshConnectionTasks(ctx context.Context, addresses []string, connType ConnType, q Querier) {
	for _, addr := range addresses {
		notifier, started := e.conns.TriggerRefresh(addr)
		if !started {
			continue // a task is already reconnecting this address.
		}

		addr := addr
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.reconnectLoop(ctx, addr, connType, q, notifier)
		}()
	}
}

func (e *Engine) reconnectLoop(ctx context.Context, addr string, connType ConnType, q Querier, notifier interface{ Resolve(error) }) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			e.conns.ClearRefresh(addr)
			notifier.Resolve(ctx.Err())
			return
		default:
		}

		conn, err := q.Dial(ctx, addr)
		if err == nil {
			switch connType {
			case OnlyManagementConnection:
				e.conns.ReplaceOrAddManagementConnection(addr, conn)
			case OnlyUserConnection:
				e.conns.ReplaceOrAddConnection(addr, conn)
			default:
				e.conns.ReplaceOrAddConnection(addr, conn)
			}
			e.conns.ClearRefresh(addr)
			notifier.Resolve(nil)
			return
		}

		if attempt == 0 {
			// First failure: flip Reconnecting -> TooLong so callers
			// inspecting state see the task is taking a while, without
			// blocking their own retry decision on it.
			e.conns.MarkTooLong(addr)
			vklog.Warn("refresh: reconnect to %s failed, will keep retrying in background: %v", addr, err)
		}
		attempt++

		backoff := time.Duration(math.Min(
			float64(e.reconnectBaseDelay)*math.Pow(2, float64(attempt-1))*(0.8+0.4*rand.Float64()),
			float64(e.reconnectMaxDelay),
		))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			e.conns.ClearRefresh(addr)
			notifier.Resolve(ctx.Err())
			return
		}
	}
}
