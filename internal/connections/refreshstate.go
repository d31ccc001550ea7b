package connections

import "sync"

// RefreshStatus is the visible state of an in-flight per-address
// reconnection task.
type RefreshStatus int

const (
	// Reconnecting: the task's first attempt has not yet failed.
	Reconnecting RefreshStatus = iota
	// TooLong: the first attempt failed and retries continue in the
	// background; visible to callers that inspect state (spec.md §4.F).
	TooLong
)

// Notifier lets multiple callers await the outcome of a single in-flight
// reconnection attempt without each spawning their own task. It is the Go
// analogue of the original's oneshot-broadcast "Notifier": closing done
// wakes every waiter.
type Notifier struct {
	done chan struct{}
	once sync.Once
	err  error
	mu   sync.Mutex
}

// NewNotifier builds a Notifier for a reconnection attempt that hasn't
// resolved yet.
func NewNotifier() *Notifier {
	return &Notifier{done: make(chan struct{})}
}

// Wait blocks until the attempt resolves and returns its outcome.
func (n *Notifier) Wait() error {
	<-n.done
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Done returns a channel that's closed once the attempt resolves — for
// callers that want to select{} alongside other events instead of blocking.
func (n *Notifier) Done() <-chan struct{} {
	return n.done
}

// Resolve records the attempt's outcome and wakes every waiter. Only the
// first call has effect.
func (n *Notifier) Resolve(err error) {
	n.once.Do(func() {
		n.mu.Lock()
		n.err = err
		n.mu.Unlock()
		close(n.done)
	})
}

// RefreshState tracks one address's in-flight reconnection task.
type RefreshState struct {
	Status   RefreshStatus
	Notifier *Notifier
}

// TriggerRefresh registers a new in-flight refresh for addr if none is
// already running, returning the (possibly pre-existing) Notifier so
// callers can await the outcome without racing a second task into
// existence — the "at most one in-flight refresh task per address"
// invariant of spec.md §3.
func (c *Container) TriggerRefresh(addr string) (notifier *Notifier, started bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.inProgress[addr]; ok {
		return st.Notifier, false
	}
	n := NewNotifier()
	c.inProgress[addr] = &RefreshState{Status: Reconnecting, Notifier: n}
	return n, true
}

// MarkTooLong flips addr's task status from Reconnecting to TooLong after
// its first attempt fails, without resolving the Notifier (retries
// continue).
func (c *Container) MarkTooLong(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.inProgress[addr]; ok {
		st.Status = TooLong
	}
}

// ClearRefresh removes addr's in-progress entry, called once the
// reconnection task finally succeeds (or is abandoned).
func (c *Container) ClearRefresh(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inProgress, addr)
}

// RefreshStatusFor reports the current status of addr's in-flight task, if
// any.
func (c *Container) RefreshStatusFor(addr string) (RefreshStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.inProgress[addr]
	if !ok {
		return 0, false
	}
	return st.Status, true
}
