package nodeconn

import "context"

// Fake is an in-memory NodeConnection for tests: it answers Send/SendPipeline
// from a caller-supplied handler instead of touching the network.
type Fake struct {
	addr    string
	Handler func(args []string) (interface{}, error)
	closed  bool
}

var _ NodeConnection = (*Fake)(nil)

// NewFake builds a Fake bound to addr, answering every command with handler.
func NewFake(addr string, handler func(args []string) (interface{}, error)) *Fake {
	return &Fake{addr: addr, Handler: handler}
}

func (f *Fake) Addr() string { return f.addr }

func (f *Fake) Send(ctx context.Context, args []string) <-chan Result {
	out := make(chan Result, 1)
	reply, err := f.Handler(args)
	out <- Result{Reply: reply, Err: err}
	return out
}

func (f *Fake) SendPipeline(ctx context.Context, cmds [][]string) <-chan []Result {
	out := make(chan []Result, 1)
	results := make([]Result, len(cmds))
	for i, args := range cmds {
		reply, err := f.Handler(args)
		results[i] = Result{Reply: reply, Err: err}
	}
	out <- results
	return out
}

func (f *Fake) Ping(ctx context.Context) error {
	_, err := f.Handler([]string{"PING"})
	return err
}

func (f *Fake) Close() error {
	f.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (f *Fake) Closed() bool { return f.closed }
