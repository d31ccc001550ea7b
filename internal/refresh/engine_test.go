package refresh

import (
	"context"
	"testing"
	"time"

	"vkcluster/internal/connections"
	"vkcluster/internal/nodeconn"
	"vkcluster/internal/slotmap"
)

type fakeQuerier struct {
	views map[string]TopologyView
	errs  map[string]error
	dials int
}

func (f *fakeQuerier) QueryTopology(ctx context.Context, addr string) (TopologyView, error) {
	if err, ok := f.errs[addr]; ok {
		return TopologyView{}, err
	}
	return f.views[addr], nil
}

func (f *fakeQuerier) Dial(ctx context.Context, addr string) (nodeconn.NodeConnection, error) {
	f.dials++
	return nodeconn.NewFake(addr, func(args []string) (interface{}, error) { return "OK", nil }), nil
}

func oneShardView(addr string, hash string, epoch int64) TopologyView {
	shard := slotmap.NewShardAddrsPrimaryOnly(addr)
	return TopologyView{
		Addr:   addr,
		Ranges: []slotmap.Range{{Start: 0, End: slotmap.NumSlots - 1, Shard: shard}},
		Epoch:  epoch,
		Hash:   hash,
	}
}

func TestRefreshSlotsAgreesOnMajority(t *testing.T) {
	sm := slotmap.New()
	conns := connections.New()
	e := NewEngine(sm, conns, time.Minute, 0, 0, 0)

	q := &fakeQuerier{views: map[string]TopologyView{
		"a": oneShardView("a", "h1", 1),
		"b": oneShardView("a", "h1", 1),
		"c": oneShardView("a", "h2", 2),
	}}

	err := e.RefreshSlotsAndSubscriptions(context.Background(), Forced, []string{"a", "b", "c"}, q)
	if err != nil {
		t.Fatal(err)
	}
	if sm.ShardAddrsForSlot(0) == nil {
		t.Fatal("expected slot map to be populated after refresh")
	}
}

func TestRefreshSlotsThrottleSkipsSecondCall(t *testing.T) {
	sm := slotmap.New()
	conns := connections.New()
	e := NewEngine(sm, conns, time.Hour, 0, 0, 0)
	q := &fakeQuerier{views: map[string]TopologyView{"a": oneShardView("a", "h1", 1)}}

	if err := e.RefreshSlotsAndSubscriptions(context.Background(), Throttable, []string{"a"}, q); err != nil {
		t.Fatal(err)
	}
	first := sm.AllRanges()

	q.views["a"] = oneShardView("b", "h2", 2)
	if err := e.RefreshSlotsAndSubscriptions(context.Background(), Throttable, []string{"a"}, q); err != nil {
		t.Fatal(err)
	}
	second := sm.AllRanges()
	if second[0].Shard.Primary() != first[0].Shard.Primary() {
		t.Error("throttled refresh should have been skipped, but slot map changed")
	}
}

func TestValidateConnectionsDropsSlotlessAddress(t *testing.T) {
	sm := slotmap.New()
	shard := slotmap.NewShardAddrsPrimaryOnly("a")
	sm.SetRanges([]slotmap.Range{{Start: 0, End: slotmap.NumSlots - 1, Shard: shard}})

	conns := connections.New()
	conns.ReplaceOrAddConnection("a", nodeconn.NewFake("a", func(args []string) (interface{}, error) { return "PONG", nil }))
	conns.ReplaceOrAddConnection("stale", nodeconn.NewFake("stale", func(args []string) (interface{}, error) { return "PONG", nil }))

	e := NewEngine(sm, conns, time.Minute, 0, 0, 0)
	q := &fakeQuerier{}
	e.validateConnections(context.Background(), q)

	if _, ok := conns.ConnectionForAddress("stale"); ok {
		t.Error("expected the address holding no slots to be dropped")
	}
	if _, ok := conns.ConnectionForAddress("a"); !ok {
		t.Error("expected the address still holding slots to survive validation")
	}
}

func TestValidateConnectionsReconnectsOnPingFailure(t *testing.T) {
	sm := slotmap.New()
	shard := slotmap.NewShardAddrsPrimaryOnly("a")
	sm.SetRanges([]slotmap.Range{{Start: 0, End: slotmap.NumSlots - 1, Shard: shard}})

	conns := connections.New()
	conns.ReplaceOrAddConnection("a", nodeconn.NewFake("a", func(args []string) (interface{}, error) {
		return nil, context.DeadlineExceeded
	}))

	e := NewEngine(sm, conns, time.Minute, 0, 0, 0)
	q := &fakeQuerier{}
	e.validateConnections(context.Background(), q)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && q.dials == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if q.dials == 0 {
		t.Error("expected a reconnect task to be triggered for the failing ping")
	}
}

func TestTriggerRefreshConnectionTasksSingleInFlight(t *testing.T) {
	sm := slotmap.New()
	conns := connections.New()
	e := NewEngine(sm, conns, time.Minute, 0, 0, 0)
	q := &fakeQuerier{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.TriggerRefreshConnectionTasks(ctx, []string{"a"}, AllConnections, q)
	e.TriggerRefreshConnectionTasks(ctx, []string{"a"}, AllConnections, q)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := conns.ConnectionForAddress("a"); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := conns.ConnectionForAddress("a"); !ok {
		t.Fatal("expected a connection to be established for a")
	}
	if q.dials != 1 {
		t.Errorf("expected exactly one dial (single in-flight task), got %d", q.dials)
	}
}
