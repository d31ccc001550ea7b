package connections

import (
	"testing"

	"vkcluster/internal/nodeconn"
	"vkcluster/internal/slotmap"
)

func nopFake(addr string) *nodeconn.Fake {
	return nodeconn.NewFake(addr, func(args []string) (interface{}, error) { return "OK", nil })
}

func TestReplaceOrAddConnectionAndLookup(t *testing.T) {
	c := New()
	conn := nopFake("127.0.0.1:7000")
	c.ReplaceOrAddConnection("127.0.0.1:7000", conn)

	got, ok := c.ConnectionForAddress("127.0.0.1:7000")
	if !ok || got != conn {
		t.Fatalf("ConnectionForAddress returned (%v, %v)", got, ok)
	}
	if _, ok := c.ConnectionForAddress("127.0.0.1:9999"); ok {
		t.Error("expected no connection for unknown address")
	}
}

func TestReplaceOrAddConnectionClosesOld(t *testing.T) {
	c := New()
	old := nopFake("a")
	c.ReplaceOrAddConnection("a", old)
	next := nopFake("a")
	c.ReplaceOrAddConnection("a", next)
	if !old.Closed() {
		t.Error("replacing a connection should close the previous one")
	}
}

func TestRemoveNode(t *testing.T) {
	c := New()
	conn := nopFake("a")
	c.ReplaceOrAddConnection("a", conn)
	c.RemoveNode("a")
	if !conn.Closed() {
		t.Error("RemoveNode should close the entry's connection")
	}
	if _, ok := c.ConnectionForAddress("a"); ok {
		t.Error("RemoveNode should drop the entry")
	}
}

func TestTriggerRefreshSingleInFlight(t *testing.T) {
	c := New()
	n1, started1 := c.TriggerRefresh("a")
	if !started1 {
		t.Fatal("first TriggerRefresh should start a task")
	}
	n2, started2 := c.TriggerRefresh("a")
	if started2 {
		t.Error("second TriggerRefresh for the same address must not start another task")
	}
	if n1 != n2 {
		t.Error("second caller must attach to the same Notifier")
	}
	c.ClearRefresh("a")
	n3, started3 := c.TriggerRefresh("a")
	if !started3 {
		t.Error("after ClearRefresh, a new task should be startable")
	}
	_ = n3
}

func TestNotifierBroadcastsOutcome(t *testing.T) {
	n := NewNotifier()
	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { done <- n.Wait() }()
	}
	n.Resolve(nil)
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
}

func TestConnectionForRouteMasterAndFallback(t *testing.T) {
	c := New()
	primary := nopFake("p")
	c.ReplaceOrAddConnection("p", primary)

	sm := slotmap.New()
	shard := slotmap.NewShardAddrsPrimaryOnly("p")
	sm.SetRanges([]slotmap.Range{{Start: 0, End: 16383, Shard: shard}})

	addr, conn, ok := c.ConnectionForRoute(Route{Slot: 100, SlotAddr: slotmap.Master}, sm, slotmap.AlwaysFromPrimary{})
	if !ok || addr != "p" || conn != primary {
		t.Fatalf("ConnectionForRoute(Master) = (%s, %v, %v)", addr, conn, ok)
	}

	// ReplicaOptional with no replica connected falls back to primary.
	addr, conn, ok = c.ConnectionForRoute(Route{Slot: 100, SlotAddr: slotmap.ReplicaOptional}, sm, slotmap.NewRoundRobin())
	if !ok || addr != "p" {
		t.Fatalf("expected fallback to primary, got (%s, %v)", addr, ok)
	}
}
