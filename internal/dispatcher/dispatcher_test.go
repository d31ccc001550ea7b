package dispatcher

import (
	"context"
	"testing"
	"time"

	"vkcluster/internal/clustererrs"
	"vkcluster/internal/connections"
	"vkcluster/internal/nodeconn"
	"vkcluster/internal/slotmap"
)

func oneShardTopology(primary string) (*slotmap.SlotMap, *slotmap.ShardAddrs) {
	sm := slotmap.New()
	shard := slotmap.NewShardAddrsPrimaryOnly(primary)
	sm.SetRanges([]slotmap.Range{{Start: 0, End: slotmap.NumSlots - 1, Shard: shard}})
	return sm, shard
}

func newDispatcher(sm *slotmap.SlotMap, conns *connections.Container) *Dispatcher {
	return &Dispatcher{
		SlotMap:       sm,
		Conns:         conns,
		ReplicaPolicy: slotmap.AlwaysFromPrimary{},
		Retry:         RetryParams{NumberOfRetries: 3},
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	sm, _ := oneShardTopology("nodeA")
	conns := connections.New()
	conns.ReplaceOrAddConnection("nodeA", nodeconn.NewFake("nodeA", func(args []string) (interface{}, error) {
		if args[0] == "GET" {
			return "hello", nil
		}
		return "OK", nil
	}))

	d := newDispatcher(sm, conns)
	v, err := d.Do(context.Background(), "GET", []string{"k"})
	if err != nil {
		t.Fatal(err)
	}
	if v != "hello" {
		t.Errorf("GET = %v, want hello", v)
	}
}

func TestDoFollowsMovedRedirect(t *testing.T) {
	sm, _ := oneShardTopology("nodeA")
	conns := connections.New()

	movedOnce := false
	conns.ReplaceOrAddConnection("nodeA", nodeconn.NewFake("nodeA", func(args []string) (interface{}, error) {
		if !movedOnce {
			movedOnce = true
			return nil, clustererrs.New(clustererrs.KindMoved, "MOVED 0 nodeB")
		}
		return "stale", nil
	}))
	conns.ReplaceOrAddConnection("nodeB", nodeconn.NewFake("nodeB", func(args []string) (interface{}, error) {
		return "fresh", nil
	}))

	d := newDispatcher(sm, conns)
	v, err := d.Do(context.Background(), "GET", []string{"k"})
	if err != nil {
		t.Fatal(err)
	}
	if v != "fresh" {
		t.Errorf("GET after MOVED = %v, want fresh (from nodeB)", v)
	}

	shard := sm.ShardAddrsForSlot(0)
	if shard == nil || shard.Primary() != "nodeB" {
		t.Errorf("expected slot map to now own slot 0 at nodeB, got %v", shard)
	}
}

func TestDoFollowsAskRedirectWithoutChangingSlotMap(t *testing.T) {
	sm, _ := oneShardTopology("nodeA")
	conns := connections.New()

	askedNodeB := false
	conns.ReplaceOrAddConnection("nodeA", nodeconn.NewFake("nodeA", func(args []string) (interface{}, error) {
		return nil, clustererrs.New(clustererrs.KindAsk, "ASK 0 nodeB")
	}))
	conns.ReplaceOrAddConnection("nodeB", nodeconn.NewFake("nodeB", func(args []string) (interface{}, error) {
		if args[0] == "ASKING" {
			askedNodeB = true
			return "OK", nil
		}
		return "asked-value", nil
	}))

	d := newDispatcher(sm, conns)
	v, err := d.Do(context.Background(), "GET", []string{"k"})
	if err != nil {
		t.Fatal(err)
	}
	if v != "asked-value" {
		t.Errorf("GET after ASK = %v, want asked-value", v)
	}
	if !askedNodeB {
		t.Error("expected ASKING to be sent to nodeB before the retried command")
	}
	shard := sm.ShardAddrsForSlot(0)
	if shard == nil || shard.Primary() != "nodeA" {
		t.Errorf("ASK must not change slot ownership, got %v", shard)
	}
}

func TestDoExhaustsRetriesOnPersistentTryAgain(t *testing.T) {
	sm, _ := oneShardTopology("nodeA")
	conns := connections.New()
	calls := 0
	conns.ReplaceOrAddConnection("nodeA", nodeconn.NewFake("nodeA", func(args []string) (interface{}, error) {
		calls++
		return nil, clustererrs.New(clustererrs.KindTryAgain, "TRYAGAIN")
	}))

	d := newDispatcher(sm, conns)
	d.Retry = RetryParams{NumberOfRetries: 2}
	_, err := d.Do(context.Background(), "GET", []string{"k"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 1 initial attempt + 2 retries = 3 calls, got %d", calls)
	}
}

func TestDoReturnsClientErrorForUnroutableCommand(t *testing.T) {
	sm, _ := oneShardTopology("nodeA")
	conns := connections.New()
	d := newDispatcher(sm, conns)
	_, err := d.Do(context.Background(), "SCAN", []string{"0"})
	if err == nil || clustererrs.KindOf(err) != clustererrs.KindClientError {
		t.Errorf("expected KindClientError for SCAN, got %v", err)
	}
}

func TestDoRoutesFanOutCommandThroughBatch(t *testing.T) {
	sm := slotmap.New()
	shardA := slotmap.NewShardAddrsPrimaryOnly("nodeA")
	shardB := slotmap.NewShardAddrsPrimaryOnly("nodeB")
	mid := slotmap.NumSlots / 2
	sm.SetRanges([]slotmap.Range{
		{Start: 0, End: mid - 1, Shard: shardA},
		{Start: mid, End: slotmap.NumSlots - 1, Shard: shardB},
	})
	conns := connections.New()
	conns.ReplaceOrAddConnection("nodeA", nodeconn.NewFake("nodeA", func(args []string) (interface{}, error) {
		return int64(3), nil
	}))
	conns.ReplaceOrAddConnection("nodeB", nodeconn.NewFake("nodeB", func(args []string) (interface{}, error) {
		return int64(5), nil
	}))

	d := newDispatcher(sm, conns)
	v, err := d.Do(context.Background(), "DBSIZE", nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(8) {
		t.Errorf("DBSIZE across two shards = %v, want summed 8", v)
	}
}

func TestDoContextCancellationStopsRetryLoop(t *testing.T) {
	sm, _ := oneShardTopology("nodeA")
	conns := connections.New()
	conns.ReplaceOrAddConnection("nodeA", nodeconn.NewFake("nodeA", func(args []string) (interface{}, error) {
		return nil, clustererrs.New(clustererrs.KindTryAgain, "TRYAGAIN")
	}))

	d := newDispatcher(sm, conns)
	d.Retry = RetryParams{NumberOfRetries: 100}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := d.Do(ctx, "GET", []string{"k"})
	if err == nil {
		t.Fatal("expected an error once the context was cancelled")
	}
}
