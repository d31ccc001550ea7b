package batch

import (
	"context"
	"testing"

	"vkcluster/internal/connections"
	"vkcluster/internal/nodeconn"
	"vkcluster/internal/slotmap"
)

// fakeResolver wires together an in-memory two-shard cluster for tests.
type fakeResolver struct {
	sm    *slotmap.SlotMap
	conns *connections.Container
}

func newFakeResolver(t *testing.T) *fakeResolver {
	t.Helper()
	sm := slotmap.New()
	conns := connections.New()

	shardA := slotmap.NewShardAddrsPrimaryOnly("nodeA")
	shardB := slotmap.NewShardAddrsPrimaryOnly("nodeB")
	mid := slotmap.NumSlots / 2
	sm.SetRanges([]slotmap.Range{
		{Start: 0, End: mid - 1, Shard: shardA},
		{Start: mid, End: slotmap.NumSlots - 1, Shard: shardB},
	})

	store := map[string]map[string]string{"nodeA": {}, "nodeB": {}}
	mkFake := func(node string) *nodeconn.Fake {
		return nodeconn.NewFake(node, func(args []string) (interface{}, error) {
			switch args[0] {
			case "SET":
				store[node][args[1]] = args[2]
				return "OK", nil
			case "GET", "MGET":
				if args[0] == "GET" {
					v, ok := store[node][args[1]]
					if !ok {
						return nil, nil
					}
					return v, nil
				}
				out := make([]interface{}, 0, len(args)-1)
				for _, k := range args[1:] {
					if v, ok := store[node][k]; ok {
						out = append(out, v)
					} else {
						out = append(out, nil)
					}
				}
				return out, nil
			case "PING":
				return "PONG", nil
			case "DBSIZE":
				return int64(len(store[node])), nil
			case "DEL":
				var n int64
				for _, k := range args[1:] {
					if _, ok := store[node][k]; ok {
						delete(store[node], k)
						n++
					}
				}
				return n, nil
			default:
				return "OK", nil
			}
		})
	}
	conns.ReplaceOrAddConnection("nodeA", mkFake("nodeA"))
	conns.ReplaceOrAddConnection("nodeB", mkFake("nodeB"))

	return &fakeResolver{sm: sm, conns: conns}
}

func (f *fakeResolver) SlotMap() *slotmap.SlotMap            { return f.sm }
func (f *fakeResolver) Connections() *connections.Container  { return f.conns }
func (f *fakeResolver) ReplicaPolicy() slotmap.ReplicaPolicy { return slotmap.AlwaysFromPrimary{} }

// keysFor returns two keys guaranteed to land on different shards of the
// fakeResolver's two-shard topology.
func keysFor(t *testing.T) (string, string) {
	t.Helper()
	mid := slotmap.NumSlots / 2
	for i := 0; i < 10000; i++ {
		k := "k" + itoa(i)
		s := slotmap.KeySlot(k)
		if s < mid {
			for j := 0; j < 10000; j++ {
				k2 := "x" + itoa(j)
				if slotmap.KeySlot(k2) >= mid {
					return k, k2
				}
			}
		}
	}
	t.Fatal("could not find two keys on different shards")
	return "", ""
}

func TestExecuteNonAtomicSingleNode(t *testing.T) {
	r := newFakeResolver(t)
	ctx := context.Background()
	resp, err := Execute(ctx, r, Pipeline{Commands: []Command{
		{Name: "SET", Args: []string{"a", "1"}},
		{Name: "GET", Args: []string{"a"}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if resp[1].Value != "1" {
		t.Errorf("GET a = %v, want 1", resp[1].Value)
	}
}

func TestExecuteNonAtomicMultiShardMGET(t *testing.T) {
	r := newFakeResolver(t)
	k1, k2 := keysFor(t)
	ctx := context.Background()

	_, err := Execute(ctx, r, Pipeline{Commands: []Command{
		{Name: "SET", Args: []string{k1, "v1"}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	_, err = Execute(ctx, r, Pipeline{Commands: []Command{
		{Name: "SET", Args: []string{k2, "v2"}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := Execute(ctx, r, Pipeline{Commands: []Command{
		{Name: "MGET", Args: []string{k1, k2}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	arr, ok := resp[0].Value.([]interface{})
	if !ok || len(arr) != 2 {
		t.Fatalf("MGET result = %#v", resp[0].Value)
	}
	if arr[0] != "v1" || arr[1] != "v2" {
		t.Errorf("MGET result in wrong order: %v", arr)
	}
}

func TestExecuteNonAtomicAllPrimariesAggregatesSum(t *testing.T) {
	r := newFakeResolver(t)
	ctx := context.Background()
	resp, err := Execute(ctx, r, Pipeline{Commands: []Command{
		{Name: "DBSIZE"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if resp[0].Value != int64(0) {
		t.Errorf("DBSIZE sum = %v, want 0", resp[0].Value)
	}
}

func TestExecuteNonAtomicMultiShardDELSumsCounts(t *testing.T) {
	r := newFakeResolver(t)
	k1, k2 := keysFor(t)
	ctx := context.Background()

	_, err := Execute(ctx, r, Pipeline{Commands: []Command{
		{Name: "SET", Args: []string{k1, "v1"}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	_, err = Execute(ctx, r, Pipeline{Commands: []Command{
		{Name: "SET", Args: []string{k2, "v2"}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := Execute(ctx, r, Pipeline{Commands: []Command{
		{Name: "DEL", Args: []string{k1, k2}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	// DEL is Aggregate(Sum), not CombineArrays: each shard answers with a
	// single integer count, and those counts must be summed, not treated
	// as a per-key array to reorder.
	if resp[0].Value != int64(2) {
		t.Errorf("DEL across shards = %v, want summed count 2", resp[0].Value)
	}
}

func TestExecuteAtomicCrossSlotFails(t *testing.T) {
	r := newFakeResolver(t)
	k1, k2 := keysFor(t)
	ctx := context.Background()
	_, err := Execute(ctx, r, Pipeline{Atomic: true, Commands: []Command{
		{Name: "SET", Args: []string{k1, "1"}},
		{Name: "SET", Args: []string{k2, "2"}},
	}})
	if err == nil {
		t.Fatal("expected CrossSlot error for an atomic pipeline spanning two shards")
	}
}

func TestExecuteAtomicSameSlotSucceeds(t *testing.T) {
	r := newFakeResolver(t)
	ctx := context.Background()
	resp, err := Execute(ctx, r, Pipeline{Atomic: true, Commands: []Command{
		{Name: "SET", Args: []string{"{t}a", "1"}},
		{Name: "SET", Args: []string{"{t}b", "2"}},
		{Name: "GET", Args: []string{"{t}a"}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if resp[2].Value != "1" {
		t.Errorf("GET {t}a = %v, want 1", resp[2].Value)
	}
}
