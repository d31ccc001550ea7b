package diagnostics

import (
	"testing"

	"vkcluster/internal/slotmap"
)

func TestFindRunEndExtendsWhileSamePrimary(t *testing.T) {
	sm := slotmap.New()
	sm.SetRanges([]slotmap.Range{
		{Start: 0, End: 99, Shard: slotmap.NewShardAddrsPrimaryOnly("nodeA")},
		{Start: 100, End: 199, Shard: slotmap.NewShardAddrsPrimaryOnly("nodeB")},
	})

	end := findRunEnd(sm, 0, 199, "nodeA")
	if end != 99 {
		t.Errorf("findRunEnd = %d, want 99 (run stops where primary changes to nodeB)", end)
	}
}

func TestFindRunEndStopsImmediatelyOnMismatchedPrimary(t *testing.T) {
	sm := slotmap.New()
	sm.SetRanges([]slotmap.Range{
		{Start: 0, End: 99, Shard: slotmap.NewShardAddrsPrimaryOnly("nodeA")},
	})

	end := findRunEnd(sm, 0, 99, "nodeZ")
	if end != 0 {
		t.Errorf("findRunEnd = %d, want 0 when slot 1's primary nodeA already differs from nodeZ", end)
	}
}
