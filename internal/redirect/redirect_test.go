package redirect

import (
	"testing"

	"vkcluster/internal/clustererrs"
	"vkcluster/internal/connections"
	"vkcluster/internal/slotmap"
)

func TestHandleMovedUpdatesSlotMap(t *testing.T) {
	sm := slotmap.New()
	shard := slotmap.NewShardAddrsPrimaryOnly("old:7000")
	sm.SetRanges([]slotmap.Range{{Start: 0, End: slotmap.NumSlots - 1, Shard: shard}})
	conns := connections.New()

	err := clustererrs.New(clustererrs.KindMoved, "MOVED 500 new:7001")
	outcome, ok := Handle(err, sm, conns)
	if !ok {
		t.Fatal("expected MOVED to be recognized")
	}
	if outcome.Action != RetryAtAddress || outcome.Addr != "new:7001" || outcome.Ask {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
	if got := sm.ShardAddrsForSlot(500).Primary(); got != "new:7001" {
		t.Errorf("slot 500 primary = %s, want new:7001", got)
	}
}

func TestHandleAskDoesNotChangeSlotMap(t *testing.T) {
	sm := slotmap.New()
	shard := slotmap.NewShardAddrsPrimaryOnly("p:7000")
	sm.SetRanges([]slotmap.Range{{Start: 0, End: slotmap.NumSlots - 1, Shard: shard}})
	conns := connections.New()

	err := clustererrs.New(clustererrs.KindAsk, "ASK 500 p2:7001")
	outcome, ok := Handle(err, sm, conns)
	if !ok {
		t.Fatal("expected ASK to be recognized")
	}
	if !outcome.Ask || outcome.Addr != "p2:7001" {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
	if got := sm.ShardAddrsForSlot(500).Primary(); got != "p:7000" {
		t.Errorf("ASK must not change slot ownership, got primary %s", got)
	}
}

func TestHandleIgnoresOtherErrors(t *testing.T) {
	sm := slotmap.New()
	conns := connections.New()
	_, ok := Handle(clustererrs.New(clustererrs.KindTryAgain, "TRYAGAIN"), sm, conns)
	if ok {
		t.Error("TRYAGAIN must not be handled as a redirect")
	}
}
