// Package diagnostics cross-checks this module's own view of cluster
// topology against go-redis/v9's independent CLUSTER SLOTS parsing, as a
// standalone verification tool for operators who suspect the slot map has
// drifted from the live cluster.
package diagnostics

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/redis/go-redis/v9"

	"vkcluster/internal/slotmap"
)

// Config describes how to reach the cluster being diagnosed.
type Config struct {
	SeedAddrs []string
	Username  string
	Password  string
	// Protocol is "resp2" or "resp3"; anything else defaults to go-redis's
	// own RESP3-first negotiation.
	Protocol string
}

// protocolVersion maps Config.Protocol onto go-redis's ClusterOptions.Protocol
// (2 or 3); 0 lets go-redis negotiate.
func (c Config) protocolVersion() int {
	switch c.Protocol {
	case "resp2":
		return 2
	case "resp3":
		return 3
	default:
		return 0
	}
}

// Mismatch describes one slot range where the live cluster disagrees with
// the slot map under test.
type Mismatch struct {
	Start, End  int
	WantPrimary string
	GotPrimary  string
}

// CompareTopology fetches the live cluster's slot layout via go-redis and
// reports every range where it disagrees with sm's current view.
func CompareTopology(ctx context.Context, cfg Config, sm *slotmap.SlotMap) ([]Mismatch, error) {
	rdb := redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:    cfg.SeedAddrs,
		Username: cfg.Username,
		Password: cfg.Password,
		Protocol: cfg.protocolVersion(),
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to cluster: %w", err)
	}

	slots, err := rdb.ClusterSlots(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("CLUSTER SLOTS: %w", err)
	}

	var mismatches []Mismatch
	for _, s := range slots {
		if len(s.Nodes) == 0 {
			continue
		}
		wantPrimary := s.Nodes[0].Addr
		for slot := s.Start; slot <= s.End; {
			shard := sm.ShardAddrsForSlot(slot)
			gotPrimary := ""
			if shard != nil {
				gotPrimary = shard.Primary()
			}
			if gotPrimary != wantPrimary {
				end := findRunEnd(sm, slot, s.End, gotPrimary)
				mismatches = append(mismatches, Mismatch{Start: slot, End: end, WantPrimary: wantPrimary, GotPrimary: gotPrimary})
				slot = end + 1
				continue
			}
			slot++
		}
	}

	sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].Start < mismatches[j].Start })
	log.Printf("diagnostics: compared topology, found %d mismatched range(s)", len(mismatches))
	return mismatches, nil
}

// findRunEnd extends a mismatch run while the slot map keeps reporting the
// same (possibly wrong) primary, so one contiguous disagreement is reported
// as a single Mismatch instead of one per slot.
func findRunEnd(sm *slotmap.SlotMap, start, limit int, primary string) int {
	end := start
	for end < limit {
		shard := sm.ShardAddrsForSlot(end + 1)
		got := ""
		if shard != nil {
			got = shard.Primary()
		}
		if got != primary {
			break
		}
		end++
	}
	return end
}
