package cluster

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"vkcluster/internal/refresh"
	"vkcluster/internal/slotmap"
)

// nodeLine is one parsed row of CLUSTER NODES output, e.g.:
//
//	07c37dfeb235213a872192d90877d0cd55635b91 127.0.0.1:30004@31004 slave e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 0 1426238317239 4 connected
//	67ed2db8d677e59ec4a4cefb06858cf2a1a89fa1 127.0.0.1:30002@31002 master - 0 1426238316232 2 connected 5461-10922
type nodeLine struct {
	id     string
	addr   string
	flags  []string
	master string
	epoch  int64
	slots  [][2]int
}

func (n nodeLine) isMaster() bool {
	for _, f := range n.flags {
		if f == "master" {
			return true
		}
	}
	return false
}

// parseClusterNodes parses raw CLUSTER NODES output into one row per node.
func parseClusterNodes(output string) ([]nodeLine, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	var nodes []nodeLine
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 8 {
			return nil, fmt.Errorf("invalid CLUSTER NODES line: %s", line)
		}

		epoch, err := strconv.ParseInt(fields[6], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing config epoch in %q: %w", line, err)
		}

		node := nodeLine{
			id:     fields[0],
			addr:   normalizeAddr(fields[1]),
			flags:  strings.Split(fields[2], ","),
			master: fields[3],
			epoch:  epoch,
		}

		for i := 8; i < len(fields); i++ {
			slotField := fields[i]
			if strings.HasPrefix(slotField, "[") {
				continue // skip importing/migrating markers
			}
			slotRange, err := parseSlotRange(slotField)
			if err != nil {
				return nil, fmt.Errorf("parsing slot range %q: %w", slotField, err)
			}
			node.slots = append(node.slots, slotRange)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// normalizeAddr strips the @bus-port suffix CLUSTER NODES appends.
func normalizeAddr(addr string) string {
	if idx := strings.Index(addr, "@"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

func parseSlotRange(s string) ([2]int, error) {
	parts := strings.Split(s, "-")
	switch len(parts) {
	case 1:
		slot, err := strconv.Atoi(parts[0])
		if err != nil {
			return [2]int{}, err
		}
		return [2]int{slot, slot}, nil
	case 2:
		start, err := strconv.Atoi(parts[0])
		if err != nil {
			return [2]int{}, err
		}
		end, err := strconv.Atoi(parts[1])
		if err != nil {
			return [2]int{}, err
		}
		return [2]int{start, end}, nil
	default:
		return [2]int{}, fmt.Errorf("invalid slot range: %s", s)
	}
}

// buildTopologyView turns parsed CLUSTER NODES rows into a refresh.TopologyView:
// one slotmap.Range per contiguous primary-owned slot block, the highest
// config epoch observed, and a stable hash of the canonical layout so
// refresh.calculateTopology can compare views from different nodes.
func buildTopologyView(reportedBy string, nodes []nodeLine) refresh.TopologyView {
	byID := make(map[string]nodeLine, len(nodes))
	for _, n := range nodes {
		byID[n.id] = n
	}

	shards := make(map[string]*slotmap.ShardAddrs) // primary addr -> shard
	var ranges []slotmap.Range
	var maxEpoch int64

	for _, n := range nodes {
		if n.epoch > maxEpoch {
			maxEpoch = n.epoch
		}
		if !n.isMaster() || len(n.slots) == 0 {
			continue
		}
		shard, ok := shards[n.addr]
		if !ok {
			shard = slotmap.NewShardAddrsPrimaryOnly(n.addr)
			shards[n.addr] = shard
		}
		for _, r := range n.slots {
			ranges = append(ranges, slotmap.Range{Start: r[0], End: r[1], Shard: shard})
		}
	}

	for _, n := range nodes {
		if n.isMaster() {
			continue
		}
		primary, ok := byID[n.master]
		if !ok {
			continue
		}
		if shard, ok := shards[primary.addr]; ok {
			shard.AddReplica(n.addr)
		}
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })

	return refresh.TopologyView{
		Addr:   reportedBy,
		Ranges: ranges,
		Epoch:  maxEpoch,
		Hash:   hashRanges(ranges),
	}
}

func hashRanges(ranges []slotmap.Range) string {
	h := sha1.New()
	for _, r := range ranges {
		fmt.Fprintf(h, "%d-%d:%s;", r.Start, r.End, r.Shard.Primary())
	}
	return hex.EncodeToString(h.Sum(nil))
}
