package batch

import (
	"context"
	"sync"

	"vkcluster/internal/aggregate"
	"vkcluster/internal/clustererrs"
	"vkcluster/internal/connections"
	"vkcluster/internal/nodeconn"
	"vkcluster/internal/routing"
	"vkcluster/internal/slotmap"
)

// subCommand is one node's share of one original pipeline command.
type subCommand struct {
	cmdIndex   int
	wireArgs   []string
	argIndices []int // only meaningful when the owning command is MultiShard
}

// planCommand classifies cmd and expands it into per-address sub-commands.
func planCommand(r Resolver, cmdIndex int, cmd Command) (addrSubs map[string][]subCommand, info routing.RoutingInfo, err error) {
	info, err = routing.Classify(cmd.Name, cmd.Args)
	if err != nil {
		return nil, info, err
	}

	addrSubs = make(map[string][]subCommand)

	switch info.By {
	case routing.Undefined:
		return nil, info, clustererrs.New(clustererrs.KindClientError, cmd.Name+" cannot be routed automatically")

	case routing.AllNodes:
		for _, addr := range r.SlotMap().AllNodeAddresses() {
			addrSubs[addr] = []subCommand{{cmdIndex: cmdIndex, wireArgs: fullWire(cmd)}}
		}
		return addrSubs, info, nil

	case routing.AllPrimaries:
		for _, addr := range primaryAddresses(r.SlotMap()) {
			addrSubs[addr] = []subCommand{{cmdIndex: cmdIndex, wireArgs: fullWire(cmd)}}
		}
		return addrSubs, info, nil

	case routing.MultiShard:
		keyIdx, err := routing.KeyIndices(info.By, info.Pattern, cmd.Args)
		if err != nil {
			return nil, info, err
		}
		subs := routing.SplitMultiShard(info.Pattern, keyIdx, cmd.Args)
		slotAddr := slotmap.Master
		if info.ReadOnly {
			slotAddr = slotmap.ReplicaOptional
		}
		for _, sc := range subs {
			addr, _, ok := r.Connections().ConnectionForRoute(
				connections.Route{Slot: sc.Slot, SlotAddr: slotAddr}, r.SlotMap(), r.ReplicaPolicy())
			if !ok {
				return nil, info, clustererrs.New(clustererrs.KindConnectionNotFoundForRoute, "no connection for a shard touched by "+cmd.Name)
			}
			wire := subShardWire(cmd, info.Pattern, sc.ArgIndices)
			addrSubs[addr] = append(addrSubs[addr], subCommand{
				cmdIndex:   cmdIndex,
				wireArgs:   wire,
				argIndices: sc.ArgIndices,
			})
		}
		return addrSubs, info, nil

	default:
		// Single-node routing kinds (FirstKey, SecondArg,
		// SecondArgAfterKeyCount, ThirdArgAfterKeyCount, SecondArgSlot,
		// StreamsIndex, Random).
		addr, err := singleNodeAddr(r, info, cmd.Args)
		if err != nil {
			return nil, info, err
		}
		addrSubs[addr] = []subCommand{{cmdIndex: cmdIndex, wireArgs: fullWire(cmd)}}
		return addrSubs, info, nil
	}
}

func fullWire(cmd Command) []string {
	return append([]string{cmd.Name}, cmd.Args...)
}

// subShardWire reconstructs the wire form of one shard's share of a
// MultiShard command from the original command and the argument indices
// assigned to this shard.
func subShardWire(cmd Command, pattern routing.MultiShardPattern, argIndices []int) []string {
	wire := []string{cmd.Name}
	switch pattern {
	case routing.KeysOnly:
		for _, i := range argIndices {
			wire = append(wire, cmd.Args[i])
		}
	case routing.KeyValuePairs:
		for _, i := range argIndices {
			wire = append(wire, cmd.Args[i], cmd.Args[i+1])
		}
	case routing.KeysAndLastArg:
		for _, i := range argIndices {
			wire = append(wire, cmd.Args[i])
		}
		wire = append(wire, cmd.Args[len(cmd.Args)-1])
	case routing.KeyWithTwoArgTriples:
		for _, i := range argIndices {
			wire = append(wire, cmd.Args[i], cmd.Args[i+1], cmd.Args[i+2])
		}
	}
	return wire
}

func primaryAddresses(sm *slotmap.SlotMap) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rng := range sm.AllRanges() {
		p := rng.Shard.Primary()
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func singleNodeAddr(r Resolver, info routing.RoutingInfo, args []string) (string, error) {
	if info.By == routing.Random {
		conns := r.Connections().RandomConnections(1, connections.PreferUser)
		if len(conns) == 0 {
			return "", clustererrs.New(clustererrs.KindAllConnectionsUnavailable, "no connections available for Random routing")
		}
		return conns[0].Addr(), nil
	}

	indices, err := routing.KeyIndices(info.By, info.Pattern, args)
	if err != nil {
		return "", err
	}
	if len(indices) == 0 {
		// e.g. EVAL with zero keys: fall back to Random.
		conns := r.Connections().RandomConnections(1, connections.PreferUser)
		if len(conns) == 0 {
			return "", clustererrs.New(clustererrs.KindAllConnectionsUnavailable, "no connections available")
		}
		return conns[0].Addr(), nil
	}
	slot := slotmap.KeySlot(args[indices[0]])
	slotAddr := slotmap.Master
	if info.ReadOnly {
		slotAddr = slotmap.ReplicaOptional
	}
	addr, _, ok := r.Connections().ConnectionForRoute(connections.Route{Slot: slot, SlotAddr: slotAddr}, r.SlotMap(), r.ReplicaPolicy())
	if !ok {
		return "", clustererrs.New(clustererrs.KindConnectionNotFoundForRoute, "no connection for the routed slot")
	}
	return addr, nil
}

// executeNonAtomic implements spec.md §4.E's six-step non-atomic pipeline
// protocol: classify, group by address, execute per-node sub-pipelines
// concurrently, then recombine into original order (applying aggregation
// for commands that fanned out to more than one node).
func executeNonAtomic(ctx context.Context, r Resolver, pipe Pipeline) ([]Response, error) {
	type cmdPlan struct {
		info       routing.RoutingInfo
		isMulti    bool
		totalKeys  int
	}
	plans := make([]cmdPlan, len(pipe.Commands))
	byAddr := make(map[string][]subCommand)
	addrOrder := []string{}

	for i, cmd := range pipe.Commands {
		addrSubs, info, err := planCommand(r, i, cmd)
		if err != nil {
			return nil, err
		}
		isMulti := info.By == routing.AllNodes || info.By == routing.AllPrimaries || info.By == routing.MultiShard
		totalKeys := 0
		if info.By == routing.MultiShard {
			keyIdx, _ := routing.KeyIndices(info.By, info.Pattern, cmd.Args)
			totalKeys = len(keyIdx)
		}
		plans[i] = cmdPlan{info: info, isMulti: isMulti, totalKeys: totalKeys}
		for addr, subs := range addrSubs {
			if _, ok := byAddr[addr]; !ok {
				addrOrder = append(addrOrder, addr)
			}
			byAddr[addr] = append(byAddr[addr], subs...)
		}
	}

	type nodeResult struct {
		addr    string
		subs    []subCommand
		results []nodeconn.Result
		err     error
	}
	resultsCh := make(chan nodeResult, len(addrOrder))
	var wg sync.WaitGroup
	for _, addr := range addrOrder {
		addr := addr
		subs := byAddr[addr]
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, ok := r.Connections().ConnectionForAddress(addr)
			if !ok {
				resultsCh <- nodeResult{addr: addr, subs: subs, err: clustererrs.New(clustererrs.KindConnectionNotFoundForRoute, "no connection for "+addr)}
				return
			}
			wire := make([][]string, len(subs))
			for i, s := range subs {
				wire[i] = s.wireArgs
			}
			res := <-conn.SendPipeline(ctx, wire)
			resultsCh <- nodeResult{addr: addr, subs: subs, results: res}
		}()
	}
	wg.Wait()
	close(resultsCh)

	// pipelineResponses[cmdIndex] accumulates every node's contribution.
	responses := make([][]aggregate.NodeReply, len(pipe.Commands))
	contributions := make(map[int][]aggregate.RouteContribution)

	for nr := range resultsCh {
		if nr.err != nil {
			for _, s := range nr.subs {
				responses[s.cmdIndex] = append(responses[s.cmdIndex], aggregate.NodeReply{Addr: nr.addr, Err: nr.err})
			}
			continue
		}
		for i, s := range nr.subs {
			var reply nodeconn.Result
			if i < len(nr.results) {
				reply = nr.results[i]
			} else {
				reply = nodeconn.Result{Err: clustererrs.New(clustererrs.KindProtocolDesync, "missing reply for sub-command")}
			}
			responses[s.cmdIndex] = append(responses[s.cmdIndex], aggregate.NodeReply{Addr: nr.addr, Value: reply.Reply, Err: reply.Err})

			if plans[s.cmdIndex].info.By == routing.MultiShard && plans[s.cmdIndex].info.Policy == routing.PolicyCombineArrays && reply.Err == nil {
				var vals []interface{}
				if arr, ok := reply.Reply.([]interface{}); ok {
					vals = arr
				} else {
					vals = []interface{}{reply.Reply}
				}
				contributions[s.cmdIndex] = append(contributions[s.cmdIndex], aggregate.RouteContribution{
					ArgIndices: keyPositionsFor(plans[s.cmdIndex].info.Pattern, s.argIndices),
					Values:     vals,
				})
			}
		}
	}

	out := make([]Response, len(pipe.Commands))
	for i, plan := range plans {
		// Only CombineArrays MultiShard commands (MGET, JSON.MGET) need their
		// per-shard array replies reordered back into per-key position;
		// AggregateSum (DEL/EXISTS/TOUCH/UNLINK), AllSucceeded (MSET/WATCH),
		// and any other MultiShard policy fold through aggregate.Combine like
		// AllNodes/AllPrimaries fan-out does.
		if plan.info.By == routing.MultiShard && plan.info.Policy == routing.PolicyCombineArrays {
			if err := firstErr(responses[i]); err != nil {
				out[i] = Response{Err: err}
				continue
			}
			val, err := aggregate.CombineMultiSlotArrays(contributions[i], plan.totalKeys)
			out[i] = Response{Value: val, Err: err}
			continue
		}
		if plan.isMulti {
			val, err := aggregate.Combine(plan.info.Policy, responses[i])
			out[i] = Response{Value: val, Err: err}
			continue
		}
		// Single-node command: expect exactly one entry.
		if len(responses[i]) != 1 {
			out[i] = Response{Err: clustererrs.New(clustererrs.KindClientError, "pipeline response error: expected exactly one reply")}
			continue
		}
		out[i] = Response{Value: responses[i][0].Value, Err: responses[i][0].Err}
	}
	return out, nil
}

func firstErr(replies []aggregate.NodeReply) error {
	for _, r := range replies {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// keyPositionsFor converts a MultiShard sub-command's original argument
// indices into zero-based key positions (0,1,2,... across all keys in the
// command), matching the stride of pattern so CombineMultiSlotArrays can
// place each shard's values directly.
func keyPositionsFor(pattern routing.MultiShardPattern, argIndices []int) []int {
	stride := 1
	switch pattern {
	case routing.KeyValuePairs:
		stride = 2
	case routing.KeyWithTwoArgTriples:
		stride = 3
	}
	out := make([]int, len(argIndices))
	for i, idx := range argIndices {
		out[i] = idx / stride
	}
	return out
}
