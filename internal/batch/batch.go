// Package batch implements pipeline execution: atomic transactions routed
// to a single node, and non-atomic pipelines split into per-node
// sub-pipelines and merged back in original order (spec component E).
package batch

import (
	"context"

	"vkcluster/internal/clustererrs"
	"vkcluster/internal/connections"
	"vkcluster/internal/routing"
	"vkcluster/internal/slotmap"
)

// Command is one pipeline entry: an opcode plus its arguments.
type Command struct {
	Name string
	Args []string
}

// Pipeline is an ordered batch of commands, optionally marked atomic
// (MULTI/EXEC semantics: single-node, all-or-nothing framing).
type Pipeline struct {
	Commands []Command
	Atomic   bool
}

// Response is one command's outcome within a pipeline result.
type Response struct {
	Value interface{}
	Err   error
}

// Resolver is the subset of the cluster client's state batch needs:
// current topology, connection lookup, and replica-read policy.
type Resolver interface {
	SlotMap() *slotmap.SlotMap
	Connections() *connections.Container
	ReplicaPolicy() slotmap.ReplicaPolicy
}

// Execute runs pipe against the cluster described by r and returns one
// Response per command, in original order.
func Execute(ctx context.Context, r Resolver, pipe Pipeline) ([]Response, error) {
	if pipe.Atomic {
		return executeAtomic(ctx, r, pipe)
	}
	return executeNonAtomic(ctx, r, pipe)
}

// firstKeyOf returns the first key argument found in cmd per its routing
// classification, or ok=false if the command carries no key at all.
func firstKeyOf(cmd Command) (key string, ok bool) {
	info, err := routing.Classify(cmd.Name, cmd.Args)
	if err != nil {
		return "", false
	}
	indices, err := routing.KeyIndices(info.By, info.Pattern, cmd.Args)
	if err != nil || len(indices) == 0 {
		return "", false
	}
	return cmd.Args[indices[0]], true
}

// executeAtomic derives the single target node from the first keyed
// command; conflicting slots across the transaction are a CrossSlot error.
// Unkeyed commands (e.g. MULTI/EXEC framing helpers) don't influence
// routing.
func executeAtomic(ctx context.Context, r Resolver, pipe Pipeline) ([]Response, error) {
	slot := -1
	for _, cmd := range pipe.Commands {
		key, ok := firstKeyOf(cmd)
		if !ok {
			continue
		}
		s := slotmap.KeySlot(key)
		if slot == -1 {
			slot = s
		} else if slot != s {
			return nil, clustererrs.New(clustererrs.KindCrossSlot, "atomic pipeline touches more than one slot")
		}
	}
	if slot == -1 {
		return nil, clustererrs.New(clustererrs.KindClientError, "atomic pipeline contains no keyed command to route on")
	}

	addr, conn, ok := r.Connections().ConnectionForRoute(
		connections.Route{Slot: slot, SlotAddr: slotmap.Master}, r.SlotMap(), r.ReplicaPolicy())
	if !ok {
		return nil, clustererrs.New(clustererrs.KindConnectionNotFoundForRoute, "no connection for slot "+addrOrSlot(addr, slot))
	}

	wire := make([][]string, len(pipe.Commands))
	for i, cmd := range pipe.Commands {
		wire[i] = append([]string{cmd.Name}, cmd.Args...)
	}
	results := <-conn.SendPipeline(ctx, wire)
	out := make([]Response, len(results))
	for i, res := range results {
		out[i] = Response{Value: res.Reply, Err: res.Err}
	}
	return out, nil
}

func addrOrSlot(addr string, slot int) string {
	if addr != "" {
		return addr
	}
	return itoa(slot)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
