// Package routing classifies a Redis/Valkey command into where it must be
// sent in a sharded cluster and how per-node replies should be combined,
// mirroring the original client's base_routing and ResponsePolicy tables
// (spec component A).
package routing

// RouteByKind is how a command's target node(s) are determined.
type RouteByKind int

const (
	// FirstKey: hash the command's first key argument (the default for any
	// command not listed in one of the other tables).
	FirstKey RouteByKind = iota
	// AllNodes: fan out to every node, primary and replica alike.
	AllNodes
	// AllPrimaries: fan out to every shard's primary only.
	AllPrimaries
	// Random: any single connected node will do.
	Random
	// RandomPrimary: any single primary will do (never produced by
	// Classify for a caller-issued command).
	RandomPrimary
	// SecondArg: hash the command's second argument as the routing key.
	SecondArg
	// SecondArgAfterKeyCount: the second argument is a key count N; route on
	// the first key that follows it.
	SecondArgAfterKeyCount
	// SecondArgSlot: the second argument is itself a slot number.
	SecondArgSlot
	// StreamsIndex: keys are interleaved after a STREAMS token (XREAD-family).
	StreamsIndex
	// ThirdArgAfterKeyCount: the third argument is a key count N; route on
	// the first key that follows it (EVAL-family).
	ThirdArgAfterKeyCount
	// MultiShard: the command may need splitting across several shards; see
	// MultiShardPattern for how its keys are laid out.
	MultiShard
	// Undefined: routing is refused outright (SCAN-family cursors, SHUTDOWN).
	Undefined
)

func (k RouteByKind) String() string {
	switch k {
	case FirstKey:
		return "FirstKey"
	case AllNodes:
		return "AllNodes"
	case AllPrimaries:
		return "AllPrimaries"
	case Random:
		return "Random"
	case RandomPrimary:
		return "RandomPrimary"
	case SecondArg:
		return "SecondArg"
	case SecondArgAfterKeyCount:
		return "SecondArgAfterKeyCount"
	case SecondArgSlot:
		return "SecondArgSlot"
	case StreamsIndex:
		return "StreamsIndex"
	case ThirdArgAfterKeyCount:
		return "ThirdArgAfterKeyCount"
	case MultiShard:
		return "MultiShard"
	case Undefined:
		return "Undefined"
	default:
		return "Unknown"
	}
}

// MultiShardPattern describes how a MultiShard command's arguments lay out
// its keys (and any values/extra args riding alongside each key).
type MultiShardPattern int

const (
	// KeysOnly: every remaining argument is a key (MGET, DEL, EXISTS...).
	KeysOnly MultiShardPattern = iota
	// KeyValuePairs: arguments alternate key, value, key, value... (MSET).
	KeyValuePairs
	// KeysAndLastArg: every argument except the last is a key, and the last
	// argument is a shared trailing value repeated onto each per-shard
	// sub-command (JSON.MGET key [key ...] path).
	KeysAndLastArg
	// KeyWithTwoArgTriples: arguments come in (key, path, value) triples
	// (JSON.MSET key path value [key path value ...]).
	KeyWithTwoArgTriples
)

// ResponsePolicy is how replies from multiple nodes are combined into the
// single value returned to the caller.
type ResponsePolicy int

const (
	// PolicyNone: no entry in the table; the bare address->reply map is
	// returned as-is to the caller (the original's "None" case).
	PolicyNone ResponsePolicy = iota
	PolicyOneSucceeded
	PolicyFirstSucceededNonEmptyOrAllEmpty
	PolicyAllSucceeded
	PolicyAggregateLogicalAnd
	PolicyAggregateSum
	PolicyAggregateMin
	PolicyCombineArrays
	PolicyCombineMaps
	PolicySpecial
)

func (p ResponsePolicy) String() string {
	switch p {
	case PolicyOneSucceeded:
		return "OneSucceeded"
	case PolicyFirstSucceededNonEmptyOrAllEmpty:
		return "FirstSucceededNonEmptyOrAllEmpty"
	case PolicyAllSucceeded:
		return "AllSucceeded"
	case PolicyAggregateLogicalAnd:
		return "AggregateLogicalAnd"
	case PolicyAggregateSum:
		return "AggregateSum"
	case PolicyAggregateMin:
		return "AggregateMin"
	case PolicyCombineArrays:
		return "CombineArrays"
	case PolicyCombineMaps:
		return "CombineMaps"
	case PolicySpecial:
		return "Special"
	default:
		return "None"
	}
}

// RoutingInfo is the result of classifying a command.
type RoutingInfo struct {
	By       RouteByKind
	Pattern  MultiShardPattern // meaningful only when By == MultiShard
	Policy   ResponsePolicy
	ReadOnly bool // true if is_readonly_cmd(cmd)
}
