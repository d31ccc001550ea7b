package routing

import "strings"

// groupWords lists the command opcodes that take a mandatory subcommand,
// where classification must key off "WORD SUBWORD" rather than "WORD" alone.
var groupWords = map[string]bool{
	"ACL": true, "CLIENT": true, "CLUSTER": true, "COMMAND": true,
	"CONFIG": true, "FUNCTION": true, "LATENCY": true, "MEMORY": true,
	"MODULE": true, "OBJECT": true, "PUBSUB": true, "SCRIPT": true,
	"SLOWLOG": true, "XGROUP": true, "XINFO": true,
}

// normalize upper-cases cmd and, if it's a group word, appends the first
// argument as its subword ("CLUSTER" + "NODES" -> "CLUSTER NODES"). Plain
// commands with no subword pass through unchanged.
func normalize(cmd string, args []string) string {
	cmd = strings.ToUpper(cmd)
	if groupWords[cmd] && len(args) > 0 {
		return cmd + " " + strings.ToUpper(args[0])
	}
	return cmd
}

var routeByTable = buildRouteByTable()

func buildRouteByTable() map[string]RouteByKind {
	t := map[string]RouteByKind{}
	add := func(kind RouteByKind, cmds ...string) {
		for _, c := range cmds {
			t[c] = kind
		}
	}

	add(AllNodes,
		"ACL SETUSER", "ACL DELUSER", "ACL SAVE", "CLIENT SETNAME",
		"CLIENT SETINFO", "SELECT", "SLOWLOG GET", "SLOWLOG LEN",
		"SLOWLOG RESET", "CONFIG SET", "CONFIG RESETSTAT", "CONFIG REWRITE",
		"SCRIPT FLUSH", "SCRIPT LOAD", "LATENCY RESET", "LATENCY GRAPH",
		"LATENCY HISTOGRAM", "LATENCY HISTORY", "LATENCY DOCTOR",
		"LATENCY LATEST", "PUBSUB NUMPAT", "PUBSUB CHANNELS",
		"PUBSUB NUMSUB", "PUBSUB SHARDCHANNELS", "PUBSUB SHARDNUMSUB",
		"SCRIPT KILL", "FUNCTION KILL", "FUNCTION STATS",
	)

	add(AllPrimaries,
		"DBSIZE", "DEBUG", "FLUSHALL", "FLUSHDB", "FT._ALIASLIST", "FT._LIST",
		"FUNCTION DELETE", "FUNCTION FLUSH", "FUNCTION LOAD",
		"FUNCTION RESTORE", "INFO", "KEYS", "MEMORY DOCTOR",
		"MEMORY MALLOC-STATS", "MEMORY PURGE", "MEMORY STATS", "PING",
		"SCRIPT EXISTS", "UNWATCH", "WAIT", "RANDOMKEY", "WAITAOF",
	)

	add(Undefined, "SCAN", "SHUTDOWN", "SLAVEOF", "REPLICAOF")

	add(ThirdArgAfterKeyCount,
		"BLMPOP", "BZMPOP", "EVAL", "EVALSHA", "EVALSHA_RO", "EVAL_RO",
		"FCALL", "FCALL_RO",
	)

	add(SecondArg,
		"BITOP", "MEMORY USAGE", "PFDEBUG", "XGROUP CREATE",
		"XGROUP CREATECONSUMER", "XGROUP DELCONSUMER", "XGROUP DESTROY",
		"XGROUP SETID", "XINFO CONSUMERS", "XINFO GROUPS", "XINFO STREAM",
		"OBJECT ENCODING", "OBJECT FREQ", "OBJECT IDLETIME",
		"OBJECT REFCOUNT", "JSON.DEBUG",
	)

	add(SecondArgAfterKeyCount,
		"LMPOP", "SINTERCARD", "ZDIFF", "ZINTER", "ZINTERCARD",
		"ZMPOP", "ZUNION",
	)

	add(StreamsIndex, "XREAD", "XREADGROUP")

	add(Random,
		"ACL DRYRUN", "ACL GENPASS", "ACL GETUSER", "ACL HELP", "ACL LIST",
		"ACL LOG", "ACL USERS", "ACL WHOAMI", "AUTH", "BGSAVE",
		"CLIENT GETNAME", "CLIENT GETREDIR", "CLIENT ID", "CLIENT INFO",
		"CLIENT KILL", "CLIENT PAUSE", "CLIENT REPLY",
		"CLIENT TRACKINGINFO", "CLIENT UNBLOCK", "CLIENT UNPAUSE",
		"CLUSTER COUNT-FAILURE-REPORTS", "CLUSTER INFO",
		"CLUSTER KEYSLOT", "CLUSTER MEET", "CLUSTER MYSHARDID",
		"CLUSTER NODES", "CLUSTER REPLICAS", "CLUSTER RESET",
		"CLUSTER SET-CONFIG-EPOCH", "CLUSTER SHARDS", "CLUSTER SLOTS",
		"COMMAND COUNT", "COMMAND GETKEYS", "COMMAND LIST", "COMMAND",
		"CONFIG GET", "ECHO", "FUNCTION LIST", "LASTSAVE", "LOLWUT",
		"MODULE LIST", "MODULE LOAD", "MODULE LOADEX", "MODULE UNLOAD",
		"READONLY", "READWRITE", "SAVE", "SCRIPT SHOW", "TFCALL", "TFCALLASYNC",
		"TFUNCTION DELETE", "TFUNCTION LIST", "TFUNCTION LOAD", "TIME",
	)

	add(SecondArgSlot,
		"CLUSTER ADDSLOTS", "CLUSTER COUNTKEYSINSLOT", "CLUSTER DELSLOTS",
		"CLUSTER DELSLOTSRANGE", "CLUSTER GETKEYSINSLOT",
		"CLUSTER SETSLOT",
	)

	t["MGET"] = MultiShard
	t["DEL"] = MultiShard
	t["EXISTS"] = MultiShard
	t["UNLINK"] = MultiShard
	t["TOUCH"] = MultiShard
	t["WATCH"] = MultiShard
	t["MSET"] = MultiShard
	t["JSON.MGET"] = MultiShard
	t["JSON.MSET"] = MultiShard

	return t
}

var multiShardPatternTable = map[string]MultiShardPattern{
	"MGET":      KeysOnly,
	"DEL":       KeysOnly,
	"EXISTS":    KeysOnly,
	"UNLINK":    KeysOnly,
	"TOUCH":     KeysOnly,
	"WATCH":     KeysOnly,
	"MSET":      KeyValuePairs,
	"JSON.MGET": KeysAndLastArg,
	"JSON.MSET": KeyWithTwoArgTriples,
}

var responsePolicyTable = buildResponsePolicyTable()

func buildResponsePolicyTable() map[string]ResponsePolicy {
	t := map[string]ResponsePolicy{}
	add := func(p ResponsePolicy, cmds ...string) {
		for _, c := range cmds {
			t[c] = p
		}
	}

	add(PolicyAggregateLogicalAnd, "SCRIPT EXISTS")
	add(PolicyAggregateSum,
		"DBSIZE", "DEL", "EXISTS", "SLOWLOG LEN", "TOUCH", "UNLINK",
		"LATENCY RESET", "PUBSUB NUMPAT",
	)
	add(PolicyAggregateMin, "WAIT")
	add(PolicyAllSucceeded,
		"ACL SETUSER", "ACL DELUSER", "ACL SAVE", "CLIENT SETNAME",
		"CLIENT SETINFO", "CONFIG SET", "CONFIG RESETSTAT",
		"CONFIG REWRITE", "FLUSHALL", "FLUSHDB", "FUNCTION DELETE",
		"FUNCTION FLUSH", "FUNCTION LOAD", "FUNCTION RESTORE",
		"MEMORY PURGE", "MSET", "JSON.MSET", "PING", "SCRIPT FLUSH",
		"SCRIPT LOAD", "SELECT", "SLOWLOG RESET", "UNWATCH", "WATCH",
	)
	add(PolicyCombineArrays,
		"KEYS", "FT._ALIASLIST", "FT._LIST", "MGET", "JSON.MGET",
		"SLOWLOG GET", "PUBSUB CHANNELS", "PUBSUB SHARDCHANNELS",
	)
	add(PolicyCombineMaps, "PUBSUB NUMSUB", "PUBSUB SHARDNUMSUB")
	add(PolicyOneSucceeded, "FUNCTION KILL", "SCRIPT KILL")
	add(PolicyFirstSucceededNonEmptyOrAllEmpty, "RANDOMKEY")
	add(PolicySpecial, "CLIENT LIST", "LATENCY LATEST", "FUNCTION STATS", "INFO")

	return t
}

// readonlyCommands is is_readonly_cmd: opcodes safe to serve from a replica.
// TOUCH is deliberately excluded: it bumps access-time/LRU state and is
// treated as a write for routing purposes even though it doesn't mutate the
// value.
var readonlyCommands = map[string]bool{
	"GET": true, "MGET": true, "EXISTS": true, "TTL": true, "PTTL": true,
	"STRLEN": true, "GETRANGE": true, "HGET": true, "HGETALL": true,
	"HMGET": true, "HLEN": true, "HKEYS": true, "HVALS": true,
	"LRANGE": true, "LLEN": true, "LINDEX": true, "SMEMBERS": true,
	"SCARD": true, "SISMEMBER": true, "SINTER": true, "SUNION": true,
	"SDIFF": true, "ZRANGE": true, "ZRANGEBYSCORE": true, "ZSCORE": true,
	"ZCARD": true, "ZRANK": true, "ZREVRANK": true, "SCAN": true,
	"HSCAN": true, "SSCAN": true, "ZSCAN": true, "XRANGE": true,
	"XREVRANGE": true, "XLEN": true, "DUMP": true, "TYPE": true,
	"OBJECT ENCODING": true, "OBJECT FREQ": true, "OBJECT IDLETIME": true,
	"OBJECT REFCOUNT": true, "BITCOUNT": true, "BITPOS": true,
	"GETBIT": true, "RANDOMKEY": true, "SORT_RO": true, "GEOPOS": true,
	"GEODIST": true, "GEOHASH": true, "GEOSEARCH": true, "PFCOUNT": true,
}

// IsReadonlyCommand reports whether cmd (already normalized, e.g. via
// normalize) may be served from a replica.
func IsReadonlyCommand(normalized string) bool {
	return readonlyCommands[normalized]
}

// isKeyRoutingKind reports whether k is one of the RouteByKind values for
// which IsKeyRoutingCommand may be true.
func isKeyRoutingKind(k RouteByKind) bool {
	switch k {
	case FirstKey, SecondArg, SecondArgAfterKeyCount, ThirdArgAfterKeyCount,
		SecondArgSlot, StreamsIndex, MultiShard:
		return true
	default:
		return false
	}
}

// IsKeyRoutingCommand reports whether cmd's routing is derived from a key it
// carries (as opposed to a fixed fan-out/random target). SPUBLISH is
// explicitly excluded here, although Classify routes it as FirstKey to the
// owner of its channel's slot.
func IsKeyRoutingCommand(normalized string) bool {
	if normalized == "SPUBLISH" {
		return false
	}
	kind, ok := routeByTable[normalized]
	if !ok {
		kind = FirstKey
	}
	return isKeyRoutingKind(kind)
}
