package routing

import "vkcluster/internal/clustererrs"

// Classify determines how cmd (with the given argument vector, not
// including the opcode itself) must be routed across the cluster.
func Classify(cmd string, args []string) (RoutingInfo, error) {
	key := normalize(cmd, args)

	by, ok := routeByTable[key]
	if !ok {
		by = FirstKey
	}

	info := RoutingInfo{
		By:       by,
		Policy:   responsePolicyTable[key],
		ReadOnly: IsReadonlyCommand(key),
	}
	if by == MultiShard {
		pattern, ok := multiShardPatternTable[key]
		if !ok {
			return RoutingInfo{}, clustererrs.New(clustererrs.KindClientError, "no MultiShard pattern registered for "+key)
		}
		info.Pattern = pattern
	}
	return info, nil
}

// KeyIndex returns the zero-based index into args of the routing key for
// commands whose route is derived from a single fixed position (FirstKey,
// SecondArg, SecondArgSlot). It returns ok=false for routing kinds that need
// more than a fixed index (ThirdArgAfterKeyCount, SecondArgAfterKeyCount,
// StreamsIndex, MultiShard) — use KeyIndices for those.
func KeyIndex(by RouteByKind, args []string) (int, bool) {
	switch by {
	case FirstKey:
		if len(args) == 0 {
			return 0, false
		}
		return 0, true
	case SecondArg, SecondArgSlot:
		if len(args) < 2 {
			return 0, false
		}
		return 1, true
	default:
		return 0, false
	}
}

// KeyIndices returns every argument index that carries a routing key, for
// the routing kinds where key positions must be computed rather than
// looked up at a fixed offset.
func KeyIndices(by RouteByKind, pattern MultiShardPattern, args []string) ([]int, error) {
	switch by {
	case FirstKey:
		if len(args) == 0 {
			return nil, clustererrs.New(clustererrs.KindClientError, "command carries no key argument")
		}
		return []int{0}, nil
	case SecondArg:
		if len(args) < 2 {
			return nil, clustererrs.New(clustererrs.KindClientError, "command carries no second argument")
		}
		return []int{1}, nil
	case SecondArgAfterKeyCount:
		n, idx, err := keyCountAt(args, 0)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Zero keys: caller falls back to Random routing.
			return nil, nil
		}
		return rangeFrom(idx, n)
	case ThirdArgAfterKeyCount:
		n, idx, err := keyCountAt(args, 1)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// e.g. EVAL script 0 -> no keys, routed Random.
			return nil, nil
		}
		return rangeFrom(idx, n)
	case StreamsIndex:
		return streamsIndices(args)
	case MultiShard:
		return multiShardKeyIndices(pattern, args)
	default:
		return nil, clustererrs.New(clustererrs.KindClientError, "routing kind "+by.String()+" has no key indices")
	}
}

// keyCountAt parses the integer key-count argument at position countIdx and
// returns (n, firstKeyIndex) where firstKeyIndex = countIdx+1.
func keyCountAt(args []string, countIdx int) (int, int, error) {
	if countIdx >= len(args) {
		return 0, 0, clustererrs.New(clustererrs.KindClientError, "missing key-count argument")
	}
	n := 0
	for _, c := range args[countIdx] {
		if c < '0' || c > '9' {
			return 0, 0, clustererrs.New(clustererrs.KindClientError, "key-count argument is not numeric")
		}
		n = n*10 + int(c-'0')
	}
	return n, countIdx + 1, nil
}

func rangeFrom(start, n int) ([]int, error) {
	if n <= 0 {
		return nil, clustererrs.New(clustererrs.KindClientError, "key count must be positive")
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = start + i
	}
	return out, nil
}

// streamsIndices handles XREAD/XREADGROUP's "... STREAMS key [key ...] id
// [id ...]" shape: keys occupy the first half of the arguments following
// STREAMS.
func streamsIndices(args []string) ([]int, error) {
	pos := -1
	for i, a := range args {
		if a == "STREAMS" || a == "streams" {
			pos = i
			break
		}
	}
	if pos == -1 {
		return nil, clustererrs.New(clustererrs.KindClientError, "STREAMS token not found")
	}
	rest := args[pos+1:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return nil, clustererrs.New(clustererrs.KindClientError, "STREAMS arguments must pair keys with IDs")
	}
	half := len(rest) / 2
	out := make([]int, half)
	for i := 0; i < half; i++ {
		out[i] = pos + 1 + i
	}
	return out, nil
}

func multiShardKeyIndices(pattern MultiShardPattern, args []string) ([]int, error) {
	switch pattern {
	case KeysOnly:
		return rangeFrom(0, len(args))
	case KeyValuePairs:
		if len(args)%2 != 0 {
			return nil, clustererrs.New(clustererrs.KindClientError, "key/value arguments must come in pairs")
		}
		out := make([]int, 0, len(args)/2)
		for i := 0; i < len(args); i += 2 {
			out = append(out, i)
		}
		return out, nil
	case KeysAndLastArg:
		if len(args) < 2 {
			return nil, clustererrs.New(clustererrs.KindClientError, "command requires at least one key and a trailing argument")
		}
		return rangeFrom(0, len(args)-1)
	case KeyWithTwoArgTriples:
		if len(args)%3 != 0 {
			return nil, clustererrs.New(clustererrs.KindClientError, "key/path/value arguments must come in triples")
		}
		out := make([]int, 0, len(args)/3)
		for i := 0; i < len(args); i += 3 {
			out = append(out, i)
		}
		return out, nil
	default:
		return nil, clustererrs.New(clustererrs.KindClientError, "unknown MultiShard pattern")
	}
}
