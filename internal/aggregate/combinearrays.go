package aggregate

import "vkcluster/internal/clustererrs"

// combineArrays concatenates every reply's array value, in reply order —
// used when routing is plain AllNodes/AllPrimaries fan-out (KEYS, SLOWLOG
// GET, ...). MultiShard commands such as MGET are reordered by
// CombineMultiSlotArrays instead.
func combineArrays(replies []NodeReply) (interface{}, error) {
	if err := firstServerError(replies); err != nil {
		return nil, err
	}
	var out []interface{}
	for _, r := range replies {
		arr, ok := r.Value.([]interface{})
		if !ok {
			return nil, clustererrs.New(clustererrs.KindClientError, "CombineArrays requires array replies")
		}
		out = append(out, arr...)
	}
	return out, nil
}

// ResultsPerKey is the pattern's result-per-key ratio used when reordering a
// MultiSlot command's per-shard replies back into original key order:
// KeysOnly yields one result per key; KeyValuePairs/KeyWithTwoArgTriples
// report a ratio > 1 so the caller knows how many reply slots each key's
// original argument-index group consumed; KeysAndLastArg drops the shared
// trailing argument's slot.
type ResultsPerKey int

const (
	OneResultPerKey         ResultsPerKey = 1
	EveryOtherArgResult      ResultsPerKey = 2 // KeyValuePairs: 2 args per key, 1 result
	EveryThirdArgResult      ResultsPerKey = 3 // KeyWithTwoArgTriples: 3 args per key, 1 result
)

// RouteContribution is one shard's slice of a MultiSlot command's reply: the
// original argument indices it was responsible for (in original order) and
// the array of values it returned (one per index, after accounting for
// ResultsPerKey).
type RouteContribution struct {
	ArgIndices []int
	Values     []interface{}
}

// CombineMultiSlotArrays reassembles a MultiSlot command's per-shard array
// replies into a single slice ordered to match the original key argument
// order, using each contribution's recorded argument indices to place its
// values. totalKeys is the number of original key positions (e.g. len(args)
// for KeysOnly, len(args)/2 for KeyValuePairs).
func CombineMultiSlotArrays(contributions []RouteContribution, totalKeys int) (interface{}, error) {
	out := make([]interface{}, totalKeys)
	filled := make([]bool, totalKeys)
	for _, c := range contributions {
		if len(c.ArgIndices) != len(c.Values) {
			return nil, clustererrs.New(clustererrs.KindClientError, "CombineArrays: argument/value count mismatch in a shard's contribution")
		}
		for i, argIdx := range c.ArgIndices {
			pos := keyPositionFor(argIdx)
			if pos < 0 || pos >= totalKeys {
				return nil, clustererrs.New(clustererrs.KindClientError, "CombineArrays: argument index out of range")
			}
			out[pos] = c.Values[i]
			filled[pos] = true
		}
	}
	for _, ok := range filled {
		if !ok {
			return nil, clustererrs.New(clustererrs.KindClientError, "CombineArrays: missing reply for one or more keys")
		}
	}
	return out, nil
}

// keyPositionFor maps an argument index to its key-position — callers that
// already normalize ArgIndices to key positions (e.g. MGET's KeysOnly,
// where argument index IS key position) can pass them through unchanged;
// callers using KeyValuePairs/KeyWithTwoArgTriples must divide by the
// pattern's stride before calling CombineMultiSlotArrays. This helper is the
// identity map: the division is the caller's job (internal/batch's
// keyPositionsFor converts the argument indices recorded by
// routing.SplitMultiShard into key positions), keeping this package ignorant
// of per-pattern argument shape.
func keyPositionFor(argIdx int) int { return argIdx }
