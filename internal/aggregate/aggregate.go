// Package aggregate combines per-node replies of a fan-out command into the
// single value returned to the caller, per the ResponsePolicy table in
// internal/routing (spec component D).
package aggregate

import (
	"vkcluster/internal/clustererrs"
	"vkcluster/internal/routing"
)

// NodeReply is one node's contribution to a multi-node command's result.
// Addr is empty when the reply's source address is not meaningful to the
// policy (e.g. OneSucceeded only cares about the value).
type NodeReply struct {
	Addr  string
	Value interface{}
	Err   error
}

// Combine applies policy to replies and returns the caller-facing value.
func Combine(policy routing.ResponsePolicy, replies []NodeReply) (interface{}, error) {
	switch policy {
	case routing.PolicyAllSucceeded:
		return allSucceeded(replies)
	case routing.PolicyOneSucceeded:
		return oneSucceeded(replies)
	case routing.PolicyFirstSucceededNonEmptyOrAllEmpty:
		return firstSucceededNonEmptyOrAllEmpty(replies)
	case routing.PolicyAggregateSum:
		return aggregateInt(replies, func(a, b int64) int64 { return a + b })
	case routing.PolicyAggregateMin:
		return aggregateInt(replies, minInt64)
	case routing.PolicyAggregateLogicalAnd:
		return aggregateLogicalAnd(replies)
	case routing.PolicyCombineArrays:
		return combineArrays(replies)
	case routing.PolicyCombineMaps:
		return combineMaps(replies)
	case routing.PolicySpecial, routing.PolicyNone:
		return addressMap(replies)
	default:
		return addressMap(replies)
	}
}

func firstServerError(replies []NodeReply) error {
	for _, r := range replies {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// allSucceeded fails with the first server error encountered; otherwise
// returns the last reply's value.
func allSucceeded(replies []NodeReply) (interface{}, error) {
	if err := firstServerError(replies); err != nil {
		return nil, err
	}
	if len(replies) == 0 {
		return nil, clustererrs.New(clustererrs.KindAllConnectionsUnavailable, "no replies to aggregate")
	}
	return replies[len(replies)-1].Value, nil
}

// oneSucceeded returns the first non-error value; if every reply errored,
// the last error; if there were no replies at all, AllConnectionsUnavailable.
func oneSucceeded(replies []NodeReply) (interface{}, error) {
	var lastErr error
	for _, r := range replies {
		if r.Err == nil {
			return r.Value, nil
		}
		lastErr = r.Err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, clustererrs.New(clustererrs.KindAllConnectionsUnavailable, "no replies to aggregate")
}

// firstSucceededNonEmptyOrAllEmpty returns the first non-nil successful
// value as soon as found; if every reply was a nil success, returns nil; a
// mix of nils and an error, or all errors, surfaces the last error (or
// AllConnectionsUnavailable if there was none).
func firstSucceededNonEmptyOrAllEmpty(replies []NodeReply) (interface{}, error) {
	nilCount := 0
	var lastErr error
	for _, r := range replies {
		if r.Err != nil {
			lastErr = r.Err
			continue
		}
		if r.Value == nil {
			nilCount++
			continue
		}
		return r.Value, nil
	}
	if nilCount == len(replies) {
		return nil, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, clustererrs.New(clustererrs.KindAllConnectionsUnavailable, "no replies to aggregate")
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func aggregateInt(replies []NodeReply, fold func(a, b int64) int64) (interface{}, error) {
	if err := firstServerError(replies); err != nil {
		return nil, err
	}
	if len(replies) == 0 {
		return nil, clustererrs.New(clustererrs.KindAllConnectionsUnavailable, "no replies to aggregate")
	}
	first, ok := asInt64(replies[0].Value)
	if !ok {
		return nil, clustererrs.New(clustererrs.KindClientError, "aggregate policy requires integer replies")
	}
	acc := first
	for _, r := range replies[1:] {
		n, ok := asInt64(r.Value)
		if !ok {
			return nil, clustererrs.New(clustererrs.KindClientError, "aggregate policy requires integer replies")
		}
		acc = fold(acc, n)
	}
	return acc, nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// aggregateLogicalAnd requires every reply to be an equal-length array of
// integers, and bitwise-ANDs them position-wise, coercing each element to
// 0/1 first (used by SCRIPT EXISTS).
func aggregateLogicalAnd(replies []NodeReply) (interface{}, error) {
	if err := firstServerError(replies); err != nil {
		return nil, err
	}
	if len(replies) == 0 {
		return nil, clustererrs.New(clustererrs.KindAllConnectionsUnavailable, "no replies to aggregate")
	}
	var acc []int64
	for i, r := range replies {
		arr, ok := r.Value.([]interface{})
		if !ok {
			return nil, clustererrs.New(clustererrs.KindClientError, "AggregateLogical requires array replies")
		}
		if i == 0 {
			acc = make([]int64, len(arr))
			for j, v := range arr {
				acc[j] = coerceBit(v)
			}
			continue
		}
		if len(arr) != len(acc) {
			return nil, clustererrs.New(clustererrs.KindClientError, "AggregateLogical requires equal-length array replies")
		}
		for j, v := range arr {
			acc[j] &= coerceBit(v)
		}
	}
	out := make([]interface{}, len(acc))
	for i, v := range acc {
		out[i] = v
	}
	return out, nil
}

func coerceBit(v interface{}) int64 {
	if n, ok := asInt64(v); ok && n != 0 {
		return 1
	}
	return 0
}

// combineMaps folds each reply's [key, int, key, int, ...] array into one
// map, summing duplicate keys (PUBSUB NUMSUB / SHARDNUMSUB).
func combineMaps(replies []NodeReply) (interface{}, error) {
	if err := firstServerError(replies); err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	var order []string
	for _, r := range replies {
		arr, ok := r.Value.([]interface{})
		if !ok || len(arr)%2 != 0 {
			return nil, clustererrs.New(clustererrs.KindClientError, "CombineMaps requires flat key/int array replies")
		}
		for i := 0; i < len(arr); i += 2 {
			key, ok := arr[i].(string)
			if !ok {
				return nil, clustererrs.New(clustererrs.KindClientError, "CombineMaps requires string keys")
			}
			n, ok := asInt64(arr[i+1])
			if !ok {
				return nil, clustererrs.New(clustererrs.KindClientError, "CombineMaps requires integer values")
			}
			if _, seen := out[key]; !seen {
				order = append(order, key)
			}
			out[key] += n
		}
	}
	result := make([]interface{}, 0, len(order)*2)
	for _, k := range order {
		result = append(result, k, out[k])
	}
	return result, nil
}

// addressMap returns the bare address->value map (the policy's "Special" or
// "None" case): every reply must carry a non-empty address.
func addressMap(replies []NodeReply) (interface{}, error) {
	if err := firstServerError(replies); err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(replies))
	for _, r := range replies {
		if r.Addr == "" {
			return nil, clustererrs.New(clustererrs.KindClientError, "address-keyed policy requires every reply to carry its source address")
		}
		out[r.Addr] = r.Value
	}
	return out, nil
}
