package routing

import "vkcluster/internal/slotmap"

// SubCommand is one shard's share of a MultiShard command: the argument
// indices (into the original argument vector) that belong on this shard,
// preserving their original relative order.
type SubCommand struct {
	Slot        int
	ArgIndices  []int
}

// SplitMultiShard groups a MultiShard command's key-bearing argument
// indices by slot, producing one SubCommand per distinct slot touched. The
// caller is responsible for re-assembling each SubCommand's wire arguments
// (e.g. appending the shared trailing arg for KeysAndLastArg, or
// reconstructing value/path pairs) and for using ArgIndices to place each
// per-shard reply back into its original position when recombining.
func SplitMultiShard(pattern MultiShardPattern, keyIndices []int, args []string) []SubCommand {
	bySlot := make(map[int][]int)
	order := make([]int, 0, len(keyIndices))
	for _, idx := range keyIndices {
		slot := slotmap.KeySlot(args[idx])
		if _, ok := bySlot[slot]; !ok {
			order = append(order, slot)
		}
		bySlot[slot] = append(bySlot[slot], idx)
	}
	out := make([]SubCommand, 0, len(order))
	for _, slot := range order {
		out = append(out, SubCommand{Slot: slot, ArgIndices: bySlot[slot]})
	}
	return out
}
