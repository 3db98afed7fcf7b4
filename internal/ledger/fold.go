package ledger

import "sort"

// Apply returns the value after op. A delta adds, a next value replaces.
func Apply(current float64, op Operation) float64 {
	if op.Mode == ModeNextValue {
		return op.Value
	}
	return current + op.Value
}

// Fold replays operations in seq order. Fields without operations fold to zero.
func Fold(ops []Operation) map[Field]float64 {
	ordered := make([]Operation, len(ops))
	copy(ordered, ops)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })
	values := make(map[Field]float64)
	for _, op := range ordered {
		values[op.Field] = Apply(values[op.Field], op)
	}
	return values
}
