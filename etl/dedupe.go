package etl

// FindDuplicates returns the rows whose key tuple occurs more than once
// in rows, preserving input order. This is the candidate set every
// reconciliation policy operates on; rows with unique keys never enter
// a reconciler.
func FindDuplicates[T any, K comparable](rows []T, key func(T) K) []T {
	counts := make(map[K]int, len(rows))
	for _, r := range rows {
		counts[key(r)]++
	}
	var dups []T
	for _, r := range rows {
		if counts[key(r)] > 1 {
			dups = append(dups, r)
		}
	}
	return dups
}

// CountDuplicateKeys returns how many distinct keys occur more than once.
func CountDuplicateKeys[T any, K comparable](rows []T, key func(T) K) int {
	counts := make(map[K]int, len(rows))
	for _, r := range rows {
		counts[key(r)]++
	}
	n := 0
	for _, c := range counts {
		if c > 1 {
			n++
		}
	}
	return n
}

// CollapseExact keeps the first row per key and drops the rest. Used as
// the final sweep after policy-based reconciliation, when any remaining
// same-key rows are treated as equivalent and input order is the
// deterministic tie-break.
func CollapseExact[T any, K comparable](rows []T, key func(T) K) []T {
	seen := make(map[K]bool, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		k := key(r)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}
