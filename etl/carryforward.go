package etl

import "sort"

// LatchForward computes a monotone per-encounter boolean: rows are
// sorted by (encounter, timestamp) and the running cumulative-OR of
// implied is written back through set. Once evidence appears within an
// encounter the state stays true for every later row of that encounter;
// it never resets, and encounters never leak into each other.
//
// This models an irreversible in-encounter event: a tracheostomy, once
// performed, holds for the rest of the stay.
func LatchForward[T any](
	rows []T,
	encounter func(T) int64,
	ts func(T) int64,
	implied func(T) bool,
	set func(*T, bool),
) {
	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if encounter(rows[ia]) != encounter(rows[ib]) {
			return encounter(rows[ia]) < encounter(rows[ib])
		}
		return ts(rows[ia]) < ts(rows[ib])
	})

	var (
		current int64
		latched bool
		first   = true
	)
	for _, i := range order {
		enc := encounter(rows[i])
		if first || enc != current {
			current = enc
			latched = false
			first = false
		}
		if implied(rows[i]) {
			latched = true
		}
		set(&rows[i], latched)
	}
}
