package etl

import (
	"math"
	"strings"
)

// DeviceRank is a total priority ordering over device categories,
// highest priority (most invasive) first.
type DeviceRank []string

// RespDeviceRank orders oxygen-delivery device categories for duplicate
// resolution: when two device readings share a timestamp, the more
// invasive device wins.
var RespDeviceRank = DeviceRank{
	"IMV",
	"NIPPV",
	"CPAP",
	"High Flow NC",
	"Face Mask",
	"Trach Collar",
	"Nasal Cannula",
	"Room Air",
	"Other",
}

// Index returns the rank of category, or len(r) when the category is not
// ranked; unranked categories lose to every ranked one.
func (r DeviceRank) Index(category string) int {
	for i, c := range r {
		if c == category {
			return i
		}
	}
	return len(r)
}

// DeviceStats reports what a ReconcileDevices pass did.
type DeviceStats struct {
	Groups   int // duplicate groups examined
	Dropped  int // lower-ranked rows removed
	Unmapped int // rows whose device value had no category mapping
}

// ReconcileDevices resolves same-key duplicate rows of the device-selector
// item: within each (encounter, timestamp, item) duplicate group, the row
// whose mapped device category ranks highest is kept and the rest are
// dropped. Rows with no category mapping are excluded from ranking and
// only survive when nothing mapped competes with them; equal ranks break
// by input order. Rows outside duplicate groups, and rows of other items,
// pass through untouched in their original order.
func ReconcileDevices(events []Event, deviceItem int64, categories map[string]string, rank DeviceRank) ([]Event, DeviceStats) {
	type best struct {
		idx    int // index into events of the winner so far
		rank   int
		mapped bool
	}

	counts := make(map[EventKey]int, len(events))
	for _, e := range events {
		if e.ItemID == deviceItem {
			counts[e.Key()]++
		}
	}

	var stats DeviceStats
	winners := make(map[EventKey]best)
	for i, e := range events {
		if e.ItemID != deviceItem || counts[e.Key()] < 2 {
			continue
		}
		category, ok := categories[strings.TrimSpace(e.Value)]
		if !ok {
			stats.Unmapped++
		}
		ri := rank.Index(category)
		cur, seen := winners[e.Key()]
		if !seen {
			winners[e.Key()] = best{idx: i, rank: ri, mapped: ok}
			continue
		}
		// A mapped row always beats an unmapped one; among mapped rows the
		// lower rank index wins, first occurrence on ties.
		if (ok && !cur.mapped) || (ok == cur.mapped && ri < cur.rank) {
			winners[e.Key()] = best{idx: i, rank: ri, mapped: ok}
		}
	}
	stats.Groups = len(winners)

	keep := make([]Event, 0, len(events))
	for i, e := range events {
		if e.ItemID == deviceItem && counts[e.Key()] > 1 {
			if winners[e.Key()].idx != i {
				stats.Dropped++
				continue
			}
		}
		keep = append(keep, e)
	}
	return keep, stats
}

// ValueStats reports what a ReconcileValues pass did.
type ValueStats struct {
	Groups       int // duplicate groups examined
	NullDropped  int // null-valued rows dropped in favor of valued siblings
	CloseDropped int // near-equal rows dropped by the label-length rule
	Conflicts    int // groups dropped whole as unresolvable
	RowsDropped  int // total rows removed
}

// ValueCloseness is the default relative-difference threshold under which
// two competing measurements are treated as the same reading.
const ValueCloseness = 0.10

// ReconcileValues resolves duplicate measurement rows sharing a key:
//
//  1. rows with a nil value are dropped when the group holds any
//     non-nil value;
//  2. when exactly two valued rows remain and their values are within
//     closeness (relative to the larger magnitude), the row with the
//     longer label is kept as the more descriptive record;
//  3. a group still holding more than one row is a genuine conflict and
//     is dropped whole rather than guessed at.
//
// Non-duplicate rows pass through untouched; output preserves input
// order. The pass is idempotent: its output contains no duplicate keys
// except singletons, so a second application is a no-op.
func ReconcileValues[T any, K comparable](
	rows []T,
	key func(T) K,
	value func(T) *float64,
	label func(T) string,
	closeness float64,
) ([]T, ValueStats) {
	var stats ValueStats

	counts := make(map[K]int, len(rows))
	for _, r := range rows {
		counts[key(r)]++
	}

	groups := make(map[K][]int) // key → indices into rows
	for i, r := range rows {
		k := key(r)
		if counts[k] > 1 {
			groups[k] = append(groups[k], i)
		}
	}
	stats.Groups = len(groups)

	drop := make(map[int]bool)
	for _, idxs := range groups {
		// 1. Prefer valued rows over null ones.
		var valued []int
		for _, i := range idxs {
			if value(rows[i]) != nil {
				valued = append(valued, i)
			}
		}
		if len(valued) > 0 && len(valued) < len(idxs) {
			for _, i := range idxs {
				if value(rows[i]) == nil {
					drop[i] = true
					stats.NullDropped++
				}
			}
		}
		remaining := idxs
		if len(valued) > 0 {
			remaining = valued
		}
		if len(remaining) == 1 {
			continue
		}

		// 2. Two near-equal readings: keep the more descriptive label.
		if len(remaining) == 2 {
			a, b := value(rows[remaining[0]]), value(rows[remaining[1]])
			if a != nil && b != nil && withinRelative(*a, *b, closeness) {
				loser := remaining[0]
				if len(label(rows[remaining[0]])) >= len(label(rows[remaining[1]])) {
					loser = remaining[1]
				}
				drop[loser] = true
				stats.CloseDropped++
				continue
			}
		}

		// 3. Unresolved conflict: drop the whole group.
		for _, i := range remaining {
			drop[i] = true
		}
		stats.Conflicts++
	}

	keep := make([]T, 0, len(rows))
	for i, r := range rows {
		if drop[i] {
			continue
		}
		keep = append(keep, r)
	}
	stats.RowsDropped = len(rows) - len(keep)
	return keep, stats
}

func withinRelative(a, b, closeness float64) bool {
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger == 0 {
		return true
	}
	return math.Abs(a-b)/larger <= closeness
}
