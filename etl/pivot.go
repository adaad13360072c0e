package etl

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrDuplicateKeys is returned when a pivot input still contains more
// than one row per (encounter, timestamp, item). Pivoting such input
// would silently hide unresolved duplicates behind an aggregate, so the
// pivot refuses instead.
var ErrDuplicateKeys = errors.New("pivot input contains duplicate (encounter, timestamp, item) keys")

// WideRow is one output row per (encounter, timestamp): raw per-item
// values first, then named columns produced by coalescing and renaming.
type WideRow struct {
	HadmID int64
	Time   time.Time
	Items  map[int64]string  // itemid → raw value, as pivoted
	Cols   map[string]string // named output columns
}

// Col returns the named column value; empty string means null.
func (w WideRow) Col(name string) string { return w.Cols[name] }

// Pivot reshapes a deduplicated long event table into one WideRow per
// (encounter, timestamp), one entry per itemid. The input must already
// be duplicate-free per (encounter, timestamp, item); a violation fails
// loudly with ErrDuplicateKeys.
//
// Output rows are sorted by (encounter, timestamp), the order every
// downstream stage assumes.
func Pivot(events []Event) ([]WideRow, error) {
	if n := CountDuplicateKeys(events, Event.Key); n > 0 {
		return nil, fmt.Errorf("%w: %d conflicting keys", ErrDuplicateKeys, n)
	}

	index := make(map[PivotKey]int, len(events))
	var rows []WideRow
	for _, e := range events {
		pk := PivotKey{HadmID: e.HadmID, Time: e.Time}
		i, ok := index[pk]
		if !ok {
			i = len(rows)
			index[pk] = i
			rows = append(rows, WideRow{
				HadmID: e.HadmID,
				Time:   e.Time,
				Items:  make(map[int64]string),
				Cols:   make(map[string]string),
			})
		}
		rows[i].Items[e.ItemID] = e.Value
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].HadmID != rows[j].HadmID {
			return rows[i].HadmID < rows[j].HadmID
		}
		return rows[i].Time.Before(rows[j].Time)
	})
	return rows, nil
}

// CoalesceGroup names one output column and the source items that feed
// it, in precedence order: the first non-null value wins.
type CoalesceGroup struct {
	Out   string
	Items []int64
}

// Coalesce applies groups to every row: for each group, the first
// non-null source item value becomes row.Cols[group.Out], and all source
// item columns of the group are removed from the row afterwards.
func Coalesce(rows []WideRow, groups []CoalesceGroup) {
	for i := range rows {
		for _, g := range groups {
			for _, item := range g.Items {
				if v, ok := rows[i].Items[item]; ok && v != "" {
					rows[i].Cols[g.Out] = v
					break
				}
			}
			for _, item := range g.Items {
				delete(rows[i].Items, item)
			}
		}
	}
}

// RenameItems moves every remaining per-item value into a named column
// using the itemid→name lookup; items absent from the lookup are
// dropped. After this the per-item columns are gone for good.
func RenameItems(rows []WideRow, names map[int64]string) {
	for i := range rows {
		for item, v := range rows[i].Items {
			if name, ok := names[item]; ok && v != "" {
				rows[i].Cols[name] = v
			}
		}
		rows[i].Items = nil
	}
}

// DeriveCategory fills dst on every row by mapping the trimmed value of
// src through lookup. Unmapped or null values propagate as null, never
// an error: a mapping gap is a documented data condition, not a failure.
func DeriveCategory(rows []WideRow, src, dst string, lookup map[string]string) {
	for i := range rows {
		raw := rows[i].Cols[src]
		if raw == "" {
			continue
		}
		if category, ok := lookup[strings.TrimSpace(raw)]; ok && category != "" {
			rows[i].Cols[dst] = category
		}
	}
}
