// Package etl holds the reconciliation and reshape primitives every
// table builder composes: duplicate detection, rank- and value-based
// duplicate resolution, the long→wide pivot with column coalescing, and
// the per-encounter carry-forward latch.
package etl

import (
	"strconv"
	"strings"
	"time"
)

// Event is one raw charted observation, normalized across the physical
// source tables. Time is the device-specific charted/start timestamp
// already picked by the source layer; StoreTime is when the value hit
// the record system. A nil ValueNum or empty Value means the field was
// absent at the source.
type Event struct {
	SubjectID int64
	HadmID    int64
	StayID    int64
	ItemID    int64
	Time      time.Time
	StoreTime time.Time
	Value     string
	ValueNum  *float64
	ValueUOM  string
}

// EventKey identifies the same-item duplicate group.
type EventKey struct {
	HadmID int64
	ItemID int64
	Time   time.Time
}

// Key returns the (encounter, timestamp, item) tuple for e.
func (e Event) Key() EventKey {
	return EventKey{HadmID: e.HadmID, ItemID: e.ItemID, Time: e.Time}
}

// PivotKey identifies the cross-item wide-pivot collision group.
type PivotKey struct {
	HadmID int64
	Time   time.Time
}

// Num parses the event value as a float, preferring the numeric column.
func (e Event) Num() (float64, bool) {
	if e.ValueNum != nil {
		return *e.ValueNum, true
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(e.Value), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ToUTC reinterprets a zone-less source timestamp as site wall-clock
// time and converts it to UTC.
func ToUTC(t time.Time, site *time.Location) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), site).UTC()
}

// Float64Ptr returns a pointer to v. Row structs use pointer-typed
// nullable columns, so builders reach for this constantly.
func Float64Ptr(v float64) *float64 { return &v }

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// TimePtr returns a pointer to t, or nil when t is the zero time.
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
