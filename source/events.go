package source

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"mimic2clif/etl"
)

// Events fetches all observations for the given item codes from the
// event-like source tables (chartevents and procedureevents), normalized
// into etl.Event. The event timestamp is charttime for chart events and
// starttime for procedure events, the charted time of record for each.
func (s *Store) Events(ctx context.Context, itemIDs []int64) ([]etl.Event, error) {
	wanted := itemSet(itemIDs)

	chart, err := Rows[ChartEvent](ctx, s, "icu", "chartevents")
	if err != nil {
		return nil, err
	}
	procs, err := Rows[ProcedureEvent](ctx, s, "icu", "procedureevents")
	if err != nil {
		return nil, err
	}

	var events []etl.Event
	for _, c := range chart {
		if !wanted[c.ItemID] {
			continue
		}
		e := etl.Event{
			SubjectID: c.SubjectID,
			HadmID:    c.HadmID,
			StayID:    c.StayID,
			ItemID:    c.ItemID,
			Time:      c.ChartTime,
			ValueNum:  c.ValueNum,
		}
		if c.StoreTime != nil {
			e.StoreTime = *c.StoreTime
		}
		if c.Value != nil {
			e.Value = *c.Value
		}
		if c.ValueUOM != nil {
			e.ValueUOM = *c.ValueUOM
		}
		events = append(events, e)
	}
	for _, p := range procs {
		if !wanted[p.ItemID] {
			continue
		}
		e := etl.Event{
			SubjectID: p.SubjectID,
			HadmID:    p.HadmID,
			StayID:    p.StayID,
			ItemID:    p.ItemID,
			Time:      p.StartTime,
			ValueNum:  p.Value,
		}
		if p.StoreTime != nil {
			e.StoreTime = *p.StoreTime
		}
		if p.Value != nil {
			e.Value = strconv.FormatFloat(*p.Value, 'f', -1, 64)
		}
		if p.ValueUOM != nil {
			e.ValueUOM = *p.ValueUOM
		}
		events = append(events, e)
	}

	s.log.Info("fetched events",
		zap.Int("items", len(itemIDs)),
		zap.Int("events", len(events)))
	return events, nil
}

// LabEventsFor returns hosp/labevents rows restricted to the given items,
// dropping rows with no encounter id.
func (s *Store) LabEventsFor(ctx context.Context, itemIDs []int64) ([]LabEvent, error) {
	wanted := itemSet(itemIDs)
	all, err := Rows[LabEvent](ctx, s, "hosp", "labevents")
	if err != nil {
		return nil, err
	}
	var out []LabEvent
	for _, e := range all {
		if wanted[e.ItemID] && e.HadmID != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// InputEventsFor returns icu/inputevents rows restricted to the given items.
func (s *Store) InputEventsFor(ctx context.Context, itemIDs []int64) ([]InputEvent, error) {
	wanted := itemSet(itemIDs)
	all, err := Rows[InputEvent](ctx, s, "icu", "inputevents")
	if err != nil {
		return nil, err
	}
	var out []InputEvent
	for _, e := range all {
		if wanted[e.ItemID] {
			out = append(out, e)
		}
	}
	return out, nil
}

// ItemLabels maps itemid → d_items label.
func (s *Store) ItemLabels(ctx context.Context) (map[int64]string, error) {
	items, err := Rows[DItem](ctx, s, "icu", "d_items")
	if err != nil {
		return nil, err
	}
	labels := make(map[int64]string, len(items))
	for _, d := range items {
		labels[d.ItemID] = d.Label
	}
	return labels, nil
}

// StayEncounters maps stay_id → hadm_id via icustays.
func (s *Store) StayEncounters(ctx context.Context) (map[int64]int64, error) {
	stays, err := Rows[ICUStay](ctx, s, "icu", "icustays")
	if err != nil {
		return nil, err
	}
	m := make(map[int64]int64, len(stays))
	for _, st := range stays {
		m[st.StayID] = st.HadmID
	}
	return m, nil
}

func itemSet(itemIDs []int64) map[int64]bool {
	set := make(map[int64]bool, len(itemIDs))
	for _, id := range itemIDs {
		set[id] = true
	}
	return set
}
