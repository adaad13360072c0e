package tables

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"mimic2clif/etl"
	"mimic2clif/schema"
	"mimic2clif/sink"
	"mimic2clif/vocab"
)

// Source item codes with dedicated roles in the respiratory pipeline.
const (
	o2DeviceItem  int64 = 226732 // O2 Delivery Device(s)
	ventBrandItem int64 = 223848 // Ventilator Type (brand names, not devices)
)

// respCoalesceGroups merges source items that chart the same setting
// under different codes. Order within a group is precedence: first
// non-null wins. The order is carried over from upstream documentation
// of the source vocabulary; resp_coalesce tests pin it as an assumption.
var respCoalesceGroups = []etl.CoalesceGroup{
	{Out: "tracheostomy", Items: []int64{225448, 226237}},
	{Out: "lpm_set", Items: []int64{223834, 227287}},
	{Out: "tidal_volume_obs", Items: []int64{224685, 224686, 224421}},
	{Out: "resp_rate_set", Items: []int64{224688, 227581}},
	{Out: "resp_rate_obs", Items: []int64{224690, 224422}},
	{Out: "flow_rate_set", Items: []int64{224691, 227582}},
	{Out: "peep_set", Items: []int64{220339, 227579}},
	{Out: "mode_name", Items: []int64{223849, 229314, 227577}},
}

// trachDeviceNames are the device readings that imply a tracheostomy is
// in place even when no procedure row says so.
var trachDeviceNames = map[string]bool{
	"Tracheostomy tube": true,
	"Trach mask":        true,
}

// RespiratorySupportRow is one finalized respiratory_support row: one
// observation per (hospitalization, timestamp) with every charted
// setting as its own column. Pointer columns are null when the setting
// was not charted at that moment.
type RespiratorySupportRow struct {
	HospitalizationID          string    `parquet:"hospitalization_id"`
	RecordedDttm               time.Time `parquet:"recorded_dttm,timestamp"`
	DeviceName                 *string   `parquet:"device_name,optional"`
	DeviceCategory             *string   `parquet:"device_category,optional"`
	VentBrandName              *string   `parquet:"vent_brand_name,optional"`
	ModeName                   *string   `parquet:"mode_name,optional"`
	ModeCategory               *string   `parquet:"mode_category,optional"`
	Tracheostomy               bool      `parquet:"tracheostomy"`
	FiO2Set                    *float64  `parquet:"fio2_set,optional"`
	LpmSet                     *float64  `parquet:"lpm_set,optional"`
	TidalVolumeSet             *float64  `parquet:"tidal_volume_set,optional"`
	RespRateSet                *float64  `parquet:"resp_rate_set,optional"`
	PressureControlSet         *float64  `parquet:"pressure_control_set,optional"`
	PressureSupportSet         *float64  `parquet:"pressure_support_set,optional"`
	FlowRateSet                *float64  `parquet:"flow_rate_set,optional"`
	PeakInspiratoryPressureSet *float64  `parquet:"peak_inspiratory_pressure_set,optional"`
	InspiratoryTimeSet         *float64  `parquet:"inspiratory_time_set,optional"`
	PeepSet                    *float64  `parquet:"peep_set,optional"`
	TidalVolumeObs             *float64  `parquet:"tidal_volume_obs,optional"`
	RespRateObs                *float64  `parquet:"resp_rate_obs,optional"`
	PlateauPressureObs         *float64  `parquet:"plateau_pressure_obs,optional"`
	PeakInspiratoryPressureObs *float64  `parquet:"peak_inspiratory_pressure_obs,optional"`
	PeepObs                    *float64  `parquet:"peep_obs,optional"`
	MinuteVentObs              *float64  `parquet:"minute_vent_obs,optional"`
	MeanAirwayPressureObs      *float64  `parquet:"mean_airway_pressure_obs,optional"`
}

// BuildRespiratorySupport builds the clif respiratory_support table.
func BuildRespiratorySupport(ctx context.Context, d Deps) error {
	log := d.Log.With(zap.String("table", "respiratory_support"))
	log.Info("starting build")

	respMapping, err := vocab.LoadMappingCSV(d.MappingsDir, "respiratory_support")
	if err != nil {
		return err
	}
	deviceMapping, err := vocab.LoadMappingCSV(d.MappingsDir, "device_category")
	if err != nil {
		return err
	}
	modeMapping, err := vocab.LoadMappingCSV(d.MappingsDir, "mode_category")
	if err != nil {
		return err
	}

	variableByItem := vocab.BuildItemLookup(respMapping, "variable", vocab.LookupOpts{
		DecisionCol: "variable",
	})
	// The vent brand item's values are ventilator model names; they must
	// not participate in the device-category lookup.
	deviceLookup := vocab.BuildLookup(
		vocab.ExcludeWhere(deviceMapping, "itemid", strconv.FormatInt(ventBrandItem, 10)),
		"device_name", "device_category",
		vocab.LookupOpts{DecisionCol: "device_category"},
	)
	modeLookup := vocab.BuildLookup(modeMapping, "mode_name", "mode_category",
		vocab.LookupOpts{DecisionCol: "mode_category"})

	itemIDs := vocab.RelevantItemIDs(respMapping, "variable", vocab.DefaultExcludedDecisions)
	log.Info("identified relevant items", zap.Int("items", len(itemIDs)))

	events, err := d.Store.Events(ctx, itemIDs)
	if err != nil {
		return err
	}

	events, err = dropLiteralNoneDevices(events)
	if err != nil {
		return err
	}

	cleanFiO2Events(events, variableByItem)

	// First reconciliation pass: competing device readings at one
	// timestamp resolve by invasiveness rank.
	events, devStats := etl.ReconcileDevices(events, o2DeviceItem, deviceLookup, etl.RespDeviceRank)
	log.Info("reconciled duplicate device readings",
		zap.Int("groups", devStats.Groups),
		zap.Int("dropped", devStats.Dropped),
		zap.Int("unmapped", devStats.Unmapped))

	// Null values carry no information once device duplicates are settled.
	events = dropNullValues(events)

	// Residual same-key duplicates are equal-priority repeat reads;
	// input order is the deterministic tie-break.
	before := len(events)
	events = etl.CollapseExact(events, etl.Event.Key)
	if dropped := before - len(events); dropped > 0 {
		log.Info("collapsed repeat reads", zap.Int("dropped", dropped))
	}

	wide, err := etl.Pivot(events)
	if err != nil {
		return fmt.Errorf("pivot respiratory events: %w", err)
	}
	log.Info("pivoted to wide form", zap.Int("rows", len(wide)))

	etl.Coalesce(wide, respCoalesceGroups)
	etl.RenameItems(wide, variableByItem)
	etl.DeriveCategory(wide, "device_name", "device_category", deviceLookup)
	etl.DeriveCategory(wide, "mode_name", "mode_category", modeLookup)

	rows := make([]RespiratorySupportRow, 0, len(wide))
	for _, w := range wide {
		rows = append(rows, RespiratorySupportRow{
			HospitalizationID:          strconv.FormatInt(w.HadmID, 10),
			RecordedDttm:               etl.ToUTC(w.Time, d.Site),
			DeviceName:                 etl.StringPtr(w.Col("device_name")),
			DeviceCategory:             etl.StringPtr(w.Col("device_category")),
			VentBrandName:              etl.StringPtr(w.Col("vent_brand_name")),
			ModeName:                   etl.StringPtr(w.Col("mode_name")),
			ModeCategory:               etl.StringPtr(w.Col("mode_category")),
			Tracheostomy:               truthy(w.Col("tracheostomy")),
			FiO2Set:                    floatCol(w, "fio2_set"),
			LpmSet:                     floatCol(w, "lpm_set"),
			TidalVolumeSet:             floatCol(w, "tidal_volume_set"),
			RespRateSet:                floatCol(w, "resp_rate_set"),
			PressureControlSet:         floatCol(w, "pressure_control_set"),
			PressureSupportSet:         floatCol(w, "pressure_support_set"),
			FlowRateSet:                floatCol(w, "flow_rate_set"),
			PeakInspiratoryPressureSet: floatCol(w, "peak_inspiratory_pressure_set"),
			InspiratoryTimeSet:         floatCol(w, "inspiratory_time_set"),
			PeepSet:                    floatCol(w, "peep_set"),
			TidalVolumeObs:             floatCol(w, "tidal_volume_obs"),
			RespRateObs:                floatCol(w, "resp_rate_obs"),
			PlateauPressureObs:         floatCol(w, "plateau_pressure_obs"),
			PeakInspiratoryPressureObs: floatCol(w, "peak_inspiratory_pressure_obs"),
			PeepObs:                    floatCol(w, "peep_obs"),
			MinuteVentObs:              floatCol(w, "minute_vent_obs"),
			MeanAirwayPressureObs:      floatCol(w, "mean_airway_pressure_obs"),
		})
	}

	latchTracheostomy(rows)

	checker := schema.NewChecker("respiratory_support")
	for i, r := range rows {
		checker.Required(i, "hospitalization_id", r.HospitalizationID)
		if r.DeviceCategory != nil {
			checker.Enum(i, "device_category", *r.DeviceCategory, schema.DeviceCategories)
		}
		if r.ModeCategory != nil {
			checker.Enum(i, "mode_category", *r.ModeCategory, schema.ModeCategories)
		}
		checker.Range(i, "fio2_set", r.FiO2Set, schema.FiO2Min, schema.FiO2Max)
	}
	if err := checker.Err(); err != nil {
		// Keep a debug copy of the failing table; the builder still fails.
		if _, werr := sink.Write(d.Sink, "respiratory_support_failed", rows); werr == nil {
			log.Warn("schema check failed, wrote debug copy")
		}
		return err
	}

	if _, err := sink.Write(d.Sink, "respiratory_support", rows); err != nil {
		return err
	}
	log.Info("build complete", zap.Int("rows", len(rows)))
	return nil
}

// dropLiteralNoneDevices removes rows whose charted value is the string
// "None". Only the O2 delivery device item charts that placeholder; any
// other item doing so means the extract is wrong, so fail instead of
// silently dropping.
func dropLiteralNoneDevices(events []etl.Event) ([]etl.Event, error) {
	out := events[:0:0]
	for _, e := range events {
		if e.Value == "None" {
			if e.ItemID != o2DeviceItem {
				return nil, fmt.Errorf("literal 'None' value charted for item %d, expected only %d", e.ItemID, o2DeviceItem)
			}
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// cleanFiO2Events normalizes fio2_set readings to a fraction in place:
// percent-scale readings (20–100) divide by 100, fraction-scale readings
// (0.2–1.0] pass through, anything else is an outlier and becomes null.
func cleanFiO2Events(events []etl.Event, variableByItem map[int64]string) {
	for i := range events {
		if variableByItem[events[i].ItemID] != "fio2_set" {
			continue
		}
		v, ok := events[i].Num()
		if !ok {
			continue
		}
		var cleaned *float64
		switch {
		case v >= 20 && v <= 100:
			cleaned = etl.Float64Ptr(v / 100)
		case v > 0.2 && v <= 1:
			cleaned = etl.Float64Ptr(v)
		default:
			// 1–20 and out-of-range values are physiologically impossible.
			cleaned = nil
		}
		if cleaned == nil {
			events[i].Value = ""
			events[i].ValueNum = nil
			continue
		}
		events[i].ValueNum = cleaned
		events[i].Value = strconv.FormatFloat(*cleaned, 'f', -1, 64)
	}
}

func dropNullValues(events []etl.Event) []etl.Event {
	out := events[:0:0]
	for _, e := range events {
		if e.Value == "" && e.ValueNum == nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

// latchTracheostomy replaces the raw per-row tracheostomy flag with the
// per-encounter carry-forward state: procedure evidence or a trach
// device at any row latches the flag true for the rest of the encounter.
func latchTracheostomy(rows []RespiratorySupportRow) {
	etl.LatchForward(rows,
		func(r RespiratorySupportRow) int64 {
			id, _ := strconv.ParseInt(r.HospitalizationID, 10, 64)
			return id
		},
		func(r RespiratorySupportRow) int64 { return r.RecordedDttm.UnixNano() },
		func(r RespiratorySupportRow) bool {
			if r.Tracheostomy {
				return true
			}
			return r.DeviceName != nil && trachDeviceNames[*r.DeviceName]
		},
		func(r *RespiratorySupportRow, latched bool) { r.Tracheostomy = latched },
	)
}

func truthy(v string) bool {
	switch strings.TrimSpace(v) {
	case "", "0", "0.0":
		return false
	default:
		return true
	}
}

func floatCol(w etl.WideRow, name string) *float64 {
	v := strings.TrimSpace(w.Col(name))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}
