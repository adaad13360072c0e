package tables

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mimic2clif/etl"
	"mimic2clif/schema"
	"mimic2clif/sink"
	"mimic2clif/vocab"
)

// weightLbItem is the one weight item charted in pounds
// (Admission Weight (lbs.)); everything else arrives in kg.
const weightLbItem = 226531

// Temperature items: Fahrenheit, Celsius, and measurement site.
const (
	tempFItem    = 223761
	tempCItem    = 223762
	tempSiteItem = 224642
)

// VitalRow is one long-form vital sign observation.
type VitalRow struct {
	HospitalizationID string     `parquet:"hospitalization_id"`
	RecordedDttm      *time.Time `parquet:"recorded_dttm,optional,timestamp"`
	VitalName         *string    `parquet:"vital_name,optional"`
	VitalCategory     *string    `parquet:"vital_category,optional"`
	VitalValue        *float64   `parquet:"vital_value,optional"`
	MeasSiteName      *string    `parquet:"meas_site_name,optional"`
}

type vitalKey struct {
	hadmID   int64
	timeNano int64
	category string
	value    float64
}

// BuildVitals builds the clif vitals table. Most vital items translate
// row for row; the two temperature items need a pivot so Celsius can
// win over converted Fahrenheit at the same charting instant.
func BuildVitals(ctx context.Context, d Deps) error {
	log := d.Log.With(zap.String("table", "vitals"))
	log.Info("starting build")

	vitalsMapping, err := vocab.LoadMappingCSV(d.MappingsDir, "vitals")
	if err != nil {
		return err
	}
	nameByItem := vocab.BuildItemLookup(vitalsMapping, "label = vital_name", vocab.LookupOpts{})
	categoryByItem := vocab.BuildItemLookup(vitalsMapping, "vital_category", vocab.LookupOpts{})

	// temp_c rows are produced by the pivot below, not the standard path.
	excluded := append(append([]string{}, vocab.DefaultExcludedDecisions...), "temp_c")
	itemIDs := vocab.RelevantItemIDs(vitalsMapping, "vital_category", excluded)

	events, err := d.Store.Events(ctx, itemIDs)
	if err != nil {
		return err
	}
	log.Info("fetched standard vital events", zap.Int("events", len(events)))

	rows := make([]VitalRow, 0, len(events))
	for _, e := range events {
		v, ok := e.Num()
		if !ok {
			continue
		}
		if e.ItemID == weightLbItem {
			v = math.Round(v/2.205*10) / 10
		}
		row := VitalRow{
			HospitalizationID: strconv.FormatInt(e.HadmID, 10),
			RecordedDttm:      etl.TimePtr(etl.ToUTC(e.Time, d.Site)),
			VitalValue:        etl.Float64Ptr(v),
		}
		if name, ok := nameByItem[e.ItemID]; ok {
			row.VitalName = etl.StringPtr(name)
		}
		if cat, ok := categoryByItem[e.ItemID]; ok {
			row.VitalCategory = etl.StringPtr(cat)
		}
		rows = append(rows, row)
	}

	tempRows, err := buildTemperature(ctx, d, log)
	if err != nil {
		return err
	}
	rows = append(rows, tempRows...)

	before := len(rows)
	rows = etl.CollapseExact(rows, func(r VitalRow) vitalKey {
		k := vitalKey{hadmID: mustInt(r.HospitalizationID)}
		if r.RecordedDttm != nil {
			k.timeNano = r.RecordedDttm.UnixNano()
		}
		if r.VitalCategory != nil {
			k.category = *r.VitalCategory
		}
		if r.VitalValue != nil {
			k.value = *r.VitalValue
		}
		return k
	})
	log.Info("dropped exact duplicates", zap.Int("dropped", before-len(rows)))

	checker := schema.NewChecker("vitals")
	for i, r := range rows {
		checker.Required(i, "hospitalization_id", r.HospitalizationID)
	}
	if err := checker.Err(); err != nil {
		return err
	}

	if _, err := sink.Write(d.Sink, "vitals", rows); err != nil {
		return err
	}
	log.Info("build complete", zap.Int("rows", len(rows)))
	return nil
}

// buildTemperature pivots the three temperature items per charting
// instant and coalesces Celsius over converted Fahrenheit.
func buildTemperature(ctx context.Context, d Deps, log *zap.Logger) ([]VitalRow, error) {
	events, err := d.Store.Events(ctx, []int64{tempFItem, tempCItem, tempSiteItem})
	if err != nil {
		return nil, err
	}
	log.Info("pivoting temperature events", zap.Int("events", len(events)))

	wide, err := etl.Pivot(events)
	if err != nil {
		return nil, fmt.Errorf("temperature: %w", err)
	}

	rows := make([]VitalRow, 0, len(wide))
	for _, w := range wide {
		row := VitalRow{
			HospitalizationID: strconv.FormatInt(w.HadmID, 10),
			RecordedDttm:      etl.TimePtr(etl.ToUTC(w.Time, d.Site)),
			VitalCategory:     etl.StringPtr("temp_c"),
			MeasSiteName:      etl.StringPtr(w.Items[tempSiteItem]),
		}
		if c := w.Items[tempCItem]; c != "" {
			v, err := strconv.ParseFloat(c, 64)
			if err != nil {
				continue
			}
			row.VitalValue = etl.Float64Ptr(v)
			row.VitalName = etl.StringPtr("Temperature Celsius")
		} else if f := w.Items[tempFItem]; f != "" {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				continue
			}
			row.VitalValue = etl.Float64Ptr(fahrenheitToCelsius(v))
			row.VitalName = etl.StringPtr("Temperature Fahrenheit")
		} else {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// fahrenheitToCelsius converts and rounds to one decimal, matching how
// charted Celsius values are recorded.
func fahrenheitToCelsius(f float64) float64 {
	return math.Round((f-32)*5/9*10) / 10
}

func mustInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
