package tables

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mimic2clif/etl"
	"mimic2clif/schema"
	"mimic2clif/sink"
	"mimic2clif/vocab"
)

// Lab items needing unit conversion before they match the CLIF
// reference units.
var (
	// ionized calcium, mmol/L → mg/dL
	calciumItems = map[int64]bool{50808: true, 51624: true}
	// troponin t/i, ng/mL → ng/L
	troponinItems = map[int64]bool{51003: true, 52642: true}
)

// labIncludedDecisions are the curators' verdicts that keep a lab item
// in scope. UNSURE stays in for labs: the mapped category is plausible
// and dropping the item loses the whole analyte.
var labIncludedDecisions = map[string]bool{
	"TO MAP, CONVERT UOM": true,
	"TO MAP, AS IS":       true,
	"UNSURE":              true,
}

// LabRow is one long-form lab result. Order, specimen, and LOINC
// columns are part of the CLIF contract but have no MIMIC source, so
// they are written blank.
type LabRow struct {
	HospitalizationID   string     `parquet:"hospitalization_id"`
	LabOrderDttm        *time.Time `parquet:"lab_order_dttm,optional,timestamp"`
	LabCollectDttm      *time.Time `parquet:"lab_collect_dttm,optional,timestamp"`
	LabResultDttm       *time.Time `parquet:"lab_result_dttm,optional,timestamp"`
	LabOrderName        *string    `parquet:"lab_order_name,optional"`
	LabOrderCategory    *string    `parquet:"lab_order_category,optional"`
	LabName             *string    `parquet:"lab_name,optional"`
	LabCategory         *string    `parquet:"lab_category,optional"`
	LabValue            *string    `parquet:"lab_value,optional"`
	LabValueNumeric     *float64   `parquet:"lab_value_numeric,optional"`
	ReferenceUnit       *string    `parquet:"reference_unit,optional"`
	LabSpecimenName     *string    `parquet:"lab_specimen_name,optional"`
	LabSpecimenCategory *string    `parquet:"lab_specimen_category,optional"`
	LabLoincCode        *string    `parquet:"lab_loinc_code,optional"`
}

type labKey struct {
	hadmID      int64
	collectNano int64
	resultNano  int64
	category    string
	numeric     float64
	numericNull bool
}

// BuildLabs builds the clif labs table. Lab items split by id width:
// five-digit items live in hosp/labevents, six-digit ones were charted
// into icu/chartevents.
func BuildLabs(ctx context.Context, d Deps) error {
	log := d.Log.With(zap.String("table", "labs"))
	log.Info("starting build")

	labsMapping, err := vocab.LoadMappingCSV(d.MappingsDir, "labs")
	if err != nil {
		return err
	}
	nameByItem := make(map[int64]string)
	categoryByItem := vocab.BuildItemLookup(labsMapping, "lab_category", vocab.LookupOpts{})

	var labItems, chartItems []int64
	for _, row := range labsMapping {
		if !labIncludedDecisions[row["decision"]] {
			continue
		}
		raw := row["itemid"]
		if raw == "" {
			// procalcitonin has no MIMIC item at all
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		nameByItem[id] = row["label"]
		if len(raw) == 5 {
			labItems = append(labItems, id)
		} else {
			chartItems = append(chartItems, id)
		}
	}

	log.Info("fetching lab events",
		zap.Int("labevent_items", len(labItems)), zap.Int("chartevent_items", len(chartItems)))

	rows := make([]LabRow, 0, 1<<16)

	labEvents, err := d.Store.LabEventsFor(ctx, labItems)
	if err != nil {
		return err
	}
	for _, e := range labEvents {
		row := LabRow{
			HospitalizationID: strconv.FormatInt(*e.HadmID, 10),
			LabCollectDttm:    etl.TimePtr(etl.ToUTC(e.ChartTime, d.Site)),
			LabValueNumeric:   e.ValueNum,
			ReferenceUnit:     e.ValueUOM,
		}
		if e.StoreTime != nil {
			row.LabResultDttm = etl.TimePtr(etl.ToUTC(*e.StoreTime, d.Site))
		}
		if e.Value != nil {
			row.LabValue = etl.StringPtr(*e.Value)
		}
		fillLabNames(&row, e.ItemID, nameByItem, categoryByItem)
		convertLabUnits(&row, e.ItemID)
		rows = append(rows, row)
	}

	chartEvents, err := d.Store.Events(ctx, chartItems)
	if err != nil {
		return err
	}
	for _, e := range chartEvents {
		row := LabRow{
			HospitalizationID: strconv.FormatInt(e.HadmID, 10),
			LabCollectDttm:    etl.TimePtr(etl.ToUTC(e.Time, d.Site)),
			LabValueNumeric:   e.ValueNum,
			LabValue:          etl.StringPtr(e.Value),
			ReferenceUnit:     etl.StringPtr(e.ValueUOM),
		}
		if !e.StoreTime.IsZero() {
			row.LabResultDttm = etl.TimePtr(etl.ToUTC(e.StoreTime, d.Site))
		}
		fillLabNames(&row, e.ItemID, nameByItem, categoryByItem)
		rows = append(rows, row)
	}

	before := len(rows)
	rows = etl.CollapseExact(rows, func(r LabRow) labKey {
		k := labKey{hadmID: mustInt(r.HospitalizationID)}
		if r.LabCollectDttm != nil {
			k.collectNano = r.LabCollectDttm.UnixNano()
		}
		if r.LabResultDttm != nil {
			k.resultNano = r.LabResultDttm.UnixNano()
		}
		if r.LabCategory != nil {
			k.category = *r.LabCategory
		}
		if r.LabValueNumeric != nil {
			k.numeric = *r.LabValueNumeric
		} else {
			k.numericNull = true
		}
		return k
	})
	log.Info("dropped exact duplicates", zap.Int("dropped", before-len(rows)))

	checker := schema.NewChecker("labs")
	for i, r := range rows {
		checker.Required(i, "hospitalization_id", r.HospitalizationID)
	}
	if err := checker.Err(); err != nil {
		return err
	}

	if _, err := sink.Write(d.Sink, "labs", rows); err != nil {
		return err
	}
	log.Info("build complete", zap.Int("rows", len(rows)))
	return nil
}

func fillLabNames(row *LabRow, itemID int64, names, categories map[int64]string) {
	if name, ok := names[itemID]; ok && name != "" {
		row.LabName = etl.StringPtr(name)
	}
	if cat, ok := categories[itemID]; ok {
		row.LabCategory = etl.StringPtr(cat)
	}
}

// convertLabUnits rescales the handful of labevents analytes charted in
// non-CLIF units, rewriting the string value to match the new numeric.
func convertLabUnits(row *LabRow, itemID int64) {
	var factor float64
	var unit string
	switch {
	case calciumItems[itemID]:
		factor, unit = 4, "mg/dL"
	case troponinItems[itemID]:
		factor, unit = 1000, "ng/L"
	default:
		return
	}
	row.ReferenceUnit = etl.StringPtr(unit)
	if row.LabValueNumeric == nil {
		return
	}
	v := *row.LabValueNumeric * factor
	row.LabValueNumeric = &v
	row.LabValue = etl.StringPtr(strconv.FormatFloat(v, 'f', -1, 64))
}
