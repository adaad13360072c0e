package tables

import (
	"context"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mimic2clif/etl"
	"mimic2clif/schema"
	"mimic2clif/sink"
	"mimic2clif/source"
	"mimic2clif/vocab"
)

// ADTRow is one ward stay within a hospitalization.
type ADTRow struct {
	PatientID         string     `parquet:"patient_id"`
	HospitalizationID string     `parquet:"hospitalization_id"`
	HospitalID        *string    `parquet:"hospital_id,optional"`
	InDttm            *time.Time `parquet:"in_dttm,optional,timestamp"`
	OutDttm           *time.Time `parquet:"out_dttm,optional,timestamp"`
	LocationName      *string    `parquet:"location_name,optional"`
	LocationCategory  *string    `parquet:"location_category,optional"`
}

// BuildADT builds the clif adt table from hosp/transfers. Transfers
// without an admission id or with an UNKNOWN care unit carry no usable
// location and are dropped up front.
func BuildADT(ctx context.Context, d Deps) error {
	log := d.Log.With(zap.String("table", "adt"))
	log.Info("starting build")

	adtMapping, err := vocab.LoadMappingCSV(d.MappingsDir, "adt")
	if err != nil {
		return err
	}
	locationLookup := vocab.BuildLookup(adtMapping, "careunit", "location_category", vocab.LookupOpts{})

	transfers, err := source.Rows[source.Transfer](ctx, d.Store, "hosp", "transfers")
	if err != nil {
		return err
	}

	log.Info("filtering unusable transfers", zap.Int("transfers", len(transfers)))
	dropped := 0
	rows := make([]ADTRow, 0, len(transfers))
	for _, t := range transfers {
		if t.HadmID == nil || t.CareUnit == nil || *t.CareUnit == "UNKNOWN" {
			dropped++
			continue
		}
		row := ADTRow{
			PatientID:         strconv.FormatInt(t.SubjectID, 10),
			HospitalizationID: strconv.FormatInt(*t.HadmID, 10),
			InDttm:            etl.TimePtr(etl.ToUTC(t.InTime, d.Site)),
			LocationName:      t.CareUnit,
		}
		if t.OutTime != nil {
			row.OutDttm = etl.TimePtr(etl.ToUTC(*t.OutTime, d.Site))
		}
		if cat, ok := locationLookup[*t.CareUnit]; ok {
			row.LocationCategory = etl.StringPtr(cat)
		}
		rows = append(rows, row)
	}
	log.Info("dropped transfers without admission or care unit", zap.Int("dropped", dropped))
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].HospitalizationID != rows[j].HospitalizationID {
			return rows[i].HospitalizationID < rows[j].HospitalizationID
		}
		return rows[i].InDttm.Before(*rows[j].InDttm)
	})

	checker := schema.NewChecker("adt")
	for i, r := range rows {
		checker.Required(i, "patient_id", r.PatientID)
		checker.Required(i, "hospitalization_id", r.HospitalizationID)
	}
	if err := checker.Err(); err != nil {
		return err
	}

	if _, err := sink.Write(d.Sink, "adt", rows); err != nil {
		return err
	}
	log.Info("build complete", zap.Int("rows", len(rows)))
	return nil
}
