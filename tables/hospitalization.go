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

// HospitalizationRow is one finalized hospitalization row, one per
// hospital admission.
type HospitalizationRow struct {
	PatientID             string     `parquet:"patient_id"`
	HospitalizationID     string     `parquet:"hospitalization_id"`
	AdmissionDttm         *time.Time `parquet:"admission_dttm,optional,timestamp"`
	DischargeDttm         *time.Time `parquet:"discharge_dttm,optional,timestamp"`
	AgeAtAdmission        *int32     `parquet:"age_at_admission,optional"`
	AdmissionTypeName     *string    `parquet:"admission_type_name,optional"`
	AdmissionTypeCategory *string    `parquet:"admission_type_category,optional"`
	DischargeName         *string    `parquet:"discharge_name,optional"`
	DischargeCategory     *string    `parquet:"discharge_category,optional"`
	ZipcodeNineDigit      *string    `parquet:"zipcode_nine_digit,optional"`
	ZipcodeFiveDigit      *string    `parquet:"zipcode_five_digit,optional"`
}

// BuildHospitalization builds the clif hospitalization table from
// admissions joined with patients. MIMIC publishes ages as anchors, so
// age at admission is anchor_age plus the year offset of the admission.
func BuildHospitalization(ctx context.Context, d Deps) error {
	log := d.Log.With(zap.String("table", "hospitalization"))
	log.Info("starting build")

	dischargeMapping, err := vocab.LoadMappingCSV(d.MappingsDir, "discharge")
	if err != nil {
		return err
	}
	dischargeLookup := vocab.BuildLookup(dischargeMapping, "discharge_location", "disposition_category", vocab.LookupOpts{})

	admissions, err := source.Rows[source.Admission](ctx, d.Store, "hosp", "admissions")
	if err != nil {
		return err
	}
	patients, err := source.Rows[source.Patient](ctx, d.Store, "hosp", "patients")
	if err != nil {
		return err
	}

	anchors := make(map[int64]source.Patient, len(patients))
	for _, p := range patients {
		anchors[p.SubjectID] = p
	}

	log.Info("deriving age at admission", zap.Int("admissions", len(admissions)))
	rows := make([]HospitalizationRow, 0, len(admissions))
	for _, a := range admissions {
		row := HospitalizationRow{
			PatientID:         strconv.FormatInt(a.SubjectID, 10),
			HospitalizationID: strconv.FormatInt(a.HadmID, 10),
			AdmissionDttm:     etl.TimePtr(etl.ToUTC(a.AdmitTime, d.Site)),
			AdmissionTypeName: etl.StringPtr(a.AdmissionType),
		}
		if a.DischTime != nil {
			row.DischargeDttm = etl.TimePtr(etl.ToUTC(*a.DischTime, d.Site))
		}
		if a.DischargeLocation != nil && *a.DischargeLocation != "" {
			row.DischargeName = a.DischargeLocation
			if cat, ok := dischargeLookup[*a.DischargeLocation]; ok {
				row.DischargeCategory = etl.StringPtr(cat)
			}
		} else {
			// Absent discharge location is charted, not a mapping gap.
			row.DischargeCategory = etl.StringPtr("Missing")
		}
		if p, ok := anchors[a.SubjectID]; ok {
			age := p.AnchorAge + int32(a.AdmitTime.Year()) - p.AnchorYear
			row.AgeAtAdmission = &age
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].HospitalizationID < rows[j].HospitalizationID })

	checker := schema.NewChecker("hospitalization")
	agef := func(a int32) *float64 { f := float64(a); return &f }
	for i, r := range rows {
		checker.Required(i, "patient_id", r.PatientID)
		checker.Required(i, "hospitalization_id", r.HospitalizationID)
		if r.AgeAtAdmission != nil {
			checker.Range(i, "age_at_admission", agef(*r.AgeAtAdmission), 0, 120)
		}
	}
	if err := checker.Err(); err != nil {
		return err
	}

	if _, err := sink.Write(d.Sink, "hospitalization", rows); err != nil {
		return err
	}
	log.Info("build complete", zap.Int("rows", len(rows)))
	return nil
}
