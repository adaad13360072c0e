package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parquet-go/parquet-go"

	"mimic2clif/tables"
)

// clifTable binds one CLIF relation to its DDL and parquet reader.
type clifTable struct {
	name    string
	ddl     string
	columns []string
	load    func(ctx context.Context, pool *pgxpool.Pool, t clifTable, path string, batchSize int) (int64, error)
}

var clifTables = []clifTable{
	{
		name: "patient",
		ddl: `CREATE TABLE IF NOT EXISTS clif_patient (
			patient_id text NOT NULL,
			race_name text, race_category text,
			ethnicity_name text, ethnicity_category text,
			sex_name text, sex_category text,
			birth_date timestamptz, death_dttm timestamptz,
			language_name text, language_category text
		)`,
		columns: []string{
			"patient_id", "race_name", "race_category", "ethnicity_name", "ethnicity_category",
			"sex_name", "sex_category", "birth_date", "death_dttm", "language_name", "language_category",
		},
		load: loaderOf("patient", func(r tables.PatientRow) []any {
			return []any{
				r.PatientID, r.RaceName, r.RaceCategory, r.EthnicityName, r.EthnicityCategory,
				r.SexName, r.SexCategory, r.BirthDate, r.DeathDttm, r.LanguageName, r.LanguageCategory,
			}
		}),
	},
	{
		name: "hospitalization",
		ddl: `CREATE TABLE IF NOT EXISTS clif_hospitalization (
			patient_id text NOT NULL,
			hospitalization_id text NOT NULL,
			admission_dttm timestamptz, discharge_dttm timestamptz,
			age_at_admission int,
			admission_type_name text, admission_type_category text,
			discharge_name text, discharge_category text,
			zipcode_nine_digit text, zipcode_five_digit text
		)`,
		columns: []string{
			"patient_id", "hospitalization_id", "admission_dttm", "discharge_dttm", "age_at_admission",
			"admission_type_name", "admission_type_category", "discharge_name", "discharge_category",
			"zipcode_nine_digit", "zipcode_five_digit",
		},
		load: loaderOf("hospitalization", func(r tables.HospitalizationRow) []any {
			return []any{
				r.PatientID, r.HospitalizationID, r.AdmissionDttm, r.DischargeDttm, r.AgeAtAdmission,
				r.AdmissionTypeName, r.AdmissionTypeCategory, r.DischargeName, r.DischargeCategory,
				r.ZipcodeNineDigit, r.ZipcodeFiveDigit,
			}
		}),
	},
	{
		name: "adt",
		ddl: `CREATE TABLE IF NOT EXISTS clif_adt (
			patient_id text NOT NULL,
			hospitalization_id text NOT NULL,
			hospital_id text,
			in_dttm timestamptz, out_dttm timestamptz,
			location_name text, location_category text
		)`,
		columns: []string{
			"patient_id", "hospitalization_id", "hospital_id", "in_dttm", "out_dttm",
			"location_name", "location_category",
		},
		load: loaderOf("adt", func(r tables.ADTRow) []any {
			return []any{
				r.PatientID, r.HospitalizationID, r.HospitalID, r.InDttm, r.OutDttm,
				r.LocationName, r.LocationCategory,
			}
		}),
	},
	{
		name: "vitals",
		ddl: `CREATE TABLE IF NOT EXISTS clif_vitals (
			hospitalization_id text NOT NULL,
			recorded_dttm timestamptz,
			vital_name text, vital_category text,
			vital_value double precision,
			meas_site_name text
		)`,
		columns: []string{
			"hospitalization_id", "recorded_dttm", "vital_name", "vital_category",
			"vital_value", "meas_site_name",
		},
		load: loaderOf("vitals", func(r tables.VitalRow) []any {
			return []any{
				r.HospitalizationID, r.RecordedDttm, r.VitalName, r.VitalCategory,
				r.VitalValue, r.MeasSiteName,
			}
		}),
	},
	{
		name: "labs",
		ddl: `CREATE TABLE IF NOT EXISTS clif_labs (
			hospitalization_id text NOT NULL,
			lab_order_dttm timestamptz, lab_collect_dttm timestamptz, lab_result_dttm timestamptz,
			lab_order_name text, lab_order_category text,
			lab_name text, lab_category text,
			lab_value text, lab_value_numeric double precision,
			reference_unit text,
			lab_specimen_name text, lab_specimen_category text,
			lab_loinc_code text
		)`,
		columns: []string{
			"hospitalization_id", "lab_order_dttm", "lab_collect_dttm", "lab_result_dttm",
			"lab_order_name", "lab_order_category", "lab_name", "lab_category",
			"lab_value", "lab_value_numeric", "reference_unit",
			"lab_specimen_name", "lab_specimen_category", "lab_loinc_code",
		},
		load: loaderOf("labs", func(r tables.LabRow) []any {
			return []any{
				r.HospitalizationID, r.LabOrderDttm, r.LabCollectDttm, r.LabResultDttm,
				r.LabOrderName, r.LabOrderCategory, r.LabName, r.LabCategory,
				r.LabValue, r.LabValueNumeric, r.ReferenceUnit,
				r.LabSpecimenName, r.LabSpecimenCategory, r.LabLoincCode,
			}
		}),
	},
	{
		name: "respiratory_support",
		ddl: `CREATE TABLE IF NOT EXISTS clif_respiratory_support (
			hospitalization_id text NOT NULL,
			recorded_dttm timestamptz NOT NULL,
			device_name text, device_category text,
			vent_brand_name text,
			mode_name text, mode_category text,
			tracheostomy boolean NOT NULL,
			fio2_set double precision, lpm_set double precision,
			tidal_volume_set double precision, resp_rate_set double precision,
			pressure_control_set double precision, pressure_support_set double precision,
			flow_rate_set double precision, peak_inspiratory_pressure_set double precision,
			inspiratory_time_set double precision, peep_set double precision,
			tidal_volume_obs double precision, resp_rate_obs double precision,
			plateau_pressure_obs double precision, peak_inspiratory_pressure_obs double precision,
			peep_obs double precision, minute_vent_obs double precision,
			mean_airway_pressure_obs double precision
		)`,
		columns: []string{
			"hospitalization_id", "recorded_dttm", "device_name", "device_category",
			"vent_brand_name", "mode_name", "mode_category", "tracheostomy",
			"fio2_set", "lpm_set", "tidal_volume_set", "resp_rate_set",
			"pressure_control_set", "pressure_support_set", "flow_rate_set",
			"peak_inspiratory_pressure_set", "inspiratory_time_set", "peep_set",
			"tidal_volume_obs", "resp_rate_obs", "plateau_pressure_obs",
			"peak_inspiratory_pressure_obs", "peep_obs", "minute_vent_obs",
			"mean_airway_pressure_obs",
		},
		load: loaderOf("respiratory_support", func(r tables.RespiratorySupportRow) []any {
			return []any{
				r.HospitalizationID, r.RecordedDttm, r.DeviceName, r.DeviceCategory,
				r.VentBrandName, r.ModeName, r.ModeCategory, r.Tracheostomy,
				r.FiO2Set, r.LpmSet, r.TidalVolumeSet, r.RespRateSet,
				r.PressureControlSet, r.PressureSupportSet, r.FlowRateSet,
				r.PeakInspiratoryPressureSet, r.InspiratoryTimeSet, r.PeepSet,
				r.TidalVolumeObs, r.RespRateObs, r.PlateauPressureObs,
				r.PeakInspiratoryPressureObs, r.PeepObs, r.MinuteVentObs,
				r.MeanAirwayPressureObs,
			}
		}),
	},
	{
		name: "medication_admin_continuous",
		ddl: `CREATE TABLE IF NOT EXISTS clif_medication_admin_continuous (
			hospitalization_id text NOT NULL,
			med_order_id text,
			admin_dttm timestamptz NOT NULL,
			med_name text, med_category text, med_group text,
			med_route_name text, med_route_category text,
			med_dose double precision, med_dose_unit text,
			mar_action_name text, mar_action_category text
		)`,
		columns: []string{
			"hospitalization_id", "med_order_id", "admin_dttm", "med_name", "med_category",
			"med_group", "med_route_name", "med_route_category", "med_dose", "med_dose_unit",
			"mar_action_name", "mar_action_category",
		},
		load: loaderOf("medication_admin_continuous", func(r tables.MedicationAdminRow) []any {
			return []any{
				r.HospitalizationID, r.MedOrderID, r.AdminDttm, r.MedName, r.MedCategory,
				r.MedGroup, r.MedRouteName, r.MedRouteCategory, r.MedDose, r.MedDoseUnit,
				r.MarActionName, r.MarActionCategory,
			}
		}),
	},
	{
		name: "patient_assessments",
		ddl: `CREATE TABLE IF NOT EXISTS clif_patient_assessments (
			hospitalization_id text NOT NULL,
			recorded_dttm timestamptz,
			assessment_name text, assessment_category text, assessment_group text,
			numerical_value double precision,
			categorical_value text, text_value text
		)`,
		columns: []string{
			"hospitalization_id", "recorded_dttm", "assessment_name", "assessment_category",
			"assessment_group", "numerical_value", "categorical_value", "text_value",
		},
		load: loaderOf("patient_assessments", func(r tables.AssessmentRow) []any {
			return []any{
				r.HospitalizationID, r.RecordedDttm, r.AssessmentName, r.AssessmentCategory,
				r.AssessmentGroup, r.NumericalValue, r.CategoricalValue, r.TextValue,
			}
		}),
	},
	{
		name: "position",
		ddl: `CREATE TABLE IF NOT EXISTS clif_position (
			hospitalization_id text NOT NULL,
			recorded_dttm timestamptz,
			position_name text, position_category text
		)`,
		columns: []string{
			"hospitalization_id", "recorded_dttm", "position_name", "position_category",
		},
		load: loaderOf("position", func(r tables.PositionRow) []any {
			return []any{
				r.HospitalizationID, r.RecordedDttm, r.PositionName, r.PositionCategory,
			}
		}),
	},
}

// loaderOf builds the load function for one table: create the relation,
// truncate it, then stream the parquet file in via COPY.
func loaderOf[T any](name string, values func(T) []any) func(context.Context, *pgxpool.Pool, clifTable, string, int) (int64, error) {
	return func(ctx context.Context, pool *pgxpool.Pool, t clifTable, path string, batchSize int) (int64, error) {
		f, err := os.Open(path)
		if err != nil {
			return 0, fmt.Errorf("open parquet: %w", err)
		}
		defer f.Close()

		reader := parquet.NewGenericReader[T](f)
		defer reader.Close()

		if _, err := pool.Exec(ctx, t.ddl); err != nil {
			return 0, fmt.Errorf("create table: %w", err)
		}
		if _, err := pool.Exec(ctx, "TRUNCATE clif_"+name); err != nil {
			return 0, fmt.Errorf("truncate: %w", err)
		}

		ident := pgx.Identifier{"clif_" + name}
		var total int64
		buf := make([]T, batchSize)
		for {
			n, readErr := reader.Read(buf)
			if n > 0 {
				batch := make([][]any, n)
				for i := 0; i < n; i++ {
					batch[i] = values(buf[i])
				}
				copied, err := pool.CopyFrom(ctx, ident, t.columns, pgx.CopyFromRows(batch))
				if err != nil {
					return total, fmt.Errorf("copy: %w", err)
				}
				total += copied
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				return total, fmt.Errorf("read parquet: %w", readErr)
			}
		}
		return total, nil
	}
}
