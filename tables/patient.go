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

// PatientRow is one finalized patient row, one per person.
type PatientRow struct {
	PatientID         string     `parquet:"patient_id"`
	RaceName          *string    `parquet:"race_name,optional"`
	RaceCategory      *string    `parquet:"race_category,optional"`
	EthnicityName     *string    `parquet:"ethnicity_name,optional"`
	EthnicityCategory *string    `parquet:"ethnicity_category,optional"`
	SexName           *string    `parquet:"sex_name,optional"`
	SexCategory       *string    `parquet:"sex_category,optional"`
	BirthDate         *time.Time `parquet:"birth_date,optional,timestamp"`
	DeathDttm         *time.Time `parquet:"death_dttm,optional,timestamp"`
	LanguageName      *string    `parquet:"language_name,optional"`
	LanguageCategory  *string    `parquet:"language_category,optional"`
}

// raceObservation is one admission's race/ethnicity record for a patient.
type raceObservation struct {
	raceName          string
	raceCategory      string
	ethnicityName     string
	ethnicityCategory string
	admitTime         time.Time
}

// BuildPatient builds the clif patient table. A patient's race and
// ethnicity can differ across admissions; the reconciliation keeps, per
// patient, the (race, ethnicity) pair charted most often, preferring
// informative values over Other/Unknown and breaking remaining ties by
// the most recent admission.
func BuildPatient(ctx context.Context, d Deps) error {
	log := d.Log.With(zap.String("table", "patient"))
	log.Info("starting build")

	raceMapping, err := vocab.LoadMappingCSV(d.MappingsDir, "race_ethnicity")
	if err != nil {
		return err
	}
	raceLookup := vocab.BuildLookup(raceMapping, "mimic_race", "race", vocab.LookupOpts{})
	ethnicityLookup := vocab.BuildLookup(raceMapping, "mimic_race", "ethnicity", vocab.LookupOpts{})

	patients, err := source.Rows[source.Patient](ctx, d.Store, "hosp", "patients")
	if err != nil {
		return err
	}
	admissions, err := source.Rows[source.Admission](ctx, d.Store, "hosp", "admissions")
	if err != nil {
		return err
	}

	log.Info("reconciling race and ethnicity across encounters")
	observations := make(map[int64][]raceObservation)
	for _, a := range admissions {
		obs := raceObservation{admitTime: a.AdmitTime}
		if a.Race != nil {
			obs.raceName = *a.Race
			obs.ethnicityName = *a.Race
			obs.raceCategory = raceLookup[*a.Race]
			obs.ethnicityCategory = ethnicityLookup[*a.Race]
		}
		observations[a.SubjectID] = append(observations[a.SubjectID], obs)
	}
	resolved := make(map[int64]raceObservation, len(observations))
	for subject, obs := range observations {
		resolved[subject] = resolveRace(obs)
	}

	log.Info("collecting death records")
	death := make(map[int64]time.Time)
	for _, a := range admissions {
		if a.DeathTime == nil {
			continue
		}
		// Keep the earliest recorded death time if admissions disagree.
		if cur, ok := death[a.SubjectID]; !ok || a.DeathTime.Before(cur) {
			death[a.SubjectID] = *a.DeathTime
		}
	}

	rows := make([]PatientRow, 0, len(patients))
	for _, p := range patients {
		row := PatientRow{
			PatientID: strconv.FormatInt(p.SubjectID, 10),
			SexName:   etl.StringPtr(p.Gender),
		}
		switch p.Gender {
		case "F":
			row.SexCategory = etl.StringPtr("Female")
		default:
			row.SexCategory = etl.StringPtr("Male")
		}
		if obs, ok := resolved[p.SubjectID]; ok {
			row.RaceName = etl.StringPtr(obs.raceName)
			row.RaceCategory = etl.StringPtr(obs.raceCategory)
			row.EthnicityName = etl.StringPtr(obs.ethnicityName)
			row.EthnicityCategory = etl.StringPtr(obs.ethnicityCategory)
		}
		if t, ok := death[p.SubjectID]; ok {
			row.DeathDttm = etl.TimePtr(etl.ToUTC(t, d.Site))
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].PatientID < rows[j].PatientID })

	checker := schema.NewChecker("patient")
	for i, r := range rows {
		checker.Required(i, "patient_id", r.PatientID)
		if r.SexCategory != nil {
			checker.Enum(i, "sex_category", *r.SexCategory, schema.SexCategories)
		}
	}
	if err := checker.Err(); err != nil {
		return err
	}

	if _, err := sink.Write(d.Sink, "patient", rows); err != nil {
		return err
	}
	log.Info("build complete", zap.Int("rows", len(rows)))
	return nil
}

// resolveRace picks one (race, ethnicity) pair from a patient's
// admissions: most frequent first, informative pairs before ones where
// both race and ethnicity are Other/Unknown, most recent admission last.
func resolveRace(obs []raceObservation) raceObservation {
	type pairKey struct {
		raceName, raceCategory, ethnicityName, ethnicityCategory string
	}
	type pairStat struct {
		obs        raceObservation
		count      int
		mostRecent time.Time
		firstSeen  int
	}

	stats := make(map[pairKey]*pairStat)
	for i, o := range obs {
		k := pairKey{o.raceName, o.raceCategory, o.ethnicityName, o.ethnicityCategory}
		s, ok := stats[k]
		if !ok {
			s = &pairStat{obs: o, firstSeen: i}
			stats[k] = s
		}
		s.count++
		if o.admitTime.After(s.mostRecent) {
			s.mostRecent = o.admitTime
		}
	}

	ranked := make([]*pairStat, 0, len(stats))
	for _, s := range stats {
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(a, b int) bool {
		x, y := ranked[a], ranked[b]
		if x.count != y.count {
			return x.count > y.count
		}
		if xi, yi := uninformative(x.obs), uninformative(y.obs); xi != yi {
			return !xi
		}
		if !x.mostRecent.Equal(y.mostRecent) {
			return x.mostRecent.After(y.mostRecent)
		}
		return x.firstSeen < y.firstSeen
	})
	return ranked[0].obs
}

// uninformative reports whether both categories carry no real signal.
func uninformative(o raceObservation) bool {
	nonInfoRace := o.raceCategory == "" || o.raceCategory == "Other" || o.raceCategory == "Unknown"
	nonInfoEth := o.ethnicityCategory == "" || o.ethnicityCategory == "Other" || o.ethnicityCategory == "Unknown"
	return nonInfoRace && nonInfoEth
}
