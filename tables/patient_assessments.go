package tables

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"mimic2clif/etl"
	"mimic2clif/schema"
	"mimic2clif/sink"
)

const (
	gcsEyeItem    = 220739
	gcsVerbalItem = 223900
	gcsMotorItem  = 223901
	rassItem      = 228096
)

// Braden subscales chart as labels on an ordinal 1..4 (friction 1..3)
// scale; the score is the ordinal, the label is kept as the categorical
// value.
var bradenItems = map[int64]struct {
	category string
	name     string
	scores   map[string]float64
}{
	224054: {"braden_sensory", "Braden Sensory Perception", map[string]float64{
		"Completely Limited": 1, "Very Limited": 2, "Slight Impairment": 3, "No Impairment": 4}},
	224055: {"braden_moisture", "Braden Moisture", map[string]float64{
		"Consistently Moist": 1, "Moist": 2, "Occasionally Moist": 3, "Rarely Moist": 4}},
	224056: {"braden_activity", "Braden Activity", map[string]float64{
		"Bedfast": 1, "Chairfast": 2, "Walks Occasionally": 3, "Walks Frequently": 4}},
	224057: {"braden_mobility", "Braden Mobility", map[string]float64{
		"Completely Immobile": 1, "Very Limited": 2, "Slight Limitations": 3, "No Limitations": 4}},
	224058: {"braden_nutrition", "Braden Nutrition", map[string]float64{
		"Very Poor": 1, "Probably Inadequate": 2, "Adequate": 3, "Excellent": 4}},
	224059: {"braden_friction", "Braden Friction/Shear", map[string]float64{
		"Problem": 1, "Potential Problem": 2, "No Apparent Problem": 3}},
}

// CAM-ICU components. Several item generations chart the same component,
// so the component is keyed by itemid, not by the charted label.
var camItems = map[int64]struct {
	category string
	name     string
}{
	228300: {"cam_mental", "CAM-ICU MS Change"},
	228337: {"cam_mental", "CAM-ICU MS Change"},
	229326: {"cam_mental", "CAM-ICU MS Change"},
	228301: {"cam_thinking", "CAM-ICU Disorganized thinking"},
	228336: {"cam_thinking", "CAM-ICU Disorganized thinking"},
	229325: {"cam_thinking", "CAM-ICU Disorganized thinking"},
	228302: {"cam_loc", "CAM-ICU Altered LOC"},
	228334: {"cam_loc", "CAM-ICU RASS LOC"},
	228303: {"cam_inattention", "CAM-ICU Inattention"},
	228335: {"cam_inattention", "CAM-ICU Inattention"},
	229324: {"cam_inattention", "CAM-ICU Inattention"},
}

const paMCIDEFile = "clif_patient_assessment_categories.csv"

// AssessmentRow is one long-form patient assessment observation. An
// assessment carries a numerical value, a categorical value, or both.
type AssessmentRow struct {
	HospitalizationID  string     `parquet:"hospitalization_id"`
	RecordedDttm       *time.Time `parquet:"recorded_dttm,optional,timestamp"`
	AssessmentName     *string    `parquet:"assessment_name,optional"`
	AssessmentCategory *string    `parquet:"assessment_category,optional"`
	AssessmentGroup    *string    `parquet:"assessment_group,optional"`
	NumericalValue     *float64   `parquet:"numerical_value,optional"`
	CategoricalValue   *string    `parquet:"categorical_value,optional"`
	TextValue          *string    `parquet:"text_value,optional"`
}

type assessmentKey struct {
	hadmID      int64
	timeNano    int64
	category    string
	numeric     float64
	numericNull bool
}

// BuildPatientAssessments builds the clif patient_assessments table from
// four independent instruments: GCS, RASS, Braden, and CAM-ICU.
func BuildPatientAssessments(ctx context.Context, d Deps) error {
	log := d.Log.With(zap.String("table", "patient_assessments"))
	log.Info("starting build")

	groupByCategory, err := d.MCIDE.CategoryGroups(ctx, paMCIDEFile, "assessment_category", "assessment_group")
	if err != nil {
		return err
	}

	var rows []AssessmentRow

	log.Info("part 1: GCS")
	gcs, err := buildGCS(ctx, d)
	if err != nil {
		return err
	}
	rows = append(rows, gcs...)

	log.Info("part 2: RASS")
	rass, err := buildRASS(ctx, d)
	if err != nil {
		return err
	}
	rows = append(rows, rass...)

	log.Info("part 3: Braden")
	braden, err := buildBraden(ctx, d)
	if err != nil {
		return err
	}
	rows = append(rows, braden...)

	log.Info("part 4: CAM-ICU")
	cam, err := buildCAM(ctx, d)
	if err != nil {
		return err
	}
	rows = append(rows, cam...)

	for i := range rows {
		if rows[i].AssessmentCategory == nil {
			continue
		}
		if g, ok := groupByCategory[*rows[i].AssessmentCategory]; ok {
			rows[i].AssessmentGroup = etl.StringPtr(g)
		}
	}

	checker := schema.NewChecker("patient_assessments")
	for i, r := range rows {
		checker.Required(i, "hospitalization_id", r.HospitalizationID)
	}
	if err := checker.Err(); err != nil {
		return err
	}

	if _, err := sink.Write(d.Sink, "patient_assessments", rows); err != nil {
		return err
	}
	log.Info("build complete", zap.Int("rows", len(rows)))
	return nil
}

// buildGCS pivots the three Glasgow Coma Scale components per charting
// instant and derives the total when all three are present. GCS items
// are charted per ICU stay, so the encounter id comes from icustays.
func buildGCS(ctx context.Context, d Deps) ([]AssessmentRow, error) {
	events, err := d.Store.Events(ctx, []int64{gcsEyeItem, gcsVerbalItem, gcsMotorItem})
	if err != nil {
		return nil, err
	}
	encounters, err := d.Store.StayEncounters(ctx)
	if err != nil {
		return nil, err
	}

	type gcsKey struct {
		stayID   int64
		timeNano int64
	}
	type gcsObs struct {
		stayID           int64
		time             time.Time
		eye, verbal, mot *float64
	}
	order := make([]gcsKey, 0, len(events))
	wide := make(map[gcsKey]*gcsObs)
	for _, e := range events {
		v, ok := e.Num()
		if !ok {
			continue
		}
		k := gcsKey{stayID: e.StayID, timeNano: e.Time.UnixNano()}
		obs, ok := wide[k]
		if !ok {
			obs = &gcsObs{stayID: e.StayID, time: e.Time}
			wide[k] = obs
			order = append(order, k)
		}
		switch e.ItemID {
		case gcsEyeItem:
			obs.eye = etl.Float64Ptr(v)
		case gcsVerbalItem:
			obs.verbal = etl.Float64Ptr(v)
		case gcsMotorItem:
			obs.mot = etl.Float64Ptr(v)
		}
	}

	var rows []AssessmentRow
	emit := func(hadmID int64, at time.Time, name, category string, v *float64) {
		if v == nil {
			return
		}
		rows = append(rows, AssessmentRow{
			HospitalizationID:  strconv.FormatInt(hadmID, 10),
			RecordedDttm:       etl.TimePtr(etl.ToUTC(at, d.Site)),
			AssessmentName:     etl.StringPtr(name),
			AssessmentCategory: etl.StringPtr(category),
			NumericalValue:     v,
		})
	}
	for _, k := range order {
		obs := wide[k]
		hadmID, ok := encounters[obs.stayID]
		if !ok {
			continue
		}
		var total *float64
		if obs.eye != nil && obs.verbal != nil && obs.mot != nil {
			total = etl.Float64Ptr(*obs.eye + *obs.verbal + *obs.mot)
		}
		emit(hadmID, obs.time, "gcs", "gcs_total", total)
		emit(hadmID, obs.time, "gcs_motor", "gcs_motor", obs.mot)
		emit(hadmID, obs.time, "gcs_verbal", "gcs_verbal", obs.verbal)
		emit(hadmID, obs.time, "gcs_eyes", "gcs_eye", obs.eye)
	}
	return rows, nil
}

// buildRASS extracts Richmond Agitation-Sedation Scale scores. Charted
// values read like "-2 Light Sedation"; the score is the leading signed
// number.
func buildRASS(ctx context.Context, d Deps) ([]AssessmentRow, error) {
	events, err := d.Store.Events(ctx, []int64{rassItem})
	if err != nil {
		return nil, err
	}
	rows := make([]AssessmentRow, 0, len(events))
	for _, e := range events {
		raw := e.Value
		if len(raw) > 3 {
			raw = raw[:3]
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			continue
		}
		rows = append(rows, AssessmentRow{
			HospitalizationID:  strconv.FormatInt(e.HadmID, 10),
			RecordedDttm:       etl.TimePtr(etl.ToUTC(e.Time, d.Site)),
			AssessmentName:     etl.StringPtr("Richmond-RAS Scale"),
			AssessmentCategory: etl.StringPtr("RASS"),
			NumericalValue:     etl.Float64Ptr(score),
			TextValue:          etl.StringPtr(e.Value),
		})
	}
	rows = etl.CollapseExact(rows, func(r AssessmentRow) assessmentKey {
		return assessmentRowKey(r)
	})
	return rows, nil
}

// buildBraden scores the six Braden subscales from their charted labels
// and sums them into braden_total when every subscale is present. Each
// subscale row carries both the ordinal score and the charted label.
func buildBraden(ctx context.Context, d Deps) ([]AssessmentRow, error) {
	itemIDs := make([]int64, 0, len(bradenItems))
	for id := range bradenItems {
		itemIDs = append(itemIDs, id)
	}
	sort.Slice(itemIDs, func(i, j int) bool { return itemIDs[i] < itemIDs[j] })

	events, err := d.Store.Events(ctx, itemIDs)
	if err != nil {
		return nil, err
	}
	events = etl.CollapseExact(events, etl.Event.Key)

	wide, err := etl.Pivot(events)
	if err != nil {
		return nil, err
	}

	var rows []AssessmentRow
	for _, w := range wide {
		total := 0.0
		haveAll := true
		for _, id := range itemIDs {
			def := bradenItems[id]
			label := w.Items[id]
			score, scored := def.scores[label]
			if scored {
				total += score
			} else {
				haveAll = false
			}
			if label == "" {
				continue
			}
			row := AssessmentRow{
				HospitalizationID:  strconv.FormatInt(w.HadmID, 10),
				RecordedDttm:       etl.TimePtr(etl.ToUTC(w.Time, d.Site)),
				AssessmentName:     etl.StringPtr(def.name),
				AssessmentCategory: etl.StringPtr(def.category),
				CategoricalValue:   etl.StringPtr(label),
			}
			if scored {
				row.NumericalValue = etl.Float64Ptr(score)
			}
			rows = append(rows, row)
		}
		if haveAll {
			rows = append(rows, AssessmentRow{
				HospitalizationID:  strconv.FormatInt(w.HadmID, 10),
				RecordedDttm:       etl.TimePtr(etl.ToUTC(w.Time, d.Site)),
				AssessmentCategory: etl.StringPtr("braden_total"),
				NumericalValue:     etl.Float64Ptr(total),
			})
		}
	}
	return rows, nil
}

// buildCAM emits the four CAM-ICU components plus a derived cam_total:
// Positive when mental change and inattention both read Yes and either
// disorganized thinking or altered consciousness reads Yes; Negative
// when any leg definitively rules delirium out; null otherwise.
func buildCAM(ctx context.Context, d Deps) ([]AssessmentRow, error) {
	itemIDs := make([]int64, 0, len(camItems))
	for id := range camItems {
		itemIDs = append(itemIDs, id)
	}
	sort.Slice(itemIDs, func(i, j int) bool { return itemIDs[i] < itemIDs[j] })

	events, err := d.Store.Events(ctx, itemIDs)
	if err != nil {
		return nil, err
	}
	events = etl.CollapseExact(events, etl.Event.Key)

	type camObs struct {
		hadmID                        int64
		time                          time.Time
		mental, inattention, thinking string
		alteredLOC, rassLOC           string
		names                         map[string]string // component name → charted value
	}
	order := make([]etl.PivotKey, 0, len(events))
	wide := make(map[etl.PivotKey]*camObs)
	for _, e := range events {
		def := camItems[e.ItemID]
		k := etl.PivotKey{HadmID: e.HadmID, Time: e.Time}
		obs, ok := wide[k]
		if !ok {
			obs = &camObs{hadmID: e.HadmID, time: e.Time, names: make(map[string]string)}
			wide[k] = obs
			order = append(order, k)
		}
		if _, seen := obs.names[def.name]; !seen {
			obs.names[def.name] = e.Value
		}
		switch def.category {
		case "cam_mental":
			if obs.mental == "" {
				obs.mental = e.Value
			}
		case "cam_inattention":
			if obs.inattention == "" {
				obs.inattention = e.Value
			}
		case "cam_thinking":
			if obs.thinking == "" {
				obs.thinking = e.Value
			}
		case "cam_loc":
			if def.name == "CAM-ICU Altered LOC" && obs.alteredLOC == "" {
				obs.alteredLOC = e.Value
			}
			if def.name == "CAM-ICU RASS LOC" && obs.rassLOC == "" {
				obs.rassLOC = e.Value
			}
		}
	}

	componentNames := []struct{ name, category string }{
		{"CAM-ICU MS Change", "cam_mental"},
		{"CAM-ICU Inattention", "cam_inattention"},
		{"CAM-ICU Disorganized thinking", "cam_thinking"},
		{"CAM-ICU Altered LOC", "cam_loc"},
		{"CAM-ICU RASS LOC", "cam_loc"},
	}

	var rows []AssessmentRow
	for _, k := range order {
		obs := wide[k]
		at := etl.TimePtr(etl.ToUTC(obs.time, d.Site))
		hosp := strconv.FormatInt(obs.hadmID, 10)

		for _, c := range componentNames {
			value := obs.names[c.name]
			if value == "" {
				continue
			}
			rows = append(rows, AssessmentRow{
				HospitalizationID:  hosp,
				RecordedDttm:       at,
				AssessmentName:     etl.StringPtr(c.name),
				AssessmentCategory: etl.StringPtr(c.category),
				CategoricalValue:   etl.StringPtr(value),
			})
		}

		loc := obs.alteredLOC
		if loc == "" {
			loc = obs.rassLOC
		}
		if total := camTotal(obs.mental, obs.inattention, obs.thinking, loc); total != "" {
			rows = append(rows, AssessmentRow{
				HospitalizationID:  hosp,
				RecordedDttm:       at,
				AssessmentCategory: etl.StringPtr("cam_total"),
				CategoricalValue:   etl.StringPtr(total),
			})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].HospitalizationID != rows[j].HospitalizationID {
			return rows[i].HospitalizationID < rows[j].HospitalizationID
		}
		return rows[i].RecordedDttm.Before(*rows[j].RecordedDttm)
	})
	return rows, nil
}

func camTotal(mental, inattention, thinking, loc string) string {
	yes := func(s string) bool { return strings.Contains(s, "Yes") }
	no := func(s string) bool { return strings.Contains(s, "No") }
	switch {
	case yes(mental) && yes(inattention) && (yes(thinking) || yes(loc)):
		return "Positive"
	case no(mental) || no(inattention) || (no(thinking) && no(loc)):
		return "Negative"
	default:
		return ""
	}
}

func assessmentRowKey(r AssessmentRow) assessmentKey {
	k := assessmentKey{hadmID: mustInt(r.HospitalizationID)}
	if r.RecordedDttm != nil {
		k.timeNano = r.RecordedDttm.UnixNano()
	}
	if r.AssessmentCategory != nil {
		k.category = *r.AssessmentCategory
	}
	if r.NumericalValue != nil {
		k.numeric = *r.NumericalValue
	} else {
		k.numericNull = true
	}
	return k
}
