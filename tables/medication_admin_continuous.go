package tables

import (
	"context"
	"fmt"
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

// Infusion order categories that mark intermittent (not continuous)
// administrations; those belong elsewhere.
const (
	bolusOrderCategory  = "05-Med Bolus"
	drugPushDescription = "Drug Push"
)

// terminalActions are administration records that end an infusion; a
// null dose on one of these means the pump stopped, so the dose is zero
// rather than unknown.
var terminalActions = map[string]bool{
	"Stopped":         true,
	"FinishedRunning": true,
	"Paused":          true,
}

const mcideMedCategoriesFile = "clif_medication_admin_continuous_med_categories.csv"

// MedicationAdminRow is one finalized medication_admin_continuous row:
// one administration event per (hospitalization, timestamp, medication).
type MedicationAdminRow struct {
	HospitalizationID string    `parquet:"hospitalization_id"`
	MedOrderID        *string   `parquet:"med_order_id,optional"`
	AdminDttm         time.Time `parquet:"admin_dttm,timestamp"`
	MedName           *string   `parquet:"med_name,optional"`
	MedCategory       *string   `parquet:"med_category,optional"`
	MedGroup          *string   `parquet:"med_group,optional"`
	MedRouteName      *string   `parquet:"med_route_name,optional"`
	MedRouteCategory  *string   `parquet:"med_route_category,optional"`
	MedDose           *float64  `parquet:"med_dose,optional"`
	MedDoseUnit       *string   `parquet:"med_dose_unit,optional"`
	MarActionName     *string   `parquet:"mar_action_name,optional"`
	MarActionCategory *string   `parquet:"mar_action_category,optional"`
}

// medKey is the duplicate-group key for administration events.
type medKey struct {
	hadmID   int64
	timeNano int64
	category string
}

// medEvent is the long-form administration record the reconciler works
// on, produced by melting each infusion interval into a start and an
// end observation.
type medEvent struct {
	hadmID      int64
	itemID      int64
	linkOrderID int64
	time        time.Time
	dose        *float64
	doseUnit    string
	marAction   string
	label       string
	category    string
}

func (m medEvent) key() medKey {
	return medKey{hadmID: m.hadmID, timeNano: m.time.UnixNano(), category: m.category}
}

// BuildMedicationAdminContinuous builds the clif
// medication_admin_continuous table.
func BuildMedicationAdminContinuous(ctx context.Context, d Deps) error {
	log := d.Log.With(zap.String("table", "medication_admin_continuous"))
	log.Info("starting build")

	macMapping, err := vocab.LoadMappingCSV(d.MappingsDir, "mac")
	if err != nil {
		return err
	}
	categoryByItem := vocab.BuildItemLookup(macMapping, "med_category", vocab.LookupOpts{})
	itemIDs := vocab.RelevantItemIDs(macMapping, "decision", vocab.DefaultExcludedDecisions)

	groupByCategory, err := d.MCIDE.CategoryGroups(ctx, mcideMedCategoriesFile, "med_category", "med_group")
	if err != nil {
		return err
	}

	labels, err := d.Store.ItemLabels(ctx)
	if err != nil {
		return err
	}

	inputs, err := d.Store.InputEventsFor(ctx, itemIDs)
	if err != nil {
		return err
	}
	log.Info("fetched infusion records", zap.Int("rows", len(inputs)))

	// Continuous administrations only.
	continuous := inputs[:0:0]
	for _, in := range inputs {
		if in.OrderCategoryName == bolusOrderCategory || in.OrderCategoryDescription == drugPushDescription {
			continue
		}
		continuous = append(continuous, in)
	}
	log.Info("filtered out intermittent events",
		zap.Int("kept", len(continuous)), zap.Int("dropped", len(inputs)-len(continuous)))

	// Identical re-charted intervals collapse before melting.
	type intervalKey struct {
		hadmID, itemID, startNano int64
		rate                      float64
		rateNull                  bool
	}
	continuous = etl.CollapseExact(continuous, func(in source.InputEvent) intervalKey {
		k := intervalKey{hadmID: in.HadmID, itemID: in.ItemID, startNano: in.StartTime.UnixNano()}
		if in.Rate != nil {
			k.rate = *in.Rate
		} else {
			k.rateNull = true
		}
		return k
	})

	events := meltInfusions(continuous, labels, categoryByItem)
	log.Info("melted infusion intervals", zap.Int("events", len(events)))

	// Reconcile competing same-timestamp administrations per medication.
	events, stats := etl.ReconcileValues(events,
		medEvent.key,
		func(m medEvent) *float64 { return m.dose },
		func(m medEvent) string { return m.marAction },
		etl.ValueCloseness,
	)
	log.Info("reconciled duplicate administrations",
		zap.Int("groups", stats.Groups),
		zap.Int("null_dropped", stats.NullDropped),
		zap.Int("close_dropped", stats.CloseDropped),
		zap.Int("unresolved_conflicts", stats.Conflicts),
		zap.Int("rows_dropped", stats.RowsDropped))

	rows := make([]MedicationAdminRow, 0, len(events))
	for _, m := range events {
		dose := m.dose
		if dose == nil && terminalActions[m.marAction] {
			dose = etl.Float64Ptr(0)
		}
		var category, group *string
		if m.category != "" {
			category = etl.StringPtr(m.category)
			if g, ok := groupByCategory[m.category]; ok {
				group = etl.StringPtr(g)
			}
		}
		rows = append(rows, MedicationAdminRow{
			HospitalizationID: strconv.FormatInt(m.hadmID, 10),
			MedOrderID:        etl.StringPtr(strconv.FormatInt(m.linkOrderID, 10)),
			AdminDttm:         etl.ToUTC(m.time, d.Site),
			MedName:           etl.StringPtr(m.label),
			MedCategory:       category,
			MedGroup:          group,
			MedDose:           dose,
			MedDoseUnit:       etl.StringPtr(m.doseUnit),
			MarActionName:     etl.StringPtr(m.marAction),
		})
	}

	checker := schema.NewChecker("medication_admin_continuous")
	for i, r := range rows {
		checker.Required(i, "hospitalization_id", r.HospitalizationID)
		if r.AdminDttm.IsZero() {
			checker.Required(i, "admin_dttm", "")
		}
	}
	if err := checker.Err(); err != nil {
		if _, werr := sink.Write(d.Sink, "medication_admin_continuous_failed", rows); werr == nil {
			log.Warn("schema check failed, wrote debug copy")
		}
		return err
	}

	if _, err := sink.Write(d.Sink, "medication_admin_continuous", rows); err != nil {
		return err
	}
	log.Info("build complete", zap.Int("rows", len(rows)))
	return nil
}

// meltInfusions turns each infusion interval into two long-form events:
// a start event carrying the rate as the dose, and an end event carrying
// the pump status with no dose. When consecutive events of the same
// (encounter, item) land on the same instant (an infusion restarted the
// moment the previous one ended), the later event's action becomes
// "continue after <previous action>" instead of producing a bare
// duplicate.
func meltInfusions(inputs []source.InputEvent, labels map[int64]string, categoryByItem map[int64]string) []medEvent {
	type meltRow struct {
		medEvent
		isStart bool
	}

	var melted []meltRow
	for _, in := range inputs {
		base := medEvent{
			hadmID:      in.HadmID,
			itemID:      in.ItemID,
			linkOrderID: in.LinkOrderID,
			label:       labels[in.ItemID],
			category:    categoryByItem[in.ItemID],
		}
		if in.RateUOM != nil {
			base.doseUnit = *in.RateUOM
		}

		start := base
		start.time = in.StartTime
		start.dose = in.Rate
		start.marAction = "start"

		end := base
		end.time = in.EndTime
		end.marAction = in.StatusDescription

		melted = append(melted,
			meltRow{medEvent: start, isStart: true},
			meltRow{medEvent: end},
		)
	}

	// Order by (encounter, item, time) with starts after ends on the same
	// instant, so a restart's action rename can see what it follows.
	sort.SliceStable(melted, func(a, b int) bool {
		x, y := melted[a], melted[b]
		if x.hadmID != y.hadmID {
			return x.hadmID < y.hadmID
		}
		if x.itemID != y.itemID {
			return x.itemID < y.itemID
		}
		if !x.time.Equal(y.time) {
			return x.time.Before(y.time)
		}
		return !x.isStart && y.isStart
	})

	events := make([]medEvent, 0, len(melted))
	for i, m := range melted {
		e := m.medEvent
		if i > 0 {
			prev := melted[i-1]
			if prev.hadmID == m.hadmID && prev.itemID == m.itemID && prev.time.Equal(m.time) {
				e.marAction = fmt.Sprintf("continue after %s", prev.marAction)
			}
		}
		events = append(events, e)
	}
	return events
}
