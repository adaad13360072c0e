package tables

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mimic2clif/etl"
	"mimic2clif/schema"
	"mimic2clif/sink"
)

// positionItem is the single charted patient position item.
const positionItem = 224093

// PositionRow is one charted patient position.
type PositionRow struct {
	HospitalizationID string     `parquet:"hospitalization_id"`
	RecordedDttm      *time.Time `parquet:"recorded_dttm,optional,timestamp"`
	PositionName      *string    `parquet:"position_name,optional"`
	PositionCategory  *string    `parquet:"position_category,optional"`
}

// BuildPosition builds the clif position table. The category is binary:
// prone when charted exactly as "Prone", not_prone for every other value.
func BuildPosition(ctx context.Context, d Deps) error {
	log := d.Log.With(zap.String("table", "position"))
	log.Info("starting build")

	events, err := d.Store.Events(ctx, []int64{positionItem})
	if err != nil {
		return err
	}

	rows := make([]PositionRow, 0, len(events))
	for _, e := range events {
		if e.Value == "" {
			continue
		}
		category := "not_prone"
		if e.Value == "Prone" {
			category = "prone"
		}
		rows = append(rows, PositionRow{
			HospitalizationID: strconv.FormatInt(e.HadmID, 10),
			RecordedDttm:      etl.TimePtr(etl.ToUTC(e.Time, d.Site)),
			PositionName:      etl.StringPtr(e.Value),
			PositionCategory:  etl.StringPtr(category),
		})
	}

	checker := schema.NewChecker("position")
	for i, r := range rows {
		checker.Required(i, "hospitalization_id", r.HospitalizationID)
		if r.PositionCategory != nil {
			checker.Enum(i, "position_category", *r.PositionCategory, schema.PositionCategories)
		}
	}
	if err := checker.Err(); err != nil {
		return err
	}

	if _, err := sink.Write(d.Sink, "position", rows); err != nil {
		return err
	}
	log.Info("build complete", zap.Int("rows", len(rows)))
	return nil
}
