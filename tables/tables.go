// Package tables holds one builder per CLIF output table. Every builder
// follows the same shape: fetch source rows through the store, annotate
// them with vocabulary mappings, reconcile duplicates, reshape into the
// declared output columns, validate against the schema domains, and hand
// the finalized rows to the sink.
package tables

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mimic2clif/sink"
	"mimic2clif/source"
	"mimic2clif/vocab"
)

// Deps carries the collaborators every builder needs. All of them are
// read-only from the builder's point of view except the sink.
type Deps struct {
	Log         *zap.Logger
	Store       *source.Store
	MappingsDir string
	MCIDE       *vocab.MCIDEClient
	Sink        *sink.Sink
	// Site is the wall-clock zone source timestamps are charted in.
	Site *time.Location
}

// BuildFunc is a table builder entry point. A builder either completes
// (output file written and validated) or returns an error; the driver
// logs failures and moves on to the next table.
type BuildFunc func(context.Context, Deps) error

// Builder pairs a CLIF table name with its builder.
type Builder struct {
	Name  string
	Build BuildFunc
}

// All returns every builder in build order.
func All() []Builder {
	return []Builder{
		{Name: "patient", Build: BuildPatient},
		{Name: "hospitalization", Build: BuildHospitalization},
		{Name: "adt", Build: BuildADT},
		{Name: "vitals", Build: BuildVitals},
		{Name: "labs", Build: BuildLabs},
		{Name: "respiratory_support", Build: BuildRespiratorySupport},
		{Name: "medication_admin_continuous", Build: BuildMedicationAdminContinuous},
		{Name: "patient_assessments", Build: BuildPatientAssessments},
		{Name: "position", Build: BuildPosition},
	}
}
