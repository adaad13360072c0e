package tables

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimic2clif/source"
)

const adtMappingCSV = "careunit,location_category\n" +
	"Medical Intensive Care Unit (MICU),ICU\n" +
	"Emergency Department,ED\n" +
	"Medicine,Ward\n"

func transfer(subject int64, hadm *int64, unit *string, in time.Time, out *time.Time) source.Transfer {
	return source.Transfer{
		SubjectID: subject, HadmID: hadm,
		EventType: "transfer",
		CareUnit:  unit, InTime: in, OutTime: out,
	}
}

func TestBuildADT(t *testing.T) {
	hadm := int64(10)
	micu := "Medical Intensive Care Unit (MICU)"
	ed := "Emergency Department"
	unknown := "UNKNOWN"
	out1 := at(12, 0)

	transfers := []source.Transfer{
		transfer(1, &hadm, &micu, at(10, 0), nil),
		transfer(1, &hadm, &ed, at(8, 0), &out1),
		// Discharge rows carry no admission id or care unit.
		transfer(1, nil, nil, at(14, 0), nil),
		transfer(1, &hadm, &unknown, at(13, 0), nil),
	}

	env := newTestEnv(t, source.Registry{
		source.Key("hosp", "transfers"): fixedRows(transfers),
	}, map[string]string{"adt": adtMappingCSV}, nil)
	require.NoError(t, BuildADT(context.Background(), env.deps))

	rows := readOutput[ADTRow](t, env, "adt")
	require.Len(t, rows, 2)

	// Sorted by in time within the hospitalization.
	first := rows[0]
	require.NotNil(t, first.LocationName)
	assert.Equal(t, "Emergency Department", *first.LocationName)
	require.NotNil(t, first.LocationCategory)
	assert.Equal(t, "ED", *first.LocationCategory)
	require.NotNil(t, first.OutDttm)
	assert.Equal(t, out1, first.OutDttm.UTC())

	second := rows[1]
	require.NotNil(t, second.LocationCategory)
	assert.Equal(t, "ICU", *second.LocationCategory)
	assert.Nil(t, second.OutDttm)
}

func TestBuildADTUnmappedUnitKeepsName(t *testing.T) {
	hadm := int64(10)
	unit := "Observation"
	transfers := []source.Transfer{
		transfer(1, &hadm, &unit, at(8, 0), nil),
	}
	env := newTestEnv(t, source.Registry{
		source.Key("hosp", "transfers"): fixedRows(transfers),
	}, map[string]string{"adt": adtMappingCSV}, nil)
	require.NoError(t, BuildADT(context.Background(), env.deps))

	rows := readOutput[ADTRow](t, env, "adt")
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].LocationName)
	assert.Equal(t, "Observation", *rows[0].LocationName)
	assert.Nil(t, rows[0].LocationCategory)
}
