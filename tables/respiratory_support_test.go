package tables

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimic2clif/etl"
	"mimic2clif/source"
)

const respMappingCSV = "itemid,variable\n" +
	"226732,device_name\n" +
	"223848,vent_brand_name\n" +
	"223835,fio2_set\n" +
	"224688,resp_rate_set\n" +
	"227581,resp_rate_set\n" +
	"220339,peep_set\n" +
	"225448,tracheostomy\n" +
	"223849,mode_name\n"

const deviceMappingCSV = "itemid,device_name,device_category\n" +
	"226732,Endotracheal tube,IMV\n" +
	"226732,Nasal cannula,Nasal Cannula\n" +
	"226732,Trach mask,Trach Collar\n" +
	"226732,Ultrasonic neb,NO MAPPING\n"

const modeMappingCSV = "mode_name,mode_category\n" +
	"CMV/ASSIST/AutoFlow,Assist Control-Volume Control\n"

func respRegistry(chart []source.ChartEvent, procs []source.ProcedureEvent) source.Registry {
	return source.Registry{
		source.Key("icu", "chartevents"):     fixedRows(chart),
		source.Key("icu", "procedureevents"): fixedRows(procs),
	}
}

func respMappings() map[string]string {
	return map[string]string{
		"respiratory_support": respMappingCSV,
		"device_category":     deviceMappingCSV,
		"mode_category":       modeMappingCSV,
	}
}

func TestBuildRespiratorySupport(t *testing.T) {
	f50 := 50.0
	rr14, rr18 := 14.0, 18.0
	chart := []source.ChartEvent{
		// Two competing device readings at the same instant: the invasive
		// device must win.
		chartRow(1, 7, 70, 226732, at(8, 0), "Nasal cannula", nil),
		chartRow(1, 7, 70, 226732, at(8, 0), "Endotracheal tube", nil),
		// Two vendors charting the set respiratory rate: coalesce keeps
		// the first group item.
		chartRow(1, 7, 70, 224688, at(8, 0), "14", &rr14),
		chartRow(1, 7, 70, 227581, at(8, 0), "18", &rr18),
		// Percent-scale fio2 normalizes to a fraction.
		chartRow(1, 7, 70, 223835, at(8, 0), "50", &f50),
		// Ventilation mode at the same instant.
		chartRow(1, 7, 70, 223849, at(8, 0), "CMV/ASSIST/AutoFlow", nil),
		// A "None" placeholder device row is dropped outright.
		chartRow(1, 7, 70, 226732, at(9, 0), "None", nil),
		chartRow(1, 7, 70, 226732, at(10, 0), "Nasal cannula", nil),
		// Encounter 5: trach device appears at the second timestamp and
		// must latch for the rest of the encounter.
		chartRow(2, 5, 50, 226732, at(8, 0), "Nasal cannula", nil),
		chartRow(2, 5, 50, 226732, at(9, 0), "Trach mask", nil),
		chartRow(2, 5, 50, 226732, at(10, 0), "Nasal cannula", nil),
		// Encounter 6 never shows evidence.
		chartRow(3, 6, 60, 226732, at(8, 0), "Nasal cannula", nil),
	}

	env := newTestEnv(t, respRegistry(chart, nil), respMappings(), nil)
	require.NoError(t, BuildRespiratorySupport(context.Background(), env.deps))

	rows := readOutput[RespiratorySupportRow](t, env, "respiratory_support")

	byKey := map[string]RespiratorySupportRow{}
	for _, r := range rows {
		byKey[r.HospitalizationID+"/"+r.RecordedDttm.Format("15:04")] = r
	}

	merged := byKey["7/08:00"]
	require.NotNil(t, merged.DeviceName)
	assert.Equal(t, "Endotracheal tube", *merged.DeviceName)
	require.NotNil(t, merged.DeviceCategory)
	assert.Equal(t, "IMV", *merged.DeviceCategory)
	require.NotNil(t, merged.RespRateSet)
	assert.Equal(t, 14.0, *merged.RespRateSet)
	require.NotNil(t, merged.FiO2Set)
	assert.Equal(t, 0.5, *merged.FiO2Set)
	require.NotNil(t, merged.ModeCategory)
	assert.Equal(t, "Assist Control-Volume Control", *merged.ModeCategory)

	// The 09:00 "None" row vanished entirely.
	_, ok := byKey["7/09:00"]
	assert.False(t, ok)

	// Tracheostomy latch: false before evidence, true from the trach
	// device onward, and never set on the clean encounter.
	assert.False(t, byKey["5/08:00"].Tracheostomy)
	assert.True(t, byKey["5/09:00"].Tracheostomy)
	assert.True(t, byKey["5/10:00"].Tracheostomy)
	assert.False(t, byKey["6/08:00"].Tracheostomy)
}

func TestBuildRespiratorySupportTrachProcedureLatches(t *testing.T) {
	v := 1.0
	chart := []source.ChartEvent{
		chartRow(2, 5, 50, 226732, at(8, 0), "Nasal cannula", nil),
		chartRow(2, 5, 50, 226732, at(11, 0), "Nasal cannula", nil),
	}
	// Procedure evidence lands between the two device rows.
	procs := []source.ProcedureEvent{{
		SubjectID: 2, HadmID: 5, StayID: 50,
		ItemID: 225448, StartTime: at(9, 30), Value: &v,
	}}

	env := newTestEnv(t, respRegistry(chart, procs), respMappings(), nil)
	require.NoError(t, BuildRespiratorySupport(context.Background(), env.deps))

	rows := readOutput[RespiratorySupportRow](t, env, "respiratory_support")
	require.Len(t, rows, 3)
	assert.False(t, rows[0].Tracheostomy)
	assert.True(t, rows[1].Tracheostomy)
	assert.True(t, rows[2].Tracheostomy)
}

func TestBuildRespiratorySupportNoneOnWrongItemFails(t *testing.T) {
	chart := []source.ChartEvent{
		chartRow(1, 7, 70, 223849, at(8, 0), "None", nil),
	}
	env := newTestEnv(t, respRegistry(chart, nil), respMappings(), nil)
	err := BuildRespiratorySupport(context.Background(), env.deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "literal 'None'")
}

func TestCleanFiO2Events(t *testing.T) {
	mk := func(v float64) etl.Event {
		return etl.Event{ItemID: 223835, ValueNum: &v}
	}
	events := []etl.Event{mk(50), mk(0.45), mk(7), mk(120), mk(0.1)}
	cleanFiO2Events(events, map[int64]string{223835: "fio2_set"})

	require.NotNil(t, events[0].ValueNum)
	assert.Equal(t, 0.5, *events[0].ValueNum)
	require.NotNil(t, events[1].ValueNum)
	assert.Equal(t, 0.45, *events[1].ValueNum)
	// 1–20, >100, and <=0.2 are all outliers → null.
	assert.Nil(t, events[2].ValueNum)
	assert.Nil(t, events[3].ValueNum)
	assert.Nil(t, events[4].ValueNum)
}

func TestCleanFiO2LeavesOtherItemsAlone(t *testing.T) {
	v := 7.0
	events := []etl.Event{{ItemID: 220339, ValueNum: &v}}
	cleanFiO2Events(events, map[int64]string{223835: "fio2_set"})
	require.NotNil(t, events[0].ValueNum)
	assert.Equal(t, 7.0, *events[0].ValueNum)
}

func TestTruthy(t *testing.T) {
	assert.False(t, truthy(""))
	assert.False(t, truthy("0"))
	assert.False(t, truthy("0.0"))
	assert.True(t, truthy("1"))
	assert.True(t, truthy("Yes"))
}
