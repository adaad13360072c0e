package tables

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimic2clif/source"
)

const vitalsMappingCSV = "itemid,label = vital_name,vital_category\n" +
	"220045,Heart Rate,heart_rate\n" +
	"226531,Admission Weight (lbs.),weight_kg\n" +
	"223761,Temperature Fahrenheit,temp_c\n" +
	"223762,Temperature Celsius,temp_c\n" +
	"224642,Temperature Site,NO MAPPING\n"

func vitalsRegistry(chart []source.ChartEvent) source.Registry {
	return source.Registry{
		source.Key("icu", "chartevents"):     fixedRows(chart),
		source.Key("icu", "procedureevents"): fixedRows([]source.ProcedureEvent(nil)),
	}
}

func TestBuildVitals(t *testing.T) {
	hr, lbs := 88.0, 154.0
	tempC, tempF := 37.2, 101.3
	chart := []source.ChartEvent{
		chartRow(1, 7, 70, 220045, at(8, 0), "88", &hr),
		// Weight charted in pounds converts to kilograms.
		chartRow(1, 7, 70, 226531, at(8, 0), "154", &lbs),
		// Same instant charts both scales plus a site; Celsius wins.
		chartRow(1, 7, 70, 223762, at(9, 0), "37.2", &tempC),
		chartRow(1, 7, 70, 223761, at(9, 0), "99", nil),
		chartRow(1, 7, 70, 224642, at(9, 0), "Oral", nil),
		// Fahrenheit only at a later instant.
		chartRow(1, 7, 70, 223761, at(10, 0), "101.3", &tempF),
		// Exact duplicate read collapses.
		chartRow(1, 7, 70, 220045, at(8, 0), "88", &hr),
	}

	env := newTestEnv(t, vitalsRegistry(chart), map[string]string{"vitals": vitalsMappingCSV}, nil)
	require.NoError(t, BuildVitals(context.Background(), env.deps))

	rows := readOutput[VitalRow](t, env, "vitals")
	require.Len(t, rows, 4)

	byKey := map[string]VitalRow{}
	for _, r := range rows {
		byKey[*r.VitalCategory+"/"+r.RecordedDttm.Format("15:04")] = r
	}

	assert.Equal(t, 88.0, *byKey["heart_rate/08:00"].VitalValue)

	weight := byKey["weight_kg/08:00"]
	assert.Equal(t, 69.8, *weight.VitalValue)
	assert.Equal(t, "Admission Weight (lbs.)", *weight.VitalName)

	early := byKey["temp_c/09:00"]
	assert.Equal(t, 37.2, *early.VitalValue)
	assert.Equal(t, "Temperature Celsius", *early.VitalName)
	require.NotNil(t, early.MeasSiteName)
	assert.Equal(t, "Oral", *early.MeasSiteName)

	late := byKey["temp_c/10:00"]
	assert.Equal(t, 38.5, *late.VitalValue)
	assert.Equal(t, "Temperature Fahrenheit", *late.VitalName)
	assert.Equal(t, "", *late.MeasSiteName)
}

func TestFahrenheitToCelsius(t *testing.T) {
	assert.Equal(t, 37.0, fahrenheitToCelsius(98.6))
	assert.Equal(t, 0.0, fahrenheitToCelsius(32))
	assert.Equal(t, 38.5, fahrenheitToCelsius(101.3))
}
