package etl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deviceItem = 226732

var deviceCategories = map[string]string{
	"Endotracheal tube":  "IMV",
	"Nasal cannula":      "Nasal Cannula",
	"High flow nasal ca": "High Flow NC",
	"None":               "Room Air",
}

func TestReconcileDevicesInvasiveWins(t *testing.T) {
	t0 := time.Date(2130, 4, 2, 8, 0, 0, 0, time.UTC)
	events := []Event{
		ev(7, deviceItem, t0, "Nasal cannula"),
		ev(7, deviceItem, t0, "Endotracheal tube"),
	}

	out, stats := ReconcileDevices(events, deviceItem, deviceCategories, RespDeviceRank)
	require.Len(t, out, 1)
	assert.Equal(t, "Endotracheal tube", out[0].Value)
	assert.Equal(t, 1, stats.Groups)
	assert.Equal(t, 1, stats.Dropped)
}

func TestReconcileDevicesMappedBeatsUnmapped(t *testing.T) {
	t0 := time.Date(2130, 4, 2, 8, 0, 0, 0, time.UTC)
	events := []Event{
		ev(7, deviceItem, t0, "Some device nobody mapped"),
		ev(7, deviceItem, t0, "Nasal cannula"),
	}

	out, stats := ReconcileDevices(events, deviceItem, deviceCategories, RespDeviceRank)
	require.Len(t, out, 1)
	assert.Equal(t, "Nasal cannula", out[0].Value)
	assert.Equal(t, 1, stats.Unmapped)
}

func TestReconcileDevicesTieKeepsFirst(t *testing.T) {
	t0 := time.Date(2130, 4, 2, 8, 0, 0, 0, time.UTC)
	events := []Event{
		ev(7, deviceItem, t0, "Nasal cannula"),
		ev(7, deviceItem, t0, "Nasal cannula"),
	}

	out, _ := ReconcileDevices(events, deviceItem, deviceCategories, RespDeviceRank)
	require.Len(t, out, 1)
	assert.Equal(t, "Nasal cannula", out[0].Value)
}

func TestReconcileDevicesLeavesOtherItemsAlone(t *testing.T) {
	t0 := time.Date(2130, 4, 2, 8, 0, 0, 0, time.UTC)
	events := []Event{
		ev(7, deviceItem, t0, "Nasal cannula"),
		ev(7, deviceItem, t0, "Endotracheal tube"),
		ev(7, 220339, t0, "5"),
		ev(7, 220339, t0, "8"),
	}

	out, _ := ReconcileDevices(events, deviceItem, deviceCategories, RespDeviceRank)
	require.Len(t, out, 3)
	assert.Equal(t, int64(220339), out[1].ItemID)
	assert.Equal(t, int64(220339), out[2].ItemID)
}

type doseRow struct {
	hadm  int64
	at    int64
	dose  *float64
	label string
}

func (r doseRow) key() [2]int64 { return [2]int64{r.hadm, r.at} }

func TestReconcileValuesNullLosesToValued(t *testing.T) {
	rows := []doseRow{
		{hadm: 3, at: 100, dose: nil, label: "Stopped"},
		{hadm: 3, at: 100, dose: Float64Ptr(12.5), label: "Running"},
	}

	out, stats := ReconcileValues(rows, doseRow.key,
		func(r doseRow) *float64 { return r.dose },
		func(r doseRow) string { return r.label },
		ValueCloseness)
	require.Len(t, out, 1)
	assert.Equal(t, "Running", out[0].label)
	assert.Equal(t, 1, stats.NullDropped)
	assert.Zero(t, stats.Conflicts)
}

func TestReconcileValuesCloseKeepsLongerLabel(t *testing.T) {
	// Two propofol readings within 10% of each other; the row with the
	// more descriptive action label survives.
	rows := []doseRow{
		{hadm: 3, at: 100, dose: Float64Ptr(10.0), label: "Running"},
		{hadm: 3, at: 100, dose: Float64Ptr(10.9), label: "ContinuedFromPriorRun"},
	}

	out, stats := ReconcileValues(rows, doseRow.key,
		func(r doseRow) *float64 { return r.dose },
		func(r doseRow) string { return r.label },
		ValueCloseness)
	require.Len(t, out, 1)
	assert.Equal(t, "ContinuedFromPriorRun", out[0].label)
	assert.Equal(t, 10.9, *out[0].dose)
	assert.Equal(t, 1, stats.CloseDropped)
}

func TestReconcileValuesFarApartDropsGroup(t *testing.T) {
	rows := []doseRow{
		{hadm: 3, at: 100, dose: Float64Ptr(10.0), label: "Running"},
		{hadm: 3, at: 100, dose: Float64Ptr(50.0), label: "Running"},
		{hadm: 3, at: 200, dose: Float64Ptr(7.0), label: "Running"},
	}

	out, stats := ReconcileValues(rows, doseRow.key,
		func(r doseRow) *float64 { return r.dose },
		func(r doseRow) string { return r.label },
		ValueCloseness)
	require.Len(t, out, 1)
	assert.Equal(t, int64(200), out[0].at)
	assert.Equal(t, 1, stats.Conflicts)
	assert.Equal(t, 2, stats.RowsDropped)
}

func TestReconcileValuesThreeWayConflictDropsAll(t *testing.T) {
	// Three rows share a key; even if two of them are close, a three-row
	// group never reaches the closeness rule and is dropped whole.
	rows := []doseRow{
		{hadm: 3, at: 100, dose: Float64Ptr(10.0), label: "a"},
		{hadm: 3, at: 100, dose: Float64Ptr(10.5), label: "b"},
		{hadm: 3, at: 100, dose: Float64Ptr(11.0), label: "c"},
	}

	out, stats := ReconcileValues(rows, doseRow.key,
		func(r doseRow) *float64 { return r.dose },
		func(r doseRow) string { return r.label },
		ValueCloseness)
	assert.Empty(t, out)
	assert.Equal(t, 1, stats.Conflicts)
	assert.Equal(t, 3, stats.RowsDropped)
}

func TestReconcileValuesIdempotent(t *testing.T) {
	rows := []doseRow{
		{hadm: 3, at: 100, dose: nil, label: "Stopped"},
		{hadm: 3, at: 100, dose: Float64Ptr(12.5), label: "Running"},
		{hadm: 3, at: 150, dose: Float64Ptr(10.0), label: "Running"},
		{hadm: 3, at: 150, dose: Float64Ptr(10.9), label: "ContinuedFromPriorRun"},
		{hadm: 4, at: 100, dose: Float64Ptr(1.0), label: "Running"},
	}

	once, _ := ReconcileValues(rows, doseRow.key,
		func(r doseRow) *float64 { return r.dose },
		func(r doseRow) string { return r.label },
		ValueCloseness)
	twice, stats := ReconcileValues(once, doseRow.key,
		func(r doseRow) *float64 { return r.dose },
		func(r doseRow) string { return r.label },
		ValueCloseness)
	assert.Equal(t, once, twice)
	assert.Zero(t, stats.RowsDropped)
}

func TestWithinRelative(t *testing.T) {
	assert.True(t, withinRelative(10.0, 10.9, 0.10))
	assert.False(t, withinRelative(10.0, 11.2, 0.10))
	assert.True(t, withinRelative(0, 0, 0.10))
	assert.True(t, withinRelative(-10.0, -10.5, 0.10))
}
