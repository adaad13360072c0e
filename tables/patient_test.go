package tables

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimic2clif/source"
)

const raceMappingCSV = "mimic_race,race,ethnicity\n" +
	"WHITE,White,Non-Hispanic\n" +
	"HISPANIC/LATINO - CUBAN,Other,Hispanic\n" +
	"UNKNOWN,Unknown,Unknown\n"

func patientRegistry(patients []source.Patient, admissions []source.Admission) source.Registry {
	return source.Registry{
		source.Key("hosp", "patients"):   fixedRows(patients),
		source.Key("hosp", "admissions"): fixedRows(admissions),
	}
}

func admission(subject, hadm int64, admit time.Time, race string) source.Admission {
	a := source.Admission{
		SubjectID: subject, HadmID: hadm,
		AdmitTime:     admit,
		AdmissionType: "EW EMER.",
	}
	if race != "" {
		a.Race = &race
	}
	return a
}

func TestBuildPatient(t *testing.T) {
	died := at(23, 0)
	patients := []source.Patient{
		{SubjectID: 1, Gender: "F", AnchorAge: 60, AnchorYear: 2130},
		{SubjectID: 2, Gender: "M", AnchorAge: 40, AnchorYear: 2130},
	}
	admissions := []source.Admission{
		// Subject 1: one informative race observation and one UNKNOWN;
		// the informative pair wins the tie.
		admission(1, 10, at(8, 0), "WHITE"),
		admission(1, 11, at(9, 0), "UNKNOWN"),
		admission(2, 20, at(8, 0), "HISPANIC/LATINO - CUBAN"),
	}
	admissions[2].DeathTime = &died

	env := newTestEnv(t, patientRegistry(patients, admissions), map[string]string{
		"race_ethnicity": raceMappingCSV,
	}, nil)
	require.NoError(t, BuildPatient(context.Background(), env.deps))

	rows := readOutput[PatientRow](t, env, "patient")
	require.Len(t, rows, 2)

	p1 := rows[0]
	assert.Equal(t, "1", p1.PatientID)
	require.NotNil(t, p1.SexCategory)
	assert.Equal(t, "Female", *p1.SexCategory)
	require.NotNil(t, p1.RaceName)
	assert.Equal(t, "WHITE", *p1.RaceName)
	require.NotNil(t, p1.RaceCategory)
	assert.Equal(t, "White", *p1.RaceCategory)
	require.NotNil(t, p1.EthnicityCategory)
	assert.Equal(t, "Non-Hispanic", *p1.EthnicityCategory)
	assert.Nil(t, p1.DeathDttm)

	p2 := rows[1]
	assert.Equal(t, "2", p2.PatientID)
	require.NotNil(t, p2.SexCategory)
	assert.Equal(t, "Male", *p2.SexCategory)
	// Other race with Hispanic ethnicity is still informative.
	require.NotNil(t, p2.EthnicityCategory)
	assert.Equal(t, "Hispanic", *p2.EthnicityCategory)
	require.NotNil(t, p2.DeathDttm)
	assert.Equal(t, died, p2.DeathDttm.UTC())
}

func TestResolveRaceMostFrequentWins(t *testing.T) {
	obs := []raceObservation{
		{raceName: "WHITE", raceCategory: "White", ethnicityCategory: "Non-Hispanic", admitTime: at(8, 0)},
		{raceName: "BLACK/AFRICAN AMERICAN", raceCategory: "Black", ethnicityCategory: "Non-Hispanic", admitTime: at(9, 0)},
		{raceName: "BLACK/AFRICAN AMERICAN", raceCategory: "Black", ethnicityCategory: "Non-Hispanic", admitTime: at(10, 0)},
	}
	assert.Equal(t, "BLACK/AFRICAN AMERICAN", resolveRace(obs).raceName)
}

func TestResolveRaceInformativeBeatsUnknown(t *testing.T) {
	obs := []raceObservation{
		{raceName: "UNKNOWN", raceCategory: "Unknown", ethnicityCategory: "Unknown", admitTime: at(10, 0)},
		{raceName: "WHITE", raceCategory: "White", ethnicityCategory: "Non-Hispanic", admitTime: at(8, 0)},
	}
	// Equal counts: the informative pair wins even though the unknown
	// observation is more recent.
	assert.Equal(t, "WHITE", resolveRace(obs).raceName)
}

func TestResolveRaceRecencyBreaksTies(t *testing.T) {
	obs := []raceObservation{
		{raceName: "WHITE", raceCategory: "White", ethnicityCategory: "Non-Hispanic", admitTime: at(8, 0)},
		{raceName: "ASIAN", raceCategory: "Asian", ethnicityCategory: "Non-Hispanic", admitTime: at(9, 0)},
	}
	assert.Equal(t, "ASIAN", resolveRace(obs).raceName)
}

func TestUninformative(t *testing.T) {
	assert.True(t, uninformative(raceObservation{}))
	assert.True(t, uninformative(raceObservation{raceCategory: "Unknown", ethnicityCategory: "Other"}))
	assert.False(t, uninformative(raceObservation{raceCategory: "Other", ethnicityCategory: "Hispanic"}))
	assert.False(t, uninformative(raceObservation{raceCategory: "White"}))
}
