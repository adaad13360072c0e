package vocab

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMapping(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, "mimic-to-clif-mappings - "+name+".csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadMappingCSV(t *testing.T) {
	dir := t.TempDir()
	writeMapping(t, dir, "adt", "careunit,location_category,decision\n"+
		"Medical ICU (MICU),icu,TO MAP\n"+
		" Emergency Department ,ed,TO MAP\n")

	rows, err := LoadMappingCSV(dir, "adt")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Medical ICU (MICU)", rows[0]["careunit"])
	// Header and cells are whitespace-trimmed.
	assert.Equal(t, "Emergency Department", rows[1]["careunit"])
}

func TestLoadMappingCSVMissingFile(t *testing.T) {
	_, err := LoadMappingCSV(t.TempDir(), "nope")
	assert.Error(t, err)
}

func TestBuildLookupOmitsExcluded(t *testing.T) {
	rows := []MappingRow{
		{"device_name": "Endotracheal tube", "device_category": "IMV", "decision": "TO MAP"},
		{"device_name": "Ultrasonic neb", "device_category": "NO MAPPING", "decision": "TO MAP"},
		{"device_name": "Vent brand X", "device_category": "IMV", "decision": "MAPPED ELSEWHERE"},
		{"device_name": "Oddity", "device_category": "Other", "decision": "UNSURE"},
		{"device_name": "Venti mask", "device_category": "Face Mask", "decision": "TO MAP"},
	}

	lookup := BuildLookup(rows, "device_name", "device_category", LookupOpts{
		DecisionCol:       "decision",
		ExcludedDecisions: DefaultExcludedDecisions,
	})

	assert.Equal(t, "IMV", lookup["Endotracheal tube"])
	assert.Equal(t, "Face Mask", lookup["Venti mask"])
	// Absent key means "no canonical mapping", never an empty category.
	_, ok := lookup["Ultrasonic neb"]
	assert.False(t, ok)
	_, ok = lookup["Vent brand X"]
	assert.False(t, ok)
	_, ok = lookup["Oddity"]
	assert.False(t, ok)
}

func TestBuildLookupExcludedKeys(t *testing.T) {
	rows := []MappingRow{
		{"itemid": "226732", "variable": "device_name"},
		{"itemid": "223848", "variable": "vent_brand_name"},
	}
	lookup := BuildLookup(rows, "itemid", "variable", LookupOpts{
		ExcludedKeys: []string{"223848"},
	})
	assert.Len(t, lookup, 1)
	assert.Equal(t, "device_name", lookup["226732"])
}

func TestRelevantItemIDs(t *testing.T) {
	rows := []MappingRow{
		{"itemid": "223835", "decision": "TO MAP"},
		{"itemid": "226732", "decision": "TO MAP"},
		{"itemid": "226732", "decision": "TO MAP"}, // duplicate row
		{"itemid": "224738", "decision": "NO MAPPING"},
		{"itemid": "", "decision": "TO MAP"},
		{"itemid": "not-a-number", "decision": "TO MAP"},
	}

	ids := RelevantItemIDs(rows, "decision", DefaultExcludedDecisions)
	assert.Equal(t, []int64{223835, 226732}, ids)
}

func TestBuildItemLookup(t *testing.T) {
	rows := []MappingRow{
		{"itemid": "220339", "variable": "peep_set"},
		{"itemid": "junk", "variable": "nothing"},
	}
	lookup := BuildItemLookup(rows, "variable", LookupOpts{})
	assert.Equal(t, map[int64]string{220339: "peep_set"}, lookup)
}

func TestExcludeWhere(t *testing.T) {
	rows := []MappingRow{
		{"itemid": "226732", "device_name": "Nasal cannula"},
		{"itemid": "223848", "device_name": "Drager"},
	}
	out := ExcludeWhere(rows, "itemid", "223848")
	require.Len(t, out, 1)
	assert.Equal(t, "226732", out[0]["itemid"])
}
