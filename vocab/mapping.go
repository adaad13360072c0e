// Package vocab loads the hand-curated MIMIC→CLIF mapping files and
// turns them into source-code → category lookups.
//
// A mapping CSV associates a source key column (itemid, device_name,
// careunit, ...) with a CLIF category column, plus a decision column
// recording the curators' verdict. Keys whose decision is excluded, or
// whose target is the "NO MAPPING" sentinel, are omitted from the lookup
// entirely: an absent key means "no canonical mapping" and downstream
// code propagates null rather than fabricating a category.
package vocab

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// NoMapping is the curators' sentinel for a key deliberately left unmapped.
const NoMapping = "NO MAPPING"

// DefaultExcludedDecisions are the decision labels that take a row out of
// scope for event fetching and lookups.
var DefaultExcludedDecisions = []string{
	"NO MAPPING", "UNSURE", "MAPPED ELSEWHERE", "NOT AVAILABLE", "TO MAP, ELSEWHERE",
}

// MappingRow is one row of a mapping CSV, keyed by header name.
type MappingRow map[string]string

// LoadMappingCSV reads "mimic-to-clif-mappings - <name>.csv" from dir.
func LoadMappingCSV(dir, name string) ([]MappingRow, error) {
	path := filepath.Join(dir, fmt.Sprintf("mimic-to-clif-mappings - %s.csv", name))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mapping %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read mapping %s header: %w", name, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []MappingRow
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read mapping %s: %w", name, err)
		}
		row := make(MappingRow, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LookupOpts tunes BuildLookup.
type LookupOpts struct {
	// DecisionCol, when set, excludes rows whose value in that column is
	// in ExcludedDecisions (or empty).
	DecisionCol       string
	ExcludedDecisions []string
	// ExcludedKeys removes specific source keys (e.g. the vent brand item).
	ExcludedKeys []string
}

// BuildLookup converts mapping rows to a key→value lookup. Keys mapped to
// the NoMapping sentinel, keys with excluded decisions, and explicitly
// excluded keys are absent from the result. Absence means "no canonical
// mapping", never an empty-string category.
func BuildLookup(rows []MappingRow, keyCol, valueCol string, opts LookupOpts) map[string]string {
	excludedKeys := make(map[string]bool, len(opts.ExcludedKeys))
	for _, k := range opts.ExcludedKeys {
		excludedKeys[k] = true
	}
	excludedDecisions := make(map[string]bool, len(opts.ExcludedDecisions))
	for _, d := range opts.ExcludedDecisions {
		excludedDecisions[d] = true
	}

	lookup := make(map[string]string, len(rows))
	for _, row := range rows {
		key := row[keyCol]
		if key == "" || excludedKeys[key] {
			continue
		}
		if opts.DecisionCol != "" {
			decision := row[opts.DecisionCol]
			if decision == "" || excludedDecisions[decision] {
				continue
			}
		}
		value := row[valueCol]
		if value == "" || value == NoMapping {
			continue
		}
		lookup[key] = value
	}
	return lookup
}

// RelevantItemIDs returns the itemids of rows whose decision column is
// non-empty and not excluded. These are the items worth fetching events for.
func RelevantItemIDs(rows []MappingRow, decisionCol string, excludedDecisions []string) []int64 {
	excluded := make(map[string]bool, len(excludedDecisions))
	for _, d := range excludedDecisions {
		excluded[d] = true
	}

	seen := make(map[int64]bool)
	var ids []int64
	for _, row := range rows {
		decision := row[decisionCol]
		if decision == "" || excluded[decision] {
			continue
		}
		raw := row["itemid"]
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// BuildItemLookup is BuildLookup with an itemid key column parsed to
// int64, for lookups keyed by source item code.
func BuildItemLookup(rows []MappingRow, valueCol string, opts LookupOpts) map[int64]string {
	byKey := BuildLookup(rows, "itemid", valueCol, opts)
	lookup := make(map[int64]string, len(byKey))
	for k, v := range byKey {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		lookup[id] = v
	}
	return lookup
}

// ExcludeWhere drops rows whose col matches any of values. Used to keep
// rows of an unrelated item out of a value-keyed lookup (e.g. the vent
// brand item's values out of the device-category mapping).
func ExcludeWhere(rows []MappingRow, col string, values ...string) []MappingRow {
	excluded := make(map[string]bool, len(values))
	for _, v := range values {
		excluded[v] = true
	}
	var out []MappingRow
	for _, row := range rows {
		if excluded[row[col]] {
			continue
		}
		out = append(out, row)
	}
	return out
}
