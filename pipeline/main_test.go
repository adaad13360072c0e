package main

import (
	"strings"
	"testing"

	"mimic2clif/tables"
)

func TestSelectBuildersDefaultsToAll(t *testing.T) {
	selected, err := selectBuilders("")
	if err != nil {
		t.Fatalf("selectBuilders: %v", err)
	}
	if len(selected) != len(tables.All()) {
		t.Errorf("expected %d builders, got %d", len(tables.All()), len(selected))
	}
}

func TestSelectBuildersPreservesBuildOrder(t *testing.T) {
	selected, err := selectBuilders("vitals, patient")
	if err != nil {
		t.Fatalf("selectBuilders: %v", err)
	}
	if len(selected) != 2 {
		t.Fatalf("expected 2 builders, got %d", len(selected))
	}
	// patient builds before vitals regardless of flag order.
	if selected[0].Name != "patient" || selected[1].Name != "vitals" {
		t.Errorf("got order %s, %s", selected[0].Name, selected[1].Name)
	}
}

func TestSelectBuildersUnknownTable(t *testing.T) {
	_, err := selectBuilders("vitals,nope,alsonope")
	if err == nil {
		t.Fatal("expected error for unknown tables")
	}
	if !strings.Contains(err.Error(), "alsonope, nope") {
		t.Errorf("expected sorted unknown names in error, got: %v", err)
	}
}
