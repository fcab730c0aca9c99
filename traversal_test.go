package microgrid_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/go-microgrid/go-microgrid"
	"github.com/go-microgrid/go-microgrid/microgridtest"
)

func TestDFSStopsAtMatches(t *testing.T) {
	graph, err := microgridtest.NewBatteryGraph(2)
	if err != nil {
		t.Fatalf("NewBatteryGraph: %v", err)
	}
	root, err := graph.Component(microgridtest.GridID)
	if err != nil {
		t.Fatalf("Component(grid): %v", err)
	}

	visited := make(map[microgrid.ComponentID]struct{})
	found := microgrid.DFS(graph, root, visited, microgrid.IsBatteryInverter)

	wantIDs := []microgrid.ComponentID{8, 18}
	for _, id := range wantIDs {
		if _, ok := found[id]; !ok {
			t.Errorf("DFS did not find battery inverter %d", id)
		}
	}
	if len(found) != len(wantIDs) {
		t.Errorf("DFS found %d components, want %d", len(found), len(wantIDs))
	}

	// Traversal must not descend past a match: the batteries below the
	// inverters were never visited.
	for _, battery := range []microgrid.ComponentID{9, 19} {
		if _, ok := visited[battery]; ok {
			t.Errorf("DFS descended into battery %d past a matching inverter", battery)
		}
	}

	// The visited set is threaded: a second search sharing it finds nothing
	// new.
	again := microgrid.DFS(graph, root, visited, microgrid.IsBatteryInverter)
	if len(again) != 0 {
		t.Errorf("DFS with shared visited set found %d components, want 0", len(again))
	}
}

func TestFindFirstDescendantComponent(t *testing.T) {
	graph, err := microgridtest.NewBatteryGraph(2)
	if err != nil {
		t.Fatalf("NewBatteryGraph: %v", err)
	}

	// The grid's only successor is the grid meter.
	meter, err := microgrid.FindFirstDescendantComponent(graph,
		microgrid.CategoryGrid, []microgrid.ComponentCategory{microgrid.CategoryMeter})
	if err != nil {
		t.Fatalf("FindFirstDescendantComponent: %v", err)
	}
	if meter.ID != microgridtest.GridMeterID {
		t.Errorf("descendant = %d, want %d", meter.ID, microgridtest.GridMeterID)
	}

	// Categories are tried in order: an inverter successor beats a meter
	// successor, and among matching successors the lowest id wins.
	first, err := microgrid.FindFirstDescendantComponent(graph,
		microgrid.CategoryMeter, []microgrid.ComponentCategory{
			microgrid.CategoryInverter, microgrid.CategoryMeter,
		})
	if err != nil {
		t.Fatalf("FindFirstDescendantComponent: %v", err)
	}
	// Meters 4, 7 and 17 share the root category; whichever is picked, its
	// first matching successor by id is deterministic.
	switch first.ID {
	case 7, 8, 18:
	default:
		t.Errorf("descendant = %d, want the lowest-id matching successor of a meter", first.ID)
	}

	var noMatch *microgrid.NoMatchingDescendantError
	if _, err := microgrid.FindFirstDescendantComponent(graph,
		microgrid.CategoryCHP, []microgrid.ComponentCategory{microgrid.CategoryMeter}); !errors.As(err, &noMatch) {
		t.Errorf("missing root error = %v, want *NoMatchingDescendantError", err)
	}
	if _, err := microgrid.FindFirstDescendantComponent(graph,
		microgrid.CategoryGrid, []microgrid.ComponentCategory{microgrid.CategoryBattery}); !errors.As(err, &noMatch) {
		t.Errorf("missing descendant error = %v, want *NoMatchingDescendantError", err)
	}
}

func TestChainPredicates(t *testing.T) {
	graph, err := microgridtest.NewBatteryGraph(1)
	if err != nil {
		t.Fatalf("NewBatteryGraph: %v", err)
	}

	component := func(id microgrid.ComponentID) microgrid.Component {
		t.Helper()
		c, err := graph.Component(id)
		if err != nil {
			t.Fatalf("Component(%d): %v", id, err)
		}
		return c
	}

	want := map[microgrid.ComponentID]bool{
		7: true,  // battery meter
		8: true,  // battery inverter
		9: false, // the battery itself is commanded, not part of the chain
		4: false, // grid meter
		1: false,
	}
	got := make(map[microgrid.ComponentID]bool)
	for id := range want {
		got[id] = microgrid.IsBatteryChain(graph, component(id))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("battery chain membership mismatch (-want +got):\n%s", diff)
	}

	if microgrid.IsPVChain(graph, component(8)) {
		t.Error("battery inverter classified as PV chain")
	}
	if microgrid.IsEVChargerChain(graph, component(7)) {
		t.Error("battery meter classified as EV charger chain")
	}
	if microgrid.IsCHPChain(graph, component(7)) {
		t.Error("battery meter classified as CHP chain")
	}
}
