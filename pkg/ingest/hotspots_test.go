package ingest

import (
	"context"
	"strings"
	"testing"
)

const hotspotHeader = "cell_id,latitude,longitude,radiance_base,radiance_now\n"

// TestRunHotspotsSkipAccounting feeds a grid export with every rejection
// class: below-threshold growth, bad coordinates, bad radiance and a
// duplicate cell id.
func TestRunHotspotsSkipAccounting(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	csvData := hotspotHeader +
		"lahore_0,31.50,74.30,10.0,22.0\n" + // valid, diff 12
		"lahore_1,31.51,74.31,8.0,16.0\n" + // valid, diff 8
		"lahore_2,31.52,74.32,10.0,13.0\n" + // diff 3, under threshold
		"lahore_3,95.00,74.30,10.0,22.0\n" + // lat out of range
		"lahore_4,31.53,74.33,abc,22.0\n" + // bad radiance
		"lahore_0,31.50,74.30,10.0,22.0\n" // duplicate cell id

	summary, err := RunHotspots(context.Background(), db, strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("RunHotspots: %v", err)
	}

	if summary.Inserted != 2 {
		t.Fatalf("Inserted = %d, want 2", summary.Inserted)
	}
	if summary.Skipped != 4 {
		t.Fatalf("Skipped = %d, want 4", summary.Skipped)
	}
	if summary.Inserted+summary.Skipped != 6 {
		t.Fatalf("accounting broken: %d+%d != rows seen", summary.Inserted, summary.Skipped)
	}
}

// TestRunHotspotsIdempotent verifies a second run against a seeded grid is
// a no-op.
func TestRunHotspotsIdempotent(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	csvData := hotspotHeader + "tokyo_0,35.60,139.70,5.0,15.0\n"

	first, err := RunHotspots(context.Background(), db, strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Inserted != 1 {
		t.Fatalf("first run inserted = %d, want 1", first.Inserted)
	}

	second, err := RunHotspots(context.Background(), db, strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Inserted != 0 || second.Skipped != 0 {
		t.Fatalf("second run = %+v, want a no-op", second)
	}
}

// TestClassifyHotspot pins the threshold boundary and the derived cell id.
func TestClassifyHotspot(t *testing.T) {
	t.Parallel()

	good := hotspotRow{CellID: "x_1", Latitude: "10.0", Longitude: "20.0", RadianceBase: "4.0", RadianceNow: "12.0"}
	cell, reason := classifyHotspot(good)
	if reason != "" {
		t.Fatalf("good cell rejected: %s", reason)
	}
	if cell.RadianceDiff != 8.0 || cell.RiskLevel != "Critical" {
		t.Fatalf("cell = %+v", cell)
	}

	// Growth exactly at the threshold is not a hotspot.
	flat := hotspotRow{Latitude: "10.0", Longitude: "20.0", RadianceBase: "4.0", RadianceNow: "9.0"}
	if _, reason := classifyHotspot(flat); reason == "" {
		t.Fatal("threshold growth should be rejected")
	}
	above := hotspotRow{Latitude: "10.0", Longitude: "20.0", RadianceBase: "4.0", RadianceNow: "9.01"}
	if _, reason := classifyHotspot(above); reason != "" {
		t.Fatalf("just-above-threshold growth rejected: %s", reason)
	}

	// A blank cell id gets derived from the coordinates.
	anon := hotspotRow{Latitude: "10.0", Longitude: "20.0", RadianceBase: "4.0", RadianceNow: "12.0"}
	cell, reason = classifyHotspot(anon)
	if reason != "" {
		t.Fatalf("anonymous cell rejected: %s", reason)
	}
	if cell.CellID != "cell_10.00_20.00" {
		t.Fatalf("derived cell id = %q", cell.CellID)
	}
}
