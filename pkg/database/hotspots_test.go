package database

import (
	"context"
	"testing"

	"nocturna-sky-map/pkg/geo"
)

func cell(id string, lat, lon, base, now float64) Hotspot {
	return Hotspot{
		CellID:       id,
		Lat:          lat,
		Lon:          lon,
		RadianceBase: base,
		RadianceNow:  now,
		RadianceDiff: now - base,
		RiskLevel:    "Critical",
	}
}

func TestHotspotsEmptyAndInsert(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	empty, err := db.HotspotsEmpty(ctx)
	if err != nil {
		t.Fatalf("HotspotsEmpty: %v", err)
	}
	if !empty {
		t.Fatal("fresh grid should be empty")
	}

	inserted, err := db.InsertHotspotsBulk(ctx, []Hotspot{
		cell("lahore_0", 31.5, 74.3, 10, 22),
		cell("lahore_1", 31.51, 74.31, 8, 16),
	}, 0)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("inserted = %d, want 2", inserted)
	}

	empty, err = db.HotspotsEmpty(ctx)
	if err != nil {
		t.Fatalf("HotspotsEmpty: %v", err)
	}
	if empty {
		t.Fatal("grid should not be empty after insert")
	}
}

func TestInsertHotspotsDeduplicates(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	first := []Hotspot{
		cell("tokyo_0", 35.6, 139.7, 5, 15),
		cell("tokyo_0", 35.6, 139.7, 5, 15),
	}
	inserted, err := db.InsertHotspotsBulk(ctx, first, 0)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("in-batch duplicate: inserted = %d, want 1", inserted)
	}

	inserted, err = db.InsertHotspotsBulk(ctx, first[:1], 0)
	if err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("re-insert: inserted = %d, want 0", inserted)
	}
}

func TestQueryHotspotsContained(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	// Cells anchor at their northwest corner; centers sit half a cell
	// south-east of it.
	cells := []Hotspot{
		cell("ny_strong", 40.70, -74.00, 6, 20),
		cell("ny_weak", 40.71, -74.01, 6, 12),
		cell("ny_far", 41.50, -74.00, 6, 30),
	}
	if _, err := db.InsertHotspotsBulk(ctx, cells, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}

	box := geo.Polygon{Rings: []geo.Ring{{
		{Lat: 40.5, Lon: -74.3},
		{Lat: 40.5, Lon: -73.5},
		{Lat: 41.0, Lon: -73.5},
		{Lat: 41.0, Lon: -74.3},
	}}}

	got, err := db.QueryHotspotsContained(ctx, box)
	if err != nil {
		t.Fatalf("QueryHotspotsContained: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("result count = %d, want 2", len(got))
	}
	// Strongest growth first.
	if got[0].CellID != "ny_strong" || got[1].CellID != "ny_weak" {
		t.Fatalf("order = %s, %s; want ny_strong, ny_weak", got[0].CellID, got[1].CellID)
	}

	if _, err := db.QueryHotspotsContained(ctx, geo.Polygon{}); err != geo.ErrDegenerate {
		t.Fatalf("degenerate polygon error = %v, want ErrDegenerate", err)
	}
}

func TestHotspotCenter(t *testing.T) {
	t.Parallel()

	c := cell("x", 10.0, 20.0, 0, 10).Center()
	if c.Lat != 10.0-HotspotCellDegrees/2 || c.Lon != 20.0+HotspotCellDegrees/2 {
		t.Fatalf("center = %+v", c)
	}

	// A cell anchored on the dateline wraps its center back into range.
	edge := cell("y", 0, 179.995, 0, 10).Center()
	if !(geo.Point{Lat: edge.Lat, Lon: edge.Lon}).Valid() {
		t.Fatalf("edge center out of range: %+v", edge)
	}
}
