package regionstats

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"nocturna-sky-map/pkg/database"
	"nocturna-sky-map/pkg/geo"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	cfg := database.Config{
		DBType: "sqlite",
		DBPath: filepath.Join(t.TempDir(), "test.sqlite"),
	}
	db, err := database.NewDatabase(cfg)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(cfg); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return NewService(db)
}

func seed(t *testing.T, s *Service, rows []database.Measurement) {
	t.Helper()
	if _, err := s.DB.InsertMeasurementsBulk(context.Background(), rows, 0, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func unitSquare() geo.Polygon {
	return geo.Polygon{Rings: []geo.Ring{{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 1},
		{Lat: 1, Lon: 1},
		{Lat: 1, Lon: 0},
	}}}
}

func TestStats(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	seed(t, s, []database.Measurement{
		{Lat: 0.2, Lon: 0.2, ObservedAt: 1000, SQM: 20.0, QualityScore: 80, ResearchGrade: true},
		{Lat: 0.5, Lon: 0.5, ObservedAt: 2000, SQM: 21.0, QualityScore: 90, ResearchGrade: true},
		{Lat: 0.8, Lon: 0.8, ObservedAt: 3000, SQM: 19.0, QualityScore: 40},
		{Lat: 5.0, Lon: 5.0, ObservedAt: 4000, SQM: 24.0, QualityScore: 100}, // outside
	})

	got, err := s.Stats(context.Background(), unitSquare(), false)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := Result{
		HasData:     true,
		SampleSize:  3,
		MeanSQM:     20.0,
		MinSQM:      19.0,
		MaxSQM:      21.0,
		MeanQuality: 70,
	}
	if got != want {
		t.Fatalf("Stats = %+v, want %+v", got, want)
	}
}

func TestStatsResearchOnly(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	seed(t, s, []database.Measurement{
		{Lat: 0.2, Lon: 0.2, ObservedAt: 1000, SQM: 20.0, QualityScore: 80, ResearchGrade: true},
		{Lat: 0.8, Lon: 0.8, ObservedAt: 3000, SQM: 18.0, QualityScore: 40},
	})

	got, err := s.Stats(context.Background(), unitSquare(), true)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if !got.ResearchOnly {
		t.Fatal("result must carry the filter flag")
	}
	if got.SampleSize != 1 || got.MeanSQM != 20.0 {
		t.Fatalf("research-only stats = %+v, want the single flagged row", got)
	}
}

// TestStatsNoData distinguishes the empty selection from a zero reading.
func TestStatsNoData(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	got, err := s.Stats(context.Background(), unitSquare(), false)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if got.HasData {
		t.Fatal("empty selection must not claim data")
	}
	if got.SampleSize != 0 || got.MeanSQM != 0 {
		t.Fatalf("empty result carries values: %+v", got)
	}
	if math.IsNaN(got.MeanSQM) {
		t.Fatal("empty mean must not be NaN")
	}
}

func TestStatsDegeneratePolygon(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	_, err := s.Stats(context.Background(), geo.Polygon{}, false)
	if !errors.Is(err, geo.ErrDegenerate) {
		t.Fatalf("degenerate polygon error = %v, want ErrDegenerate", err)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	seed(t, s, []database.Measurement{
		{Lat: 48.01, Lon: 11.5, ObservedAt: 3000, SQM: 21.0, QualityScore: 90},
		{Lat: 48.005, Lon: 11.5, ObservedAt: 1000, SQM: 20.5, QualityScore: 85},
		{Lat: 49.0, Lon: 11.5, ObservedAt: 2000, SQM: 19.0, QualityScore: 80}, // ~111 km away
	})

	points, err := s.History(context.Background(), 48.0, 11.5)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("history length = %d, want 2", len(points))
	}
	if points[0].Date != 1000 || points[1].Date != 3000 {
		t.Fatalf("history not date-ordered: %+v", points)
	}

	// A single reading is a valid series.
	single, err := s.History(context.Background(), 48.005, 11.5)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(single) < 1 {
		t.Fatal("nearby reading missing from history")
	}

	// Nothing near the south pole.
	empty, err := s.History(context.Background(), -89.0, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty history, got %d points", len(empty))
	}
}
