package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"nocturna-sky-map/pkg/database"
)

func newTestDB(t *testing.T) *database.Database {
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
	return db
}

const header = "latitude,longitude,elevation,observed_at,sqm,limiting_magnitude,constellation,comment,cloud_cover,sensor_serial\n"

// TestRunSkipAccounting feeds a CSV with every rejection class and checks
// that Inserted+Skipped always equals the rows seen.
func TestRunSkipAccounting(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	csvData := header +
		"48.10,11.50,519,2023-09-15T22:30:00Z,21.30,6.1,Cygnus,great night,clear,SQM-001\n" +
		"48.20,11.60,0,2023-09-16 22:30:00,20.70,,,,,\n" + // valid, alternate date layout
		"not-a-number,11.50,0,2023-09-15T22:30:00Z,21.00,,,,,\n" + // bad latitude
		"48.10,11.50,0,someday,21.00,,,,,\n" + // bad date
		"48.10,11.50,0,2023-09-15T22:30:00Z,9.50,,,,,\n" + // sqm below range
		"48.10,11.50,0,2023-09-15T22:30:00Z,25.10,,,,,\n" + // sqm above range
		"95.00,11.50,0,2023-09-15T22:30:00Z,21.00,,,,,\n" + // lat out of range
		"48.10,11.50,519,2023-09-15T22:30:00Z,21.30,6.1,Cygnus,dupe,clear,SQM-001\n" // dedupe target

	summary, err := Run(context.Background(), db, strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Inserted != 2 {
		t.Fatalf("Inserted = %d, want 2", summary.Inserted)
	}
	if summary.Skipped != 6 {
		t.Fatalf("Skipped = %d, want 6", summary.Skipped)
	}
	if summary.Inserted+summary.Skipped != 8 {
		t.Fatalf("accounting broken: %d+%d != rows seen", summary.Inserted, summary.Skipped)
	}
}

// TestRunIdempotent verifies a second run against a seeded store is a no-op.
func TestRunIdempotent(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	csvData := header + "48.10,11.50,519,2023-09-15T22:30:00Z,21.30,,,,clear,\n"

	first, err := Run(context.Background(), db, strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Inserted != 1 {
		t.Fatalf("first run inserted = %d, want 1", first.Inserted)
	}

	second, err := Run(context.Background(), db, strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Inserted != 0 || second.Skipped != 0 {
		t.Fatalf("second run = %+v, want a no-op", second)
	}

	empty, err := db.IsEmpty(context.Background())
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if empty {
		t.Fatal("store lost its rows")
	}
}

// TestClassifyRow checks the quality derivation on a single good row.
func TestClassifyRow(t *testing.T) {
	t.Parallel()

	m, reason := classifyRow(csvRow{
		Latitude:     "48.10",
		Longitude:    "11.50",
		ObservedAt:   "2023-09-15T22:30:00Z",
		SQM:          "21.30",
		CloudCover:   "clear",
		SensorSerial: "SQM-001",
	})
	if reason != "" {
		t.Fatalf("unexpected rejection: %s", reason)
	}
	if m.CloudCoverPct != 0 {
		t.Fatalf("cloud pct = %d, want 0 for clear", m.CloudCoverPct)
	}
	if m.MoonIllumination < 0 || m.MoonIllumination > 1 {
		t.Fatalf("moon illumination out of range: %f", m.MoonIllumination)
	}
	if m.QualityScore < 0 || m.QualityScore > 100 {
		t.Fatalf("quality score out of range: %d", m.QualityScore)
	}
	if m.ObservedAt == 0 {
		t.Fatal("observation time not set")
	}

	// Missing cloud text reads as overcast and can never be research grade.
	m, reason = classifyRow(csvRow{
		Latitude:   "48.10",
		Longitude:  "11.50",
		ObservedAt: "2023-09-15T22:30:00Z",
		SQM:        "21.30",
	})
	if reason != "" {
		t.Fatalf("unexpected rejection: %s", reason)
	}
	if m.CloudCoverPct != 100 {
		t.Fatalf("cloud pct = %d, want 100 for missing text", m.CloudCoverPct)
	}
	if m.ResearchGrade {
		t.Fatal("unknown sky must not be research grade")
	}
}

func TestParseObserved(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in string
		ok bool
	}{
		{in: "2023-09-15T22:30:00Z", ok: true},
		{in: "2023-09-15 22:30:00", ok: true},
		{in: "2023-09-15T22:30", ok: true},
		{in: "2023-09-15 22:30", ok: true},
		{in: "2023-09-15", ok: true},
		{in: "9/15/2023 22:30", ok: true},
		{in: "", ok: false},
		{in: "someday", ok: false},
		{in: "15.09.2023", ok: false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			if _, ok := parseObserved(tc.in); ok != tc.ok {
				t.Fatalf("parseObserved(%q) ok=%t, want %t", tc.in, ok, tc.ok)
			}
		})
	}
}

func TestNewJobID(t *testing.T) {
	t.Parallel()

	id := newJobID()
	if len(id) != 6 {
		t.Fatalf("job id %q length = %d, want 6", id, len(id))
	}
}
