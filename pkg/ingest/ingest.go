// Package ingest loads the source measurement dataset into the store.
// Ingestion runs once at startup: rows are decoded from CSV, validated,
// classified by the quality package and bulk-inserted.  Bad rows are
// skipped and counted, never fatal: a single garbled date in a
// half-million-row community export must not take the service down.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"nocturna-sky-map/pkg/database"
	"nocturna-sky-map/pkg/geo"
	"nocturna-sky-map/pkg/logger"
	"nocturna-sky-map/pkg/quality"
)

// SQM readings outside this window are sensor error or daylight noise and
// are discarded at the door.
const (
	MinSQM = 14.0
	MaxSQM = 24.0
)

// Summary reports what one ingestion run did.  Skipped counts every
// rejected row regardless of reason; the buffered job log carries the
// per-row detail.
type Summary struct {
	Inserted int
	Skipped  int
}

// csvRow mirrors the published community export column layout.  Every
// field is a string on purpose: numeric or date junk in a single cell has
// to surface as one skipped row, not a decoder abort.
type csvRow struct {
	Latitude          string `csv:"latitude"`
	Longitude         string `csv:"longitude"`
	Elevation         string `csv:"elevation,omitempty"`
	ObservedAt        string `csv:"observed_at"`
	SQM               string `csv:"sqm"`
	LimitingMagnitude string `csv:"limiting_magnitude,omitempty"`
	Constellation     string `csv:"constellation,omitempty"`
	Comment           string `csv:"comment,omitempty"`
	CloudCover        string `csv:"cloud_cover,omitempty"`
	SensorSerial      string `csv:"sensor_serial,omitempty"`
}

// dateLayouts covers the formats observed across the community exports.
// The first layout that parses wins; everything else means "skip the row".
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"1/2/2006 15:04",
}

// Run ingests the CSV dataset from r.  The store's emptiness is the
// idempotency guard: when rows already exist the run is a no-op, so a
// restart never doubles the dataset and there are no merge semantics to
// reason about.
func Run(ctx context.Context, db *database.Database, r io.Reader) (Summary, error) {
	empty, err := db.IsEmpty(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("ingest idempotency check: %w", err)
	}
	if !empty {
		logger.Append("", "ingest skipped: store already seeded")
		return Summary{}, nil
	}

	jobID := newJobID()
	logger.Begin(jobID)

	summary, rows, err := decodeAndClassify(jobID, r)
	if err != nil {
		logger.FlushError(jobID, err)
		return summary, err
	}

	inserted, err := db.InsertMeasurementsBulk(ctx, rows, 500, func(format string, args ...any) {
		logger.Append(jobID, fmt.Sprintf("[%-8s][Ingest] %s", jobID, fmt.Sprintf(format, args...)))
	})
	if err != nil {
		logger.FlushError(jobID, fmt.Errorf("bulk insert: %w", err))
		return summary, fmt.Errorf("bulk insert: %w", err)
	}

	// The unique index may have swallowed in-file duplicates; fold the
	// difference into the skip count so Inserted+Skipped always equals the
	// number of data rows seen.
	summary.Skipped += summary.Inserted - int(inserted)
	summary.Inserted = int(inserted)

	logger.Success(jobID, fmt.Sprintf("ingested %d rows, skipped %d", summary.Inserted, summary.Skipped))
	return summary, nil
}

// decodeAndClassify walks the CSV one record at a time so a malformed row
// costs one skip, not the batch.
func decodeAndClassify(jobID string, r io.Reader) (Summary, []database.Measurement, error) {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = -1 // ragged community exports happen
	dec, err := csvutil.NewDecoder(csvReader)
	if err != nil {
		return Summary{}, nil, fmt.Errorf("create csv decoder: %w", err)
	}

	var (
		summary Summary
		rows    []database.Measurement
		line    int
	)

	for {
		line++
		var row csvRow
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Structural CSV damage on one line; count and move on.
			summary.Skipped++
			logger.Append(jobID, fmt.Sprintf("row %d: csv decode: %v", line, err))
			continue
		}

		m, reason := classifyRow(row)
		if reason != "" {
			summary.Skipped++
			logger.Append(jobID, fmt.Sprintf("row %d: %s", line, reason))
			continue
		}
		rows = append(rows, m)
		summary.Inserted++
	}

	return summary, rows, nil
}

// classifyRow validates one decoded row and derives its quality fields.
// The returned reason is empty for valid rows.
func classifyRow(row csvRow) (database.Measurement, string) {
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(row.Latitude), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(row.Longitude), 64)
	if errLat != nil || errLon != nil {
		return database.Measurement{}, "missing or non-numeric coordinates"
	}
	if !(geo.Point{Lat: lat, Lon: lon}).Valid() {
		return database.Measurement{}, fmt.Sprintf("coordinates out of range: lat=%v lon=%v", lat, lon)
	}

	observedAt, ok := parseObserved(row.ObservedAt)
	if !ok {
		return database.Measurement{}, fmt.Sprintf("unparsable date %q", row.ObservedAt)
	}

	sqm, err := strconv.ParseFloat(strings.TrimSpace(row.SQM), 64)
	if err != nil {
		return database.Measurement{}, fmt.Sprintf("non-numeric sqm %q", row.SQM)
	}
	if sqm < MinSQM || sqm > MaxSQM {
		return database.Measurement{}, fmt.Sprintf("sqm %v outside [%v, %v]", sqm, MinSQM, MaxSQM)
	}

	// Optional numerics default to zero; they carry no quality weight.
	elevation, _ := strconv.ParseFloat(strings.TrimSpace(row.Elevation), 64)
	limitingMag, _ := strconv.ParseFloat(strings.TrimSpace(row.LimitingMagnitude), 64)

	serial := strings.TrimSpace(row.SensorSerial)
	cloudPct := quality.ParseCloudCover(row.CloudCover)
	moon := quality.MoonIllumination(observedAt)

	return database.Measurement{
		Lat:               lat,
		Lon:               lon,
		Elevation:         elevation,
		ObservedAt:        observedAt.Unix(),
		SQM:               sqm,
		LimitingMagnitude: limitingMag,
		Constellation:     strings.TrimSpace(row.Constellation),
		Comment:           strings.TrimSpace(row.Comment),
		SensorSerial:      serial,
		CloudCoverPct:     cloudPct,
		MoonIllumination:  moon,
		ResearchGrade:     quality.IsResearchGrade(cloudPct, moon, sqm),
		QualityScore:      quality.Score(cloudPct, moon, serial != ""),
	}, ""
}

func parseObserved(s string) (time.Time, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// newJobID generates a short base62 identifier for the ingestion job so
// its buffered log lines can be told apart from other output.
func newJobID() string {
	const base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	const maxLength = 6

	timestamp := uint64(time.Now().UnixNano() / 1e6)
	encoded := ""
	base := uint64(len(base62Chars))

	for timestamp > 0 && len(encoded) < maxLength {
		remainder := timestamp % base
		encoded = string(base62Chars[remainder]) + encoded
		timestamp = timestamp / base
	}
	for len(encoded) < maxLength {
		encoded += string(base62Chars[rand.Intn(len(base62Chars))])
	}
	return encoded
}
