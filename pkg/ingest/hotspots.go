package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"

	"nocturna-sky-map/pkg/database"
	"nocturna-sky-map/pkg/geo"
	"nocturna-sky-map/pkg/logger"
)

// GrowthThreshold is the minimum year-over-year radiance increase for a
// grid cell to count as a hotspot.  Cells below it are background noise in
// the nightly-lights product and are dropped at the door.
const GrowthThreshold = 5.0

// hotspotRow mirrors the grid export of the satellite pipeline: one cell
// per row with baseline and current radiance.  Strings throughout for the
// same reason as csvRow: junk in one cell costs one row.
type hotspotRow struct {
	CellID       string `csv:"cell_id,omitempty"`
	Latitude     string `csv:"latitude"`
	Longitude    string `csv:"longitude"`
	RadianceBase string `csv:"radiance_base"`
	RadianceNow  string `csv:"radiance_now"`
}

// RunHotspots ingests the satellite trend grid from r.  Like Run, the
// table's emptiness is the idempotency guard; re-running against a seeded
// grid is a no-op.
func RunHotspots(ctx context.Context, db *database.Database, r io.Reader) (Summary, error) {
	empty, err := db.HotspotsEmpty(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("hotspot idempotency check: %w", err)
	}
	if !empty {
		logger.Append("", "hotspot ingest skipped: grid already seeded")
		return Summary{}, nil
	}

	jobID := newJobID()
	logger.Begin(jobID)

	summary, cells, err := decodeHotspots(jobID, r)
	if err != nil {
		logger.FlushError(jobID, err)
		return summary, err
	}

	inserted, err := db.InsertHotspotsBulk(ctx, cells, 500)
	if err != nil {
		logger.FlushError(jobID, fmt.Errorf("hotspot bulk insert: %w", err))
		return summary, fmt.Errorf("hotspot bulk insert: %w", err)
	}

	summary.Skipped += summary.Inserted - int(inserted)
	summary.Inserted = int(inserted)

	logger.Success(jobID, fmt.Sprintf("ingested %d hotspot cells, skipped %d", summary.Inserted, summary.Skipped))
	return summary, nil
}

func decodeHotspots(jobID string, r io.Reader) (Summary, []database.Hotspot, error) {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = -1
	dec, err := csvutil.NewDecoder(csvReader)
	if err != nil {
		return Summary{}, nil, fmt.Errorf("create csv decoder: %w", err)
	}

	var (
		summary Summary
		cells   []database.Hotspot
		line    int
	)

	for {
		line++
		var row hotspotRow
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			summary.Skipped++
			logger.Append(jobID, fmt.Sprintf("hotspot row %d: csv decode: %v", line, err))
			continue
		}

		cell, reason := classifyHotspot(row)
		if reason != "" {
			summary.Skipped++
			logger.Append(jobID, fmt.Sprintf("hotspot row %d: %s", line, reason))
			continue
		}
		cells = append(cells, cell)
		summary.Inserted++
	}

	return summary, cells, nil
}

// classifyHotspot validates one grid cell and applies the growth
// threshold.  The returned reason is empty for cells worth storing.
func classifyHotspot(row hotspotRow) (database.Hotspot, string) {
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(row.Latitude), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(row.Longitude), 64)
	if errLat != nil || errLon != nil {
		return database.Hotspot{}, "missing or non-numeric coordinates"
	}
	if !(geo.Point{Lat: lat, Lon: lon}).Valid() {
		return database.Hotspot{}, fmt.Sprintf("coordinates out of range: lat=%v lon=%v", lat, lon)
	}

	base, errBase := strconv.ParseFloat(strings.TrimSpace(row.RadianceBase), 64)
	now, errNow := strconv.ParseFloat(strings.TrimSpace(row.RadianceNow), 64)
	if errBase != nil || errNow != nil {
		return database.Hotspot{}, "missing or non-numeric radiance"
	}

	diff := now - base
	if diff <= GrowthThreshold {
		return database.Hotspot{}, fmt.Sprintf("radiance growth %.2f below threshold", diff)
	}

	cellID := strings.TrimSpace(row.CellID)
	if cellID == "" {
		cellID = fmt.Sprintf("cell_%.2f_%.2f", lat, lon)
	}

	return database.Hotspot{
		CellID:       cellID,
		Lat:          lat,
		Lon:          lon,
		RadianceBase: base,
		RadianceNow:  now,
		RadianceDiff: diff,
		RiskLevel:    "Critical",
	}, ""
}
