package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"nocturna-sky-map/pkg/geo"
)

// HotspotCellDegrees is the edge length of one trend-grid cell.  It
// matches the resolution of the nightly-lights raster the satellite
// pipeline exports, so cell identity survives re-ingestion.
const HotspotCellDegrees = 0.01

// Hotspot is one grid cell where satellite radiance grew year over year.
// Lat and Lon name the cell's northwest corner the way the source raster
// geotransform does; Center below yields the point used for containment.
type Hotspot struct {
	CellID       string  `json:"cellId"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	RadianceBase float64 `json:"radianceBase"`
	RadianceNow  float64 `json:"radianceNow"`
	RadianceDiff float64 `json:"radianceDiff"`
	RiskLevel    string  `json:"riskLevel"`
}

// Center returns the midpoint of the cell.
func (h Hotspot) Center() geo.Point {
	return geo.Point{
		Lat: h.Lat - HotspotCellDegrees/2,
		Lon: geo.WrapLon(h.Lon + HotspotCellDegrees/2),
	}
}

// HotspotsEmpty reports whether the trend grid holds no cells.  Like the
// measurement store, emptiness is the ingestion idempotency guard.
func (db *Database) HotspotsEmpty(ctx context.Context) (bool, error) {
	var count sql.NullInt64
	row := db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM hotspot_grid`)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("count hotspots: %w", err)
	}
	return !count.Valid || count.Int64 == 0, nil
}

// InsertHotspotsBulk inserts trend cells in multi-row VALUES batches inside
// one transaction.  The cell id primary key drops duplicates the same way
// the measurement unique index does.
func (db *Database) InsertHotspotsBulk(ctx context.Context, cells []Hotspot, batchSize int) (inserted int64, err error) {
	if len(cells) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 500
	}

	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin hotspot tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for start := 0; start < len(cells); start += batchSize {
		end := start + batchSize
		if end > len(cells) {
			end = len(cells)
		}
		batch := cells[start:end]

		next := newPlaceholderGenerator(db.Driver)
		var sb strings.Builder
		sb.WriteString(`INSERT INTO hotspot_grid (cell_id, lat, lon, radiance_base, radiance_now, radiance_diff, risk_level) VALUES `)
		args := make([]any, 0, len(batch)*7)
		for i, c := range batch {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("(")
			for f := 0; f < 7; f++ {
				if f > 0 {
					sb.WriteString(",")
				}
				sb.WriteString(next())
			}
			sb.WriteString(")")
			args = append(args, c.CellID, c.Lat, c.Lon, c.RadianceBase, c.RadianceNow, c.RadianceDiff, c.RiskLevel)
		}
		sb.WriteString(" ON CONFLICT DO NOTHING")

		res, batchErr := tx.ExecContext(ctx, sb.String(), args...)
		if batchErr != nil {
			err = fmt.Errorf("insert hotspot batch %d..%d: %w", start, end, batchErr)
			return inserted, err
		}
		affected, affErr := res.RowsAffected()
		if affErr != nil {
			affected = int64(len(batch))
		}
		inserted += affected
	}

	if err = tx.Commit(); err != nil {
		return inserted, fmt.Errorf("commit hotspot tx: %w", err)
	}
	return inserted, nil
}

// QueryHotspotsContained returns the trend cells whose center lies inside
// the polygon, brightest growth first.  The grid is small (the pipeline
// caps cells per city), so a slice beats a stream here.
func (db *Database) QueryHotspotsContained(ctx context.Context, polygon geo.Polygon) ([]Hotspot, error) {
	if err := polygon.Validate(); err != nil {
		return nil, err
	}

	minLat, minLon, maxLat, maxLon := polygon.Bounds()
	next := newPlaceholderGenerator(db.Driver)

	// The prefilter window grows by one cell so corner cells whose
	// northwest anchor sits just outside the box still get their center
	// tested.
	conditions := []string{
		fmt.Sprintf("lat >= %s", next()),
		fmt.Sprintf("lat <= %s", next()),
	}
	args := []any{minLat - HotspotCellDegrees, maxLat + HotspotCellDegrees}
	if cond, condArgs := lonWindow(next, minLon-HotspotCellDegrees, maxLon+HotspotCellDegrees); cond != "" {
		conditions = append(conditions, cond)
		args = append(args, condArgs...)
	}

	query := fmt.Sprintf(`SELECT cell_id, lat, lon, radiance_base, radiance_now, radiance_diff, risk_level
FROM hotspot_grid
WHERE %s
ORDER BY radiance_diff DESC, cell_id;`, strings.Join(conditions, " AND "))

	rows, err := db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query hotspots: %w", err)
	}
	defer rows.Close()

	var result []Hotspot
	for rows.Next() {
		var h Hotspot
		if err := rows.Scan(&h.CellID, &h.Lat, &h.Lon, &h.RadianceBase, &h.RadianceNow, &h.RadianceDiff, &h.RiskLevel); err != nil {
			return nil, fmt.Errorf("scan hotspot: %w", err)
		}
		if !polygon.Contains(h.Center()) {
			continue
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hotspots: %w", err)
	}
	return result, nil
}
