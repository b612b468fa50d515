package database

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"nocturna-sky-map/pkg/geo"
)

// Measurement is one georeferenced sky-brightness reading together with
// the quality attributes derived at ingestion time.  Rows are immutable
// once stored; the only write paths are bulk ingestion and full reset.
type Measurement struct {
	ID                int64   `json:"id"`
	Lat               float64 `json:"lat"`
	Lon               float64 `json:"lon"`
	Elevation         float64 `json:"elevation,omitempty"`
	ObservedAt        int64   `json:"observedAt"` // unix seconds, UTC
	SQM               float64 `json:"sqm"`        // magnitudes per square arcsecond
	LimitingMagnitude float64 `json:"limitingMagnitude,omitempty"`
	Constellation     string  `json:"constellation,omitempty"`
	Comment           string  `json:"comment,omitempty"`
	SensorSerial      string  `json:"sensorSerial,omitempty"`
	CloudCoverPct     int     `json:"cloudCoverPct"`
	MoonIllumination  float64 `json:"moonIllumination"`
	ResearchGrade     bool    `json:"researchGrade"`
	QualityScore      int     `json:"qualityScore"`
}

const measurementColumns = `lat, lon,
       COALESCE(elevation, 0) AS elevation,
       observed_at, sqm,
       COALESCE(limiting_magnitude, 0) AS limiting_magnitude,
       COALESCE(constellation, '') AS constellation,
       COALESCE(comment, '') AS comment,
       COALESCE(sensor_serial, '') AS sensor_serial,
       cloud_cover_pct, moon_illumination, research_grade, quality_score`

// scanMeasurement reads one row in measurementColumns order (id first).
func scanMeasurement(rows *sql.Rows) (Measurement, error) {
	var m Measurement
	var grade int
	if err := rows.Scan(&m.ID, &m.Lat, &m.Lon, &m.Elevation, &m.ObservedAt, &m.SQM,
		&m.LimitingMagnitude, &m.Constellation, &m.Comment, &m.SensorSerial,
		&m.CloudCoverPct, &m.MoonIllumination, &grade, &m.QualityScore); err != nil {
		return Measurement{}, err
	}
	m.ResearchGrade = grade != 0
	return m, nil
}

// IsEmpty reports whether the store holds no measurements.  Ingestion uses
// it as its idempotency guard: a non-empty store means the dataset was
// already loaded and the whole batch is skipped.
func (db *Database) IsEmpty(ctx context.Context) (bool, error) {
	var count sql.NullInt64
	row := db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM measurements`)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("count measurements: %w", err)
	}
	return !count.Valid || count.Int64 == 0, nil
}

// Reset clears the table so a fresh dataset can be ingested.  There is no
// row-level delete API on purpose; the store is re-seeded wholesale or not
// at all.
func (db *Database) Reset(ctx context.Context) error {
	if _, err := db.DB.ExecContext(ctx, `DELETE FROM measurements`); err != nil {
		return fmt.Errorf("reset measurements: %w", err)
	}
	return nil
}

// InsertMeasurementsBulk inserts measurements in multi-row VALUES batches
// inside one transaction.  Duplicate observations (same position, instant
// and reading) are dropped by the unique index; the per-batch log line
// keeps the inserted-vs-skipped split visible so a partial batch never
// disappears silently.
func (db *Database) InsertMeasurementsBulk(ctx context.Context, measurements []Measurement, batchSize int, logf func(string, ...any)) (inserted int64, err error) {
	if len(measurements) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}

	// PostgreSQL takes the COPY fast path; the multi-VALUES transaction
	// below serves the embedded engines.
	if db.Driver == "pgx" {
		for start := 0; start < len(measurements); start += batchSize {
			end := start + batchSize
			if end > len(measurements) {
				end = len(measurements)
			}
			affected, copyErr := db.insertMeasurementsPostgresCopy(ctx, measurements[start:end])
			if copyErr != nil {
				return inserted, fmt.Errorf("copy batch %d..%d: %w", start, end, copyErr)
			}
			if skipped := int64(end-start) - affected; skipped > 0 {
				logf("measurement batch: inserted %d, skipped %d duplicates", affected, skipped)
			}
			inserted += affected
		}
		return inserted, nil
	}

	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// SQLite-like engines get explicit IDs from the shared generator so the
	// primary key stays dense without AUTOINCREMENT; pgx and duckdb rely on
	// their serial/sequence defaults.
	explicitIDs := db.Driver == "sqlite" || db.Driver == "chai"

	for start := 0; start < len(measurements); start += batchSize {
		end := start + batchSize
		if end > len(measurements) {
			end = len(measurements)
		}
		batch := measurements[start:end]

		affected, batchErr := db.insertBatch(ctx, tx, batch, explicitIDs)
		if batchErr != nil {
			err = fmt.Errorf("insert batch %d..%d: %w", start, end, batchErr)
			return inserted, err
		}
		if skipped := int64(len(batch)) - affected; skipped > 0 {
			logf("measurement batch: inserted %d, skipped %d duplicates", affected, skipped)
		}
		inserted += affected
	}

	if err = tx.Commit(); err != nil {
		return inserted, fmt.Errorf("commit insert tx: %w", err)
	}
	return inserted, nil
}

func (db *Database) insertBatch(ctx context.Context, tx *sql.Tx, batch []Measurement, explicitIDs bool) (int64, error) {
	next := newPlaceholderGenerator(db.Driver)
	var sb strings.Builder
	args := make([]any, 0, len(batch)*14)

	if explicitIDs {
		sb.WriteString(`INSERT INTO measurements (id, lat, lon, elevation, observed_at, sqm, limiting_magnitude, constellation, comment, sensor_serial, cloud_cover_pct, moon_illumination, research_grade, quality_score) VALUES `)
	} else {
		sb.WriteString(`INSERT INTO measurements (lat, lon, elevation, observed_at, sqm, limiting_magnitude, constellation, comment, sensor_serial, cloud_cover_pct, moon_illumination, research_grade, quality_score) VALUES `)
	}

	for i, m := range batch {
		if i > 0 {
			sb.WriteString(",")
		}
		fields := 13
		if explicitIDs {
			fields = 14
			args = append(args, db.NextID())
		}
		sb.WriteString("(")
		for f := 0; f < fields; f++ {
			if f > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(next())
		}
		sb.WriteString(")")

		grade := 0
		if m.ResearchGrade {
			grade = 1
		}
		args = append(args, m.Lat, m.Lon, m.Elevation, m.ObservedAt, m.SQM,
			m.LimitingMagnitude, m.Constellation, m.Comment, m.SensorSerial,
			m.CloudCoverPct, m.MoonIllumination, grade, m.QualityScore)
	}

	sb.WriteString(" ON CONFLICT DO NOTHING")

	res, err := tx.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		// Some engines cannot report affected rows for multi-VALUES
		// inserts; assume the whole batch landed rather than failing.
		return int64(len(batch)), nil
	}
	return affected, nil
}

// lonWindow renders the longitude prefilter for a [minLon, maxLon] window
// that may extend past the antimeridian.  Stored longitudes live in
// [-180, 180], so a crossing window becomes a disjunction of the two
// ranges on either side of the dateline; a window covering the whole turn
// matches everything and drops the filter.
func lonWindow(next func() string, minLon, maxLon float64) (string, []any) {
	if maxLon-minLon >= 360 {
		return "", nil
	}
	lo := geo.WrapLon(minLon)
	hi := geo.WrapLon(maxLon)
	if lo <= hi {
		return fmt.Sprintf("lon >= %s AND lon <= %s", next(), next()), []any{lo, hi}
	}
	return fmt.Sprintf("(lon >= %s OR lon <= %s)", next(), next()), []any{lo, hi}
}

// StreamContained streams measurements whose position lies inside the
// polygon, boundary included.  The SQL layer only prefilters on the
// bounding box; the exact ray-casting test runs in Go so every driver
// answers identically.  Rows arrive over a channel: handlers and reducers
// consume progressively and cancel via ctx.
func (db *Database) StreamContained(ctx context.Context, polygon geo.Polygon, researchOnly bool) (<-chan Measurement, <-chan error) {
	out := make(chan Measurement)
	errs := make(chan error, 1)

	if err := polygon.Validate(); err != nil {
		close(out)
		errs <- err
		close(errs)
		return out, errs
	}

	go func() {
		defer close(out)
		defer close(errs)

		minLat, minLon, maxLat, maxLon := polygon.Bounds()
		next := newPlaceholderGenerator(db.Driver)

		conditions := []string{
			fmt.Sprintf("lat >= %s", next()),
			fmt.Sprintf("lat <= %s", next()),
		}
		args := []any{minLat, maxLat}
		if cond, condArgs := lonWindow(next, minLon, maxLon); cond != "" {
			conditions = append(conditions, cond)
			args = append(args, condArgs...)
		}
		if researchOnly {
			conditions = append(conditions, fmt.Sprintf("research_grade = %s", next()))
			args = append(args, 1)
		}

		query := fmt.Sprintf(`SELECT id, %s
FROM measurements
WHERE %s
ORDER BY id;`, measurementColumns, strings.Join(conditions, " AND "))

		rows, err := db.DB.QueryContext(ctx, query, args...)
		if err != nil {
			errs <- fmt.Errorf("query contained: %w", err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanMeasurement(rows)
			if err != nil {
				errs <- fmt.Errorf("scan measurement: %w", err)
				return
			}
			if !polygon.Contains(geo.Point{Lat: m.Lat, Lon: m.Lon}) {
				continue
			}
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case out <- m:
			}
		}

		if err := rows.Err(); err != nil {
			errs <- fmt.Errorf("iterate measurements: %w", err)
			return
		}

		errs <- nil
	}()

	return out, errs
}

// QueryNear returns all measurements within radiusMeters great-circle
// distance of the center, ordered ascending by observation time.  The SQL
// bounding box over-approximates the circle; the haversine test trims the
// corners.
func (db *Database) QueryNear(ctx context.Context, center geo.Point, radiusMeters float64) ([]Measurement, error) {
	if !center.Valid() {
		return nil, fmt.Errorf("query near: invalid center lat=%v lon=%v", center.Lat, center.Lon)
	}
	if radiusMeters <= 0 {
		return nil, fmt.Errorf("query near: radius must be positive")
	}

	// Degrees of latitude are ~111.32 km everywhere; longitude shrinks by
	// cos(lat), guarded near the poles.
	dLat := radiusMeters / 111320.0
	cosLat := math.Cos(center.Lat * math.Pi / 180)
	if math.Abs(cosLat) < 1e-6 {
		cosLat = 1e-6
	}
	dLon := dLat / cosLat

	next := newPlaceholderGenerator(db.Driver)
	conditions := []string{
		fmt.Sprintf("lat >= %s", next()),
		fmt.Sprintf("lat <= %s", next()),
	}
	args := []any{center.Lat - dLat, center.Lat + dLat}
	if cond, condArgs := lonWindow(next, center.Lon-dLon, center.Lon+dLon); cond != "" {
		conditions = append(conditions, cond)
		args = append(args, condArgs...)
	}

	query := fmt.Sprintf(`SELECT id, %s
FROM measurements
WHERE %s
ORDER BY observed_at;`, measurementColumns, strings.Join(conditions, " AND "))

	rows, err := db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query near: %w", err)
	}
	defer rows.Close()

	var result []Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		if geo.HaversineMeters(center, geo.Point{Lat: m.Lat, Lon: m.Lon}) > radiusMeters {
			continue
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate measurements: %w", err)
	}
	return result, nil
}
