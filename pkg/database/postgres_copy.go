package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// insertMeasurementsPostgresCopy streams a chunk of measurements into
// PostgreSQL using COPY so large community exports load fast.  COPY cannot
// express ON CONFLICT, so the rows land in a temporary table first and a
// final INSERT ... SELECT enforces the dedupe constraint of the main
// table.  The helper stays connection-local; importing the stdlib adapter
// here is also what registers the "pgx" driver for sql.Open.
func (db *Database) insertMeasurementsPostgresCopy(ctx context.Context, chunk []Measurement) (int64, error) {
	if len(chunk) == 0 {
		return 0, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil || db.DB == nil {
		return 0, fmt.Errorf("database unavailable")
	}

	conn, err := db.DB.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("open postgres connection: %w", err)
	}
	defer conn.Close()

	// Timestamp suffix keeps names unique per call while staying readable
	// in pg_stat_activity.  Temporary scope keeps the table invisible to
	// other connections; no ON COMMIT DROP so it survives autocommit long
	// enough for COPY plus the merge.
	tempTable := fmt.Sprintf("temp_measurements_%d", time.Now().UnixNano())
	createTemp := fmt.Sprintf(`CREATE TEMP TABLE %s (
lat DOUBLE PRECISION,
lon DOUBLE PRECISION,
elevation DOUBLE PRECISION,
observed_at BIGINT,
sqm DOUBLE PRECISION,
limiting_magnitude DOUBLE PRECISION,
constellation TEXT,
comment TEXT,
sensor_serial TEXT,
cloud_cover_pct INTEGER,
moon_illumination DOUBLE PRECISION,
research_grade INTEGER,
quality_score INTEGER
)`, tempTable)
	if _, err := conn.ExecContext(ctx, createTemp); err != nil {
		return 0, fmt.Errorf("create temp table: %w", err)
	}

	// Cleanup runs on a detached context so a cancelled caller cannot leave
	// the temp table behind for the lifetime of the pooled connection.
	dropCtx, dropCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer dropCancel()
	defer conn.ExecContext(dropCtx, fmt.Sprintf("DROP TABLE IF EXISTS %s", tempTable))

	rows := make([][]interface{}, 0, len(chunk))
	for _, m := range chunk {
		grade := 0
		if m.ResearchGrade {
			grade = 1
		}
		rows = append(rows, []interface{}{
			m.Lat, m.Lon, m.Elevation, m.ObservedAt, m.SQM,
			m.LimitingMagnitude, m.Constellation, m.Comment, m.SensorSerial,
			m.CloudCoverPct, m.MoonIllumination, grade, m.QualityScore,
		})
	}

	copyErr := conn.Raw(func(driverConn any) error {
		direct, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected postgres driver %T", driverConn)
		}
		_, err := direct.Conn().CopyFrom(
			ctx,
			pgx.Identifier{tempTable},
			[]string{"lat", "lon", "elevation", "observed_at", "sqm", "limiting_magnitude", "constellation", "comment", "sensor_serial", "cloud_cover_pct", "moon_illumination", "research_grade", "quality_score"},
			pgx.CopyFromRows(rows),
		)
		return err
	})
	if copyErr != nil {
		return 0, fmt.Errorf("copy measurements into temp table: %w", copyErr)
	}

	insertFromTemp := fmt.Sprintf(`INSERT INTO measurements
(lat, lon, elevation, observed_at, sqm, limiting_magnitude, constellation, comment, sensor_serial, cloud_cover_pct, moon_illumination, research_grade, quality_score)
SELECT lat, lon, elevation, observed_at, sqm, limiting_magnitude, constellation, comment, sensor_serial, cloud_cover_pct, moon_illumination, research_grade, quality_score FROM %s
ON CONFLICT ON CONSTRAINT measurements_unique DO NOTHING`, tempTable)
	res, err := conn.ExecContext(ctx, insertFromTemp)
	if err != nil {
		return 0, fmt.Errorf("merge temp measurements: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return int64(len(chunk)), nil
	}
	return affected, nil
}
