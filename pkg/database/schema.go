package database

import (
	"fmt"
	"strings"
)

// InitSchema creates the measurement and hotspot tables synchronously so
// the app can accept traffic immediately after startup.  Each engine gets
// its own DDL because primary-key defaults differ; the column sets are
// identical.
//
// The unique index doubles as an insert-time dedupe target: two readings
// from the same spot, instant and value are the same observation no matter
// which source file carried them.
func (db *Database) InitSchema(cfg Config) error {
	var schema string

	switch normalizeDBType(cfg.DBType) {
	case "pgx":
		schema = `
CREATE TABLE IF NOT EXISTS measurements (
  id                 BIGSERIAL PRIMARY KEY,
  lat                DOUBLE PRECISION,
  lon                DOUBLE PRECISION,
  elevation          DOUBLE PRECISION,
  observed_at        BIGINT,
  sqm                DOUBLE PRECISION,
  limiting_magnitude DOUBLE PRECISION,
  constellation      TEXT,
  comment            TEXT,
  sensor_serial      TEXT,
  cloud_cover_pct    INTEGER,
  moon_illumination  DOUBLE PRECISION,
  research_grade     INTEGER,
  quality_score      INTEGER,
  CONSTRAINT measurements_unique UNIQUE (lat, lon, observed_at, sqm)
);

CREATE INDEX IF NOT EXISTS idx_measurements_bounds
  ON measurements (lat, lon);
CREATE INDEX IF NOT EXISTS idx_measurements_observed
  ON measurements (observed_at);

CREATE TABLE IF NOT EXISTS hotspot_grid (
  cell_id       TEXT PRIMARY KEY,
  lat           DOUBLE PRECISION,
  lon           DOUBLE PRECISION,
  radiance_base DOUBLE PRECISION,
  radiance_now  DOUBLE PRECISION,
  radiance_diff DOUBLE PRECISION,
  risk_level    TEXT
);
CREATE INDEX IF NOT EXISTS idx_hotspot_grid_bounds
  ON hotspot_grid (lat, lon);
`

	case "sqlite", "chai":
		schema = `
CREATE TABLE IF NOT EXISTS measurements (
  id                 INTEGER PRIMARY KEY,
  lat                REAL,
  lon                REAL,
  elevation          REAL,
  observed_at        BIGINT,
  sqm                REAL,
  limiting_magnitude REAL,
  constellation      TEXT,
  comment            TEXT,
  sensor_serial      TEXT,
  cloud_cover_pct    INTEGER,
  moon_illumination  REAL,
  research_grade     INTEGER,
  quality_score      INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_measurements_unique
  ON measurements (lat, lon, observed_at, sqm);
CREATE INDEX IF NOT EXISTS idx_measurements_bounds
  ON measurements (lat, lon);
CREATE INDEX IF NOT EXISTS idx_measurements_observed
  ON measurements (observed_at);

CREATE TABLE IF NOT EXISTS hotspot_grid (
  cell_id       TEXT PRIMARY KEY,
  lat           REAL,
  lon           REAL,
  radiance_base REAL,
  radiance_now  REAL,
  radiance_diff REAL,
  risk_level    TEXT
);
CREATE INDEX IF NOT EXISTS idx_hotspot_grid_bounds
  ON hotspot_grid (lat, lon);
`

	case "duckdb":
		// DuckDB has no SERIAL; a sequence plus DEFAULT nextval keeps the
		// insert statements identical to the other engines.
		schema = `
CREATE SEQUENCE IF NOT EXISTS measurements_id_seq START 1;
CREATE TABLE IF NOT EXISTS measurements (
  id                 BIGINT PRIMARY KEY DEFAULT nextval('measurements_id_seq'),
  lat                DOUBLE,
  lon                DOUBLE,
  elevation          DOUBLE,
  observed_at        BIGINT,
  sqm                DOUBLE,
  limiting_magnitude DOUBLE,
  constellation      TEXT,
  comment            TEXT,
  sensor_serial      TEXT,
  cloud_cover_pct    INTEGER,
  moon_illumination  DOUBLE,
  research_grade     INTEGER,
  quality_score      INTEGER,
  CONSTRAINT measurements_unique UNIQUE (lat, lon, observed_at, sqm)
);
CREATE TABLE IF NOT EXISTS hotspot_grid (
  cell_id       TEXT PRIMARY KEY,
  lat           DOUBLE,
  lon           DOUBLE,
  radiance_base DOUBLE,
  radiance_now  DOUBLE,
  radiance_diff DOUBLE,
  risk_level    TEXT
);
`

	default:
		return fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}

	for _, stmt := range splitStatements(schema) {
		if _, err := db.DB.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// splitStatements breaks a DDL blob into single statements because some
// drivers refuse multi-statement Exec calls.
func splitStatements(blob string) []string {
	parts := strings.Split(blob, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
