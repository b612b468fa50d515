// Package regionstats reduces stored measurements over a geographic
// selection into the summary numbers the map UI displays: descriptive
// brightness statistics for a polygon and a time-ordered history around a
// point.  Everything here is read-only; the store is the single owner of
// the rows.
package regionstats

import (
	"context"
	"fmt"
	"math"

	"nocturna-sky-map/pkg/database"
	"nocturna-sky-map/pkg/geo"
)

// HistoryRadiusMeters is the fixed search radius for point history.  The
// original tool hardcodes 5 km with no configuration path; changing it
// would silently alter reported trends, so it stays a named constant
// rather than a knob.
const HistoryRadiusMeters = 5000.0

// Service answers aggregation queries against the measurement store.
type Service struct {
	DB *database.Database
}

// NewService wires the aggregator to its store handle.
func NewService(db *database.Database) *Service {
	return &Service{DB: db}
}

// Result carries descriptive statistics for one polygon selection.
// HasData distinguishes "no sensors here" from a genuine reading of zero:
// when it is false the numeric fields are meaningless and must not be
// rendered as values.
type Result struct {
	HasData      bool    `json:"hasData"`
	ResearchOnly bool    `json:"researchOnly"`
	SampleSize   int     `json:"sampleSize"`
	MeanSQM      float64 `json:"meanSqm"`
	MinSQM       float64 `json:"minSqm"`
	MaxSQM       float64 `json:"maxSqm"`
	MeanQuality  int     `json:"meanQuality"`
}

// HistoryPoint is one (observation time, brightness) pair for trend
// rendering.
type HistoryPoint struct {
	Date int64   `json:"date"` // unix seconds, UTC
	SQM  float64 `json:"sqm"`
}

// Stats computes count, mean/min/max brightness and mean quality score
// over the measurements contained in the polygon.  With researchOnly set,
// only rows flagged research grade at ingestion count.  Zero matches is a
// valid outcome and yields a tagged empty result, never NaN or zeroes
// pretending to be readings.
func (s *Service) Stats(ctx context.Context, polygon geo.Polygon, researchOnly bool) (Result, error) {
	rows, errs := s.DB.StreamContained(ctx, polygon, researchOnly)

	var (
		count      int
		sumSQM     float64
		minSQM     = math.Inf(1)
		maxSQM     = math.Inf(-1)
		sumQuality int
	)

	for m := range rows {
		count++
		sumSQM += m.SQM
		minSQM = math.Min(minSQM, m.SQM)
		maxSQM = math.Max(maxSQM, m.SQM)
		sumQuality += m.QualityScore
	}
	if err := <-errs; err != nil {
		return Result{}, fmt.Errorf("region stats: %w", err)
	}

	if count == 0 {
		return Result{ResearchOnly: researchOnly}, nil
	}

	return Result{
		HasData:      true,
		ResearchOnly: researchOnly,
		SampleSize:   count,
		MeanSQM:      round2(sumSQM / float64(count)),
		MinSQM:       minSQM,
		MaxSQM:       maxSQM,
		MeanQuality:  int(math.Round(float64(sumQuality) / float64(count))),
	}, nil
}

// History returns every measurement within the fixed radius of the point,
// ascending by observation time.  Empty and single-element sequences are
// valid; callers decide when a trend is meaningful (two points minimum),
// the core never fabricates one.
func (s *Service) History(ctx context.Context, lat, lon float64) ([]HistoryPoint, error) {
	center := geo.Point{Lat: lat, Lon: lon}
	measurements, err := s.DB.QueryNear(ctx, center, HistoryRadiusMeters)
	if err != nil {
		return nil, fmt.Errorf("point history: %w", err)
	}

	points := make([]HistoryPoint, 0, len(measurements))
	for _, m := range measurements {
		points = append(points, HistoryPoint{Date: m.ObservedAt, SQM: m.SQM})
	}
	return points, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
