// Package energy converts a region's average sky brightness into an
// estimate of wasted upward light energy and its yearly cost.  This is an
// order-of-magnitude advocacy figure, not an energy audit: the point of
// the implementation is to reproduce the published conversion model
// exactly, constant for constant, so results stay comparable across
// tools.
package energy

import (
	"context"
	"fmt"
	"math"

	"nocturna-sky-map/pkg/geo"
	"nocturna-sky-map/pkg/regionstats"
)

// Model constants.  These are part of the published formula and must not
// be tuned per deployment.
const (
	// LuminanceCoefficient converts an SQM magnitude into cd/m² via
	// luminance = LuminanceCoefficient * 10^(-0.4 * sqm), the standard
	// empirical zero point.
	LuminanceCoefficient = 10.8e4

	// DarknessHoursPerNight is the assumed average hours of darkness.
	// Hardcoded in the original model with no per-region adjustment.
	DarknessHoursPerNight = 10.0

	nightsPerYear = 365.0

	// DefaultCostPerKwh is the fallback electricity price, currency per kWh.
	DefaultCostPerKwh = 0.15

	// DefaultUpwardLightRatio is the assumed fraction of artificial light
	// escaping upward and counted as waste.
	DefaultUpwardLightRatio = 0.20
)

// Options carries the two caller-tunable parameters.  Zero values select
// the published defaults.
type Options struct {
	CostPerKwh       float64
	UpwardLightRatio float64
}

func (o Options) withDefaults() Options {
	if o.CostPerKwh <= 0 {
		o.CostPerKwh = DefaultCostPerKwh
	}
	if o.UpwardLightRatio <= 0 {
		o.UpwardLightRatio = DefaultUpwardLightRatio
	}
	return o
}

// Estimate is the computed waste figure for one region.  HasData mirrors
// the aggregator: a region without sensor coverage produces a zero-valued
// estimate that is explicitly tagged, because reporting fabricated energy
// numbers for unmeasured regions would be worse than saying nothing.
type Estimate struct {
	HasData          bool    `json:"hasData"`
	MeanSQM          float64 `json:"meanSqm"`
	LuminanceCdM2    float64 `json:"luminanceCdM2"`
	AreaKm2          float64 `json:"areaKm2"`
	AnnualKWh        float64 `json:"annualKwh"`
	AnnualCost       float64 `json:"annualCost"`
	SampleSize       int     `json:"sampleSize"`
	CostPerKwh       float64 `json:"costPerKwh"`
	UpwardLightRatio float64 `json:"upwardLightRatio"`
}

// LuminanceScientific renders the luminance with two significant digits,
// the precision the advocacy reports quote.
func (e Estimate) LuminanceScientific() string {
	return fmt.Sprintf("%.1e", e.LuminanceCdM2)
}

// Estimator glues geodesic area, the regional aggregator and the physical
// conversion together.
type Estimator struct {
	Stats *regionstats.Service
}

// NewEstimator returns an Estimator over the given aggregator.
func NewEstimator(stats *regionstats.Service) *Estimator {
	return &Estimator{Stats: stats}
}

// Estimate computes the annual wasted energy and cost for the polygon.
// The mean brightness is taken over all quality grades: energy escapes
// upward regardless of how carefully anyone measured it.
func (e *Estimator) Estimate(ctx context.Context, polygon geo.Polygon, opts Options) (Estimate, error) {
	if err := polygon.Validate(); err != nil {
		return Estimate{}, err
	}
	opts = opts.withDefaults()
	areaM2 := polygon.AreaSquareMeters()

	stats, err := e.Stats.Stats(ctx, polygon, false)
	if err != nil {
		return Estimate{}, fmt.Errorf("energy estimate: %w", err)
	}
	if !stats.HasData {
		return Estimate{
			AreaKm2:          round2(areaM2 / 1e6),
			CostPerKwh:       opts.CostPerKwh,
			UpwardLightRatio: opts.UpwardLightRatio,
		}, nil
	}

	est := FromMean(stats.MeanSQM, areaM2, opts)
	est.SampleSize = stats.SampleSize
	return est, nil
}

// FromMean applies the physical conversion for a known mean brightness and
// area.  Kept separate from the store plumbing so the exact formula can be
// pinned by tests:
//
//	luminance  = 10.8e4 * 10^(-0.4 * sqm)        [cd/m²]
//	watts/m²   = luminance * upwardLightRatio
//	kW         = watts/m² * area / 1000
//	kWh/year   = kW * 365 * 10
//	cost/year  = kWh/year * costPerKwh
func FromMean(meanSQM, areaSquareMeters float64, opts Options) Estimate {
	opts = opts.withDefaults()

	luminance := LuminanceCoefficient * math.Pow(10, -0.4*meanSQM)
	wattsPerM2 := luminance * opts.UpwardLightRatio
	totalKW := wattsPerM2 * areaSquareMeters / 1000
	annualKWh := totalKW * nightsPerYear * DarknessHoursPerNight
	annualCost := annualKWh * opts.CostPerKwh

	return Estimate{
		HasData:          true,
		MeanSQM:          round2(meanSQM),
		LuminanceCdM2:    luminance,
		AreaKm2:          round2(areaSquareMeters / 1e6),
		AnnualKWh:        math.Round(annualKWh),
		AnnualCost:       math.Round(annualCost),
		CostPerKwh:       opts.CostPerKwh,
		UpwardLightRatio: opts.UpwardLightRatio,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
