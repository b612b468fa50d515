// Package quality derives data-quality attributes for citizen sky
// brightness readings at ingestion time.  Crowd-submitted observations
// arrive under wildly different moon and cloud conditions, so we compute a
// cheap score and a strict research-grade flag once per row; query-time
// consumers then filter on the stored flag instead of re-deriving it.
//
// Everything here is a pure function of its inputs.  The constants are
// part of the published model and must not drift: downstream tools compare
// results against the original figures.
package quality

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// synodicMonthDays is the mean length of the lunar cycle.
const synodicMonthDays = 29.53058867

// referenceNewMoon is a known new-moon instant (2000-01-06 18:14 UTC).
// Phase math is anchored here; observations before it work too because the
// phase fraction is double-modded into the positive range.
var referenceNewMoon = time.Date(2000, time.January, 6, 18, 14, 0, 0, time.UTC)

// MoonIllumination returns the illuminated fraction of the moon at t,
// 0 at new moon and 1 at full moon.  A cosine over the phase fraction is
// accurate to a couple of percent, plenty for a quality heuristic.
func MoonIllumination(t time.Time) float64 {
	days := t.Sub(referenceNewMoon).Hours() / 24
	phase := math.Mod(math.Mod(days, synodicMonthDays)+synodicMonthDays, synodicMonthDays) / synodicMonthDays
	return (1 - math.Cos(phase*2*math.Pi)) / 2
}

var (
	percentPattern = regexp.MustCompile(`(\d{1,3})\s*%`)
	rangePattern   = regexp.MustCompile(`(\d+)\s*-\s*(\d+)`)
)

// cloudCategory pairs the descriptive keywords one data source or another
// uses with a representative cover percentage.  Order matters: the
// categories overlap ("mostly cloudy" contains "cloudy", "1-2 oktas" looks
// like a numeric range), so the table is walked top to bottom and the
// first hit wins.
var cloudCategories = []struct {
	keywords []string
	percent  int
}{
	{[]string{"clear", "sunny", "0/8", "0 oktas"}, 0},
	{[]string{"few", "1/8", "1 okta", "1-2 oktas"}, 12},
	{[]string{"scattered", "3/8", "3-4 oktas"}, 37},
	{[]string{"broken", "5/8", "5-7 oktas"}, 75},
	{[]string{"mostly cloudy", "7/8"}, 87},
	{[]string{"partly cloudy", "partly sunny", "2/8", "4/8"}, 25},
	{[]string{"overcast", "8/8", "8 oktas", "100%"}, 100},
}

// ParseCloudCover turns a free-text cloud descriptor into a 0-100 cover
// percentage.  The sources mix oktas, eighths, fractions and prose; the
// precedence below is fixed because several patterns overlap.  Missing
// text is read as fully overcast on purpose: an unknown sky must never
// promote a reading to research grade.
func ParseCloudCover(text string) int {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 100
	}

	// 1. An explicit percentage always wins.
	if m := percentPattern.FindStringSubmatch(s); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			return clampPct(v)
		}
	}

	// 2. Descriptive keyword categories, first match wins.
	for _, cat := range cloudCategories {
		for _, kw := range cat.keywords {
			if strings.Contains(s, kw) {
				return cat.percent
			}
		}
	}

	// 3. A plain numeric range like "40-60" averages out.
	if m := rangePattern.FindStringSubmatch(s); m != nil {
		a, errA := strconv.Atoi(m[1])
		b, errB := strconv.Atoi(m[2])
		if errA == nil && errB == nil {
			return clampPct((a + b) / 2)
		}
	}

	// 4. Leftover fractional prose.
	switch {
	case strings.Contains(s, "1/4"):
		return 25
	case strings.Contains(s, "over 1/2"):
		return 75
	case strings.Contains(s, "1/2"):
		return 50
	}

	// 5. Something was written but nothing matched: assume moderate.
	return 50
}

func clampPct(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Score computes the 0-100 composite quality score.  All terms subtract
// from a start of 100 so only the floor needs clamping; the moon penalty
// is carried in float and rounded once at the end.
func Score(cloudCoverPct int, moonIllumination float64, hasSensorSerial bool) int {
	score := 100.0
	if cloudCoverPct > 0 {
		score -= float64(cloudCoverPct)
	}
	if moonIllumination > 0.1 {
		score -= moonIllumination * 50
	}
	if !hasSensorSerial {
		score -= 10
	}
	if score < 0 {
		return 0
	}
	return int(math.Round(score))
}

// IsResearchGrade reports whether a reading meets the strict thresholds
// for scientific aggregation: near-clear sky, dark moon, and a brightness
// value that is not obviously washed out.
func IsResearchGrade(cloudCoverPct int, moonIllumination float64, sqm float64) bool {
	return cloudCoverPct <= 25 && moonIllumination < 0.20 && sqm > 16.0
}
