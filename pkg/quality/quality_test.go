package quality

import (
	"math"
	"testing"
	"time"
)

// TestMoonIllumination anchors the phase model to known lunar instants so a
// future refactor cannot silently shift the epoch or the cycle length.
func TestMoonIllumination(t *testing.T) {
	t.Parallel()

	newMoon := time.Date(2000, time.January, 6, 18, 14, 0, 0, time.UTC)
	fullMoon := newMoon.Add(time.Duration(float64(24*time.Hour) * synodicMonthDays / 2))

	if got := MoonIllumination(newMoon); got > 0.001 {
		t.Fatalf("illumination at reference new moon = %f, want ~0", got)
	}
	if got := MoonIllumination(fullMoon); got < 0.999 {
		t.Fatalf("illumination at full moon = %f, want ~1", got)
	}

	// One synodic month later the phase must repeat.
	later := newMoon.Add(time.Duration(float64(24*time.Hour) * synodicMonthDays))
	if got := MoonIllumination(later); got > 0.001 {
		t.Fatalf("illumination one cycle after new moon = %f, want ~0", got)
	}

	// Pre-epoch observations must land in the same [0,1] range.
	old := time.Date(1998, time.July, 1, 0, 0, 0, 0, time.UTC)
	if got := MoonIllumination(old); got < 0 || got > 1 {
		t.Fatalf("illumination before the epoch = %f, want within [0,1]", got)
	}
}

// TestParseCloudCover pins the precedence order of the overlapping text
// patterns: explicit percentage, then keywords, then ranges and fractions.
func TestParseCloudCover(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "explicit percent", text: "about 30% cover", want: 30},
		{name: "percent beats keyword", text: "clear, 40%", want: 40},
		{name: "percent clamped", text: "150%", want: 100},
		{name: "clear", text: "Clear", want: 0},
		{name: "sunny", text: "sunny all night", want: 0},
		{name: "zero oktas", text: "0 oktas", want: 0},
		{name: "few", text: "few clouds", want: 12},
		{name: "one okta", text: "1 okta", want: 12},
		{name: "scattered", text: "scattered", want: 37},
		{name: "broken", text: "broken clouds", want: 75},
		{name: "mostly cloudy", text: "mostly cloudy", want: 87},
		{name: "partly cloudy", text: "partly cloudy", want: 25},
		{name: "overcast", text: "overcast", want: 100},
		{name: "eight eighths", text: "8/8", want: 100},
		{name: "numeric range", text: "40-60", want: 50},
		{name: "quarter", text: "1/4 of sky", want: 25},
		{name: "over half", text: "over 1/2", want: 75},
		{name: "half", text: "1/2 covered", want: 50},
		{name: "empty is overcast", text: "", want: 100},
		{name: "whitespace only", text: "   ", want: 100},
		{name: "unmatched prose", text: "hazy maybe", want: 50},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ParseCloudCover(tc.text); got != tc.want {
				t.Fatalf("ParseCloudCover(%q) = %d, want %d", tc.text, got, tc.want)
			}
		})
	}
}

// TestScore covers the three penalties and the zero floor.
func TestScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		cloud  int
		moon   float64
		serial bool
		want   int
	}{
		{name: "perfect night", cloud: 0, moon: 0, serial: true, want: 100},
		{name: "no serial", cloud: 0, moon: 0, serial: false, want: 90},
		{name: "moon below threshold ignored", cloud: 0, moon: 0.1, serial: true, want: 100},
		{name: "moon above threshold", cloud: 0, moon: 0.5, serial: true, want: 75},
		{name: "full moon", cloud: 0, moon: 1.0, serial: true, want: 50},
		{name: "clouds only", cloud: 40, moon: 0, serial: true, want: 60},
		{name: "everything stacked", cloud: 75, moon: 0.8, serial: false, want: 0},
		{name: "floor at zero", cloud: 100, moon: 1.0, serial: false, want: 0},
		{name: "penalty rounds", cloud: 0, moon: 0.25, serial: true, want: 88},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Score(tc.cloud, tc.moon, tc.serial); got != tc.want {
				t.Fatalf("Score(%d, %f, %t) = %d, want %d", tc.cloud, tc.moon, tc.serial, got, tc.want)
			}
		})
	}
}

// TestIsResearchGrade walks each threshold boundary individually.
func TestIsResearchGrade(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cloud int
		moon  float64
		sqm   float64
		want  bool
	}{
		{name: "all good", cloud: 10, moon: 0.05, sqm: 21.2, want: true},
		{name: "cloud at limit", cloud: 25, moon: 0.05, sqm: 21.2, want: true},
		{name: "cloud over limit", cloud: 26, moon: 0.05, sqm: 21.2, want: false},
		{name: "moon at limit", cloud: 10, moon: 0.20, sqm: 21.2, want: false},
		{name: "moon just under", cloud: 10, moon: 0.199, sqm: 21.2, want: true},
		{name: "sqm at limit", cloud: 10, moon: 0.05, sqm: 16.0, want: false},
		{name: "sqm just over", cloud: 10, moon: 0.05, sqm: 16.01, want: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsResearchGrade(tc.cloud, tc.moon, tc.sqm); got != tc.want {
				t.Fatalf("IsResearchGrade(%d, %f, %f) = %t, want %t", tc.cloud, tc.moon, tc.sqm, got, tc.want)
			}
		})
	}
}

// TestScoreMoonPenaltyShape verifies the penalty grows linearly with
// illumination once past the threshold.
func TestScoreMoonPenaltyShape(t *testing.T) {
	t.Parallel()

	base := Score(0, 0, true)
	for _, moon := range []float64{0.2, 0.4, 0.6, 0.8, 1.0} {
		want := base - int(math.Round(moon*50))
		if got := Score(0, moon, true); got != want {
			t.Fatalf("Score(0, %f, true) = %d, want %d", moon, got, want)
		}
	}
}
