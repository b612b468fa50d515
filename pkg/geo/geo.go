// Package geo implements the small amount of computational geometry the
// map server needs: point-in-polygon containment, great-circle distance
// and geodesic polygon area.  The original deployments leaned on a spatial
// database extension for these predicates; keeping them in plain Go means
// every supported SQL driver behaves identically, echoing the Go proverb
// "A little copying is better than a little dependency".
package geo

import (
	"fmt"
	"math"
)

const (
	// earthRadiusMeters is the mean Earth radius used for great-circle
	// distances.  City-scale queries are insensitive to the ellipsoidal
	// correction, so the spherical model keeps the math auditable.
	earthRadiusMeters = 6371000.0

	// wgs84EquatorialRadius feeds the geodesic area formula.  We keep it
	// separate from the mean radius so area results stay comparable with
	// the PostGIS/GeographicLib family of tools the datasets came from.
	wgs84EquatorialRadius = 6378137.0
)

// Point is a WGS84 coordinate.  Longitude first would match GeoJSON, but
// named fields keep call sites honest either way.
type Point struct {
	Lat float64
	Lon float64
}

// Valid reports whether the coordinate lies inside the WGS84 domain.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Ring is a closed sequence of vertices.  The closing vertex may be
// repeated or omitted; helpers normalize before doing math.
type Ring []Point

// Polygon is one or more outer rings.  MultiPolygon selections decode into
// several rings; containment means "inside any of them".
type Polygon struct {
	Rings []Ring
}

// ErrDegenerate is returned for rings with fewer than three distinct
// vertices.  Callers must treat this as a client error, not an empty
// selection, so broken geometry never masquerades as "no data".
var ErrDegenerate = fmt.Errorf("geo: polygon needs at least 3 distinct vertices")

// normalize drops a repeated closing vertex so index math can assume an
// open ring.  The input is untouched; we only reslice.
func (r Ring) normalize() Ring {
	n := len(r)
	if n > 1 && r[0] == r[n-1] {
		return r[:n-1]
	}
	return r
}

// WrapLon maps a longitude into [-180, 180).  Exactly 180 comes back as
// -180; both name the same meridian.
func WrapLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// unwrap rewrites the ring's longitudes as one continuous sequence so a
// ring crossing the antimeridian (a vertex jump such as 179 to -179) keeps
// its true shape.  Each vertex is shifted by whole turns until it lies
// within half a turn of its predecessor; the unwrapped values may leave
// [-180, 180], which is the point.
func (r Ring) unwrap() Ring {
	if len(r) < 2 {
		return r
	}
	out := make(Ring, len(r))
	out[0] = r[0]
	for i := 1; i < len(r); i++ {
		v := r[i]
		for v.Lon-out[i-1].Lon > 180 {
			v.Lon -= 360
		}
		for v.Lon-out[i-1].Lon < -180 {
			v.Lon += 360
		}
		out[i] = v
	}
	return out
}

// Validate checks vertex count and coordinate bounds for every ring.
func (p Polygon) Validate() error {
	if len(p.Rings) == 0 {
		return ErrDegenerate
	}
	for _, ring := range p.Rings {
		open := ring.normalize()
		if len(open) < 3 {
			return ErrDegenerate
		}
		for _, v := range open {
			if !v.Valid() {
				return fmt.Errorf("geo: vertex out of range: lat=%v lon=%v", v.Lat, v.Lon)
			}
		}
	}
	return nil
}

// Bounds returns the axis-aligned bounding box over all rings.  The store
// uses it as a cheap SQL prefilter before the exact containment test.
// Rings are unwrapped first, so for a region crossing the antimeridian the
// longitude bounds run past ±180 (for example 179 to 181); callers that
// need the stored [-180, 180] domain wrap them back.
func (p Polygon) Bounds() (minLat, minLon, maxLat, maxLon float64) {
	first := true
	for _, ring := range p.Rings {
		for _, v := range ring.normalize().unwrap() {
			if first {
				minLat, maxLat = v.Lat, v.Lat
				minLon, maxLon = v.Lon, v.Lon
				first = false
				continue
			}
			minLat = math.Min(minLat, v.Lat)
			maxLat = math.Max(maxLat, v.Lat)
			minLon = math.Min(minLon, v.Lon)
			maxLon = math.Max(maxLon, v.Lon)
		}
	}
	return minLat, minLon, maxLat, maxLon
}

// Contains reports whether the point lies inside or on the boundary of any
// ring.  Ray casting over lon/lat treats coordinates as planar, which is
// fine at the regional scale the selections cover; boundary hits are
// resolved explicitly so edge-sitting sensors are never dropped.
func (p Polygon) Contains(pt Point) bool {
	for _, ring := range p.Rings {
		if ring.contains(pt) {
			return true
		}
	}
	return false
}

func (r Ring) contains(pt Point) bool {
	open := r.normalize().unwrap()
	if len(open) < 3 {
		return false
	}
	// The unwrapped ring may live one turn east or west of the stored
	// point, so the point is tried in the neighbouring frames too.  Rings
	// narrower than a full turn admit at most one of the candidates.
	for _, shift := range []float64{0, 360, -360} {
		if containsPlanar(open, Point{Lat: pt.Lat, Lon: pt.Lon + shift}) {
			return true
		}
	}
	return false
}

// containsPlanar runs the boundary test and the ray cast on an open,
// already-unwrapped ring.
func containsPlanar(open Ring, pt Point) bool {
	n := len(open)

	// Boundary-inclusive: a point sitting on an edge counts as inside.
	for i := 0; i < n; i++ {
		if onSegment(open[i], open[(i+1)%n], pt) {
			return true
		}
	}

	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		vi, vj := open[i], open[j]
		if (vi.Lat > pt.Lat) != (vj.Lat > pt.Lat) &&
			pt.Lon < (vj.Lon-vi.Lon)*(pt.Lat-vi.Lat)/(vj.Lat-vi.Lat)+vi.Lon {
			inside = !inside
		}
		j = i
	}
	return inside
}

// onSegment tests whether p sits on the segment a-b within a tight epsilon.
// The tolerance corresponds to roughly a centimeter at the equator, small
// enough to never absorb a neighbouring sensor.
func onSegment(a, b, p Point) bool {
	const eps = 1e-9
	cross := (b.Lon-a.Lon)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lon-a.Lon)
	if math.Abs(cross) > eps {
		return false
	}
	if p.Lon < math.Min(a.Lon, b.Lon)-eps || p.Lon > math.Max(a.Lon, b.Lon)+eps {
		return false
	}
	if p.Lat < math.Min(a.Lat, b.Lat)-eps || p.Lat > math.Max(a.Lat, b.Lat)+eps {
		return false
	}
	return true
}

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(a, b Point) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(latA)*math.Cos(latB)*sinLon*sinLon
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// AreaSquareMeters computes the geodesic area of the polygon on the WGS84
// sphere.  This is the classic spherical-excess approximation used by
// turf.js and friends: a shoelace-style sum weighted by the sine of the
// latitudes, so the result accounts for Earth curvature instead of
// pretending degrees are meters.  Multiple rings simply add up; selections
// never contain holes.
func (p Polygon) AreaSquareMeters() float64 {
	total := 0.0
	for _, ring := range p.Rings {
		total += ringAreaSquareMeters(ring)
	}
	return total
}

func ringAreaSquareMeters(r Ring) float64 {
	open := r.normalize().unwrap()
	n := len(open)
	if n < 3 {
		return 0
	}
	const rad = math.Pi / 180
	sum := 0.0
	for i := 0; i < n; i++ {
		a := open[i]
		b := open[(i+1)%n]
		sum += (b.Lon - a.Lon) * rad * (2 + math.Sin(a.Lat*rad) + math.Sin(b.Lat*rad))
	}
	return math.Abs(sum * wgs84EquatorialRadius * wgs84EquatorialRadius / 2)
}

// SquareBuffer expands a point selection into a square polygon with the
// given half-width in meters.  The map UI sends a bare point when the user
// clicks instead of drawing; the buffer keeps the downstream code purely
// polygon-based.  Longitude spacing is corrected by cos(lat) so the square
// stays square away from the equator.
func SquareBuffer(center Point, halfWidthMeters float64) Polygon {
	dLat := halfWidthMeters / earthRadiusMeters * 180 / math.Pi
	cosLat := math.Cos(center.Lat * math.Pi / 180)
	if math.Abs(cosLat) < 1e-6 {
		cosLat = 1e-6 // polar clicks degenerate; keep the buffer finite
	}
	dLon := dLat / cosLat

	// Corners near the dateline wrap back into the stored domain; the
	// containment math restores the jump.
	ring := Ring{
		{Lat: center.Lat - dLat, Lon: WrapLon(center.Lon - dLon)},
		{Lat: center.Lat - dLat, Lon: WrapLon(center.Lon + dLon)},
		{Lat: center.Lat + dLat, Lon: WrapLon(center.Lon + dLon)},
		{Lat: center.Lat + dLat, Lon: WrapLon(center.Lon - dLon)},
	}
	return Polygon{Rings: []Ring{ring}}
}
