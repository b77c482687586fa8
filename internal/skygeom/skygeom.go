// Package skygeom provides spherical-sky geometry for search regions and
// image footprints.
//
// Polygon operations are done on a gnomonic tangent plane: vertices are
// projected about a tangent point near the region of interest, planar
// geometry (hulls, offsets, intersection tests) runs there, and results are
// deprojected back to the sphere. Working on the tangent plane sidesteps
// right-ascension wraparound, which is handled once in the projection math
// instead of in every polygon routine.
//
// Projection formulas follow the standard gnomonic (TAN) projection, e.g.
// Calabretta & Greisen, "Representations of celestial coordinates in FITS"
// (2002), Section 5.1.3.
package skygeom

import "math"

const degToRad = math.Pi / 180.0

// Point is a position on the celestial sphere in degrees.
type Point struct {
	RA  float64 // right ascension, [0, 360)
	Dec float64 // declination, [-90, +90]
}

// XY is a point on a gnomonic tangent plane, in degrees. X increases with
// right ascension (east), Y with declination (north).
type XY struct {
	X, Y float64
}

// NormalizeRA reduces a right ascension in degrees to [0, 360).
func NormalizeRA(ra float64) float64 {
	ra = math.Mod(ra, 360.0)
	if ra < 0 {
		ra += 360.0
	}
	return ra
}

// Separation returns the angular distance between two sky positions in
// degrees, using the haversine form which is stable at small separations.
func Separation(a, b Point) float64 {
	ra1 := a.RA * degToRad
	dec1 := a.Dec * degToRad
	ra2 := b.RA * degToRad
	dec2 := b.Dec * degToRad

	sinDec := math.Sin((dec2 - dec1) / 2)
	sinRA := math.Sin((ra2 - ra1) / 2)
	h := sinDec*sinDec + math.Cos(dec1)*math.Cos(dec2)*sinRA*sinRA
	return 2 * math.Asin(math.Min(1, math.Sqrt(h))) / degToRad
}

// Tangent is a gnomonic tangent plane anchored at a sky position. The zero
// value is not usable; construct with NewTangent.
type Tangent struct {
	center           Point
	sinDec0, cosDec0 float64
	ra0              float64 // radians
}

// NewTangent returns a tangent plane centered at the given sky position.
func NewTangent(center Point) Tangent {
	dec0 := center.Dec * degToRad
	return Tangent{
		center:  center,
		sinDec0: math.Sin(dec0),
		cosDec0: math.Cos(dec0),
		ra0:     NormalizeRA(center.RA) * degToRad,
	}
}

// Center returns the tangent point.
func (t Tangent) Center() Point { return t.center }

// Project maps a sky position onto the tangent plane. Positions at or beyond
// 90 degrees from the tangent point have no gnomonic image; they are mapped
// to a far-away planar point so downstream intersection tests reject them
// without special cases.
func (t Tangent) Project(p Point) XY {
	ra := NormalizeRA(p.RA) * degToRad
	dec := p.Dec * degToRad

	sinDec := math.Sin(dec)
	cosDec := math.Cos(dec)
	dRA := ra - t.ra0
	cosDRA := math.Cos(dRA)

	cosC := t.sinDec0*sinDec + t.cosDec0*cosDec*cosDRA
	if cosC < 1e-9 {
		// Beyond the projectable hemisphere.
		return XY{X: 1e12, Y: 1e12}
	}

	x := cosDec * math.Sin(dRA) / cosC
	y := (t.cosDec0*sinDec - t.sinDec0*cosDec*cosDRA) / cosC
	return XY{X: x / degToRad, Y: y / degToRad}
}

// Unproject maps a tangent-plane point back to the sky.
func (t Tangent) Unproject(q XY) Point {
	x := q.X * degToRad
	y := q.Y * degToRad

	rho := math.Sqrt(x*x + y*y)
	if rho == 0 {
		return t.center
	}
	c := math.Atan(rho)
	sinC := math.Sin(c)
	cosC := math.Cos(c)

	dec := math.Asin(cosC*t.sinDec0 + y*sinC*t.cosDec0/rho)
	ra := t.ra0 + math.Atan2(x*sinC, rho*t.cosDec0*cosC-y*t.sinDec0*sinC)

	return Point{
		RA:  NormalizeRA(ra / degToRad),
		Dec: dec / degToRad,
	}
}

// Centroid returns the mean direction of a set of sky positions, computed on
// 3D unit vectors so right-ascension wraparound cannot skew the average.
func Centroid(points []Point) Point {
	var sx, sy, sz float64
	for _, p := range points {
		ra := p.RA * degToRad
		dec := p.Dec * degToRad
		cosDec := math.Cos(dec)
		sx += cosDec * math.Cos(ra)
		sy += cosDec * math.Sin(ra)
		sz += math.Sin(dec)
	}
	norm := math.Sqrt(sx*sx + sy*sy + sz*sz)
	if norm == 0 {
		return Point{}
	}
	return Point{
		RA:  NormalizeRA(math.Atan2(sy, sx) / degToRad),
		Dec: math.Asin(sz/norm) / degToRad,
	}
}
