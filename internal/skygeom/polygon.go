package skygeom

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrDegeneratePolygon reports a polygon with fewer than three distinct
// vertices or zero enclosed area. Such a polygon is a configuration error:
// it must never be silently treated as matching everything or nothing.
var ErrDegeneratePolygon = errors.New("degenerate polygon")

// minPolygonArea is the smallest planar area (square degrees) a polygon may
// enclose before it is considered degenerate. Well below any usable search
// region or camera footprint.
const minPolygonArea = 1e-12

// Polygon is a simple polygon on the sky, one vertex per entry with implicit
// closure from the last vertex back to the first.
type Polygon []Point

// Validate rejects polygons that cannot bound a search: fewer than three
// vertices, non-finite coordinates, or zero area once projected onto the
// tangent plane at the polygon's centroid.
func (p Polygon) Validate() error {
	if len(p) < 3 {
		return fmt.Errorf("%w: %d vertices", ErrDegeneratePolygon, len(p))
	}
	for _, v := range p {
		if math.IsNaN(v.RA) || math.IsNaN(v.Dec) || math.IsInf(v.RA, 0) || math.IsInf(v.Dec, 0) {
			return fmt.Errorf("%w: non-finite vertex", ErrDegeneratePolygon)
		}
	}
	tan := NewTangent(Centroid(p))
	if math.Abs(signedArea(p.ProjectTo(tan))) < minPolygonArea {
		return fmt.Errorf("%w: zero area", ErrDegeneratePolygon)
	}
	return nil
}

// Tangent returns a tangent plane centered on the polygon's centroid.
func (p Polygon) Tangent() Tangent {
	return NewTangent(Centroid(p))
}

// ProjectTo projects every vertex onto the given tangent plane.
func (p Polygon) ProjectTo(t Tangent) []XY {
	out := make([]XY, len(p))
	for i, v := range p {
		out[i] = t.Project(v)
	}
	return out
}

// Box is an RA/Dec-aligned bounding range used to prefilter archive queries.
// When Wraps is set the RA interval crosses 0/360 and covers
// [RAMin, 360) ∪ [0, RAMax].
type Box struct {
	RAMin, RAMax   float64
	DecMin, DecMax float64
	Wraps          bool
}

// Bounds returns the bounding box of the polygon's vertices. Polygons
// reaching within 0.1 degrees of a celestial pole get the full RA circle,
// since right ascension degenerates there.
func (p Polygon) Bounds() Box {
	b := Box{RAMin: math.Inf(1), RAMax: math.Inf(-1), DecMin: math.Inf(1), DecMax: math.Inf(-1)}
	ras := make([]float64, 0, len(p))
	for _, v := range p {
		ra := NormalizeRA(v.RA)
		ras = append(ras, ra)
		b.RAMin = math.Min(b.RAMin, ra)
		b.RAMax = math.Max(b.RAMax, ra)
		b.DecMin = math.Min(b.DecMin, v.Dec)
		b.DecMax = math.Max(b.DecMax, v.Dec)
	}

	if b.DecMax > 89.9 || b.DecMin < -89.9 {
		b.RAMin, b.RAMax, b.Wraps = 0, 360, false
		return b
	}

	// A vertex RA spread over 180 degrees means the polygon straddles the
	// 0/360 seam (search polygons are always far smaller than a hemisphere).
	if b.RAMax-b.RAMin > 180 {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, ra := range ras {
			if ra >= 180 {
				lo = math.Min(lo, ra)
			} else {
				hi = math.Max(hi, ra)
			}
		}
		b.RAMin, b.RAMax, b.Wraps = lo, hi, true
	}
	return b
}

// Intersects reports whether two boxes overlap in both Dec and RA,
// honoring seam wrap on either side.
func (b Box) Intersects(o Box) bool {
	if b.DecMin > o.DecMax || b.DecMax < o.DecMin {
		return false
	}
	for _, s := range b.raSegments() {
		for _, t := range o.raSegments() {
			if s[0] <= t[1] && t[0] <= s[1] {
				return true
			}
		}
	}
	return false
}

// raSegments splits the RA interval at the seam so overlap checks reduce
// to plain interval arithmetic.
func (b Box) raSegments() [][2]float64 {
	if b.Wraps {
		return [][2]float64{{b.RAMin, 360}, {0, b.RAMax}}
	}
	return [][2]float64{{b.RAMin, b.RAMax}}
}

// ConvexHull returns the convex hull of a planar point set in
// counterclockwise order, using Andrew's monotone chain. Collinear input
// collapses to the two extreme points; a single point is returned as is.
func ConvexHull(pts []XY) []XY {
	if len(pts) <= 1 {
		return append([]XY(nil), pts...)
	}

	sorted := append([]XY(nil), pts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})

	// Duplicates are adjacent after sorting; the chains need distinct points.
	uniq := sorted[:1]
	for _, p := range sorted[1:] {
		if p != uniq[len(uniq)-1] {
			uniq = append(uniq, p)
		}
	}
	if len(uniq) == 1 {
		return uniq
	}

	var lower, upper []XY
	for _, p := range uniq {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}
	for i := len(uniq) - 1; i >= 0; i-- {
		p := uniq[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}

	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}

// cross returns the z component of (a-o) × (b-o). Positive when o→a→b turns
// counterclockwise.
func cross(o, a, b XY) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// signedArea returns the shoelace area of a planar polygon. Positive for
// counterclockwise vertex order.
func signedArea(poly []XY) float64 {
	if len(poly) < 3 {
		return 0
	}
	var sum float64
	for i, a := range poly {
		b := poly[(i+1)%len(poly)]
		sum += a.X*b.Y - b.X*a.Y
	}
	return sum / 2
}

// Area returns the absolute planar area of a polygon in square degrees.
func Area(poly []XY) float64 {
	return math.Abs(signedArea(poly))
}

// CorridorPolygon builds a convex region guaranteed to contain every input
// point with at least margin clearance on all sides: the convex hull of the
// points, buffered outward by margin. Collinear or single points, which have
// no usable hull, become a rectangle swept along the dominant direction.
// margin must be positive.
func CorridorPolygon(pts []XY, margin float64) []XY {
	hull := ConvexHull(pts)
	if len(hull) >= 3 && Area(hull) >= minPolygonArea {
		return offsetConvex(hull, margin)
	}

	// Degenerate set: locate the two extreme points (identical for a single
	// input) and sweep a rectangle of half-width margin along the segment.
	a, b := farthestPair(pts)

	dx, dy := b.X-a.X, b.Y-a.Y
	norm := math.Hypot(dx, dy)
	if norm == 0 {
		dx, dy = 1, 0
	} else {
		dx, dy = dx/norm, dy/norm
	}
	// Perpendicular, left of the sweep direction.
	px, py := -dy, dx

	return []XY{
		{X: a.X - dx*margin - px*margin, Y: a.Y - dy*margin - py*margin},
		{X: b.X + dx*margin - px*margin, Y: b.Y + dy*margin - py*margin},
		{X: b.X + dx*margin + px*margin, Y: b.Y + dy*margin + py*margin},
		{X: a.X - dx*margin + px*margin, Y: a.Y - dy*margin + py*margin},
	}
}

// farthestPair returns the two mutually most distant points of a set.
// Two passes suffice for collinear sets, the only caller's case.
func farthestPair(pts []XY) (XY, XY) {
	a := pts[0]
	for _, p := range pts {
		if dist2(p, pts[0]) > dist2(a, pts[0]) {
			a = p
		}
	}
	b := a
	for _, p := range pts {
		if dist2(p, a) > dist2(b, a) {
			b = p
		}
	}
	return a, b
}

func dist2(a, b XY) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}

// maxJoinChord caps the angular step of the arc approximation at offset
// vertices. 30 degrees keeps the inward chord sagitta under 3.5% of the
// margin.
const maxJoinChord = math.Pi / 6

// offsetConvex buffers a counterclockwise convex polygon outward by margin.
// Edges shift along their outward normals; vertices are joined by short
// chords approximating the rounding arc, so the clearance never exceeds the
// margin even at the needle tips of sliver hulls (where a miter joint would
// shoot far past it).
func offsetConvex(hull []XY, margin float64) []XY {
	n := len(hull)
	out := make([]XY, 0, n*3)

	normal := func(a, b XY) (float64, float64, bool) {
		dx, dy := b.X-a.X, b.Y-a.Y
		norm := math.Hypot(dx, dy)
		if norm == 0 {
			return 0, 0, false
		}
		// Outward normal for a CCW polygon is to the right of the edge.
		return dy / norm, -dx / norm, true
	}

	for i := 0; i < n; i++ {
		prev := hull[(i+n-1)%n]
		cur := hull[i]
		next := hull[(i+1)%n]

		inX, inY, okIn := normal(prev, cur)
		outX, outY, okOut := normal(cur, next)
		if !okIn && !okOut {
			continue
		}
		if !okIn {
			inX, inY = outX, outY
		}
		if !okOut {
			outX, outY = inX, inY
		}

		// Sweep counterclockwise from the incoming edge normal to the
		// outgoing one; for a convex CCW polygon this is the exterior angle.
		a1 := math.Atan2(inY, inX)
		sweep := math.Atan2(outY, outX) - a1
		for sweep < 0 {
			sweep += 2 * math.Pi
		}
		steps := int(math.Ceil(sweep / maxJoinChord))
		if steps < 1 {
			steps = 1
		}
		for k := 0; k <= steps; k++ {
			ang := a1 + sweep*float64(k)/float64(steps)
			out = append(out, XY{
				X: cur.X + margin*math.Cos(ang),
				Y: cur.Y + margin*math.Sin(ang),
			})
		}
	}
	return out
}

// ContainsXY reports whether a planar point lies inside a simple polygon,
// by even-odd ray crossing. Points exactly on an edge may land on either
// side.
func ContainsXY(poly []XY, p XY) bool {
	inside := false
	n := len(poly)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[j], poly[i]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			xCross := a.X + (p.Y-a.Y)*(b.X-a.X)/(b.Y-a.Y)
			if p.X < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

// ConvexIntersectsXY reports whether two convex polygons overlap, using the
// separating axis test over the edge normals of both. Both polygons need at
// least three vertices; anything less is treated as non-overlapping.
func ConvexIntersectsXY(a, b []XY) bool {
	if len(a) < 3 || len(b) < 3 {
		return false
	}
	return !hasSeparatingAxis(a, b) && !hasSeparatingAxis(b, a)
}

// hasSeparatingAxis checks the edge normals of poly for an axis on which the
// projections of poly and other do not overlap.
func hasSeparatingAxis(poly, other []XY) bool {
	n := len(poly)
	for i := 0; i < n; i++ {
		p, q := poly[i], poly[(i+1)%n]
		// Normal of edge p→q; orientation does not matter for interval overlap.
		ax, ay := q.Y-p.Y, p.X-q.X

		minA, maxA := projectOnto(poly, ax, ay)
		minB, maxB := projectOnto(other, ax, ay)
		if maxA < minB || maxB < minA {
			return true
		}
	}
	return false
}

// projectOnto returns the min and max scalar projections of a polygon's
// vertices onto an axis.
func projectOnto(poly []XY, ax, ay float64) (min, max float64) {
	min = math.Inf(1)
	max = math.Inf(-1)
	for _, v := range poly {
		d := v.X*ax + v.Y*ay
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return min, max
}
