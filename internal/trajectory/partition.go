package trajectory

import (
	"fmt"

	"github.com/mjuric/neandertools/internal/ephem"
	"github.com/mjuric/neandertools/internal/skygeom"
)

// Region is one bounded slice of a search: a time window and a sky polygon
// that contains the target throughout the window.
type Region struct {
	StartMJD float64
	EndMJD   float64
	Polygon  skygeom.Polygon
}

// PartitionOptions bound the regions built from a trajectory.
type PartitionOptions struct {
	// MaxSpanDays is the largest time window one region may cover. Long
	// trajectories split into multiple regions so each archive query stays
	// bounded in both time and area.
	MaxSpanDays float64

	// WidenArcsec is the outward margin applied to every region polygon,
	// covering the target's excursion between samples. Must be positive.
	// Per-sample ephemeris uncertainties are added on top when present.
	WidenArcsec float64
}

// Partition groups consecutive ephemeris samples into regions whose time
// span stays within MaxSpanDays. Adjacent regions share their boundary
// sample: time windows tile the full span without gaps, and neighboring
// polygons overlap around the shared sample. The spatial matcher removes the
// duplicate matches this overlap produces.
//
// Each region's polygon is the convex hull of its member positions on the
// local tangent plane, buffered outward by the widening margin plus the
// largest member uncertainty. Degenerate member sets (a stalled or perfectly
// linear track) become a swept corridor rectangle instead.
func Partition(samples []ephem.Sample, opts PartitionOptions) ([]Region, error) {
	if len(samples) < 2 {
		return nil, fmt.Errorf("partition needs at least 2 samples, got %d", len(samples))
	}
	if opts.MaxSpanDays <= 0 {
		return nil, fmt.Errorf("max region span must be positive, got %v days", opts.MaxSpanDays)
	}
	if opts.WidenArcsec <= 0 {
		return nil, fmt.Errorf("widening margin must be positive, got %v arcsec", opts.WidenArcsec)
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].MJD <= samples[i-1].MJD {
			return nil, fmt.Errorf("sample %d out of order: MJD %.8f not after %.8f", i, samples[i].MJD, samples[i-1].MJD)
		}
		if gap := samples[i].MJD - samples[i-1].MJD; gap > opts.MaxSpanDays {
			return nil, fmt.Errorf("sample spacing %.4f days exceeds max region span %.4f days; densify the ephemeris or raise the span", gap, opts.MaxSpanDays)
		}
	}

	var regions []Region
	start := 0
	for start < len(samples)-1 {
		// Extend while the window stays within the span budget.
		end := start + 1
		for end+1 < len(samples) && samples[end+1].MJD-samples[start].MJD <= opts.MaxSpanDays {
			end++
		}

		region, err := buildRegion(samples[start:end+1], opts)
		if err != nil {
			return nil, err
		}
		regions = append(regions, region)

		// The boundary sample opens the next region too.
		start = end
	}

	return regions, nil
}

// buildRegion constructs one region from consecutive member samples.
func buildRegion(members []ephem.Sample, opts PartitionOptions) (Region, error) {
	points := make([]skygeom.Point, len(members))
	maxUnc := 0.0
	for i, s := range members {
		points[i] = skygeom.Point{RA: skygeom.NormalizeRA(s.RA), Dec: s.Dec}
		if s.Uncertainty > maxUnc {
			maxUnc = s.Uncertainty
		}
	}

	tan := skygeom.NewTangent(skygeom.Centroid(points))
	planar := make([]skygeom.XY, len(points))
	for i, p := range points {
		planar[i] = tan.Project(p)
	}

	marginDeg := (opts.WidenArcsec + maxUnc) / 3600.0
	corridor := skygeom.CorridorPolygon(planar, marginDeg)

	poly := make(skygeom.Polygon, len(corridor))
	for i, q := range corridor {
		poly[i] = tan.Unproject(q)
	}
	if err := poly.Validate(); err != nil {
		return Region{}, fmt.Errorf("building region polygon: %w", err)
	}

	return Region{
		StartMJD: members[0].MJD,
		EndMJD:   members[len(members)-1].MJD,
		Polygon:  poly,
	}, nil
}
