// Package trajectory turns an ephemeris into a continuously evaluable
// apparent track and partitions that track into bounded search regions for
// archive queries.
package trajectory

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mjuric/neandertools/internal/ephem"
	"github.com/mjuric/neandertools/internal/skygeom"
)

// ErrOutOfRange reports an evaluation time outside the sampled span. The
// track is never extrapolated or clamped.
var ErrOutOfRange = errors.New("time outside trajectory span")

// Interpolator evaluates the target's apparent position at any time inside
// the sampled span, by piecewise-linear interpolation in declination and in
// unwrapped right ascension against MJD. Unwrapping keeps consecutive RA
// values within 180 degrees of each other, so a track crossing RA 0/360
// interpolates through the seam instead of sweeping the long way around.
type Interpolator struct {
	mjd []float64
	ra  []float64 // unwrapped, may leave [0, 360)
	dec []float64
}

// NewInterpolator builds an interpolator from at least two ephemeris
// samples in strictly increasing time order.
func NewInterpolator(samples []ephem.Sample) (*Interpolator, error) {
	if len(samples) < 2 {
		return nil, fmt.Errorf("trajectory needs at least 2 samples, got %d", len(samples))
	}

	ip := &Interpolator{
		mjd: make([]float64, len(samples)),
		ra:  make([]float64, len(samples)),
		dec: make([]float64, len(samples)),
	}

	for i, s := range samples {
		if i > 0 && s.MJD <= samples[i-1].MJD {
			return nil, fmt.Errorf("sample %d out of order: MJD %.8f not after %.8f", i, s.MJD, samples[i-1].MJD)
		}
		ip.mjd[i] = s.MJD
		ip.dec[i] = s.Dec

		ra := skygeom.NormalizeRA(s.RA)
		if i == 0 {
			ip.ra[0] = ra
			continue
		}
		// Unwrap: step by the short way from the previous sample.
		delta := ra - skygeom.NormalizeRA(samples[i-1].RA)
		if delta > 180 {
			delta -= 360
		} else if delta < -180 {
			delta += 360
		}
		ip.ra[i] = ip.ra[i-1] + delta
	}

	return ip, nil
}

// Span returns the first and last sampled MJD. Evaluation is defined on the
// closed interval between them.
func (ip *Interpolator) Span() (startMJD, endMJD float64) {
	return ip.mjd[0], ip.mjd[len(ip.mjd)-1]
}

// Len returns the number of underlying samples.
func (ip *Interpolator) Len() int { return len(ip.mjd) }

// At evaluates the apparent position at the given MJD. Times at the sampled
// instants reproduce the sample coordinates; times outside the span return
// ErrOutOfRange.
func (ip *Interpolator) At(mjd float64) (skygeom.Point, error) {
	first, last := ip.Span()
	if mjd < first || mjd > last {
		return skygeom.Point{}, fmt.Errorf("%w: MJD %.8f outside [%.8f, %.8f]", ErrOutOfRange, mjd, first, last)
	}

	i := sort.SearchFloat64s(ip.mjd, mjd)
	if i < len(ip.mjd) && ip.mjd[i] == mjd {
		return skygeom.Point{RA: skygeom.NormalizeRA(ip.ra[i]), Dec: ip.dec[i]}, nil
	}

	// mjd falls strictly inside segment [i-1, i].
	j := i - 1
	f := (mjd - ip.mjd[j]) / (ip.mjd[j+1] - ip.mjd[j])
	ra := ip.ra[j] + f*(ip.ra[j+1]-ip.ra[j])
	dec := ip.dec[j] + f*(ip.dec[j+1]-ip.dec[j])

	return skygeom.Point{RA: skygeom.NormalizeRA(ra), Dec: dec}, nil
}
