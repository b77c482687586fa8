// Package frame post-processes extracted stamps for display: robust
// per-frame background and noise estimation, normalization onto a
// shared display scale, and optional reprojection onto a common pixel
// grid.
package frame

import (
	"math"
	"sort"
)

const madToRMS = 1.4826 // MAD → standard deviation for a normal distribution

// SigmaClippedStats estimates a robust background and noise level.
// Non-finite pixels are ignored. The background is the sigma-clipped
// median; the noise is 1.4826 times the clipped median absolute
// deviation, falling back to the standard deviation and finally to 1
// when the MAD degenerates (uniform stamps). An empty or all-NaN input
// reports (0, 1).
func SigmaClippedStats(pix []float32, sigma float64, maxIters int) (bg, rms float64) {
	values := make([]float64, 0, len(pix))
	for _, v := range pix {
		f := float64(v)
		if !math.IsInf(f, 0) && !math.IsNaN(f) {
			values = append(values, f)
		}
	}
	if len(values) == 0 {
		return 0, 1
	}

	clipped := values
	for iter := 0; iter < maxIters; iter++ {
		med := median(clipped)
		dev := madFrom(clipped, med) * madToRMS
		if math.IsNaN(dev) || math.IsInf(dev, 0) || dev <= 0 {
			break
		}
		kept := make([]float64, 0, len(clipped))
		for _, v := range clipped {
			if math.Abs(v-med) <= sigma*dev {
				kept = append(kept, v)
			}
		}
		if len(kept) == len(clipped) || len(kept) == 0 {
			break
		}
		clipped = kept
	}

	bg = median(clipped)
	rms = madFrom(clipped, bg) * madToRMS
	if math.IsNaN(rms) || math.IsInf(rms, 0) || rms <= 0 {
		rms = stddev(clipped)
	}
	if math.IsNaN(rms) || math.IsInf(rms, 0) || rms <= 0 {
		rms = 1
	}
	return bg, rms
}

// median returns the median of values, interpolating between the two
// middle elements for even counts. values is not modified.
func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	s := make([]float64, n)
	copy(s, values)
	sort.Float64s(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// madFrom returns the median absolute deviation around center.
func madFrom(values []float64, center float64) float64 {
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - center)
	}
	return median(devs)
}

// stddev is the population standard deviation.
func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// Quantile returns the q-th quantile (0 to 1) of the finite pixels,
// interpolating linearly between ranks. Returns NaN when no pixel is
// finite.
func Quantile(pix []float32, q float64) float64 {
	finite := make([]float64, 0, len(pix))
	for _, v := range pix {
		f := float64(v)
		if !math.IsNaN(f) && !math.IsInf(f, 0) {
			finite = append(finite, f)
		}
	}
	if len(finite) == 0 {
		return math.NaN()
	}
	sort.Float64s(finite)
	return percentile(finite, q*100)
}

// percentile returns the p-th percentile of sorted values with linear
// interpolation between ranks.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
