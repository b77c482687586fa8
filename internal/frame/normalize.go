package frame

import (
	"math"
	"sort"

	"github.com/mjuric/neandertools/internal/cutout"
)

const (
	defaultSigma    = 3.0
	defaultMaxIters = 5
)

// NormalizeOptions select which per-frame corrections to apply.
type NormalizeOptions struct {
	// MatchBackground subtracts each frame's clipped background so all
	// frames share a zero-centered sky.
	MatchBackground bool

	// MatchNoise divides each frame by its noise estimate, putting all
	// frames on an SNR-like scale.
	MatchNoise bool

	// Sigma and MaxIters tune the clipping; zero values pick the
	// defaults (3.0, 5).
	Sigma    float64
	MaxIters int
}

// Normalize applies the selected corrections to copies of the input
// stamps and derives a display range shared by every frame: the 1st and
// 99th percentiles over all finite pixels of all frames. Inputs are
// never modified; NaN pixels stay NaN. A degenerate range is widened so
// vmax always exceeds vmin.
func Normalize(stamps []*cutout.Stamp, opts NormalizeOptions) (processed []*cutout.Stamp, vmin, vmax float64) {
	sigma := opts.Sigma
	if sigma <= 0 {
		sigma = defaultSigma
	}
	maxIters := opts.MaxIters
	if maxIters <= 0 {
		maxIters = defaultMaxIters
	}

	processed = make([]*cutout.Stamp, len(stamps))
	for i, s := range stamps {
		pix := make([]float32, len(s.Pix))
		copy(pix, s.Pix)

		if opts.MatchBackground || opts.MatchNoise {
			bg, rms := SigmaClippedStats(pix, sigma, maxIters)
			scale := float32(math.Max(rms, 1e-12))
			for j, v := range pix {
				if opts.MatchBackground {
					v -= float32(bg)
				}
				if opts.MatchNoise {
					v /= scale
				}
				pix[j] = v
			}
		}
		processed[i] = &cutout.Stamp{Pix: pix, Height: s.Height, Width: s.Width, WCS: s.WCS}
	}

	var finite []float64
	for _, s := range processed {
		for _, v := range s.Pix {
			f := float64(v)
			if !math.IsNaN(f) && !math.IsInf(f, 0) {
				finite = append(finite, f)
			}
		}
	}
	if len(finite) == 0 {
		return processed, 0, 1
	}
	sort.Float64s(finite)
	vmin = percentile(finite, 1)
	vmax = percentile(finite, 99)
	if vmax <= vmin {
		vmax = vmin + 1e-12
	}
	return processed, vmin, vmax
}
