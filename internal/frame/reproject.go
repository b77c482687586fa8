package frame

import (
	"fmt"
	"math"

	"github.com/mjuric/neandertools/internal/archive"
	"github.com/mjuric/neandertools/internal/cutout"
	"github.com/mjuric/neandertools/internal/wcs"
)

// Reproject resamples a stamp onto the target grid: each output pixel
// is mapped through the target solution to the sky, back through the
// stamp's own solution, and filled by bilinear interpolation. Output
// pixels that land outside the stamp, or whose contributing neighbors
// are NaN, come out NaN. The source stamp is not modified.
func Reproject(s *cutout.Stamp, target *wcs.TanWCS, height, width int) (*cutout.Stamp, error) {
	if s.WCS == nil {
		return nil, fmt.Errorf("reproject stamp: %w", archive.ErrNoWCS)
	}
	if target == nil {
		return nil, fmt.Errorf("reproject stamp: no target grid")
	}
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("reproject stamp: bad target shape %dx%d", height, width)
	}

	out := &cutout.Stamp{
		Pix:    make([]float32, width*height),
		Height: height,
		Width:  width,
		WCS:    target,
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sky := target.PixelToSky(float64(x), float64(y))
			sx, sy := s.WCS.SkyToPixel(sky)
			out.Pix[y*width+x] = float32(sample(s, sx, sy))
		}
	}
	return out, nil
}

// edgeTol absorbs sky round-trip jitter, in pixels. A position this
// close outside the stamp is snapped onto the border rather than
// dropped.
const edgeTol = 1e-6

// sample bilinearly interpolates the stamp at fractional pixel
// coordinates. Neighbors with zero weight are ignored, so exact grid
// positions next to NaN padding still resolve to the pixel value.
func sample(s *cutout.Stamp, sx, sy float64) float64 {
	maxX := float64(s.Width - 1)
	maxY := float64(s.Height - 1)
	if sx < -edgeTol || sy < -edgeTol || sx > maxX+edgeTol || sy > maxY+edgeTol {
		return math.NaN()
	}
	sx = math.Min(math.Max(sx, 0), maxX)
	sy = math.Min(math.Max(sy, 0), maxY)
	x0 := int(math.Floor(sx))
	y0 := int(math.Floor(sy))
	x1 := min(x0+1, s.Width-1)
	y1 := min(y0+1, s.Height-1)
	fx := sx - float64(x0)
	fy := sy - float64(y0)

	acc := 0.0
	for _, c := range [4]struct {
		w float64
		v float32
	}{
		{(1 - fx) * (1 - fy), s.At(x0, y0)},
		{fx * (1 - fy), s.At(x1, y0)},
		{(1 - fx) * fy, s.At(x0, y1)},
		{fx * fy, s.At(x1, y1)},
	} {
		if c.w == 0 {
			continue
		}
		v := float64(c.v)
		if math.IsNaN(v) {
			return math.NaN()
		}
		acc += c.w * v
	}
	return acc
}

// CommonGrid picks the reprojection target from a batch: the solution
// and shape of the first valid stamp that carries one. Returns a nil
// solution when no stamp qualifies.
func CommonGrid(results []cutout.Result) (*wcs.TanWCS, int, int) {
	for _, r := range results {
		if r.Valid && r.Stamp != nil && r.Stamp.WCS != nil {
			return r.Stamp.WCS, r.Stamp.Height, r.Stamp.Width
		}
	}
	return nil, 0, 0
}
