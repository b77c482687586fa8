// Package wcs maps between image pixel coordinates and sky coordinates for
// gnomonic (TAN) projected images, the projection used by the survey camera.
//
// Conventions follow FITS WCS Paper II (Calabretta & Greisen 2002): CRPIX is
// 1-based, the CD matrix carries degrees per pixel, and the projection plane
// coordinates are the gnomonic offsets about CRVAL. All public pixel
// coordinates in this package are 0-based; the 1-based FITS origin is an
// internal detail of the stored reference pixel.
package wcs

import (
	"errors"
	"fmt"
	"math"

	"github.com/mjuric/neandertools/internal/skygeom"
)

// ErrSingular reports a CD matrix with no inverse, which cannot map sky
// positions back to pixels.
var ErrSingular = errors.New("singular CD matrix")

// TanWCS is a gnomonic world coordinate solution.
type TanWCS struct {
	CRPix1, CRPix2 float64 // reference pixel, 1-based (FITS)
	CRVal1, CRVal2 float64 // sky position of the reference pixel, degrees
	CD1_1, CD1_2   float64 // pixel → projection plane linear map, deg/px
	CD2_1, CD2_2   float64
}

// Validate rejects solutions whose CD matrix is singular or whose fields are
// not finite. Run once when a solution is loaded; the mapping methods assume
// a valid receiver.
func (w *TanWCS) Validate() error {
	for _, v := range []float64{w.CRPix1, w.CRPix2, w.CRVal1, w.CRVal2, w.CD1_1, w.CD1_2, w.CD2_1, w.CD2_2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite WCS coefficient")
		}
	}
	if math.Abs(w.det()) < 1e-30 {
		return ErrSingular
	}
	return nil
}

func (w *TanWCS) det() float64 {
	return w.CD1_1*w.CD2_2 - w.CD1_2*w.CD2_1
}

// tangent returns the projection plane anchored at CRVAL.
func (w *TanWCS) tangent() skygeom.Tangent {
	return skygeom.NewTangent(skygeom.Point{RA: w.CRVal1, Dec: w.CRVal2})
}

// PixelToSky maps a 0-based pixel position to sky coordinates in degrees.
func (w *TanWCS) PixelToSky(x, y float64) skygeom.Point {
	// Offset from the reference pixel; +1 converts to the 1-based origin.
	dx := x + 1 - w.CRPix1
	dy := y + 1 - w.CRPix2

	xi := w.CD1_1*dx + w.CD1_2*dy
	eta := w.CD2_1*dx + w.CD2_2*dy

	return w.tangent().Unproject(skygeom.XY{X: xi, Y: eta})
}

// SkyToPixel maps sky coordinates to a 0-based pixel position. Positions on
// the far hemisphere, which have no gnomonic image, come back as huge
// off-image coordinates and fail any subsequent bounds check.
func (w *TanWCS) SkyToPixel(p skygeom.Point) (x, y float64) {
	q := w.tangent().Project(p)

	det := w.det()
	dx := (w.CD2_2*q.X - w.CD1_2*q.Y) / det
	dy := (-w.CD2_1*q.X + w.CD1_1*q.Y) / det

	return dx + w.CRPix1 - 1, dy + w.CRPix2 - 1
}

// Footprint returns the sky polygon traced by the outer edges of a
// width × height image, one vertex per corner.
func (w *TanWCS) Footprint(width, height int) skygeom.Polygon {
	// Pixel centers are 0-based, so the image edge sits half a pixel out.
	x1 := float64(width) - 0.5
	y1 := float64(height) - 0.5

	return skygeom.Polygon{
		w.PixelToSky(-0.5, -0.5),
		w.PixelToSky(x1, -0.5),
		w.PixelToSky(x1, y1),
		w.PixelToSky(-0.5, y1),
	}
}

// Shifted returns the solution for a subimage whose 0-based origin sits at
// (x0, y0) in the parent image. Pixel (0,0) of the subimage maps to the same
// sky position as parent pixel (x0, y0).
func (w *TanWCS) Shifted(x0, y0 float64) *TanWCS {
	out := *w
	out.CRPix1 -= x0
	out.CRPix2 -= y0
	return &out
}

// PixelScale returns the mean sky extent of one pixel in degrees, from the
// CD matrix determinant.
func (w *TanWCS) PixelScale() float64 {
	return math.Sqrt(math.Abs(w.det()))
}
