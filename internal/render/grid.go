package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/mjuric/neandertools/internal/cutout"
	"github.com/mjuric/neandertools/internal/frame"
)

const (
	// DefaultGridColumns is the contact-sheet width in cells.
	DefaultGridColumns = 5

	// DefaultGridQMax is the upper display quantile of a cell.
	DefaultGridQMax = 0.99

	gridPad = 4 // background pixels around each cell
)

// WriteGrid renders a contact sheet: stamps laid out row-major with
// ncols per row, each cell stretched independently between its qmin
// and qmax quantiles. Cells draw in inverted gray, faint pixels light
// and bright sources dark; NaN pixels and unused trailing cells keep
// the white background. Stamps of differing shapes are centered in a
// common cell.
func WriteGrid(stamps []*cutout.Stamp, ncols int, qmin, qmax float64, path string) error {
	if len(stamps) == 0 {
		return fmt.Errorf("rendering grid: no stamps")
	}
	if ncols <= 0 {
		ncols = DefaultGridColumns
	}
	if qmin < 0 || qmax > 1 || qmax < qmin {
		return fmt.Errorf("rendering grid: bad quantiles [%g, %g]", qmin, qmax)
	}

	cellW, cellH := 0, 0
	for _, s := range stamps {
		cellW = max(cellW, s.Width)
		cellH = max(cellH, s.Height)
	}
	if cellW == 0 || cellH == 0 {
		return fmt.Errorf("rendering grid: all stamps empty")
	}

	nrows := (len(stamps) + ncols - 1) / ncols
	img := image.NewGray16(image.Rect(0, 0,
		ncols*cellW+(ncols+1)*gridPad,
		nrows*cellH+(nrows+1)*gridPad))
	for i := range img.Pix {
		img.Pix[i] = 0xff // white background
	}

	for i, s := range stamps {
		r, c := i/ncols, i%ncols
		x0 := gridPad + c*(cellW+gridPad) + (cellW-s.Width)/2
		y0 := gridPad + r*(cellH+gridPad) + (cellH-s.Height)/2
		vmin, vmax := cellBounds(s, qmin, qmax)
		for y := 0; y < s.Height; y++ {
			row := y0 + s.Height - 1 - y
			for x := 0; x < s.Width; x++ {
				v := float64(s.At(x, y))
				if math.IsNaN(v) {
					continue
				}
				t := scaled(v, vmin, vmax)
				img.SetGray16(x0+x, row, color.Gray16{Y: uint16(math.Round((1 - t) * 65535))})
			}
		}
	}
	return writeImage(path, img)
}

// cellBounds picks one cell's display range from its finite pixels. An
// all-NaN cell gets an arbitrary range; nothing is drawn from it
// anyway.
func cellBounds(s *cutout.Stamp, qmin, qmax float64) (vmin, vmax float64) {
	vmin = frame.Quantile(s.Pix, qmin)
	vmax = frame.Quantile(s.Pix, qmax)
	if math.IsNaN(vmin) || math.IsNaN(vmax) {
		return 0, 1
	}
	if vmax <= vmin {
		vmax = vmin + 1e-12
	}
	return vmin, vmax
}
