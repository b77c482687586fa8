// Package cutout extracts fixed-size pixel stamps around predicted
// object positions. Extraction never mutates source images; every stamp
// is a fresh copy with its own subimage WCS. A stamp whose target sits
// on or near the detector edge is still extracted but marked invalid,
// which keeps quality exclusions separate from hard failures.
package cutout

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/mjuric/neandertools/internal/archive"
	"github.com/mjuric/neandertools/internal/skygeom"
	"github.com/mjuric/neandertools/internal/wcs"
)

// ImageSource loads exposures for extraction. Both archive.Backend and
// archive.Cache satisfy it.
type ImageSource interface {
	Load(ctx context.Context, visit int64, detector int) (*archive.Image, error)
}

type targetKind int

const (
	targetNone targetKind = iota
	targetSky
	targetPixel
)

// Target is the cutout center, either a sky position or a pixel
// position. The constructors make the two exclusive; the zero Target is
// invalid and rejected at extraction.
type Target struct {
	kind targetKind
	a, b float64 // RA/x and Dec/y depending on kind
}

// SkyTarget centers the cutout on (ra, dec) in degrees, resolved
// through the image's WCS.
func SkyTarget(ra, dec float64) Target {
	return Target{kind: targetSky, a: ra, b: dec}
}

// PixelTarget centers the cutout on a 0-based pixel position.
func PixelTarget(x, y float64) Target {
	return Target{kind: targetPixel, a: x, b: y}
}

func (t Target) String() string {
	switch t.kind {
	case targetSky:
		return fmt.Sprintf("sky(%.6f, %.6f)", t.a, t.b)
	case targetPixel:
		return fmt.Sprintf("pixel(%.2f, %.2f)", t.a, t.b)
	default:
		return "unset"
	}
}

// Request names one stamp to extract. Height, Width and Pad fall back
// to the extractor defaults when unset.
type Request struct {
	Visit    int64
	Detector int
	Target   Target
	Height   int
	Width    int
	Pad      *bool
}

// Stamp is an extracted pixel rectangle. Pix is row-major with NaN
// marking padded or masked pixels. WCS, when present, maps stamp-local
// pixels to the sky.
type Stamp struct {
	Pix    []float32
	Height int
	Width  int
	WCS    *wcs.TanWCS
}

// At returns the stamp pixel at (x, y) without bounds checking.
func (s *Stamp) At(x, y int) float32 { return s.Pix[y*s.Width+x] }

// Result is the outcome for one request. Err set means the row failed
// outright. Valid false with a nil Err means the stamp was extracted
// but fails the quality rule named in Reason.
type Result struct {
	Match  archive.Match
	Stamp  *Stamp
	Valid  bool
	Reason string
	Err    error
}

// Options tune an Extractor.
type Options struct {
	// Height and Width are the default stamp shape in pixels.
	Height int
	Width  int

	// Pad keeps the exact requested shape by filling off-image pixels
	// with NaN. When false, stamps are clipped to the detector.
	Pad bool

	// BorderMargin invalidates stamps whose target pixel lands within
	// this many pixels of a detector edge. Zero still invalidates
	// targets that fall off the detector entirely.
	BorderMargin int

	// Workers bounds batch parallelism. <= 1 extracts sequentially.
	Workers int
}

// Extractor produces stamps from archive images.
type Extractor struct {
	source ImageSource
	opts   Options
	logger *slog.Logger
}

// New returns an Extractor reading images from source.
func New(source ImageSource, opts Options, logger *slog.Logger) *Extractor {
	return &Extractor{source: source, opts: opts, logger: logger}
}

// Extract produces one stamp. The returned Result carries any failure
// in Err rather than a second return, so batch rows and scalar calls
// share one shape.
func (e *Extractor) Extract(ctx context.Context, req Request) Result {
	res := Result{Match: archive.Match{Visit: req.Visit, Detector: req.Detector}}

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	height, width := req.Height, req.Width
	if height <= 0 {
		height = e.opts.Height
	}
	if width <= 0 {
		width = e.opts.Width
	}
	if height <= 0 || width <= 0 {
		res.Err = fmt.Errorf("stamp shape %dx%d is invalid", height, width)
		return res
	}
	if req.Target.kind == targetNone {
		res.Err = fmt.Errorf("request has no target")
		return res
	}
	pad := e.opts.Pad
	if req.Pad != nil {
		pad = *req.Pad
	}

	im, err := e.source.Load(ctx, req.Visit, req.Detector)
	if err != nil {
		res.Err = fmt.Errorf("load image: %w", err)
		return res
	}
	res.Match = archive.Match{
		Visit:     im.Meta.Visit,
		Detector:  im.Meta.Detector,
		Band:      im.Meta.Band,
		MJD:       im.Meta.MJD,
		Footprint: im.Meta.Footprint,
	}

	var x, y float64
	switch req.Target.kind {
	case targetSky:
		if im.Meta.WCS == nil {
			res.Err = fmt.Errorf("sky target %s on visit %d detector %d: %w",
				req.Target, req.Visit, req.Detector, archive.ErrNoWCS)
			return res
		}
		x, y = im.Meta.WCS.SkyToPixel(skygeom.Point{RA: req.Target.a, Dec: req.Target.b})
	case targetPixel:
		x, y = req.Target.a, req.Target.b
	}

	cx := int(math.Round(x))
	cy := int(math.Round(y))
	srcW, srcH := im.Meta.Width, im.Meta.Height

	// Stamp window, target at the center pixel.
	x0 := cx - width/2
	y0 := cy - height/2

	stamp := carve(im, x0, y0, width, height, pad)
	res.Stamp = stamp
	res.Valid = true

	switch {
	case cx < 0 || cx >= srcW || cy < 0 || cy >= srcH:
		res.Valid = false
		res.Reason = fmt.Sprintf("target pixel (%d, %d) off the %dx%d detector", cx, cy, srcW, srcH)
	case cx < e.opts.BorderMargin || cx >= srcW-e.opts.BorderMargin ||
		cy < e.opts.BorderMargin || cy >= srcH-e.opts.BorderMargin:
		res.Valid = false
		res.Reason = fmt.Sprintf("target pixel (%d, %d) within %d px of the detector edge",
			cx, cy, e.opts.BorderMargin)
	}

	if !res.Valid {
		e.logger.Debug("stamp excluded",
			"visit", req.Visit,
			"detector", req.Detector,
			"target", req.Target.String(),
			"reason", res.Reason)
	}
	return res
}

// carve copies the window [x0, x0+width) x [y0, y0+height) out of the
// image. With pad the stamp keeps the exact shape and off-image pixels
// are NaN; without, the window is clipped to the detector and a fully
// disjoint window yields an empty stamp.
func carve(im *archive.Image, x0, y0, width, height int, pad bool) *Stamp {
	srcW, srcH := im.Meta.Width, im.Meta.Height

	if !pad {
		cx0, cy0 := max(x0, 0), max(y0, 0)
		cx1, cy1 := min(x0+width, srcW), min(y0+height, srcH)
		if cx0 >= cx1 || cy0 >= cy1 {
			return &Stamp{}
		}
		x0, y0 = cx0, cy0
		width, height = cx1-cx0, cy1-cy0
	}

	nan := float32(math.NaN())
	pix := make([]float32, width*height)
	for sy := 0; sy < height; sy++ {
		iy := y0 + sy
		for sx := 0; sx < width; sx++ {
			ix := x0 + sx
			if ix < 0 || ix >= srcW || iy < 0 || iy >= srcH {
				pix[sy*width+sx] = nan
				continue
			}
			pix[sy*width+sx] = im.At(ix, iy)
		}
	}

	s := &Stamp{Pix: pix, Height: height, Width: width}
	if im.Meta.WCS != nil {
		s.WCS = im.Meta.WCS.Shifted(float64(x0), float64(y0))
	}
	return s
}
