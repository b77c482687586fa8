// Package archive defines the image archive abstraction used by the
// matcher and the cutout extractor. A Backend answers spatial-temporal
// queries against an index of survey exposures and loads pixel data on
// demand. Implementations live in subpackages; internal/archive/local
// backs the interface with a SQLite index and raw float32 pixel files.
package archive

import (
	"context"
	"errors"
	"strings"

	"github.com/mjuric/neandertools/internal/skygeom"
	"github.com/mjuric/neandertools/internal/wcs"
)

var (
	// ErrUnavailable reports that the archive itself cannot be reached,
	// as opposed to a query that matched nothing.
	ErrUnavailable = errors.New("archive unavailable")

	// ErrUnknownImage reports a Load for an image the index does not hold.
	ErrUnknownImage = errors.New("unknown image")

	// ErrNoWCS reports an operation that needs an astrometric solution
	// on an image or backend that has none.
	ErrNoWCS = errors.New("no WCS solution")
)

// Capability describes optional features a backend supports.
type Capability uint32

const (
	// CapWCS is set when the backend stores astrometric solutions and
	// can serve them alongside pixel data.
	CapWCS Capability = 1 << iota
)

// Has reports whether all capabilities in want are present.
func (c Capability) Has(want Capability) bool { return c&want == want }

// String renders the set for display, "none" when empty.
func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var names []string
	if c.Has(CapWCS) {
		names = append(names, "wcs")
	}
	return strings.Join(names, ",")
}

// ImageMeta describes one archived exposure of one detector.
type ImageMeta struct {
	Visit    int64
	Detector int
	Band     string
	MJD      float64
	Width    int
	Height   int

	// Footprint is the sky outline of the detector, vertices in
	// traversal order. Always present.
	Footprint skygeom.Polygon

	// WCS is the astrometric solution, nil when the exposure was never
	// calibrated.
	WCS *wcs.TanWCS
}

// Match is one index row returned by a spatial query. It carries enough
// to schedule a cutout without loading pixels.
type Match struct {
	Visit     int64
	Detector  int
	Band      string
	MJD       float64
	Footprint skygeom.Polygon
}

// Image is a fully loaded exposure. Pix is row-major, Pix[y*Width+x],
// with NaN marking masked or missing pixels.
type Image struct {
	Meta ImageMeta
	Pix  []float32
}

// At returns the pixel value at (x, y) without bounds checking.
func (im *Image) At(x, y int) float32 { return im.Pix[y*im.Meta.Width+x] }

// Query selects index rows by sky region and time.
type Query struct {
	// Region is the search polygon in RA/Dec degrees. It must pass
	// skygeom validation; degenerate regions are rejected.
	Region skygeom.Polygon

	// StartMJD and EndMJD bound exposure midpoints, inclusive.
	StartMJD float64
	EndMJD   float64

	// Bands restricts results to the listed filters. Empty means all.
	Bands []string
}

// Backend is an image archive. Query with no overlapping exposures
// returns an empty slice and a nil error; ErrUnavailable is reserved
// for the archive itself being unreachable.
type Backend interface {
	Query(ctx context.Context, q Query) ([]Match, error)
	Load(ctx context.Context, visit int64, detector int) (*Image, error)
	Capabilities() Capability
	Close() error
}
