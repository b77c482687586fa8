package wcs

import (
	"errors"
	"math"
	"testing"

	"github.com/mjuric/neandertools/internal/skygeom"
)

// testWCS returns a solution resembling a survey CCD: 0.2 arcsec pixels,
// RA axis flipped (east left), reference pixel at the center of a 4000x4000
// detector.
func testWCS() *TanWCS {
	const scale = 0.2 / 3600.0 // degrees per pixel
	return &TanWCS{
		CRPix1: 2000.5, CRPix2: 2000.5,
		CRVal1: 10.0, CRVal2: 0.0,
		CD1_1: -scale, CD1_2: 0,
		CD2_1: 0, CD2_2: scale,
	}
}

func TestValidate(t *testing.T) {
	if err := testWCS().Validate(); err != nil {
		t.Fatalf("valid solution rejected: %v", err)
	}

	singular := testWCS()
	singular.CD2_2 = 0
	singular.CD1_1 = 0
	if err := singular.Validate(); !errors.Is(err, ErrSingular) {
		t.Errorf("singular CD matrix: got %v, want ErrSingular", err)
	}

	bad := testWCS()
	bad.CRVal1 = math.NaN()
	if err := bad.Validate(); err == nil {
		t.Error("non-finite coefficient accepted")
	}
}

// TestReferencePixel checks that the reference pixel maps exactly to CRVAL.
func TestReferencePixel(t *testing.T) {
	w := testWCS()
	// CRPix is 1-based; the matching 0-based pixel is one less.
	p := w.PixelToSky(w.CRPix1-1, w.CRPix2-1)

	if sep := skygeom.Separation(p, skygeom.Point{RA: w.CRVal1, Dec: w.CRVal2}); sep > 1e-10 {
		t.Errorf("reference pixel maps %g deg away from CRVAL", sep)
	}
}

// TestPixelSkyRoundTrip maps pixels to sky and back, requiring agreement to
// a micro-pixel.
func TestPixelSkyRoundTrip(t *testing.T) {
	w := testWCS()

	pixels := []struct{ x, y float64 }{
		{0, 0},
		{3999, 3999},
		{2000.5, 1000.25},
		{17.75, 3512.5},
	}

	for _, px := range pixels {
		sky := w.PixelToSky(px.x, px.y)
		x, y := w.SkyToPixel(sky)
		if math.Abs(x-px.x) > 1e-6 || math.Abs(y-px.y) > 1e-6 {
			t.Errorf("round trip (%g, %g) → (%g, %g)", px.x, px.y, x, y)
		}
	}
}

// TestSkyToPixel_AxisDirections verifies the CD matrix orientation: with the
// RA axis flipped, increasing RA moves left in x, and increasing Dec moves
// up in y.
func TestSkyToPixel_AxisDirections(t *testing.T) {
	w := testWCS()
	const scale = 0.2 / 3600.0

	// 100 pixels north of the reference pixel.
	x, y := w.SkyToPixel(skygeom.Point{RA: 10.0, Dec: 100 * scale})
	if math.Abs(x-(w.CRPix1-1)) > 1e-3 {
		t.Errorf("pure Dec offset moved x to %g, want %g", x, w.CRPix1-1)
	}
	if math.Abs(y-(w.CRPix2-1+100)) > 1e-3 {
		t.Errorf("north offset y = %g, want %g", y, w.CRPix2-1+100)
	}

	// Increasing RA with CD1_1 < 0 decreases x.
	x2, _ := w.SkyToPixel(skygeom.Point{RA: 10.0 + 100*scale, Dec: 0})
	if x2 >= w.CRPix1-1 {
		t.Errorf("east offset x = %g, want less than %g", x2, w.CRPix1-1)
	}
}

func TestFootprint(t *testing.T) {
	w := testWCS()
	fp := w.Footprint(4000, 4000)

	if err := fp.Validate(); err != nil {
		t.Fatalf("footprint polygon invalid: %v", err)
	}

	// 4000 px at 0.2 arcsec spans 800 arcsec ≈ 0.222 deg; each corner sits
	// half a diagonal from the center.
	wantCorner := math.Sqrt(2) * 0.2222 / 2
	center := skygeom.Point{RA: w.CRVal1, Dec: w.CRVal2}
	for i, v := range fp {
		sep := skygeom.Separation(v, center)
		if math.Abs(sep-wantCorner) > 1e-3 {
			t.Errorf("corner %d is %.6f deg from center, want ~%.6f", i, sep, wantCorner)
		}
	}
}

// TestShifted verifies that a subimage solution maps its origin to the same
// sky position as the parent pixel it was cut from.
func TestShifted(t *testing.T) {
	w := testWCS()
	sub := w.Shifted(1200, 340)

	want := w.PixelToSky(1200, 340)
	got := sub.PixelToSky(0, 0)
	if sep := skygeom.Separation(got, want); sep > 1e-10 {
		t.Errorf("subimage origin off by %g deg", sep)
	}

	// Interior points shift consistently too.
	want = w.PixelToSky(1225, 365)
	got = sub.PixelToSky(25, 25)
	if sep := skygeom.Separation(got, want); sep > 1e-10 {
		t.Errorf("subimage interior off by %g deg", sep)
	}
}

func TestPixelScale(t *testing.T) {
	w := testWCS()
	want := 0.2 / 3600.0
	if got := w.PixelScale(); math.Abs(got-want) > 1e-12 {
		t.Errorf("PixelScale = %g, want %g", got, want)
	}
}
