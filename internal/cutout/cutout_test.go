package cutout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/mjuric/neandertools/internal/archive"
	"github.com/mjuric/neandertools/internal/skygeom"
	"github.com/mjuric/neandertools/internal/wcs"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

const (
	srcWidth  = 100
	srcHeight = 80
)

type imgKey struct {
	visit    int64
	detector int
}

type fakeSource struct {
	mu     sync.Mutex
	images map[imgKey]*archive.Image
	loads  map[imgKey]int
}

func newFakeSource(images ...*archive.Image) *fakeSource {
	f := &fakeSource{images: make(map[imgKey]*archive.Image), loads: make(map[imgKey]int)}
	for _, im := range images {
		f.images[imgKey{im.Meta.Visit, im.Meta.Detector}] = im
	}
	return f
}

func (f *fakeSource) Load(ctx context.Context, visit int64, detector int) (*archive.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := imgKey{visit, detector}
	f.loads[key]++
	im, ok := f.images[key]
	if !ok {
		return nil, fmt.Errorf("visit %d detector %d: %w", visit, detector, archive.ErrUnknownImage)
	}
	return im, nil
}

// testImage builds a 100x80 ramp image (pixel value = linear index).
// The WCS reference pixel sits at 0-based (49.5, 39.5) on (10.5, 0.1).
func testImage(visit int64, detector int, withWCS bool) *archive.Image {
	pix := make([]float32, srcWidth*srcHeight)
	for i := range pix {
		pix[i] = float32(i)
	}
	meta := archive.ImageMeta{
		Visit: visit, Detector: detector, Band: "r", MJD: 60000.25,
		Width: srcWidth, Height: srcHeight,
		Footprint: skygeom.Polygon{
			{RA: 10.49, Dec: 0.09}, {RA: 10.51, Dec: 0.09}, {RA: 10.51, Dec: 0.11}, {RA: 10.49, Dec: 0.11},
		},
	}
	if withWCS {
		meta.WCS = &wcs.TanWCS{
			CRPix1: 50.5, CRPix2: 40.5,
			CRVal1: 10.5, CRVal2: 0.1,
			CD1_1: -0.0002, CD2_2: 0.0002,
		}
	}
	return &archive.Image{Meta: meta, Pix: pix}
}

func srcValue(x, y int) float32 { return float32(y*srcWidth + x) }

func TestExtract_PixelTarget(t *testing.T) {
	src := newFakeSource(testImage(1002, 3, true))
	e := New(src, Options{Height: 21, Width: 21, Pad: true}, testLogger)

	res := e.Extract(context.Background(), Request{
		Visit: 1002, Detector: 3, Target: PixelTarget(50, 40),
	})
	if res.Err != nil {
		t.Fatalf("Extract: %v", res.Err)
	}
	if !res.Valid {
		t.Fatalf("Valid = false, reason %q", res.Reason)
	}
	if res.Stamp.Width != 21 || res.Stamp.Height != 21 {
		t.Fatalf("stamp shape = %dx%d, want 21x21", res.Stamp.Width, res.Stamp.Height)
	}
	if got := res.Stamp.At(10, 10); got != srcValue(50, 40) {
		t.Errorf("center pixel = %v, want %v", got, srcValue(50, 40))
	}
	if got := res.Stamp.At(0, 0); got != srcValue(40, 30) {
		t.Errorf("corner pixel = %v, want %v", got, srcValue(40, 30))
	}
	if res.Match.Visit != 1002 || res.Match.MJD != 60000.25 || res.Match.Band != "r" {
		t.Errorf("match meta = %+v", res.Match)
	}
}

func TestExtract_SkyTargetResolvesThroughWCS(t *testing.T) {
	src := newFakeSource(testImage(1002, 3, true))
	e := New(src, Options{Height: 21, Width: 21, Pad: true}, testLogger)

	res := e.Extract(context.Background(), Request{
		Visit: 1002, Detector: 3, Target: SkyTarget(10.5, 0.1),
	})
	if res.Err != nil {
		t.Fatalf("Extract: %v", res.Err)
	}
	// (10.5, 0.1) is the reference position at 0-based (49.5, 39.5),
	// which rounds to pixel (50, 40).
	if got := res.Stamp.At(10, 10); got != srcValue(50, 40) {
		t.Errorf("center pixel = %v, want %v", got, srcValue(50, 40))
	}

	if res.Stamp.WCS == nil {
		t.Fatal("stamp lost its WCS")
	}
	x, y := res.Stamp.WCS.SkyToPixel(skygeom.Point{RA: 10.5, Dec: 0.1})
	if math.Abs(x-9.5) > 1e-9 || math.Abs(y-9.5) > 1e-9 {
		t.Errorf("target in stamp frame = (%v, %v), want (9.5, 9.5)", x, y)
	}
}

func TestExtract_PaddingKeepsShape(t *testing.T) {
	src := newFakeSource(testImage(1002, 3, true))
	e := New(src, Options{Height: 11, Width: 11, Pad: true}, testLogger)

	res := e.Extract(context.Background(), Request{
		Visit: 1002, Detector: 3, Target: PixelTarget(2, 3),
	})
	if res.Err != nil {
		t.Fatalf("Extract: %v", res.Err)
	}
	if !res.Valid {
		t.Fatalf("edge target with zero margin should stay valid, reason %q", res.Reason)
	}
	if res.Stamp.Width != 11 || res.Stamp.Height != 11 {
		t.Fatalf("stamp shape = %dx%d, want 11x11", res.Stamp.Width, res.Stamp.Height)
	}

	nanCount := 0
	for _, v := range res.Stamp.Pix {
		if math.IsNaN(float64(v)) {
			nanCount++
		}
	}
	// Window [-3,8)x[-2,9): 3 columns and 2 rows hang off the detector.
	if want := 11*11 - 8*9; nanCount != want {
		t.Errorf("NaN pixels = %d, want %d", nanCount, want)
	}
	if got := res.Stamp.At(3, 2); got != srcValue(0, 0) {
		t.Errorf("first on-image pixel = %v, want %v", got, srcValue(0, 0))
	}
}

func TestExtract_NoPadClips(t *testing.T) {
	src := newFakeSource(testImage(1002, 3, true))
	e := New(src, Options{Height: 11, Width: 11, Pad: false}, testLogger)

	res := e.Extract(context.Background(), Request{
		Visit: 1002, Detector: 3, Target: PixelTarget(2, 3),
	})
	if res.Err != nil {
		t.Fatalf("Extract: %v", res.Err)
	}
	if res.Stamp.Width != 8 || res.Stamp.Height != 9 {
		t.Fatalf("clipped shape = %dx%d, want 8x9", res.Stamp.Width, res.Stamp.Height)
	}
	if got := res.Stamp.At(0, 0); got != srcValue(0, 0) {
		t.Errorf("clipped origin pixel = %v, want %v", got, srcValue(0, 0))
	}
	for _, v := range res.Stamp.Pix {
		if math.IsNaN(float64(v)) {
			t.Fatal("clipped stamp should hold no padding NaNs")
		}
	}
}

func TestExtract_FullyOffImage(t *testing.T) {
	src := newFakeSource(testImage(1002, 3, true))

	t.Run("padded", func(t *testing.T) {
		e := New(src, Options{Height: 7, Width: 7, Pad: true}, testLogger)
		res := e.Extract(context.Background(), Request{
			Visit: 1002, Detector: 3, Target: PixelTarget(-50, 40),
		})
		if res.Err != nil {
			t.Fatalf("off-image target is an exclusion, not an error: %v", res.Err)
		}
		if res.Valid {
			t.Fatal("off-image target should be invalid")
		}
		if res.Reason == "" {
			t.Fatal("exclusion reason missing")
		}
		if res.Stamp.Width != 7 || res.Stamp.Height != 7 {
			t.Fatalf("padded shape = %dx%d, want 7x7", res.Stamp.Width, res.Stamp.Height)
		}
		for _, v := range res.Stamp.Pix {
			if !math.IsNaN(float64(v)) {
				t.Fatal("fully off-image padded stamp should be all NaN")
			}
		}
	})

	t.Run("clipped", func(t *testing.T) {
		e := New(src, Options{Height: 7, Width: 7, Pad: false}, testLogger)
		res := e.Extract(context.Background(), Request{
			Visit: 1002, Detector: 3, Target: PixelTarget(-50, 40),
		})
		if res.Err != nil {
			t.Fatalf("Extract: %v", res.Err)
		}
		if res.Valid {
			t.Fatal("off-image target should be invalid")
		}
		if len(res.Stamp.Pix) != 0 {
			t.Errorf("clipped off-image stamp holds %d pixels, want 0", len(res.Stamp.Pix))
		}
	})
}

func TestExtract_BorderMargin(t *testing.T) {
	src := newFakeSource(testImage(1002, 3, true))
	e := New(src, Options{Height: 11, Width: 11, Pad: true, BorderMargin: 10}, testLogger)

	res := e.Extract(context.Background(), Request{
		Visit: 1002, Detector: 3, Target: PixelTarget(5, 40),
	})
	if res.Err != nil {
		t.Fatalf("Extract: %v", res.Err)
	}
	if res.Valid {
		t.Fatal("target 5 px from the edge should be invalid with margin 10")
	}
	if res.Reason == "" || res.Stamp == nil {
		t.Errorf("exclusion should still carry a stamp and a reason, got reason %q", res.Reason)
	}

	// Comfortably interior target stays valid under the same margin.
	res = e.Extract(context.Background(), Request{
		Visit: 1002, Detector: 3, Target: PixelTarget(50, 40),
	})
	if res.Err != nil || !res.Valid {
		t.Fatalf("interior target: err=%v valid=%v", res.Err, res.Valid)
	}
}

func TestExtract_SkyTargetWithoutWCS(t *testing.T) {
	src := newFakeSource(testImage(1002, 3, false))
	e := New(src, Options{Height: 11, Width: 11, Pad: true}, testLogger)

	res := e.Extract(context.Background(), Request{
		Visit: 1002, Detector: 3, Target: SkyTarget(10.5, 0.1),
	})
	if !errors.Is(res.Err, archive.ErrNoWCS) {
		t.Fatalf("Err = %v, want ErrNoWCS", res.Err)
	}

	// Pixel targets still work on the same image.
	res = e.Extract(context.Background(), Request{
		Visit: 1002, Detector: 3, Target: PixelTarget(50, 40),
	})
	if res.Err != nil || !res.Valid {
		t.Fatalf("pixel target on WCS-less image: err=%v valid=%v", res.Err, res.Valid)
	}
	if res.Stamp.WCS != nil {
		t.Error("stamp WCS should be nil when the source has none")
	}
}

func TestExtract_RequestValidation(t *testing.T) {
	src := newFakeSource(testImage(1002, 3, true))
	e := New(src, Options{Height: 11, Width: 11}, testLogger)

	res := e.Extract(context.Background(), Request{Visit: 1002, Detector: 3})
	if res.Err == nil {
		t.Fatal("zero target should be rejected")
	}

	zero := New(src, Options{}, testLogger)
	res = zero.Extract(context.Background(), Request{
		Visit: 1002, Detector: 3, Target: PixelTarget(50, 40),
	})
	if res.Err == nil {
		t.Fatal("zero stamp shape should be rejected")
	}
}

func TestExtract_UnknownImage(t *testing.T) {
	src := newFakeSource(testImage(1002, 3, true))
	e := New(src, Options{Height: 11, Width: 11}, testLogger)

	res := e.Extract(context.Background(), Request{
		Visit: 9999, Detector: 0, Target: PixelTarget(50, 40),
	})
	if !errors.Is(res.Err, archive.ErrUnknownImage) {
		t.Fatalf("Err = %v, want ErrUnknownImage", res.Err)
	}
	if res.Match.Visit != 9999 || res.Match.Detector != 0 {
		t.Errorf("failed row lost its identifiers: %+v", res.Match)
	}
}

func TestExtract_PerRequestOverrides(t *testing.T) {
	src := newFakeSource(testImage(1002, 3, true))
	e := New(src, Options{Height: 11, Width: 11, Pad: true}, testLogger)

	noPad := false
	res := e.Extract(context.Background(), Request{
		Visit: 1002, Detector: 3, Target: PixelTarget(2, 3),
		Height: 5, Width: 7, Pad: &noPad,
	})
	if res.Err != nil {
		t.Fatalf("Extract: %v", res.Err)
	}
	// 7x5 window at (2,3) clips to x [0,6), y [1,6).
	if res.Stamp.Width != 6 || res.Stamp.Height != 5 {
		t.Errorf("stamp shape = %dx%d, want 6x5", res.Stamp.Width, res.Stamp.Height)
	}
}
