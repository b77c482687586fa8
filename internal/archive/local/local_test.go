package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/mjuric/neandertools/internal/archive"
	"github.com/mjuric/neandertools/internal/skygeom"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

const (
	testWidth  = 64
	testHeight = 48
)

// testManifestImage builds a manifest entry for a synthetic exposure
// centered at (ra, dec) with a 0.01 deg/px TAN solution, writing its
// ramp pixel file under dir.
func testManifestImage(t *testing.T, dir string, visit int64, detector int, band string, mjd, ra, dec float64) ManifestImage {
	t.Helper()
	pix := make([]float32, testWidth*testHeight)
	for i := range pix {
		pix[i] = float32(i)
	}
	name := fmt.Sprintf("src_%d_%d.f32", visit, detector)
	if err := writePixelFile(filepath.Join(dir, name), pix); err != nil {
		t.Fatalf("write source pixels: %v", err)
	}
	return ManifestImage{
		Visit:    visit,
		Detector: detector,
		Band:     band,
		MJD:      mjd,
		Width:    testWidth,
		Height:   testHeight,
		PixFile:  name,
		WCS: &ManifestWCS{
			CRPix1: float64(testWidth)/2 + 0.5,
			CRPix2: float64(testHeight)/2 + 0.5,
			CRVal1: ra,
			CRVal2: dec,
			CD1_1:  -0.01,
			CD2_2:  0.01,
		},
	}
}

// testArchive creates a fresh archive and ingests the given entries,
// resolving their pixel files against srcDir.
func testArchive(t *testing.T, caps archive.Capability, srcDir string, images ...ManifestImage) *Store {
	t.Helper()
	s, err := Create(t.TempDir(), caps, testLogger)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if len(images) > 0 {
		if _, err := s.Ingest(context.Background(), &Manifest{Images: images}, srcDir); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	return s
}

func squareRegion(ra, dec, half float64) skygeom.Polygon {
	return skygeom.Polygon{
		{RA: ra - half, Dec: dec - half},
		{RA: ra + half, Dec: dec - half},
		{RA: ra + half, Dec: dec + half},
		{RA: ra - half, Dec: dec + half},
	}
}

func TestOpen_MissingArchive(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), testLogger)
	if !errors.Is(err, archive.ErrUnavailable) {
		t.Fatalf("Open on missing root = %v, want ErrUnavailable", err)
	}
}

func TestQuery_TimeAndRegion(t *testing.T) {
	dir := t.TempDir()
	s := testArchive(t, archive.CapWCS, dir,
		testManifestImage(t, dir, 1001, 0, "g", 60000.00, 10.0, 0),
		testManifestImage(t, dir, 1002, 0, "r", 60000.25, 10.5, 0),
		testManifestImage(t, dir, 1003, 0, "r", 60000.50, 11.0, 0),
	)
	ctx := context.Background()

	got, err := s.Query(ctx, archive.Query{
		Region:   squareRegion(10.5, 0, 0.1),
		StartMJD: 60000.2,
		EndMJD:   60000.6,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Visit != 1002 {
		t.Fatalf("Query = %+v, want just visit 1002", got)
	}
	if got[0].Band != "r" || got[0].MJD != 60000.25 {
		t.Errorf("match meta = %+v", got[0])
	}
	if len(got[0].Footprint) < 3 {
		t.Errorf("match footprint has %d vertices", len(got[0].Footprint))
	}

	// A window past every exposure matches nothing, and that is not an error.
	got, err = s.Query(ctx, archive.Query{
		Region:   squareRegion(10.5, 0, 0.1),
		StartMJD: 60000.3,
		EndMJD:   60000.6,
	})
	if err != nil {
		t.Fatalf("Query (late window): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("late window matched %d rows, want 0", len(got))
	}
}

func TestQuery_BandFilter(t *testing.T) {
	dir := t.TempDir()
	s := testArchive(t, archive.CapWCS, dir,
		testManifestImage(t, dir, 1001, 0, "g", 60000.00, 10.0, 0),
		testManifestImage(t, dir, 1002, 0, "r", 60000.25, 10.5, 0),
		testManifestImage(t, dir, 1003, 0, "r", 60000.50, 11.0, 0),
	)

	got, err := s.Query(context.Background(), archive.Query{
		Region:   squareRegion(10.5, 0, 1.5),
		StartMJD: 59999,
		EndMJD:   60001,
		Bands:    []string{"r"},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("band filter matched %d rows, want 2", len(got))
	}
	if got[0].Visit != 1002 || got[1].Visit != 1003 {
		t.Errorf("band filter rows = %d, %d, want 1002, 1003 in MJD order", got[0].Visit, got[1].Visit)
	}
}

func TestQuery_DegenerateRegion(t *testing.T) {
	s := testArchive(t, archive.CapWCS, "")
	_, err := s.Query(context.Background(), archive.Query{
		Region:   skygeom.Polygon{{RA: 10, Dec: 0}, {RA: 11, Dec: 0}},
		StartMJD: 60000,
		EndMJD:   60001,
	})
	if !errors.Is(err, skygeom.ErrDegeneratePolygon) {
		t.Fatalf("Query with 2-vertex region = %v, want ErrDegeneratePolygon", err)
	}
}

func TestQuery_SeamFootprint(t *testing.T) {
	dir := t.TempDir()
	s := testArchive(t, archive.CapWCS, dir,
		testManifestImage(t, dir, 2001, 0, "r", 60000.0, 0.05, 0),
	)

	got, err := s.Query(context.Background(), archive.Query{
		Region:   squareRegion(359.875, 0, 0.075),
		StartMJD: 59999,
		EndMJD:   60001,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Visit != 2001 {
		t.Fatalf("seam query = %+v, want visit 2001", got)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	s := testArchive(t, archive.CapWCS, dir,
		testManifestImage(t, dir, 1002, 3, "r", 60000.25, 10.5, 0.1),
	)

	im, err := s.Load(context.Background(), 1002, 3)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if im.Meta.Visit != 1002 || im.Meta.Detector != 3 || im.Meta.Band != "r" {
		t.Errorf("meta = %+v", im.Meta)
	}
	if im.Meta.Width != testWidth || im.Meta.Height != testHeight {
		t.Errorf("shape = %dx%d", im.Meta.Width, im.Meta.Height)
	}
	if len(im.Pix) != testWidth*testHeight {
		t.Fatalf("pixel count = %d", len(im.Pix))
	}
	if im.At(5, 2) != float32(2*testWidth+5) {
		t.Errorf("ramp pixel (5,2) = %v", im.At(5, 2))
	}

	if im.Meta.WCS == nil {
		t.Fatal("expected a WCS solution")
	}
	center := im.Meta.WCS.PixelToSky(float64(testWidth)/2-0.5, float64(testHeight)/2-0.5)
	if math.Abs(center.RA-10.5) > 1e-9 || math.Abs(center.Dec-0.1) > 1e-9 {
		t.Errorf("WCS center = (%v, %v), want (10.5, 0.1)", center.RA, center.Dec)
	}
}

func TestLoad_PreservesNaN(t *testing.T) {
	dir := t.TempDir()
	im := testManifestImage(t, dir, 3001, 0, "r", 60000, 10, 0)
	pix := make([]float32, testWidth*testHeight)
	pix[7] = float32(math.NaN())
	if err := writePixelFile(filepath.Join(dir, im.PixFile), pix); err != nil {
		t.Fatalf("rewrite pixels: %v", err)
	}
	s := testArchive(t, archive.CapWCS, dir, im)

	loaded, err := s.Load(context.Background(), 3001, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !math.IsNaN(float64(loaded.Pix[7])) {
		t.Errorf("pixel 7 = %v, want NaN", loaded.Pix[7])
	}
}

func TestLoad_UnknownImage(t *testing.T) {
	s := testArchive(t, archive.CapWCS, "")
	_, err := s.Load(context.Background(), 9999, 0)
	if !errors.Is(err, archive.ErrUnknownImage) {
		t.Fatalf("Load unknown = %v, want ErrUnknownImage", err)
	}
}

func TestCreate_WithoutWCSCapability(t *testing.T) {
	dir := t.TempDir()
	s := testArchive(t, 0, dir,
		testManifestImage(t, dir, 1001, 0, "r", 60000, 10, 0),
	)

	if s.Capabilities().Has(archive.CapWCS) {
		t.Fatal("capabilities should not include wcs")
	}
	im, err := s.Load(context.Background(), 1001, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if im.Meta.WCS != nil {
		t.Error("solution should have been dropped at ingest")
	}
	// Footprint still present, derived from the manifest solution.
	if len(im.Meta.Footprint) < 3 {
		t.Errorf("footprint has %d vertices", len(im.Meta.Footprint))
	}
}

func TestIngest_Upsert(t *testing.T) {
	dir := t.TempDir()
	first := testManifestImage(t, dir, 1001, 0, "g", 60000, 10, 0)
	s := testArchive(t, archive.CapWCS, dir, first)

	second := testManifestImage(t, dir, 1001, 0, "r", 60000.5, 10, 0)
	if _, err := s.Ingest(context.Background(), &Manifest{Images: []ManifestImage{second}}, dir); err != nil {
		t.Fatalf("re-ingest: %v", err)
	}

	info, err := s.Summarize(context.Background())
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if info.Images != 1 {
		t.Fatalf("images after upsert = %d, want 1", info.Images)
	}
	im, err := s.Load(context.Background(), 1001, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if im.Meta.Band != "r" || im.Meta.MJD != 60000.5 {
		t.Errorf("upserted meta = %+v", im.Meta)
	}
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	src := t.TempDir()
	s, err := Create(dir, archive.CapWCS, testLogger)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	im := testManifestImage(t, src, 1001, 0, "r", 60000, 10, 0)
	if _, err := s.Ingest(context.Background(), &Manifest{Images: []ManifestImage{im}}, src); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(dir, testLogger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if !reopened.Capabilities().Has(archive.CapWCS) {
		t.Error("capabilities lost across reopen")
	}
	info, err := reopened.Summarize(context.Background())
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if info.Images != 1 || info.MJDMin != 60000 || info.MJDMax != 60000 {
		t.Errorf("info = %+v", info)
	}
	if len(info.Bands) != 1 || info.Bands[0] != "r" {
		t.Errorf("bands = %v", info.Bands)
	}
}

func TestLoadManifest_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	raw := []byte("images:\n  - visit: 1\n    detector: 0\n    bandd: r\n")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := LoadManifest(path); err == nil {
		t.Fatal("expected unknown field error")
	}
}
