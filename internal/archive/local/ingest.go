package local

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mjuric/neandertools/internal/archive"
	"github.com/mjuric/neandertools/internal/skygeom"
	"github.com/mjuric/neandertools/internal/wcs"
)

// Manifest describes a batch of exposures to ingest. Pixel file paths
// are resolved relative to the manifest's directory.
type Manifest struct {
	Images []ManifestImage `yaml:"images"`
}

// ManifestImage is one exposure in a manifest. Either a WCS block or an
// explicit footprint must be present; with both, the footprint is
// recomputed from the WCS.
type ManifestImage struct {
	Visit     int64        `yaml:"visit"`
	Detector  int          `yaml:"detector"`
	Band      string       `yaml:"band"`
	MJD       float64      `yaml:"mjd"`
	Width     int          `yaml:"width"`
	Height    int          `yaml:"height"`
	PixFile   string       `yaml:"pixfile"`
	WCS       *ManifestWCS `yaml:"wcs,omitempty"`
	Footprint [][2]float64 `yaml:"footprint,omitempty"`
}

// ManifestWCS mirrors the FITS keywords of a TAN solution.
type ManifestWCS struct {
	CRPix1 float64 `yaml:"crpix1"`
	CRPix2 float64 `yaml:"crpix2"`
	CRVal1 float64 `yaml:"crval1"`
	CRVal2 float64 `yaml:"crval2"`
	CD1_1  float64 `yaml:"cd1_1"`
	CD1_2  float64 `yaml:"cd1_2"`
	CD2_1  float64 `yaml:"cd2_1"`
	CD2_2  float64 `yaml:"cd2_2"`
}

func (m *ManifestWCS) toWCS() *wcs.TanWCS {
	return &wcs.TanWCS{
		CRPix1: m.CRPix1, CRPix2: m.CRPix2,
		CRVal1: m.CRVal1, CRVal2: m.CRVal2,
		CD1_1: m.CD1_1, CD1_2: m.CD1_2,
		CD2_1: m.CD2_1, CD2_2: m.CD2_2,
	}
}

// LoadManifest reads and decodes a manifest file. Unknown fields are
// rejected so typos fail loudly instead of ingesting defaults.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	if len(m.Images) == 0 {
		return nil, fmt.Errorf("manifest %s lists no images", path)
	}
	return &m, nil
}

// Ingest copies the manifest's exposures into the archive and upserts
// their index rows. baseDir anchors relative pixel file paths, normally
// the manifest's directory. It returns the number of exposures written.
func (s *Store) Ingest(ctx context.Context, m *Manifest, baseDir string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin ingest transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO images (
	visit, detector, band, mjd, width, height,
	ra_min, ra_max, ra_wraps, dec_min, dec_max,
	footprint, wcs, pixfile
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(visit, detector) DO UPDATE SET
	band = excluded.band,
	mjd = excluded.mjd,
	width = excluded.width,
	height = excluded.height,
	ra_min = excluded.ra_min,
	ra_max = excluded.ra_max,
	ra_wraps = excluded.ra_wraps,
	dec_min = excluded.dec_min,
	dec_max = excluded.dec_max,
	footprint = excluded.footprint,
	wcs = excluded.wcs,
	pixfile = excluded.pixfile`)
	if err != nil {
		return 0, fmt.Errorf("prepare ingest insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, im := range m.Images {
		if err := s.ingestOne(ctx, stmt, im, baseDir); err != nil {
			return 0, fmt.Errorf("ingest visit %d detector %d: %w", im.Visit, im.Detector, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit ingest transaction: %w", err)
	}
	s.logger.Info("ingest complete", "images", count, "root", s.root)
	return count, nil
}

func (s *Store) ingestOne(ctx context.Context, stmt *sql.Stmt, im ManifestImage, baseDir string) error {
	if im.Band == "" {
		return fmt.Errorf("band is required")
	}
	if im.Width <= 0 || im.Height <= 0 {
		return fmt.Errorf("image shape %dx%d is invalid", im.Width, im.Height)
	}
	if im.PixFile == "" {
		return fmt.Errorf("pixfile is required")
	}

	src := im.PixFile
	if !filepath.IsAbs(src) {
		src = filepath.Join(baseDir, src)
	}
	pix, err := readPixelFile(src, im.Width*im.Height)
	if err != nil {
		return err
	}

	var solution *wcs.TanWCS
	if im.WCS != nil {
		solution = im.WCS.toWCS()
		if err := solution.Validate(); err != nil {
			return err
		}
	}

	var footprint skygeom.Polygon
	switch {
	case solution != nil:
		footprint = solution.Footprint(im.Width, im.Height)
	case len(im.Footprint) >= 3:
		footprint = make(skygeom.Polygon, len(im.Footprint))
		for i, v := range im.Footprint {
			footprint[i] = skygeom.Point{RA: v[0], Dec: v[1]}
		}
	default:
		return fmt.Errorf("either wcs or a footprint with at least 3 vertices is required")
	}
	if err := footprint.Validate(); err != nil {
		return err
	}
	bounds := footprint.Bounds()

	// The footprint above may still come from the manifest solution; only
	// the stored solution is gated on capability.
	if solution != nil && !s.caps.Has(archive.CapWCS) {
		s.logger.Warn("archive created without wcs capability, dropping solution",
			"visit", im.Visit, "detector", im.Detector)
		solution = nil
	}

	rel := filepath.Join(pixelDir, fmt.Sprintf("%d_%d.f32", im.Visit, im.Detector))
	if err := writePixelFile(filepath.Join(s.root, rel), pix); err != nil {
		return err
	}

	footprintRaw, err := encodeFootprint(footprint)
	if err != nil {
		return err
	}
	wcsRaw := sql.NullString{}
	if solution != nil {
		raw, err := encodeWCS(solution)
		if err != nil {
			return err
		}
		wcsRaw = sql.NullString{String: raw, Valid: true}
	}

	wraps := 0
	if bounds.Wraps {
		wraps = 1
	}
	if _, err := stmt.ExecContext(ctx,
		im.Visit, im.Detector, im.Band, im.MJD, im.Width, im.Height,
		bounds.RAMin, bounds.RAMax, wraps, bounds.DecMin, bounds.DecMax,
		footprintRaw, wcsRaw, rel); err != nil {
		return fmt.Errorf("insert index row: %w", err)
	}
	return nil
}

// Info summarizes archive contents for the info command.
type Info struct {
	Images       int
	Visits       int
	Bands        []string
	MJDMin       float64
	MJDMax       float64
	Capabilities archive.Capability
}

// Summarize reports row counts, the band list and the time span covered
// by the index.
func (s *Store) Summarize(ctx context.Context) (Info, error) {
	info := Info{Capabilities: s.caps}

	var mjdMin, mjdMax sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT visit), MIN(mjd), MAX(mjd) FROM images`).
		Scan(&info.Images, &info.Visits, &mjdMin, &mjdMax)
	if err != nil {
		return Info{}, fmt.Errorf("summarize archive: %w", err)
	}
	info.MJDMin = mjdMin.Float64
	info.MJDMax = mjdMax.Float64

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT band FROM images ORDER BY band`)
	if err != nil {
		return Info{}, fmt.Errorf("list archive bands: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var band string
		if err := rows.Scan(&band); err != nil {
			return Info{}, fmt.Errorf("scan band row: %w", err)
		}
		info.Bands = append(info.Bands, band)
	}
	if err := rows.Err(); err != nil {
		return Info{}, fmt.Errorf("iterate band rows: %w", err)
	}
	return info, nil
}
