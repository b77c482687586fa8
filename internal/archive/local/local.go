// Package local implements archive.Backend on top of a directory tree:
// a SQLite index at <root>/index.db and raw little-endian float32 pixel
// files under <root>/pixels/. It is the storage layout the ingest
// command produces and the one the pipeline reads in tests and
// single-host deployments.
package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/mjuric/neandertools/internal/archive"
	"github.com/mjuric/neandertools/internal/skygeom"
	"github.com/mjuric/neandertools/internal/wcs"
)

const indexFile = "index.db"

const pixelDir = "pixels"

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS images (
	visit INTEGER NOT NULL,
	detector INTEGER NOT NULL,
	band TEXT NOT NULL,
	mjd REAL NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	ra_min REAL NOT NULL,
	ra_max REAL NOT NULL,
	ra_wraps INTEGER NOT NULL DEFAULT 0,
	dec_min REAL NOT NULL,
	dec_max REAL NOT NULL,
	footprint TEXT NOT NULL,
	wcs TEXT,
	pixfile TEXT NOT NULL,
	PRIMARY KEY (visit, detector)
);
CREATE INDEX IF NOT EXISTS idx_images_mjd ON images(mjd);
CREATE INDEX IF NOT EXISTS idx_images_dec ON images(dec_min, dec_max);`

// Store serves archive queries from a local index directory.
type Store struct {
	root   string
	db     *sql.DB
	caps   archive.Capability
	logger *slog.Logger
}

var _ archive.Backend = (*Store)(nil)

// Open opens an existing archive rooted at dir. A missing directory or
// index reports archive.ErrUnavailable so callers can tell an absent
// archive from an empty query result.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	path := filepath.Join(dir, indexFile)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive index %s: %w", path, archive.ErrUnavailable)
		}
		return nil, fmt.Errorf("stat archive index: %w", err)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	s := &Store{root: dir, db: db, logger: logger}
	caps, err := s.readCapabilities()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read archive capabilities: %w", err)
	}
	s.caps = caps
	return s, nil
}

// Create initializes a new archive rooted at dir with the given
// capability set, creating the directory layout as needed. Opening an
// already initialized archive with Create keeps its stored capabilities.
func Create(dir string, caps archive.Capability, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, pixelDir), 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	db, err := openDB(filepath.Join(dir, indexFile))
	if err != nil {
		return nil, err
	}

	s := &Store{root: dir, db: db, caps: caps, logger: logger}
	stored, err := s.readCapabilities()
	switch {
	case err == nil:
		s.caps = stored
	case errors.Is(err, sql.ErrNoRows):
		if err := s.writeCapabilities(caps); err != nil {
			_ = db.Close()
			return nil, err
		}
	default:
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive index: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize archive schema: %w", err)
	}
	return db, nil
}

// Close closes the underlying index database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Capabilities reports the capability set recorded when the archive was
// created.
func (s *Store) Capabilities() archive.Capability { return s.caps }

// Query returns index rows whose footprints overlap the search region
// within the time window. The index prefilters on exposure time and the
// region's bounding box; survivors get an exact convex overlap test in
// the region's tangent plane. Concave regions are matched against their
// convex hull.
func (s *Store) Query(ctx context.Context, q archive.Query) ([]archive.Match, error) {
	if err := q.Region.Validate(); err != nil {
		return nil, fmt.Errorf("query region: %w", err)
	}
	if q.EndMJD < q.StartMJD {
		return nil, fmt.Errorf("query window [%f, %f] is inverted", q.StartMJD, q.EndMJD)
	}

	tan := q.Region.Tangent()
	region := skygeom.ConvexHull(q.Region.ProjectTo(tan))
	bounds := q.Region.Bounds()

	query := `SELECT visit, detector, band, mjd, ra_min, ra_max, ra_wraps, dec_min, dec_max, footprint
FROM images
WHERE mjd >= ? AND mjd <= ? AND dec_max >= ? AND dec_min <= ?`
	args := []any{q.StartMJD, q.EndMJD, bounds.DecMin, bounds.DecMax}
	if len(q.Bands) > 0 {
		query += ` AND band IN (?` + strings.Repeat(",?", len(q.Bands)-1) + `)`
		for _, b := range q.Bands {
			args = append(args, b)
		}
	}
	query += ` ORDER BY mjd, visit, detector`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query archive index: %w", err)
	}
	defer rows.Close()

	var out []archive.Match
	for rows.Next() {
		var (
			m            archive.Match
			box          skygeom.Box
			wraps        int
			footprintRaw string
		)
		if err := rows.Scan(&m.Visit, &m.Detector, &m.Band, &m.MJD,
			&box.RAMin, &box.RAMax, &wraps, &box.DecMin, &box.DecMax, &footprintRaw); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		box.Wraps = wraps != 0
		if !bounds.Intersects(box) {
			continue
		}

		footprint, err := decodeFootprint(footprintRaw)
		if err != nil {
			return nil, fmt.Errorf("visit %d detector %d: %w", m.Visit, m.Detector, err)
		}
		hull := skygeom.ConvexHull(footprint.ProjectTo(tan))
		if !skygeom.ConvexIntersectsXY(region, hull) {
			continue
		}
		m.Footprint = footprint
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index rows: %w", err)
	}
	return out, nil
}

// Load reads one exposure's metadata and pixels. An id absent from the
// index reports archive.ErrUnknownImage.
func (s *Store) Load(ctx context.Context, visit int64, detector int) (*archive.Image, error) {
	var (
		meta         archive.ImageMeta
		footprintRaw string
		wcsRaw       sql.NullString
		pixfile      string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT band, mjd, width, height, footprint, wcs, pixfile
FROM images WHERE visit = ? AND detector = ?`, visit, detector).
		Scan(&meta.Band, &meta.MJD, &meta.Width, &meta.Height, &footprintRaw, &wcsRaw, &pixfile)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("visit %d detector %d: %w", visit, detector, archive.ErrUnknownImage)
	}
	if err != nil {
		return nil, fmt.Errorf("load index row: %w", err)
	}
	meta.Visit = visit
	meta.Detector = detector

	meta.Footprint, err = decodeFootprint(footprintRaw)
	if err != nil {
		return nil, fmt.Errorf("visit %d detector %d: %w", visit, detector, err)
	}
	if wcsRaw.Valid {
		meta.WCS, err = decodeWCS(wcsRaw.String)
		if err != nil {
			return nil, fmt.Errorf("visit %d detector %d: %w", visit, detector, err)
		}
	}

	pix, err := readPixelFile(filepath.Join(s.root, pixfile), meta.Width*meta.Height)
	if err != nil {
		return nil, fmt.Errorf("visit %d detector %d: %w", visit, detector, err)
	}
	return &archive.Image{Meta: meta, Pix: pix}, nil
}

func (s *Store) readCapabilities() (archive.Capability, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'capabilities'`).Scan(&raw)
	if err != nil {
		return 0, err
	}
	var caps archive.Capability
	for _, name := range strings.Split(raw, ",") {
		if strings.TrimSpace(name) == "wcs" {
			caps |= archive.CapWCS
		}
	}
	return caps, nil
}

func (s *Store) writeCapabilities(caps archive.Capability) error {
	var names []string
	if caps.Has(archive.CapWCS) {
		names = append(names, "wcs")
	}
	_, err := s.db.Exec(
		`INSERT INTO meta (key, value) VALUES ('capabilities', ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strings.Join(names, ","))
	if err != nil {
		return fmt.Errorf("record archive capabilities: %w", err)
	}
	return nil
}

// Footprints are stored as a JSON array of [ra, dec] vertex pairs so
// the index stays inspectable with the sqlite3 shell.

func encodeFootprint(p skygeom.Polygon) (string, error) {
	verts := make([][2]float64, len(p))
	for i, v := range p {
		verts[i] = [2]float64{v.RA, v.Dec}
	}
	raw, err := json.Marshal(verts)
	if err != nil {
		return "", fmt.Errorf("encode footprint: %w", err)
	}
	return string(raw), nil
}

func decodeFootprint(raw string) (skygeom.Polygon, error) {
	var verts [][2]float64
	if err := json.Unmarshal([]byte(raw), &verts); err != nil {
		return nil, fmt.Errorf("decode footprint: %w", err)
	}
	p := make(skygeom.Polygon, len(verts))
	for i, v := range verts {
		p[i] = skygeom.Point{RA: v[0], Dec: v[1]}
	}
	return p, nil
}

type wcsRecord struct {
	CRPix1 float64 `json:"crpix1"`
	CRPix2 float64 `json:"crpix2"`
	CRVal1 float64 `json:"crval1"`
	CRVal2 float64 `json:"crval2"`
	CD1_1  float64 `json:"cd1_1"`
	CD1_2  float64 `json:"cd1_2"`
	CD2_1  float64 `json:"cd2_1"`
	CD2_2  float64 `json:"cd2_2"`
}

func encodeWCS(w *wcs.TanWCS) (string, error) {
	raw, err := json.Marshal(wcsRecord{
		CRPix1: w.CRPix1, CRPix2: w.CRPix2,
		CRVal1: w.CRVal1, CRVal2: w.CRVal2,
		CD1_1: w.CD1_1, CD1_2: w.CD1_2,
		CD2_1: w.CD2_1, CD2_2: w.CD2_2,
	})
	if err != nil {
		return "", fmt.Errorf("encode wcs: %w", err)
	}
	return string(raw), nil
}

func decodeWCS(raw string) (*wcs.TanWCS, error) {
	var rec wcsRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode wcs: %w", err)
	}
	w := &wcs.TanWCS{
		CRPix1: rec.CRPix1, CRPix2: rec.CRPix2,
		CRVal1: rec.CRVal1, CRVal2: rec.CRVal2,
		CD1_1: rec.CD1_1, CD1_2: rec.CD1_2,
		CD2_1: rec.CD2_1, CD2_2: rec.CD2_2,
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("stored wcs: %w", err)
	}
	return w, nil
}
