// Package pipeline runs a full cutout production: fetch the target's
// ephemeris, partition its trajectory into search regions, match those
// against the image archive, resolve the target position on every
// matched exposure, extract stamps, normalize them onto a shared
// display scale, and render the frame set.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/mjuric/neandertools/internal/archive"
	"github.com/mjuric/neandertools/internal/cutout"
	"github.com/mjuric/neandertools/internal/ephem"
	"github.com/mjuric/neandertools/internal/frame"
	"github.com/mjuric/neandertools/internal/match"
	"github.com/mjuric/neandertools/internal/metrics"
	"github.com/mjuric/neandertools/internal/render"
	"github.com/mjuric/neandertools/internal/trajectory"
)

// ErrNoFrames reports a run whose extraction produced no usable frame:
// nothing matched, everything was excluded near detector edges, or
// every row failed.
var ErrNoFrames = errors.New("no valid frames")

// Default tunables for fields left zero in Config.
const (
	DefaultStep          = time.Hour
	DefaultMaxSpanDays   = 1.0
	DefaultWidenArcsec   = 60.0
	DefaultCutoutHeight  = 50
	DefaultCutoutWidth   = 50
	DefaultOutputDir     = "cutouts"
	DefaultRegionTimeout = 30 * time.Second
)

// Config carries every tunable of a run. Zero values pick the package
// defaults; booleans are explicit.
type Config struct {
	// Target is the object designation, Observer the MPC code the
	// ephemeris is apparent from.
	Target   string
	Start    time.Time
	Stop     time.Time
	Step     time.Duration
	Observer string

	// MaxSpanDays bounds one search region's time window; WidenArcsec
	// is the corridor margin around the trajectory.
	MaxSpanDays float64
	WidenArcsec float64

	// Bands restricts matching to these filter bands; empty matches all.
	Bands         []string
	RegionTimeout time.Duration

	CutoutHeight int
	CutoutWidth  int
	BorderMargin int

	// NoPad clips stamps at detector edges instead of padding to the
	// exact requested shape with NaN. Clipped stamps can come out
	// ragged, which the GIF renderer rejects.
	NoPad bool

	MatchBackground bool
	MatchNoise      bool

	// Reproject resamples all frames onto the grid of the first valid
	// stamp. Requires an archive with sky solutions.
	Reproject bool

	// Grid also renders a contact-sheet PNG of all frames.
	Grid        bool
	GridColumns int

	GIFDelayMS   int
	Workers      int
	CacheEntries int
	OutputDir    string
}

// withDefaults fills zero fields and validates the rest.
func (c Config) withDefaults() (Config, error) {
	if c.Step <= 0 {
		c.Step = DefaultStep
	}
	if c.MaxSpanDays <= 0 {
		c.MaxSpanDays = DefaultMaxSpanDays
	}
	if c.WidenArcsec <= 0 {
		c.WidenArcsec = DefaultWidenArcsec
	}
	if c.CutoutHeight <= 0 {
		c.CutoutHeight = DefaultCutoutHeight
	}
	if c.CutoutWidth <= 0 {
		c.CutoutWidth = DefaultCutoutWidth
	}
	if c.RegionTimeout <= 0 {
		c.RegionTimeout = DefaultRegionTimeout
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	req := ephem.PathRequest{
		Target:   c.Target,
		Start:    c.Start,
		Stop:     c.Stop,
		Step:     c.Step,
		Observer: c.Observer,
	}
	if err := req.Validate(); err != nil {
		return c, err
	}
	if c.BorderMargin < 0 {
		return c, fmt.Errorf("negative border margin %d", c.BorderMargin)
	}
	return c, nil
}

// Pipeline is a configured run ready to execute.
type Pipeline struct {
	providers []ephem.Provider
	backend   archive.Backend
	cfg       Config
	logger    *slog.Logger
}

// New validates cfg and builds a Pipeline over the given ephemeris
// providers and archive backend. The backend's lifecycle stays with
// the caller.
func New(providers []ephem.Provider, backend archive.Backend, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("no ephemeris providers configured")
	}
	if backend == nil {
		return nil, fmt.Errorf("no archive backend configured")
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}
	return &Pipeline{providers: providers, backend: backend, cfg: cfg, logger: logger}, nil
}

// Summary reports what a run produced.
type Summary struct {
	Target   string   `json:"target"`
	Samples  int      `json:"samples"`
	Regions  int      `json:"regions"`
	Matches  int      `json:"matches"`
	Dropped  int      `json:"dropped"`
	Valid    int      `json:"valid"`
	Excluded int      `json:"excluded"`
	Failed   int      `json:"failed"`
	Frames   []string `json:"frames"`
	GIF      string   `json:"gif"`
	Grid     string   `json:"grid,omitempty"`

	ElapsedMS int64 `json:"elapsed_ms"`
}

// Run executes the pipeline. Quality exclusions and per-row extraction
// failures are logged and counted but do not fail the run; a run with
// zero usable frames fails with ErrNoFrames.
func (p *Pipeline) Run(ctx context.Context) (summary *Summary, err error) {
	runStart := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordRun(status)
	}()

	cfg := p.cfg

	// Sky-coordinate targets need the archive's solutions both to land
	// on pixels and to reproject; refuse early rather than fail every
	// row later.
	if !p.backend.Capabilities().Has(archive.CapWCS) {
		return nil, fmt.Errorf("archive images carry no sky solution: %w", archive.ErrNoWCS)
	}

	samples, err := p.fetchEphemeris(ctx)
	if err != nil {
		return nil, err
	}

	t0 := time.Now()
	traj, err := trajectory.NewInterpolator(samples)
	if err != nil {
		return nil, fmt.Errorf("building trajectory: %w", err)
	}
	regions, err := trajectory.Partition(samples, trajectory.PartitionOptions{
		MaxSpanDays: cfg.MaxSpanDays,
		WidenArcsec: cfg.WidenArcsec,
	})
	if err != nil {
		return nil, fmt.Errorf("partitioning trajectory: %w", err)
	}
	metrics.ObserveStage("partition", time.Since(t0).Seconds())

	t0 = time.Now()
	matcher := match.New(p.backend, match.Options{
		Workers: cfg.Workers,
		Timeout: cfg.RegionTimeout,
		Bands:   cfg.Bands,
	}, p.logger)
	matches, err := matcher.Find(ctx, regions)
	if err != nil {
		return nil, fmt.Errorf("matching archive: %w", err)
	}
	metrics.ObserveStage("match", time.Since(t0).Seconds())

	t0 = time.Now()
	requests, dropped, err := p.resolve(traj, matches)
	if err != nil {
		return nil, err
	}
	metrics.ObserveStage("resolve", time.Since(t0).Seconds())

	t0 = time.Now()
	cache := archive.NewCache(p.backend, cfg.CacheEntries, p.logger)
	extractor := cutout.New(cache, cutout.Options{
		Height:       cfg.CutoutHeight,
		Width:        cfg.CutoutWidth,
		Pad:          !cfg.NoPad,
		BorderMargin: cfg.BorderMargin,
		Workers:      cfg.Workers,
	}, p.logger)
	results := extractor.ExtractBatch(ctx, requests)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metrics.ObserveStage("extract", time.Since(t0).Seconds())

	summary = &Summary{
		Target:  cfg.Target,
		Samples: len(samples),
		Regions: len(regions),
		Matches: len(matches),
		Dropped: dropped,
	}
	kept := p.split(results, summary)
	if len(kept) == 0 {
		return nil, fmt.Errorf("%d matches yielded no usable frame (%d excluded, %d failed): %w",
			len(matches), summary.Excluded, summary.Failed, ErrNoFrames)
	}

	stamps, mjds, err := p.assemble(kept)
	if err != nil {
		return nil, err
	}
	if err := p.render(stamps, mjds, summary); err != nil {
		return nil, err
	}

	summary.ElapsedMS = time.Since(runStart).Milliseconds()
	p.logger.Info("run complete",
		"target", cfg.Target,
		"matches", summary.Matches,
		"valid", summary.Valid,
		"excluded", summary.Excluded,
		"failed", summary.Failed,
		"gif", summary.GIF,
		"elapsed_ms", summary.ElapsedMS)
	return summary, nil
}

// fetchEphemeris picks a provider for the target and pulls its track.
func (p *Pipeline) fetchEphemeris(ctx context.Context) ([]ephem.Sample, error) {
	cfg := p.cfg
	provider, err := ephem.ForTarget(p.providers, cfg.Target)
	if err != nil {
		return nil, err
	}
	t0 := time.Now()
	samples, err := provider.Path(ctx, ephem.PathRequest{
		Target:   cfg.Target,
		Start:    cfg.Start,
		Stop:     cfg.Stop,
		Step:     cfg.Step,
		Observer: cfg.Observer,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching ephemeris for %q: %w", cfg.Target, err)
	}
	metrics.AddEphemerisSamples(provider.Name(), len(samples))
	metrics.ObserveStage("ephemeris", time.Since(t0).Seconds())
	p.logger.Info("ephemeris fetched",
		"target", cfg.Target, "provider", provider.Name(), "samples", len(samples))
	return samples, nil
}

// resolve evaluates the trajectory at each match's epoch and builds the
// extraction requests. Matches outside the trajectory span are dropped
// and counted; any other evaluation failure fails the run.
func (p *Pipeline) resolve(traj *trajectory.Interpolator, matches []archive.Match) ([]cutout.Request, int, error) {
	requests := make([]cutout.Request, 0, len(matches))
	dropped := 0
	for _, m := range matches {
		pos, err := traj.At(m.MJD)
		if errors.Is(err, trajectory.ErrOutOfRange) {
			dropped++
			p.logger.Warn("match outside trajectory span",
				"visit", m.Visit, "detector", m.Detector, "mjd", m.MJD)
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("resolving position at MJD %.8f: %w", m.MJD, err)
		}
		requests = append(requests, cutout.Request{
			Visit:    m.Visit,
			Detector: m.Detector,
			Target:   cutout.SkyTarget(pos.RA, pos.Dec),
		})
	}
	return requests, dropped, nil
}

// split tallies batch outcomes into the summary and returns the rows
// worth rendering. Exclusions and failures are reported distinctly.
func (p *Pipeline) split(results []cutout.Result, summary *Summary) []cutout.Result {
	kept := make([]cutout.Result, 0, len(results))
	for _, r := range results {
		switch {
		case r.Err != nil:
			summary.Failed++
			p.logger.Warn("extraction failed",
				"visit", r.Match.Visit, "detector", r.Match.Detector, "error", r.Err)
		case !r.Valid:
			summary.Excluded++
			p.logger.Info("frame excluded",
				"visit", r.Match.Visit, "detector", r.Match.Detector, "reason", r.Reason)
		default:
			summary.Valid++
			kept = append(kept, r)
		}
	}
	return kept
}

// assemble turns the kept rows into render-ready stamps, reprojecting
// onto a common grid when configured.
func (p *Pipeline) assemble(kept []cutout.Result) ([]*cutout.Stamp, []float64, error) {
	stamps := make([]*cutout.Stamp, len(kept))
	mjds := make([]float64, len(kept))
	for i, r := range kept {
		stamps[i] = r.Stamp
		mjds[i] = r.Match.MJD
	}

	if p.cfg.Reproject {
		t0 := time.Now()
		grid, h, w := frame.CommonGrid(kept)
		if grid == nil {
			return nil, nil, fmt.Errorf("reprojection target: %w", archive.ErrNoWCS)
		}
		for i, s := range stamps {
			rp, err := frame.Reproject(s, grid, h, w)
			if err != nil {
				return nil, nil, fmt.Errorf("reprojecting visit %d detector %d: %w",
					kept[i].Match.Visit, kept[i].Match.Detector, err)
			}
			stamps[i] = rp
		}
		metrics.ObserveStage("reproject", time.Since(t0).Seconds())
	}
	return stamps, mjds, nil
}

// render normalizes the frame set and writes PNGs, the blink GIF, and
// optionally the contact sheet.
func (p *Pipeline) render(stamps []*cutout.Stamp, mjds []float64, summary *Summary) error {
	cfg := p.cfg

	t0 := time.Now()
	processed, vmin, vmax := frame.Normalize(stamps, frame.NormalizeOptions{
		MatchBackground: cfg.MatchBackground,
		MatchNoise:      cfg.MatchNoise,
	})
	metrics.ObserveStage("normalize", time.Since(t0).Seconds())

	t0 = time.Now()
	paths, err := render.WriteFrames(processed, mjds, vmin, vmax, filepath.Join(cfg.OutputDir, "frames"))
	if err != nil {
		return fmt.Errorf("rendering frames: %w", err)
	}
	summary.Frames = paths

	base := safeName(cfg.Target)
	gifPath := filepath.Join(cfg.OutputDir, base+".gif")
	if err := render.WriteGIF(processed, vmin, vmax, cfg.GIFDelayMS, gifPath); err != nil {
		return fmt.Errorf("rendering gif: %w", err)
	}
	summary.GIF = gifPath

	if cfg.Grid {
		gridPath := filepath.Join(cfg.OutputDir, base+"_grid.png")
		if err := render.WriteGrid(processed, cfg.GridColumns, 0, render.DefaultGridQMax, gridPath); err != nil {
			return fmt.Errorf("rendering grid: %w", err)
		}
		summary.Grid = gridPath
	}
	metrics.ObserveStage("render", time.Since(t0).Seconds())
	return nil
}

// safeName turns a target designation into a filename stem.
func safeName(target string) string {
	var b strings.Builder
	for _, r := range target {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
