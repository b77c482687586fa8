package ephem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/mjuric/neandertools/internal/transform"
)

// SGP4 library choice: github.com/joshuaferrara/go-satellite
//
// Pure Go (no CGO), explicit TEME output, and a GSTimeFromDate we
// cross-validate our own sidereal time against in tests.
//
// Note: Propagate() takes Satellite by value so SGP4 error codes are not
// visible to the caller. Propagation failures are detected by checking the
// output for NaN/Inf and unreasonable position magnitudes.

// satTargetPrefix marks targets served by the SGP4 provider.
const satTargetPrefix = "sat:"

// staleEpochWarn is how far the requested range may sit from the element-set
// epoch before accuracy warnings are logged. SGP4 accuracy decays on the
// scale of weeks.
const staleEpochWarn = 30 * 24 * time.Hour

// SGP4Provider computes satellite ephemerides from a two-line element
// source, which may be a local file or an HTTP URL. Element sets are loaded
// once on first use.
type SGP4Provider struct {
	source     string
	logger     *slog.Logger
	httpClient *http.Client

	mu   sync.Mutex
	sets map[int]tleSet
}

// NewSGP4Provider creates a provider reading element sets from source.
func NewSGP4Provider(source string, logger *slog.Logger) *SGP4Provider {
	return &SGP4Provider{
		source: source,
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name implements Provider.
func (p *SGP4Provider) Name() string { return "sgp4" }

// Available implements Provider: targets of the form "sat:NNNNN".
func (p *SGP4Provider) Available(target string) bool {
	_, err := parseSatTarget(target)
	return err == nil
}

// parseSatTarget extracts the NORAD catalog number from a "sat:NNNNN"
// designation.
func parseSatTarget(target string) (int, error) {
	if !strings.HasPrefix(target, satTargetPrefix) {
		return 0, fmt.Errorf("not a satellite designation: %q", target)
	}
	id, err := strconv.Atoi(strings.TrimPrefix(target, satTargetPrefix))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid NORAD catalog number in %q", target)
	}
	return id, nil
}

// Path implements Provider.
func (p *SGP4Provider) Path(ctx context.Context, req PathRequest) ([]Sample, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ephemeris request: %w", err)
	}
	noradID, err := parseSatTarget(req.Target)
	if err != nil {
		return nil, err
	}
	obs, err := LookupObservatory(req.Observer)
	if err != nil {
		return nil, err
	}

	set, err := p.lookup(ctx, noradID)
	if err != nil {
		return nil, err
	}

	if err := validateTLELines(set.line1, set.line2); err != nil {
		return nil, fmt.Errorf("invalid element set for NORAD %d: %w", noradID, err)
	}
	sat := satellite.TLEToSat(set.line1, set.line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", noradID, sat.Error, sat.ErrorStr)
	}

	if d := gap(set.epoch, req.Start, req.Stop); d > staleEpochWarn {
		p.logger.Warn("element set epoch far from requested range",
			"norad_id", noradID,
			"epoch", set.epoch,
			"gap", d)
	}

	var samples []Sample
	for t := req.Start.UTC(); !t.After(req.Stop); t = t.Add(req.Step) {
		pos, err := propagateChecked(sat, noradID, t)
		if err != nil {
			return nil, err
		}

		gmst := transform.GMST(t)
		ra, dec := transform.TopocentricRADec(obs.Position, pos, gmst)

		samples = append(samples, Sample{
			Time: t,
			MJD:  transform.MJD(t),
			RA:   ra,
			Dec:  dec,
		})
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("empty propagation range for NORAD %d", noradID)
	}
	p.logger.Info("computed satellite ephemeris",
		"norad_id", noradID,
		"observer", req.Observer,
		"samples", len(samples))
	return samples, nil
}

// lookup returns the element set for a catalog number, loading the source on
// first use.
func (p *SGP4Provider) lookup(ctx context.Context, noradID int) (tleSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sets == nil {
		sets, err := p.load(ctx)
		if err != nil {
			return tleSet{}, err
		}
		p.sets = sets
		p.logger.Info("loaded element sets", "source", p.source, "count", len(sets))
	}

	set, ok := p.sets[noradID]
	if !ok {
		return tleSet{}, fmt.Errorf("%w: NORAD %d not in %s", ErrUnknownTarget, noradID, p.source)
	}
	return set, nil
}

// load reads the element source, from HTTP when the source looks like a URL
// and from disk otherwise.
func (p *SGP4Provider) load(ctx context.Context) (map[int]tleSet, error) {
	if p.source == "" {
		return nil, fmt.Errorf("no element source configured for satellite targets")
	}

	var r io.ReadCloser
	if strings.HasPrefix(p.source, "http://") || strings.HasPrefix(p.source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.source, nil)
		if err != nil {
			return nil, fmt.Errorf("creating element request: %w", err)
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching element sets: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, p.source)
		}
		r = resp.Body
	} else {
		f, err := os.Open(p.source)
		if err != nil {
			return nil, fmt.Errorf("opening element file: %w", err)
		}
		r = f
	}
	defer r.Close()

	return parseTLESets(r, p.logger)
}

// propagateChecked runs SGP4 at one epoch with the NaN/magnitude checks the
// library does not surface as errors.
func propagateChecked(sat satellite.Satellite, noradID int, t time.Time) (transform.PositionTEME, error) {
	t = t.UTC()
	pos, _ := satellite.Propagate(sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) ||
		math.IsInf(pos.X, 0) || math.IsInf(pos.Y, 0) || math.IsInf(pos.Z, 0) {
		return transform.PositionTEME{}, fmt.Errorf("sgp4 propagation failed for NORAD %d at %v: output is NaN/Inf", noradID, t)
	}

	// Position magnitude should land between low orbit and a bit past GEO.
	mag := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if mag < 6200.0 || mag > 50000.0 {
		return transform.PositionTEME{}, fmt.Errorf("sgp4 propagation failed for NORAD %d at %v: unreasonable position magnitude %.1f km", noradID, t, mag)
	}

	return transform.PositionTEME{X: pos.X, Y: pos.Y, Z: pos.Z}, nil
}

// gap returns how far the element epoch sits outside the requested range, 0
// when the epoch falls inside it.
func gap(epoch, start, stop time.Time) time.Duration {
	if epoch.Before(start) {
		return start.Sub(epoch)
	}
	if epoch.After(stop) {
		return epoch.Sub(stop)
	}
	return 0
}
