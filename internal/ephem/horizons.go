package ephem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mjuric/neandertools/internal/transform"
)

const defaultHorizonsURL = "https://ssd.jpl.nasa.gov/api/horizons.api"

// maxEphemerisBytes caps the response size read from the ephemeris service.
// A dense multi-month observer table stays under a megabyte; anything near
// the cap is a misbehaving endpoint.
const maxEphemerisBytes = 16 << 20

// HorizonsClient retrieves observer-table ephemerides from a JPL
// Horizons-compatible HTTP service.
type HorizonsClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHorizonsClient creates a client for the given service URL. An empty URL
// selects the public JPL endpoint.
func NewHorizonsClient(baseURL string, logger *slog.Logger) *HorizonsClient {
	if baseURL == "" {
		baseURL = defaultHorizonsURL
	}
	return &HorizonsClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// Name implements Provider.
func (c *HorizonsClient) Name() string { return "horizons" }

// Available implements Provider. The service resolves small-body and
// major-body designations; satellite targets belong to the SGP4 provider.
func (c *HorizonsClient) Available(target string) bool {
	return !strings.HasPrefix(target, "sat:")
}

// Path implements Provider. It requests an observer table with astrometric
// RA/Dec and plane-of-sky uncertainties, then parses the $$SOE/$$EOE block.
func (c *HorizonsClient) Path(ctx context.Context, req PathRequest) ([]Sample, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ephemeris request: %w", err)
	}

	query := url.Values{}
	query.Set("format", "text")
	query.Set("COMMAND", quote(req.Target))
	query.Set("OBJ_DATA", quote("NO"))
	query.Set("MAKE_EPHEM", quote("YES"))
	query.Set("EPHEM_TYPE", quote("OBSERVER"))
	query.Set("CENTER", quote(req.Observer))
	query.Set("START_TIME", quote(req.Start.UTC().Format("2006-01-02 15:04")))
	query.Set("STOP_TIME", quote(req.Stop.UTC().Format("2006-01-02 15:04")))
	query.Set("STEP_SIZE", quote(fmt.Sprintf("%dm", int(req.Step.Minutes()))))
	// Quantity 1 is astrometric RA/Dec, 36 the plane-of-sky 3-sigma
	// uncertainties.
	query.Set("QUANTITIES", quote("1,36"))
	query.Set("ANG_FORMAT", quote("DEG"))
	query.Set("CSV_FORMAT", quote("YES"))
	query.Set("EXTRA_PREC", quote("YES"))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating ephemeris request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetching ephemeris: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from ephemeris service", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEphemerisBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading ephemeris response: %w", err)
	}
	if len(body) > maxEphemerisBytes {
		return nil, fmt.Errorf("ephemeris response exceeds %d byte limit", maxEphemerisBytes)
	}

	samples, err := c.parseObserverTable(string(body), req.Target)
	if err != nil {
		return nil, err
	}

	c.logger.Info("fetched ephemeris",
		"target", req.Target,
		"observer", req.Observer,
		"samples", len(samples))
	return samples, nil
}

// quote wraps a parameter value in the single quotes the Horizons API
// expects around string arguments.
func quote(v string) string { return "'" + v + "'" }

// parseObserverTable extracts samples from the $$SOE/$$EOE data block of a
// text-format observer table. Malformed rows are skipped with a warning;
// out-of-order rows fail the whole parse since they indicate a corrupt
// response rather than a bad line.
func (c *HorizonsClient) parseObserverTable(text, target string) ([]Sample, error) {
	if refusal := serviceRefusal(text); refusal != "" {
		return nil, fmt.Errorf("%w %q: service reports: %s", ErrUnknownTarget, target, refusal)
	}

	start := strings.Index(text, "$$SOE")
	end := strings.Index(text, "$$EOE")
	if start < 0 || end < 0 || end < start {
		return nil, fmt.Errorf("malformed ephemeris response: missing $$SOE/$$EOE block")
	}

	var samples []Sample
	for _, line := range strings.Split(text[start+len("$$SOE"):end], "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s, err := parseObserverRow(line)
		if err != nil {
			c.logger.Warn("skipping malformed ephemeris row", "row", line, "error", err)
			continue
		}
		samples = append(samples, s)
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("ephemeris response for %q contains no usable rows", target)
	}
	if err := ensureIncreasing(samples); err != nil {
		return nil, fmt.Errorf("malformed ephemeris response: %w", err)
	}
	return samples, nil
}

// serviceRefusal returns the service's complaint line when the response is a
// lookup failure instead of an ephemeris, or "" for a normal response.
func serviceRefusal(text string) string {
	for _, marker := range []string{
		"No matches found",
		"Cannot find central body",
		"Matching small-bodies: None",
		"Cannot interpret",
	} {
		if idx := strings.Index(text, marker); idx >= 0 {
			line := text[idx:]
			if nl := strings.IndexByte(line, '\n'); nl >= 0 {
				line = line[:nl]
			}
			return strings.TrimSpace(line)
		}
	}
	return ""
}

// observer-table timestamp layouts, with and without seconds.
var horizonsTimeLayouts = []string{
	"2006-Jan-02 15:04:05.000",
	"2006-Jan-02 15:04:05",
	"2006-Jan-02 15:04",
}

// parseObserverRow parses one CSV data row. With QUANTITIES='1,36' the
// columns are: timestamp, solar-presence flag, interference flag, RA, Dec,
// RA 3-sigma, Dec 3-sigma, with a trailing empty field from the final comma.
func parseObserverRow(line string) (Sample, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 5 {
		return Sample{}, fmt.Errorf("%d fields, want at least 5", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	var ts time.Time
	var err error
	for _, layout := range horizonsTimeLayouts {
		ts, err = time.Parse(layout, fields[0])
		if err == nil {
			break
		}
	}
	if err != nil {
		return Sample{}, fmt.Errorf("invalid timestamp %q", fields[0])
	}
	ts = ts.UTC()

	ra, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid RA %q", fields[3])
	}
	dec, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid Dec %q", fields[4])
	}

	// Uncertainties are "n.a." for well-determined orbits; treat any
	// unparsable value as absent.
	var unc float64
	if len(fields) >= 7 {
		raSig, err1 := strconv.ParseFloat(fields[5], 64)
		decSig, err2 := strconv.ParseFloat(fields[6], 64)
		if err1 == nil && err2 == nil {
			unc = raSig
			if decSig > unc {
				unc = decSig
			}
		}
	}

	return Sample{
		Time:        ts,
		MJD:         transform.MJD(ts),
		RA:          ra,
		Dec:         dec,
		Uncertainty: unc,
	}, nil
}
