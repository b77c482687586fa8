// Package match turns trajectory search regions into a deduplicated,
// time-ordered list of archive exposures. Regions are queried
// concurrently; any region failure fails the whole search, since a
// silently skipped region would punch an invisible hole in the
// trajectory's coverage.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/mjuric/neandertools/internal/archive"
	"github.com/mjuric/neandertools/internal/metrics"
	"github.com/mjuric/neandertools/internal/trajectory"
)

// Options tune a Matcher. The zero value is usable.
type Options struct {
	// Workers bounds concurrent region queries. <= 0 means NumCPU.
	Workers int

	// Timeout applies per region query. Zero disables it.
	Timeout time.Duration

	// Bands restricts every query to the listed filters. Empty means all.
	Bands []string
}

// Matcher runs spatial queries for partitioned trajectory regions.
type Matcher struct {
	backend archive.Backend
	opts    Options
	logger  *slog.Logger
}

// New returns a Matcher querying the given backend.
func New(backend archive.Backend, opts Options, logger *slog.Logger) *Matcher {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Matcher{backend: backend, opts: opts, logger: logger}
}

// Find queries every region and merges the results. Exposures picked up
// by more than one region (boundary samples belong to both neighbors)
// collapse to their first occurrence in region order. The merged list is
// sorted by exposure time. No overlapping exposures at all is a valid,
// empty result.
func (m *Matcher) Find(ctx context.Context, regions []trajectory.Region) ([]archive.Match, error) {
	if len(regions) == 0 {
		return nil, nil
	}

	perRegion := make([][]archive.Match, len(regions))
	errs := make([]error, len(regions))
	sem := make(chan struct{}, m.opts.Workers)
	var wg sync.WaitGroup

	for i, region := range regions {
		wg.Add(1)
		go func(idx int, r trajectory.Region) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errs[idx] = ctx.Err()
				return
			}

			perRegion[idx], errs[idx] = m.queryRegion(ctx, r)
		}(i, region)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("region %d [%.5f, %.5f]: %w",
				i, regions[i].StartMJD, regions[i].EndMJD, err)
		}
	}

	seen := make(map[imageID]struct{})
	var merged []archive.Match
	raw := 0
	for _, rows := range perRegion {
		raw += len(rows)
		for _, row := range rows {
			id := imageID{visit: row.Visit, detector: row.Detector}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, row)
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.MJD != b.MJD {
			return a.MJD < b.MJD
		}
		if a.Visit != b.Visit {
			return a.Visit < b.Visit
		}
		return a.Detector < b.Detector
	})

	m.logger.Info("archive search complete",
		"regions", len(regions),
		"raw_matches", raw,
		"matches", len(merged))
	return merged, nil
}

func (m *Matcher) queryRegion(ctx context.Context, r trajectory.Region) ([]archive.Match, error) {
	if m.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := m.backend.Query(ctx, archive.Query{
		Region:   r.Polygon,
		StartMJD: r.StartMJD,
		EndMJD:   r.EndMJD,
		Bands:    m.opts.Bands,
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordArchiveQuery(time.Since(start).Seconds(), len(rows))

	m.logger.Debug("region queried",
		"start_mjd", r.StartMJD,
		"end_mjd", r.EndMJD,
		"matches", len(rows))
	return rows, nil
}

type imageID struct {
	visit    int64
	detector int
}
