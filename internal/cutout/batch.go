package cutout

import (
	"context"
	"sync"
	"time"

	"github.com/mjuric/neandertools/internal/metrics"
)

type batchJob struct {
	idx int
	req Request
}

// ExtractBatch extracts one stamp per request and returns exactly
// len(reqs) results in request order. A failing row records its error
// in place and never aborts the rest. Workers > 1 fans rows out over a
// fixed pool; the sequential path produces identical results, so the
// pool is a pure throughput knob. With ctx canceled, remaining rows
// fail fast with the context error.
func (e *Extractor) ExtractBatch(ctx context.Context, reqs []Request) []Result {
	if len(reqs) == 0 {
		return nil
	}
	start := time.Now()
	results := make([]Result, len(reqs))

	if e.opts.Workers <= 1 {
		for i, req := range reqs {
			results[i] = e.Extract(ctx, req)
		}
	} else {
		jobs := make(chan batchJob, e.opts.Workers*2)

		var wg sync.WaitGroup
		for w := 0; w < e.opts.Workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for job := range jobs {
					results[job.idx] = e.Extract(ctx, job.req)
				}
			}()
		}

		// Extract bails out per row once ctx is canceled, so the feed
		// always drains and no row is left unwritten.
		for i, req := range reqs {
			jobs <- batchJob{idx: i, req: req}
		}
		close(jobs)
		wg.Wait()
	}

	var valid, excluded, failed int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
		case !r.Valid:
			excluded++
		default:
			valid++
		}
	}
	metrics.RecordExtraction(time.Since(start).Seconds(), valid, excluded, failed)
	e.logger.Info("extraction complete",
		"requests", len(reqs),
		"valid", valid,
		"excluded", excluded,
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds())
	return results
}
