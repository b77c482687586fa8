package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestHandlerExposesCollectors records a sample through each helper and
// verifies the scrape output carries the collector families.
func TestHandlerExposesCollectors(t *testing.T) {
	AddEphemerisSamples("horizons", 25)
	RecordArchiveQuery(0.031, 4)
	IncCacheHits()
	IncCacheMisses()
	AddCacheEvictions(2)
	SetCacheEntries(3)
	SetCacheSizeBytes(1 << 20)
	RecordExtraction(0.5, 4, 1, 0)
	ObserveStage("match", 0.12)
	RecordRun("ok")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scrape status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read scrape body: %v", err)
	}

	text := string(body)
	for _, family := range []string{
		"neander_ephemeris_samples_total",
		"neander_archive_queries_total",
		"neander_archive_matches_total",
		"neander_archive_query_duration_seconds",
		"neander_image_cache_hits_total",
		"neander_image_cache_misses_total",
		"neander_image_cache_evictions_total",
		"neander_image_cache_entries",
		"neander_image_cache_size_bytes",
		"neander_cutouts_total",
		"neander_extraction_duration_seconds",
		"neander_stage_duration_seconds",
		"neander_runs_total",
	} {
		if !strings.Contains(text, family) {
			t.Errorf("scrape output missing %s", family)
		}
	}

	if !strings.Contains(text, `neander_cutouts_total{outcome="valid"} 4`) {
		t.Errorf("valid cutout count not recorded:\n%s", text)
	}
	if !strings.Contains(text, `neander_runs_total{status="ok"} 1`) {
		t.Errorf("run status not recorded")
	}
}
