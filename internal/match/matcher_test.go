package match

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/mjuric/neandertools/internal/archive"
	"github.com/mjuric/neandertools/internal/skygeom"
	"github.com/mjuric/neandertools/internal/trajectory"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

// fakeBackend routes queries by their start MJD, which is unique per
// region in these tests.
type fakeBackend struct {
	mu     sync.Mutex
	rows   map[float64][]archive.Match
	failAt map[float64]error
	bands  [][]string
}

func (f *fakeBackend) Query(ctx context.Context, q archive.Query) ([]archive.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bands = append(f.bands, q.Bands)
	if err := f.failAt[q.StartMJD]; err != nil {
		return nil, err
	}
	return f.rows[q.StartMJD], nil
}

func (f *fakeBackend) Load(ctx context.Context, visit int64, detector int) (*archive.Image, error) {
	return nil, archive.ErrUnknownImage
}

func (f *fakeBackend) Capabilities() archive.Capability { return 0 }
func (f *fakeBackend) Close() error                     { return nil }

func region(start, end float64) trajectory.Region {
	return trajectory.Region{
		StartMJD: start,
		EndMJD:   end,
		Polygon: skygeom.Polygon{
			{RA: 10, Dec: 0}, {RA: 10.2, Dec: 0}, {RA: 10.1, Dec: 0.2},
		},
	}
}

func row(visit int64, detector int, mjd float64) archive.Match {
	return archive.Match{Visit: visit, Detector: detector, Band: "r", MJD: mjd}
}

func TestFind_MergesDedupsSorts(t *testing.T) {
	// Visit 1002 sits on the shared boundary sample and comes back from
	// both regions; region A returns its rows out of time order.
	fb := &fakeBackend{rows: map[float64][]archive.Match{
		60000: {row(1001, 0, 60000.9), row(1004, 0, 60000.1), row(1002, 0, 60000.99)},
		60001: {row(1002, 0, 60000.99), row(1003, 0, 60001.5)},
	}}
	m := New(fb, Options{}, testLogger)

	got, err := m.Find(context.Background(), []trajectory.Region{
		region(60000, 60001),
		region(60001, 60002),
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}

	wantVisits := []int64{1004, 1001, 1002, 1003}
	if len(got) != len(wantVisits) {
		t.Fatalf("Find returned %d rows, want %d: %+v", len(got), len(wantVisits), got)
	}
	for i, want := range wantVisits {
		if got[i].Visit != want {
			t.Errorf("row %d visit = %d, want %d", i, got[i].Visit, want)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].MJD < got[i-1].MJD {
			t.Errorf("rows out of time order at %d: %f < %f", i, got[i].MJD, got[i-1].MJD)
		}
	}
}

func TestFind_RegionFailureFailsSearch(t *testing.T) {
	fb := &fakeBackend{
		rows:   map[float64][]archive.Match{60000: {row(1001, 0, 60000.5)}},
		failAt: map[float64]error{60001: archive.ErrUnavailable},
	}
	m := New(fb, Options{}, testLogger)

	_, err := m.Find(context.Background(), []trajectory.Region{
		region(60000, 60001),
		region(60001, 60002),
	})
	if !errors.Is(err, archive.ErrUnavailable) {
		t.Fatalf("Find = %v, want ErrUnavailable", err)
	}
}

func TestFind_EmptyResultIsValid(t *testing.T) {
	fb := &fakeBackend{rows: map[float64][]archive.Match{}}
	m := New(fb, Options{}, testLogger)

	got, err := m.Find(context.Background(), []trajectory.Region{region(60000, 60001)})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Find = %+v, want empty", got)
	}
}

func TestFind_NoRegions(t *testing.T) {
	m := New(&fakeBackend{}, Options{}, testLogger)
	got, err := m.Find(context.Background(), nil)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got != nil {
		t.Errorf("Find = %+v, want nil", got)
	}
}

func TestFind_BandsForwarded(t *testing.T) {
	fb := &fakeBackend{rows: map[float64][]archive.Match{}}
	m := New(fb, Options{Bands: []string{"g", "r"}}, testLogger)

	if _, err := m.Find(context.Background(), []trajectory.Region{region(60000, 60001)}); err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(fb.bands) != 1 || len(fb.bands[0]) != 2 || fb.bands[0][0] != "g" {
		t.Errorf("forwarded bands = %+v", fb.bands)
	}
}

func TestFind_Canceled(t *testing.T) {
	fb := &fakeBackend{rows: map[float64][]archive.Match{}}
	m := New(fb, Options{}, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Find(ctx, []trajectory.Region{region(60000, 60001)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Find = %v, want context.Canceled", err)
	}
}
