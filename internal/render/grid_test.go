package render

import (
	"path/filepath"
	"testing"

	"github.com/mjuric/neandertools/internal/cutout"
)

func brightCorner(width, height int, v float32) *cutout.Stamp {
	s := uniformStamp(width, height, 0)
	s.Pix[0] = v
	return s
}

func TestWriteGrid(t *testing.T) {
	stamps := []*cutout.Stamp{
		brightCorner(4, 4, 10),
		uniformStamp(4, 4, 0),
		brightCorner(4, 4, 1000),
		uniformStamp(4, 4, 0),
		brightCorner(2, 2, 5), // smaller stamp, centered in its cell
	}
	path := filepath.Join(t.TempDir(), "grid.png")
	if err := WriteGrid(stamps, 2, 0, 1, path); err != nil {
		t.Fatalf("WriteGrid: %v", err)
	}

	img := decodePNG(t, path)
	// 2 columns x 3 rows of 4x4 cells with 4 px padding all around.
	if got := img.Bounds().Size(); got.X != 20 || got.Y != 28 {
		t.Fatalf("size = %v, want 20x28", got)
	}

	// The bright corner of each stamp lands at the bottom-left of its
	// cell and stretches to black regardless of its absolute value.
	for _, p := range []struct {
		name string
		x, y int
		want uint16
	}{
		{"stamp 0 bright corner", 4, 7, 0},
		{"stamp 0 faint neighbor", 5, 7, 65535},
		{"stamp 2 bright corner", 4, 15, 0},
		{"centered small stamp corner", 5, 22, 0},
		{"padding between cells", 10, 10, 65535},
		{"unused trailing cell", 13, 21, 65535},
	} {
		if got := img.Gray16At(p.x, p.y).Y; got != p.want {
			t.Errorf("%s at (%d, %d) = %d, want %d", p.name, p.x, p.y, got, p.want)
		}
	}
}

func TestWriteGrid_DefaultColumns(t *testing.T) {
	stamps := make([]*cutout.Stamp, 5)
	for i := range stamps {
		stamps[i] = uniformStamp(4, 4, 1)
	}
	path := filepath.Join(t.TempDir(), "grid.png")
	if err := WriteGrid(stamps, 0, 0, DefaultGridQMax, path); err != nil {
		t.Fatalf("WriteGrid: %v", err)
	}
	img := decodePNG(t, path)
	if got := img.Bounds().Size(); got.X != 44 || got.Y != 12 {
		t.Fatalf("size = %v, want 44x12 for a single default-width row", got)
	}
}

func TestWriteGrid_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.png")
	if err := WriteGrid(nil, 2, 0, 1, path); err == nil {
		t.Error("expected error for no stamps")
	}
	s := []*cutout.Stamp{uniformStamp(2, 2, 1)}
	if err := WriteGrid(s, 2, 0.9, 0.1, path); err == nil {
		t.Error("expected error for inverted quantiles")
	}
	if err := WriteGrid(s, 2, 0, 1.5, path); err == nil {
		t.Error("expected error for quantile above 1")
	}
}
