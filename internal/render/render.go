// Package render writes processed stamps to disk for inspection: one
// grayscale PNG per frame, an animated blink GIF, and a contact-sheet
// grid. All renderers draw with the origin at the bottom left, the
// usual orientation for sky images.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/mjuric/neandertools/internal/cutout"
)

// FrameName builds the filename for the frame at position index taken
// at epoch mjd. The zero-padded index keeps a lexically sorted
// directory listing in chronological order.
func FrameName(index int, mjd float64) string {
	return fmt.Sprintf("frame_%04d_mjd%.5f.png", index, mjd)
}

// WritePNG renders one stamp to a 16-bit grayscale PNG, mapping
// [vmin, vmax] linearly onto the gray range. Values outside the range
// clamp to its ends; NaN pixels come out black.
func WritePNG(s *cutout.Stamp, vmin, vmax float64, path string) error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("rendering empty stamp")
	}
	img := image.NewGray16(image.Rect(0, 0, s.Width, s.Height))
	for y := 0; y < s.Height; y++ {
		row := s.Height - 1 - y
		for x := 0; x < s.Width; x++ {
			t := scaled(float64(s.At(x, y)), vmin, vmax)
			img.SetGray16(x, row, color.Gray16{Y: uint16(math.Round(t * 65535))})
		}
	}
	return writeImage(path, img)
}

// WriteFrames renders every stamp into dir with WritePNG, naming each
// file with FrameName from its position and epoch. mjds carries one
// epoch per stamp. Returns the written paths in frame order.
func WriteFrames(stamps []*cutout.Stamp, mjds []float64, vmin, vmax float64, dir string) ([]string, error) {
	if len(mjds) != len(stamps) {
		return nil, fmt.Errorf("rendering frames: %d stamps but %d epochs", len(stamps), len(mjds))
	}
	paths := make([]string, len(stamps))
	for i, s := range stamps {
		p := filepath.Join(dir, FrameName(i, mjds[i]))
		if err := WritePNG(s, vmin, vmax, p); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		paths[i] = p
	}
	return paths, nil
}

// scaled maps v onto [0, 1] between vmin and vmax, clamping outside
// values. NaN maps to 0.
func scaled(v, vmin, vmax float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	span := vmax - vmin
	if span <= 0 {
		span = 1e-12
	}
	t := (v - vmin) / span
	return math.Min(math.Max(t, 0), 1)
}

// writeImage PNG-encodes img and writes it, creating the parent
// directory when needed.
func writeImage(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encoding png: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing png: %w", err)
	}
	return nil
}
