package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"math"
	"os"
	"path/filepath"

	"github.com/mjuric/neandertools/internal/cutout"
)

// DefaultDelayMS is the per-frame delay of a blink GIF.
const DefaultDelayMS = 500

// WriteGIF renders the stamps as an animated GIF that loops forever.
// Every frame shares the [vmin, vmax] display range and a 256-level
// gray palette; delayMS is the per-frame delay, with values <= 0
// picking DefaultDelayMS. All stamps must share one shape.
func WriteGIF(stamps []*cutout.Stamp, vmin, vmax float64, delayMS int, path string) error {
	if len(stamps) == 0 {
		return fmt.Errorf("rendering gif: no frames")
	}
	if delayMS <= 0 {
		delayMS = DefaultDelayMS
	}

	pal := make(color.Palette, 256)
	for i := range pal {
		pal[i] = color.Gray{Y: uint8(i)}
	}

	width, height := stamps[0].Width, stamps[0].Height
	if width <= 0 || height <= 0 {
		return fmt.Errorf("rendering gif: empty frames")
	}
	anim := &gif.GIF{LoopCount: 0}
	for i, s := range stamps {
		if s.Width != width || s.Height != height {
			return fmt.Errorf("rendering gif: frame %d is %dx%d, want %dx%d", i, s.Height, s.Width, height, width)
		}
		img := image.NewPaletted(image.Rect(0, 0, width, height), pal)
		for y := 0; y < height; y++ {
			row := height - 1 - y
			for x := 0; x < width; x++ {
				t := scaled(float64(s.At(x, y)), vmin, vmax)
				// Palette entry i is gray level i, so the index needs
				// no color match.
				img.SetColorIndex(x, row, uint8(math.Round(t*255)))
			}
		}
		anim.Image = append(anim.Image, img)
		anim.Delay = append(anim.Delay, delayMS/10) // gif time unit is 1/100 s
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return fmt.Errorf("encoding gif: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing gif: %w", err)
	}
	return nil
}
