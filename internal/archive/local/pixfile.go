package local

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// Pixel files hold row-major float32 samples, little endian, no header.
// Shape lives in the index, so a size mismatch between the two is a
// corruption signal rather than something to repair silently.

func readPixelFile(path string, want int) ([]float32, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pixel file: %w", err)
	}
	if len(buf) != want*4 {
		return nil, fmt.Errorf("pixel file %s holds %d bytes, want %d", path, len(buf), want*4)
	}
	pix := make([]float32, want)
	for i := range pix {
		pix[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return pix, nil
}

func writePixelFile(path string, pix []float32) error {
	buf := make([]byte, len(pix)*4)
	for i, v := range pix {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write pixel file: %w", err)
	}
	return nil
}
