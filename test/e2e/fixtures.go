// Package e2e provides end-to-end tests; this file builds a corpus of small, distinct images.
package e2e

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
)

// Corpus is a folder of generated images with their base names in write order.
type Corpus struct {
	Dir   string
	Names []string
}

// WriteCorpus writes n images into dir/sub. Each image has a unique pixel pattern,
// so content-hashing providers give every file its own embedding.
func WriteCorpus(dir, sub string, n int) (*Corpus, error) {
	folder := filepath.Join(dir, sub)
	if err := os.MkdirAll(folder, 0755); err != nil {
		return nil, err
	}
	c := &Corpus{Dir: folder}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("img_%03d.png", i)
		if err := WritePNG(filepath.Join(folder, name), i); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
		c.Names = append(c.Names, name)
	}
	return c, nil
}

// WritePNG writes an 8x8 PNG whose pixels are derived from seed.
func WritePNG(path string, seed int) error {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			v := uint8((seed*31 + x*7 + y*13) % 256)
			img.Set(x, y, color.RGBA{R: v, G: uint8(seed), B: uint8(x * y), A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
