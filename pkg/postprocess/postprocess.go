// Package postprocess converts generator output back into an image file.
package postprocess

import (
	"fmt"
	"image"
	"math"
	"path/filepath"

	"github.com/ksamirdev/unai/internal/utils"
	"github.com/ksamirdev/unai/pkg/imageio"
	"github.com/ksamirdev/unai/pkg/tensor"
	"github.com/ksamirdev/unai/pkg/types"
)

// Config controls where and how regenerated images are written
type Config struct {
	// Root is the project root. Output paths are reported relative to it.
	Root string `json:"root"`
	// Dir is the output directory, relative to Root unless absolute
	Dir    string                `json:"dir"`
	Suffix string                `json:"suffix"`
	Encode imageio.EncodeOptions `json:"encode"`
}

// DefaultConfig writes <root>/uploads/regenerated/<name>_regenerated.jpg at JPEG quality 95
func DefaultConfig(root string) Config {
	return Config{
		Root:   root,
		Dir:    filepath.Join("uploads", "regenerated"),
		Suffix: "_regenerated",
		Encode: imageio.DefaultEncodeOptions,
	}
}

// Validate checks the output settings
func (c Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("output directory must be set")
	}
	switch c.Encode.Format {
	case "", "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("unsupported output format: %s", c.Encode.Format)
	}
	if c.Encode.Quality < 1 || c.Encode.Quality > 100 {
		return fmt.Errorf("output quality must be between 1 and 100, got %d", c.Encode.Quality)
	}
	return nil
}

// Destination returns the output path for input, relative to Root when Dir is relative.
// The same input always maps to the same destination.
func (c Config) Destination(input string) string {
	return utils.GenerateOutputFilename(input, c.Dir, "", c.Suffix, imageio.Extension(c.Encode.Format))
}

// resolve turns a destination into a filesystem path
func (c Config) resolve(dest string) string {
	if filepath.IsAbs(dest) || c.Root == "" {
		return dest
	}
	return filepath.Join(c.Root, dest)
}

// ToImage maps a 1xHxWx3 tensor in [-1,1] to an 8-bit RGB image.
// Values are shifted by (x+1)/2, clamped to [0,1] and truncated to 0..255.
func ToImage(t *tensor.Tensor) (*image.NRGBA, error) {
	if t.Shape.N() != 1 || t.Shape.C() != 3 {
		return nil, fmt.Errorf("expected a 1xHxWx3 tensor, got %s", t.Shape)
	}

	h, w := t.Shape.H(), t.Shape.W()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := t.Pixel(y, x)
			i := img.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				img.Pix[i+c] = toByte(px[c])
			}
			img.Pix[i+3] = 0xff
		}
	}
	return img, nil
}

func toByte(v float32) uint8 {
	f := (float64(v) + 1) / 2
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= 1 {
		return 255
	}
	return uint8(f * 255)
}

// Save writes img as the regenerated version of input and returns the
// destination path as reported in results
func Save(img image.Image, cfg Config, input string) (string, error) {
	dest := cfg.Destination(input)
	path := cfg.resolve(dest)

	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return "", fmt.Errorf("%w: create output directory: %v", types.ErrWrite, err)
	}
	if err := imageio.Save(img, path, cfg.Encode); err != nil {
		return "", fmt.Errorf("%w: %s: %v", types.ErrWrite, dest, err)
	}
	return dest, nil
}
