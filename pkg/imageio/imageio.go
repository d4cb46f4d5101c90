package imageio

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ksamirdev/unai/pkg/types"
)

// EncodeOptions controls how an image is written
type EncodeOptions struct {
	Format   string `json:"format"`             // jpg, png or webp
	Quality  int    `json:"quality"`            // 1-100, jpg and lossy webp only
	Lossless bool   `json:"lossless,omitempty"` // webp only
}

// DefaultEncodeOptions writes JPEG at quality 95
var DefaultEncodeOptions = EncodeOptions{Format: "jpg", Quality: 95}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	AspectRatio float64
}

// Load opens and decodes an image file as stored, ignoring EXIF orientation
func Load(path string) (image.Image, error) {
	return Open(path, false)
}

// Open decodes an image file. With autoOrient the EXIF orientation tag of
// JPEG files is applied.
func Open(path string, autoOrient bool) (image.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", types.ErrInputNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrImageDecode, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", types.ErrInputNotFound, path)
	}

	if img, err := imaging.Open(path, imaging.AutoOrientation(autoOrient)); err == nil {
		return img, nil
	}

	// Fallback: explicit WebP decode
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrImageDecode, err)
	}
	defer f.Close()

	if img, err := webp.Decode(f); err == nil {
		return img, nil
	}
	if _, err := f.Seek(0, 0); err == nil {
		if img, _, err := image.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown format for %s", types.ErrImageDecode, path)
}

// Save encodes img to path according to opts
func Save(img image.Image, path string, opts EncodeOptions) error {
	switch strings.ToLower(opts.Format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := webp.Encode(f, img, &webp.Options{Lossless: opts.Lossless, Quality: float32(opts.Quality)}); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	case "png":
		return imaging.Save(img, path)
	case "", "jpg", "jpeg":
		return imaging.Save(img, path, imaging.JPEGQuality(opts.Quality))
	default:
		return fmt.Errorf("unsupported output format: %s", opts.Format)
	}
}

// Extension returns the file extension for a format name
func Extension(format string) string {
	switch strings.ToLower(format) {
	case "png":
		return "png"
	case "webp":
		return "webp"
	default:
		return "jpg"
	}
}

// ValidateImage checks that an image is at least minSize pixels on each side
func ValidateImage(img image.Image, minSize int) error {
	bounds := img.Bounds()
	if bounds.Dx() < minSize || bounds.Dy() < minSize {
		return fmt.Errorf("%w: image too small: %dx%d (minimum: %d)",
			types.ErrImageDecode, bounds.Dx(), bounds.Dy(), minSize)
	}
	return nil
}

// GetImageInfo returns basic information about an image
func GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	info := ImageInfo{Width: width, Height: height}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}
