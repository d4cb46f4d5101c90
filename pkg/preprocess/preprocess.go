// Package preprocess turns image files into model input tensors.
//
// Every image is converted to RGB before any numeric step, resized to the
// stage's fixed resolution, normalized, and packed as a 1xHxWx3 tensor. The
// detection and regeneration stages use different configurations; see
// DetectionConfig and RegenerationConfig.
package preprocess

import (
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/ksamirdev/unai/pkg/imageio"
	"github.com/ksamirdev/unai/pkg/tensor"
)

// Resampling filters
const (
	ResampleNearest  = "nearest"
	ResampleBilinear = "bilinear"
	ResampleBicubic  = "bicubic"
	ResampleLanczos  = "lanczos"
)

// Fit modes
const (
	// FitStretch resizes to the target size ignoring aspect ratio
	FitStretch = "stretch"
	// FitFill scales to cover the target size and crops the center
	FitFill = "fill"
)

// Channels is the number of color channels in every produced tensor
const Channels = 3

// Config holds the per-stage preprocessing parameters
type Config struct {
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	Resample      string        `json:"resample"`
	Fit           string        `json:"fit"`
	Normalization Normalization `json:"normalization"`
	// AutoOrient applies the EXIF orientation tag before resizing
	AutoOrient bool `json:"auto_orient,omitempty"`
}

// DetectionConfig is the classifier stage default: 128x128 bicubic, [0,1]
func DetectionConfig() Config {
	return Config{
		Width:         128,
		Height:        128,
		Resample:      ResampleBicubic,
		Fit:           FitStretch,
		Normalization: Unit,
	}
}

// RegenerationConfig is the generator stage default: 128x128 bilinear, ImageNet mean/std
func RegenerationConfig() Config {
	return Config{
		Width:         128,
		Height:        128,
		Resample:      ResampleBilinear,
		Fit:           FitStretch,
		Normalization: ImageNet,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.Width < 1 || c.Height < 1 {
		return fmt.Errorf("target size must be positive, got %dx%d", c.Width, c.Height)
	}
	if _, err := filterFor(c.Resample); err != nil {
		return err
	}
	switch c.Fit {
	case "", FitStretch, FitFill:
	default:
		return fmt.Errorf("unknown fit mode %q", c.Fit)
	}
	return c.Normalization.Validate()
}

// Preprocessor converts images into tensors for one stage
type Preprocessor struct {
	config Config
	filter imaging.ResampleFilter
}

// New creates a Preprocessor for cfg
func New(cfg Config) (*Preprocessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	filter, _ := filterFor(cfg.Resample)
	return &Preprocessor{config: cfg, filter: filter}, nil
}

// Config returns the stage configuration
func (p *Preprocessor) Config() Config {
	return p.config
}

// Preprocess loads the image at path and converts it to a tensor
func (p *Preprocessor) Preprocess(path string) (*tensor.Tensor, error) {
	img, err := p.Load(path)
	if err != nil {
		return nil, err
	}
	return p.FromImage(img), nil
}

// Load decodes the image at path and rejects empty images
func (p *Preprocessor) Load(path string) (image.Image, error) {
	img, err := imageio.Open(path, p.config.AutoOrient)
	if err != nil {
		return nil, err
	}
	if err := imageio.ValidateImage(img, 1); err != nil {
		return nil, err
	}
	return img, nil
}

// FromImage converts an already decoded image to a tensor
func (p *Preprocessor) FromImage(img image.Image) *tensor.Tensor {
	rgb := toRGB(img)

	var resized *image.NRGBA
	if p.config.Fit == FitFill {
		resized = imaging.Fill(rgb, p.config.Width, p.config.Height, imaging.Center, p.filter)
	} else {
		resized = imaging.Resize(rgb, p.config.Width, p.config.Height, p.filter)
	}

	w, h := p.config.Width, p.config.Height
	out := tensor.New(h, w, Channels)
	norm := p.config.Normalization
	for y := 0; y < h; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+w*4]
		for x := 0; x < w; x++ {
			px := out.Pixel(y, x)
			for c := 0; c < Channels; c++ {
				px[c] = norm.Apply(c, float32(row[x*4+c])/255)
			}
		}
	}
	return out
}

// toRGB drops the alpha channel while keeping color values, so grayscale,
// paletted and RGBA sources all share one RGB channel order
func toRGB(img image.Image) *image.NRGBA {
	nrgba := imaging.Clone(img)
	for i := 3; i < len(nrgba.Pix); i += 4 {
		nrgba.Pix[i] = 0xff
	}
	return nrgba
}

func filterFor(name string) (imaging.ResampleFilter, error) {
	switch strings.ToLower(name) {
	case ResampleNearest:
		return imaging.NearestNeighbor, nil
	case "", ResampleBilinear:
		return imaging.Linear, nil
	case ResampleBicubic:
		return imaging.CatmullRom, nil
	case ResampleLanczos:
		return imaging.Lanczos, nil
	default:
		return imaging.ResampleFilter{}, fmt.Errorf("unknown resample filter %q", name)
	}
}
