package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ksamirdev/unai/internal/logging"
	"github.com/ksamirdev/unai/pkg/imageio"
	"github.com/ksamirdev/unai/pkg/postprocess"
	"github.com/ksamirdev/unai/pkg/preprocess"
	"github.com/ksamirdev/unai/pkg/resolver"
	"github.com/ksamirdev/unai/pkg/types"
)

// ErrUnavailable is reported when no usable checkpoint was loaded
var ErrUnavailable = errors.New("regenerator model not available")

// Config configures checkpoint resolution, preprocessing and output
type Config struct {
	Search  resolver.Search `json:"search"`
	Variant Variant         `json:"variant"`
	// Preprocess applies to the residual-attention variant
	Preprocess preprocess.Config `json:"preprocess"`
	// PlainPreprocess applies to the plain variant
	PlainPreprocess preprocess.Config  `json:"plain_preprocess"`
	Output          postprocess.Config `json:"output"`
}

// DefaultConfig returns the regeneration defaults
func DefaultConfig(modelsDir, projectRoot string) Config {
	plain := preprocess.RegenerationConfig()
	plain.Width, plain.Height = 256, 256
	plain.Normalization = preprocess.Symmetric

	return Config{
		Search:          resolver.GeneratorSearch(modelsDir),
		Variant:         VariantAuto,
		Preprocess:      preprocess.RegenerationConfig(),
		PlainPreprocess: plain,
		Output:          postprocess.DefaultConfig(projectRoot),
	}
}

// Regenerator runs the regeneration stage. It is usable without a generator,
// in which case every request reports ErrUnavailable.
type Regenerator struct {
	gen *Generator
	pre *preprocess.Preprocessor
	out postprocess.Config
	log logrus.FieldLogger
}

// LoadRegenerator resolves and loads the checkpoint. A missing or unusable
// checkpoint is logged and yields an unavailable regenerator, not an error.
func LoadRegenerator(cfg Config, log logrus.FieldLogger) (*Regenerator, error) {
	log = logging.OrDiscard(log).WithField("component", "regenerator")

	var gen *Generator
	if path, ok := resolver.New(log).Find(cfg.Search); ok {
		g, err := Load(path, cfg.Variant, log)
		if err != nil {
			log.WithError(err).Warnf("Could not load regeneration model from %s", logging.Sanitize(path))
		} else {
			gen = g
		}
	} else {
		log.Warnf("Regeneration model: %v", resolver.ErrModelNotFound)
	}
	return NewRegenerator(gen, cfg, log)
}

// NewRegenerator wraps gen, which may be nil
func NewRegenerator(gen *Generator, cfg Config, log logrus.FieldLogger) (*Regenerator, error) {
	pcfg := cfg.Preprocess
	if gen != nil && gen.Variant == VariantPlain {
		pcfg = cfg.PlainPreprocess
	}
	pre, err := preprocess.New(pcfg)
	if err != nil {
		return nil, fmt.Errorf("regeneration preprocessing: %w", err)
	}
	if err := cfg.Output.Validate(); err != nil {
		return nil, err
	}
	if gen != nil {
		d := gen.Divisor()
		if pcfg.Width%d != 0 || pcfg.Height%d != 0 {
			return nil, fmt.Errorf("regeneration size %dx%d is not divisible by %d", pcfg.Width, pcfg.Height, d)
		}
	}
	return &Regenerator{gen: gen, pre: pre, out: cfg.Output, log: logging.OrDiscard(log)}, nil
}

// Available reports whether a generator is loaded
func (r *Regenerator) Available() bool {
	return r != nil && r.gen != nil
}

// Generator returns the loaded generator or nil
func (r *Regenerator) Generator() *Generator {
	return r.gen
}

// Regenerate produces the regenerated version of the image at path and
// writes it to the output directory
func (r *Regenerator) Regenerate(ctx context.Context, path string) (res *types.RegenerationResult) {
	defer func() {
		if rec := recover(); rec != nil {
			res = types.RegenerationError(fmt.Errorf("%w: %v", types.ErrInference, rec))
		}
	}()

	if !r.Available() {
		return types.RegenerationError(ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return types.RegenerationError(err)
	}

	src, err := r.pre.Load(path)
	if err != nil {
		return types.RegenerationError(err)
	}
	info := imageio.GetImageInfo(src)
	r.log.Debugf("Regenerating %dx%d source at %dx%d", info.Width, info.Height, r.pre.Config().Width, r.pre.Config().Height)

	y, err := r.gen.Generate(r.pre.FromImage(src))
	if err != nil {
		return types.RegenerationError(fmt.Errorf("%w: %v", types.ErrInference, err))
	}
	if lo, hi := y.Range(); lo < -1 || hi > 1 {
		r.log.Debugf("Generator output range [%.3f, %.3f] clamped", lo, hi)
	}

	img, err := postprocess.ToImage(y)
	if err != nil {
		return types.RegenerationError(fmt.Errorf("%w: %v", types.ErrInference, err))
	}
	dest, err := postprocess.Save(img, r.out, path)
	if err != nil {
		return types.RegenerationError(err)
	}

	r.log.Infof("Regenerated image saved to: %s", logging.Sanitize(dest))
	return &types.RegenerationResult{
		Success:    true,
		OutputPath: &dest,
		Variant:    string(r.gen.Variant),
		Status:     types.StatusSuccess,
	}
}
