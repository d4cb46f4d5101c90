// Package generator rebuilds the image regeneration network from a
// checkpoint and runs it on preprocessed images.
//
// Two architectures are supported. The residual-attention U-Net is the
// canonical one; the plain U-Net is accepted for older checkpoints. The
// variant is detected from parameter names unless configured explicitly, and
// every parameter is checked for presence and shape before any layer is built.
package generator

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ksamirdev/unai/internal/logging"
	"github.com/ksamirdev/unai/pkg/checkpoint"
	"github.com/ksamirdev/unai/pkg/tensor"
)

// Generator is a loaded regeneration network
type Generator struct {
	Variant Variant
	// Base is the channel width of the first encoder layer
	Base int
	// Path is the checkpoint location, empty for generators built in memory
	Path string
	net  network
}

// Build constructs a generator from an unwrapped state dict.
// variant may be VariantAuto or empty to detect it.
func Build(sd checkpoint.StateDict, variant Variant) (*Generator, error) {
	if variant == "" || variant == VariantAuto {
		v, err := DetectVariant(sd)
		if err != nil {
			return nil, err
		}
		variant = v
	}

	base, err := BaseWidth(sd, variant)
	if err != nil {
		return nil, err
	}
	want, err := Parameters(variant, base)
	if err != nil {
		return nil, err
	}
	if err := checkParameters(sd, want); err != nil {
		return nil, err
	}

	g := &Generator{Variant: variant, Base: base}
	switch variant {
	case VariantResidualAttention:
		g.net, err = buildResidualAttention(sd, want)
	case VariantPlain:
		g.net, err = buildPlain(sd, want)
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Load reads a safetensors checkpoint, unwraps a training record if present
// and builds the generator
func Load(path string, variant Variant, log logrus.FieldLogger) (*Generator, error) {
	log = logging.OrDiscard(log)

	ckpt, err := checkpoint.Load(path)
	if err != nil {
		return nil, err
	}
	sd, key := checkpoint.Unwrap(ckpt.Tensors, checkpoint.WrapperKeys)
	if key != "" {
		log.Debugf("Loaded from '%s'", key)
	} else {
		log.Debugf("Loaded from direct state dict")
	}

	g, err := Build(sd, variant)
	if err != nil {
		return nil, err
	}
	g.Path = path
	log.WithFields(logrus.Fields{
		"variant": g.Variant,
		"base":    g.Base,
	}).Infof("Loaded regeneration model from %s (%s)", logging.Sanitize(path), ckpt.Summary())
	return g, nil
}

// Divisor is the factor input height and width must be multiples of
func (g *Generator) Divisor() int {
	return g.net.divisor()
}

// Generate maps a normalized 1xHxWx3 tensor to a 1xHxWx3 tensor in [-1,1]
func (g *Generator) Generate(x *tensor.Tensor) (*tensor.Tensor, error) {
	d := g.net.divisor()
	if x.Shape.N() != 1 || x.Shape.C() != 3 {
		return nil, fmt.Errorf("generator expects a 1xHxWx3 input, got %s", x.Shape)
	}
	if x.Shape.H()%d != 0 || x.Shape.W()%d != 0 || x.Shape.H() == 0 || x.Shape.W() == 0 {
		return nil, fmt.Errorf("%s generator needs height and width divisible by %d, got %dx%d",
			g.Variant, d, x.Shape.H(), x.Shape.W())
	}
	return g.net.forward(x)
}
