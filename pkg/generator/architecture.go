package generator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ksamirdev/unai/pkg/checkpoint"
	"github.com/ksamirdev/unai/pkg/nn"
	"github.com/ksamirdev/unai/pkg/tensor"
)

// Variant names a generator architecture
type Variant string

const (
	// VariantAuto picks the architecture from the checkpoint parameter names
	VariantAuto Variant = "auto"
	// VariantResidualAttention is the U-Net with residual bottleneck and channel attention
	VariantResidualAttention Variant = "residual-attention"
	// VariantPlain is the smaller U-Net without attention
	VariantPlain Variant = "plain"
)

const (
	leakySlope      = 0.2
	residualBlocks  = 3
	attentionFactor = 16
)

// network is a built generator graph
type network interface {
	forward(x *tensor.Tensor) (*tensor.Tensor, error)
	// divisor is the factor every spatial input size must be a multiple of
	divisor() int
}

// DetectVariant infers the architecture from parameter names
func DetectVariant(sd checkpoint.StateDict) (Variant, error) {
	switch {
	case sd.Has("enc1.0.weight"):
		return VariantResidualAttention, nil
	case sd.Has("encoder.0.weight"):
		return VariantPlain, nil
	default:
		return "", fmt.Errorf("unrecognized generator checkpoint: no enc1.0.weight or encoder.0.weight")
	}
}

// BaseWidth reads the channel count of the first encoder layer
func BaseWidth(sd checkpoint.StateDict, v Variant) (int, error) {
	name := "enc1.0.weight"
	if v == VariantPlain {
		name = "encoder.0.weight"
	}
	p, ok := sd[name]
	if !ok || len(p.Shape) != 4 {
		return 0, fmt.Errorf("missing or malformed %s", name)
	}
	return int(p.Shape[0]), nil
}

// Parameters lists every parameter name and shape the variant needs at base width
func Parameters(v Variant, base int) (map[string][]int64, error) {
	if base < 2 || base%2 != 0 {
		return nil, fmt.Errorf("base width must be a positive even number, got %d", base)
	}
	b := int64(base)
	ps := map[string][]int64{}
	conv := func(name string, out, in, k int64, bias bool) {
		ps[name+".weight"] = []int64{out, in, k, k}
		if bias {
			ps[name+".bias"] = []int64{out}
		}
	}
	convT := func(name string, in, out, k int64, bias bool) {
		ps[name+".weight"] = []int64{in, out, k, k}
		if bias {
			ps[name+".bias"] = []int64{out}
		}
	}
	bn := func(name string, c int64) {
		for _, s := range []string{"weight", "bias", "running_mean", "running_var"} {
			ps[name+"."+s] = []int64{c}
		}
	}

	switch v {
	case VariantResidualAttention:
		widths := []int64{3, b, 2 * b, 4 * b, 8 * b}
		for i := 1; i <= 4; i++ {
			conv(fmt.Sprintf("enc%d.0", i), widths[i], widths[i-1], 4, false)
			bn(fmt.Sprintf("enc%d.1", i), widths[i])
		}
		c := 8 * b
		for i := 0; i < residualBlocks; i++ {
			conv(fmt.Sprintf("bottleneck.%d.conv1", i), c, c, 3, false)
			bn(fmt.Sprintf("bottleneck.%d.bn1", i), c)
			conv(fmt.Sprintf("bottleneck.%d.conv2", i), c, c, 3, false)
			bn(fmt.Sprintf("bottleneck.%d.bn2", i), c)
		}
		r := c / attentionFactor
		if r < 1 {
			r = 1
		}
		conv("attention.1", r, c, 1, true)
		conv("attention.3", c, r, 1, true)
		decoders := []struct {
			name    string
			in, out int64
		}{
			{"dec4", 16 * b, 4 * b},
			{"dec3", 8 * b, 2 * b},
			{"dec2", 4 * b, b},
			{"dec1", 2 * b, b},
		}
		for _, d := range decoders {
			convT(d.name+".0", d.in, d.out, 4, false)
			bn(d.name+".1", d.out)
		}
		conv("final_conv.0", b/2, b, 3, true)
		bn("final_conv.1", b/2)
		conv("final_conv.3", 3, b/2, 3, true)

	case VariantPlain:
		conv("encoder.0", b, 3, 4, true)
		conv("encoder.2", 2*b, b, 4, true)
		bn("encoder.3", 2*b)
		conv("encoder.5", 4*b, 2*b, 4, true)
		bn("encoder.6", 4*b)
		conv("encoder.8", 8*b, 4*b, 4, true)
		bn("encoder.9", 8*b)
		conv("bottleneck.0", 8*b, 8*b, 4, true)
		convT("bottleneck.2", 8*b, 8*b, 4, true)
		bn("bottleneck.3", 8*b)
		convT("decoder.0", 16*b, 4*b, 4, true)
		bn("decoder.1", 4*b)
		convT("decoder.3", 8*b, 2*b, 4, true)
		bn("decoder.4", 2*b)
		convT("decoder.6", 4*b, b, 4, true)
		bn("decoder.7", b)
		convT("decoder.9", 2*b, 3, 4, true)

	default:
		return nil, fmt.Errorf("unknown generator variant %q", v)
	}
	return ps, nil
}

// checkParameters verifies sd holds exactly the expected parameters.
// BatchNorm num_batches_tracked counters are ignored.
func checkParameters(sd checkpoint.StateDict, want map[string][]int64) error {
	var missing, unexpected []string
	for _, name := range sd.Names() {
		if _, ok := want[name]; !ok && !strings.HasSuffix(name, "num_batches_tracked") {
			unexpected = append(unexpected, name)
		}
	}
	for name, shape := range want {
		p, ok := sd[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if fmt.Sprint(p.Shape) != fmt.Sprint(shape) {
			return fmt.Errorf("parameter %q has shape %v, want %v", name, p.Shape, shape)
		}
	}
	if len(missing) > 0 || len(unexpected) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("checkpoint does not match architecture: %d missing %s, %d unexpected %s",
			len(missing), preview(missing), len(unexpected), preview(unexpected))
	}
	return nil
}

func preview(names []string) string {
	const limit = 3
	if len(names) > limit {
		return fmt.Sprintf("%v...", names[:limit])
	}
	return fmt.Sprintf("%v", names)
}

// builder creates layers from a state dict, reading every parameter with
// the shape the architecture expects
type builder struct {
	sd   checkpoint.StateDict
	want map[string][]int64
	err  error
}

func (b *builder) get(name string) []float32 {
	data, err := b.sd.Get(name, b.want[name]...)
	if err != nil && b.err == nil {
		b.err = err
	}
	return data
}

func (b *builder) shape(name string) []int64 {
	return b.want[name]
}

func (b *builder) conv(name string, stride, padding int) nn.Layer {
	s := b.shape(name + ".weight")
	w := b.get(name + ".weight")
	var bias []float32
	if _, ok := b.want[name+".bias"]; ok {
		bias = b.get(name + ".bias")
	}
	if b.err != nil || len(s) != 4 {
		b.fail(name, fmt.Errorf("malformed weight"))
		return nil
	}
	l, err := nn.NewConv2D(int(s[1]), int(s[0]), int(s[2]), stride, padding, w, bias)
	b.fail(name, err)
	return l
}

func (b *builder) convT(name string, stride, padding int) nn.Layer {
	s := b.shape(name + ".weight")
	w := b.get(name + ".weight")
	var bias []float32
	if _, ok := b.want[name+".bias"]; ok {
		bias = b.get(name + ".bias")
	}
	if b.err != nil || len(s) != 4 {
		b.fail(name, fmt.Errorf("malformed weight"))
		return nil
	}
	l, err := nn.NewConvTranspose2D(int(s[0]), int(s[1]), int(s[2]), stride, padding, w, bias)
	b.fail(name, err)
	return l
}

func (b *builder) batchNorm(name string) nn.Layer {
	l, err := nn.NewBatchNorm2D(
		b.get(name+".weight"),
		b.get(name+".bias"),
		b.get(name+".running_mean"),
		b.get(name+".running_var"),
		nn.DefaultEpsilon,
	)
	b.fail(name, err)
	return l
}

func (b *builder) fail(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("%s: %w", name, err)
	}
}

// residualBlock is conv3x3-BN-ReLU-conv3x3-BN with an identity shortcut and a final ReLU
type residualBlock struct {
	body nn.Sequential
}

func (r residualBlock) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := r.body.Forward(x)
	if err != nil {
		return nil, err
	}
	if err := out.Add(x); err != nil {
		return nil, err
	}
	return nn.ReLU{}.Forward(out)
}

// residualAttention is the canonical generator. The attention gate is computed
// from the deepest encoder features and scales the bottleneck output.
type residualAttention struct {
	enc        [4]nn.Sequential
	bottleneck nn.Sequential
	attention  nn.Sequential
	dec        [4]nn.Sequential // dec4, dec3, dec2, dec1
	final      nn.Sequential
}

func buildResidualAttention(sd checkpoint.StateDict, want map[string][]int64) (*residualAttention, error) {
	b := &builder{sd: sd, want: want}
	g := &residualAttention{}
	for i := range g.enc {
		name := fmt.Sprintf("enc%d", i+1)
		g.enc[i] = nn.Sequential{b.conv(name+".0", 2, 1), b.batchNorm(name + ".1"), nn.LeakyReLU{Slope: leakySlope}}
	}
	for i := 0; i < residualBlocks; i++ {
		name := fmt.Sprintf("bottleneck.%d", i)
		g.bottleneck = append(g.bottleneck, residualBlock{body: nn.Sequential{
			b.conv(name+".conv1", 1, 1), b.batchNorm(name + ".bn1"), nn.ReLU{},
			b.conv(name+".conv2", 1, 1), b.batchNorm(name + ".bn2"),
		}})
	}
	g.attention = nn.Sequential{nn.GlobalAvgPool{}, b.conv("attention.1", 1, 0), nn.ReLU{}, b.conv("attention.3", 1, 0), nn.Sigmoid{}}
	for i, name := range []string{"dec4", "dec3", "dec2", "dec1"} {
		g.dec[i] = nn.Sequential{b.convT(name+".0", 2, 1), b.batchNorm(name + ".1"), nn.ReLU{}}
	}
	g.final = nn.Sequential{
		b.conv("final_conv.0", 1, 1), b.batchNorm("final_conv.1"), nn.ReLU{},
		b.conv("final_conv.3", 1, 1), nn.Tanh{},
	}
	if b.err != nil {
		return nil, b.err
	}
	return g, nil
}

func (g *residualAttention) divisor() int { return 16 }

func (g *residualAttention) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	skips := make([]*tensor.Tensor, 0, len(g.enc))
	h := x
	for i, enc := range g.enc {
		var err error
		if h, err = enc.Forward(h); err != nil {
			return nil, fmt.Errorf("enc%d: %w", i+1, err)
		}
		skips = append(skips, h)
	}
	e4 := skips[3]

	b, err := g.bottleneck.Forward(e4)
	if err != nil {
		return nil, fmt.Errorf("bottleneck: %w", err)
	}
	gate, err := g.attention.Forward(e4)
	if err != nil {
		return nil, fmt.Errorf("attention: %w", err)
	}
	if err := b.ScaleChannels(gate.Data); err != nil {
		return nil, fmt.Errorf("attention: %w", err)
	}

	h = b
	for i, dec := range g.dec {
		in, err := tensor.Concat(h, skips[3-i])
		if err != nil {
			return nil, fmt.Errorf("dec%d: %w", 4-i, err)
		}
		if h, err = dec.Forward(in); err != nil {
			return nil, fmt.Errorf("dec%d: %w", 4-i, err)
		}
	}
	return g.final.Forward(h)
}

// plain is the alternate U-Net with a strided bottleneck and no attention
type plain struct {
	enc        [4]nn.Sequential
	bottleneck nn.Sequential
	dec        [4]nn.Sequential
}

func buildPlain(sd checkpoint.StateDict, want map[string][]int64) (*plain, error) {
	b := &builder{sd: sd, want: want}
	lrelu := nn.LeakyReLU{Slope: leakySlope}
	g := &plain{
		enc: [4]nn.Sequential{
			{b.conv("encoder.0", 2, 1), lrelu},
			{b.conv("encoder.2", 2, 1), b.batchNorm("encoder.3"), lrelu},
			{b.conv("encoder.5", 2, 1), b.batchNorm("encoder.6"), lrelu},
			{b.conv("encoder.8", 2, 1), b.batchNorm("encoder.9"), lrelu},
		},
		bottleneck: nn.Sequential{
			b.conv("bottleneck.0", 2, 1), nn.ReLU{},
			b.convT("bottleneck.2", 2, 1), b.batchNorm("bottleneck.3"), nn.ReLU{},
		},
		dec: [4]nn.Sequential{
			{b.convT("decoder.0", 2, 1), b.batchNorm("decoder.1"), nn.ReLU{}},
			{b.convT("decoder.3", 2, 1), b.batchNorm("decoder.4"), nn.ReLU{}},
			{b.convT("decoder.6", 2, 1), b.batchNorm("decoder.7"), nn.ReLU{}},
			{b.convT("decoder.9", 2, 1), nn.Tanh{}},
		},
	}
	if b.err != nil {
		return nil, b.err
	}
	return g, nil
}

func (g *plain) divisor() int { return 32 }

func (g *plain) forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	skips := make([]*tensor.Tensor, 0, len(g.enc))
	h := x
	for i, enc := range g.enc {
		var err error
		if h, err = enc.Forward(h); err != nil {
			return nil, fmt.Errorf("encoder stage %d: %w", i, err)
		}
		skips = append(skips, h)
	}

	h, err := g.bottleneck.Forward(skips[3])
	if err != nil {
		return nil, fmt.Errorf("bottleneck: %w", err)
	}
	for i, dec := range g.dec {
		in, err := tensor.Concat(h, skips[3-i])
		if err != nil {
			return nil, fmt.Errorf("decoder stage %d: %w", i, err)
		}
		if h, err = dec.Forward(in); err != nil {
			return nil, fmt.Errorf("decoder stage %d: %w", i, err)
		}
	}
	return h, nil
}
