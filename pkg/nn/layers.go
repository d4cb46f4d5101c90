// Package nn implements the inference-only layers needed to run the detection
// and regeneration networks natively.
//
// Activations are NHWC tensors. Parameters follow the PyTorch layouts so that
// exported state dicts can be used without reordering:
//
//	Conv2D.Weight           [out][in][k][k]
//	ConvTranspose2D.Weight  [in][out][k][k]
//	Linear.Weight           [out][in]
//
// Element-wise layers (activations, BatchNorm2D) modify their input in place.
package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/ksamirdev/unai/pkg/tensor"
)

// Layer transforms one tensor into another
type Layer interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// Sequential runs layers in order
type Sequential []Layer

// Forward implements Layer
func (s Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i, l := range s {
		if x, err = l.Forward(x); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return x, nil
}

// Conv2D is a square-kernel 2-D convolution
type Conv2D struct {
	In, Out int
	Kernel  int
	Stride  int
	Padding int
	Weight  []float32
	Bias    []float32
}

// NewConv2D validates parameter sizes. bias may be nil.
func NewConv2D(in, out, kernel, stride, padding int, weight, bias []float32) (*Conv2D, error) {
	if want := out * in * kernel * kernel; len(weight) != want {
		return nil, fmt.Errorf("conv2d weight has %d values, want %d", len(weight), want)
	}
	if bias != nil && len(bias) != out {
		return nil, fmt.Errorf("conv2d bias has %d values, want %d", len(bias), out)
	}
	if stride < 1 {
		return nil, fmt.Errorf("conv2d stride must be positive")
	}
	return &Conv2D{In: in, Out: out, Kernel: kernel, Stride: stride, Padding: padding, Weight: weight, Bias: bias}, nil
}

// OutputSize returns the spatial size produced for an h x w input
func (c *Conv2D) OutputSize(h, w int) (int, int) {
	return (h+2*c.Padding-c.Kernel)/c.Stride + 1, (w+2*c.Padding-c.Kernel)/c.Stride + 1
}

// Forward implements Layer using im2col followed by a single GEMM
func (c *Conv2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, w, cin := x.Shape.H(), x.Shape.W(), x.Shape.C()
	if cin != c.In {
		return nil, fmt.Errorf("conv2d expects %d input channels, got %d", c.In, cin)
	}
	oh, ow := c.OutputSize(h, w)
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("conv2d input %dx%d too small for kernel %d", h, w, c.Kernel)
	}

	k := c.Kernel
	cols := c.In * k * k
	m := oh * ow
	patches := make([]float32, m*cols)
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			row := patches[(oy*ow+ox)*cols : (oy*ow+ox+1)*cols]
			for ky := 0; ky < k; ky++ {
				iy := oy*c.Stride - c.Padding + ky
				if iy < 0 || iy >= h {
					continue
				}
				for kx := 0; kx < k; kx++ {
					ix := ox*c.Stride - c.Padding + kx
					if ix < 0 || ix >= w {
						continue
					}
					px := x.Pixel(iy, ix)
					for ci, v := range px {
						row[(ci*k+ky)*k+kx] = v
					}
				}
			}
		}
	}

	out := tensor.New(oh, ow, c.Out)
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: m, Cols: cols, Stride: cols, Data: patches},
		blas32.General{Rows: c.Out, Cols: cols, Stride: cols, Data: c.Weight},
		0,
		blas32.General{Rows: m, Cols: c.Out, Stride: c.Out, Data: out.Data})
	addBias(out, c.Bias)
	return out, nil
}

// ConvTranspose2D is a square-kernel transposed convolution
type ConvTranspose2D struct {
	In, Out int
	Kernel  int
	Stride  int
	Padding int
	Weight  []float32
	Bias    []float32
}

// NewConvTranspose2D validates parameter sizes. bias may be nil.
func NewConvTranspose2D(in, out, kernel, stride, padding int, weight, bias []float32) (*ConvTranspose2D, error) {
	if want := in * out * kernel * kernel; len(weight) != want {
		return nil, fmt.Errorf("conv_transpose2d weight has %d values, want %d", len(weight), want)
	}
	if bias != nil && len(bias) != out {
		return nil, fmt.Errorf("conv_transpose2d bias has %d values, want %d", len(bias), out)
	}
	if stride < 1 {
		return nil, fmt.Errorf("conv_transpose2d stride must be positive")
	}
	return &ConvTranspose2D{In: in, Out: out, Kernel: kernel, Stride: stride, Padding: padding, Weight: weight, Bias: bias}, nil
}

// OutputSize returns the spatial size produced for an h x w input
func (c *ConvTranspose2D) OutputSize(h, w int) (int, int) {
	return (h-1)*c.Stride - 2*c.Padding + c.Kernel, (w-1)*c.Stride - 2*c.Padding + c.Kernel
}

// Forward implements Layer. The input (HW x In) is multiplied by the weight
// (In x Out*k*k) and the resulting columns are scattered into the output.
func (c *ConvTranspose2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, w, cin := x.Shape.H(), x.Shape.W(), x.Shape.C()
	if cin != c.In {
		return nil, fmt.Errorf("conv_transpose2d expects %d input channels, got %d", c.In, cin)
	}
	oh, ow := c.OutputSize(h, w)
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("conv_transpose2d output %dx%d is empty", oh, ow)
	}

	k := c.Kernel
	n := c.Out * k * k
	m := h * w
	cols := make([]float32, m*n)
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: m, Cols: cin, Stride: cin, Data: x.Data},
		blas32.General{Rows: cin, Cols: n, Stride: n, Data: c.Weight},
		0,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: cols})

	out := tensor.New(oh, ow, c.Out)
	for iy := 0; iy < h; iy++ {
		for ix := 0; ix < w; ix++ {
			row := cols[(iy*w+ix)*n : (iy*w+ix+1)*n]
			for ky := 0; ky < k; ky++ {
				oy := iy*c.Stride - c.Padding + ky
				if oy < 0 || oy >= oh {
					continue
				}
				for kx := 0; kx < k; kx++ {
					ox := ix*c.Stride - c.Padding + kx
					if ox < 0 || ox >= ow {
						continue
					}
					px := out.Pixel(oy, ox)
					for co := range px {
						px[co] += row[(co*k+ky)*k+kx]
					}
				}
			}
		}
	}
	addBias(out, c.Bias)
	return out, nil
}

// BatchNorm2D applies inference-mode batch normalization with running statistics
type BatchNorm2D struct {
	scale []float32
	shift []float32
}

// DefaultEpsilon matches the PyTorch BatchNorm2d default
const DefaultEpsilon = 1e-5

// NewBatchNorm2D folds gamma, beta, running mean and running variance into a per-channel affine map
func NewBatchNorm2D(weight, bias, mean, variance []float32, eps float64) (*BatchNorm2D, error) {
	n := len(mean)
	if len(weight) != n || len(bias) != n || len(variance) != n {
		return nil, fmt.Errorf("batchnorm parameter lengths differ: weight=%d bias=%d mean=%d var=%d",
			len(weight), len(bias), n, len(variance))
	}
	bn := &BatchNorm2D{scale: make([]float32, n), shift: make([]float32, n)}
	for i := 0; i < n; i++ {
		s := float64(weight[i]) / math.Sqrt(float64(variance[i])+eps)
		bn.scale[i] = float32(s)
		bn.shift[i] = float32(float64(bias[i]) - float64(mean[i])*s)
	}
	return bn, nil
}

// Forward implements Layer
func (b *BatchNorm2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	c := x.Shape.C()
	if c != len(b.scale) {
		return nil, fmt.Errorf("batchnorm expects %d channels, got %d", len(b.scale), c)
	}
	for i, v := range x.Data {
		ch := i % c
		x.Data[i] = v*b.scale[ch] + b.shift[ch]
	}
	return x, nil
}

// Linear is a fully connected layer applied to a 1x1 spatial tensor
type Linear struct {
	In, Out int
	Weight  []float32
	Bias    []float32
}

// NewLinear validates parameter sizes. bias may be nil.
func NewLinear(in, out int, weight, bias []float32) (*Linear, error) {
	if len(weight) != in*out {
		return nil, fmt.Errorf("linear weight has %d values, want %d", len(weight), in*out)
	}
	if bias != nil && len(bias) != out {
		return nil, fmt.Errorf("linear bias has %d values, want %d", len(bias), out)
	}
	return &Linear{In: in, Out: out, Weight: weight, Bias: bias}, nil
}

// Forward implements Layer
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Shape.H() != 1 || x.Shape.W() != 1 || x.Shape.C() != l.In {
		return nil, fmt.Errorf("linear expects [1 1 1 %d], got %s", l.In, x.Shape)
	}
	out := tensor.New(1, 1, l.Out)
	for o := 0; o < l.Out; o++ {
		var sum float32
		row := l.Weight[o*l.In : (o+1)*l.In]
		for i, v := range x.Data {
			sum += row[i] * v
		}
		out.Data[o] = sum
	}
	addBias(out, l.Bias)
	return out, nil
}

// GlobalAvgPool averages every channel over the spatial extent
type GlobalAvgPool struct{}

// Forward implements Layer
func (GlobalAvgPool) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	c := x.Shape.C()
	pixels := x.Shape.H() * x.Shape.W()
	if pixels == 0 {
		return nil, fmt.Errorf("global average pool over empty input")
	}
	out := tensor.New(1, 1, c)
	for i, v := range x.Data {
		out.Data[i%c] += v
	}
	for i := range out.Data {
		out.Data[i] /= float32(pixels)
	}
	return out, nil
}

// ReLU clamps negatives to zero
type ReLU struct{}

// Forward implements Layer
func (ReLU) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return x.Apply(relu), nil
}

// LeakyReLU scales negatives by Slope
type LeakyReLU struct{ Slope float32 }

// Forward implements Layer
func (l LeakyReLU) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return x.Apply(func(v float32) float32 {
		if v < 0 {
			return v * l.Slope
		}
		return v
	}), nil
}

// Sigmoid squashes into (0, 1)
type Sigmoid struct{}

// Forward implements Layer
func (Sigmoid) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return x.Apply(sigmoid), nil
}

// Tanh squashes into (-1, 1)
type Tanh struct{}

// Forward implements Layer
func (Tanh) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return x.Apply(func(v float32) float32 { return float32(math.Tanh(float64(v))) }), nil
}

func relu(v float32) float32 {
	if v < 0 {
		return 0
	}
	return v
}

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

func addBias(t *tensor.Tensor, bias []float32) {
	if bias == nil {
		return
	}
	c := len(bias)
	for i := range t.Data {
		t.Data[i] += bias[i%c]
	}
}
