// Package tensor holds the single-image batch tensors exchanged between the
// preprocessing, model and postprocessing stages.
//
// Tensors are stored NHWC (batch, height, width, channels) in a flat float32
// slice. The batch dimension is always 1.
package tensor

import (
	"fmt"
	"math"
)

// Shape is the (N, H, W, C) extent of a tensor
type Shape [4]int

// N returns the batch size
func (s Shape) N() int { return s[0] }

// H returns the height
func (s Shape) H() int { return s[1] }

// W returns the width
func (s Shape) W() int { return s[2] }

// C returns the channel count
func (s Shape) C() int { return s[3] }

// Size returns the number of elements
func (s Shape) Size() int { return s[0] * s[1] * s[2] * s[3] }

func (s Shape) String() string {
	return fmt.Sprintf("[%d %d %d %d]", s[0], s[1], s[2], s[3])
}

// Tensor is a batch-of-one NHWC float32 array
type Tensor struct {
	Shape Shape
	Data  []float32
}

// New allocates a zeroed 1xHxWxC tensor
func New(h, w, c int) *Tensor {
	s := Shape{1, h, w, c}
	return &Tensor{Shape: s, Data: make([]float32, s.Size())}
}

// FromData wraps data as a 1xHxWxC tensor
func FromData(h, w, c int, data []float32) (*Tensor, error) {
	s := Shape{1, h, w, c}
	if len(data) != s.Size() {
		return nil, fmt.Errorf("tensor data has %d values, shape %s needs %d", len(data), s, s.Size())
	}
	return &Tensor{Shape: s, Data: data}, nil
}

func (t *Tensor) index(y, x, c int) int {
	return (y*t.Shape.W()+x)*t.Shape.C() + c
}

// At returns the value at row y, column x, channel c
func (t *Tensor) At(y, x, c int) float32 {
	return t.Data[t.index(y, x, c)]
}

// Set stores v at row y, column x, channel c
func (t *Tensor) Set(y, x, c int, v float32) {
	t.Data[t.index(y, x, c)] = v
}

// Pixel returns the channel vector at (y, x), sharing storage with t
func (t *Tensor) Pixel(y, x int) []float32 {
	i := t.index(y, x, 0)
	return t.Data[i : i+t.Shape.C()]
}

// Clone returns a deep copy
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Shape: t.Shape, Data: data}
}

// Apply replaces every value v with fn(v) in place and returns t
func (t *Tensor) Apply(fn func(float32) float32) *Tensor {
	for i, v := range t.Data {
		t.Data[i] = fn(v)
	}
	return t
}

// Add adds o elementwise into t in place
func (t *Tensor) Add(o *Tensor) error {
	if t.Shape != o.Shape {
		return fmt.Errorf("add: shape mismatch %s vs %s", t.Shape, o.Shape)
	}
	for i, v := range o.Data {
		t.Data[i] += v
	}
	return nil
}

// ScaleChannels multiplies each channel c of every pixel by gate[c] in place
func (t *Tensor) ScaleChannels(gate []float32) error {
	c := t.Shape.C()
	if len(gate) != c {
		return fmt.Errorf("channel gate has %d values, tensor has %d channels", len(gate), c)
	}
	for i := range t.Data {
		t.Data[i] *= gate[i%c]
	}
	return nil
}

// Range returns the smallest and largest values
func (t *Tensor) Range() (float32, float32) {
	lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range t.Data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Concat joins tensors along the channel axis. All inputs must share N, H and W.
func Concat(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("concat: no tensors")
	}
	h, w := ts[0].Shape.H(), ts[0].Shape.W()
	total := 0
	for _, t := range ts {
		if t.Shape.H() != h || t.Shape.W() != w || t.Shape.N() != 1 {
			return nil, fmt.Errorf("concat: shape mismatch %s vs %s", ts[0].Shape, t.Shape)
		}
		total += t.Shape.C()
	}

	out := New(h, w, total)
	for p := 0; p < h*w; p++ {
		dst := out.Data[p*total : (p+1)*total]
		off := 0
		for _, t := range ts {
			c := t.Shape.C()
			copy(dst[off:off+c], t.Data[p*c:(p+1)*c])
			off += c
		}
	}
	return out, nil
}
