package preprocess

import "fmt"

// Mode selects how 8-bit intensities are mapped to model input values
type Mode string

const (
	// ModeUnit divides by 255, giving [0,1]
	ModeUnit Mode = "unit"
	// ModeStandardize divides by 255 then applies (v-mean)/std per channel
	ModeStandardize Mode = "standardize"
)

// Normalization describes the numeric range a model was trained on
type Normalization struct {
	Mode Mode       `json:"mode"`
	Mean [3]float32 `json:"mean,omitempty"`
	Std  [3]float32 `json:"std,omitempty"`
}

var (
	// Unit scales to [0,1]
	Unit = Normalization{Mode: ModeUnit}

	// ImageNet standardizes with the ImageNet channel statistics
	ImageNet = Normalization{
		Mode: ModeStandardize,
		Mean: [3]float32{0.485, 0.456, 0.406},
		Std:  [3]float32{0.229, 0.224, 0.225},
	}

	// Symmetric maps to [-1,1]
	Symmetric = Normalization{
		Mode: ModeStandardize,
		Mean: [3]float32{0.5, 0.5, 0.5},
		Std:  [3]float32{0.5, 0.5, 0.5},
	}
)

// Apply maps v in [0,1] for channel c
func (n Normalization) Apply(c int, v float32) float32 {
	if n.Mode == ModeStandardize {
		return (v - n.Mean[c]) / n.Std[c]
	}
	return v
}

// Bounds returns the smallest and largest value Apply can produce for channel c
func (n Normalization) Bounds(c int) (float32, float32) {
	return n.Apply(c, 0), n.Apply(c, 1)
}

// Validate checks the normalization parameters
func (n Normalization) Validate() error {
	switch n.Mode {
	case ModeUnit:
		return nil
	case ModeStandardize:
		for c, s := range n.Std {
			if s <= 0 {
				return fmt.Errorf("normalization std[%d] must be positive, got %v", c, s)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown normalization mode %q", n.Mode)
	}
}
