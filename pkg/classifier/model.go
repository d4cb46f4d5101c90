package classifier

import (
	"github.com/ksamirdev/unai/pkg/tensor"
	"github.com/ksamirdev/unai/pkg/types"
)

// DeviceCPU is the only compute device used by the bundled runtimes
const DeviceCPU = "cpu"

// Model runs a loaded classification network on a single-image batch and
// returns its raw output scores
type Model interface {
	Predict(x *tensor.Tensor) ([]float32, error)
	Close() error
}

// Handle owns a loaded model together with where it came from
type Handle struct {
	Provenance types.Provenance
	// Path is the artifact location, empty for the mock model
	Path   string
	Device string
	model  Model
}

// NewHandle wraps model
func NewHandle(model Model, provenance types.Provenance, path string) *Handle {
	return &Handle{Provenance: provenance, Path: path, Device: DeviceCPU, model: model}
}

// Model returns the wrapped model
func (h *Handle) Model() Model {
	if h == nil {
		return nil
	}
	return h.model
}

// Close releases the model
func (h *Handle) Close() error {
	if h == nil || h.model == nil {
		return nil
	}
	return h.model.Close()
}
