// Package classifier decides whether an image is synthetic.
//
// A trained ONNX model is used when one can be resolved and opened. Otherwise
// a deterministic, untrained stand-in network keeps the pipeline runnable and
// every result it produces is marked with the mock provenance.
package classifier

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/ksamirdev/unai/internal/logging"
	"github.com/ksamirdev/unai/pkg/preprocess"
	"github.com/ksamirdev/unai/pkg/resolver"
	"github.com/ksamirdev/unai/pkg/tensor"
	"github.com/ksamirdev/unai/pkg/types"
)

// Threshold separates the classes. A score equal to it is authentic.
const Threshold = 0.5

// Config configures model resolution and detection preprocessing
type Config struct {
	Search     resolver.Search   `json:"search"`
	Preprocess preprocess.Config `json:"preprocess"`
	MockSeed   int64             `json:"mock_seed"`
	// RuntimeLibrary is the onnxruntime shared library; empty uses the runtime default
	RuntimeLibrary string `json:"runtime_library,omitempty"`
}

// DefaultConfig returns the classifier defaults for a models directory
func DefaultConfig(modelsDir string) Config {
	return Config{
		Search:     resolver.ClassifierSearch(modelsDir),
		Preprocess: preprocess.DetectionConfig(),
		MockSeed:   DefaultMockSeed,
	}
}

// Classifier runs the detection stage
type Classifier struct {
	handle *Handle
	pre    *preprocess.Preprocessor
	log    logrus.FieldLogger
}

// Load resolves the trained model and falls back to the mock model when it
// is missing or cannot be opened
func Load(cfg Config, log logrus.FieldLogger) (*Classifier, error) {
	log = logging.OrDiscard(log).WithField("component", "classifier")

	handle, err := loadHandle(cfg, log)
	if err != nil {
		return nil, err
	}
	c, err := New(handle, cfg.Preprocess, log)
	if err != nil {
		handle.Close()
		return nil, err
	}
	return c, nil
}

func loadHandle(cfg Config, log logrus.FieldLogger) (*Handle, error) {
	if path, ok := resolver.New(log).Find(cfg.Search); ok {
		model, err := newONNXModel(path, cfg.RuntimeLibrary, cfg.Preprocess.Height, cfg.Preprocess.Width)
		if err == nil {
			log.Infof("Loaded detection model from %s", logging.Sanitize(path))
			return NewHandle(model, types.ProvenanceTrained, path), nil
		}
		log.WithError(err).Warnf("Could not load detection model from %s, using mock model", logging.Sanitize(path))
	} else {
		log.Warnf("Detection model: %v, using mock model", resolver.ErrModelNotFound)
	}

	mock, err := newMockModel(cfg.MockSeed)
	if err != nil {
		return nil, fmt.Errorf("%w: mock model: %v", types.ErrModelLoad, err)
	}
	return NewHandle(mock, types.ProvenanceMock, ""), nil
}

// New wraps an already loaded model
func New(handle *Handle, pre preprocess.Config, log logrus.FieldLogger) (*Classifier, error) {
	if handle == nil || handle.Model() == nil {
		return nil, fmt.Errorf("%w: no model", types.ErrModelLoad)
	}
	p, err := preprocess.New(pre)
	if err != nil {
		return nil, fmt.Errorf("detection preprocessing: %w", err)
	}
	return &Classifier{handle: handle, pre: p, log: logging.OrDiscard(log)}, nil
}

// Provenance reports whether the trained model or the mock is in use
func (c *Classifier) Provenance() types.Provenance {
	return c.handle.Provenance
}

// Handle returns the loaded model handle
func (c *Classifier) Handle() *Handle {
	return c.handle
}

// Classify preprocesses the image at path and runs the model
func (c *Classifier) Classify(ctx context.Context, path string) types.ClassificationResult {
	if err := ctx.Err(); err != nil {
		return types.ClassificationError(err)
	}
	x, err := c.pre.Preprocess(path)
	if err != nil {
		return types.ClassificationError(err)
	}
	return c.Predict(x)
}

// Predict runs the model on a preprocessed tensor
func (c *Classifier) Predict(x *tensor.Tensor) (res types.ClassificationResult) {
	defer func() {
		if r := recover(); r != nil {
			res = types.ClassificationError(fmt.Errorf("%w: %v", types.ErrInference, r))
		}
	}()

	scores, err := c.handle.Model().Predict(x)
	if err != nil {
		return types.ClassificationError(fmt.Errorf("%w: %v", types.ErrInference, err))
	}
	raw, err := Interpret(scores)
	if err != nil {
		return types.ClassificationError(fmt.Errorf("%w: %v", types.ErrInference, err))
	}

	score := Clip(raw)
	c.log.WithFields(logrus.Fields{
		"raw_score":  raw,
		"provenance": c.handle.Provenance,
	}).Debugf("Classified with confidence %.4f", score)

	return types.ClassificationResult{
		IsSynthetic: IsSynthetic(score),
		Confidence:  score,
		RawScore:    raw,
		Provenance:  c.handle.Provenance,
		Status:      types.StatusSuccess,
	}
}

// Close releases the model
func (c *Classifier) Close() error {
	return c.handle.Close()
}

// Interpret picks the synthetic-class score from a model output: the second
// entry of a multi-class output, or the only entry of a single-score output
func Interpret(scores []float32) (float64, error) {
	var v float32
	switch {
	case len(scores) >= 2:
		v = scores[1]
	case len(scores) == 1:
		v = scores[0]
	default:
		return 0, fmt.Errorf("model produced no scores")
	}
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return 0, fmt.Errorf("model produced non-finite score %v", v)
	}
	return widen(v), nil
}

// Clip bounds a score to [0,1]
func Clip(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// IsSynthetic applies the decision threshold
func IsSynthetic(score float64) bool {
	return score > Threshold
}

// widen converts to float64 keeping the shortest float32 decimal form, so 0.2f reads as 0.2
func widen(v float32) float64 {
	f, err := strconv.ParseFloat(strconv.FormatFloat(float64(v), 'g', -1, 32), 64)
	if err != nil {
		return float64(v)
	}
	return f
}
