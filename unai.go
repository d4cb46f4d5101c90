// Package imageforensics detects synthetic images and regenerates an
// authentic-looking version of the ones it flags.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"encoding/json"
//		"log"
//		"os"
//
//		imageforensics "github.com/ksamirdev/unai"
//	)
//
//	func main() {
//		analyzer := imageforensics.New()
//
//		result := analyzer.Analyze(context.Background(), "photo.jpg")
//		if err := json.NewEncoder(os.Stdout).Encode(result); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The package consists of these components:
//
// 1. Preprocess (pkg/preprocess): decodes, resizes and normalizes images into tensors
// 2. Classifier (pkg/classifier): trained ONNX model, or a deterministic mock when none is provisioned
// 3. Generator (pkg/generator): residual-attention or plain U-Net rebuilt from a safetensors checkpoint
// 4. Postprocess (pkg/postprocess): maps generator output to pixels and writes the regenerated file
// 5. Pipeline (pkg/pipeline): runs detection, then regeneration for synthetic images only
//
// Regeneration problems never fail the analysis; they are reported in the
// regeneration part of the result. Problems with the input or with detection
// produce an error result.
package imageforensics

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ksamirdev/unai/internal/logging"
	"github.com/ksamirdev/unai/pkg/classifier"
	"github.com/ksamirdev/unai/pkg/generator"
	"github.com/ksamirdev/unai/pkg/pipeline"
	"github.com/ksamirdev/unai/pkg/types"
)

// Version of the library
const Version = "1.0.0"

// Analyzer provides a high-level interface to the detection pipeline
type Analyzer struct {
	classifier classifier.Config
	generator  generator.Config
	pipeline   *pipeline.Pipeline
}

// New creates an Analyzer with default configuration. Models are looked up
// under ./models and regenerated images are written below the working directory.
func New() *Analyzer {
	return NewWithConfig(classifier.DefaultConfig("models"), generator.DefaultConfig("models", "."), pipeline.Options{}, nil)
}

// NewWithConfig creates an Analyzer with custom configuration. log may be nil.
func NewWithConfig(classifierConfig classifier.Config, generatorConfig generator.Config, opts pipeline.Options, log logrus.FieldLogger) *Analyzer {
	log = logging.OrDiscard(log)

	loadDetector := func() (pipeline.Detector, error) {
		c, err := classifier.Load(classifierConfig, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	loadRegenerator := func() (pipeline.Regenerator, error) {
		r, err := generator.LoadRegenerator(generatorConfig, log)
		if err != nil {
			return nil, err
		}
		return r, nil
	}

	return &Analyzer{
		classifier: classifierConfig,
		generator:  generatorConfig,
		pipeline:   pipeline.New(loadDetector, loadRegenerator, opts, log),
	}
}

// Analyze runs the pipeline on the image at path. Models are loaded for the
// call and released before it returns.
func (a *Analyzer) Analyze(ctx context.Context, path string) *types.PipelineResult {
	return a.pipeline.Run(ctx, path)
}

// ClassifierConfig returns the detection configuration in use
func (a *Analyzer) ClassifierConfig() classifier.Config {
	return a.classifier
}

// GeneratorConfig returns the regeneration configuration in use
func (a *Analyzer) GeneratorConfig() generator.Config {
	return a.generator
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
