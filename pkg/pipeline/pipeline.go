// Package pipeline sequences detection and conditional regeneration into a
// single result record.
//
// State machine:
//
//	Init -> Classifying -> Done                  (authentic)
//	Init -> Classifying -> Regenerating -> Done  (synthetic)
//
// Failures before or during classification are terminal and produce an
// error record. Anything that goes wrong while regenerating is folded into
// the regeneration sub-record and the pipeline still succeeds.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/ksamirdev/unai/internal/logging"
	"github.com/ksamirdev/unai/internal/utils"
	"github.com/ksamirdev/unai/pkg/types"
)

// State is a pipeline stage
type State string

const (
	StateInit         State = "init"
	StateClassifying  State = "classifying"
	StateRegenerating State = "regenerating"
	StateDone         State = "done"
)

// ErrMockRejected is the terminal error when mock-backed results are not accepted
var ErrMockRejected = errors.New("classification came from the mock model and mock results are rejected")

// Detector classifies one image
type Detector interface {
	Classify(ctx context.Context, path string) types.ClassificationResult
	Close() error
}

// Regenerator regenerates one image
type Regenerator interface {
	Regenerate(ctx context.Context, path string) *types.RegenerationResult
}

// DetectorLoader loads the detection stage
type DetectorLoader func() (Detector, error)

// RegeneratorLoader loads the regeneration stage. It is only called for synthetic images.
type RegeneratorLoader func() (Regenerator, error)

// Options tunes the pipeline policy
type Options struct {
	// RejectMock turns a classification produced by the mock model into a terminal error
	RejectMock bool `json:"reject_mock"`
}

// Pipeline runs the two stages for one image at a time
type Pipeline struct {
	loadDetector    DetectorLoader
	loadRegenerator RegeneratorLoader
	opts            Options
	log             logrus.FieldLogger
}

// New creates a Pipeline
func New(loadDetector DetectorLoader, loadRegenerator RegeneratorLoader, opts Options, log logrus.FieldLogger) *Pipeline {
	return &Pipeline{
		loadDetector:    loadDetector,
		loadRegenerator: loadRegenerator,
		opts:            opts,
		log:             logging.OrDiscard(log).WithField("component", "pipeline"),
	}
}

// Run processes the image at imagePath. It always returns a well-formed result.
func (p *Pipeline) Run(ctx context.Context, imagePath string) *types.PipelineResult {
	state := StateInit
	transition := func(next State) {
		p.log.Debugf("State %s -> %s", state, next)
		state = next
	}

	path, err := filepath.Abs(imagePath)
	if err != nil {
		return p.fail(fmt.Errorf("%w: %s: %v", types.ErrInputNotFound, imagePath, err))
	}
	if !utils.FileExists(path) {
		return p.fail(fmt.Errorf("%w: %s", types.ErrInputNotFound, path))
	}
	p.log.Infof("Processing image: %s", logging.Sanitize(path))

	transition(StateClassifying)
	classification, err := p.classify(ctx, path)
	if err != nil {
		return p.fail(err)
	}
	p.log.Infof("Detection complete: synthetic=%v confidence=%.4f provenance=%s",
		classification.IsSynthetic, classification.Confidence, classification.Provenance)

	result := &types.PipelineResult{
		Classification: &classification,
		PipelineStatus: types.StatusSuccess,
	}
	if !classification.IsSynthetic {
		transition(StateDone)
		return result
	}

	transition(StateRegenerating)
	result.Regeneration = p.regenerate(ctx, path)
	if result.Regeneration.Success {
		p.log.Infof("Regeneration complete: %s", logging.Sanitize(*result.Regeneration.OutputPath))
	} else {
		p.log.Warnf("Regeneration failed: %s", result.Regeneration.Error)
	}
	transition(StateDone)
	return result
}

func (p *Pipeline) fail(err error) *types.PipelineResult {
	p.log.WithError(err).Error("Pipeline failed")
	return types.NewErrorResult(err)
}

// classify loads the detector and runs it. A classification that reports an
// error is returned as err.
func (p *Pipeline) classify(ctx context.Context, path string) (res types.ClassificationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", types.ErrInference, r)
		}
	}()

	detector, err := p.loadDetector()
	if err != nil {
		return res, fmt.Errorf("%w: %v", types.ErrModelLoad, err)
	}
	defer detector.Close()

	res = detector.Classify(ctx, path)
	if res.Status != types.StatusSuccess {
		return res, errors.New(res.Error)
	}
	if p.opts.RejectMock && res.Provenance == types.ProvenanceMock {
		return res, ErrMockRejected
	}
	return res, nil
}

// regenerate never fails the pipeline: loader errors and panics become a failed record
func (p *Pipeline) regenerate(ctx context.Context, path string) (res *types.RegenerationResult) {
	defer func() {
		if r := recover(); r != nil {
			res = types.RegenerationError(fmt.Errorf("%w: %v", types.ErrInference, r))
		}
	}()

	if p.loadRegenerator == nil {
		return types.RegenerationError(fmt.Errorf("regenerator model not available"))
	}
	regenerator, err := p.loadRegenerator()
	if err != nil {
		return types.RegenerationError(fmt.Errorf("%w: %v", types.ErrModelLoad, err))
	}
	if regenerator == nil {
		return types.RegenerationError(fmt.Errorf("regenerator model not available"))
	}

	res = regenerator.Regenerate(ctx, path)
	if res == nil {
		return types.RegenerationError(fmt.Errorf("%w: regenerator returned no result", types.ErrInference))
	}
	return res
}

// ExitCode maps a result to the process exit status
func ExitCode(r *types.PipelineResult) int {
	if r.Succeeded() {
		return 0
	}
	return 1
}
