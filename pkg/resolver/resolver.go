package resolver

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/ksamirdev/unai/internal/logging"
)

// ErrModelNotFound is reported (never returned to callers of Resolve) when no
// candidate path exists. Callers use it to build log messages and fallback errors.
var ErrModelNotFound = errors.New("model not found")

// Search describes where to look for one model artifact
type Search struct {
	// BaseDir is the provisioned models directory. Empty skips the canonical candidates.
	BaseDir string `json:"base_dir"`
	// Names are tried under BaseDir in order
	Names []string `json:"names"`
	// Fallbacks are tried verbatim after the canonical candidates
	Fallbacks []string `json:"fallbacks"`
}

// ClassifierSearch is the default search list for the detection model
func ClassifierSearch(baseDir string) Search {
	return Search{
		BaseDir: baseDir,
		Names: []string{
			"DeepFake.onnx",
			"deepfake.onnx",
			"DeepFake_model.onnx",
			"deepfake_detection.onnx",
		},
		Fallbacks: []string{
			filepath.Join("models", "DeepFake.onnx"),
			"DeepFake.onnx",
		},
	}
}

// GeneratorSearch is the default search list for the regeneration checkpoint
func GeneratorSearch(baseDir string) Search {
	return Search{
		BaseDir: baseDir,
		Names: []string{
			"regenerator_model.safetensors",
			"REGenerator.safetensors",
			"best_model.safetensors",
			"generator.safetensors",
			"deepfake_reversal_generator.safetensors",
		},
		Fallbacks: []string{
			filepath.Join("models", "regenerator_model.safetensors"),
			"regenerator_model.safetensors",
		},
	}
}

// Candidates returns the ordered probe list: BaseDir/name for every name, then the fallbacks.
// Duplicates are dropped keeping the first occurrence.
func (s Search) Candidates() []string {
	var out []string
	seen := map[string]bool{}
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	if s.BaseDir != "" {
		for _, name := range s.Names {
			add(filepath.Join(s.BaseDir, name))
		}
	}
	for _, p := range s.Fallbacks {
		add(p)
	}
	return out
}

// Resolver probes candidate paths on the filesystem
type Resolver struct {
	log logrus.FieldLogger
}

// New creates a Resolver. log may be nil.
func New(log logrus.FieldLogger) *Resolver {
	return &Resolver{log: logging.OrDiscard(log)}
}

// Resolve returns the first candidate that is an existing regular file.
// Absence is a normal outcome reported through the boolean.
func (r *Resolver) Resolve(candidates []string) (string, bool) {
	for _, p := range candidates {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			r.log.Debugf("Not found: %s", logging.Sanitize(p))
			continue
		}
		r.log.WithField("size", units.HumanSizeWithPrecision(float64(info.Size()), 3)).
			Debugf("Found model at: %s", logging.Sanitize(p))
		return p, true
	}
	r.log.Debugf("%v after %d candidates", ErrModelNotFound, len(candidates))
	return "", false
}

// Find resolves a Search
func (r *Resolver) Find(s Search) (string, bool) {
	if s.BaseDir != "" {
		r.log.Debugf("Searching for model in: %s", logging.Sanitize(s.BaseDir))
	}
	return r.Resolve(s.Candidates())
}
