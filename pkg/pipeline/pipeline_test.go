package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksamirdev/unai/pkg/types"
)

type stubDetector struct {
	result types.ClassificationResult
	calls  int
	closed bool
}

func (s *stubDetector) Classify(context.Context, string) types.ClassificationResult {
	s.calls++
	return s.result
}

func (s *stubDetector) Close() error {
	s.closed = true
	return nil
}

type stubRegenerator struct {
	result *types.RegenerationResult
	panics bool
	paths  []string
}

func (s *stubRegenerator) Regenerate(_ context.Context, path string) *types.RegenerationResult {
	if s.panics {
		panic("nil map")
	}
	s.paths = append(s.paths, path)
	return s.result
}

func scored(confidence float64, provenance types.Provenance) types.ClassificationResult {
	return types.ClassificationResult{
		IsSynthetic: confidence > 0.5,
		Confidence:  confidence,
		RawScore:    confidence,
		Provenance:  provenance,
		Status:      types.StatusSuccess,
	}
}

func inputFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("image bytes"), 0o644))
	return path
}

func detectorLoader(d Detector) DetectorLoader {
	return func() (Detector, error) { return d, nil }
}

func regeneratorLoader(r Regenerator, calls *int) RegeneratorLoader {
	return func() (Regenerator, error) {
		if calls != nil {
			*calls++
		}
		return r, nil
	}
}

func TestAuthenticSkipsRegeneration(t *testing.T) {
	det := &stubDetector{result: scored(0.2, types.ProvenanceMock)}
	loads := 0
	p := New(detectorLoader(det), regeneratorLoader(&stubRegenerator{}, &loads), Options{}, nil)

	res := p.Run(context.Background(), inputFile(t, "cat.jpg"))
	require.True(t, res.Succeeded())
	assert.Nil(t, res.Regeneration)
	assert.Equal(t, 0, loads, "regenerator must not be loaded for authentic images")
	assert.True(t, det.closed)
	assert.Equal(t, 0, ExitCode(res))

	out, err := json.Marshal(res)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Contains(t, decoded, "regeneration")
	assert.Nil(t, decoded["regeneration"])
	assert.Equal(t, "success", decoded["pipeline_status"])
	classification := decoded["classification"].(map[string]interface{})
	assert.Equal(t, false, classification["is_synthetic"])
	assert.Equal(t, 0.2, classification["confidence"])
}

func TestSyntheticRegenerates(t *testing.T) {
	dest := "uploads/regenerated/fake_regenerated.jpg"
	regen := &stubRegenerator{result: &types.RegenerationResult{Success: true, OutputPath: &dest, Status: types.StatusSuccess}}
	p := New(detectorLoader(&stubDetector{result: scored(0.91, types.ProvenanceTrained)}), regeneratorLoader(regen, nil), Options{}, nil)

	input := inputFile(t, "fake.jpg")
	res := p.Run(context.Background(), input)
	require.True(t, res.Succeeded())
	require.NotNil(t, res.Regeneration)
	assert.True(t, res.Regeneration.Success)
	assert.Equal(t, dest, *res.Regeneration.OutputPath)
	assert.Equal(t, []string{input}, regen.paths)
}

func TestRegenerationFailureKeepsSuccess(t *testing.T) {
	tests := []struct {
		name   string
		loader RegeneratorLoader
		errMsg string
	}{
		{
			name:   "unavailable",
			loader: regeneratorLoader(&stubRegenerator{result: types.RegenerationError(errors.New("regenerator model not available"))}, nil),
			errMsg: "regenerator model not available",
		},
		{
			name:   "no loader",
			loader: nil,
			errMsg: "regenerator model not available",
		},
		{
			name:   "loader error",
			loader: func() (Regenerator, error) { return nil, errors.New("corrupt checkpoint") },
			errMsg: "corrupt checkpoint",
		},
		{
			name:   "panic",
			loader: regeneratorLoader(&stubRegenerator{panics: true}, nil),
			errMsg: "nil map",
		},
		{
			name:   "write error",
			loader: regeneratorLoader(&stubRegenerator{result: types.RegenerationError(types.ErrWrite)}, nil),
			errMsg: "write failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(detectorLoader(&stubDetector{result: scored(0.91, types.ProvenanceTrained)}), tt.loader, Options{}, nil)
			res := p.Run(context.Background(), inputFile(t, "fake.jpg"))
			require.True(t, res.Succeeded())
			require.NotNil(t, res.Regeneration)
			assert.False(t, res.Regeneration.Success)
			assert.Nil(t, res.Regeneration.OutputPath)
			assert.Contains(t, res.Regeneration.Error, tt.errMsg)
			assert.Equal(t, 0, ExitCode(res))
		})
	}
}

func TestMissingInputIsTerminal(t *testing.T) {
	det := &stubDetector{result: scored(0.2, types.ProvenanceTrained)}
	p := New(detectorLoader(det), nil, Options{}, nil)

	res := p.Run(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	assert.False(t, res.Succeeded())
	assert.Equal(t, 1, ExitCode(res))
	assert.Equal(t, 0, det.calls)
	assert.Contains(t, res.Error, "input not found")

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pipeline_status":"error","error":"`+res.Error+`"}`, string(out))

	res = p.Run(context.Background(), t.TempDir())
	assert.False(t, res.Succeeded())
}

func TestClassificationFailureIsTerminal(t *testing.T) {
	det := &stubDetector{result: types.ClassificationError(errors.New("image decode failed: unknown format"))}
	p := New(detectorLoader(det), nil, Options{}, nil)
	res := p.Run(context.Background(), inputFile(t, "broken.jpg"))
	assert.False(t, res.Succeeded())
	assert.Equal(t, "image decode failed: unknown format", res.Error)
	assert.True(t, det.closed)

	p = New(func() (Detector, error) { return nil, errors.New("no runtime") }, nil, Options{}, nil)
	res = p.Run(context.Background(), inputFile(t, "x.jpg"))
	assert.False(t, res.Succeeded())
	assert.Contains(t, res.Error, "model load failed")

	p = New(func() (Detector, error) { panic("boom") }, nil, Options{}, nil)
	res = p.Run(context.Background(), inputFile(t, "x.jpg"))
	assert.False(t, res.Succeeded())
	assert.Contains(t, res.Error, "boom")
}

func TestRejectMock(t *testing.T) {
	p := New(detectorLoader(&stubDetector{result: scored(0.2, types.ProvenanceMock)}), nil, Options{RejectMock: true}, nil)
	res := p.Run(context.Background(), inputFile(t, "cat.jpg"))
	assert.False(t, res.Succeeded())
	assert.Equal(t, ErrMockRejected.Error(), res.Error)

	p = New(detectorLoader(&stubDetector{result: scored(0.2, types.ProvenanceTrained)}), nil, Options{RejectMock: true}, nil)
	res = p.Run(context.Background(), inputFile(t, "cat.jpg"))
	assert.True(t, res.Succeeded())
}

func TestRelativeInputIsMadeAbsolute(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fake.jpg"), []byte("x"), 0o644))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	dest := "uploads/regenerated/fake_regenerated.jpg"
	regen := &stubRegenerator{result: &types.RegenerationResult{Success: true, OutputPath: &dest, Status: types.StatusSuccess}}
	p := New(detectorLoader(&stubDetector{result: scored(0.91, types.ProvenanceTrained)}), regeneratorLoader(regen, nil), Options{}, nil)
	res := p.Run(context.Background(), "fake.jpg")
	require.True(t, res.Succeeded())
	require.Len(t, regen.paths, 1)
	assert.True(t, filepath.IsAbs(regen.paths[0]))
}

func TestRunIsIdempotent(t *testing.T) {
	p := New(detectorLoader(&stubDetector{result: scored(0.2, types.ProvenanceMock)}), nil, Options{}, nil)
	input := inputFile(t, "cat.jpg")
	first := p.Run(context.Background(), input)
	second := p.Run(context.Background(), input)
	assert.Equal(t, first, second)
}
