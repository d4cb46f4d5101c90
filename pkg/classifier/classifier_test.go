package classifier

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksamirdev/unai/pkg/preprocess"
	"github.com/ksamirdev/unai/pkg/resolver"
	"github.com/ksamirdev/unai/pkg/tensor"
	"github.com/ksamirdev/unai/pkg/types"
)

type stubModel struct {
	scores []float32
	err    error
	panics bool
	closed bool
}

func (s *stubModel) Predict(*tensor.Tensor) ([]float32, error) {
	if s.panics {
		panic("index out of range")
	}
	return s.scores, s.err
}

func (s *stubModel) Close() error {
	s.closed = true
	return nil
}

func newStubClassifier(t *testing.T, m Model) *Classifier {
	t.Helper()
	c, err := New(NewHandle(m, types.ProvenanceTrained, "/models/DeepFake.onnx"), preprocess.DetectionConfig(), nil)
	require.NoError(t, err)
	return c
}

func writeTestImage(t *testing.T, name string) string {
	t.Helper()
	img := imaging.New(40, 30, color.NRGBA{R: 200, G: 60, B: 90, A: 255})
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

func TestIsSyntheticBoundary(t *testing.T) {
	assert.False(t, IsSynthetic(0.5))
	assert.True(t, IsSynthetic(0.5000001))
	assert.False(t, IsSynthetic(0))
	assert.True(t, IsSynthetic(1))
}

func TestClip(t *testing.T) {
	assert.Equal(t, 0.0, Clip(-0.3))
	assert.Equal(t, 1.0, Clip(1.7))
	assert.Equal(t, 0.42, Clip(0.42))
}

func TestInterpret(t *testing.T) {
	v, err := Interpret([]float32{0.3, 0.8})
	require.NoError(t, err)
	assert.Equal(t, 0.8, v)

	v, err = Interpret([]float32{0.2})
	require.NoError(t, err)
	assert.Equal(t, 0.2, v)

	_, err = Interpret(nil)
	require.Error(t, err)

	_, err = Interpret([]float32{float32(math.NaN())})
	require.Error(t, err)
}

func TestPredict(t *testing.T) {
	tests := []struct {
		name       string
		scores     []float32
		synthetic  bool
		confidence float64
		raw        float64
	}{
		{"authentic", []float32{0.2}, false, 0.2, 0.2},
		{"synthetic", []float32{0.91}, true, 0.91, 0.91},
		{"at threshold", []float32{0.5}, false, 0.5, 0.5},
		{"two class", []float32{0.1, 0.9}, true, 0.9, 0.9},
		{"above range", []float32{1.7}, true, 1, 1.7},
		{"below range", []float32{-0.4}, false, 0, -0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newStubClassifier(t, &stubModel{scores: tt.scores})
			res := c.Predict(tensor.New(128, 128, 3))
			assert.Equal(t, types.StatusSuccess, res.Status)
			assert.Equal(t, tt.synthetic, res.IsSynthetic)
			assert.Equal(t, tt.confidence, res.Confidence)
			assert.Equal(t, tt.raw, res.RawScore)
			assert.Equal(t, types.ProvenanceTrained, res.Provenance)
		})
	}
}

func TestPredictFailures(t *testing.T) {
	c := newStubClassifier(t, &stubModel{err: errors.New("shape mismatch")})
	res := c.Predict(tensor.New(8, 8, 3))
	assert.Equal(t, types.StatusError, res.Status)
	assert.Contains(t, res.Error, "inference failed")
	assert.Contains(t, res.Error, "shape mismatch")

	c = newStubClassifier(t, &stubModel{panics: true})
	res = c.Predict(tensor.New(8, 8, 3))
	assert.Equal(t, types.StatusError, res.Status)
	assert.Contains(t, res.Error, "index out of range")

	c = newStubClassifier(t, &stubModel{scores: []float32{}})
	res = c.Predict(tensor.New(8, 8, 3))
	assert.Equal(t, types.StatusError, res.Status)
}

func TestClassifyFile(t *testing.T) {
	c := newStubClassifier(t, &stubModel{scores: []float32{0.91}})
	res := c.Classify(context.Background(), writeTestImage(t, "fake.png"))
	assert.Equal(t, types.StatusSuccess, res.Status)
	assert.True(t, res.IsSynthetic)

	res = c.Classify(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Equal(t, types.StatusError, res.Status)
	assert.Contains(t, res.Error, types.ErrInputNotFound.Error())

	notImage := filepath.Join(t.TempDir(), "notes.jpg")
	require.NoError(t, os.WriteFile(notImage, []byte("plain text"), 0o644))
	res = c.Classify(context.Background(), notImage)
	assert.Equal(t, types.StatusError, res.Status)
	assert.Contains(t, res.Error, types.ErrImageDecode.Error())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = c.Classify(ctx, writeTestImage(t, "cat.png"))
	assert.Equal(t, types.StatusError, res.Status)
}

func TestMockModelDeterministic(t *testing.T) {
	a, err := newMockModel(DefaultMockSeed)
	require.NoError(t, err)
	b, err := newMockModel(DefaultMockSeed)
	require.NoError(t, err)

	pre, err := preprocess.New(preprocess.DetectionConfig())
	require.NoError(t, err)
	gradient := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			gradient.Set(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	x := pre.FromImage(gradient)

	sa, err := a.Predict(x)
	require.NoError(t, err)
	sb, err := b.Predict(x)
	require.NoError(t, err)
	require.Len(t, sa, 1)
	assert.Equal(t, sa, sb)
	assert.Greater(t, sa[0], float32(0))
	assert.Less(t, sa[0], float32(1))
}

func TestLoadWithoutArtifactUsesMock(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.Search.Fallbacks = nil

	c, err := Load(cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, types.ProvenanceMock, c.Provenance())
	assert.Empty(t, c.Handle().Path)
	assert.Equal(t, DeviceCPU, c.Handle().Device)

	res := c.Classify(context.Background(), writeTestImage(t, "cat.jpg"))
	assert.Equal(t, types.StatusSuccess, res.Status)
	assert.Equal(t, types.ProvenanceMock, res.Provenance)
	assert.GreaterOrEqual(t, res.Confidence, 0.0)
	assert.LessOrEqual(t, res.Confidence, 1.0)
}

func TestLoadUnreadableArtifactUsesMock(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "DeepFake.onnx"), []byte("not a model"), 0o644))

	cfg := DefaultConfig(dir)
	cfg.Search = resolver.Search{BaseDir: dir, Names: []string{"DeepFake.onnx"}}

	c, err := Load(cfg, nil)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, types.ProvenanceMock, c.Provenance())
}

func TestNewRejectsMissingModel(t *testing.T) {
	_, err := New(nil, preprocess.DetectionConfig(), nil)
	require.ErrorIs(t, err, types.ErrModelLoad)
	_, err = New(NewHandle(nil, types.ProvenanceTrained, ""), preprocess.DetectionConfig(), nil)
	require.ErrorIs(t, err, types.ErrModelLoad)
	assert.Nil(t, (*Handle)(nil).Model())

	stub := &stubModel{scores: []float32{0.1}}
	c := newStubClassifier(t, stub)
	require.NoError(t, c.Close())
	assert.True(t, stub.closed)
}
