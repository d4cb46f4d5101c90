package classifier

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ksamirdev/unai/pkg/tensor"
)

var (
	runtimeMu    sync.Mutex
	runtimeUsers int
)

// acquireRuntime initializes the shared onnxruntime environment on first use
func acquireRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeUsers == 0 && !ort.IsInitialized() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}
	runtimeUsers++
	return nil
}

func releaseRuntime() {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	runtimeUsers--
	if runtimeUsers == 0 && ort.IsInitialized() {
		ort.DestroyEnvironment()
	}
}

// onnxModel runs an exported classifier through onnxruntime. Both NHWC and
// NCHW inputs are accepted; the layout is taken from the model signature.
type onnxModel struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputShape   ort.Shape
	channelsLast bool
}

// newONNXModel opens the model at path. Symbolic spatial dimensions of the
// input are fixed to height x width.
func newONNXModel(path, libraryPath string, height, width int) (*onnxModel, error) {
	if err := acquireRuntime(libraryPath); err != nil {
		return nil, err
	}

	m, err := openONNXModel(path, int64(height), int64(width))
	if err != nil {
		releaseRuntime()
		return nil, err
	}
	return m, nil
}

func openONNXModel(path string, height, width int64) (*onnxModel, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("read model signature: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("expected one input and at least one output, got %d and %d", len(inputs), len(outputs))
	}

	inputShape, channelsLast, err := resolveInputShape(inputs[0].Dimensions, height, width)
	if err != nil {
		return nil, err
	}
	outputShape := pinDynamic(outputs[0].Dimensions)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &onnxModel{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputShape:   inputShape,
		channelsLast: channelsLast,
	}, nil
}

// resolveInputShape fixes the symbolic axes of an image input: batch to one,
// channels to three and the spatial axes to height x width. The layout is
// NHWC unless the second axis is the only one holding three channels.
func resolveInputShape(dims ort.Shape, height, width int64) (ort.Shape, bool, error) {
	if len(dims) != 4 {
		return nil, false, fmt.Errorf("expected a 4-D image input, got %v", dims)
	}
	channelsLast := dims[3] == 3 || dims[1] != 3
	hAxis, wAxis, cAxis := 1, 2, 3
	if !channelsLast {
		cAxis, hAxis, wAxis = 1, 2, 3
	}

	out := make(ort.Shape, len(dims))
	copy(out, dims)
	out[0] = 1
	for axis, v := range map[int]int64{hAxis: height, wAxis: width, cAxis: 3} {
		if out[axis] <= 0 {
			out[axis] = v
		}
	}
	return out, channelsLast, nil
}

// pinDynamic replaces symbolic output dimensions with 1; batch is always one image
func pinDynamic(s ort.Shape) ort.Shape {
	out := make(ort.Shape, len(s))
	for i, d := range s {
		if d <= 0 {
			d = 1
		}
		out[i] = d
	}
	return out
}

func (m *onnxModel) Predict(x *tensor.Tensor) ([]float32, error) {
	h, w := int64(x.Shape.H()), int64(x.Shape.W())
	want := ort.NewShape(1, h, w, int64(x.Shape.C()))
	if !m.channelsLast {
		want = ort.NewShape(1, int64(x.Shape.C()), h, w)
	}
	if !sameShape(want, m.inputShape) {
		return nil, fmt.Errorf("model expects input %v, got %v", m.inputShape, want)
	}

	dst := m.inputTensor.GetData()
	if m.channelsLast {
		copy(dst, x.Data)
	} else {
		toChannelsFirst(dst, x)
	}

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := m.outputTensor.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

func (m *onnxModel) Close() error {
	if m.session == nil {
		return nil
	}
	m.session.Destroy()
	m.inputTensor.Destroy()
	m.outputTensor.Destroy()
	m.session = nil
	releaseRuntime()
	return nil
}

func toChannelsFirst(dst []float32, x *tensor.Tensor) {
	h, w, c := x.Shape.H(), x.Shape.W(), x.Shape.C()
	plane := h * w
	for y := 0; y < h; y++ {
		for xx := 0; xx < w; xx++ {
			px := x.Pixel(y, xx)
			for ch := 0; ch < c; ch++ {
				dst[ch*plane+y*w+xx] = px[ch]
			}
		}
	}
}

func sameShape(a, b ort.Shape) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
