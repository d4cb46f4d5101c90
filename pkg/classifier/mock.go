package classifier

import (
	"math"
	"math/rand"

	"github.com/ksamirdev/unai/pkg/nn"
	"github.com/ksamirdev/unai/pkg/tensor"
)

// DefaultMockSeed seeds the stand-in network weights
const DefaultMockSeed = 1337

const (
	mockFilters = 32
	mockKernel  = 3
)

// mockModel is an untrained stand-in used when no artifact is available:
// Conv2D(3->32, 3x3, valid) + ReLU, global average pool, Dense(1) + sigmoid.
// Weights are Glorot-uniform from a fixed seed so results are reproducible.
type mockModel struct {
	net nn.Sequential
}

func newMockModel(seed int64) (*mockModel, error) {
	r := rand.New(rand.NewSource(seed))

	convWeight := glorotUniform(r, 3*mockKernel*mockKernel, mockFilters*mockKernel*mockKernel, mockFilters*3*mockKernel*mockKernel)
	conv, err := nn.NewConv2D(3, mockFilters, mockKernel, 1, 0, convWeight, make([]float32, mockFilters))
	if err != nil {
		return nil, err
	}
	dense, err := nn.NewLinear(mockFilters, 1, glorotUniform(r, mockFilters, 1, mockFilters), make([]float32, 1))
	if err != nil {
		return nil, err
	}

	return &mockModel{net: nn.Sequential{conv, nn.ReLU{}, nn.GlobalAvgPool{}, dense, nn.Sigmoid{}}}, nil
}

func (m *mockModel) Predict(x *tensor.Tensor) ([]float32, error) {
	out, err := m.net.Forward(x)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (m *mockModel) Close() error { return nil }

func glorotUniform(r *rand.Rand, fanIn, fanOut, n int) []float32 {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32((r.Float64()*2 - 1) * limit)
	}
	return out
}
