package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tt := New(4, 5, 3)
	assert.Equal(t, Shape{1, 4, 5, 3}, tt.Shape)
	assert.Len(t, tt.Data, 60)
	assert.Equal(t, "[1 4 5 3]", tt.Shape.String())
}

func TestFromDataSizeMismatch(t *testing.T) {
	_, err := FromData(2, 2, 3, make([]float32, 11))
	require.Error(t, err)
}

func TestAtSetPixel(t *testing.T) {
	tt := New(2, 3, 2)
	tt.Set(1, 2, 1, 7)
	assert.Equal(t, float32(7), tt.At(1, 2, 1))
	assert.Equal(t, []float32{0, 7}, tt.Pixel(1, 2))
	assert.Equal(t, float32(7), tt.Data[len(tt.Data)-1])
}

func TestConcat(t *testing.T) {
	a, _ := FromData(1, 2, 1, []float32{1, 2})
	b, _ := FromData(1, 2, 2, []float32{10, 11, 20, 21})

	out, err := Concat(a, b)
	require.NoError(t, err)
	assert.Equal(t, Shape{1, 1, 2, 3}, out.Shape)
	assert.Equal(t, []float32{1, 10, 11, 2, 20, 21}, out.Data)

	c := New(2, 2, 1)
	_, err = Concat(a, c)
	require.Error(t, err)
}

func TestScaleChannelsAndRange(t *testing.T) {
	tt, _ := FromData(1, 2, 2, []float32{1, 2, 3, 4})
	require.NoError(t, tt.ScaleChannels([]float32{2, -1}))
	assert.Equal(t, []float32{2, -2, 6, -4}, tt.Data)

	lo, hi := tt.Range()
	assert.Equal(t, float32(-4), lo)
	assert.Equal(t, float32(6), hi)

	require.Error(t, tt.ScaleChannels([]float32{1}))
}

func TestAddAndClone(t *testing.T) {
	a, _ := FromData(1, 1, 2, []float32{1, 2})
	b := a.Clone()
	require.NoError(t, a.Add(b))
	assert.Equal(t, []float32{2, 4}, a.Data)
	assert.Equal(t, []float32{1, 2}, b.Data)

	require.Error(t, a.Add(New(1, 1, 3)))
}
