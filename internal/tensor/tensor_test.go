package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFromSlice(t *testing.T, data []float32, shape Shape) *Tensor {
	t.Helper()
	x, err := FromSlice(data, shape)
	require.NoError(t, err)
	return x
}

func TestShape(t *testing.T) {
	s := Shape{2, 3, 4}
	assert.Equal(t, 24, s.NumElements())
	assert.Equal(t, 1, Shape{}.NumElements())
	assert.True(t, s.Equal(Shape{2, 3, 4}))
	assert.False(t, s.Equal(Shape{2, 3}))
	assert.Equal(t, "[2 x 3 x 4]", s.String())
	assert.Error(t, Shape{2, 0}.Validate())

	c := s.Clone()
	c[0] = 9
	assert.Equal(t, 2, s[0])
}

func TestFromSlice_LengthMismatch(t *testing.T) {
	_, err := FromSlice([]float32{1, 2, 3}, Shape{2, 2})
	assert.Error(t, err)
}

func TestReshapeSharesData(t *testing.T) {
	x := mustFromSlice(t, []float32{1, 2, 3, 4, 5, 6}, Shape{1, 2, 3})
	y := x.Reshape(1, 6)
	y.Data()[0] = 42

	assert.Equal(t, float32(42), x.Data()[0])
	assert.Equal(t, 6, y.Cols())
	assert.Panics(t, func() { x.Reshape(4, 2) })
}

func TestAsSamples(t *testing.T) {
	x := New(Shape{2, 28, 28})

	flat, err := x.AsSamples(Shape{784})
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 784}, flat.Shape())

	same, err := flat.AsSamples(Shape{28, 28})
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 28, 28}, same.Shape())

	_, err = x.AsSamples(Shape{100})
	assert.ErrorIs(t, err, ErrSampleShape)
}

func TestMatMulTransB(t *testing.T) {
	x := mustFromSlice(t, []float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	w := mustFromSlice(t, []float32{1, 0, 0, 0, 1, 1}, Shape{2, 3})

	y := x.MatMulTransB(w)

	assert.Equal(t, Shape{2, 2}, y.Shape())
	assert.Equal(t, []float32{1, 5, 4, 11}, y.Data())
}

func TestMatMul(t *testing.T) {
	a := mustFromSlice(t, []float32{1, 2, 3, 4}, Shape{2, 2})
	b := mustFromSlice(t, []float32{5, 6, 7, 8}, Shape{2, 2})

	assert.Equal(t, []float32{19, 22, 43, 50}, a.MatMul(b).Data())
	assert.Panics(t, func() { a.MatMul(New(Shape{3, 2})) })
}

func TestTransposeMatMul(t *testing.T) {
	x := mustFromSlice(t, []float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	g := mustFromSlice(t, []float32{1, 0, 0, 1}, Shape{2, 2})

	// xᵀ @ g laid out as [n, k]: row j is sum_i g[i,j] * x[i,:].
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, x.TransposeMatMul(g).Data())
}

func TestMatMulParallelMatchesSequential(t *testing.T) {
	const m, k, n = 97, 31, 13
	a := New(Shape{m, k})
	b := New(Shape{n, k})
	for i := range a.Data() {
		a.Data()[i] = float32(i%7) - 3
	}
	for i := range b.Data() {
		b.Data()[i] = float32(i%5) * 0.25
	}

	SetParallelism(1)
	seq := a.MatMulTransB(b)
	SetParallelism(4)
	par := a.MatMulTransB(b)
	SetParallelism(0)

	assert.InDeltaSlice(t, seq.Data(), par.Data(), 1e-5)
}

func TestRowHelpers(t *testing.T) {
	x := mustFromSlice(t, []float32{1, 5, 2, 7, 7, 0}, Shape{2, 3})

	assert.Equal(t, []int{1, 0}, x.ArgMaxRows())
	assert.Equal(t, []float32{8, 12, 2}, x.SumRows())

	x.AddRowVector([]float32{1, 1, 1})
	assert.Equal(t, []float32{2, 6, 3, 8, 8, 1}, x.Data())
	assert.Equal(t, -1, ArgMax(nil))
}

func TestBytesRoundTrip(t *testing.T) {
	x := mustFromSlice(t, []float32{0.5, -1.25, 3}, Shape{3})

	y, err := FromBytes(x.Shape(), Float32, x.Bytes())
	require.NoError(t, err)
	assert.Equal(t, x.Data(), y.Data())

	_, err = FromBytes(Shape{4}, Float32, x.Bytes())
	assert.Error(t, err)
}

func TestFromBytesUint8(t *testing.T) {
	y, err := FromBytes(Shape{3}, Uint8, []byte{0, 128, 255})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 128, 255}, y.Data())
}

func TestParseDataType(t *testing.T) {
	for _, dt := range []DataType{Float32, Float64, Int32, Uint8} {
		got, err := ParseDataType(dt.String())
		require.NoError(t, err)
		assert.Equal(t, dt, got)
	}
	_, err := ParseDataType("bfloat16")
	assert.Error(t, err)
}
