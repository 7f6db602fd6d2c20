package tensor

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/born-ml/detectnumber/internal/parallel"
)

// Tensor is a dense, row-major float32 tensor.
//
// Tensors own their data slice. Reshape returns a view that shares the
// underlying storage; every other operation allocates a new result.
//
// Example:
//
//	x, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
//	if err != nil {
//	    return err
//	}
//	w := tensor.Zeros(tensor.Shape{4, 3})
//	y := x.MatMulTransB(w) // shape [2, 4]
type Tensor struct {
	shape Shape
	data  []float32
}

var parallelCfg atomic.Pointer[parallel.Config]

func init() {
	cfg := parallel.DefaultConfig()
	parallelCfg.Store(&cfg)
}

// SetParallelism sets the worker count used by matrix kernels.
// A non-positive n restores the CPU-count default.
func SetParallelism(n int) {
	cfg := parallel.DefaultConfig().WithWorkers(n)
	parallelCfg.Store(&cfg)
}

func kernelConfig() parallel.Config {
	return *parallelCfg.Load()
}

// New allocates a zero-filled tensor with the given shape.
//
// Panics if the shape contains a non-positive dimension.
func New(shape Shape) *Tensor {
	if err := shape.Validate(); err != nil {
		panic(fmt.Sprintf("tensor.New: %v", err))
	}
	return &Tensor{
		shape: shape.Clone(),
		data:  make([]float32, shape.NumElements()),
	}
}

// Zeros is an alias of New kept for readability at call sites.
func Zeros(shape Shape) *Tensor {
	return New(shape)
}

// FromSlice wraps data in a tensor without copying.
//
// Returns an error if len(data) does not match the shape.
func FromSlice(data []float32, shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	return &Tensor{shape: shape.Clone(), data: data}, nil
}

// Shape returns the tensor shape. The returned slice must not be modified.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Data returns the underlying storage.
func (t *Tensor) Data() []float32 {
	return t.data
}

// NumElements returns the element count.
func (t *Tensor) NumElements() int {
	return len(t.data)
}

// Rows returns the size of the first dimension.
func (t *Tensor) Rows() int {
	return t.shape[0]
}

// Cols returns the product of all dimensions after the first.
func (t *Tensor) Cols() int {
	if len(t.shape) == 0 {
		return 1
	}
	return len(t.data) / t.shape[0]
}

// At returns the element at row i, column j of a 2D view of the tensor.
func (t *Tensor) At(i, j int) float32 {
	return t.data[i*t.Cols()+j]
}

// Row returns the i-th row of a 2D view of the tensor, sharing storage.
func (t *Tensor) Row(i int) []float32 {
	c := t.Cols()
	return t.data[i*c : (i+1)*c]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	return &Tensor{shape: t.shape.Clone(), data: data}
}

// Reshape returns a view with a new shape over the same data.
//
// Panics if the element count differs.
func (t *Tensor) Reshape(dims ...int) *Tensor {
	shape := Shape(dims)
	if shape.NumElements() != len(t.data) {
		panic(fmt.Sprintf("tensor.Reshape: cannot reshape %v into %v", t.shape, shape))
	}
	return &Tensor{shape: shape.Clone(), data: t.data}
}

// ErrSampleShape is returned by AsSamples when a sample does not hold the
// expected number of elements.
var ErrSampleShape = errors.New("sample shape mismatch")

// AsSamples views a batch [n, ...] as [n, sample...]. The per-sample
// element counts must agree; only the layout changes.
func (t *Tensor) AsSamples(sample Shape) (*Tensor, error) {
	if len(t.shape) == 0 {
		return nil, fmt.Errorf("%w: scalar has no batch dimension", ErrSampleShape)
	}
	n := t.shape[0]
	if got, want := Shape(t.shape[1:]), sample; got.NumElements() != want.NumElements() {
		return nil, fmt.Errorf("%w: samples of shape %v do not fit %v", ErrSampleShape, got, want)
	}
	return t.Reshape(append([]int{n}, sample...)...), nil
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float32) {
	for i := range t.data {
		t.data[i] = v
	}
}

// Scale multiplies every element by s in place.
func (t *Tensor) Scale(s float32) {
	for i := range t.data {
		t.data[i] *= s
	}
}
