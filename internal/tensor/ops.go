package tensor

import (
	"fmt"

	"github.com/born-ml/detectnumber/internal/parallel"
)

// MatMulTransB computes t @ wᵀ.
//
// Shapes: t [m, k], w [n, k] -> [m, n]. This is the dense-layer forward
// product with weights stored as [out_features, in_features].
func (t *Tensor) MatMulTransB(w *Tensor) *Tensor {
	m, k := t.Rows(), t.Cols()
	n := w.Rows()
	if w.Cols() != k {
		panic(fmt.Sprintf("tensor.MatMulTransB: inner dimensions differ: %v and %v", t.shape, w.shape))
	}

	out := New(Shape{m, n})
	a, b, c := t.data, w.data, out.data
	parallel.ForChunks(m, func(start, end int) {
		for i := start; i < end; i++ {
			row := a[i*k : (i+1)*k]
			dst := c[i*n : (i+1)*n]
			for j := 0; j < n; j++ {
				dst[j] = dot(row, b[j*k:(j+1)*k])
			}
		}
	}, kernelConfig())
	return out
}

// MatMul computes t @ w.
//
// Shapes: t [m, k], w [k, n] -> [m, n].
func (t *Tensor) MatMul(w *Tensor) *Tensor {
	m, k := t.Rows(), t.Cols()
	n := w.Cols()
	if w.Rows() != k {
		panic(fmt.Sprintf("tensor.MatMul: inner dimensions differ: %v and %v", t.shape, w.shape))
	}

	out := New(Shape{m, n})
	a, b, c := t.data, w.data, out.data
	parallel.ForChunks(m, func(start, end int) {
		for i := start; i < end; i++ {
			dst := c[i*n : (i+1)*n]
			for p := 0; p < k; p++ {
				av := a[i*k+p]
				if av == 0 {
					continue
				}
				axpy(av, b[p*n:(p+1)*n], dst)
			}
		}
	}, kernelConfig())
	return out
}

// TransposeMatMul computes tᵀ @ g.
//
// Shapes: t [m, k], g [m, n] -> [n, k]; the result is laid out as
// [n, k] so it can be used directly as a weight gradient for
// [out_features, in_features] weights.
func (t *Tensor) TransposeMatMul(g *Tensor) *Tensor {
	m, k := t.Rows(), t.Cols()
	n := g.Cols()
	if g.Rows() != m {
		panic(fmt.Sprintf("tensor.TransposeMatMul: row counts differ: %v and %v", t.shape, g.shape))
	}

	out := New(Shape{n, k})
	a, b, c := t.data, g.data, out.data
	parallel.ForChunks(n, func(start, end int) {
		for j := start; j < end; j++ {
			dst := c[j*k : (j+1)*k]
			for i := 0; i < m; i++ {
				gv := b[i*n+j]
				if gv == 0 {
					continue
				}
				axpy(gv, a[i*k:(i+1)*k], dst)
			}
		}
	}, kernelConfig())
	return out
}

// AddRowVector adds v to every row in place. len(v) must equal Cols().
func (t *Tensor) AddRowVector(v []float32) {
	c := t.Cols()
	if len(v) != c {
		panic(fmt.Sprintf("tensor.AddRowVector: vector length %d, want %d", len(v), c))
	}
	for i := 0; i < t.Rows(); i++ {
		axpy(1, v, t.data[i*c:(i+1)*c])
	}
}

// SumRows returns the column-wise sum over all rows.
func (t *Tensor) SumRows() []float32 {
	c := t.Cols()
	out := make([]float32, c)
	for i := 0; i < t.Rows(); i++ {
		axpy(1, t.data[i*c:(i+1)*c], out)
	}
	return out
}

// ArgMaxRows returns the index of the largest element of each row.
// Ties resolve to the lowest index.
func (t *Tensor) ArgMaxRows() []int {
	out := make([]int, t.Rows())
	for i := range out {
		out[i] = ArgMax(t.Row(i))
	}
	return out
}

// ArgMax returns the index of the largest element of v, or -1 if v is empty.
func ArgMax(v []float32) int {
	if len(v) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func dot(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	i := 0
	for ; i+4 <= len(a); i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < len(a); i++ {
		s0 += a[i] * b[i]
	}
	return s0 + s1 + s2 + s3
}

// axpy computes y += alpha * x.
func axpy(alpha float32, x, y []float32) {
	for i, v := range x {
		y[i] += alpha * v
	}
}
