// Package mnist loads the MNIST handwritten-digit dataset.
//
// Images are decoded into float32 intensities normalized to [0, 1] by
// dividing the raw 0-255 pixel values by 255. Two on-disk layouts are read:
// the original IDX files (optionally gzip-compressed) and the Keras
// mnist.npz archive, which is downloaded on demand.
package mnist

import (
	"fmt"
	"iter"
	"math/rand/v2"

	"github.com/born-ml/detectnumber/internal/tensor"
)

// Image dimensions of the MNIST dataset.
const (
	Rows       = 28
	Cols       = 28
	PixelCount = Rows * Cols
	NumClasses = 10
)

// Dataset holds normalized images and their labels.
type Dataset struct {
	Images []float32 // [num_samples * rows * cols], row-major, values in [0, 1]
	Labels []uint8   // [num_samples], values in [0, 9]
	Rows   int
	Cols   int
}

// New builds a Dataset from raw 0-255 pixels, normalizing them.
func New(pixels []byte, labels []byte, rows, cols int) (*Dataset, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: invalid image size %dx%d", ErrFormat, rows, cols)
	}
	if len(pixels) != len(labels)*rows*cols {
		return nil, fmt.Errorf("%w: %d pixels for %d labels of %dx%d", ErrFormat, len(pixels), len(labels), rows, cols)
	}
	for i, l := range labels {
		if l >= NumClasses {
			return nil, fmt.Errorf("%w: label %d at index %d out of range [0, %d)", ErrFormat, l, i, NumClasses)
		}
	}

	return &Dataset{
		Images: Normalize(pixels),
		Labels: labels,
		Rows:   rows,
		Cols:   cols,
	}, nil
}

// Normalize converts 0-255 intensities to [0, 1].
func Normalize(pixels []byte) []float32 {
	out := make([]float32, len(pixels))
	for i, p := range pixels {
		out[i] = float32(p) / 255.0
	}
	return out
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.Labels)
}

// Image returns the pixels of sample i, sharing storage.
func (d *Dataset) Image(i int) []float32 {
	n := d.Rows * d.Cols
	return d.Images[i*n : (i+1)*n]
}

// Subset returns the first n samples, or d itself if n is non-positive or
// not smaller than Len.
func (d *Dataset) Subset(n int) *Dataset {
	if n <= 0 || n >= d.Len() {
		return d
	}
	return &Dataset{
		Images: d.Images[:n*d.Rows*d.Cols],
		Labels: d.Labels[:n],
		Rows:   d.Rows,
		Cols:   d.Cols,
	}
}

// Split holds out the trailing fraction of samples for validation.
//
// Returns d and nil when fraction is zero.
func (d *Dataset) Split(fraction float64) (train, validation *Dataset, err error) {
	if fraction == 0 {
		return d, nil, nil
	}
	if fraction < 0 || fraction >= 1 {
		return nil, nil, fmt.Errorf("validation fraction %v outside [0, 1)", fraction)
	}

	splitIdx := int(float64(d.Len()) * (1.0 - fraction))
	if splitIdx == 0 || splitIdx == d.Len() {
		return nil, nil, fmt.Errorf("validation fraction %v leaves an empty split of %d samples", fraction, d.Len())
	}

	n := d.Rows * d.Cols
	train = &Dataset{Images: d.Images[:splitIdx*n], Labels: d.Labels[:splitIdx], Rows: d.Rows, Cols: d.Cols}
	validation = &Dataset{Images: d.Images[splitIdx*n:], Labels: d.Labels[splitIdx:], Rows: d.Rows, Cols: d.Cols}
	return train, validation, nil
}

// Batch is a mini-batch ready for the model.
type Batch struct {
	Images *tensor.Tensor // [batch_size, rows, cols]
	Labels []uint8        // [batch_size]
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int {
	return len(b.Labels)
}

// NumBatches returns how many batches Batches yields for batchSize.
func (d *Dataset) NumBatches(batchSize int) int {
	return (d.Len() + batchSize - 1) / batchSize
}

// Batches yields mini-batches in order, or in a fresh random permutation
// when rng is non-nil. The last batch may be smaller than batchSize.
//
// Panics if batchSize is not positive.
func (d *Dataset) Batches(batchSize int, rng *rand.Rand) iter.Seq2[int, Batch] {
	if batchSize <= 0 {
		panic(fmt.Sprintf("mnist.Batches: batch size must be positive, got %d", batchSize))
	}

	var order []int
	if rng != nil {
		order = rng.Perm(d.Len())
	}

	return func(yield func(int, Batch) bool) {
		n := d.Rows * d.Cols
		for start, step := 0, 0; start < d.Len(); start, step = start+batchSize, step+1 {
			end := min(start+batchSize, d.Len())
			size := end - start

			images := tensor.New(tensor.Shape{size, d.Rows, d.Cols})
			labels := make([]uint8, size)
			data := images.Data()
			for j := 0; j < size; j++ {
				idx := start + j
				if order != nil {
					idx = order[idx]
				}
				copy(data[j*n:(j+1)*n], d.Image(idx))
				labels[j] = d.Labels[idx]
			}

			if !yield(step, Batch{Images: images, Labels: labels}) {
				return
			}
		}
	}
}
