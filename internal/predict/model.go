package predict

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/born-ml/detectnumber/internal/coreml"
	"github.com/born-ml/detectnumber/internal/onnx"
	"github.com/born-ml/detectnumber/internal/serialization"
	"github.com/born-ml/detectnumber/internal/tensor"
)

// ErrUnknownModelType is returned by Open for unrecognized extensions.
var ErrUnknownModelType = errors.New("unknown model file type")

// Model maps a batch of samples to a [n, classes] matrix of probabilities.
// Samples may be laid out flat or as images; each model reshapes them to
// the input it declares.
type Model interface {
	Predict(x *tensor.Tensor) (*tensor.Tensor, error)
}

// Open loads a native .born model, an ONNX graph or a Core ML model
// based on the file extension.
func Open(path string) (Model, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".born":
		m, _, err := serialization.LoadModel(path)
		if err != nil {
			return nil, err
		}
		return m, nil
	case ".onnx":
		r, err := onnx.Load(path)
		if err != nil {
			return nil, err
		}
		return r, nil
	case ".mlmodel":
		m, err := coreml.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return &coreMLModel{spec: m}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownModelType, path)
	}
}

// coreMLModel evaluates a Core ML model one sample at a time.
type coreMLModel struct {
	spec *coreml.Model
}

func (m *coreMLModel) Predict(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape()) == 0 || x.Rows() == 0 {
		return nil, fmt.Errorf("%w: empty batch", tensor.ErrSampleShape)
	}

	var out *tensor.Tensor
	sample := make([]float64, x.Cols())
	for i := range x.Rows() {
		for j, v := range x.Row(i) {
			sample[j] = float64(v)
		}
		y, err := coreml.Predict(m.spec, sample)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		if out == nil {
			out = tensor.New(tensor.Shape{x.Rows(), len(y)})
		}
		if len(y) != out.Cols() {
			return nil, fmt.Errorf("sample %d: %d outputs, first sample had %d", i, len(y), out.Cols())
		}
		row := out.Row(i)
		for j, v := range y {
			row[j] = float32(v)
		}
	}
	return out, nil
}
