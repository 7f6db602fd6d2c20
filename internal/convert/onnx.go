package convert

import (
	"fmt"

	"github.com/born-ml/detectnumber/internal/nn"
	"github.com/born-ml/detectnumber/internal/onnx"
	"github.com/born-ml/detectnumber/internal/tensor"
)

// ONNX writes ONNX graphs (.onnx).
type ONNX struct {
	opts onnx.ConvertOptions
}

func newONNX(opts Options) (Converter, error) {
	return &ONNX{opts: onnx.ConvertOptions{
		InputName:       opts.InputName,
		OutputName:      opts.OutputName,
		ProducerVersion: opts.ProducerVersion,
		DocString:       opts.Description,
		Metadata:        opts.Metadata,
	}}, nil
}

func (c *ONNX) Format() string    { return FormatONNX }
func (c *ONNX) Extension() string { return ".onnx" }

func (c *ONNX) Convert(model *nn.Sequential) ([]byte, error) {
	m, err := onnx.Convert(model, c.opts)
	if err != nil {
		return nil, err
	}
	return onnx.Marshal(m), nil
}

// Verify runs the whole check batch through the ONNX runtime.
func (c *ONNX) Verify(data []byte, batch, want *tensor.Tensor) (float64, error) {
	runtime, err := onnx.Decode(data)
	if err != nil {
		return 0, err
	}
	got, err := runtime.Forward(batch)
	if err != nil {
		return 0, err
	}
	if !got.Shape().Equal(want.Shape()) {
		return 0, fmt.Errorf("%w: output shape %v, want %v", ErrVerification, got.Shape(), want.Shape())
	}

	values := make([]float64, got.NumElements())
	for i, v := range got.Data() {
		values[i] = float64(v)
	}
	return maxAbsDiff(want.Data(), values), nil
}
