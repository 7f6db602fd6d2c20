package convert

import (
	"fmt"

	"github.com/born-ml/detectnumber/internal/coreml"
	"github.com/born-ml/detectnumber/internal/nn"
	"github.com/born-ml/detectnumber/internal/tensor"
)

// CoreML writes Core ML NeuralNetwork models (.mlmodel).
type CoreML struct {
	opts coreml.Options
}

func newCoreML(opts Options) (Converter, error) {
	o := coreml.DefaultOptions()
	if opts.InputName != "" {
		o.InputName = opts.InputName
	}
	if opts.OutputName != "" {
		o.OutputName = opts.OutputName
	}
	if opts.MinIOS != "" {
		o.MinimumDeploymentTarget = opts.MinIOS
	}
	if opts.Description != "" {
		o.ShortDescription = opts.Description
	}
	o.Version = opts.ProducerVersion
	o.Author = opts.Author
	o.License = opts.License
	o.UserDefined = opts.Metadata

	if _, err := coreml.SpecificationVersion(o.MinimumDeploymentTarget); err != nil {
		return nil, err
	}
	return &CoreML{opts: o}, nil
}

func (c *CoreML) Format() string    { return FormatCoreML }
func (c *CoreML) Extension() string { return ".mlmodel" }

func (c *CoreML) Convert(model *nn.Sequential) ([]byte, error) {
	m, err := coreml.Convert(model, c.opts)
	if err != nil {
		return nil, err
	}
	return coreml.Marshal(m), nil
}

// Verify predicts each check sample separately; Core ML models take one
// sample at a time.
func (c *CoreML) Verify(data []byte, batch, want *tensor.Tensor) (float64, error) {
	m, err := coreml.Unmarshal(data)
	if err != nil {
		return 0, err
	}

	var worst float64
	for i := 0; i < batch.Rows(); i++ {
		row := batch.Row(i)
		input := make([]float64, len(row))
		for j, v := range row {
			input[j] = float64(v)
		}
		got, err := coreml.Predict(m, input)
		if err != nil {
			return 0, fmt.Errorf("sample %d: %w", i, err)
		}
		if len(got) != want.Cols() {
			return 0, fmt.Errorf("%w: sample %d has %d outputs, want %d", ErrVerification, i, len(got), want.Cols())
		}
		worst = max(worst, maxAbsDiff(want.Row(i), got))
	}
	return worst, nil
}
