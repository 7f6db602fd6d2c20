package convert_test

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/detectnumber/internal/convert"
	"github.com/born-ml/detectnumber/internal/coreml"
	"github.com/born-ml/detectnumber/internal/nn"
	"github.com/born-ml/detectnumber/internal/onnx"
	"github.com/born-ml/detectnumber/internal/tensor"
	"github.com/born-ml/detectnumber/internal/testutil"
)

func newModel() *nn.Sequential {
	return nn.NewDigitClassifier(12, rand.New(rand.NewPCG(5, 6)))
}

func TestRegistry(t *testing.T) {
	r := convert.NewRegistry()
	assert.Equal(t, []string{"coreml", "onnx"}, r.Formats())

	c, err := r.Get(" CoreML ", convert.Options{})
	require.NoError(t, err)
	assert.Equal(t, ".mlmodel", c.Extension())

	_, err = r.Get("tflite", convert.Options{})
	assert.ErrorIs(t, err, convert.ErrUnknownFormat)

	_, err = r.Get("coreml", convert.Options{MinIOS: "9"})
	assert.ErrorIs(t, err, coreml.ErrUnsupportedTarget)
}

func TestResolve(t *testing.T) {
	r := convert.NewRegistry()

	cs, err := r.Resolve(nil, convert.Options{})
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, "coreml", cs[0].Format())

	cs, err = r.Resolve([]string{"onnx", "coreml", "ONNX"}, convert.Options{})
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "onnx", cs[0].Format())
}

func TestCheckBatchIsDeterministic(t *testing.T) {
	model := newModel()
	a, err := convert.CheckBatch(model, 3, 7)
	require.NoError(t, err)
	b, err := convert.CheckBatch(model, 3, 7)
	require.NoError(t, err)

	assert.Equal(t, tensor.Shape{3, 28, 28}, a.Shape())
	assert.Equal(t, a.Data(), b.Data())
}

func TestConvertersVerify(t *testing.T) {
	model := newModel()
	batch, err := convert.CheckBatch(model, 4, 1)
	require.NoError(t, err)
	want := model.Forward(batch)

	cs, err := convert.NewRegistry().Resolve([]string{"coreml", "onnx"}, convert.Options{})
	require.NoError(t, err)
	for _, c := range cs {
		t.Run(c.Format(), func(t *testing.T) {
			data, err := c.Convert(model)
			require.NoError(t, err)

			diff, err := c.Verify(data, batch, want)
			require.NoError(t, err)
			assert.Less(t, diff, convert.Tolerance)

			// A different model's outputs do not match.
			other := nn.NewDigitClassifier(12, rand.New(rand.NewPCG(8, 8)))
			diff, err = c.Verify(data, batch, other.Forward(batch))
			require.NoError(t, err)
			assert.Greater(t, diff, convert.Tolerance)
		})
	}
}

func TestWriteAll(t *testing.T) {
	model := newModel()
	dir := filepath.Join(t.TempDir(), "out")
	cs, err := convert.NewRegistry().Resolve([]string{"coreml", "onnx"}, convert.Options{
		Metadata: map[string]string{"epochs": "5"},
	})
	require.NoError(t, err)

	artifacts, err := convert.WriteAll(context.Background(), model, cs, dir, "NumberDetectorModel", testutil.NewTestLogger(t))
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	assert.Equal(t, filepath.Join(dir, "NumberDetectorModel.mlmodel"), artifacts[0].Path)
	assert.Equal(t, filepath.Join(dir, "NumberDetectorModel.onnx"), artifacts[1].Path)

	data, err := os.ReadFile(artifacts[0].Path)
	require.NoError(t, err)
	assert.Len(t, data, artifacts[0].Size)
	m, err := coreml.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, "flatten_input", m.Description.Input[0].Name)
	assert.Equal(t, "5", m.Description.Metadata.UserDefined["epochs"])

	_, err = onnx.Load(artifacts[1].Path)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

type brokenConverter struct{ convert.Converter }

func (brokenConverter) Verify([]byte, *tensor.Tensor, *tensor.Tensor) (float64, error) {
	return 1, nil
}

func TestWriteAllRejectsMismatch(t *testing.T) {
	c, err := convert.NewRegistry().Get("onnx", convert.Options{})
	require.NoError(t, err)
	dir := t.TempDir()

	_, err = convert.WriteAll(context.Background(), newModel(), []convert.Converter{brokenConverter{c}}, dir, "m", testutil.NewTestLogger(t))
	assert.ErrorIs(t, err, convert.ErrVerification)
	assert.NoFileExists(t, filepath.Join(dir, "m.onnx"))
}

func TestWriteAllCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cs, err := convert.NewRegistry().Resolve(nil, convert.Options{})
	require.NoError(t, err)

	_, err = convert.WriteAll(ctx, newModel(), cs, t.TempDir(), "m", testutil.NewTestLogger(t))
	assert.ErrorIs(t, err, context.Canceled)
}
