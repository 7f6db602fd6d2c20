package pipeline_test

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/detectnumber/internal/config"
	"github.com/born-ml/detectnumber/internal/coreml"
	"github.com/born-ml/detectnumber/internal/mnist"
	"github.com/born-ml/detectnumber/internal/nn"
	"github.com/born-ml/detectnumber/internal/onnx"
	"github.com/born-ml/detectnumber/internal/pipeline"
	"github.com/born-ml/detectnumber/internal/predict"
	"github.com/born-ml/detectnumber/internal/serialization"
	"github.com/born-ml/detectnumber/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dataDir := t.TempDir()
	testutil.WriteIDXDataset(t, dataDir, 400, 100)

	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.CacheDir = t.TempDir()
	cfg.Download = false
	cfg.OutputDir = t.TempDir()
	cfg.HiddenUnits = 32
	cfg.LearningRate = 0.01
	cfg.Formats = []string{"coreml", "onnx"}
	return cfg
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.ValidationSplit = 0.1

	res, err := pipeline.Run(context.Background(), cfg, testutil.NewTestLogger(t), pipeline.Options{})
	require.NoError(t, err)

	require.Len(t, res.History.Epochs, 5)
	assert.NotNil(t, res.History.Epochs[0].Validation)
	assert.Equal(t, 360, res.TrainSamples)
	assert.Equal(t, 100, res.Test.Samples)
	assert.Greater(t, res.Test.Accuracy, 0.8)

	// Native model.
	assert.Equal(t, filepath.Join(cfg.OutputDir, "NumberDetectorModel.born"), res.ModelPath)
	model, header, err := serialization.LoadModel(res.ModelPath)
	require.NoError(t, err)
	assert.Equal(t, res.ModelID, header.ModelID)
	require.NotNil(t, header.Training)
	assert.Equal(t, 5, header.Training.Epochs)
	assert.Equal(t, "adam", header.Training.Optimizer)
	assert.InDelta(t, res.Test.Accuracy, header.Training.TestAccuracy, 1e-12)
	assert.Equal(t, 5, model.Len())

	// Converted models.
	require.Len(t, res.Artifacts, 2)
	m, err := coreml.ReadFile(res.Artifacts[0].Path)
	require.NoError(t, err)
	assert.EqualValues(t, 4, m.SpecificationVersion)
	assert.Equal(t, "flatten_input", m.Description.Input[0].Name)
	assert.Equal(t, []int64{1, 28, 28}, m.Description.Input[0].Type.MultiArray.Shape)
	assert.Equal(t, "Identity", m.Description.Output[0].Name)
	assert.Equal(t, []int64{10}, m.Description.Output[0].Type.MultiArray.Shape)
	assert.Equal(t, res.ModelID, m.Description.Metadata.UserDefined["model_id"])

	proto, err := onnx.ParseFile(res.Artifacts[1].Path)
	require.NoError(t, err)
	assert.EqualValues(t, 13, onnx.Info(proto).OpsetVersion)
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Epochs = 0

	_, err := pipeline.Run(context.Background(), cfg, testutil.NewTestLogger(t), pipeline.Options{})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRunMissingData(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataDir = t.TempDir()

	_, err := pipeline.Run(context.Background(), cfg, testutil.NewTestLogger(t), pipeline.Options{})
	assert.ErrorIs(t, err, mnist.ErrNotFound)
}

func TestRunCanceled(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pipeline.Run(ctx, cfg, testutil.NewTestLogger(t), pipeline.Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConvertAndEvaluateFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Formats = []string{"coreml"}
	res, err := pipeline.Run(context.Background(), cfg, testutil.NewTestLogger(t), pipeline.Options{})
	require.NoError(t, err)

	convertCfg := config.Default()
	convertCfg.Formats = []string{"onnx"}
	artifacts, err := pipeline.ConvertFile(context.Background(), convertCfg, res.ModelPath, pipeline.ConvertFileOptions{}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "NumberDetectorModel.onnx"), artifacts[0].Path)

	native, err := pipeline.EvaluateFile(context.Background(), cfg, res.ModelPath, testutil.NewTestLogger(t), pipeline.Options{})
	require.NoError(t, err)
	assert.InDelta(t, res.Test.Accuracy, native.Accuracy, 1e-9)

	// Converted models score the same test split.
	for _, path := range []string{res.Artifacts[0].Path, artifacts[0].Path} {
		m, err := pipeline.EvaluateFile(context.Background(), cfg, path, testutil.NewTestLogger(t), pipeline.Options{})
		require.NoError(t, err, path)
		assert.Equal(t, native.Samples, m.Samples, path)
		assert.InDelta(t, native.Accuracy, m.Accuracy, 0.02, path)
		assert.InDelta(t, native.Loss, m.Loss, 1e-3, path)
	}

	_, err = pipeline.EvaluateFile(context.Background(), cfg, filepath.Join(cfg.OutputDir, "model.h5"), testutil.NewTestLogger(t), pipeline.Options{})
	assert.ErrorIs(t, err, predict.ErrUnknownModelType)
}

func TestConvertFileHonorsExplicitDestination(t *testing.T) {
	cfg := testConfig(t)
	cfg.Formats = []string{"onnx"}
	cfg.ModelName = "Trained"
	res, err := pipeline.Run(context.Background(), cfg, testutil.NewTestLogger(t), pipeline.Options{})
	require.NoError(t, err)

	// An explicit name equal to the default still wins over the file name.
	convertCfg := config.Default()
	convertCfg.Formats = []string{"onnx"}
	convertCfg.OutputDir = t.TempDir()
	artifacts, err := pipeline.ConvertFile(context.Background(), convertCfg, res.ModelPath,
		pipeline.ConvertFileOptions{ModelNameSet: true, OutputDirSet: true}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, filepath.Join(convertCfg.OutputDir, config.DefaultModelName+".onnx"), artifacts[0].Path)

	artifacts, err = pipeline.ConvertFile(context.Background(), convertCfg, res.ModelPath,
		pipeline.ConvertFileOptions{}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "Trained.onnx"), artifacts[0].Path)
}

func TestEvaluateFileLinearFirstModel(t *testing.T) {
	cfg := testConfig(t)
	model, err := nn.Build([]nn.LayerSpec{
		{Name: "dense", Type: nn.LayerLinear, InFeatures: nn.ImageSize * nn.ImageSize, OutFeatures: nn.NumClasses},
		{Name: "dense_softmax", Type: nn.LayerSoftmax},
	}, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	path := filepath.Join(cfg.OutputDir, "linear.born")
	require.NoError(t, serialization.WriteFile(path, model, serialization.Header{}))

	m, err := pipeline.EvaluateFile(context.Background(), cfg, path, testutil.NewTestLogger(t), pipeline.Options{})
	require.NoError(t, err)
	assert.Equal(t, 100, m.Samples)
}
