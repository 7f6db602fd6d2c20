// Package pipeline runs the end-to-end flow: load MNIST, train the digit
// classifier, evaluate it, save the native model and export it to mobile
// formats.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/born-ml/detectnumber/internal/config"
	"github.com/born-ml/detectnumber/internal/convert"
	"github.com/born-ml/detectnumber/internal/mnist"
	"github.com/born-ml/detectnumber/internal/nn"
	"github.com/born-ml/detectnumber/internal/optim"
	"github.com/born-ml/detectnumber/internal/predict"
	"github.com/born-ml/detectnumber/internal/serialization"
	"github.com/born-ml/detectnumber/internal/tensor"
	"github.com/born-ml/detectnumber/internal/trainer"
)

// LossName is recorded in model headers.
const LossName = "sparse_categorical_crossentropy"

// Result summarizes a completed run.
type Result struct {
	ModelID      string
	History      trainer.History
	Test         trainer.Metrics
	TrainSamples int
	ModelPath    string
	Artifacts    []convert.Artifact
	Duration     time.Duration
}

// Options carries dependencies that are not configuration.
type Options struct {
	// Client is used for dataset downloads; nil means http.DefaultClient.
	Client *http.Client
}

// Run executes the whole pipeline described by cfg.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Result, error) {
	start := time.Now()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tensor.SetParallelism(cfg.Workers)

	train, test, err := LoadData(ctx, cfg, logger, opts)
	if err != nil {
		return nil, err
	}

	var val *mnist.Dataset
	if cfg.ValidationSplit > 0 {
		train, val, err = train.Split(cfg.ValidationSplit)
		if err != nil {
			return nil, fmt.Errorf("failed to split validation set: %w", err)
		}
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	model := nn.NewDigitClassifier(cfg.HiddenUnits, rng)
	opt, err := optim.New(cfg.Optimizer, model.Parameters(), float32(cfg.LearningRate))
	if err != nil {
		return nil, err
	}
	loss := nn.NewSparseCategoricalCrossEntropy()

	history, err := trainer.Fit(ctx, model, loss, opt, train, val, trainer.Config{
		Epochs:    cfg.Epochs,
		BatchSize: cfg.BatchSize,
		Shuffle:   cfg.Shuffle,
		LogEvery:  cfg.LogEvery,
	}, rng, logger)
	if err != nil {
		return nil, fmt.Errorf("training failed: %w", err)
	}

	testMetrics, err := trainer.Evaluate(model, loss, test, cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	logger.Info("test set evaluated",
		slog.Int("samples", testMetrics.Samples),
		slog.Float64("loss", testMetrics.Loss),
		slog.Float64("accuracy", testMetrics.Accuracy))

	res := &Result{
		ModelID:      uuid.NewString(),
		History:      history,
		Test:         testMetrics,
		TrainSamples: train.Len(),
		ModelPath:    cfg.ModelPath(),
	}

	header := serialization.Header{
		ModelID:  res.ModelID,
		Training: trainingSummary(cfg, res),
		Metadata: map[string]string{"dataset": "mnist"},
	}
	if err := serialization.WriteFile(res.ModelPath, model, header); err != nil {
		return nil, fmt.Errorf("failed to save model: %w", err)
	}
	logger.Info("model saved", slog.String("path", res.ModelPath), slog.String("model_id", res.ModelID))

	res.Artifacts, err = Export(ctx, cfg, model, exportMetadata(res), logger)
	if err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	return res, nil
}

// LoadData loads the train and test splits, truncated to cfg.MaxSamples
// when set.
func LoadData(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (train, test *mnist.Dataset, err error) {
	train, test, err = mnist.Load(ctx, mnist.Source{
		DataDir:    cfg.DataDir,
		CacheDir:   cfg.CacheDir,
		MirrorURL:  cfg.MirrorURL,
		Download:   cfg.Download,
		SkipVerify: cfg.SkipVerify,
		Client:     opts.Client,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	if cfg.MaxSamples > 0 {
		train = train.Subset(cfg.MaxSamples)
		test = test.Subset(cfg.MaxSamples)
	}
	logger.Info("dataset loaded", slog.Int("train", train.Len()), slog.Int("test", test.Len()))
	return train, test, nil
}

// Export converts model into every configured format next to the native
// model file.
func Export(ctx context.Context, cfg *config.Config, model *nn.Sequential, metadata map[string]string, logger *slog.Logger) ([]convert.Artifact, error) {
	converters, err := convert.NewRegistry().Resolve(cfg.Formats, ConvertOptions(cfg, metadata))
	if err != nil {
		return nil, err
	}
	artifacts, err := convert.WriteAll(ctx, model, converters, cfg.OutputDir, cfg.ModelName, logger)
	if err != nil {
		return nil, fmt.Errorf("conversion failed: %w", err)
	}
	return artifacts, nil
}

// ConvertOptions maps configuration onto converter options.
func ConvertOptions(cfg *config.Config, metadata map[string]string) convert.Options {
	return convert.Options{
		InputName:       cfg.InputName,
		OutputName:      cfg.OutputName,
		MinIOS:          cfg.MinIOS,
		ProducerVersion: serialization.ProducerVersion,
		Author:          cfg.Author,
		License:         cfg.License,
		Metadata:        metadata,
	}
}

// ConvertFileOptions records which destination settings the user gave
// explicitly.
type ConvertFileOptions struct {
	ModelNameSet bool
	OutputDirSet bool
}

// ConvertFile loads a native model and exports it per cfg. Unless set
// explicitly, ModelName and OutputDir follow the model file's base name and
// directory.
func ConvertFile(ctx context.Context, cfg *config.Config, path string, opts ConvertFileOptions, logger *slog.Logger) ([]convert.Artifact, error) {
	model, header, err := serialization.LoadModel(path)
	if err != nil {
		return nil, err
	}

	out := *cfg
	if !opts.ModelNameSet {
		base := filepath.Base(path)
		out.ModelName = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if !opts.OutputDirSet {
		out.OutputDir = filepath.Dir(path)
	}

	metadata := map[string]string{"model_id": header.ModelID}
	if header.Training != nil && header.Training.TestAccuracy > 0 {
		metadata["test_accuracy"] = strconv.FormatFloat(header.Training.TestAccuracy, 'f', 4, 64)
	}
	return Export(ctx, &out, model, metadata, logger)
}

// EvaluateFile scores a native or converted model on the test split.
func EvaluateFile(ctx context.Context, cfg *config.Config, path string, logger *slog.Logger, opts Options) (trainer.Metrics, error) {
	model, err := predict.Open(path)
	if err != nil {
		return trainer.Metrics{}, err
	}
	_, test, err := LoadData(ctx, cfg, logger, opts)
	if err != nil {
		return trainer.Metrics{}, err
	}
	return trainer.Evaluate(model, nn.NewSparseCategoricalCrossEntropy(), test, cfg.BatchSize)
}

func trainingSummary(cfg *config.Config, res *Result) *serialization.TrainingSummary {
	s := &serialization.TrainingSummary{
		Epochs:       len(res.History.Epochs),
		BatchSize:    cfg.BatchSize,
		Optimizer:    cfg.Optimizer,
		LearningRate: cfg.LearningRate,
		Loss:         LossName,
		TrainSamples: res.TrainSamples,
		TestAccuracy: res.Test.Accuracy,
	}
	if last, ok := res.History.Final(); ok {
		s.TrainLoss = last.Train.Loss
		s.TrainAccuracy = last.Train.Accuracy
	}
	return s
}

func exportMetadata(res *Result) map[string]string {
	return map[string]string{
		"model_id":      res.ModelID,
		"epochs":        strconv.Itoa(len(res.History.Epochs)),
		"test_accuracy": strconv.FormatFloat(res.Test.Accuracy, 'f', 4, 64),
	}
}
