// Package config provides configuration management for the detectnumber CLI.
//
// Values are layered, lowest to highest precedence: built-in defaults, a
// YAML file, DETECTNUMBER_* environment variables, and explicitly set
// command-line flags.
package config

import (
	"os"
	"path/filepath"

	"github.com/born-ml/detectnumber/internal/convert"
	"github.com/born-ml/detectnumber/internal/mnist"
	"github.com/born-ml/detectnumber/internal/optim"
)

// Defaults reproduce the reference run: five epochs of Adam at batch size
// 32, a 128-unit hidden layer, and an iOS 13 Core ML export.
const (
	DefaultDataDir      = "data"
	DefaultEpochs       = 5
	DefaultBatchSize    = 32
	DefaultLearningRate = 0.001
	DefaultHiddenUnits  = 128
	DefaultSeed         = 1
	DefaultOutputDir    = "."
	DefaultModelName    = "NumberDetectorModel"
	DefaultMinIOS       = "13"
	DefaultInputName    = "flatten_input"
	DefaultOutputName   = "Identity"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultEnvPrefix    = "DETECTNUMBER_"
)

// ConfigFileNames are searched in the working directory when no --config
// is given.
var ConfigFileNames = []string{"detectnumber.yaml", "detectnumber.yml"}

// Config holds all CLI configuration options.
type Config struct {
	// Dataset
	DataDir    string `koanf:"data_dir" yaml:"data_dir"`
	CacheDir   string `koanf:"cache_dir" yaml:"cache_dir"`
	Download   bool   `koanf:"download" yaml:"download"`
	MirrorURL  string `koanf:"mirror_url" yaml:"mirror_url"`
	SkipVerify bool   `koanf:"skip_verify" yaml:"skip_verify"`
	MaxSamples int    `koanf:"max_samples" yaml:"max_samples"`

	// Training
	Epochs          int     `koanf:"epochs" yaml:"epochs"`
	BatchSize       int     `koanf:"batch_size" yaml:"batch_size"`
	LearningRate    float64 `koanf:"learning_rate" yaml:"learning_rate"`
	Optimizer       string  `koanf:"optimizer" yaml:"optimizer"`
	HiddenUnits     int     `koanf:"hidden_units" yaml:"hidden_units"`
	ValidationSplit float64 `koanf:"validation_split" yaml:"validation_split"`
	Shuffle         bool    `koanf:"shuffle" yaml:"shuffle"`
	Seed            uint64  `koanf:"seed" yaml:"seed"`
	Workers         int     `koanf:"workers" yaml:"workers"`

	// Output
	OutputDir  string   `koanf:"output_dir" yaml:"output_dir"`
	ModelName  string   `koanf:"model_name" yaml:"model_name"`
	Formats    []string `koanf:"formats" yaml:"formats"`
	MinIOS     string   `koanf:"min_ios" yaml:"min_ios"`
	InputName  string   `koanf:"input_name" yaml:"input_name"`
	OutputName string   `koanf:"output_name" yaml:"output_name"`
	Author     string   `koanf:"author" yaml:"author,omitempty"`
	License    string   `koanf:"license" yaml:"license,omitempty"`

	// Logging
	LogLevel  string `koanf:"log_level" yaml:"log_level"`
	LogFormat string `koanf:"log_format" yaml:"log_format"`
	LogEvery  int    `koanf:"log_every" yaml:"log_every"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:      DefaultDataDir,
		CacheDir:     DefaultCacheDir(),
		Download:     true,
		MirrorURL:    mnist.DefaultMirrorURL,
		Epochs:       DefaultEpochs,
		BatchSize:    DefaultBatchSize,
		LearningRate: DefaultLearningRate,
		Optimizer:    optim.NameAdam,
		HiddenUnits:  DefaultHiddenUnits,
		Shuffle:      true,
		Seed:         DefaultSeed,
		OutputDir:    DefaultOutputDir,
		ModelName:    DefaultModelName,
		Formats:      []string{convert.DefaultFormat},
		MinIOS:       DefaultMinIOS,
		InputName:    DefaultInputName,
		OutputName:   DefaultOutputName,
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
	}
}

// DefaultCacheDir returns the per-user cache directory for downloaded data.
func DefaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "detectnumber")
	}
	return filepath.Join(".cache", "detectnumber")
}

// ModelPath returns the path of the native model file.
func (c *Config) ModelPath() string {
	return filepath.Join(c.OutputDir, c.ModelName+".born")
}

// defaultsMap flattens Default for the confmap provider.
func defaultsMap() map[string]interface{} {
	d := Default()
	return map[string]interface{}{
		"data_dir":         d.DataDir,
		"cache_dir":        d.CacheDir,
		"download":         d.Download,
		"mirror_url":       d.MirrorURL,
		"skip_verify":      d.SkipVerify,
		"max_samples":      d.MaxSamples,
		"epochs":           d.Epochs,
		"batch_size":       d.BatchSize,
		"learning_rate":    d.LearningRate,
		"optimizer":        d.Optimizer,
		"hidden_units":     d.HiddenUnits,
		"validation_split": d.ValidationSplit,
		"shuffle":          d.Shuffle,
		"seed":             d.Seed,
		"workers":          d.Workers,
		"output_dir":       d.OutputDir,
		"model_name":       d.ModelName,
		"formats":          d.Formats,
		"min_ios":          d.MinIOS,
		"input_name":       d.InputName,
		"output_name":      d.OutputName,
		"author":           d.Author,
		"license":          d.License,
		"log_level":        d.LogLevel,
		"log_format":       d.LogFormat,
		"log_every":        d.LogEvery,
	}
}
