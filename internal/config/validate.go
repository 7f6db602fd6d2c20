package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/born-ml/detectnumber/internal/convert"
	"github.com/born-ml/detectnumber/internal/coreml"
	"github.com/born-ml/detectnumber/internal/optim"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks if the configuration is valid. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Epochs <= 0 {
		add("epochs must be positive, got %d", c.Epochs)
	}
	if c.BatchSize <= 0 {
		add("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		add("learning_rate must be positive, got %g", c.LearningRate)
	}
	if c.HiddenUnits <= 0 {
		add("hidden_units must be positive, got %d", c.HiddenUnits)
	}
	if c.ValidationSplit < 0 || c.ValidationSplit >= 1 {
		add("validation_split must be in [0, 1), got %g", c.ValidationSplit)
	}
	if c.MaxSamples < 0 {
		add("max_samples must not be negative, got %d", c.MaxSamples)
	}
	if c.Workers < 0 {
		add("workers must not be negative, got %d", c.Workers)
	}
	if c.LogEvery < 0 {
		add("log_every must not be negative, got %d", c.LogEvery)
	}
	switch c.Optimizer {
	case optim.NameAdam, optim.NameSGD:
	default:
		add("optimizer must be %q or %q, got %q", optim.NameAdam, optim.NameSGD, c.Optimizer)
	}
	if c.ModelName == "" {
		add("model_name is required")
	}
	if c.InputName == "" || c.OutputName == "" {
		add("input_name and output_name are required")
	}

	registry := convert.NewRegistry()
	for _, f := range c.Formats {
		if _, err := registry.Get(f, convert.Options{}); err != nil {
			add("formats: %v", err)
		}
	}
	if _, err := coreml.SpecificationVersion(c.MinIOS); err != nil {
		add("min_ios: %v", err)
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		add("log_level: %v", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		add("log_format must be text or json, got %q", c.LogFormat)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
