package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/born-ml/detectnumber/internal/nn"
)

// CheckSamples is the number of samples WriteAll verifies each artifact on.
const CheckSamples = 8

// Artifact describes one written file.
type Artifact struct {
	Format     string
	Path       string
	Size       int
	MaxAbsDiff float64
}

// WriteAll converts model into every converter's format, verifies each
// result on a fixed check batch and writes dir/base+extension atomically.
// Formats are processed concurrently; the first failure cancels the rest
// and no file is written for a format that fails verification.
func WriteAll(ctx context.Context, model *nn.Sequential, converters []Converter, dir, base string, logger *slog.Logger) ([]Artifact, error) {
	batch, err := CheckBatch(model, CheckSamples, 0)
	if err != nil {
		return nil, err
	}
	want := model.Forward(batch)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	artifacts := make([]Artifact, len(converters))
	g, ctx := errgroup.WithContext(ctx)
	for i, c := range converters {
		g.Go(func() error {
			data, err := c.Convert(model)
			if err != nil {
				return fmt.Errorf("%s: %w", c.Format(), err)
			}
			diff, err := c.Verify(data, batch, want)
			if err != nil {
				return fmt.Errorf("%s: verify: %w", c.Format(), err)
			}
			if diff > Tolerance {
				return fmt.Errorf("%s: %w: max |diff| %.3g > %.0e", c.Format(), ErrVerification, diff, Tolerance)
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			path := filepath.Join(dir, base+c.Extension())
			if err := writeFileAtomic(path, data); err != nil {
				return fmt.Errorf("%s: %w", c.Format(), err)
			}
			artifacts[i] = Artifact{Format: c.Format(), Path: path, Size: len(data), MaxAbsDiff: diff}
			logger.Info("model converted",
				slog.String("format", c.Format()),
				slog.String("path", path),
				slog.Int("bytes", len(data)),
				slog.Float64("max_abs_diff", diff))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// Resolve builds converters for the named formats, dropping duplicates.
func (r *Registry) Resolve(formats []string, opts Options) ([]Converter, error) {
	if len(formats) == 0 {
		formats = []string{DefaultFormat}
	}
	seen := make(map[string]bool, len(formats))
	out := make([]Converter, 0, len(formats))
	for _, f := range formats {
		c, err := r.Get(f, opts)
		if err != nil {
			return nil, err
		}
		if seen[c.Format()] {
			continue
		}
		seen[c.Format()] = true
		out = append(out, c)
	}
	return out, nil
}

func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
