package commands

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/born-ml/detectnumber/internal/predict"
)

// watchDebounce coalesces the burst of events an editor or screenshot tool
// emits while writing one file.
const watchDebounce = 150 * time.Millisecond

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".webp": true,
}

// NewPredictCommand creates the predict command.
func NewPredictCommand() *cobra.Command {
	var (
		invert   bool
		watchDir string
	)

	cmd := &cobra.Command{
		Use:   "predict <model> [image...]",
		Short: "Classify digit images with a saved model",
		Long: `Classify PNG, JPEG, BMP or WebP images. Images are composited onto black,
scaled to 28x28 and normalized the same way as the training data, so light
strokes on a dark background work as-is; use --invert for dark ink on paper.

The model may be a native .born file or a converted .onnx or .mlmodel file.

With --watch, images created or rewritten in the directory are classified
as they appear until the command is interrupted.`,
		Example: `  detectnumber predict NumberDetectorModel.born seven.png three.png
  detectnumber predict NumberDetectorModel.mlmodel scan.jpg --invert
  detectnumber predict NumberDetectorModel.born --watch ./drawings`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("requires a model file")
			}
			if len(args) == 1 && watchDir == "" {
				return errors.New("requires at least one image or --watch")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := FromContext(cmd.Context())

			model, err := predict.Open(args[0])
			if err != nil {
				return err
			}
			opts := predict.Options{Invert: invert}
			out := cmd.OutOrStdout()

			if len(args) > 1 {
				rows, err := classifyFiles(model, args[1:], opts)
				if err != nil {
					return err
				}
				renderPredictions(out, rows)
			}

			if watchDir == "" {
				return nil
			}
			return watchImages(cmd.Context(), watchDir, cc.Logger, func(path string) {
				rows, err := classifyFiles(model, []string{path}, opts)
				if err != nil {
					cc.Logger.Warn("prediction failed", slog.String("path", path), slog.Any("error", err))
					return
				}
				p := rows[0].Prediction
				_, _ = fmt.Fprintf(out, "%s: %d (%.1f%%)\n", path, p.Digit, p.Confidence*100)
			})
		},
	}

	cmd.Flags().BoolVar(&invert, "invert", false, "Invert intensities for dark-on-light images")
	cmd.Flags().StringVar(&watchDir, "watch", "", "Classify images as they are written to this directory")

	return cmd
}

type predictionRow struct {
	Path string
	predict.Prediction
}

func classifyFiles(model predict.Model, paths []string, opts predict.Options) ([]predictionRow, error) {
	images := make([]image.Image, len(paths))
	for i, path := range paths {
		img, err := predict.DecodeFile(path)
		if err != nil {
			return nil, err
		}
		images[i] = img
	}

	preds, err := predict.Classify(model, images, opts)
	if err != nil {
		return nil, err
	}
	rows := make([]predictionRow, len(paths))
	for i, p := range preds {
		rows[i] = predictionRow{Path: paths[i], Prediction: p}
	}
	return rows, nil
}

func renderPredictions(w io.Writer, rows []predictionRow) {
	t := newTable(w, "")
	t.AppendHeader(table.Row{"Image", "Digit", "Confidence", "Runner-up"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.Path, r.Digit, fmt.Sprintf("%.1f%%", r.Confidence*100), runnerUp(r.Prediction)})
	}
	t.Render()
}

// runnerUp formats the second most likely digit.
func runnerUp(p predict.Prediction) string {
	best := -1
	for i, v := range p.Probabilities {
		if i == p.Digit {
			continue
		}
		if best < 0 || v > p.Probabilities[best] {
			best = i
		}
	}
	if best < 0 {
		return "-"
	}
	return fmt.Sprintf("%d (%.1f%%)", best, p.Probabilities[best]*100)
}

// watchImages calls fn for every image file created or written in dir
// until ctx is done. Calls are serialized.
func watchImages(ctx context.Context, dir string, logger *slog.Logger, fn func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logger.Info("watching for images", slog.String("dir", dir))

	var (
		mu      sync.Mutex
		run     sync.Mutex
		pending = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !imageExtensions[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}

			path := event.Name
			mu.Lock()
			if t, ok := pending[path]; ok {
				t.Stop()
			}
			var timer *time.Timer
			timer = time.AfterFunc(watchDebounce, func() {
				mu.Lock()
				if pending[path] == timer {
					delete(pending, path)
				}
				mu.Unlock()

				run.Lock()
				defer run.Unlock()
				if ctx.Err() != nil {
					return
				}
				logger.Debug("image changed", slog.String("path", path))
				fn(path)
			})
			pending[path] = timer
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", slog.Any("error", err))
		}
	}
}
