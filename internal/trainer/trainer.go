// Package trainer runs mini-batch training and evaluation of a Sequential
// classifier on an MNIST dataset.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/born-ml/detectnumber/internal/mnist"
	"github.com/born-ml/detectnumber/internal/nn"
	"github.com/born-ml/detectnumber/internal/optim"
	"github.com/born-ml/detectnumber/internal/tensor"
)

// Defaults reproduce the reference training run.
const (
	DefaultEpochs    = 5
	DefaultBatchSize = 32
)

var (
	// ErrEmptyDataset is returned when there is nothing to train or evaluate on.
	ErrEmptyDataset = errors.New("dataset is empty")
	// ErrOutputShape is returned when a model does not produce one row of
	// class probabilities per image.
	ErrOutputShape = errors.New("unexpected model output shape")
)

// Config controls the training loop.
type Config struct {
	Epochs    int
	BatchSize int
	Shuffle   bool
	// LogEvery logs running loss every N steps; 0 logs only per epoch.
	LogEvery int
}

// DefaultConfig returns 5 epochs of shuffled batches of 32.
func DefaultConfig() Config {
	return Config{
		Epochs:    DefaultEpochs,
		BatchSize: DefaultBatchSize,
		Shuffle:   true,
	}
}

// Validate checks that the loop parameters are usable.
func (c Config) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.LogEvery < 0 {
		return fmt.Errorf("log interval must not be negative, got %d", c.LogEvery)
	}
	return nil
}

// Metrics are averaged over a dataset.
type Metrics struct {
	Loss     float64
	Accuracy float64
	Samples  int
}

// EpochResult records one pass over the training set.
type EpochResult struct {
	Epoch      int
	Train      Metrics
	Validation *Metrics
	Duration   time.Duration
}

// History is the per-epoch record of a Fit call.
type History struct {
	Epochs []EpochResult
}

// Final returns the last epoch, or false if none completed.
func (h History) Final() (EpochResult, bool) {
	if len(h.Epochs) == 0 {
		return EpochResult{}, false
	}
	return h.Epochs[len(h.Epochs)-1], true
}

// Fit trains model on train for cfg.Epochs epochs.
//
// Each step runs forward, loss, backward and an optimizer update. The
// reported training metrics are the running means over the epoch. When val
// is non-nil it is evaluated after every epoch. Cancelling ctx stops
// training between steps; the epochs completed so far are returned
// together with ctx.Err().
func Fit(
	ctx context.Context,
	model *nn.Sequential,
	loss *nn.SparseCategoricalCrossEntropy,
	opt optim.Optimizer,
	train, val *mnist.Dataset,
	cfg Config,
	rng *rand.Rand,
	logger *slog.Logger,
) (History, error) {
	var history History
	if err := cfg.Validate(); err != nil {
		return history, err
	}
	if train == nil || train.Len() == 0 {
		return history, fmt.Errorf("training: %w", ErrEmptyDataset)
	}
	if logger == nil {
		logger = slog.Default()
	}

	steps := train.NumBatches(cfg.BatchSize)
	logger.Info("training started",
		"samples", train.Len(),
		"epochs", cfg.Epochs,
		"batch_size", cfg.BatchSize,
		"steps_per_epoch", steps,
		"optimizer", opt.Name(),
		"learning_rate", opt.LR(),
	)

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		start := time.Now()

		var order *rand.Rand
		if cfg.Shuffle {
			order = rng
		}

		var totalLoss float64
		var correct, seen int
		for step, batch := range train.Batches(cfg.BatchSize, order) {
			if err := ctx.Err(); err != nil {
				logger.Warn("training cancelled", "epoch", epoch, "step", step)
				return history, err
			}

			opt.ZeroGrad()
			probs := model.Forward(batch.Images)
			batchLoss := loss.Forward(probs, batch.Labels)
			model.BackwardLoss(loss, probs, batch.Labels)
			opt.Step()

			totalLoss += float64(batchLoss) * float64(batch.Size())
			correct += nn.Correct(probs, batch.Labels)
			seen += batch.Size()

			if cfg.LogEvery > 0 && (step+1)%cfg.LogEvery == 0 {
				logger.Debug("step",
					"epoch", epoch,
					"step", step+1,
					"of", steps,
					"loss", totalLoss/float64(seen),
					"accuracy", float64(correct)/float64(seen),
				)
			}
		}

		result := EpochResult{
			Epoch: epoch,
			Train: Metrics{
				Loss:     totalLoss / float64(seen),
				Accuracy: float64(correct) / float64(seen),
				Samples:  seen,
			},
		}

		attrs := []any{
			"epoch", epoch,
			"of", cfg.Epochs,
			"loss", result.Train.Loss,
			"accuracy", result.Train.Accuracy,
		}
		if val != nil && val.Len() > 0 {
			m, err := Evaluate(model, loss, val, cfg.BatchSize)
			if err != nil {
				return history, fmt.Errorf("validation: %w", err)
			}
			result.Validation = &m
			attrs = append(attrs, "val_loss", m.Loss, "val_accuracy", m.Accuracy)
		}
		result.Duration = time.Since(start)
		attrs = append(attrs, "duration", result.Duration.Round(time.Millisecond))

		history.Epochs = append(history.Epochs, result)
		logger.Info("epoch complete", attrs...)
	}

	return history, nil
}

// Predictor maps a batch of images to class probabilities. *nn.Sequential
// and the converted-model runners implement it.
type Predictor interface {
	Predict(x *tensor.Tensor) (*tensor.Tensor, error)
}

// Evaluate computes mean loss and accuracy of model over ds without
// updating it.
func Evaluate(model Predictor, loss *nn.SparseCategoricalCrossEntropy, ds *mnist.Dataset, batchSize int) (Metrics, error) {
	if ds == nil || ds.Len() == 0 {
		return Metrics{}, ErrEmptyDataset
	}
	if batchSize <= 0 {
		return Metrics{}, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	var totalLoss float64
	var correct int
	for _, batch := range ds.Batches(batchSize, nil) {
		probs, err := model.Predict(batch.Images)
		if err != nil {
			return Metrics{}, err
		}
		if want := (tensor.Shape{batch.Size(), nn.NumClasses}); !probs.Shape().Equal(want) {
			return Metrics{}, fmt.Errorf("%w: model output %v, want %v", ErrOutputShape, probs.Shape(), want)
		}
		totalLoss += float64(loss.Forward(probs, batch.Labels)) * float64(batch.Size())
		correct += nn.Correct(probs, batch.Labels)
	}

	n := ds.Len()
	return Metrics{
		Loss:     totalLoss / float64(n),
		Accuracy: float64(correct) / float64(n),
		Samples:  n,
	}, nil
}
