package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/born-ml/detectnumber/internal/convert"
	"github.com/born-ml/detectnumber/internal/pipeline"
	"github.com/born-ml/detectnumber/internal/trainer"
)

// NewTrainCommand creates the train command.
func NewTrainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the digit classifier and export it",
		Long: `Load MNIST, train Flatten -> Dense(relu) -> Dense(softmax) with sparse
categorical cross-entropy, report test accuracy, save the native model and
convert it to every configured format.`,
		Example: `  # Train with defaults (5 epochs, batch 32, Adam) and export Core ML
  detectnumber train

  # Download MNIST if missing and export both formats
  detectnumber train --download --formats coreml,onnx

  # Quick smoke run on a subset
  detectnumber train --max-samples 2000 --epochs 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := FromContext(cmd.Context())

			res, err := pipeline.Run(cmd.Context(), cc.Cfg.Config, cc.Logger, pipeline.Options{})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			res.History.Render(out)
			trainer.RenderMetrics(out, "Test", res.Test)
			_, _ = fmt.Fprintf(out, "Saved model to %s (id %s)\n", res.ModelPath, res.ModelID)
			renderArtifacts(out, res.Artifacts)
			_, _ = fmt.Fprintf(out, "Done in %s\n", res.Duration.Round(time.Millisecond))
			return nil
		},
	}

	addDatasetFlags(cmd.Flags())
	addTrainingFlags(cmd.Flags())
	addExportFlags(cmd.Flags())

	return cmd
}

func renderArtifacts(w io.Writer, artifacts []convert.Artifact) {
	if len(artifacts) == 0 {
		return
	}
	t := newTable(w, "")
	t.AppendHeader(table.Row{"Format", "Path", "Size", "Max Abs Diff"})
	for _, a := range artifacts {
		t.AppendRow(table.Row{a.Format, a.Path, formatBytes(a.Size), fmt.Sprintf("%.2e", a.MaxAbsDiff)})
	}
	t.Render()
}

func formatBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
