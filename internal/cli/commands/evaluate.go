package commands

import (
	"github.com/spf13/cobra"

	"github.com/born-ml/detectnumber/internal/pipeline"
	"github.com/born-ml/detectnumber/internal/trainer"
)

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "evaluate <model>",
		Aliases: []string{"eval"},
		Short:   "Report loss and accuracy of a saved model on the MNIST test set",
		Long: `Score a native .born model, or a converted .onnx or .mlmodel file, on the
MNIST test split.`,
		Example: `  detectnumber evaluate NumberDetectorModel.born --data-dir data
  detectnumber evaluate NumberDetectorModel.onnx --data-dir data`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := FromContext(cmd.Context())
			if err := cc.Cfg.Validate(); err != nil {
				return err
			}

			m, err := pipeline.EvaluateFile(cmd.Context(), cc.Cfg.Config, args[0], cc.Logger, pipeline.Options{})
			if err != nil {
				return err
			}
			trainer.RenderMetrics(cmd.OutOrStdout(), "Test", m)
			return nil
		},
	}

	addDatasetFlags(cmd.Flags())

	return cmd
}
