package commands

import (
	"github.com/spf13/cobra"

	"github.com/born-ml/detectnumber/internal/pipeline"
)

// NewConvertCommand creates the convert command.
func NewConvertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <model.born>",
		Short: "Convert a saved model to Core ML or ONNX",
		Long: `Convert a native .born model into mobile formats. Each artifact is
verified against the native model before it is written.`,
		Example: `  # Core ML next to the source model
  detectnumber convert NumberDetectorModel.born

  # Both formats into another directory
  detectnumber convert NumberDetectorModel.born --formats coreml,onnx --output-dir build`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := FromContext(cmd.Context())
			if err := cc.Cfg.Validate(); err != nil {
				return err
			}

			artifacts, err := pipeline.ConvertFile(cmd.Context(), cc.Cfg.Config, args[0], pipeline.ConvertFileOptions{
				ModelNameSet: cc.Cfg.IsSet("model_name"),
				OutputDirSet: cc.Cfg.IsSet("output_dir"),
			}, cc.Logger)
			if err != nil {
				return err
			}
			renderArtifacts(cmd.OutOrStdout(), artifacts)
			return nil
		},
	}

	addExportFlags(cmd.Flags())

	return cmd
}
