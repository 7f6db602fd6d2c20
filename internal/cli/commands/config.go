package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/detectnumber/internal/config"
)

// NewConfigCommand creates the config command.
func NewConfigCommand() *cobra.Command {
	var defaults bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration after merging defaults, the config file,
DETECTNUMBER_* environment variables and flags. The output is a valid
detectnumber.yaml.`,
		Example: `  # Show the merged configuration
  detectnumber config

  # Start a config file from the built-in defaults
  detectnumber config --defaults > detectnumber.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := FromContext(cmd.Context())

			cfg := cc.Cfg.Config
			if defaults {
				cfg = config.Default()
			} else if cc.Cfg.File != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", cc.Cfg.File)
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&defaults, "defaults", false, "Print the built-in defaults instead")

	return cmd
}
