package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/vurun/internal/config"
	"github.com/wesleyorama2/vurun/internal/engine"
	"github.com/wesleyorama2/vurun/internal/output"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a test file without running it",
		Long: `Parse and validate a test file, then compile its script steps.
Exits non-zero when the file has errors.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				return fmt.Errorf("--config is required")
			}

			cfg, err := config.LoadConfig(path)
			if err != nil {
				return err
			}
			if _, err := engine.CompileScript(cfg); err != nil {
				return fmt.Errorf("invalid script: %w", err)
			}

			noColor, _ := cmd.Flags().GetBool("no-color")
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s is valid: %q, %s, %d action(s)\n",
				output.SuccessIcon(noColor), path, cfg.Name, cfg.Execution.Executor, len(cfg.Script.Actions))
			return nil
		},
	}

	cmd.Flags().StringP("config", "c", "", "test file (YAML or JSON)")
	cmd.Flags().Bool("no-color", false, "disable colored output")
	return cmd
}
