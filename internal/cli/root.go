// Package cli implements the vurun command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/vurun/internal/config"
	"github.com/wesleyorama2/vurun/internal/observability"
)

var version = "0.1.0"

// EnvPrefix is the prefix of environment variables read by the CLI,
// e.g. VURUN_LOG_LEVEL or VURUN_VUS.
const EnvPrefix = "VURUN"

// NewRootCmd builds the command tree with its own settings store.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:     "vurun",
		Short:   "Virtual-user load test runner",
		Version: version,
		Long: `vurun runs load tests where each virtual user executes a scripted
initialize, actions and finalize cycle against HTTP and WebSocket services.

  vurun run --config checkout.yaml
  vurun run --config checkout.yaml --vus 50 --duration 5m --out result.json
  vurun validate --config checkout.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.String("log-level", "", "log level: error, warning, info, debug (overrides the config file)")
	flags.String("log-format", "", "log format: console or json (overrides the config file)")
	flags.String("log-file", "", "also write JSON logs to this file, rotated")
	for _, name := range []string{"log-level", "log-format", "log-file"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(newRunCmd(v))
	root.AddCommand(newValidateCmd())
	return root
}

// Execute runs the root command with ctx, which main cancels on shutdown.
func Execute(ctx context.Context) error {
	err := NewRootCmd().ExecuteContext(ctx)
	observability.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// loggerConfig merges command line and environment settings over the
// logger section of the test file.
func loggerConfig(v *viper.Viper, fromFile config.LoggerConfig) config.LoggerConfig {
	cfg := fromFile
	if s := v.GetString("log-level"); s != "" {
		cfg.Level = s
	}
	if s := v.GetString("log-format"); s != "" {
		cfg.Format = s
	}
	if s := v.GetString("log-file"); s != "" {
		cfg.LogFile = s
	}
	cfg.ApplyDefaults()
	return cfg
}

func initLogger(v *viper.Viper, fromFile config.LoggerConfig) *zap.Logger {
	observability.InitializeLogger(loggerConfig(v, fromFile))
	return observability.GetLogger()
}
