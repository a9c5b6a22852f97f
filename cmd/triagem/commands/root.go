package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"triagem/lib/telemetry"
	"triagem/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool

	config    Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "triagem",
	Short: "triagem gathers cadastral data of Belo Horizonte properties and writes a triage report per index.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		config, err = LoadConfig(configFile)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		logCloser, err = telemetry.InitSlog(verbose, config.LogFile)
		if err != nil {
			serviceutil.Fatal("failed to open log file", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "triagem.json5", "The configuration file, a <name>.local.json5 next to it overrides it.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug messages.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
