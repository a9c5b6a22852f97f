package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"triagem/lib/cadastre"
	"triagem/lib/notify"
	"triagem/lib/osutil"
	"triagem/lib/report"
	"triagem/lib/resultstore"
	"triagem/lib/telemetry"
	"triagem/lib/util/serviceutil"
	"triagem/services/triage"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var (
	runIndices    []string
	runSiatuUser  string
	runSigedeUser string
	runNoOpen     bool
	runResultsDir string
)

func init() {
	runCmd.Flags().StringSliceVar(&runIndices, "index", nil, "Cadastral indices to process without a protocol, repeatable or comma separated.")
	runCmd.Flags().StringVar(&runSiatuUser, "siatu-user", "", "SIATU username, the password is read from "+siatuPasswordEnv+" or prompted.")
	runCmd.Flags().StringVar(&runSigedeUser, "sigede-user", "", "SIGEDE username, the password is read from "+sigedePasswordEnv+" or prompted.")
	runCmd.Flags().BoolVar(&runNoOpen, "no-open", false, "Do not open the results directory when the run ends.")
	runCmd.Flags().StringVar(&runResultsDir, "results", "", "Overrides the results directory of the config.")
	rootCmd.AddCommand(runCmd)
}

func splitArgs(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, cadastre.SplitIdentifiers(v)...)
	}
	return out
}

func statusText(result triage.IndexResult) string {
	switch {
	case result.Err != nil:
		return text.FgRed.Sprint(string(result.Status))
	case len(result.Missing) > 0:
		return text.FgYellow.Sprint(string(result.Status))
	default:
		return text.FgGreen.Sprint(string(result.Status))
	}
}

func printSummary(summary triage.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Execução " + summary.RunID)
	t.AppendHeader(table.Row{"Protocolo", "Índice", "Situação", "Fontes sem dados", "Relatório"})

	for _, r := range summary.Results {
		var missing []string
		for _, s := range r.Missing {
			missing = append(missing, s.Title())
		}
		reportPath := r.Report
		if reportPath == "" && r.Err != nil {
			reportPath = r.Err.Error()
		}
		t.AppendRow(table.Row{r.Protocol, r.Index, statusText(r), strings.Join(missing, "\n"), reportPath})
	}
	for _, p := range summary.Skipped {
		t.AppendRow(table.Row{p, "-", text.FgRed.Sprint("sem índices"), "", ""})
	}
	if summary.Cancelled {
		t.AppendFooter(table.Row{"", "", "cancelada", "", ""})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()
}

var runCmd = &cobra.Command{
	Use:   "run [protocols...] [--index <index>...]",
	Short: "Processes protocols and cadastral indices and writes a report for each index.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		protocols := splitArgs(args)
		indices := splitArgs(runIndices)
		if len(protocols) == 0 && len(indices) == 0 {
			serviceutil.Fatal("nothing to do", fmt.Errorf("give at least one protocol or --index"))
		}

		creds, err := readCredentials(runSiatuUser, runSigedeUser, len(protocols) > 0)
		if err != nil {
			serviceutil.Fatal("failed to read credentials", err)
		}

		tel, err := telemetry.Setup(ctx, "triagem", config.Telemetry)
		if err != nil {
			serviceutil.Fatal("failed to setup telemetry", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := tel.Shutdown(shutdownCtx)
			if err != nil {
				slog.Warn("failed to flush telemetry", "err", err)
			}
		}()

		perfCtx, stopPerf := context.WithCancel(context.WithoutCancel(ctx))
		defer stopPerf()
		telemetry.InstrumentPerfStats(perfCtx, time.Duration(config.PerfStatsSeconds)*time.Second)

		resultsDir := config.ResultsDir
		if runResultsDir != "" {
			resultsDir = runResultsDir
		}
		store, err := resultstore.New(resultsDir)
		if err != nil {
			serviceutil.Fatal("failed to open results directory", err)
		}

		opts, err := config.clientOptions()
		if err != nil {
			serviceutil.Fatal("failed to setup http dumps", err)
		}

		pipeline := triage.Pipeline{
			Store:      store,
			Resolver:   config.Resolver(opts),
			Aggregator: triage.Aggregator{Sources: config.Sources(opts)},
			ReportOptions: report.Options{
				PortalURL: config.PortalUrl,
			},
			Progress: func(done, total int) {
				slog.Info("progress", "done", done, "total", total)
			},
		}

		history, err := config.openLedger(ctx)
		if err != nil {
			slog.Error("failed to open run history, this run will not be recorded", "err", err)
		}
		if history != nil {
			defer history.Close()
			pipeline.Recorder = history
		}
		if config.Notify.Enabled() {
			pipeline.Notifier = notify.NewMailer(config.Notify)
		}

		summary := pipeline.Run(ctx, triage.Request{
			Credentials: creds,
			Protocols:   protocols,
			Indices:     indices,
		})
		printSummary(summary)

		if config.ShouldOpenResults() && !runNoOpen {
			err := osutil.OpenFolder(store.Root())
			if err != nil {
				slog.Warn("failed to open results directory", "dir", store.Root(), "err", err)
			}
		}
	},
}
