package commands

import (
	"os"
	"triagem/lib/ledger"
	"triagem/lib/timezone"
	"triagem/lib/util/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "How many runs to list.")
	rootCmd.AddCommand(historyCmd)
}

func printRuns(runs []ledger.RunInfo) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Execução", "Início", "Fim", "Índices", "Falhas", "Cancelada"})
	for _, r := range runs {
		cancelled := ""
		if r.Cancelled {
			cancelled = "sim"
		}
		t.AppendRow(table.Row{
			r.ID,
			timezone.ReportDate(r.StartedAt),
			timezone.ReportDate(r.FinishedAt),
			r.Indices,
			r.Failed,
			cancelled,
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func printIndices(results []ledger.IndexResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Protocolo", "Índice", "Situação", "Fonte", "Dados", "Tentativas", "Erro"})
	for _, r := range results {
		t.AppendRow(table.Row{r.Protocol, r.Index, string(r.Status), "", "", "", r.Error})
		for _, s := range r.Sources {
			found := "não"
			if s.Found {
				found = "sim"
			}
			t.AppendRow(table.Row{"", "", "", s.Source, found, s.Attempts, s.Error})
		}
		t.AppendSeparator()
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

var historyCmd = &cobra.Command{
	Use:   "history [run id]",
	Short: "Lists past runs, or the indices of one run.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		history, err := config.openLedger(ctx)
		if err != nil {
			serviceutil.Fatal("failed to open run history", err)
		}
		if history == nil {
			serviceutil.Fatal("run history is disabled", nil)
		}
		defer history.Close()

		if len(args) == 1 {
			results, err := history.IndexResults(ctx, args[0])
			if err != nil {
				serviceutil.Fatal("failed to read run", err)
			}
			printIndices(results)
			return
		}

		runs, err := history.RecentRuns(ctx, historyLimit)
		if err != nil {
			serviceutil.Fatal("failed to read run history", err)
		}
		printRuns(runs)
	},
}
