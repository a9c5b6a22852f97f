package commands

import (
	"os"
	"path/filepath"
	"triagem/lib/cadastre"
	"triagem/lib/resultstore"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(classifyCmd)
}

type classification struct {
	Name      string
	Sanitized string
	Class     cadastre.Classification
}

func classifyNames(names []string) []classification {
	out := make([]classification, len(names))
	for i, name := range names {
		sanitized := resultstore.SanitizeName(filepath.Base(name))
		out[i] = classification{
			Name:      name,
			Sanitized: sanitized,
			Class:     cadastre.Classify(sanitized),
		}
	}
	return out
}

var classifyCmd = &cobra.Command{
	Use:   "classify <files...>",
	Short: "Shows the report section each file name would be placed in.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Arquivo", "Nome no relatório", "Seção"})
		for _, c := range classifyNames(args) {
			t.AppendRow(table.Row{c.Name, c.Sanitized, string(c.Class)})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
