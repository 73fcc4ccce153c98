package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ta-enginev1/internal/model"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "check a bar file for OHLCV problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bars, err := readBarsFile(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			report := model.ValidateOHLCV(model.SeriesFromBars(bars))

			if wantJSON(cmd) {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else if report.IsValid {
				fmt.Fprintf(cmd.OutOrStdout(), "%d bars, no problems found\n", len(bars))
			} else {
				t := newTable(cmd.OutOrStdout(), fmt.Sprintf("%d bars", len(bars)), table.Row{"#", "problem"})
				for i, msg := range report.Errors {
					t.AppendRow(table.Row{i + 1, msg})
				}
				t.Render()
			}

			if !report.IsValid {
				return fmt.Errorf("%d validation problems", len(report.Errors))
			}
			return nil
		},
	}
}
