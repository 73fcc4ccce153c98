package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ta-enginev1/internal/indicator"
	"ta-enginev1/internal/model"
)

func newComputeCmd() *cobra.Command {
	var (
		params    map[string]string
		timeframe time.Duration
		tail      int
		decimals  int
		validate  bool
	)
	cmd := &cobra.Command{
		Use:   "compute INDICATOR FILE",
		Short: "compute an indicator over a bar file",
		Example: `  indcalc compute rsi bars.csv --param period=14
  indcalc compute bollinger bars.json --param period=20 --param stdDev=2 --tail 5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := cmdLogger(cmd)
			bars, err := loadBars(args[1], cmd.InOrStdin(), timeframe)
			if err != nil {
				return err
			}
			series := model.SeriesFromBars(bars)
			if validate {
				if err := model.ValidateOHLCV(series).Err(); err != nil {
					return fmt.Errorf("invalid input: %w", err)
				}
			}

			calc, err := indicator.New(args[0], parseParams(params))
			if err != nil {
				return err
			}
			start := time.Now()
			res, err := calc.Calculate(series)
			if err != nil {
				return err
			}
			log.Debug("computed", "indicator", res.Name, "bars", len(bars), "params", calc.Params(), "took", time.Since(start))

			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), res)
			}
			renderResult(cmd, series, res, tail, decimals)
			return nil
		},
	}
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "indicator parameter key=value, repeatable")
	cmd.Flags().DurationVar(&timeframe, "timeframe", 0, "resample bars to this timeframe first, e.g. 15m")
	cmd.Flags().IntVar(&tail, "tail", 20, "print only the last N rows, 0 for all")
	cmd.Flags().IntVar(&decimals, "decimals", 4, "decimal places in the table")
	cmd.Flags().BoolVar(&validate, "validate", false, "reject data that fails OHLCV validation")
	return cmd
}

func renderResult(cmd *cobra.Command, s model.Series, res model.Result, tail, decimals int) {
	extra := make([]string, 0, len(res.Metadata))
	for name := range res.Metadata {
		extra = append(extra, name)
	}
	sort.Strings(extra)

	header := table.Row{"#", "time", "close", res.Name}
	for _, name := range extra {
		header = append(header, name)
	}
	t := newTable(cmd.OutOrStdout(), res.Name, header)

	for i := tailStart(s.Len(), tail); i < s.Len(); i++ {
		ts := ""
		if i < len(s.Time) {
			ts = s.Time[i].Format(time.RFC3339)
		}
		row := table.Row{i, ts, formatNumber(s.Close[i], decimals), formatNumber(res.Values[i], decimals)}
		for _, name := range extra {
			line := res.Metadata[name]
			v := "-"
			if i < len(line) {
				v = formatNumber(line[i], decimals)
			}
			row = append(row, v)
		}
		t.AppendRow(row)
	}
	t.Render()
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list supported indicators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := indicator.Names()
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), names)
			}
			t := newTable(cmd.OutOrStdout(), "", table.Row{"indicator"})
			for _, name := range names {
				t.AppendRow(table.Row{name})
			}
			t.Render()
			return nil
		},
	}
}
