package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ta-enginev1/internal/model"
	"ta-enginev1/internal/vwap"
)

func newVWAPCmd() *cobra.Command {
	var (
		multipliers []float64
		reset       string
		timezone    string
		sessionGap  time.Duration
		timeframe   time.Duration
		decimals    int
		tail        int
	)
	cmd := &cobra.Command{
		Use:   "vwap FILE",
		Short: "compute VWAP with standard deviation bands",
		Example: `  indcalc vwap bars.csv --multipliers 1,2 --tz Asia/Kolkata
  indcalc vwap bars.csv --reset session --session-gap 2h --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bars, err := loadBars(args[0], cmd.InOrStdin(), timeframe)
			if err != nil {
				return err
			}
			interval, err := vwap.ParseResetInterval(reset)
			if err != nil {
				return err
			}
			var loc *time.Location
			if timezone != "" {
				if loc, err = time.LoadLocation(timezone); err != nil {
					return fmt.Errorf("timezone %q: %w", timezone, err)
				}
			}

			res := vwap.CalculateWithBands(bars, vwap.Params{
				Multipliers:   multipliers,
				ResetInterval: interval,
				Location:      loc,
				SessionGap:    sessionGap,
			})
			res = vwap.FormatBandsResult(res, decimals)
			cmdLogger(cmd).Debug("vwap computed", "bars", len(bars), "reset", interval, "multipliers", res.Multipliers)

			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), res)
			}
			renderBands(cmd, bars, res, tail, decimals)
			return nil
		},
	}
	cmd.Flags().Float64SliceVar(&multipliers, "multipliers", nil, "band multipliers (default 1,2,3)")
	cmd.Flags().StringVar(&reset, "reset", "daily", "session reset: daily, session or none")
	cmd.Flags().StringVar(&timezone, "tz", "", "IANA time zone for the daily reset (default UTC)")
	cmd.Flags().DurationVar(&sessionGap, "session-gap", vwap.DefaultSessionGap, "gap that starts a new session with --reset session")
	cmd.Flags().IntVar(&decimals, "decimals", 2, "decimal places")
	cmd.Flags().DurationVar(&timeframe, "timeframe", 0, "resample bars to this timeframe first, e.g. 15m")
	cmd.Flags().IntVar(&tail, "tail", 20, "print only the last N rows, 0 for all")
	return cmd
}

func renderBands(cmd *cobra.Command, bars []model.Bar, res vwap.BandsResult, tail, decimals int) {
	header := table.Row{"time", "tp", "vwap", "stddev"}
	for _, m := range res.Multipliers {
		k := strconv.FormatFloat(m, 'f', -1, 64)
		header = append(header, "+"+k+"σ", "-"+k+"σ")
	}
	t := newTable(cmd.OutOrStdout(), "vwap", header)

	for i := tailStart(len(bars), tail); i < len(bars); i++ {
		row := table.Row{
			bars[i].Time.Format(time.RFC3339),
			formatNumber(res.TypicalPrices[i], decimals),
			formatNumber(res.VWAP[i], decimals),
			formatNumber(res.StandardDeviations[i], decimals),
		}
		for k := range res.Multipliers {
			row = append(row, formatNumber(res.UpperBands[k][i], decimals), formatNumber(res.LowerBands[k][i], decimals))
		}
		t.AppendRow(row)
	}
	t.Render()
}
