package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"ta-enginev1/config"
	"ta-enginev1/internal/logger"
)

// NewRootCmd builds the indcalc command tree. Commands write to the
// command's output streams so tests can capture them.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "indcalc",
		Short: "offline indicator calculator",
		Long:  "Compute indicators and VWAP bands over bar files, validate data and import bars for the engine.",

		SilenceUsage: true,
	}

	root.PersistentFlags().Bool("debug", false, "debug logging")
	root.PersistentFlags().String("config", "", "engine config file, used for store addresses")
	root.PersistentFlags().Bool("json", false, "print JSON instead of a table")

	root.AddCommand(
		newComputeCmd(),
		newVWAPCmd(),
		newValidateCmd(),
		newImportCmd(),
		newListCmd(),
	)
	return root
}

func cmdLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = slog.LevelDebug
	}
	return logger.New(cmd.ErrOrStderr(), "indcalc", level)
}

// loadConfig reads --config when given. Without it only the environment
// and defaults apply.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTableStyle() *table.Style {
	style := table.Style{
		Name:    "StyleRounded",
		Box:     table.StyleBoxRounded,
		Format:  table.FormatOptionsDefault,
		HTML:    table.DefaultHTMLOptions,
		Options: table.OptionsDefault,
		Title:   table.TitleOptionsDefault,
		Color:   table.ColorOptionsDefault,
	}
	style.Color.Header = text.Colors{text.Bold}
	// upper-casing would turn σ into Σ in the band headers
	style.Format.Header = text.FormatDefault
	return &style
}

func newTable(w io.Writer, title string, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(*newTableStyle())
	if title != "" {
		t.SetTitle(title)
	}
	t.AppendHeader(header)
	return t
}

// formatNumber prints v with places decimals, or "-" for warm-up values.
func formatNumber(v float64, places int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return decimal.NewFromFloat(v).StringFixed(int32(places))
}

// tailStart returns the first index to print when only the last n of
// total rows are wanted. n <= 0 means all.
func tailStart(total, n int) int {
	if n <= 0 || n >= total {
		return 0
	}
	return total - n
}
