package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	redisstore "ta-enginev1/internal/store/redis"
	sqlitestore "ta-enginev1/internal/store/sqlite"
)

func newImportCmd() *cobra.Command {
	var (
		symbol    string
		dbPath    string
		redisAddr string
		feed      bool
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "store bars for engine warm-up, or append them to the Redis bar feed",
		Example: `  indcalc import nifty.csv --symbol NIFTY --db data/bars.db
  indcalc import nifty.csv --symbol NIFTY --redis localhost:6379 --feed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.SQLite.Path
			}
			if redisAddr == "" {
				redisAddr = cfg.Redis.Addr
			}
			if dbPath == "" && !feed {
				return errors.New("nothing to do: give --db or --feed")
			}
			if feed && redisAddr == "" {
				return errors.New("--feed needs a redis address")
			}

			bars, err := readBarsFile(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			if len(bars) == 0 {
				return errors.New("no bars in input")
			}
			log := cmdLogger(cmd).With("symbol", symbol)
			ctx := cmd.Context()

			stored := -1
			if dbPath != "" {
				if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
					return err
				}
				store, err := sqlitestore.Open(sqlitestore.Config{Path: dbPath}, log)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.WriteBars(ctx, symbol, bars); err != nil {
					return fmt.Errorf("write bars: %w", err)
				}
				counts, err := store.Symbols(ctx)
				if err != nil {
					return err
				}
				stored = counts[symbol]
				log.Info("bars stored", "db", dbPath, "bars", len(bars), "total", stored)
			}

			appended := 0
			if feed {
				rdb, err := redisstore.Connect(ctx, redisstore.Config{
					Addr:           redisAddr,
					Password:       cfg.Redis.Password,
					DB:             cfg.Redis.DB,
					ConnectTimeout: 10 * time.Second,
				}, log)
				if err != nil {
					return err
				}
				defer rdb.Close()
				bf := redisstore.NewBarFeed(rdb, redisstore.FeedConfig{}, log)
				for _, b := range bars {
					if err := bf.Append(ctx, redisstore.BarMessage{Symbol: symbol, Bar: b}); err != nil {
						return fmt.Errorf("append bar %s: %w", b.Time.Format(time.RFC3339), err)
					}
					appended++
				}
				log.Info("bars appended to feed", "stream", redisstore.BarStreamKey(symbol), "bars", appended)
			}

			summary := importSummary{Symbol: symbol, Bars: len(bars), First: bars[0].Time, Last: bars[len(bars)-1].Time, Appended: appended}
			if stored >= 0 {
				summary.Stored = &stored
			}
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), summary)
			}
			renderSummary(cmd, summary)
			return nil
		},
	}
	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "symbol the bars belong to")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database (default from config)")
	cmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address (default from config)")
	cmd.Flags().BoolVar(&feed, "feed", false, "append the bars to the symbol's Redis bar stream")
	_ = cmd.MarkFlagRequired("symbol")
	return cmd
}

type importSummary struct {
	Symbol   string    `json:"symbol"`
	Bars     int       `json:"bars"`
	First    time.Time `json:"first"`
	Last     time.Time `json:"last"`
	Stored   *int      `json:"stored,omitempty"`
	Appended int       `json:"appended"`
}

func renderSummary(cmd *cobra.Command, s importSummary) {
	stored := "-"
	if s.Stored != nil {
		stored = fmt.Sprint(*s.Stored)
	}
	t := newTable(cmd.OutOrStdout(), "import", table.Row{"symbol", "bars", "first", "last", "stored", "appended"})
	t.AppendRow(table.Row{s.Symbol, s.Bars, s.First.Format(time.RFC3339), s.Last.Format(time.RFC3339), stored, s.Appended})
	t.Render()
}
