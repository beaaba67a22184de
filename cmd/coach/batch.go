package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/rally-coach/internal/service"
)

var (
	matchupsFile string
	pairLimit    int
	outPath      string
)

func init() {
	batchCmd.Flags().StringVar(&matchupsFile, "matchups", "", "CSV with player_a,player_b columns (default: roster pairs)")
	batchCmd.Flags().IntVar(&pairLimit, "limit", 5, "Roster pairs to run when --matchups is not given (0 = all)")
	batchCmd.Flags().StringVar(&outPath, "out", "", "Output CSV (default: <runs dir>/analysis/batch_<task>_<timestamp>.csv)")
	batchCmd.Flags().IntVar(&window, "window", 0, "Most recent matches per player to use (0 = configured window)")
	batchCmd.Flags().StringVar(&asOf, "as-of", "", "Ignore matches after this date (YYYY-MM-DD)")
	addSearchFlags(batchCmd)
}

var batchCmd = &cobra.Command{
	Use:       "batch predict|strategy",
	Short:     "Run predict or strategy over many matchups and write a CSV report",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{service.TaskPredict, service.TaskStrategy},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		task := args[0]
		date, err := parseAsOf(asOf)
		if err != nil {
			return err
		}

		coach, err := newCoach(ctx)
		if err != nil {
			return err
		}
		defer coach.Source().Close()

		var pairs []service.Pair
		if matchupsFile != "" {
			pairs, err = service.LoadPairsCSV(matchupsFile)
		} else {
			pairs, err = coach.DefaultPairs(ctx, pairLimit)
		}
		if err != nil {
			return err
		}

		opts := service.BatchOptions{Window: window, AsOf: date, Budget: budget, MaxCandidates: maxCandidates}
		var rows []service.BatchRow
		if task == service.TaskStrategy {
			rows, err = coach.BatchStrategy(ctx, pairs, opts)
		} else {
			rows, err = coach.BatchPredict(ctx, pairs, opts)
		}
		if err != nil {
			return err
		}

		path := outPath
		if path == "" {
			name := fmt.Sprintf("batch_%s_%s.csv", task, time.Now().UTC().Format("20060102_150405"))
			path = filepath.Join(coach.RunsDir(), "analysis", name)
		}
		if err := service.WriteBatchCSV(path, task, rows); err != nil {
			return err
		}

		failed := 0
		for _, r := range rows {
			if r.Error != "" {
				failed++
			}
		}
		appLogger.WithField("failed", failed).Infof("Wrote %d rows to %s", len(rows), path)
		fmt.Println(path)
		return nil
	},
}
