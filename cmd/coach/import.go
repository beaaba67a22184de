package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/rally-coach/internal/database"
	"github.com/yourusername/rally-coach/internal/datasource"
	"github.com/yourusername/rally-coach/internal/service"
)

var (
	importPlayers   string
	importMatches   string
	importBatchSize int
)

func init() {
	importCmd.Flags().StringVar(&importPlayers, "players", "", "Players CSV (default: data_source.players_path)")
	importCmd.Flags().StringVar(&importMatches, "matches", "", "Matches CSV (default: data_source.matches_path)")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 500, "Matches per import transaction")
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Validate CSV match history and load it into PostgreSQL",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		players, matches := importPlayers, importMatches
		if players == "" {
			players = cfg.DataSource.PlayersPath
		}
		if matches == "" {
			matches = cfg.DataSource.MatchesPath
		}

		src, err := datasource.LoadCSV(players, matches)
		if err != nil {
			return err
		}

		db, err := database.Initialize(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := database.EnsureSchema(ctx, db); err != nil {
			return err
		}

		svc := service.NewIngestionService(
			[]datasource.HistorySource{src},
			datasource.NewPostgresSource(db),
			service.NewDataValidator(appLogger),
			service.NewDataNormalizer(appLogger),
			appLogger,
			importBatchSize,
		)

		counts, err := svc.IngestHistory(ctx, src.Name(), time.Time{})
		if perr := printJSON(counts); perr != nil {
			return perr
		}
		return err
	},
}
