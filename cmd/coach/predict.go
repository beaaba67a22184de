package main

import (
	"github.com/spf13/cobra"

	"github.com/yourusername/rally-coach/internal/service"
)

// Flags shared by predict and strategy
var (
	window        int
	asOf          string
	runID         string
	budget        float64
	maxCandidates int
)

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&window, "window", 0, "Most recent matches per player to use (0 = configured window)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "Ignore matches after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (default: generated)")
}

func addSearchFlags(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&budget, "budget", 0, "Maximum total shift per candidate (0 = configured budget)")
	cmd.Flags().IntVar(&maxCandidates, "max-candidates", 0, "Cap on evaluated candidates (0 = configured cap)")
}

func init() {
	addRunFlags(predictCmd)
	addRunFlags(strategyCmd)
	addSearchFlags(strategyCmd)
}

var predictCmd = &cobra.Command{
	Use:   "predict PLAYER_A PLAYER_B",
	Short: "Probability that PLAYER_A wins the match against PLAYER_B",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		date, err := parseAsOf(asOf)
		if err != nil {
			return err
		}

		coach, err := newCoach(ctx)
		if err != nil {
			return err
		}
		defer coach.Source().Close()

		result, err := coach.Predict(ctx, service.PredictRequest{
			PlayerA: args[0],
			PlayerB: args[1],
			Window:  window,
			AsOf:    date,
			RunID:   runID,
		})
		if err != nil {
			return reportStageError(err)
		}
		return printJSON(result)
	},
}

var strategyCmd = &cobra.Command{
	Use:   "strategy PLAYER_A PLAYER_B",
	Short: "Search for the tactical adjustments that most improve PLAYER_A's odds",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		date, err := parseAsOf(asOf)
		if err != nil {
			return err
		}

		coach, err := newCoach(ctx)
		if err != nil {
			return err
		}
		defer coach.Source().Close()

		result, err := coach.Strategy(ctx, service.StrategyRequest{
			PlayerA:       args[0],
			PlayerB:       args[1],
			Window:        window,
			AsOf:          date,
			RunID:         runID,
			Budget:        budget,
			MaxCandidates: maxCandidates,
		})
		if err != nil {
			return reportStageError(err)
		}
		return printJSON(result)
	},
}
