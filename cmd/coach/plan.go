package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yourusername/rally-coach/internal/planner"
)

var (
	planFile   string
	planTask   string
	planBudget float64
	planWindow int
	dryRun     bool
)

func init() {
	planCmd.Flags().StringVarP(&planFile, "file", "f", "", "JSON plan to execute")
	planCmd.Flags().StringVar(&planTask, "task", planner.TaskPrediction, "Task for the default plan (prediction|strategy)")
	planCmd.Flags().Float64Var(&planBudget, "budget", 0, "Search budget for the default strategy plan")
	planCmd.Flags().IntVar(&planWindow, "window", 30, "Match window for the default plan")
	planCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan without executing it")
}

var planCmd = &cobra.Command{
	Use:   "plan [PLAYER_A PLAYER_B]",
	Short: "Execute a scripted tool plan and print its trace and answer",
	Long: `Executes a JSON tool plan step by step. Without --file, the default plan for
--task is generated for the two players given as arguments.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		plan, err := loadPlan(args)
		if err != nil {
			return err
		}
		if dryRun {
			return printJSON(plan)
		}

		ctx, cancel := signalContext()
		defer cancel()

		coach, err := newCoach(ctx)
		if err != nil {
			return err
		}
		defer coach.Source().Close()

		execution, err := planner.NewExecutor(coach, appLogger).Execute(ctx, plan)
		if execution != nil {
			if perr := printJSON(execution); perr != nil {
				return perr
			}
		}
		return err
	},
}

func loadPlan(args []string) (*planner.Plan, error) {
	if planFile != "" {
		data, err := os.ReadFile(planFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read plan: %w", err)
		}
		return planner.ParsePlan(data)
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("either --file or two player names are required")
	}
	return planner.DefaultPlan(planTask, args[0], args[1], planWindow, planBudget)
}
