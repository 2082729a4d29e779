package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/engine"
	"github.com/stackform-io/stackform/internal/eval"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/internal/schema"
)

// ErrChangesPending is returned by plan when the plan is not empty, so
// main can translate it to the detailed exit code.
var ErrChangesPending = errors.New("changes pending")

var (
	planOutFile    string
	planTargets    []string
	planProperties map[string]string
)

var planCmd = &cobra.Command{
	Use:   "plan [path]",
	Short: "Generate an execution plan",
	Long: `Generates an execution plan showing what actions are needed to reach
the desired state defined in your configuration.

Exit codes: 0 when there are no changes, 2 when changes are pending,
1 on error.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutFile, "out", "o", "", "Write the plan to a file")
	planCmd.Flags().StringSliceVar(&planTargets, "target", nil, "Limit planning to the given resource addresses")
	planCmd.Flags().StringToStringVarP(&planProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	proj, err := resolveProject(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(proj.dir)
	store, err := openStateStore(proj)
	if err != nil {
		return err
	}

	schemas, err := schema.NewRegistry()
	if err != nil {
		return err
	}
	registry := provider.NewRegistry()
	eng := engine.NewEngine(registry, schemas)

	fmt.Print("Loading configuration... ")
	cfg, err := evaluator.LoadConfig(ctx, proj.entryPoint, planProperties)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println("OK")

	currentState, err := store.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if err := configureProviders(ctx, registry, cfg, currentState); err != nil {
		return err
	}

	fmt.Print("Calculating plan... ")
	plan, err := eng.CreatePlanWithTargets(ctx, cfg, currentState, planTargets)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	renderPlanSummary(plan)

	if plan.Empty() {
		fmt.Println("\nNo changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nStackform will perform the following actions:")
	renderPlanChanges(plan)

	if planOutFile != "" {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to serialize plan: %w", err)
		}
		if err := os.WriteFile(planOutFile, data, 0644); err != nil {
			return fmt.Errorf("failed to write plan file: %w", err)
		}
		fmt.Printf("\nPlan saved to %s\n", planOutFile)
	}

	return ErrChangesPending
}
