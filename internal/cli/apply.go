package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/engine"
	"github.com/stackform-io/stackform/internal/eval"
	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/internal/schema"
)

var (
	applyAutoApprove     bool
	applyContinueOnError bool
	applyParallelism     int
	applyPlanFile        string
	applyTargets         []string
	applyProperties      map[string]string
)

var applyCmd = &cobra.Command{
	Use:   "apply [path]",
	Short: "Apply a configuration",
	Long: `Creates, updates, or deletes infrastructure to match the configuration.

A previously saved plan can be applied with --plan; otherwise a fresh
plan is calculated and confirmed before execution.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of the plan")
	applyCmd.Flags().BoolVar(&applyContinueOnError, "continue-on-error", false, "Keep applying independent resources after a failure")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", 0, "Maximum concurrent operations (0 uses the default)")
	applyCmd.Flags().StringVar(&applyPlanFile, "plan", "", "Apply a previously saved plan file")
	applyCmd.Flags().StringSliceVar(&applyTargets, "target", nil, "Limit the apply to the given resource addresses")
	applyCmd.Flags().StringToStringVarP(&applyProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runApply(cmd *cobra.Command, args []string) error {
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
	eng.ContinueOnError = applyContinueOnError
	if applyParallelism > 0 {
		eng.Parallelism = applyParallelism
	}

	if err := store.Lock(); err != nil {
		return err
	}
	defer store.Unlock()

	fmt.Print("Loading configuration... ")
	cfg, err := evaluator.LoadConfig(ctx, proj.entryPoint, applyProperties)
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

	var plan *ir.Plan
	if applyPlanFile != "" {
		data, err := os.ReadFile(applyPlanFile)
		if err != nil {
			return fmt.Errorf("failed to read plan file: %w", err)
		}
		plan = &ir.Plan{}
		if err := json.Unmarshal(data, plan); err != nil {
			return fmt.Errorf("failed to parse plan file: %w", err)
		}
		if plan.Metadata != nil && plan.Metadata.PriorSerial != currentState.Serial {
			return fmt.Errorf("saved plan is stale: planned against state serial %d but current serial is %d",
				plan.Metadata.PriorSerial, currentState.Serial)
		}
	} else {
		fmt.Print("Calculating plan... ")
		plan, err = eng.CreatePlanWithTargets(ctx, cfg, currentState, applyTargets)
		if err != nil {
			fmt.Println("FAILED")
			return fmt.Errorf("plan generation failed: %w", err)
		}
		fmt.Println("OK")
	}

	if plan.Empty() {
		fmt.Println("No changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nStackform will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		if !confirm("\nDo you want to perform these actions?") {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	// Checkpoint after every committed operation so an interrupted apply
	// loses nothing that already succeeded.
	eng.Checkpoint = store.Checkpoint

	fmt.Printf("\nApplying %d change(s)...\n", len(plan.Changes))

	newState, applyErr := eng.ApplyPlanWithCallback(ctx, plan, currentState, func(event engine.ApplyEvent) {
		switch event.Status {
		case "completed":
			fmt.Printf("  %s: %s complete (%s)\n", event.Address, event.Action, event.Duration.Round(time.Millisecond))
		case "failed":
			fmt.Printf("  %s%s: %s failed: %v%s\n", colorRed, event.Address, event.Action, event.Error, colorReset)
		case "skipped":
			fmt.Printf("  %s%s: skipped (%v)%s\n", colorYellow, event.Address, event.Error, colorReset)
		}
	})

	if err := store.Write(ctx, newState); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if applyErr != nil {
		return fmt.Errorf("apply failed: %w", applyErr)
	}

	fmt.Printf("\nApply complete! Resources: %d added, %d changed, %d destroyed.\n",
		plan.Summary.Create, plan.Summary.Update+plan.Summary.Replace, plan.Summary.Delete)

	if len(newState.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		for k, v := range newState.Outputs {
			fmt.Printf("  %s = %v\n", k, v)
		}
	}
	return nil
}
