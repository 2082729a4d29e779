package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/engine"
	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/internal/schema"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy [path]",
	Short: "Destroy all managed infrastructure",
	Long: `Deletes every resource tracked in state, in reverse dependency order:
resources are removed only after everything that depends on them is gone.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	proj, err := resolveProject(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := openStateStore(proj)
	if err != nil {
		return err
	}

	if err := store.Lock(); err != nil {
		return err
	}
	defer store.Unlock()

	currentState, err := store.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if len(currentState.Resources) == 0 {
		fmt.Println("No resources to destroy.")
		return nil
	}

	schemas, err := schema.NewRegistry()
	if err != nil {
		return err
	}
	registry := provider.NewRegistry()
	if err := configureProviders(ctx, registry, nil, currentState); err != nil {
		return err
	}
	eng := engine.NewEngine(registry, schemas)

	// Destroying is planning against an empty configuration.
	plan, err := eng.CreatePlan(ctx, &ir.Config{}, currentState)
	if err != nil {
		return fmt.Errorf("failed to plan destroy: %w", err)
	}
	if plan.Empty() {
		fmt.Println("No resources to destroy.")
		return nil
	}

	fmt.Printf("The following %d resource(s) will be destroyed:\n", len(plan.Changes))
	renderPlanChanges(plan)

	if !destroyAutoApprove {
		if !confirm("\nDo you really want to destroy all resources?") {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	eng.Checkpoint = store.Checkpoint

	newState, applyErr := eng.ApplyPlan(ctx, plan, currentState)
	if err := store.Write(ctx, newState); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if applyErr != nil {
		return fmt.Errorf("destroy failed: %w", applyErr)
	}

	fmt.Printf("\nDestroy complete! %d resource(s) deleted.\n", len(plan.Changes))
	return nil
}
