package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/engine"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/internal/schema"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [path]",
	Short: "Update state to match real infrastructure",
	Long: `Reads the live attributes of every managed resource from its provider
and updates the state file to reflect actual infrastructure. Detects
drift and resources deleted out of band.`,
	RunE: runRefresh,
}

func runRefresh(cmd *cobra.Command, args []string) error {
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

	fmt.Print("Reading state... ")
	currentState, err := store.Read(ctx)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to read state: %w", err)
	}
	fmt.Println("OK")

	if len(currentState.Resources) == 0 {
		fmt.Println("No resources to refresh.")
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

	fmt.Printf("Refreshing %d resource(s)...\n", len(currentState.Resources))

	result, err := eng.Refresh(ctx, currentState)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	for _, addr := range result.Drifted {
		fmt.Printf("  %s%s: drifted, state updated%s\n", colorYellow, addr, colorReset)
	}
	for _, addr := range result.Removed {
		fmt.Printf("  %s%s: no longer exists, removed from state%s\n", colorRed, addr, colorReset)
	}

	if len(result.Drifted) > 0 || len(result.Removed) > 0 {
		if err := store.Write(ctx, currentState); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
	}

	fmt.Printf("\nRefresh complete. %d drifted, %d removed.\n", len(result.Drifted), len(result.Removed))
	return nil
}
