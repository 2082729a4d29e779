package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
)

var importCmd = &cobra.Command{
	Use:   "import <address> <cloud-id>",
	Short: "Import existing infrastructure into state",
	Long: `Adopts an existing resource into the state file so it is managed going
forward. Configuration is not generated; write the matching PKL block
yourself.

Example:
  stackform import aws:S3.Bucket.my-bucket my-bucket-name`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	addr, cloudID := args[0], args[1]

	resourceType, resourceName, ok := splitAddress(addr)
	if !ok {
		return fmt.Errorf("invalid resource address %q, expected <type>.<name>", addr)
	}

	// Provider-qualified types carry the provider name before the colon;
	// bare types belong to the null provider.
	providerName := "null"
	if i := strings.Index(resourceType, ":"); i > 0 {
		providerName = resourceType[:i]
	}

	proj, err := resolveProject(nil)
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
	if currentState.Lookup(addr) != nil {
		return fmt.Errorf("resource %s already exists in state", addr)
	}

	registry := provider.NewRegistry()
	if err := registry.Load(providerName); err != nil {
		return fmt.Errorf("failed to load provider %s: %w", providerName, err)
	}
	prov, err := registry.Get(providerName)
	if err != nil {
		return err
	}
	if _, err := prov.Configure(ctx, &provider.ConfigureRequest{Settings: map[string]string{}}); err != nil {
		return fmt.Errorf("failed to configure provider %s: %w", providerName, err)
	}

	fmt.Printf("Importing %s (id: %s)...\n", addr, cloudID)
	resp, err := prov.Read(ctx, &provider.ReadRequest{
		Type: resourceType,
		ID:   cloudID,
	})
	if err != nil {
		return fmt.Errorf("failed to read resource from provider: %w", err)
	}
	if !resp.Exists {
		return fmt.Errorf("resource %s with id %s does not exist", resourceType, cloudID)
	}

	outputs := map[string]any{"id": cloudID}
	if len(resp.NewStateJSON) > 0 {
		if err := json.Unmarshal(resp.NewStateJSON, &outputs); err != nil {
			return fmt.Errorf("failed to parse provider response: %w", err)
		}
		if _, ok := outputs["id"]; !ok {
			outputs["id"] = cloudID
		}
	}

	currentState.Resources = append(currentState.Resources, &ir.ResourceState{
		Type:     resourceType,
		Name:     resourceName,
		Provider: providerName,
		Inputs:   map[string]any{},
		Outputs:  outputs,
	})

	if err := store.Write(ctx, currentState); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("Successfully imported %s\n", addr)
	fmt.Println("Note: write the matching PKL configuration so the next plan does not propose deleting it.")
	return nil
}
